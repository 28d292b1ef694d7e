// Package config loads service configuration from the environment.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	RunLocal     bool   `env:"RUN_LOCAL" envDefault:"false"`
	Port         string `env:"PORT" envDefault:"8080"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb"`
	SeedDemo     bool   `env:"SEED_DEMO" envDefault:"false"`

	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpoint string `env:"AWS_ENDPOINT_OVERRIDE"`

	OrdersTable               string `env:"ORDERS_TABLE" envDefault:"orders"`
	IdempotencyTable          string `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency_keys"`
	ProcessedPaymentsTable    string `env:"PROCESSED_PAYMENTS_TABLE" envDefault:"processed_payments"`
	SplitSessionsTable        string `env:"SPLIT_SESSIONS_TABLE" envDefault:"split_sessions"`
	FailedWebhooksTable       string `env:"FAILED_WEBHOOKS_TABLE" envDefault:"failed_webhooks"`
	UnlinkedEventsTable       string `env:"UNLINKED_EVENTS_TABLE" envDefault:"unlinked_payment_events"`
	TabsTable                 string `env:"TABS_TABLE" envDefault:"dine_in_tabs"`
	BusinessesTable           string `env:"BUSINESSES_TABLE" envDefault:"businesses"`
	MenusTable                string `env:"MENUS_TABLE" envDefault:"menus"`
	FailedWebhooksStatusIndex string `env:"FAILED_WEBHOOKS_STATUS_INDEX" envDefault:"status-index"`

	RetryQueueURL    string `env:"RETRY_QUEUE_URL"`
	EventsTopicARN   string `env:"EVENTS_TOPIC_ARN"`
	MetricsEnabled   bool   `env:"METRICS_ENABLED" envDefault:"false"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"OrderFlow"`
	GatewaySecretsID string `env:"GATEWAY_SECRETS_ID"`
	DefaultGateway   string `env:"DEFAULT_GATEWAY"`

	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`

	PhonePeClientID        string `env:"PHONEPE_CLIENT_ID"`
	PhonePeClientSecret    string `env:"PHONEPE_CLIENT_SECRET"`
	PhonePeClientVersion   string `env:"PHONEPE_CLIENT_VERSION" envDefault:"1"`
	PhonePeWebhookUsername string `env:"PHONEPE_WEBHOOK_USERNAME"`
	PhonePeWebhookPassword string `env:"PHONEPE_WEBHOOK_PASSWORD"`
	PhonePeRedirectURL     string `env:"PHONEPE_REDIRECT_URL"`
	PhonePeBaseURL         string `env:"PHONEPE_BASE_URL"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	IdempotencyStaleAfter time.Duration `env:"IDEMPOTENCY_STALE_AFTER" envDefault:"30s"`
	IdempotencyTTL        time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"48h"`
	PriceTolerance        float64       `env:"PRICE_TOLERANCE" envDefault:"1"`
	WebhookMaxRetries     int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"5"`
	ReaperSchedule        string        `env:"REAPER_SCHEDULE" envDefault:"@every 1m"`
	ReaperBatch           int           `env:"REAPER_BATCH" envDefault:"50"`
	OrderRateLimit        float64       `env:"ORDER_RATE_LIMIT" envDefault:"5"`
	OrderRateBurst        int           `env:"ORDER_RATE_BURST" envDefault:"10"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StoreBackend != BackendDynamoDB && c.StoreBackend != BackendMemory {
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendMemory, c.StoreBackend)
	}
	if c.PriceTolerance < 0 {
		return fmt.Errorf("PRICE_TOLERANCE must not be negative")
	}
	if c.WebhookMaxRetries <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be positive")
	}
	return nil
}

func (c *Config) Development() bool { return c.AppEnv == "development" }

// Tables returns the configured table names.
func (c *Config) Tables() store.TableNames {
	return store.TableNames{
		Orders:            c.OrdersTable,
		Idempotency:       c.IdempotencyTable,
		ProcessedPayments: c.ProcessedPaymentsTable,
		SplitSessions:     c.SplitSessionsTable,
		FailedWebhooks:    c.FailedWebhooksTable,
		UnlinkedEvents:    c.UnlinkedEventsTable,
		Tabs:              c.TabsTable,
		Businesses:        c.BusinessesTable,
		Menus:             c.MenusTable,
	}
}

// Tolerance is PRICE_TOLERANCE in paise.
func (c *Config) Tolerance() money.Paise {
	return money.FromRupees(decimal.NewFromFloat(c.PriceTolerance))
}

// SecretGetter is satisfied by aws.SecretsClient.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type gatewaySecrets struct {
	RazorpayKeyID          string `json:"razorpay_key_id"`
	RazorpayKeySecret      string `json:"razorpay_key_secret"`
	RazorpayWebhookSecret  string `json:"razorpay_webhook_secret"`
	PhonePeClientID        string `json:"phonepe_client_id"`
	PhonePeClientSecret    string `json:"phonepe_client_secret"`
	PhonePeWebhookUsername string `json:"phonepe_webhook_username"`
	PhonePeWebhookPassword string `json:"phonepe_webhook_password"`
	StripeSecretKey        string `json:"stripe_secret_key"`
	StripeWebhookSecret    string `json:"stripe_webhook_secret"`
}

// ApplySecrets overlays gateway credentials from the JSON secret named by
// GATEWAY_SECRETS_ID. Values present in the secret win over the environment.
func (c *Config) ApplySecrets(ctx context.Context, secrets SecretGetter) error {
	if c.GatewaySecretsID == "" {
		return nil
	}
	raw, err := secrets.GetSecret(ctx, c.GatewaySecretsID)
	if err != nil {
		return fmt.Errorf("load gateway secrets: %w", err)
	}
	var s gatewaySecrets
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("decode gateway secrets: %w", err)
	}

	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&c.RazorpayKeyID, s.RazorpayKeyID)
	overlay(&c.RazorpayKeySecret, s.RazorpayKeySecret)
	overlay(&c.RazorpayWebhookSecret, s.RazorpayWebhookSecret)
	overlay(&c.PhonePeClientID, s.PhonePeClientID)
	overlay(&c.PhonePeClientSecret, s.PhonePeClientSecret)
	overlay(&c.PhonePeWebhookUsername, s.PhonePeWebhookUsername)
	overlay(&c.PhonePeWebhookPassword, s.PhonePeWebhookPassword)
	overlay(&c.StripeSecretKey, s.StripeSecretKey)
	overlay(&c.StripeWebhookSecret, s.StripeWebhookSecret)
	return nil
}
