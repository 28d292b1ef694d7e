// Package app wires the order and payment components from configuration. The
// HTTP API, the retry worker and the reaper all start from New.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway/phonepe"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway/razorpay"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway/stripe"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/intake"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/tabs"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Runner     *store.Runner
	Cols       store.Collections
	Catalog    *catalog.Store
	Orders     *orders.Store
	Guard      *idempotency.Guard
	Tabs       *tabs.Allocator
	Gateways   *gateway.Registry
	Splits     *split.Coordinator
	Reconciler *webhooks.Reconciler
	Pipeline   *intake.Pipeline
	Notifier   notify.Notifier
}

// New builds every component. With STORE_BACKEND=memory nothing talks to AWS.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: log, Cols: store.NewCollections(cfg.Tables()), Notifier: notify.Nop{}}

	var (
		queue   webhooks.RetryQueue
		metrics *aws.MetricsClient
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.Runner = store.NewRunner(store.NewMemoryDB(a.Cols, cfg.FailedWebhooksStatusIndex), log.Named("store"))
	default:
		clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		if err := cfg.ApplySecrets(ctx, aws.NewSecretsClient(clients.SecretsManager)); err != nil {
			return nil, err
		}
		a.Runner = store.NewRunner(clients.DynamoDB, log.Named("store"))
		if cfg.RetryQueueURL != "" {
			queue = aws.NewPublisher(clients.SQS, cfg.RetryQueueURL)
		}
		if cfg.EventsTopicARN != "" {
			a.Notifier = notify.NewSNS(aws.NewSNSPublisher(clients.SNS), cfg.EventsTopicARN)
		}
		metrics = aws.NewMetricsClient(clients.CloudWatch, cfg.MetricsNamespace, cfg.MetricsEnabled)
	}

	a.Catalog = catalog.NewStore(a.Runner, a.Cols.Businesses, a.Cols.Menus)
	a.Orders = orders.NewStore(a.Runner, a.Cols.Orders)
	a.Guard = idempotency.NewGuard(a.Runner, a.Cols.Idempotency, cfg.IdempotencyStaleAfter, cfg.IdempotencyTTL)
	a.Tabs = tabs.NewAllocator(a.Runner, a.Cols.Tabs, a.Cols.Businesses, a.Orders)
	a.Gateways = Gateways(cfg)
	a.Splits = split.NewCoordinator(a.Runner, a.Cols.SplitSessions, a.Orders, a.Gateways, log.Named("split"))

	recOpts := []webhooks.Option{
		webhooks.WithNotifier(a.Notifier),
		webhooks.WithLogger(log.Named("webhooks")),
		webhooks.WithMaxRetries(cfg.WebhookMaxRetries),
	}
	pipeOpts := []intake.Option{
		intake.WithNotifier(a.Notifier),
		intake.WithLogger(log.Named("intake")),
		intake.WithDefaultGateway(gateway.Name(cfg.DefaultGateway)),
	}
	if queue != nil {
		recOpts = append(recOpts, webhooks.WithRetryQueue(queue))
	}
	if metrics != nil {
		recOpts = append(recOpts, webhooks.WithMetrics(metrics))
		pipeOpts = append(pipeOpts, intake.WithMetrics(metrics))
	}
	a.Reconciler = webhooks.NewReconciler(a.Runner, webhooks.Collections{
		ProcessedPayments: a.Cols.ProcessedPayments,
		UnlinkedEvents:    a.Cols.UnlinkedEvents,
		FailedWebhooks:    a.Cols.FailedWebhooks,
		StatusIndex:       cfg.FailedWebhooksStatusIndex,
	}, a.Orders, a.Splits, a.Gateways, recOpts...)

	a.Pipeline = intake.New(intake.Deps{
		Runner:     a.Runner,
		Guard:      a.Guard,
		Businesses: a.Catalog,
		Pricer:     pricing.NewValidator(a.Catalog, cfg.Tolerance()),
		Orders:     a.Orders,
		Tabs:       a.Tabs,
		Splits:     a.Splits,
		Gateways:   a.Gateways,
	}, pipeOpts...)

	if cfg.StoreBackend == config.BackendMemory && cfg.SeedDemo {
		if err := a.Catalog.Seed(ctx, DemoBusiness(), DemoMenu()); err != nil {
			return nil, fmt.Errorf("seed demo business: %w", err)
		}
	}

	log.Info("app initialised",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Any("gateways", a.Gateways.Names()),
		zap.Bool("retry_queue", queue != nil))
	return a, nil
}

// Gateways registers every gateway whose credentials are configured.
func Gateways(cfg *config.Config) *gateway.Registry {
	var gws []gateway.Gateway
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		gws = append(gws, razorpay.New(razorpay.Config{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
		}))
	}
	if cfg.PhonePeClientID != "" && cfg.PhonePeClientSecret != "" {
		gws = append(gws, phonepe.New(phonepe.Config{
			ClientID:        cfg.PhonePeClientID,
			ClientSecret:    cfg.PhonePeClientSecret,
			ClientVersion:   cfg.PhonePeClientVersion,
			WebhookUsername: cfg.PhonePeWebhookUsername,
			WebhookPassword: cfg.PhonePeWebhookPassword,
			RedirectURL:     cfg.PhonePeRedirectURL,
			BaseURL:         cfg.PhonePeBaseURL,
		}))
	}
	if cfg.StripeSecretKey != "" {
		gws = append(gws, stripe.New(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}))
	}
	return gateway.NewRegistry(gws...)
}
