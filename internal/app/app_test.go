package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StoreBackend:              config.BackendMemory,
		SeedDemo:                  true,
		OrdersTable:               "orders",
		IdempotencyTable:          "idempotency_keys",
		ProcessedPaymentsTable:    "processed_payments",
		SplitSessionsTable:        "split_sessions",
		FailedWebhooksTable:       "failed_webhooks",
		UnlinkedEventsTable:       "unlinked_payment_events",
		TabsTable:                 "dine_in_tabs",
		BusinessesTable:           "businesses",
		MenusTable:                "menus",
		FailedWebhooksStatusIndex: "status-index",
		WebhookMaxRetries:         5,
		PriceTolerance:            1,
		RazorpayKeyID:             "rzp_test_1",
		RazorpayKeySecret:         "secret",
		RazorpayWebhookSecret:     "whsec",
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), nil)
	require.NoError(t, err)

	biz, err := a.Catalog.GetBusiness(ctx, DemoBusiness().BusinessID)
	require.NoError(t, err)
	assert.Equal(t, "Demo Bistro", biz.Name)
	assert.Equal(t, []gateway.Name{gateway.Razorpay}, a.Gateways.Names())
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Reconciler)
}

func TestGateways_OnlyConfigured(t *testing.T) {
	cfg := &config.Config{StripeSecretKey: "sk_test_1", PhonePeClientID: "only-id"}
	assert.Equal(t, []gateway.Name{gateway.Stripe}, Gateways(cfg).Names())

	cfg.PhonePeClientSecret = "secret"
	cfg.RazorpayKeyID, cfg.RazorpayKeySecret = "rzp", "secret"
	assert.Equal(t, []gateway.Name{gateway.PhonePe, gateway.Razorpay, gateway.Stripe}, Gateways(cfg).Names())
}
