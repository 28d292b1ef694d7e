package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway/gatewaytest"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/intake"
	"github.com/imrishuroy/marketplace-orderflow/internal/middleware"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/store/storetest"
	"github.com/imrishuroy/marketplace-orderflow/internal/tabs"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	gw     *gatewaytest.Fake
	orders *orders.Store
	events *notify.Recorder
}

func newFixture(t *testing.T, limiter *middleware.RateLimiter) *fixture {
	t.Helper()
	ctx := context.Background()
	env := storetest.New()

	cat := catalog.NewStore(env.Runner, env.Cols.Businesses, env.Cols.Menus)
	require.NoError(t, cat.Seed(ctx, catalog.Business{
		BusinessID: "biz-1",
		Name:       "Udupi Corner",
		Location:   catalog.Location{Lat: 12.9716, Lng: 77.5946},
		Tax:        catalog.TaxSettings{GSTEnabled: true, RatePercent: 5},
		Delivery: catalog.DeliverySettings{
			Enabled:     true,
			MaxRadiusKm: 8,
			Tiers:       []catalog.DeliveryTier{{UpToKm: 3, Fee: 3000}, {UpToKm: 8, Fee: 6000}},
		},
		PickupEnabled: true,
		DineInEnabled: true,
		CODEnabled:    true,
	}, catalog.Menu{Categories: []catalog.Category{
		{ID: "mains", Name: "Mains", Items: []catalog.MenuItem{
			{ID: "thali", Name: "Veg Thali", Available: true, Portions: []catalog.Portion{{Name: "Regular", Price: 50050}}},
		}},
	}}))

	orderStore := orders.NewStore(env.Runner, env.Cols.Orders)
	gw := gatewaytest.New(gateway.Razorpay)
	reg := gateway.NewRegistry(gw)
	splits := split.NewCoordinator(env.Runner, env.Cols.SplitSessions, orderStore, reg, nil)
	tabAlloc := tabs.NewAllocator(env.Runner, env.Cols.Tabs, env.Cols.Businesses, orderStore)
	events := &notify.Recorder{}

	pipeline := intake.New(intake.Deps{
		Runner:     env.Runner,
		Guard:      idempotency.NewGuard(env.Runner, env.Cols.Idempotency, 30*time.Second, 0),
		Businesses: cat,
		Pricer:     pricing.NewValidator(cat, pricing.DefaultTolerance),
		Orders:     orderStore,
		Tabs:       tabAlloc,
		Splits:     splits,
		Gateways:   reg,
	}, intake.WithNotifier(events), intake.WithDefaultGateway(gateway.Razorpay))

	rec := webhooks.NewReconciler(env.Runner, webhooks.Collections{
		ProcessedPayments: env.Cols.ProcessedPayments,
		UnlinkedEvents:    env.Cols.UnlinkedEvents,
		FailedWebhooks:    env.Cols.FailedWebhooks,
		StatusIndex:       store.FailedWebhookStatusIndex,
	}, orderStore, splits, reg, webhooks.WithNotifier(events))

	router := NewRouter(Deps{
		Pipeline:     pipeline,
		Orders:       orderStore,
		Reconciler:   rec,
		Splits:       splits,
		Tabs:         tabAlloc,
		Gateways:     reg,
		Notifier:     events,
		OrderLimiter: limiter,
	})
	return &fixture{router: router, gw: gw, orders: orderStore, events: events}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func orderBody(key, orderType, method string) map[string]any {
	body := map[string]any{
		"idempotencyKey": key,
		"businessId":     "biz-1",
		"customer":       map[string]any{"name": "Asha", "phone": "+919876543210"},
		"items":          []map[string]any{{"itemId": "thali", "categoryId": "mains", "quantity": 1}},
		"subtotal":       500.50,
		"orderType":      orderType,
		"paymentMethod":  method,
	}
	switch orderType {
	case "delivery":
		body["delivery"] = map[string]any{"address": "12 MG Road", "lat": 12.98, "lng": 77.60}
	case "dine_in":
		body["dineInTabId"] = "tab-7"
		body["tableId"] = "T7"
	}
	return body
}

func TestCreateOrder_OnlineThenReplay(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/orders", orderBody("key-1", "delivery", "online"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[idempotency.Response](t, w)
	assert.NotEmpty(t, first.OrderID)
	assert.NotEmpty(t, first.TrackingToken)
	assert.NotEmpty(t, first.GatewayOrderID)
	assert.Equal(t, "/orders/"+first.OrderID, w.Header().Get("Location"))

	w = f.do(t, http.MethodPost, "/orders", orderBody("key-1", "delivery", "online"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(ReplayedHeader))
	assert.Equal(t, first, decode[idempotency.Response](t, w))
	assert.Equal(t, 1, f.gw.OrderCount())
}

func TestCreateOrder_KeyFromHeader(t *testing.T) {
	f := newFixture(t, nil)
	body := orderBody("", "pickup", "pay_at_counter")
	delete(body, "idempotencyKey")

	w := f.do(t, http.MethodPost, "/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeValidation, decode[apperr.Body](t, w).Error)

	w = f.do(t, http.MethodPost, "/orders", body, http.Header{IdempotencyKeyHeader: {"hdr-key"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, string(orders.StatusPayAtCounter), decode[idempotency.Response](t, w).Status)
}

func TestCreateOrder_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	missingDelivery := orderBody("k-a", "delivery", "online")
	delete(missingDelivery, "delivery")
	w := f.do(t, http.MethodPost, "/orders", missingDelivery, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode[validation.FieldsBody](t, w).Fields
	assert.Equal(t, "required_for_delivery", fields["CreateOrderRequest.delivery"])

	mismatch := orderBody("k-b", "pickup", "online")
	mismatch["subtotal"] = 450.00
	w = f.do(t, http.MethodPost, "/orders", mismatch, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodePriceMismatch, decode[apperr.Body](t, w).Error)

	codPickup := orderBody("k-c", "pickup", "cod")
	w = f.do(t, http.MethodPost, "/orders", codPickup, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeModeNotSupported, decode[apperr.Body](t, w).Error)

	w = f.do(t, http.MethodPost, "/orders", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_RateLimited(t *testing.T) {
	f := newFixture(t, middleware.NewRateLimiter(0.001, 1, time.Minute))

	w := f.do(t, http.MethodPost, "/orders", orderBody("rl-1", "pickup", "pay_at_counter"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/orders", orderBody("rl-2", "pickup", "pay_at_counter"), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not limited
	w = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_CaptureThenRefund(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/orders", orderBody("pay-1", "pickup", "online"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[idempotency.Response](t, w)

	w = f.do(t, http.MethodPost, "/orders/"+created.OrderID+"/refund", map[string]any{"reason": "early"}, nil)
	require.Equal(t, http.StatusConflict, w.Code, "nothing paid yet")

	header, body := f.gw.Webhook(f.gw.Captured(created.GatewayOrderID, "pay_1"))
	w = f.do(t, http.MethodPost, "/webhooks/razorpay", body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// replayed delivery is acknowledged without a second ledger entry
	w = f.do(t, http.MethodPost, "/webhooks/razorpay", body, header)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/orders/"+created.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	o := decode[orders.Order](t, w)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Len(t, o.PaymentDetails, 1)

	w = f.do(t, http.MethodPost, "/orders/"+created.OrderID+"/refund",
		map[string]any{"amount": 1000.00, "reason": "too much"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/orders/"+created.OrderID+"/refund", map[string]any{"reason": "customer cancelled"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	refunded := decode[orders.Order](t, w)
	assert.Equal(t, orders.RefundPending, refunded.RefundStatus)
	assert.NotEmpty(t, refunded.RefundID)
	assert.Equal(t, o.Total, refunded.RefundAmount)
	assert.Contains(t, f.events.Types(), notify.EventOrderRefundUpdated)
}

func (f *fixture) paidOrder(t *testing.T, key string) idempotency.Response {
	t.Helper()
	w := f.do(t, http.MethodPost, "/orders", orderBody(key, "pickup", "online"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[idempotency.Response](t, w)
	header, body := f.gw.Webhook(f.gw.Captured(created.GatewayOrderID, "pay_"+key))
	w = f.do(t, http.MethodPost, "/webhooks/razorpay", body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return created
}

func TestRefund_ConcurrentRequestsRefundOnce(t *testing.T) {
	f := newFixture(t, nil)
	created := f.paidOrder(t, "pay-1")
	f.gw.RefundDelay = 20 * time.Millisecond

	body := []byte(`{"reason":"customer cancelled"}`)
	codes := make([]int, 5)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.do(t, http.MethodPost, "/orders/"+created.OrderID+"/refund", body, nil).Code
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, code := range codes {
		if code == http.StatusAccepted {
			accepted++
			continue
		}
		assert.Equal(t, http.StatusConflict, code)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, f.gw.RefundCount())
	require.Len(t, f.gw.RefundCalls(), 1)
	assert.Equal(t, created.OrderID+"-rf1", f.gw.RefundCalls()[0].Key)

	o, err := f.orders.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundPending, o.RefundStatus)
}

func TestRefund_GatewayErrorReleasesClaim(t *testing.T) {
	f := newFixture(t, nil)
	created := f.paidOrder(t, "pay-1")
	path := "/orders/" + created.OrderID + "/refund"
	body := map[string]any{"reason": "customer cancelled"}

	f.gw.RefundErr = errors.New("gateway timeout")
	w := f.do(t, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	o, err := f.orders.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundFailed, o.RefundStatus)

	f.gw.RefundErr = nil
	w = f.do(t, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// the retry reuses the key so the gateway can fold it into the first attempt
	calls := f.gw.RefundCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Key, calls[1].Key)
	assert.Equal(t, 1, f.gw.RefundCount())

	w = f.do(t, http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWebhook_BadSignatureAndUnknownGateway(t *testing.T) {
	f := newFixture(t, nil)
	_, body := f.gw.Webhook(gateway.Event{Kind: gateway.PaymentCaptured, PaymentID: "pay_x"})

	w := f.do(t, http.MethodPost, "/webhooks/razorpay", body, http.Header{gatewaytest.SignatureHeader: {"forged"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/webhooks/paypal", body, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/webhooks/razorpay", bytes.Repeat([]byte("a"), maxWebhookBody+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestAdminWebhooks_ListAndRetry(t *testing.T) {
	f := newFixture(t, nil)

	// verifies but cannot be parsed, so it is stored for retry
	body := []byte(`{"not":"a list"}`)
	header := http.Header{gatewaytest.SignatureHeader: {gateway.SignHMACSHA256(body, f.gw.Secret)}}
	w := f.do(t, http.MethodPost, "/webhooks/razorpay", body, header)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = f.do(t, http.MethodGet, "/admin/webhooks?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Webhooks []webhooks.FailedWebhook `json:"webhooks"`
		Count    int                      `json:"count"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	id := list.Webhooks[0].WebhookID

	w = f.do(t, http.MethodPost, "/admin/webhooks/"+id+"/retry", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	res := decode[webhooks.RetryResult](t, w)
	assert.Equal(t, webhooks.RetryFailed, res.Outcome)
	assert.Equal(t, 1, res.Webhook.RetryCount)

	w = f.do(t, http.MethodGet, "/admin/webhooks?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodGet, "/admin/webhooks?limit=-2", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/admin/webhooks/missing/retry", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/orders", orderBody("cod-1", "delivery", "cod"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[idempotency.Response](t, w).OrderID

	w = f.do(t, http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "confirmed", "actor": "kitchen"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, orders.StatusConfirmed, decode[orders.Order](t, w).Status)
	assert.Contains(t, f.events.Types(), notify.EventOrderStatusChanged)

	w = f.do(t, http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "delivered", "actor": "kitchen"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, decode[apperr.Body](t, w).Error)

	w = f.do(t, http.MethodPatch, "/orders/"+id+"/status", map[string]any{"status": "teleported", "actor": "kitchen"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSplitEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/orders", orderBody("split-base", "pickup", "online"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[idempotency.Response](t, w)

	w = f.do(t, http.MethodPost, "/payments/split", map[string]any{"orderId": created.OrderID, "splitCount": 3}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decode[split.Session](t, w)
	require.Len(t, s.Shares, 3)
	assert.Equal(t, created.Amount, s.TotalAmount)

	var sum money.Paise
	for _, sh := range s.Shares {
		sum += sh.Amount
	}
	assert.Equal(t, s.TotalAmount, sum)

	w = f.do(t, http.MethodPost, "/payments/split", map[string]any{"orderId": created.OrderID, "splitCount": 2}, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "an open session blocks another")

	w = f.do(t, http.MethodPost, "/payments/split/"+s.SessionID+"/pay-remaining", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, s.TotalAmount, decode[split.RemainingOrder](t, w).Amount)

	w = f.do(t, http.MethodGet, "/payments/split/"+s.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[split.Session](t, w).RemainingOrders, 1)

	w = f.do(t, http.MethodGet, "/payments/split/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodPost, "/payments/split", map[string]any{"orderId": created.OrderID, "splitCount": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTabEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/orders", orderBody("tab-1", "dine_in", "pay_at_counter"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode[idempotency.Response](t, w).DineInToken
	require.NotEmpty(t, token)

	w = f.do(t, http.MethodGet, "/tabs/tab-7", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tab := decode[tabs.Tab](t, w)
	assert.Equal(t, token, tab.Token)
	assert.Equal(t, tabs.StatusOpen, tab.Status)

	w = f.do(t, http.MethodPost, "/tabs/tab-7/close", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tabs.StatusClosed, decode[tabs.Tab](t, w).Status)

	w = f.do(t, http.MethodPost, "/orders", orderBody("tab-2", "dine_in", "pay_at_counter"), nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/tabs/none", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
