package split

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway/gatewaytest"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/store/storetest"
)

type fixture struct {
	env    *storetest.Env
	orders *orders.Store
	gw     *gatewaytest.Fake
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := storetest.New()
	orderStore := orders.NewStore(env.Runner, env.Cols.Orders)
	gw := gatewaytest.New(gateway.Razorpay)
	coord := NewCoordinator(env.Runner, env.Cols.SplitSessions, orderStore, gateway.NewRegistry(gw), nil)
	coord.newID = func() string { return "sess-1" }
	return &fixture{env: env, orders: orderStore, gw: gw, coord: coord}
}

func (f *fixture) seedOrder(t *testing.T, o *orders.Order) {
	t.Helper()
	require.NoError(t, f.env.Runner.Run(context.Background(), func(ctx context.Context, tx *store.Txn) error {
		return f.orders.TxCreate(tx, o)
	}))
}

func (f *fixture) capture(t *testing.T, ev gateway.Event) *CaptureResult {
	t.Helper()
	var res *CaptureResult
	require.NoError(t, f.env.Runner.Run(context.Background(), func(ctx context.Context, tx *store.Txn) error {
		var err error
		res, err = f.coord.ApplyCapture(ctx, tx, "sess-1", ev)
		return err
	}))
	return res
}

var thali = []pricing.Item{{ItemID: "thali", CategoryID: "mains", Name: "Thali", Quantity: 3, UnitPrice: 10000, LineTotal: 30000}}

func TestSplitThreeWaysWithPayRemaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, &orders.Order{
		OrderID:       "ord-1",
		Status:        orders.StatusAwaitingPayment,
		PaymentStatus: orders.PaymentAwaiting,
		PaymentMethod: orders.MethodSplit,
		Gateway:       string(gateway.Razorpay),
	})

	s, err := f.coord.CreateSession(ctx, CreateRequest{
		BaseOrderID:   "ord-1",
		SplitCount:    3,
		PendingItems:  thali,
		PendingTotals: pricing.Totals{Subtotal: 30000, Total: 30000},
	})
	require.NoError(t, err)
	require.Len(t, s.Shares, 3)
	for _, sh := range s.Shares {
		assert.Equal(t, money.Paise(10000), sh.Amount)
		assert.Equal(t, SharePending, sh.Status)
	}
	assert.Equal(t, 3, f.gw.OrderCount())

	base, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", base.SplitSessionID)

	// two payers settle their own shares
	for i, pay := range []string{"pay_a", "pay_b"} {
		res := f.capture(t, f.gw.Captured(s.Shares[i].GatewayOrderID, pay))
		assert.Equal(t, []int{i + 1}, res.Settled)
		assert.False(t, res.Completed)
	}
	got, err := f.coord.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	base, err = f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Empty(t, base.Items, "items wait for the whole table")
	assert.Equal(t, orders.StatusAwaitingPayment, base.Status)

	rem, err := f.coord.PayRemaining(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, money.Paise(10000), rem.Amount)

	remEvent := f.gw.Captured(rem.GatewayOrderID, "pay_rem")
	res := f.capture(t, remEvent)
	assert.Equal(t, []int{3}, res.Settled)
	assert.True(t, res.Completed)
	assert.True(t, res.Merged)

	base, err = f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, base.Items, 1)
	assert.Equal(t, money.Paise(30000), base.Total)
	assert.Equal(t, orders.PaymentPaid, base.PaymentStatus)
	assert.Equal(t, orders.StatusPending, base.Status)
	assert.Len(t, base.PaymentDetails, 3)

	// redelivery must not merge again or credit twice
	res = f.capture(t, remEvent)
	assert.Empty(t, res.Settled)
	assert.False(t, res.Completed)
	base, err = f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, base.Items, 1)
	assert.Equal(t, money.Paise(30000), base.Total)
	assert.Len(t, base.PaymentDetails, 3)

	_, err = f.coord.PayRemaining(ctx, "sess-1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestPayRemainingSettlesEveryUnpaidShare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, &orders.Order{
		OrderID: "ord-1", Status: orders.StatusPending, Gateway: string(gateway.Razorpay),
		Totals: pricing.Totals{Subtotal: 10000, Total: 10000},
	})

	s, err := f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "ord-1", SplitCount: 3})
	require.NoError(t, err)
	assert.Equal(t, []money.Paise{3334, 3333, 3333}, []money.Paise{s.Shares[0].Amount, s.Shares[1].Amount, s.Shares[2].Amount})

	rem, err := f.coord.PayRemaining(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, money.Paise(10000), rem.Amount)

	res := f.capture(t, f.gw.Captured(rem.GatewayOrderID, "pay_all"))
	assert.Equal(t, []int{1, 2, 3}, res.Settled)
	assert.True(t, res.Completed)
	assert.False(t, res.Merged)

	base, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, base.PaymentStatus)
	for _, e := range base.PaymentDetails {
		assert.Equal(t, orders.PaymentPayRemaining, e.Type)
	}
}

func TestPayRemainingCapturedAfterShareKeepsExcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, &orders.Order{
		OrderID: "ord-1", Status: orders.StatusAwaitingPayment, Gateway: string(gateway.Razorpay),
		Totals: pricing.Totals{Subtotal: 30000, Total: 30000},
	})

	s, err := f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "ord-1", SplitCount: 3})
	require.NoError(t, err)
	f.capture(t, f.gw.Captured(s.Shares[0].GatewayOrderID, "pay_a"))

	rem, err := f.coord.PayRemaining(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, money.Paise(20000), rem.Amount)

	// share 2 pays on its own before the pay-remaining checkout completes
	f.capture(t, f.gw.Captured(s.Shares[1].GatewayOrderID, "pay_b"))

	res := f.capture(t, f.gw.Captured(rem.GatewayOrderID, "pay_rem"))
	assert.Equal(t, []int{3}, res.Settled)
	assert.True(t, res.Completed)
	assert.Equal(t, money.Paise(10000), res.Overpaid)

	base, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, money.Paise(40000), base.PaidAmount())
	require.Len(t, base.PaymentDetails, 4)
	last := base.PaymentDetails[3]
	assert.Equal(t, orders.PaymentOverpayment, last.Type)
	assert.Equal(t, "pay_rem", last.PaymentID)
	assert.Equal(t, money.Paise(10000), last.Amount)

	// redelivery credits nothing more
	res = f.capture(t, f.gw.Captured(rem.GatewayOrderID, "pay_rem"))
	assert.Empty(t, res.Settled)
	assert.Zero(t, res.Overpaid)
	base, err = f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, money.Paise(40000), base.PaidAmount())
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, &orders.Order{OrderID: "done", Status: orders.StatusDelivered, Totals: pricing.Totals{Total: 10000}})
	f.seedOrder(t, &orders.Order{OrderID: "open", Status: orders.StatusPending, Totals: pricing.Totals{Total: 10000}})

	_, err := f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "missing", SplitCount: 2, Gateway: gateway.Razorpay})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "done", SplitCount: 2, Gateway: gateway.Razorpay})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "open", SplitCount: 1, Gateway: gateway.Razorpay})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "open", SplitCount: 2, Gateway: gateway.Stripe})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "open", SplitCount: 2, Gateway: gateway.Razorpay})
	require.NoError(t, err)
	_, err = f.coord.CreateSession(ctx, CreateRequest{BaseOrderID: "open", SplitCount: 2, Gateway: gateway.Razorpay})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "one open session per order")
}

func TestApplyCaptureUnknownSession(t *testing.T) {
	f := newFixture(t)
	err := f.env.Runner.Run(context.Background(), func(ctx context.Context, tx *store.Txn) error {
		_, err := f.coord.ApplyCapture(ctx, tx, "nope", gateway.Event{PaymentID: "pay_x"})
		return err
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
