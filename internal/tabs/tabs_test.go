package tabs

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/store/storetest"
)

type fixture struct {
	env     *storetest.Env
	alloc   *Allocator
	orders  *orders.Store
	catalog *catalog.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := storetest.New()
	orderStore := orders.NewStore(env.Runner, env.Cols.Orders)
	cat := catalog.NewStore(env.Runner, env.Cols.Businesses, env.Cols.Menus)
	require.NoError(t, cat.Seed(context.Background(), catalog.Business{BusinessID: "biz-1", DineInEnabled: true, LastOrderToken: 41}, catalog.Menu{}))

	a := NewAllocator(env.Runner, env.Cols.Tabs, env.Cols.Businesses, orderStore)
	a.suffix = func() string { return "QX" }
	return &fixture{env: env, alloc: a, orders: orderStore, catalog: cat}
}

// place runs the same transaction shape the intake pipeline uses.
func (f *fixture) place(ctx context.Context, runner *store.Runner, tabID, orderID string) (*Allocation, error) {
	var out *Allocation
	err := runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		alloc, err := f.alloc.AllocateOrReuse(ctx, tx, "biz-1", tabID, "T4", orderID, 25000)
		if err != nil {
			return err
		}
		out = alloc
		return f.orders.TxCreate(tx, &orders.Order{
			OrderID:     orderID,
			BusinessID:  "biz-1",
			Mode:        orders.ModeDineIn,
			Status:      orders.StatusPending,
			DineInTabID: tabID,
			DineInToken: alloc.Token,
		})
	})
	return out, err
}

func (f *fixture) counter(t *testing.T) int64 {
	t.Helper()
	b, err := f.catalog.GetBusiness(context.Background(), "biz-1")
	require.NoError(t, err)
	return b.LastOrderToken
}

func TestAllocateOrReuse_SequentialAddOnsShareToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.place(ctx, f.env.Runner, "tab-1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "42-QX", first.Token)
	assert.False(t, first.Reused)
	assert.Equal(t, int64(42), f.counter(t))

	second, err := f.place(ctx, f.env.Runner, "tab-1", "ord-2")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.True(t, second.Reused)
	assert.Equal(t, int64(42), f.counter(t))

	tab, err := f.alloc.Get(ctx, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1", "ord-2"}, tab.OrderIDs)
	assert.EqualValues(t, 50000, tab.TotalBill)
}

func TestAllocateOrReuse_CancelledOrderMintsNewToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.place(ctx, f.env.Runner, "tab-1", "ord-1")
	require.NoError(t, err)
	_, err = f.orders.Transition(ctx, "ord-1", orders.StatusCancelled, "staff", "")
	require.NoError(t, err)

	f.alloc.suffix = func() string { return "BD" }
	next, err := f.place(ctx, f.env.Runner, "tab-1", "ord-2")
	require.NoError(t, err)
	assert.Equal(t, "43-BD", next.Token)
	assert.Equal(t, int64(43), f.counter(t))
}

func TestAllocateOrReuse_ConcurrentFirstOrders(t *testing.T) {
	f := newFixture(t)
	runner := store.NewRunner(f.env.DB, nil).WithMaxAttempts(50)

	const n = 5
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.place(context.Background(), runner, "tab-fresh", fmt.Sprintf("ord-%d", i))
			errs[i] = err
			if err == nil {
				tokens[i] = a.Token
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "42-QX", tokens[i])
	}
	assert.Equal(t, int64(42), f.counter(t))
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.place(ctx, f.env.Runner, "tab-1", "ord-1")
	require.NoError(t, err)

	tab, err := f.alloc.Close(ctx, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, tab.Status)
	require.NotNil(t, tab.ClosedAt)

	_, err = f.place(ctx, f.env.Runner, "tab-1", "ord-2")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.alloc.Close(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAllocateOrReuse_UnknownBusiness(t *testing.T) {
	f := newFixture(t)
	err := f.env.Runner.Run(context.Background(), func(ctx context.Context, tx *store.Txn) error {
		_, err := f.alloc.AllocateOrReuse(ctx, tx, "biz-404", "tab-9", "T1", "ord-9", 100)
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
