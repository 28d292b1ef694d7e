package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/store/storetest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newGuard(t *testing.T) (*Guard, *storetest.Env, *clock) {
	t.Helper()
	env := storetest.New()
	c := &clock{t: time.Date(2026, 5, 1, 19, 30, 0, 0, time.UTC)}
	g := NewGuard(env.Runner, env.Cols.Idempotency, 0, 0)
	g.nowFunc = c.Now
	n := 0
	g.newID = func() string { n++; return "ord-" + string(rune('a'+n-1)) }
	return g, env, c
}

func complete(t *testing.T, g *Guard, env *storetest.Env, res *Reservation, resp Response) error {
	t.Helper()
	return env.Runner.Run(context.Background(), func(ctx context.Context, tx *store.Txn) error {
		rec, err := g.Claim(ctx, tx, res)
		if err != nil {
			return err
		}
		return g.Complete(tx, rec, resp)
	})
}

func TestReserve_FirstSubmission(t *testing.T) {
	g, _, _ := newGuard(t)
	res, err := g.Reserve(context.Background(), "key-1")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Recovering)
	assert.Equal(t, "ord-a", res.OrderID)
	assert.Equal(t, 1, res.Attempt)

	rec, err := g.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, rec.Status)
	assert.Equal(t, rec.UpdatedAt.Add(DefaultTTL).Unix(), rec.ExpiresAt)
}

func TestReserve_InProgressThenStale(t *testing.T) {
	g, env, c := newGuard(t)
	ctx := context.Background()

	first, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	require.NoError(t, g.RecordGatewayOrder(ctx, first, "order_RZP1"))

	c.Advance(29 * time.Second)
	_, err = g.Reserve(ctx, "key-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIdempotencyConflict))

	c.Advance(2 * time.Second)
	second, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, second.Recovering)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, "order_RZP1", second.PreviousGatewayOrderID)
	assert.Equal(t, 2, second.Attempt)

	// the original attempt lost ownership and cannot complete
	err = complete(t, g, env, first, Response{OrderID: first.OrderID})
	assert.True(t, apperr.Is(err, apperr.KindIdempotencyConflict))
}

func TestReserve_CompletedIsDuplicate(t *testing.T) {
	g, env, c := newGuard(t)
	ctx := context.Background()

	res, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	want := Response{OrderID: res.OrderID, TrackingToken: "trk-1", Status: "awaiting_payment", Amount: 52552, Gateway: "razorpay", GatewayOrderID: "order_RZP1"}
	require.NoError(t, complete(t, g, env, res, want))

	c.Advance(time.Hour)
	dup, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	require.NotNil(t, dup.Response)
	assert.Equal(t, want, *dup.Response)

	// a late Fail from the same attempt does not undo completion
	require.NoError(t, g.Fail(ctx, res, "late"))
	rec, err := g.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestReserve_FailedAllowsRetry(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()

	res, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	require.NoError(t, g.Fail(ctx, res, "gateway: timeout"))

	rec, err := g.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "gateway: timeout", rec.Note)

	retry, err := g.Reserve(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, retry.Recovering)
	assert.Equal(t, res.OrderID, retry.OrderID)
}

func TestReserve_ConcurrentSameKey(t *testing.T) {
	g, _, _ := newGuard(t)
	g.newID = func() string { return "ord-shared" }

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		reserved  int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Reserve(context.Background(), "key-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				reserved++
				return
			}
			if apperr.Is(err, apperr.KindIdempotencyConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reserved)
	assert.Equal(t, n-1, conflicts)
}
