// Package idempotency brackets order creation so a retried submission observes
// the first outcome instead of creating a second paid order.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

const (
	DefaultStaleAfter = 30 * time.Second
	DefaultTTL        = 48 * time.Hour
)

// Guard encapsulates idempotency operations.
type Guard struct {
	runner     *store.Runner
	col        store.Collection
	staleAfter time.Duration
	ttlWindow  time.Duration
	nowFunc    func() time.Time
	newID      func() string
}

// NewGuard returns a configured Guard.
// staleAfter: age after which a reserved key may be taken over.
// ttlWindow: how long rows live before DynamoDB TTL removes them.
func NewGuard(runner *store.Runner, col store.Collection, staleAfter, ttlWindow time.Duration) *Guard {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if ttlWindow <= 0 {
		ttlWindow = DefaultTTL
	}
	return &Guard{
		runner:     runner,
		col:        col,
		staleAfter: staleAfter,
		ttlWindow:  ttlWindow,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

// Reserve claims key for this submission. A completed key is reported as a
// duplicate, a fresh reservation fails with REQUEST_IN_PROGRESS, and anything
// else (absent, failed, stale) is reserved again.
func (g *Guard) Reserve(ctx context.Context, key string) (*Reservation, error) {
	var res *Reservation
	err := g.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		res = nil
		now := g.nowFunc().UTC()

		var rec Record
		found, err := tx.Get(ctx, g.col, key, &rec)
		if err != nil {
			return err
		}

		if found {
			switch {
			case rec.Status == StatusCompleted:
				res = &Reservation{Key: key, OrderID: rec.OrderID, Attempt: rec.Attempt, Duplicate: true, Response: rec.Response}
				return nil
			case rec.Status == StatusReserved && now.Sub(rec.UpdatedAt) < g.staleAfter:
				return apperr.New(apperr.KindIdempotencyConflict, apperr.CodeRequestInProgress,
					"a request with this idempotency key is already in progress, retry shortly")
			}
		} else {
			rec = Record{IdempotencyKey: key, OrderID: g.newID(), CreatedAt: now}
		}

		res = &Reservation{
			Key:                    key,
			OrderID:                rec.OrderID,
			Attempt:                rec.Attempt + 1,
			Recovering:             found,
			PreviousGatewayOrderID: rec.GatewayOrderID,
		}
		rec.Status = StatusReserved
		rec.Attempt = res.Attempt
		rec.Note = ""
		rec.UpdatedAt = now
		rec.ExpiresAt = now.Add(g.ttlWindow).Unix()
		return tx.Put(g.col, key, rec)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Claim re-reads the reservation inside tx and verifies this attempt still owns
// it. It must be called during the read phase; pass the record to Complete.
func (g *Guard) Claim(ctx context.Context, tx *store.Txn, res *Reservation) (*Record, error) {
	var rec Record
	found, err := tx.Get(ctx, g.col, res.Key, &rec)
	if err != nil {
		return nil, err
	}
	if !found || rec.Status != StatusReserved || rec.Attempt != res.Attempt {
		return nil, apperr.New(apperr.KindIdempotencyConflict, apperr.CodeRequestInProgress,
			"idempotency reservation was taken over by a newer attempt")
	}
	return &rec, nil
}

// Complete stages the completed record with the response duplicates will receive.
func (g *Guard) Complete(tx *store.Txn, rec *Record, resp Response) error {
	now := g.nowFunc().UTC()
	rec.Status = StatusCompleted
	rec.Response = &resp
	rec.GatewayOrderID = resp.GatewayOrderID
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(g.ttlWindow).Unix()
	return tx.Put(g.col, rec.IdempotencyKey, rec)
}

// RecordGatewayOrder stores the gateway order id on the reservation right after
// the gateway call so a takeover can reuse it.
func (g *Guard) RecordGatewayOrder(ctx context.Context, res *Reservation, gatewayOrderID string) error {
	return g.update(ctx, res, func(rec *Record) {
		rec.GatewayOrderID = gatewayOrderID
		rec.UpdatedAt = g.nowFunc().UTC()
	})
}

// Fail marks the reservation failed with detail so the client may retry.
func (g *Guard) Fail(ctx context.Context, res *Reservation, detail string) error {
	return g.update(ctx, res, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Note = detail
		rec.UpdatedAt = g.nowFunc().UTC()
	})
}

// Get retrieves a record by key. If not found, returns (nil, nil).
func (g *Guard) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	found, err := g.runner.Get(ctx, g.col, key, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// update mutates the record only while res still owns it.
func (g *Guard) update(ctx context.Context, res *Reservation, fn func(rec *Record)) error {
	err := g.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		var rec Record
		found, err := tx.Get(ctx, g.col, res.Key, &rec)
		if err != nil {
			return err
		}
		if !found || rec.Status != StatusReserved || rec.Attempt != res.Attempt {
			return nil
		}
		fn(&rec)
		return tx.Put(g.col, res.Key, rec)
	})
	if err != nil {
		return fmt.Errorf("update idempotency key %s: %w", res.Key, err)
	}
	return nil
}
