package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

// Store encapsulates operations on the orders table.
type Store struct {
	runner  *store.Runner
	col     store.Collection
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(runner *store.Runner, col store.Collection) *Store {
	return &Store{runner: runner, col: col, nowFunc: time.Now}
}

func (s *Store) Collection() store.Collection { return s.col }

// Get loads an order outside a transaction.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	found, err := s.runner.Get(ctx, s.col, orderID, &o)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !found {
		return nil, apperr.NotFound("order", orderID)
	}
	return &o, nil
}

// TxGet reads an order inside tx.
func (s *Store) TxGet(ctx context.Context, tx *store.Txn, orderID string) (*Order, bool, error) {
	var o Order
	found, err := tx.Get(ctx, s.col, orderID, &o)
	if err != nil || !found {
		return nil, found, err
	}
	return &o, true, nil
}

// TxCreate stages a new order.
func (s *Store) TxCreate(tx *store.Txn, o *Order) error {
	return tx.Create(s.col, o.OrderID, o)
}

// TxPut stages a replacement of an order read earlier in tx.
func (s *Store) TxPut(tx *store.Txn, o *Order) error {
	return tx.Put(s.col, o.OrderID, o)
}

// Update applies fn to the order in its own transaction and returns the result.
func (s *Store) Update(ctx context.Context, orderID string, fn func(o *Order, now time.Time) error) (*Order, error) {
	var out *Order
	err := s.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		o, found, err := s.TxGet(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("order", orderID)
		}
		if err := fn(o, s.nowFunc().UTC()); err != nil {
			return err
		}
		out = o
		return s.TxPut(tx, o)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves an order along the status graph.
func (s *Store) Transition(ctx context.Context, orderID string, to Status, actor, note string) (*Order, error) {
	return s.Update(ctx, orderID, func(o *Order, now time.Time) error {
		return Transition(o, to, actor, note, now)
	})
}
