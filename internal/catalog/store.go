// Package catalog reads the canonical menu and business settings.
package catalog

import (
	"context"
	"fmt"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

// Store is read-only except for seeding.
type Store struct {
	runner     *store.Runner
	businesses store.Collection
	menus      store.Collection
}

func NewStore(runner *store.Runner, businesses, menus store.Collection) *Store {
	return &Store{runner: runner, businesses: businesses, menus: menus}
}

// Businesses exposes the collection so transactions can read and advance the token counter.
func (s *Store) Businesses() store.Collection { return s.businesses }

func (s *Store) GetBusiness(ctx context.Context, businessID string) (*Business, error) {
	var b Business
	found, err := s.runner.Get(ctx, s.businesses, businessID, &b)
	if err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}
	if !found {
		return nil, apperr.NotFound("business", businessID)
	}
	return &b, nil
}

func (s *Store) GetMenu(ctx context.Context, businessID string) (*Menu, error) {
	var m Menu
	found, err := s.runner.Get(ctx, s.menus, businessID, &m)
	if err != nil {
		return nil, fmt.Errorf("get menu: %w", err)
	}
	if !found {
		return nil, apperr.NotFound("menu", businessID)
	}
	return &m, nil
}

// Seed writes a business and its menu. Used by local runs and tests.
func (s *Store) Seed(ctx context.Context, b Business, m Menu) error {
	return s.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		if err := tx.Create(s.businesses, b.BusinessID, b); err != nil {
			return err
		}
		m.BusinessID = b.BusinessID
		return tx.Create(s.menus, b.BusinessID, m)
	})
}
