// Package storetest wires an in-memory database for tests.
package storetest

import (
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/store/memdb"
)

// Env is an in-memory store with every collection created.
type Env struct {
	DB     *memdb.DB
	Runner *store.Runner
	Cols   store.Collections
}

// New returns an Env using the default table names.
func New() *Env {
	return NewWith(store.NewCollections(store.DefaultTableNames()), store.FailedWebhookStatusIndex)
}

// NewWith creates the given collections in a fresh memdb.
func NewWith(cols store.Collections, statusIndex string) *Env {
	db := store.NewMemoryDB(cols, statusIndex)
	return &Env{DB: db, Runner: store.NewRunner(db, nil), Cols: cols}
}
