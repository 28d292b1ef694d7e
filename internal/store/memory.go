package store

import "github.com/imrishuroy/marketplace-orderflow/internal/store/memdb"

// NewMemoryDB returns an in-memory database holding every collection in cols.
// FailedWebhooks gets its status index, sorted by creation time.
func NewMemoryDB(cols Collections, statusIndex string) *memdb.DB {
	db := memdb.New()
	for _, c := range cols.List() {
		if c == cols.FailedWebhooks {
			db.CreateTable(c.Table, c.Key, memdb.Index{Name: statusIndex, Attr: "status", SortAttr: "created_at"})
			continue
		}
		db.CreateTable(c.Table, c.Key)
	}
	return db
}
