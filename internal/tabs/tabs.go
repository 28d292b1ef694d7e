// Package tabs allocates the short human-facing token shared by every order
// placed against one dine-in tab.
package tabs

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// maxLinkedScan bounds how many of the tab's most recent orders are read when
// looking for an active one.
const maxLinkedScan = 20

// Tab is a running bill for one table.
type Tab struct {
	TabID      string      `dynamodbav:"tab_id" json:"tabId"`
	BusinessID string      `dynamodbav:"business_id" json:"businessId"`
	TableID    string      `dynamodbav:"table_id" json:"tableId"`
	Status     Status      `dynamodbav:"status" json:"status"`
	Token      string      `dynamodbav:"token" json:"token"`
	OrderIDs   []string    `dynamodbav:"order_ids" json:"orderIds"`
	TotalBill  money.Paise `dynamodbav:"total_bill" json:"totalBill"`
	CreatedAt  time.Time   `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt  time.Time   `dynamodbav:"updated_at" json:"updatedAt"`
	ClosedAt   *time.Time  `dynamodbav:"closed_at,omitempty" json:"closedAt,omitempty"`
}

// Allocation is the token handed to a new order.
type Allocation struct {
	Token  string
	Reused bool
	Tab    Tab
}

type Allocator struct {
	tabs       store.Collection
	businesses store.Collection
	orders     *orders.Store
	runner     *store.Runner
	nowFunc    func() time.Time
	suffix     func() string
}

func NewAllocator(runner *store.Runner, tabs, businesses store.Collection, orderStore *orders.Store) *Allocator {
	return &Allocator{
		tabs:       tabs,
		businesses: businesses,
		orders:     orderStore,
		runner:     runner,
		nowFunc:    time.Now,
		suffix:     randomLetters,
	}
}

// AllocateOrReuse links orderID to the tab and returns its token. If an order
// already on the tab is still active its token is reused; otherwise the
// business counter is advanced and a new token minted. It performs its reads
// and then stages its writes, so callers must finish their own reads first and
// stage the order itself afterwards.
func (a *Allocator) AllocateOrReuse(ctx context.Context, tx *store.Txn, businessID, tabID, tableID, orderID string, amount money.Paise) (*Allocation, error) {
	now := a.nowFunc().UTC()

	var tab Tab
	found, err := tx.Get(ctx, a.tabs, tabID, &tab)
	if err != nil {
		return nil, err
	}
	if found {
		if tab.BusinessID != businessID {
			return nil, apperr.NotFound("tab", tabID)
		}
		if tab.Status == StatusClosed {
			return nil, apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("tab %s is closed", tabID))
		}
	} else {
		tab = Tab{TabID: tabID, BusinessID: businessID, TableID: tableID, Status: StatusOpen, CreatedAt: now}
	}

	reused := false
	if tab.Token != "" {
		reused, err = a.hasActiveOrder(ctx, tx, tab.OrderIDs)
		if err != nil {
			return nil, err
		}
	}

	var biz catalog.Business
	if !reused {
		ok, err := tx.Get(ctx, a.businesses, businessID, &biz)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("business", businessID)
		}
	}

	// writes
	if !reused {
		biz.LastOrderToken++
		biz.UpdatedAt = now
		if err := tx.Put(a.businesses, businessID, biz); err != nil {
			return nil, err
		}
		tab.Token = fmt.Sprintf("%d-%s", biz.LastOrderToken, a.suffix())
	}
	tab.OrderIDs = append(tab.OrderIDs, orderID)
	tab.TotalBill += amount
	tab.UpdatedAt = now
	if err := tx.Put(a.tabs, tabID, tab); err != nil {
		return nil, err
	}
	return &Allocation{Token: tab.Token, Reused: reused, Tab: tab}, nil
}

func (a *Allocator) hasActiveOrder(ctx context.Context, tx *store.Txn, orderIDs []string) (bool, error) {
	scanned := 0
	for i := len(orderIDs) - 1; i >= 0 && scanned < maxLinkedScan; i-- {
		scanned++
		o, found, err := a.orders.TxGet(ctx, tx, orderIDs[i])
		if err != nil {
			return false, err
		}
		if found && activeOnTab(o.Status) {
			return true, nil
		}
	}
	return false, nil
}

// activeOnTab treats every order that was not rejected or cancelled as still
// holding the table's token.
func activeOnTab(s orders.Status) bool {
	return s != orders.StatusRejected && s != orders.StatusCancelled
}

// Get loads a tab.
func (a *Allocator) Get(ctx context.Context, tabID string) (*Tab, error) {
	var tab Tab
	found, err := a.runner.Get(ctx, a.tabs, tabID, &tab)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("tab", tabID)
	}
	return &tab, nil
}

// Close settles a tab. Closing twice is a no-op.
func (a *Allocator) Close(ctx context.Context, tabID string) (*Tab, error) {
	var out Tab
	err := a.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		found, err := tx.Get(ctx, a.tabs, tabID, &out)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("tab", tabID)
		}
		if out.Status == StatusClosed {
			return nil
		}
		now := a.nowFunc().UTC()
		out.Status = StatusClosed
		out.ClosedAt = &now
		out.UpdatedAt = now
		return tx.Put(a.tabs, tabID, out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func randomLetters() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	b := []byte{letters[rand.Intn(len(letters))], letters[rand.Intn(len(letters))]}
	return string(b)
}
