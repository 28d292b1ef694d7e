// Package split coordinates multi-payer settlement of one order. Each share is
// its own gateway order; items held on the session reach the base order only
// when the last share is paid.
package split

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

const (
	MinShares = 2
	MaxShares = 20
)

// ErrSessionNotFound is returned by ApplyCapture when the session or its base
// order does not exist.
var ErrSessionNotFound = errors.New("split: session not found")

type CreateRequest struct {
	// SessionID is optional. A deterministic id keeps share receipts stable
	// across retried submissions.
	SessionID   string
	BaseOrderID string
	SplitCount  int
	Gateway     gateway.Name
	// TotalAmount defaults to the base order's outstanding balance plus PendingTotals.
	TotalAmount   money.Paise
	PendingItems  []pricing.Item
	PendingTotals pricing.Totals
	// Recover looks up gateway orders left by an earlier attempt before creating new ones.
	Recover bool
}

type Coordinator struct {
	runner   *store.Runner
	col      store.Collection
	orders   *orders.Store
	gateways *gateway.Registry
	logger   *zap.Logger
	nowFunc  func() time.Time
	newID    func() string
}

func NewCoordinator(runner *store.Runner, col store.Collection, orderStore *orders.Store, gateways *gateway.Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		runner:   runner,
		col:      col,
		orders:   orderStore,
		gateways: gateways,
		logger:   logger,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// Plan builds an unsaved session and creates one gateway order per share. It
// calls the gateway and so must run outside any transaction.
func (c *Coordinator) Plan(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.SplitCount < MinShares || req.SplitCount > MaxShares {
		return nil, apperr.Validation(fmt.Sprintf("split count must be between %d and %d", MinShares, MaxShares))
	}
	if req.TotalAmount < money.Paise(req.SplitCount) {
		return nil, apperr.Validation("nothing left to split")
	}
	gw, err := c.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	now := c.nowFunc().UTC()
	s := &Session{
		SessionID:     req.SessionID,
		BaseOrderID:   req.BaseOrderID,
		Gateway:       string(gw.Name()),
		TotalAmount:   req.TotalAmount,
		SplitCount:    req.SplitCount,
		Status:        StatusPending,
		PendingItems:  req.PendingItems,
		PendingTotals: req.PendingTotals,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s.SessionID == "" {
		s.SessionID = c.newID()
	}

	for i, amount := range req.TotalAmount.Split(req.SplitCount) {
		idx := i + 1
		receipt := s.SessionID + "-" + strconv.Itoa(idx)
		link := gateway.Link{OrderID: req.BaseOrderID, SplitSessionID: s.SessionID, Type: gateway.LinkSplit, ShareIndex: idx}

		var gwOrder *gateway.Order
		if req.Recover {
			if gwOrder, err = gw.FindOrderByReceipt(ctx, receipt); err != nil {
				return nil, apperr.Gateway(string(gw.Name()), err)
			}
		}
		if gwOrder == nil {
			gwOrder, err = gw.CreateOrder(ctx, gateway.CreateOrderRequest{Amount: amount, Receipt: receipt, Link: link})
			if err != nil {
				return nil, apperr.Gateway(string(gw.Name()), err)
			}
		}
		s.Shares = append(s.Shares, Share{
			Index:          idx,
			Amount:         amount,
			Status:         SharePending,
			GatewayOrderID: gwOrder.ID,
			CheckoutURL:    gwOrder.CheckoutURL,
			ClientSecret:   gwOrder.ClientSecret,
		})
	}
	return s, nil
}

// TxCreate stages a planned session.
func (c *Coordinator) TxCreate(tx *store.Txn, s *Session) error {
	return tx.Create(c.col, s.SessionID, s)
}

// CreateSession splits what is owed on an existing order, plus any pending
// items, into equal shares.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	base, err := c.orders.Get(ctx, req.BaseOrderID)
	if err != nil {
		return nil, err
	}
	if err := c.checkSplittable(ctx, base); err != nil {
		return nil, err
	}
	if req.TotalAmount == 0 {
		req.TotalAmount = base.Total - base.PaidAmount() + req.PendingTotals.Total
	}
	if req.Gateway == "" {
		req.Gateway = gateway.Name(base.Gateway)
	}

	s, err := c.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	err = c.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		o, found, err := c.orders.TxGet(ctx, tx, req.BaseOrderID)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("order", req.BaseOrderID)
		}
		if o.SplitSessionID != base.SplitSessionID {
			return apperr.Conflict(apperr.CodeConflict, "order was split concurrently")
		}
		if err := c.TxCreate(tx, s); err != nil {
			return err
		}
		o.SplitSessionID = s.SessionID
		if o.PaymentMethod != orders.MethodSplit && o.PaidAmount() == 0 {
			o.PaymentMethod = orders.MethodSplit
		}
		o.UpdatedAt = s.CreatedAt
		return c.orders.TxPut(tx, o)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("split session created",
		zap.String("session_id", s.SessionID),
		zap.String("order_id", s.BaseOrderID),
		zap.Int("shares", s.SplitCount),
		zap.Stringer("total", s.TotalAmount))
	return s, nil
}

func (c *Coordinator) checkSplittable(ctx context.Context, base *orders.Order) error {
	if !orders.IsOpen(base.Status) {
		return apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("order %s is %s", base.OrderID, base.Status))
	}
	if base.SplitSessionID == "" {
		return nil
	}
	prev, err := c.Get(ctx, base.SplitSessionID)
	if err != nil {
		return err
	}
	if prev.Status != StatusCompleted {
		return apperr.Conflict(apperr.CodeConflict, "order already has an open split session "+prev.SessionID)
	}
	return nil
}

// PayRemaining creates one gateway order for every share still unpaid.
func (c *Coordinator) PayRemaining(ctx context.Context, sessionID string) (*RemainingOrder, error) {
	s, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusCompleted {
		return nil, apperr.Conflict(apperr.CodeConflict, "split session is already completed")
	}
	amount, _ := s.Unpaid()
	gw, err := c.gateways.Get(gateway.Name(s.Gateway))
	if err != nil {
		return nil, err
	}

	receipt := fmt.Sprintf("%s-rem-%d", s.SessionID, len(s.RemainingOrders)+1)
	gwOrder, err := gw.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:  amount,
		Receipt: receipt,
		Link:    gateway.Link{OrderID: s.BaseOrderID, SplitSessionID: s.SessionID, Type: gateway.LinkPayRemaining},
	})
	if err != nil {
		return nil, apperr.Gateway(s.Gateway, err)
	}
	rem := RemainingOrder{
		GatewayOrderID: gwOrder.ID,
		Amount:         amount,
		CheckoutURL:    gwOrder.CheckoutURL,
		ClientSecret:   gwOrder.ClientSecret,
		CreatedAt:      c.nowFunc().UTC(),
	}

	err = c.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		var cur Session
		found, err := tx.Get(ctx, c.col, sessionID, &cur)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("split session", sessionID)
		}
		if cur.Status == StatusCompleted {
			return apperr.Conflict(apperr.CodeConflict, "split session is already completed")
		}
		cur.RemainingOrders = append(cur.RemainingOrders, rem)
		cur.UpdatedAt = rem.CreatedAt
		return tx.Put(c.col, sessionID, cur)
	})
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

// ApplyCapture settles the shares a captured payment covers and, on the
// transition into completed, merges pending items into the base order. It
// reads the session and base order and then stages both, so the caller must
// finish its own reads first.
func (c *Coordinator) ApplyCapture(ctx context.Context, tx *store.Txn, sessionID string, ev gateway.Event) (*CaptureResult, error) {
	var s Session
	found, err := tx.Get(ctx, c.col, sessionID, &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	o, found, err := c.orders.TxGet(ctx, tx, s.BaseOrderID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("base order %s: %w", s.BaseOrderID, ErrSessionNotFound)
	}

	now := c.nowFunc().UTC()
	res := &CaptureResult{Session: &s}

	payType := orders.PaymentSplit
	var targets []*Share
	if ev.Link.Type == gateway.LinkPayRemaining || s.isRemainingOrder(ev.GatewayOrderID) {
		payType = orders.PaymentPayRemaining
		for i := range s.Shares {
			if s.Shares[i].Status != SharePaid {
				targets = append(targets, &s.Shares[i])
			}
		}
	} else {
		sh := s.shareByGatewayOrder(ev.GatewayOrderID)
		if sh == nil && ev.Link.ShareIndex > 0 && ev.Link.ShareIndex <= len(s.Shares) {
			sh = &s.Shares[ev.Link.ShareIndex-1]
		}
		if sh != nil && sh.Status != SharePaid {
			targets = append(targets, sh)
		}
	}

	entry := orders.PaymentEntry{
		PaymentID:      ev.PaymentID,
		Gateway:        string(ev.Gateway),
		GatewayOrderID: ev.GatewayOrderID,
		Type:           payType,
		SplitSessionID: s.SessionID,
	}
	recorded := o.HasPayment(ev.PaymentID)
	var covered money.Paise
	for _, sh := range targets {
		sh.Status = SharePaid
		sh.PaymentID = ev.PaymentID
		sh.PaidAt = &now
		e := entry
		e.Amount = sh.Amount
		e.ShareIndex = sh.Index
		orders.AppendSettlement(o, e, now)
		covered += sh.Amount
		res.Settled = append(res.Settled, sh.Index)
	}
	// Money beyond the settled shares stays on the ledger for refund.
	if excess := ev.Amount - covered; !recorded && (excess > 0 || len(targets) == 0) {
		e := entry
		e.Amount = excess
		if len(targets) > 0 {
			e.Type = orders.PaymentOverpayment
		}
		orders.AppendSettlement(o, e, now)
		res.Overpaid = excess
		c.logger.Warn("split capture exceeds settled shares",
			zap.String("session_id", s.SessionID),
			zap.String("payment_id", ev.PaymentID),
			zap.Int64("captured", int64(ev.Amount)),
			zap.Int64("excess", int64(excess)))
	}

	if s.Status != StatusCompleted && s.PaidCount() >= s.SplitCount {
		s.Status = StatusCompleted
		s.CompletedAt = &now
		res.Completed = true
		if !s.Merged {
			if len(s.PendingItems) > 0 {
				orders.MergeItems(o, s.PendingItems, s.PendingTotals, now)
				res.Merged = true
			}
			s.Merged = true
		}
		orders.MarkPaymentReceived(o, now)
	}
	s.UpdatedAt = now

	if err := tx.Put(c.col, s.SessionID, s); err != nil {
		return nil, err
	}
	if err := c.orders.TxPut(tx, o); err != nil {
		return nil, err
	}
	return res, nil
}

// Get loads a session.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	found, err := c.runner.Get(ctx, c.col, sessionID, &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("split session", sessionID)
	}
	return &s, nil
}
