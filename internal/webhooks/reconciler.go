// Package webhooks applies normalized gateway events to orders and split
// sessions exactly once, and keeps failed deliveries for bounded retry.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

const DefaultMaxRetries = 5

// RetryQueue is satisfied by aws.Publisher.
type RetryQueue interface {
	SendJSON(ctx context.Context, v any, attributes map[string]string) error
}

// Metrics is satisfied by aws.MetricsClient.
type Metrics interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
}

type Collections struct {
	ProcessedPayments store.Collection
	UnlinkedEvents    store.Collection
	FailedWebhooks    store.Collection
	StatusIndex       string
}

type Reconciler struct {
	runner     *store.Runner
	cols       Collections
	orders     *orders.Store
	split      *split.Coordinator
	gateways   *gateway.Registry
	queue      RetryQueue
	notifier   notify.Notifier
	metrics    Metrics
	logger     *zap.Logger
	maxRetries int
	nowFunc    func() time.Time
}

type Option func(*Reconciler)

func WithRetryQueue(q RetryQueue) Option    { return func(r *Reconciler) { r.queue = q } }
func WithNotifier(n notify.Notifier) Option { return func(r *Reconciler) { r.notifier = n } }
func WithMetrics(m Metrics) Option          { return func(r *Reconciler) { r.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(r *Reconciler) { r.logger = l } }

func WithMaxRetries(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewReconciler(runner *store.Runner, cols Collections, orderStore *orders.Store, coord *split.Coordinator, gateways *gateway.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		runner:     runner,
		cols:       cols,
		orders:     orderStore,
		split:      coord,
		gateways:   gateways,
		notifier:   notify.Nop{},
		logger:     zap.NewNop(),
		maxRetries: DefaultMaxRetries,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Receive authenticates a delivery and reconciles every event in it. A
// delivery that verifies but cannot be applied is stored as a FailedWebhook
// and the error is returned so the gateway redelivers.
func (r *Reconciler) Receive(ctx context.Context, name gateway.Name, header http.Header, body []byte) ([]Result, error) {
	gw, err := r.gateways.Get(name)
	if err != nil {
		return nil, err
	}
	if err := gw.Verify(header, body); err != nil {
		r.logger.Warn("webhook rejected", zap.String("gateway", string(name)), zap.Error(err))
		return nil, err
	}

	results, err := r.process(ctx, gw, body)
	if err != nil {
		r.count(ctx, aws.MetricWebhookFailed, name)
		if fw, ferr := r.recordFailure(ctx, name, body, err); ferr != nil {
			r.logger.Error("store failed webhook", zap.String("gateway", string(name)), zap.Error(ferr))
		} else {
			r.logger.Warn("webhook processing failed, stored for retry",
				zap.String("gateway", string(name)),
				zap.String("webhook_id", fw.WebhookID),
				zap.Int("deliveries", fw.Deliveries),
				zap.Error(err))
		}
		return nil, err
	}
	return results, nil
}

func (r *Reconciler) process(ctx context.Context, gw gateway.Gateway, body []byte) ([]Result, error) {
	events, err := gw.Parse(body)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		ev.Gateway = gw.Name()
		res, err := r.Reconcile(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", ev.Kind, ev.PaymentID, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

// Reconcile applies one normalized event.
func (r *Reconciler) Reconcile(ctx context.Context, ev gateway.Event) (*Result, error) {
	link, err := r.resolveLink(ctx, ev)
	if err != nil {
		return nil, err
	}
	ev.Link = link

	var res *Result
	switch ev.Kind {
	case gateway.PaymentCaptured:
		res, err = r.reconcileCapture(ctx, ev)
	case gateway.PaymentFailed:
		res, err = r.reconcileFailure(ctx, ev)
	case gateway.RefundCompleted, gateway.RefundFailed:
		res, err = r.reconcileRefund(ctx, ev)
	default:
		return &Result{Outcome: OutcomeIgnored, Kind: ev.Kind.String(), PaymentID: ev.PaymentID}, nil
	}
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case OutcomeApplied:
		r.count(ctx, aws.MetricWebhookApplied, ev.Gateway)
	case OutcomeDuplicate:
		r.count(ctx, aws.MetricWebhookDuplicate, ev.Gateway)
	case OutcomeUnlinked:
		r.count(ctx, aws.MetricWebhookUnlinked, ev.Gateway)
	}
	r.logger.Info("webhook event reconciled",
		zap.String("gateway", string(ev.Gateway)),
		zap.String("kind", ev.Kind.String()),
		zap.String("payment_id", ev.PaymentID),
		zap.String("order_id", res.OrderID),
		zap.String("outcome", string(res.Outcome)))
	return res, nil
}

// resolveLink falls back to the gateway's own order object when the event
// carries no linkage.
func (r *Reconciler) resolveLink(ctx context.Context, ev gateway.Event) (gateway.Link, error) {
	if !ev.Link.Empty() || ev.GatewayOrderID == "" {
		return ev.Link, nil
	}
	gw, err := r.gateways.Get(ev.Gateway)
	if err != nil {
		return ev.Link, nil
	}
	o, err := gw.FetchOrder(ctx, ev.GatewayOrderID)
	if err != nil {
		return gateway.Link{}, apperr.Gateway(string(ev.Gateway), err)
	}
	return o.Link, nil
}

func processedKey(ev gateway.Event) string {
	return string(ev.Gateway) + ":" + ev.PaymentID
}

func unlinkedKey(ev gateway.Event) string {
	id := ev.PaymentID
	if id == "" {
		id = ev.EventID
	}
	return fmt.Sprintf("%s:%s:%s", ev.Gateway, ev.Kind, id)
}

func (r *Reconciler) reconcileCapture(ctx context.Context, ev gateway.Event) (*Result, error) {
	if ev.PaymentID == "" {
		return nil, apperr.Validation("captured event without payment id")
	}
	var (
		res       *Result
		order     *orders.Order
		splitDone bool
	)
	err := r.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		res = &Result{Kind: ev.Kind.String(), PaymentID: ev.PaymentID, OrderID: ev.Link.OrderID, SplitSessionID: ev.Link.SplitSessionID}
		order, splitDone = nil, false
		now := r.nowFunc().UTC()

		key := processedKey(ev)
		seen, err := tx.Get(ctx, r.cols.ProcessedPayments, key, nil)
		if err != nil {
			return err
		}
		if seen {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		pp := ProcessedPayment{
			Key:            key,
			Gateway:        string(ev.Gateway),
			PaymentID:      ev.PaymentID,
			Amount:         ev.Amount,
			EventID:        ev.EventID,
			OrderID:        ev.Link.OrderID,
			SplitSessionID: ev.Link.SplitSessionID,
			ProcessedAt:    now,
		}

		switch {
		case ev.Link.SplitSessionID != "":
			cr, err := r.split.ApplyCapture(ctx, tx, ev.Link.SplitSessionID, ev)
			if errors.Is(err, split.ErrSessionNotFound) {
				return r.stageUnlinked(ctx, tx, ev, ReasonOrderNotFound, res)
			}
			if err != nil {
				return err
			}
			pp.Type = string(orders.PaymentSplit)
			pp.OrderID = cr.Session.BaseOrderID
			res.OrderID = cr.Session.BaseOrderID
			res.SplitCompleted = cr.Completed
			splitDone = cr.Completed

		case ev.Link.OrderID != "":
			o, found, err := r.orders.TxGet(ctx, tx, ev.Link.OrderID)
			if err != nil {
				return err
			}
			if !found {
				return r.stageUnlinked(ctx, tx, ev, ReasonOrderNotFound, res)
			}
			entry := orders.PaymentEntry{
				PaymentID:      ev.PaymentID,
				Gateway:        string(ev.Gateway),
				GatewayOrderID: ev.GatewayOrderID,
				Amount:         ev.Amount,
				Type:           orders.PaymentRegular,
			}
			if ev.Link.Type == gateway.LinkAddOn {
				entry.Type = orders.PaymentAddOn
				entry.AddOnID = ev.Link.AddOnID
				if a, ok := o.PendingAddOn(ev.Link.AddOnID, ev.GatewayOrderID); ok {
					orders.MergeItems(o, a.Items, a.Totals, now)
					a.Merged = true
					entry.AddOnID = a.AddOnID
				}
				pp.AddOnID = entry.AddOnID
				orders.ApplyAddOnCaptured(o, entry, now)
			} else {
				orders.ApplyPaymentCaptured(o, entry, now)
			}
			if err := r.orders.TxPut(tx, o); err != nil {
				return err
			}
			pp.Type = string(entry.Type)
			order = o

		default:
			return r.stageUnlinked(ctx, tx, ev, ReasonUnlinked, res)
		}

		res.Outcome = OutcomeApplied
		return tx.Create(r.cols.ProcessedPayments, key, pp)
	})
	if err != nil {
		return nil, err
	}

	if res.Outcome == OutcomeApplied {
		if order != nil {
			r.notify(ctx, notify.Event{Type: notify.EventOrderPaymentCaptured, OrderID: order.OrderID,
				BusinessID: order.BusinessID, Status: string(order.Status), Amount: ev.Amount})
		}
		if splitDone {
			r.notify(ctx, notify.Event{Type: notify.EventSplitCompleted, OrderID: res.OrderID, SessionID: res.SplitSessionID})
		}
	}
	return res, nil
}

// stageUnlinked records ev once for manual follow-up. It must be reached
// before any write is staged.
func (r *Reconciler) stageUnlinked(ctx context.Context, tx *store.Txn, ev gateway.Event, reason string, res *Result) error {
	res.Outcome = OutcomeUnlinked
	key := unlinkedKey(ev)
	exists, err := tx.Get(ctx, r.cols.UnlinkedEvents, key, nil)
	if err != nil || exists {
		return err
	}
	return tx.Create(r.cols.UnlinkedEvents, key, UnlinkedEvent{
		Key:            key,
		Gateway:        string(ev.Gateway),
		Kind:           ev.Kind.String(),
		PaymentID:      ev.PaymentID,
		GatewayOrderID: ev.GatewayOrderID,
		OrderID:        ev.Link.OrderID,
		SplitSessionID: ev.Link.SplitSessionID,
		Amount:         ev.Amount,
		Reason:         reason,
		ReceivedAt:     r.nowFunc().UTC(),
	})
}

// reconcileFailure records a failed attempt. Split shares and add-ons are
// left alone: the payer simply tries again.
func (r *Reconciler) reconcileFailure(ctx context.Context, ev gateway.Event) (*Result, error) {
	res := &Result{Kind: ev.Kind.String(), PaymentID: ev.PaymentID, OrderID: ev.Link.OrderID, SplitSessionID: ev.Link.SplitSessionID}
	if ev.Link.SplitSessionID != "" || ev.Link.Type == gateway.LinkAddOn {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	return r.updateOrder(ctx, ev, res, func(o *orders.Order, now time.Time) bool {
		reason := ev.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		return orders.ApplyPaymentFailed(o, reason, now)
	})
}

func (r *Reconciler) reconcileRefund(ctx context.Context, ev gateway.Event) (*Result, error) {
	res := &Result{Kind: ev.Kind.String(), PaymentID: ev.PaymentID, OrderID: ev.Link.OrderID}
	status := orders.RefundCompleted
	if ev.Kind == gateway.RefundFailed {
		status = orders.RefundFailed
	}
	return r.updateOrder(ctx, ev, res, func(o *orders.Order, now time.Time) bool {
		return orders.ApplyRefund(o, ev.RefundID, status, now)
	})
}

// updateOrder applies fn to the linked order. Unchanged orders are not
// rewritten, so redelivery is a no-op.
func (r *Reconciler) updateOrder(ctx context.Context, ev gateway.Event, res *Result, fn func(o *orders.Order, now time.Time) bool) (*Result, error) {
	var changed *orders.Order
	err := r.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		changed = nil
		if ev.Link.OrderID == "" {
			return r.stageUnlinked(ctx, tx, ev, ReasonUnlinked, res)
		}
		o, found, err := r.orders.TxGet(ctx, tx, ev.Link.OrderID)
		if err != nil {
			return err
		}
		if !found {
			return r.stageUnlinked(ctx, tx, ev, ReasonOrderNotFound, res)
		}
		if !fn(o, r.nowFunc().UTC()) {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		res.Outcome = OutcomeApplied
		changed = o
		return r.orders.TxPut(tx, o)
	})
	if err != nil {
		return nil, err
	}
	if changed != nil {
		typ := notify.EventOrderPaymentFailed
		if ev.Kind == gateway.RefundCompleted || ev.Kind == gateway.RefundFailed {
			typ = notify.EventOrderRefundUpdated
		}
		r.notify(ctx, notify.Event{Type: typ, OrderID: changed.OrderID, BusinessID: changed.BusinessID,
			Status: string(changed.PaymentStatus)})
	}
	return res, nil
}

func (r *Reconciler) notify(ctx context.Context, ev notify.Event) {
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.logger.Warn("publish event", zap.String("type", ev.Type), zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}

func (r *Reconciler) count(ctx context.Context, metric string, gw gateway.Name) {
	if r.metrics == nil {
		return
	}
	if err := r.metrics.RecordCount(ctx, metric, map[string]string{"Gateway": string(gw)}); err != nil {
		r.logger.Debug("record metric", zap.String("metric", metric), zap.Error(err))
	}
}
