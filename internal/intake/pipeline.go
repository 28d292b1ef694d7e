// Package intake turns an order submission into exactly one persisted order.
// Submit runs validate, price, branch, checkout and persist in that order;
// only checkout talks to a payment gateway and only persist writes.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/geo"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
	"github.com/imrishuroy/marketplace-orderflow/internal/tabs"
)

// BusinessSource is satisfied by catalog.Store.
type BusinessSource interface {
	GetBusiness(ctx context.Context, businessID string) (*catalog.Business, error)
}

// Metrics is satisfied by aws.MetricsClient.
type Metrics interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
}

// Deps are the collaborators every pipeline needs.
type Deps struct {
	Runner     *store.Runner
	Guard      *idempotency.Guard
	Businesses BusinessSource
	Pricer     *pricing.Validator
	Orders     *orders.Store
	Tabs       *tabs.Allocator
	Splits     *split.Coordinator
	Gateways   *gateway.Registry
}

type Pipeline struct {
	Deps
	defaultGateway gateway.Name
	notifier       notify.Notifier
	metrics        Metrics
	logger         *zap.Logger
	nowFunc        func() time.Time
	newToken       func() string
}

type Option func(*Pipeline)

func WithNotifier(n notify.Notifier) Option { return func(p *Pipeline) { p.notifier = n } }
func WithMetrics(m Metrics) Option          { return func(p *Pipeline) { p.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(p *Pipeline) { p.logger = l } }

// WithDefaultGateway charges requests that name no gateway through name.
func WithDefaultGateway(name gateway.Name) Option {
	return func(p *Pipeline) { p.defaultGateway = name }
}

func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		Deps:     deps,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		nowFunc:  time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.defaultGateway == "" && p.Gateways != nil {
		if names := p.Gateways.Names(); len(names) > 0 {
			p.defaultGateway = names[0]
		}
	}
	return p
}

// Submit accepts an order request exactly once per idempotency key. A repeated
// key returns the original response; a key still being processed fails with
// REQUEST_IN_PROGRESS.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	res, err := p.Guard.Reserve(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		p.count(ctx, aws.MetricIdempotentReplays, req.BusinessID)
		p.logger.Info("idempotent replay",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", res.OrderID))
		out := &Result{Duplicate: true}
		if res.Response != nil {
			out.Response = *res.Response
		} else {
			out.OrderID = res.OrderID
		}
		return out, nil
	}

	resp, err := p.run(ctx, req, res)
	if err != nil {
		// a newer attempt owns the key and will settle it
		if !apperr.Is(err, apperr.KindIdempotencyConflict) {
			if ferr := p.Guard.Fail(ctx, res, err.Error()); ferr != nil {
				p.logger.Error("mark idempotency key failed",
					zap.String("idempotency_key", req.IdempotencyKey), zap.Error(ferr))
			}
		}
		p.logger.Warn("order submission failed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("business_id", req.BusinessID),
			zap.Error(err))
		return nil, err
	}
	return &Result{Response: *resp}, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, res *idempotency.Reservation) (*idempotency.Response, error) {
	biz, err := p.Businesses.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return nil, err
	}
	q, err := p.price(ctx, req, biz)
	if err != nil {
		return nil, err
	}
	gw := req.Gateway
	if gw == "" {
		gw = p.defaultGateway
	}
	d, err := branch(req, res, biz, q, gw, p.newToken())
	if err != nil {
		return nil, err
	}
	if err := p.checkout(ctx, d); err != nil {
		return nil, err
	}
	resp, err := p.persist(ctx, d)
	if err != nil {
		return nil, err
	}

	p.count(ctx, aws.MetricOrdersCreated, req.BusinessID)
	ev := notify.Event{
		Type:       notify.EventOrderCreated,
		OrderID:    resp.OrderID,
		BusinessID: req.BusinessID,
		SessionID:  resp.SplitSessionID,
		Status:     resp.Status,
		Amount:     resp.Amount,
		Token:      resp.DineInToken,
	}
	if d.addOn != nil {
		ev.Type = notify.EventOrderItemsAdded
	}
	// online add-ons reach the kitchen when their payment is captured
	if d.addOn == nil || d.gwOrder == nil {
		p.notify(ctx, ev)
	}
	p.logger.Info("order accepted",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("order_id", resp.OrderID),
		zap.String("business_id", req.BusinessID),
		zap.String("payment_method", string(d.method)),
		zap.String("status", resp.Status),
		zap.Stringer("total", resp.Amount),
		zap.String("gateway_order_id", resp.GatewayOrderID))
	return resp, nil
}

func validate(req Request) error {
	switch {
	case req.IdempotencyKey == "":
		return apperr.Validation("idempotency key is required")
	case len(req.IdempotencyKey) > maxKeyLength:
		return apperr.Validation(fmt.Sprintf("idempotency key is longer than %d characters", maxKeyLength))
	case req.BusinessID == "":
		return apperr.Validation("business id is required")
	case len(req.Items) == 0:
		return apperr.Validation("at least one item is required")
	case req.ClientSubtotal <= 0:
		return apperr.Validation("subtotal must be positive")
	}
	return checkMode(req.Mode, req.PaymentMethod)
}

// price recomputes the bill from the canonical menu. Within tolerance the
// server subtotal wins.
func (p *Pipeline) price(ctx context.Context, req Request, biz *catalog.Business) (quote, error) {
	priced, err := p.Pricer.Price(ctx, biz.BusinessID, req.Items)
	if err != nil {
		return quote{}, err
	}
	if err := p.Pricer.ValidatePriceMatch(req.ClientSubtotal, priced.Subtotal); err != nil {
		p.count(ctx, aws.MetricPriceMismatch, biz.BusinessID)
		p.logger.Warn("price mismatch",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("business_id", biz.BusinessID),
			zap.Stringer("client_subtotal", req.ClientSubtotal),
			zap.Stringer("server_subtotal", priced.Subtotal))
		return quote{}, err
	}

	q := quote{items: priced.Items}
	var fee money.Paise
	if loc, ok := deliveryOf(req.Mode); ok {
		q.distanceKm = geo.Haversine(biz.Location.Lat, biz.Location.Lng, loc.Lat, loc.Lng)
		dq := pricing.DeliveryFee(q.distanceKm, priced.Subtotal, biz.Delivery)
		if err := dq.Err(); err != nil {
			return quote{}, err
		}
		fee = dq.Fee
	}
	q.totals = pricing.NewTotals(priced.Subtotal, pricing.CalculateTaxes(priced.Subtotal, biz.Tax), fee)
	return q, nil
}

func deliveryOf(m OrderMode) (Delivery, bool) {
	switch m := m.(type) {
	case Delivery:
		return m, true
	case Split:
		return deliveryOf(m.Fulfilment)
	}
	return Delivery{}, false
}

// branch decides what the submission becomes. It has no side effects.
func branch(req Request, res *idempotency.Reservation, biz *catalog.Business, q quote, gw gateway.Name, trackingToken string) (*draft, error) {
	d := &draft{res: res, businessID: biz.BusinessID, quote: q, method: req.PaymentMethod}

	mode := req.Mode
	if s, ok := mode.(Split); ok {
		d.shares = s.Shares
		d.method = orders.MethodSplit
		mode = s.Fulfilment
	}
	if d.method == orders.MethodCOD && !biz.CODEnabled {
		return nil, notOffered(biz, "cash on delivery")
	}
	if d.charges() {
		if gw == "" {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeGatewayNotAvailable, "no payment gateway is configured")
		}
		d.gateway = gw
	}

	switch m := mode.(type) {
	case AddOn:
		d.addOn = &m
		return d, nil
	case Pickup:
		if !biz.PickupEnabled {
			return nil, notOffered(biz, "pickup")
		}
	case DineIn:
		if !biz.DineInEnabled {
			return nil, notOffered(biz, "dine-in")
		}
		d.tab = &m
	}

	o := &orders.Order{
		OrderID:        res.OrderID,
		BusinessID:     biz.BusinessID,
		Customer:       req.Customer,
		Mode:           fulfilment(req.Mode),
		PaymentMethod:  d.method,
		Gateway:        string(d.gateway),
		Items:          q.items,
		Totals:         q.totals,
		TrackingToken:  trackingToken,
		IdempotencyKey: req.IdempotencyKey,
		DistanceKm:     q.distanceKm,
	}
	if loc, ok := deliveryOf(req.Mode); ok {
		o.Customer.Address = loc.Address
		o.Customer.Lat, o.Customer.Lng = loc.Lat, loc.Lng
	}
	if d.tab != nil {
		o.DineInTabID = d.tab.TabID
		o.TableID = d.tab.TableID
	}

	switch d.method {
	case orders.MethodOnline:
		o.Status, o.PaymentStatus = orders.StatusAwaitingPayment, orders.PaymentAwaiting
	case orders.MethodSplit:
		// items wait on the split session until every share is paid
		o.Status, o.PaymentStatus = orders.StatusAwaitingPayment, orders.PaymentAwaiting
		o.Items, o.Totals = nil, pricing.Totals{}
	case orders.MethodCOD:
		o.Status, o.PaymentStatus = orders.StatusPending, orders.PaymentPending
	case orders.MethodCounter:
		o.Status, o.PaymentStatus = orders.StatusPayAtCounter, orders.PaymentPending
	}
	d.order = o
	return d, nil
}

func notOffered(biz *catalog.Business, what string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeModeNotSupported,
		fmt.Sprintf("%s does not offer %s", biz.Name, what))
}

// checkout creates the gateway side of the order. It runs outside any
// transaction and, when an earlier attempt may have reached the gateway,
// reuses that attempt's gateway order instead of minting another.
func (p *Pipeline) checkout(ctx context.Context, d *draft) error {
	if d.addOn != nil {
		base, err := p.Orders.Get(ctx, d.addOn.BaseOrderID)
		if err != nil {
			return err
		}
		if err := checkAddOnBase(base, d.businessID); err != nil {
			return err
		}
	}

	switch {
	case d.shares > 0:
		s, err := p.Splits.Plan(ctx, split.CreateRequest{
			SessionID:     "split-" + d.res.OrderID,
			BaseOrderID:   d.res.OrderID,
			SplitCount:    d.shares,
			Gateway:       d.gateway,
			TotalAmount:   d.quote.totals.Total,
			PendingItems:  d.quote.items,
			PendingTotals: d.quote.totals,
			Recover:       d.res.Recovering,
		})
		if err != nil {
			return err
		}
		d.session = s

	case d.charges():
		link := gateway.Link{OrderID: d.res.OrderID, Type: gateway.LinkRegular}
		if d.addOn != nil {
			link = gateway.Link{OrderID: d.addOn.BaseOrderID, Type: gateway.LinkAddOn, AddOnID: d.res.OrderID}
		}
		gwOrder, err := p.gatewayOrder(ctx, d, link)
		if err != nil {
			return err
		}
		d.gwOrder = gwOrder
		if err := p.Guard.RecordGatewayOrder(ctx, d.res, gwOrder.ID); err != nil {
			p.logger.Warn("record gateway order on idempotency key",
				zap.String("idempotency_key", d.res.Key),
				zap.String("gateway_order_id", gwOrder.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) gatewayOrder(ctx context.Context, d *draft, link gateway.Link) (*gateway.Order, error) {
	gw, err := p.Gateways.Get(d.gateway)
	if err != nil {
		return nil, err
	}
	amount := d.quote.totals.Total

	if d.res.Recovering {
		var prev *gateway.Order
		if d.res.PreviousGatewayOrderID != "" {
			prev, err = gw.FetchOrder(ctx, d.res.PreviousGatewayOrderID)
		} else {
			prev, err = gw.FindOrderByReceipt(ctx, d.res.OrderID)
		}
		if err != nil {
			return nil, apperr.Gateway(string(gw.Name()), err)
		}
		if prev != nil && prev.Amount == amount && prev.State != gateway.OrderFailed {
			p.logger.Info("reusing gateway order from earlier attempt",
				zap.String("idempotency_key", d.res.Key),
				zap.String("gateway", string(gw.Name())),
				zap.String("gateway_order_id", prev.ID))
			return prev, nil
		}
	}

	o, err := gw.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   amount,
		Receipt:  d.res.OrderID,
		Link:     link,
		Metadata: map[string]string{"business_id": d.businessID},
	})
	if err != nil {
		return nil, apperr.Gateway(string(gw.Name()), err)
	}
	return o, nil
}

func checkAddOnBase(base *orders.Order, businessID string) error {
	if base.BusinessID != businessID {
		return apperr.NotFound("order", base.OrderID)
	}
	if !orders.IsOpen(base.Status) {
		return apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("order %s is %s and no longer takes add-ons", base.OrderID, base.Status))
	}
	return nil
}

// persist writes the order, its tab token, its split session and the
// completed idempotency key in one transaction.
func (p *Pipeline) persist(ctx context.Context, d *draft) (*idempotency.Response, error) {
	var resp idempotency.Response
	err := p.Runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		now := p.nowFunc().UTC()
		rec, err := p.Guard.Claim(ctx, tx, d.res)
		if err != nil {
			return err
		}
		if d.addOn != nil {
			resp, err = p.persistAddOn(ctx, tx, d, now)
		} else {
			resp, err = p.persistOrder(ctx, tx, d, now)
		}
		if err != nil {
			return err
		}
		return p.Guard.Complete(tx, rec, resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pipeline) persistOrder(ctx context.Context, tx *store.Txn, d *draft, now time.Time) (idempotency.Response, error) {
	o := *d.order
	o.CreatedAt, o.UpdatedAt = now, now
	o.StatusHistory = []orders.StatusChange{{Status: o.Status, At: now, Actor: "customer", Note: "order placed"}}
	if d.gwOrder != nil {
		o.GatewayOrderID = d.gwOrder.ID
	}
	if d.session != nil {
		o.SplitSessionID = d.session.SessionID
	}

	if d.tab != nil {
		alloc, err := p.Tabs.AllocateOrReuse(ctx, tx, o.BusinessID, d.tab.TabID, d.tab.TableID, o.OrderID, d.quote.totals.Total)
		if err != nil {
			return idempotency.Response{}, err
		}
		o.DineInToken = alloc.Token
	}
	if err := p.Orders.TxCreate(tx, &o); err != nil {
		return idempotency.Response{}, err
	}
	if d.session != nil {
		s := *d.session
		s.CreatedAt, s.UpdatedAt = now, now
		if err := p.Splits.TxCreate(tx, &s); err != nil {
			return idempotency.Response{}, err
		}
	}

	resp := idempotency.Response{
		OrderID:        o.OrderID,
		TrackingToken:  o.TrackingToken,
		Status:         string(o.Status),
		Amount:         d.quote.totals.Total,
		Gateway:        o.Gateway,
		GatewayOrderID: o.GatewayOrderID,
		DineInToken:    o.DineInToken,
		SplitSessionID: o.SplitSessionID,
	}
	if d.gwOrder != nil {
		resp.CheckoutURL = d.gwOrder.CheckoutURL
		resp.ClientSecret = d.gwOrder.ClientSecret
	}
	return resp, nil
}

func (p *Pipeline) persistAddOn(ctx context.Context, tx *store.Txn, d *draft, now time.Time) (idempotency.Response, error) {
	base, found, err := p.Orders.TxGet(ctx, tx, d.addOn.BaseOrderID)
	if err != nil {
		return idempotency.Response{}, err
	}
	if !found {
		return idempotency.Response{}, apperr.NotFound("order", d.addOn.BaseOrderID)
	}
	if err := checkAddOnBase(base, d.businessID); err != nil {
		return idempotency.Response{}, err
	}

	resp := idempotency.Response{
		OrderID:       base.OrderID,
		TrackingToken: base.TrackingToken,
		Amount:        d.quote.totals.Total,
		DineInToken:   base.DineInToken,
		AddOnID:       d.res.OrderID,
	}
	if d.gwOrder != nil {
		base.PendingAddOns = append(base.PendingAddOns, orders.PendingAddOn{
			AddOnID:        d.res.OrderID,
			Items:          d.quote.items,
			Totals:         d.quote.totals,
			Gateway:        string(d.gateway),
			GatewayOrderID: d.gwOrder.ID,
			CreatedAt:      now,
		})
		base.UpdatedAt = now
		resp.Gateway = string(d.gateway)
		resp.GatewayOrderID = d.gwOrder.ID
		resp.CheckoutURL = d.gwOrder.CheckoutURL
		resp.ClientSecret = d.gwOrder.ClientSecret
	} else {
		orders.MergeItems(base, d.quote.items, d.quote.totals, now)
	}
	resp.Status = string(base.Status)
	if err := p.Orders.TxPut(tx, base); err != nil {
		return idempotency.Response{}, err
	}
	return resp, nil
}

func (p *Pipeline) notify(ctx context.Context, ev notify.Event) {
	ev.At = p.nowFunc().UTC()
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn("publish order event", zap.String("type", ev.Type), zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}

func (p *Pipeline) count(ctx context.Context, metric, businessID string) {
	if p.metrics == nil {
		return
	}
	if err := p.metrics.RecordCount(ctx, metric, map[string]string{"BusinessId": businessID}); err != nil {
		p.logger.Debug("record metric", zap.String("metric", metric), zap.Error(err))
	}
}
