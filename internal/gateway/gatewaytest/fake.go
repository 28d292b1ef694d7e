// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
)

const SignatureHeader = "X-Fake-Signature"

// Fake records created orders and refunds. Webhook bodies are JSON encoded
// events signed with HMAC-SHA256 under Secret.
type Fake struct {
	name   gateway.Name
	Secret string

	mu          sync.Mutex
	seq         int
	orders      map[string]*gateway.Order
	byReceipt   map[string]string
	refunds     []gateway.Refund
	refundByKey map[string]gateway.Refund
	refundCalls []gateway.RefundRequest

	// CreateErr, when set, fails every CreateOrder call.
	CreateErr   error
	// RefundErr, when set, fails every CreateRefund call.
	RefundErr   error
	// RefundDelay holds CreateRefund before it answers.
	RefundDelay time.Duration
}

var _ gateway.Gateway = (*Fake)(nil)

func New(name gateway.Name) *Fake {
	return &Fake{
		name:        name,
		Secret:      "fake-secret",
		orders:      map[string]*gateway.Order{},
		byReceipt:   map[string]string{},
		refundByKey: map[string]gateway.Refund{},
	}
}

func (f *Fake) Name() gateway.Name { return f.name }

func (f *Fake) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	o := &gateway.Order{
		ID:      fmt.Sprintf("%s_order_%d", f.name, f.seq),
		Receipt: req.Receipt,
		Amount:  req.Amount,
		State:   gateway.OrderCreated,
		Link:    req.Link,
	}
	f.orders[o.ID] = o
	f.byReceipt[req.Receipt] = o.ID
	cp := *o
	return &cp, nil
}

func (f *Fake) FetchOrder(_ context.Context, id string) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("fake: order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (f *Fake) FindOrderByReceipt(_ context.Context, receipt string) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byReceipt[receipt]
	if !ok {
		return nil, nil
	}
	cp := *f.orders[id]
	return &cp, nil
}

// CreateRefund returns the earlier refund when req.Key was seen before.
func (f *Fake) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	if f.RefundDelay > 0 {
		time.Sleep(f.RefundDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls = append(f.refundCalls, req)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	if _, ok := f.orders[req.GatewayOrderID]; !ok {
		return nil, fmt.Errorf("fake: order %s not found", req.GatewayOrderID)
	}
	if req.Key != "" {
		if r, ok := f.refundByKey[req.Key]; ok {
			return &r, nil
		}
	}
	r := gateway.Refund{ID: fmt.Sprintf("%s_refund_%d", f.name, len(f.refunds)+1), Status: "pending"}
	f.refunds = append(f.refunds, r)
	if req.Key != "" {
		f.refundByKey[req.Key] = r
	}
	return &r, nil
}

// RefundCalls returns every CreateRefund request received.
func (f *Fake) RefundCalls() []gateway.RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.RefundRequest(nil), f.refundCalls...)
}

// RefundCount reports how many distinct refunds were created.
func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

// OrderCount reports how many gateway orders were created.
func (f *Fake) OrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// Orders returns copies of every created order.
func (f *Fake) Orders() []gateway.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Order, 0, len(f.orders))
	for i := 1; i <= f.seq; i++ {
		if o, ok := f.orders[fmt.Sprintf("%s_order_%d", f.name, i)]; ok {
			out = append(out, *o)
		}
	}
	return out
}

func (f *Fake) Verify(header http.Header, body []byte) error {
	if !gateway.VerifyHMACSHA256(body, f.Secret, header.Get(SignatureHeader)) {
		return gateway.ErrSignature(f.name, "signature mismatch")
	}
	return nil
}

func (f *Fake) Parse(body []byte) ([]gateway.Event, error) {
	var evs []gateway.Event
	if err := json.Unmarshal(body, &evs); err != nil {
		return nil, fmt.Errorf("decode fake webhook: %w", err)
	}
	for i := range evs {
		evs[i].Gateway = f.name
	}
	return evs, nil
}

// Webhook encodes events as a signed delivery.
func (f *Fake) Webhook(evs ...gateway.Event) (http.Header, []byte) {
	body, _ := json.Marshal(evs)
	h := http.Header{}
	h.Set(SignatureHeader, gateway.SignHMACSHA256(body, f.Secret))
	return h, body
}

// Captured builds a capture event for a gateway order created by f.
func (f *Fake) Captured(gatewayOrderID, paymentID string) gateway.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[gatewayOrderID]
	ev := gateway.Event{
		Kind:           gateway.PaymentCaptured,
		Gateway:        f.name,
		EventID:        "evt_" + paymentID,
		PaymentID:      paymentID,
		GatewayOrderID: gatewayOrderID,
	}
	if o != nil {
		o.State = gateway.OrderPaid
		o.PaymentID = paymentID
		ev.Amount = o.Amount
		ev.Link = o.Link
	}
	return ev
}
