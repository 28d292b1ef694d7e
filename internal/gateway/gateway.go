// Package gateway normalizes payment providers behind one client interface and
// one webhook event shape.
package gateway

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

type Name string

const (
	Razorpay Name = "razorpay"
	PhonePe  Name = "phonepe"
	Stripe   Name = "stripe"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	PaymentCaptured EventKind = iota + 1
	PaymentFailed
	RefundCompleted
	RefundFailed
)

func (k EventKind) String() string {
	switch k {
	case PaymentCaptured:
		return "payment_captured"
	case PaymentFailed:
		return "payment_failed"
	case RefundCompleted:
		return "refund_completed"
	case RefundFailed:
		return "refund_failed"
	}
	return "unknown"
}

// Payment metadata keys written on every gateway order.
const (
	MetaOrderID        = "order_id"
	MetaSplitSessionID = "split_session_id"
	MetaType           = "type"
	MetaAddOnID        = "addon_id"
	MetaShareIndex     = "share_index"
)

// Link types carried in MetaType.
const (
	LinkRegular      = "regular"
	LinkAddOn        = "addon"
	LinkSplit        = "split"
	LinkPayRemaining = "pay_remaining"
)

// Link is the order-linkage hint embedded in a payment's metadata.
type Link struct {
	OrderID        string
	SplitSessionID string
	Type           string
	AddOnID        string
	ShareIndex     int
}

func (l Link) Empty() bool { return l.OrderID == "" && l.SplitSessionID == "" }

// Metadata renders l as gateway metadata.
func (l Link) Metadata() map[string]string {
	m := map[string]string{}
	if l.OrderID != "" {
		m[MetaOrderID] = l.OrderID
	}
	if l.SplitSessionID != "" {
		m[MetaSplitSessionID] = l.SplitSessionID
	}
	if l.Type != "" {
		m[MetaType] = l.Type
	}
	if l.AddOnID != "" {
		m[MetaAddOnID] = l.AddOnID
	}
	if l.SplitSessionID != "" && l.Type == LinkSplit {
		m[MetaShareIndex] = strconv.Itoa(l.ShareIndex)
	}
	return m
}

// LinkFromMetadata parses gateway metadata written by Link.Metadata.
func LinkFromMetadata(m map[string]string) Link {
	l := Link{
		OrderID:        m[MetaOrderID],
		SplitSessionID: m[MetaSplitSessionID],
		Type:           m[MetaType],
		AddOnID:        m[MetaAddOnID],
	}
	if v, err := strconv.Atoi(m[MetaShareIndex]); err == nil {
		l.ShareIndex = v
	}
	return l
}

// Event is a normalized webhook event.
type Event struct {
	Kind           EventKind
	Gateway        Name
	EventID        string
	PaymentID      string
	GatewayOrderID string
	RefundID       string
	Amount         money.Paise
	Link           Link
	FailureReason  string
}

type OrderState string

const (
	OrderCreated   OrderState = "created"
	OrderAttempted OrderState = "attempted"
	OrderPaid      OrderState = "paid"
	OrderFailed    OrderState = "failed"
)

type CreateOrderRequest struct {
	Amount   money.Paise
	Receipt  string
	Link     Link
	Metadata map[string]string
}

// Order is the gateway's view of a payable order.
type Order struct {
	ID        string
	Receipt   string
	Amount    money.Paise
	State     OrderState
	Link      Link
	PaymentID string
	// CheckoutURL is set by redirect-based gateways.
	CheckoutURL string
	// ClientSecret is set by gateways confirmed client-side.
	ClientSecret string
}

// RefundRequest refunds the captured payment of GatewayOrderID. Key is stable
// across retries of the same refund and is forwarded as the gateway's
// idempotency key or refund reference.
type RefundRequest struct {
	GatewayOrderID string
	Amount         money.Paise
	Reason         string
	Key            string
}

type Refund struct {
	ID     string
	Status string
}

// Client calls a gateway's REST API. None of these calls are transactional.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, gatewayOrderID string) (*Order, error)
	// FindOrderByReceipt returns (nil, nil) when no order carries receipt.
	FindOrderByReceipt(ctx context.Context, receipt string) (*Order, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// WebhookAdapter authenticates and parses inbound webhooks. Parse returns no
// events for deliveries that are intentionally ignored.
type WebhookAdapter interface {
	Verify(header http.Header, body []byte) error
	Parse(body []byte) ([]Event, error)
}

type Gateway interface {
	Name() Name
	Client
	WebhookAdapter
}

// Registry holds configured gateways by name.
type Registry struct {
	gateways map[Name]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: map[Name]Gateway{}}
	for _, g := range gws {
		if g != nil {
			r.gateways[g.Name()] = g
		}
	}
	return r
}

func (r *Registry) Get(name Name) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeGatewayNotAvailable, "payment gateway "+string(name)+" is not configured")
	}
	return g, nil
}

// Names lists configured gateways in a stable order.
func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.gateways))
	for n := range r.gateways {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
