// Package stripe adapts Stripe PaymentIntents. The intent id is the gateway
// order id and the link travels in intent metadata.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

const (
	SignatureHeader = "Stripe-Signature"
	metaReceipt     = "receipt"
	currencyINR     = "inr"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Backends overrides the API endpoints, mainly for tests.
	Backends *stripego.Backends
}

type Client struct {
	api           *client.API
	webhookSecret string
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	return &Client{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (c *Client) Name() gateway.Name { return gateway.Stripe }

func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(int64(req.Amount)),
		Currency: stripego.String(currencyINR),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("pi-" + req.Receipt)
	params.AddMetadata(metaReceipt, req.Receipt)
	for k, v := range req.Link.Metadata() {
		params.AddMetadata(k, v)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return toOrder(pi), nil
}

func (c *Client) FetchOrder(ctx context.Context, id string) (*gateway.Order, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get payment intent: %w", err)
	}
	return toOrder(pi), nil
}

func (c *Client) FindOrderByReceipt(ctx context.Context, receipt string) (*gateway.Order, error) {
	params := &stripego.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metaReceipt, receipt)
	iter := c.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		if pi.Metadata[metaReceipt] == receipt {
			return toOrder(pi), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe search payment intents: %w", err)
	}
	return nil, nil
}

// CreateRefund refunds a payment intent. req.Key becomes the Stripe
// idempotency key, so a retried call returns the original refund.
func (c *Client) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	pi, err := c.FetchOrder(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.GatewayOrderID),
		Amount:        stripego.Int64(int64(req.Amount)),
	}
	params.Context = ctx
	if req.Key != "" {
		params.SetIdempotencyKey(req.Key)
	}
	for k, v := range pi.Link.Metadata() {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create refund: %w", err)
	}
	return &gateway.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func toOrder(pi *stripego.PaymentIntent) *gateway.Order {
	o := &gateway.Order{
		ID:           pi.ID,
		Receipt:      pi.Metadata[metaReceipt],
		Amount:       money.Paise(pi.Amount),
		Link:         gateway.LinkFromMetadata(pi.Metadata),
		ClientSecret: pi.ClientSecret,
	}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		o.State = gateway.OrderPaid
		o.PaymentID = pi.ID
	case stripego.PaymentIntentStatusCanceled:
		o.State = gateway.OrderFailed
	case stripego.PaymentIntentStatusProcessing, stripego.PaymentIntentStatusRequiresAction:
		o.State = gateway.OrderAttempted
	default:
		o.State = gateway.OrderCreated
		if pi.LastPaymentError != nil {
			o.State = gateway.OrderAttempted
		}
	}
	return o
}

func (c *Client) Verify(header http.Header, body []byte) error {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return gateway.ErrSignature(gateway.Stripe, "missing signature header")
	}
	if _, err := c.construct(body, sig); err != nil {
		return gateway.ErrSignature(gateway.Stripe, err.Error())
	}
	return nil
}

func (c *Client) construct(body []byte, sig string) (stripego.Event, error) {
	return webhook.ConstructEventWithOptions(body, sig, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// Parse decodes an already verified event body.
func (c *Client) Parse(body []byte) ([]gateway.Event, error) {
	var ev stripego.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("stripe event %s: missing data", ev.ID)
	}

	switch string(ev.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out := gateway.Event{
			Kind:           gateway.PaymentCaptured,
			Gateway:        gateway.Stripe,
			EventID:        ev.ID,
			PaymentID:      pi.ID,
			GatewayOrderID: pi.ID,
			Amount:         money.Paise(pi.Amount),
			Link:           gateway.LinkFromMetadata(pi.Metadata),
		}
		if pi.AmountReceived > 0 {
			out.Amount = money.Paise(pi.AmountReceived)
		}
		if ev.Type == "payment_intent.payment_failed" {
			out.Kind = gateway.PaymentFailed
			out.Amount = money.Paise(pi.Amount)
			if pi.LastPaymentError != nil {
				out.FailureReason = pi.LastPaymentError.Msg
			}
		}
		return []gateway.Event{out}, nil

	case "charge.refunded":
		var ch stripego.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out := gateway.Event{
			Kind:     gateway.RefundCompleted,
			Gateway:  gateway.Stripe,
			EventID:  ev.ID,
			RefundID: ch.ID,
			Amount:   money.Paise(ch.AmountRefunded),
			Link:     gateway.LinkFromMetadata(ch.Metadata),
		}
		if ch.PaymentIntent != nil {
			out.PaymentID = ch.PaymentIntent.ID
			out.GatewayOrderID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			r := ch.Refunds.Data[0]
			out.RefundID = r.ID
			if out.Link.Empty() {
				out.Link = gateway.LinkFromMetadata(r.Metadata)
			}
		}
		return []gateway.Event{out}, nil

	case "refund.failed", "refund.updated":
		var r stripego.Refund
		if err := json.Unmarshal(ev.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("decode refund: %w", err)
		}
		var kind gateway.EventKind
		switch r.Status {
		case stripego.RefundStatusFailed, stripego.RefundStatusCanceled:
			kind = gateway.RefundFailed
		case stripego.RefundStatusSucceeded:
			kind = gateway.RefundCompleted
		default:
			return nil, nil
		}
		out := gateway.Event{
			Kind:          kind,
			Gateway:       gateway.Stripe,
			EventID:       ev.ID,
			RefundID:      r.ID,
			Amount:        money.Paise(r.Amount),
			Link:          gateway.LinkFromMetadata(r.Metadata),
			FailureReason: string(r.FailureReason),
		}
		if r.PaymentIntent != nil {
			out.PaymentID = r.PaymentIntent.ID
			out.GatewayOrderID = r.PaymentIntent.ID
		}
		return []gateway.Event{out}, nil
	}
	return nil, nil
}
