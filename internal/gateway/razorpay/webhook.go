package razorpay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// Verify checks X-Razorpay-Signature, the hex HMAC-SHA256 of the raw body.
func (c *Client) Verify(header http.Header, body []byte) error {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return gateway.ErrSignature(gateway.Razorpay, "missing signature header")
	}
	if !gateway.VerifyHMACSHA256(body, c.cfg.WebhookSecret, sig) {
		return gateway.ErrSignature(gateway.Razorpay, "signature mismatch")
	}
	return nil
}

func (c *Client) Parse(body []byte) ([]gateway.Event, error) {
	var w webhookBody
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode razorpay webhook: %w", err)
	}

	var pay *paymentEntity
	if w.Payload.Payment != nil {
		pay = &w.Payload.Payment.Entity
	}

	switch w.Event {
	case "payment.captured", "order.paid":
		if pay == nil {
			return nil, fmt.Errorf("razorpay %s: missing payment entity", w.Event)
		}
		link := gateway.LinkFromMetadata(pay.Notes)
		if link.Empty() && w.Payload.Order != nil {
			link = gateway.LinkFromMetadata(w.Payload.Order.Entity.Notes)
		}
		return []gateway.Event{{
			Kind:           gateway.PaymentCaptured,
			Gateway:        gateway.Razorpay,
			EventID:        w.Event + ":" + pay.ID,
			PaymentID:      pay.ID,
			GatewayOrderID: pay.OrderID,
			Amount:         money.Paise(pay.Amount),
			Link:           link,
		}}, nil

	case "payment.failed":
		if pay == nil {
			return nil, fmt.Errorf("razorpay %s: missing payment entity", w.Event)
		}
		return []gateway.Event{{
			Kind:           gateway.PaymentFailed,
			Gateway:        gateway.Razorpay,
			EventID:        w.Event + ":" + pay.ID,
			PaymentID:      pay.ID,
			GatewayOrderID: pay.OrderID,
			Amount:         money.Paise(pay.Amount),
			Link:           gateway.LinkFromMetadata(pay.Notes),
			FailureReason:  pay.ErrorDescription,
		}}, nil

	case "refund.processed", "refund.failed":
		if w.Payload.Refund == nil {
			return nil, fmt.Errorf("razorpay %s: missing refund entity", w.Event)
		}
		r := w.Payload.Refund.Entity
		link := gateway.LinkFromMetadata(r.Notes)
		ev := gateway.Event{
			Kind:      gateway.RefundCompleted,
			Gateway:   gateway.Razorpay,
			EventID:   w.Event + ":" + r.ID,
			PaymentID: r.PaymentID,
			RefundID:  r.ID,
			Amount:    money.Paise(r.Amount),
		}
		if pay != nil {
			ev.GatewayOrderID = pay.OrderID
			if l := gateway.LinkFromMetadata(pay.Notes); !l.Empty() {
				link = l
			}
		}
		ev.Link = link
		if w.Event == "refund.failed" {
			ev.Kind = gateway.RefundFailed
		}
		return []gateway.Event{ev}, nil
	}
	return nil, nil
}
