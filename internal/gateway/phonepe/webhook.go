package phonepe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

type callback struct {
	Event   string `json:"event"`
	Payload struct {
		orderStatus
		MerchantRefundID        string `json:"merchantRefundId"`
		RefundID                string `json:"refundId"`
		OriginalMerchantOrderID string `json:"originalMerchantOrderId"`
	} `json:"payload"`
}

// Verify checks the Authorization header, which carries SHA256(username:password)
// of the configured callback credentials.
func (c *Client) Verify(header http.Header, _ []byte) error {
	auth := header.Get("Authorization")
	if auth == "" {
		return gateway.ErrSignature(gateway.PhonePe, "missing authorization header")
	}
	if !gateway.VerifyBasicDigest(auth, c.cfg.WebhookUsername, c.cfg.WebhookPassword) {
		return gateway.ErrSignature(gateway.PhonePe, "authorization mismatch")
	}
	return nil
}

func (c *Client) Parse(body []byte) ([]gateway.Event, error) {
	var cb callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode phonepe callback: %w", err)
	}
	p := cb.Payload

	switch cb.Event {
	case "checkout.order.completed":
		paymentID := p.completedTxn()
		if paymentID == "" {
			paymentID = p.OrderID
		}
		return []gateway.Event{{
			Kind:           gateway.PaymentCaptured,
			Gateway:        gateway.PhonePe,
			EventID:        cb.Event + ":" + p.MerchantOrderID,
			PaymentID:      paymentID,
			GatewayOrderID: p.MerchantOrderID,
			Amount:         money.Paise(p.Amount),
			Link:           p.MetaInfo.link(),
		}}, nil

	case "checkout.order.failed":
		reason := p.ErrorCode
		var paymentID string
		if n := len(p.PaymentDetails); n > 0 {
			last := p.PaymentDetails[n-1]
			paymentID = last.TransactionID
			if last.DetailedErrorCode != "" {
				reason = last.DetailedErrorCode
			} else if last.ErrorCode != "" {
				reason = last.ErrorCode
			}
		}
		if paymentID == "" {
			paymentID = p.OrderID
		}
		return []gateway.Event{{
			Kind:           gateway.PaymentFailed,
			Gateway:        gateway.PhonePe,
			EventID:        cb.Event + ":" + p.MerchantOrderID,
			PaymentID:      paymentID,
			GatewayOrderID: p.MerchantOrderID,
			Amount:         money.Paise(p.Amount),
			Link:           p.MetaInfo.link(),
			FailureReason:  reason,
		}}, nil

	case "pg.refund.completed", "pg.refund.failed":
		orderID := p.OriginalMerchantOrderID
		if orderID == "" {
			orderID, _, _ = strings.Cut(p.MerchantRefundID, "_R")
		}
		ev := gateway.Event{
			Kind:           gateway.RefundCompleted,
			Gateway:        gateway.PhonePe,
			EventID:        cb.Event + ":" + p.MerchantRefundID,
			PaymentID:      p.RefundID,
			GatewayOrderID: orderID,
			RefundID:       p.MerchantRefundID,
			Amount:         money.Paise(p.Amount),
			Link:           gateway.Link{OrderID: orderID},
		}
		if cb.Event == "pg.refund.failed" {
			ev.Kind = gateway.RefundFailed
		}
		return []gateway.Event{ev}, nil
	}
	return nil, nil
}
