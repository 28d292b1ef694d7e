package split

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type ShareStatus string

const (
	SharePending ShareStatus = "pending"
	SharePaid    ShareStatus = "paid"
)

// Share is one payer's portion, backed by its own gateway order.
type Share struct {
	Index          int         `dynamodbav:"index" json:"index"`
	Amount         money.Paise `dynamodbav:"amount" json:"amount"`
	Status         ShareStatus `dynamodbav:"status" json:"status"`
	GatewayOrderID string      `dynamodbav:"gateway_order_id" json:"gatewayOrderId"`
	CheckoutURL    string      `dynamodbav:"checkout_url,omitempty" json:"checkoutUrl,omitempty"`
	ClientSecret   string      `dynamodbav:"client_secret,omitempty" json:"clientSecret,omitempty"`
	PaymentID      string      `dynamodbav:"payment_id,omitempty" json:"paymentId,omitempty"`
	PaidAt         *time.Time  `dynamodbav:"paid_at,omitempty" json:"paidAt,omitempty"`
}

// RemainingOrder is a gateway order covering every share unpaid when it was made.
type RemainingOrder struct {
	GatewayOrderID string      `dynamodbav:"gateway_order_id" json:"gatewayOrderId"`
	Amount         money.Paise `dynamodbav:"amount" json:"amount"`
	CheckoutURL    string      `dynamodbav:"checkout_url,omitempty" json:"checkoutUrl,omitempty"`
	ClientSecret   string      `dynamodbav:"client_secret,omitempty" json:"clientSecret,omitempty"`
	CreatedAt      time.Time   `dynamodbav:"created_at" json:"createdAt"`
}

// Session is a split bill over a base order. PendingItems join the base order
// once, when the last share is paid.
type Session struct {
	SessionID       string           `dynamodbav:"session_id" json:"sessionId"`
	BaseOrderID     string           `dynamodbav:"base_order_id" json:"baseOrderId"`
	Gateway         string           `dynamodbav:"gateway" json:"gateway"`
	TotalAmount     money.Paise      `dynamodbav:"total_amount" json:"totalAmount"`
	SplitCount      int              `dynamodbav:"split_count" json:"splitCount"`
	Shares          []Share          `dynamodbav:"shares" json:"shares"`
	RemainingOrders []RemainingOrder `dynamodbav:"remaining_orders,omitempty" json:"remainingOrders,omitempty"`
	Status          Status           `dynamodbav:"status" json:"status"`
	PendingItems    []pricing.Item   `dynamodbav:"pending_items,omitempty" json:"pendingItems,omitempty"`
	PendingTotals   pricing.Totals   `dynamodbav:"pending_totals" json:"pendingTotals"`
	Merged          bool             `dynamodbav:"merged" json:"merged"`
	CreatedAt       time.Time        `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       time.Time        `dynamodbav:"updated_at" json:"updatedAt"`
	CompletedAt     *time.Time       `dynamodbav:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// PaidCount counts settled shares.
func (s *Session) PaidCount() int {
	n := 0
	for _, sh := range s.Shares {
		if sh.Status == SharePaid {
			n++
		}
	}
	return n
}

// Unpaid returns the amount still owed and the indexes of unpaid shares.
func (s *Session) Unpaid() (money.Paise, []int) {
	var sum money.Paise
	var idx []int
	for _, sh := range s.Shares {
		if sh.Status != SharePaid {
			sum += sh.Amount
			idx = append(idx, sh.Index)
		}
	}
	return sum, idx
}

func (s *Session) shareByGatewayOrder(id string) *Share {
	if id == "" {
		return nil
	}
	for i := range s.Shares {
		if s.Shares[i].GatewayOrderID == id {
			return &s.Shares[i]
		}
	}
	return nil
}

func (s *Session) isRemainingOrder(id string) bool {
	for _, r := range s.RemainingOrders {
		if id != "" && r.GatewayOrderID == id {
			return true
		}
	}
	return false
}

// CaptureResult describes what a captured share payment changed.
type CaptureResult struct {
	Session *Session
	// Settled lists the share indexes marked paid by this capture.
	Settled []int
	// Completed is set only on the transition into completed.
	Completed bool
	Merged    bool
	// Overpaid is captured money no unpaid share accounted for.
	Overpaid money.Paise
}
