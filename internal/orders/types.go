package orders

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusAwaitingPayment   Status = "awaiting_payment"
	StatusPayAtCounter      Status = "pay_at_counter"
	StatusConfirmed         Status = "confirmed"
	StatusPreparing         Status = "preparing"
	StatusReady             Status = "ready"
	StatusReadyForPickup    Status = "ready_for_pickup"
	StatusDispatched        Status = "dispatched"
	StatusOnTheWay          Status = "on_the_way"
	StatusReachedRestaurant Status = "reached_restaurant"
	StatusPickedUp          Status = "picked_up"
	StatusDelivered         Status = "delivered"
	StatusRejected          Status = "rejected"
	StatusCancelled         Status = "cancelled"
	StatusServed            Status = "served"
	StatusPaid              Status = "paid"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentAwaiting      PaymentStatus = "awaiting_payment"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
)

type RefundStatus string

const (
	// RefundRequested holds the order while the gateway call is in flight.
	RefundRequested RefundStatus = "requested"
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Mode is how the order reaches the customer.
type Mode string

const (
	ModeDelivery Mode = "delivery"
	ModePickup   Mode = "pickup"
	ModeDineIn   Mode = "dine_in"
)

type PaymentMethod string

const (
	MethodOnline  PaymentMethod = "online"
	MethodCOD     PaymentMethod = "cod"
	MethodCounter PaymentMethod = "pay_at_counter"
	MethodSplit   PaymentMethod = "split"
)

// PaymentType classifies a settlement in the payment ledger.
type PaymentType string

const (
	PaymentRegular      PaymentType = "regular"
	PaymentSplit        PaymentType = "split"
	PaymentAddOn        PaymentType = "addon"
	PaymentPayRemaining PaymentType = "pay_remaining"
	PaymentOverpayment  PaymentType = "overpayment"
)

// PaymentEntry is one settlement. The ledger is append-only.
type PaymentEntry struct {
	PaymentID      string      `dynamodbav:"payment_id" json:"paymentId"`
	Gateway        string      `dynamodbav:"gateway" json:"gateway"`
	GatewayOrderID string      `dynamodbav:"gateway_order_id" json:"gatewayOrderId"`
	Amount         money.Paise `dynamodbav:"amount" json:"amount"`
	Type           PaymentType `dynamodbav:"type" json:"type"`
	SplitSessionID string      `dynamodbav:"split_session_id,omitempty" json:"splitSessionId,omitempty"`
	ShareIndex     int         `dynamodbav:"share_index,omitempty" json:"shareIndex,omitempty"`
	AddOnID        string      `dynamodbav:"addon_id,omitempty" json:"addOnId,omitempty"`
	RecordedAt     time.Time   `dynamodbav:"recorded_at" json:"recordedAt"`
}

type StatusChange struct {
	Status Status    `dynamodbav:"status" json:"status"`
	At     time.Time `dynamodbav:"at" json:"at"`
	Actor  string    `dynamodbav:"actor" json:"actor"`
	Note   string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
}

type Customer struct {
	Name    string  `dynamodbav:"name" json:"name"`
	Phone   string  `dynamodbav:"phone" json:"phone"`
	Address string  `dynamodbav:"address,omitempty" json:"address,omitempty"`
	Lat     float64 `dynamodbav:"lat,omitempty" json:"lat,omitempty"`
	Lng     float64 `dynamodbav:"lng,omitempty" json:"lng,omitempty"`
}

// PendingAddOn holds add-on items paid online. They join the order only once
// the payment is captured.
type PendingAddOn struct {
	AddOnID        string         `dynamodbav:"addon_id" json:"addOnId"`
	Items          []pricing.Item `dynamodbav:"items" json:"items"`
	Totals         pricing.Totals `dynamodbav:"totals" json:"totals"`
	Gateway        string         `dynamodbav:"gateway" json:"gateway"`
	GatewayOrderID string         `dynamodbav:"gateway_order_id" json:"gatewayOrderId"`
	Merged         bool           `dynamodbav:"merged" json:"merged"`
	CreatedAt      time.Time      `dynamodbav:"created_at" json:"createdAt"`
}

// Order is the order document. Totals always hold the last server-computed bill.
type Order struct {
	OrderID       string        `dynamodbav:"order_id" json:"orderId"`
	BusinessID    string        `dynamodbav:"business_id" json:"businessId"`
	Customer      Customer      `dynamodbav:"customer" json:"customer"`
	Mode          Mode          `dynamodbav:"mode" json:"mode"`
	PaymentMethod PaymentMethod `dynamodbav:"payment_method" json:"paymentMethod"`
	Gateway       string        `dynamodbav:"gateway,omitempty" json:"gateway,omitempty"`

	Status        Status        `dynamodbav:"status" json:"status"`
	PaymentStatus PaymentStatus `dynamodbav:"payment_status" json:"paymentStatus"`
	RefundStatus  RefundStatus  `dynamodbav:"refund_status,omitempty" json:"refundStatus,omitempty"`
	RefundID      string        `dynamodbav:"refund_id,omitempty" json:"refundId,omitempty"`
	RefundAmount  money.Paise   `dynamodbav:"refund_amount,omitempty" json:"refundAmount,omitempty"`
	RefundKey     string        `dynamodbav:"refund_key,omitempty" json:"-"`
	RefundSeq     int           `dynamodbav:"refund_seq,omitempty" json:"-"`
	FailureReason string        `dynamodbav:"failure_reason,omitempty" json:"failureReason,omitempty"`

	Items []pricing.Item `dynamodbav:"items" json:"items"`
	pricing.Totals

	PaymentDetails []PaymentEntry `dynamodbav:"payment_details" json:"paymentDetails"`
	StatusHistory  []StatusChange `dynamodbav:"status_history" json:"statusHistory"`
	PendingAddOns  []PendingAddOn `dynamodbav:"pending_addons,omitempty" json:"pendingAddOns,omitempty"`

	TrackingToken  string  `dynamodbav:"tracking_token" json:"trackingToken"`
	DineInToken    string  `dynamodbav:"dine_in_token,omitempty" json:"dineInToken,omitempty"`
	DineInTabID    string  `dynamodbav:"dine_in_tab_id,omitempty" json:"dineInTabId,omitempty"`
	TableID        string  `dynamodbav:"table_id,omitempty" json:"tableId,omitempty"`
	GatewayOrderID string  `dynamodbav:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	SplitSessionID string  `dynamodbav:"split_session_id,omitempty" json:"splitSessionId,omitempty"`
	IdempotencyKey string  `dynamodbav:"idempotency_key" json:"-"`
	DistanceKm     float64 `dynamodbav:"distance_km,omitempty" json:"distanceKm,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// PaidAmount sums the payment ledger.
func (o *Order) PaidAmount() money.Paise {
	var sum money.Paise
	for _, p := range o.PaymentDetails {
		sum += p.Amount
	}
	return sum
}

// HasPayment reports whether paymentID is already in the ledger.
func (o *Order) HasPayment(paymentID string) bool {
	for _, p := range o.PaymentDetails {
		if p.PaymentID == paymentID {
			return true
		}
	}
	return false
}

func (o *Order) hasEntry(paymentID string, shareIndex int) bool {
	for _, p := range o.PaymentDetails {
		if p.PaymentID == paymentID && p.ShareIndex == shareIndex {
			return true
		}
	}
	return false
}

// PendingAddOn returns the unmerged add-on staged for gatewayOrderID or addOnID.
func (o *Order) PendingAddOn(addOnID, gatewayOrderID string) (*PendingAddOn, bool) {
	for i := range o.PendingAddOns {
		a := &o.PendingAddOns[i]
		if a.Merged {
			continue
		}
		if (addOnID != "" && a.AddOnID == addOnID) || (gatewayOrderID != "" && a.GatewayOrderID == gatewayOrderID) {
			return a, true
		}
	}
	return nil, false
}
