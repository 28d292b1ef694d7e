package idempotency

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

const (
	StatusReserved  = "reserved"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Response is what a completed submission returned. Duplicates receive it verbatim.
type Response struct {
	OrderID        string      `dynamodbav:"order_id" json:"orderId"`
	TrackingToken  string      `dynamodbav:"tracking_token" json:"trackingToken"`
	Status         string      `dynamodbav:"status" json:"status"`
	Amount         money.Paise `dynamodbav:"amount" json:"amount"`
	Gateway        string      `dynamodbav:"gateway,omitempty" json:"gateway,omitempty"`
	GatewayOrderID string      `dynamodbav:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	CheckoutURL    string      `dynamodbav:"checkout_url,omitempty" json:"checkoutUrl,omitempty"`
	ClientSecret   string      `dynamodbav:"client_secret,omitempty" json:"clientSecret,omitempty"`
	DineInToken    string      `dynamodbav:"dine_in_token,omitempty" json:"dineInToken,omitempty"`
	SplitSessionID string      `dynamodbav:"split_session_id,omitempty" json:"splitSessionId,omitempty"`
	AddOnID        string      `dynamodbav:"addon_id,omitempty" json:"addOnId,omitempty"`
}

// Record represents an item in the idempotency table. OrderID is chosen on the
// first reservation and kept across takeovers so gateway receipts stay stable.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"`
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id"`
	GatewayOrderID string    `dynamodbav:"gateway_order_id,omitempty"`
	Response       *Response `dynamodbav:"response,omitempty"`
	Attempt        int       `dynamodbav:"attempt"`
	Note           string    `dynamodbav:"note,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"`
}

// Reservation is the outcome of Reserve.
type Reservation struct {
	Key     string
	OrderID string
	Attempt int

	// Duplicate is set when the key already completed; Response holds the original answer.
	Duplicate bool
	Response  *Response

	// Recovering is set when an earlier attempt may have created a gateway order
	// (stale reservation or failure after the gateway call). PreviousGatewayOrderID
	// is that order when the earlier attempt got far enough to record it.
	Recovering             bool
	PreviousGatewayOrderID string
}
