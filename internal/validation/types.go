package validation

import "github.com/imrishuroy/marketplace-orderflow/internal/money"

// LineItem is one requested menu line. UnitPrice only helps pick a portion.
type LineItem struct {
	ItemID     string      `json:"itemId" validate:"required"`
	CategoryID string      `json:"categoryId,omitempty"`
	Portion    string      `json:"portion,omitempty"`
	Quantity   int         `json:"quantity" validate:"required,min=1,max=100"`
	UnitPrice  money.Paise `json:"unitPrice,omitempty" validate:"gte=0"`
	AddOns     []string    `json:"addOns,omitempty" validate:"dive,required"`
	Notes      string      `json:"notes,omitempty" validate:"max=500"`
}

type Customer struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone" validate:"required,e164"`
}

type Location struct {
	Address string  `json:"address" validate:"required,max=300"`
	Lat     float64 `json:"lat" validate:"required,latitude"`
	Lng     float64 `json:"lng" validate:"required,longitude"`
}

// CreateOrderRequest is the payload for POST /orders. The idempotency key may
// also arrive in the Idempotency-Key header.
type CreateOrderRequest struct {
	IdempotencyKey string      `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
	BusinessID     string      `json:"businessId" validate:"required"`
	Customer       *Customer   `json:"customer,omitempty"`
	Items          []LineItem  `json:"items" validate:"required,min=1,max=50,dive"`
	Subtotal       money.Paise `json:"subtotal" validate:"gt=0"`
	OrderType      string      `json:"orderType" validate:"required,oneof=delivery pickup dine_in addon"`
	PaymentMethod  string      `json:"paymentMethod" validate:"required,oneof=online cod pay_at_counter split"`
	Gateway        string      `json:"gateway,omitempty" validate:"omitempty,oneof=razorpay phonepe stripe"`
	Delivery       *Location   `json:"delivery,omitempty"`
	DineInTabID    string      `json:"dineInTabId,omitempty"`
	TableID        string      `json:"tableId,omitempty"`
	BaseOrderID    string      `json:"baseOrderId,omitempty"`
	SplitCount     int         `json:"splitCount,omitempty" validate:"omitempty,min=2,max=20"`
}

// StatusUpdateRequest is the payload for PATCH /orders/:id/status.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,order_status"`
	Actor  string `json:"actor" validate:"required,max=64"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

// RefundRequest is the payload for POST /orders/:id/refund. A zero amount
// refunds everything paid.
type RefundRequest struct {
	Amount money.Paise `json:"amount,omitempty" validate:"gte=0"`
	Reason string      `json:"reason" validate:"required,max=200"`
}

// SplitRequest is the payload for POST /payments/split.
type SplitRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	SplitCount int    `json:"splitCount" validate:"required,min=2,max=20"`
	Gateway    string `json:"gateway,omitempty" validate:"omitempty,oneof=razorpay phonepe stripe"`
}
