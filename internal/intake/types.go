package intake

import (
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
)

const maxKeyLength = 128

// Request is one order submission. ClientSubtotal is only compared against
// the server price and never stored.
type Request struct {
	IdempotencyKey string
	BusinessID     string
	Customer       orders.Customer
	Items          []pricing.LineItem
	ClientSubtotal money.Paise
	Mode           OrderMode
	PaymentMethod  orders.PaymentMethod
	Gateway        gateway.Name
}

// Result is the answer to a submission. Duplicate submissions receive the
// first Response unchanged.
type Result struct {
	idempotency.Response
	Duplicate bool
}

type quote struct {
	items      []pricing.Item
	totals     pricing.Totals
	distanceKm float64
}

// draft is everything persist needs. checkout fills gwOrder or session.
type draft struct {
	res        *idempotency.Reservation
	businessID string
	quote      quote
	method     orders.PaymentMethod
	gateway    gateway.Name
	shares     int

	order *orders.Order
	addOn *AddOn
	tab   *DineIn

	gwOrder *gateway.Order
	session *split.Session
}

// charges reports whether the submission creates gateway orders.
func (d *draft) charges() bool {
	return d.method == orders.MethodOnline || d.method == orders.MethodSplit
}
