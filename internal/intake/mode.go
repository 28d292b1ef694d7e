package intake

import (
	"fmt"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
)

// OrderMode selects how an order is fulfilled and settled. Delivery, Pickup,
// DineIn, AddOn and Split are its only implementations.
type OrderMode interface {
	isOrderMode()
}

// Delivery sends the order to the customer's location.
type Delivery struct {
	Address string
	Lat     float64
	Lng     float64
}

// Pickup is collected at the counter.
type Pickup struct{}

// DineIn is served at a table. Orders on the same open tab share one token.
type DineIn struct {
	TabID   string
	TableID string
}

// AddOn attaches more items to an order that is still open.
type AddOn struct {
	BaseOrderID string
}

// Split divides the bill into equal shares paid separately. Items reach the
// kitchen once every share is paid.
type Split struct {
	Shares     int
	Fulfilment OrderMode
}

func (Delivery) isOrderMode() {}
func (Pickup) isOrderMode()   {}
func (DineIn) isOrderMode()   {}
func (AddOn) isOrderMode()    {}
func (Split) isOrderMode()    {}

// fulfilment is the orders.Mode the mode persists as. Add-ons inherit theirs.
func fulfilment(m OrderMode) orders.Mode {
	switch m := m.(type) {
	case Delivery:
		return orders.ModeDelivery
	case Pickup:
		return orders.ModePickup
	case DineIn:
		return orders.ModeDineIn
	case Split:
		return fulfilment(m.Fulfilment)
	}
	return ""
}

var allowedMethods = map[orders.Mode][]orders.PaymentMethod{
	orders.ModeDelivery: {orders.MethodOnline, orders.MethodCOD},
	orders.ModePickup:   {orders.MethodOnline, orders.MethodCounter},
	orders.ModeDineIn:   {orders.MethodOnline, orders.MethodCounter},
}

func checkMode(m OrderMode, method orders.PaymentMethod) error {
	switch m := m.(type) {
	case nil:
		return apperr.Validation("order mode is required")
	case Delivery:
		if m.Lat == 0 && m.Lng == 0 {
			return apperr.Validation("delivery location is required")
		}
	case Pickup:
	case DineIn:
		if m.TabID == "" || m.TableID == "" {
			return apperr.Validation("dine-in orders need a tab and a table")
		}
	case AddOn:
		if m.BaseOrderID == "" {
			return apperr.Validation("add-on orders need a base order")
		}
		switch method {
		case orders.MethodOnline, orders.MethodCOD, orders.MethodCounter:
			return nil
		}
		return methodNotSupported(method, "add-on")
	case Split:
		if m.Shares < split.MinShares || m.Shares > split.MaxShares {
			return apperr.Validation(fmt.Sprintf("split count must be between %d and %d", split.MinShares, split.MaxShares))
		}
		switch m.Fulfilment.(type) {
		case Delivery, Pickup, DineIn:
		default:
			return apperr.Validation("split orders need a delivery, pickup or dine-in fulfilment")
		}
		if method != "" && method != orders.MethodSplit {
			return methodNotSupported(method, "split")
		}
		return checkMode(m.Fulfilment, orders.MethodOnline)
	default:
		return apperr.Validation(fmt.Sprintf("unknown order mode %T", m))
	}

	mode := fulfilment(m)
	for _, allowed := range allowedMethods[mode] {
		if method == allowed {
			return nil
		}
	}
	return methodNotSupported(method, string(mode))
}

func methodNotSupported(method orders.PaymentMethod, mode string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeModeNotSupported,
		fmt.Sprintf("payment method %q is not available for %s orders", method, mode))
}
