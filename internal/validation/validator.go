package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

var orderStatuses = map[orders.Status]bool{
	orders.StatusPending: true, orders.StatusAwaitingPayment: true, orders.StatusPayAtCounter: true,
	orders.StatusConfirmed: true, orders.StatusPreparing: true, orders.StatusReady: true,
	orders.StatusReadyForPickup: true, orders.StatusDispatched: true, orders.StatusOnTheWay: true,
	orders.StatusReachedRestaurant: true, orders.StatusPickedUp: true, orders.StatusDelivered: true,
	orders.StatusRejected: true, orders.StatusCancelled: true, orders.StatusServed: true, orders.StatusPaid: true,
}

// New returns a validator with the order request rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return orderStatuses[orders.Status(fl.Field().String())]
	})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	return v
}

// createOrderStructValidation checks the fields each order type depends on.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	if req.OrderType != "addon" && req.Customer == nil {
		sl.ReportError(req.Customer, "customer", "Customer", "required", "")
	}
	switch req.OrderType {
	case "delivery":
		if req.Delivery == nil {
			sl.ReportError(req.Delivery, "delivery", "Delivery", "required_for_delivery", "")
		}
	case "dine_in":
		if req.DineInTabID == "" {
			sl.ReportError(req.DineInTabID, "dineInTabId", "DineInTabID", "required_for_dine_in", "")
		}
		if req.TableID == "" {
			sl.ReportError(req.TableID, "tableId", "TableID", "required_for_dine_in", "")
		}
	case "addon":
		if req.BaseOrderID == "" {
			sl.ReportError(req.BaseOrderID, "baseOrderId", "BaseOrderID", "required_for_addon", "")
		}
		if req.PaymentMethod == "split" {
			sl.ReportError(req.PaymentMethod, "paymentMethod", "PaymentMethod", "split_not_for_addon", "")
		}
	}
	if req.PaymentMethod == "split" && req.SplitCount == 0 {
		sl.ReportError(req.SplitCount, "splitCount", "SplitCount", "required_for_split", "")
	}
}
