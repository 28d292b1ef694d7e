package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/intake"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from a completed reservation.
const ReplayedHeader = "Idempotent-Replayed"

func (h *handler) createOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.Validator); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	in := toIntakeRequest(req, c.GetHeader(IdempotencyKeyHeader))
	res, err := h.Pipeline.Submit(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if res.Duplicate {
		c.Header(ReplayedHeader, "true")
		c.JSON(http.StatusOK, res.Response)
		return
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
	c.JSON(http.StatusCreated, res.Response)
}

// toIntakeRequest maps the wire payload onto the pipeline's request. The body
// key wins over the header.
func toIntakeRequest(req validation.CreateOrderRequest, headerKey string) intake.Request {
	key := req.IdempotencyKey
	if key == "" {
		key = headerKey
	}

	var cust orders.Customer
	if req.Customer != nil {
		cust = orders.Customer{Name: req.Customer.Name, Phone: req.Customer.Phone}
	}

	var mode intake.OrderMode
	switch req.OrderType {
	case "delivery":
		d := intake.Delivery{}
		if req.Delivery != nil {
			d = intake.Delivery{Address: req.Delivery.Address, Lat: req.Delivery.Lat, Lng: req.Delivery.Lng}
			cust.Address, cust.Lat, cust.Lng = d.Address, d.Lat, d.Lng
		}
		mode = d
	case "pickup":
		mode = intake.Pickup{}
	case "dine_in":
		mode = intake.DineIn{TabID: req.DineInTabID, TableID: req.TableID}
	case "addon":
		mode = intake.AddOn{BaseOrderID: req.BaseOrderID}
	}

	method := orders.PaymentMethod(req.PaymentMethod)
	if method == orders.MethodSplit && mode != nil {
		mode = intake.Split{Shares: req.SplitCount, Fulfilment: mode}
	}

	items := make([]pricing.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, pricing.LineItem{
			ItemID:     it.ItemID,
			CategoryID: it.CategoryID,
			Portion:    it.Portion,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			AddOns:     it.AddOns,
			Notes:      it.Notes,
		})
	}

	return intake.Request{
		IdempotencyKey: key,
		BusinessID:     req.BusinessID,
		Customer:       cust,
		Items:          items,
		ClientSubtotal: req.Subtotal,
		Mode:           mode,
		PaymentMethod:  method,
		Gateway:        gateway.Name(req.Gateway),
	}
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) updateStatus(c *gin.Context) {
	var req validation.StatusUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.Validator); err != nil {
		return
	}
	ctx := c.Request.Context()
	o, err := h.Orders.Transition(ctx, c.Param("id"), orders.Status(req.Status), req.Actor, req.Note)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	h.log(c).Info("order status changed",
		zap.String("order_id", o.OrderID),
		zap.String("status", string(o.Status)),
		zap.String("actor", req.Actor))
	h.notify(ctx, c, notify.Event{
		Type:       notify.EventOrderStatusChanged,
		OrderID:    o.OrderID,
		BusinessID: o.BusinessID,
		Status:     string(o.Status),
	})
	c.JSON(http.StatusOK, o)
}

// refundOrder claims the order's refund, asks the gateway for it and records
// it as pending. The refund webhook later completes it.
func (h *handler) refundOrder(c *gin.Context) {
	var req validation.RefundRequest
	if err := validation.BindAndValidate(c, &req, h.Validator); err != nil {
		return
	}
	ctx := c.Request.Context()
	orderID := c.Param("id")

	var amount money.Paise
	claimed, err := h.Orders.Update(ctx, orderID, func(o *orders.Order, now time.Time) error {
		var err error
		amount, err = orders.ClaimRefund(o, req.Amount, now)
		return err
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	key := claimed.RefundKey

	refund, err := h.createRefund(ctx, claimed, gateway.RefundRequest{
		GatewayOrderID: claimed.GatewayOrderID,
		Amount:         amount,
		Reason:         req.Reason,
		Key:            key,
	})
	if err != nil {
		if _, rerr := h.Orders.Update(ctx, orderID, func(o *orders.Order, now time.Time) error {
			orders.ReleaseRefund(o, key, now)
			return nil
		}); rerr != nil {
			h.log(c).Error("release refund claim", zap.String("order_id", orderID), zap.String("refund_key", key), zap.Error(rerr))
		}
		apperr.Respond(c, err)
		return
	}

	updated, err := h.Orders.Update(ctx, orderID, func(o *orders.Order, now time.Time) error {
		orders.ApplyRefund(o, refund.ID, orders.RefundPending, now)
		return nil
	})
	if err != nil {
		// the gateway refund exists; its webhook will still find the order
		h.log(c).Error("record refund", zap.String("order_id", orderID), zap.String("refund_id", refund.ID), zap.Error(err))
		apperr.Respond(c, err)
		return
	}
	h.log(c).Info("refund requested",
		zap.String("order_id", orderID),
		zap.String("refund_id", refund.ID),
		zap.Stringer("amount", amount))
	h.notify(ctx, c, notify.Event{
		Type:       notify.EventOrderRefundUpdated,
		OrderID:    orderID,
		BusinessID: updated.BusinessID,
		Status:     string(updated.RefundStatus),
		Amount:     amount,
	})
	c.JSON(http.StatusAccepted, updated)
}

func (h *handler) createRefund(ctx context.Context, o *orders.Order, req gateway.RefundRequest) (*gateway.Refund, error) {
	gw, err := h.Gateways.Get(gateway.Name(o.Gateway))
	if err != nil {
		return nil, err
	}
	refund, err := gw.CreateRefund(ctx, req)
	if err != nil {
		return nil, apperr.Gateway(o.Gateway, err)
	}
	return refund, nil
}
