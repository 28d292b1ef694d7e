package orders

import (
	"fmt"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
	"github.com/imrishuroy/marketplace-orderflow/internal/pricing"
)

// Statuses staff have already acted on. Payment events never overwrite these.
var forwardOnly = map[Status]bool{
	StatusConfirmed:         true,
	StatusPreparing:         true,
	StatusReady:             true,
	StatusReadyForPickup:    true,
	StatusDispatched:        true,
	StatusOnTheWay:          true,
	StatusReachedRestaurant: true,
	StatusPickedUp:          true,
	StatusDelivered:         true,
	StatusRejected:          true,
	StatusCancelled:         true,
	StatusServed:            true,
	StatusPaid:              true,
}

var terminal = map[Status]bool{
	StatusRejected:  true,
	StatusCancelled: true,
	StatusDelivered: true,
	StatusServed:    true,
}

var transitions = map[Status][]Status{
	StatusPending:           {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusAwaitingPayment:   {StatusPending, StatusCancelled},
	StatusPayAtCounter:      {StatusPaid, StatusConfirmed, StatusCancelled},
	StatusPaid:              {StatusConfirmed, StatusPreparing, StatusServed},
	StatusConfirmed:         {StatusPreparing, StatusCancelled, StatusRejected},
	StatusPreparing:         {StatusReady, StatusReadyForPickup, StatusCancelled},
	StatusReady:             {StatusDispatched, StatusReadyForPickup, StatusServed, StatusPaid},
	StatusReadyForPickup:    {StatusPickedUp},
	StatusDispatched:        {StatusReachedRestaurant, StatusPickedUp},
	StatusReachedRestaurant: {StatusPickedUp},
	StatusPickedUp:          {StatusOnTheWay, StatusDelivered},
	StatusOnTheWay:          {StatusDelivered},
}

func IsForwardOnly(s Status) bool { return forwardOnly[s] }

func IsTerminal(s Status) bool { return terminal[s] }

// IsOpen reports whether an order still accepts add-ons and shares a tab token.
func IsOpen(s Status) bool { return !terminal[s] }

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves o along the status graph.
func Transition(o *Order, to Status, actor, note string, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", o.Status, to))
	}
	setStatus(o, to, actor, note, now)
	return nil
}

// ApplyPaymentCaptured appends a settlement and applies the forward-only rule:
// operational statuses are kept, anything earlier becomes pending. It returns
// false when the payment is already in the ledger.
func ApplyPaymentCaptured(o *Order, e PaymentEntry, now time.Time) bool {
	if !AppendSettlement(o, e, now) {
		return false
	}
	MarkPaymentReceived(o, now)
	return true
}

// ApplyAddOnCaptured settles an add-on payment. The base order only moves to
// pending once the ledger covers the whole bill.
func ApplyAddOnCaptured(o *Order, e PaymentEntry, now time.Time) bool {
	if !AppendSettlement(o, e, now) {
		return false
	}
	if o.Total > 0 && o.PaidAmount() >= o.Total {
		MarkPaymentReceived(o, now)
	}
	return true
}

// AppendSettlement adds e to the payment ledger without touching status.
// Entries are unique per payment id and share index.
func AppendSettlement(o *Order, e PaymentEntry, now time.Time) bool {
	if o.hasEntry(e.PaymentID, e.ShareIndex) {
		return false
	}
	e.RecordedAt = now
	o.PaymentDetails = append(o.PaymentDetails, e)
	RecomputePaymentStatus(o)
	o.FailureReason = ""
	o.UpdatedAt = now
	return true
}

// MarkPaymentReceived moves an order that staff have not acted on yet to pending.
func MarkPaymentReceived(o *Order, now time.Time) {
	if !IsForwardOnly(o.Status) && o.Status != StatusPending {
		setStatus(o, StatusPending, "payment", "payment received", now)
	}
}

// RecomputePaymentStatus derives paymentStatus from the ledger and total.
func RecomputePaymentStatus(o *Order) {
	paid := o.PaidAmount()
	switch {
	case paid <= 0:
	case o.Total > 0 && paid >= o.Total:
		o.PaymentStatus = PaymentPaid
	default:
		o.PaymentStatus = PaymentPartiallyPaid
	}
}

// ApplyPaymentFailed records a failed attempt. Status is never touched and a
// settled order is not marked failed. It reports whether o changed.
func ApplyPaymentFailed(o *Order, reason string, now time.Time) bool {
	if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentPartiallyPaid {
		return false
	}
	if o.PaymentStatus == PaymentFailed && o.FailureReason == reason {
		return false
	}
	o.PaymentStatus = PaymentFailed
	o.FailureReason = reason
	o.UpdatedAt = now
	return true
}

// ClaimRefund reserves the order's refund before the gateway is called. Only
// one claim can hold an order; the rest get a conflict. The claim key is
// reused until the gateway reports an outcome, so a retried call cannot
// refund twice. A zero amount refunds everything paid.
func ClaimRefund(o *Order, amount money.Paise, now time.Time) (money.Paise, error) {
	paid := o.PaidAmount()
	switch {
	case o.GatewayOrderID == "" || o.Gateway == "":
		return 0, apperr.Conflict(apperr.CodeConflict, "order has no online payment to refund")
	case paid == 0:
		return 0, apperr.Conflict(apperr.CodeConflict, "nothing has been paid on this order")
	case o.RefundStatus == RefundRequested || o.RefundStatus == RefundPending || o.RefundStatus == RefundCompleted:
		return 0, apperr.Conflict(apperr.CodeConflict, "order already has a refund "+string(o.RefundStatus))
	}
	if amount == 0 {
		amount = paid
	}
	if amount > paid {
		return 0, apperr.Validation(fmt.Sprintf("refund %s exceeds paid amount %s", amount, paid))
	}
	if o.RefundKey == "" || o.RefundID != "" {
		o.RefundSeq++
		o.RefundKey = fmt.Sprintf("%s-rf%d", o.OrderID, o.RefundSeq)
		o.RefundID = ""
	}
	o.RefundStatus = RefundRequested
	o.RefundAmount = amount
	o.UpdatedAt = now
	return amount, nil
}

// ReleaseRefund frees a claim whose gateway call failed. It reports whether
// o changed.
func ReleaseRefund(o *Order, key string, now time.Time) bool {
	if o.RefundStatus != RefundRequested || o.RefundKey != key {
		return false
	}
	o.RefundStatus = RefundFailed
	o.UpdatedAt = now
	return true
}

// ApplyRefund records a refund outcome. It reports whether o changed.
func ApplyRefund(o *Order, refundID string, status RefundStatus, now time.Time) bool {
	if o.RefundStatus == status && (refundID == "" || o.RefundID == refundID) {
		return false
	}
	// a completed refund is final
	if o.RefundStatus == RefundCompleted && status != RefundCompleted {
		return false
	}
	o.RefundStatus = status
	if refundID != "" {
		o.RefundID = refundID
	}
	o.UpdatedAt = now
	return true
}

// MergeItems appends priced items and adds their totals to the order.
func MergeItems(o *Order, items []pricing.Item, t pricing.Totals, now time.Time) {
	o.Items = append(o.Items, items...)
	o.Subtotal += t.Subtotal
	o.CGST += t.CGST
	o.SGST += t.SGST
	o.DeliveryCharge += t.DeliveryCharge
	o.Total += t.Total
	RecomputePaymentStatus(o)
	o.UpdatedAt = now
}

func setStatus(o *Order, to Status, actor, note string, now time.Time) {
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: to, At: now, Actor: actor, Note: note})
	o.UpdatedAt = now
}
