// Package apperr is the error taxonomy surfaced to HTTP clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPricing
	KindIdempotencyConflict
	KindSignatureInvalid
	KindNotFound
	KindConflict
	KindGateway
	KindRetryExhausted
)

// Client-visible error codes.
const (
	CodePriceMismatch       = "PRICE_MISMATCH"
	CodeItemNotFound        = "ITEM_NOT_FOUND"
	CodeCategoryNotFound    = "CATEGORY_NOT_FOUND"
	CodePortionNotFound     = "PORTION_NOT_FOUND"
	CodeAddOnNotFound       = "ADDON_NOT_FOUND"
	CodeItemUnavailable     = "ITEM_UNAVAILABLE"
	CodeRequestInProgress   = "REQUEST_IN_PROGRESS"
	CodeSignatureInvalid    = "SIGNATURE_INVALID"
	CodeNotFound            = "RESOURCE_NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	CodeGateway             = "GATEWAY_ERROR"
	CodeRetryExhausted      = "RETRY_EXHAUSTED"
	CodeValidation          = "VALIDATION_FAILED"
	CodeOutsideRadius       = "OUTSIDE_DELIVERY_RADIUS"
	CodeDeliveryDisabled    = "DELIVERY_DISABLED"
	CodeBelowMinimumOrder   = "BELOW_MINIMUM_ORDER"
	CodeModeNotSupported    = "MODE_NOT_SUPPORTED"
	CodeGatewayNotAvailable = "GATEWAY_NOT_AVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is an application error with a kind that selects the HTTP status.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Pricing(code, format string, args ...any) *Error {
	return New(KindPricing, code, fmt.Sprintf(format, args...))
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Gateway wraps an upstream payment API failure. The upstream message is kept
// for operator debugging.
func Gateway(gateway string, err error) *Error {
	return Wrap(KindGateway, CodeGateway, fmt.Sprintf("%s: %v", gateway, err), err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindPricing:
		return http.StatusBadRequest
	case KindIdempotencyConflict, KindConflict:
		return http.StatusConflict
	case KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindGateway:
		return http.StatusBadGateway
	case KindRetryExhausted:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPricing:
		return "pricing"
	case KindIdempotencyConflict:
		return "idempotency_conflict"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGateway:
		return "gateway"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return "internal"
	}
}
