package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("item[2]: %w", Pricing(CodePortionNotFound, "portion %q", "Large"))
	assert.Equal(t, KindPricing, KindOf(err))
	assert.True(t, Is(err, KindPricing))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindPricing:             http.StatusBadRequest,
		KindIdempotencyConflict: http.StatusConflict,
		KindSignatureInvalid:    http.StatusUnauthorized,
		KindNotFound:            http.StatusNotFound,
		KindGateway:             http.StatusBadGateway,
		KindRetryExhausted:      http.StatusGone,
		KindInternal:            http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, k.HTTPStatus(), k.String())
	}
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Respond(c, Pricing(CodePriceMismatch, "client 500.00, server 550.00"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"PRICE_MISMATCH","message":"client 500.00, server 550.00"}`, w.Body.String())

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Respond(c, errors.New("dynamodb exploded"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "dynamodb")
}
