package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// receiveWebhook answers 200 once every event is applied, deduplicated or
// deliberately ignored. Anything else is an error status so the gateway
// redelivers.
func (h *handler) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, apperr.Body{Error: apperr.CodeValidation, Message: "webhook body too large"})
			return
		}
		apperr.Respond(c, apperr.Validation("read webhook body: "+err.Error()))
		return
	}

	results, err := h.Reconciler.Receive(c.Request.Context(), gateway.Name(c.Param("gateway")), c.Request.Header, body)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "results": results})
}

var retryStatus = map[webhooks.RetryOutcome]int{
	webhooks.RetryResolved:        http.StatusOK,
	webhooks.RetryAlreadyResolved: http.StatusOK,
	webhooks.RetryInProgress:      http.StatusConflict,
	webhooks.RetryFailed:          http.StatusUnprocessableEntity,
	webhooks.RetryDeadLettered:    http.StatusUnprocessableEntity,
	webhooks.RetryExhausted:       http.StatusGone,
	webhooks.RetryNotDue:          http.StatusConflict,
}

// retryWebhook replays a stored delivery on operator request. Dead-lettered
// webhooks may be replayed this way.
func (h *handler) retryWebhook(c *gin.Context) {
	res, err := h.Reconciler.Retry(c.Request.Context(), c.Param("id"), true)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	status, ok := retryStatus[res.Outcome]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func (h *handler) listFailedWebhooks(c *gin.Context) {
	status := webhooks.FailedStatus(c.DefaultQuery("status", string(webhooks.FailedPending)))
	switch status {
	case webhooks.FailedPending, webhooks.FailedProcessing, webhooks.FailedResolved, webhooks.FailedDeadLetter:
	default:
		apperr.Respond(c, apperr.Validation("status must be pending, processing, resolved or dead_letter"))
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperr.Respond(c, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.Reconciler.ListFailed(c.Request.Context(), status, int32(limit))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": list, "count": len(list)})
}
