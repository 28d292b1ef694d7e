// Package handlers exposes the order, payment and webhook operations over gin.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/intake"
	"github.com/imrishuroy/marketplace-orderflow/internal/logger"
	"github.com/imrishuroy/marketplace-orderflow/internal/middleware"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/tabs"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

// maxWebhookBody caps inbound webhook deliveries.
const maxWebhookBody = 1 << 20

// Deps groups what the routes need. Notifier, Logger, Validator and
// OrderLimiter are optional.
type Deps struct {
	Pipeline     *intake.Pipeline
	Orders       *orders.Store
	Reconciler   *webhooks.Reconciler
	Splits       *split.Coordinator
	Tabs         *tabs.Allocator
	Gateways     *gateway.Registry
	Notifier     notify.Notifier
	Logger       *zap.Logger
	Validator    *validatorv10.Validate
	OrderLimiter *middleware.RateLimiter
}

type handler struct {
	Deps
	nowFunc func() time.Time
}

// NewRouter returns a gin engine with the request middleware and every route.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestID(), logger.RequestLogger(deps.Logger))
	Register(r, deps)
	return r
}

// Register mounts the routes on r.
func Register(r gin.IRouter, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}
	h := &handler{Deps: deps, nowFunc: time.Now}

	r.GET("/health", h.health)

	create := []gin.HandlerFunc{h.createOrder}
	if deps.OrderLimiter != nil {
		create = append([]gin.HandlerFunc{deps.OrderLimiter.Limit()}, create...)
	}
	r.POST("/orders", create...)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id/status", h.updateStatus)
	r.POST("/orders/:id/refund", h.refundOrder)

	r.POST("/webhooks/:gateway", h.receiveWebhook)

	r.POST("/payments/split", h.createSplit)
	r.GET("/payments/split/:id", h.getSplit)
	r.POST("/payments/split/:id/pay-remaining", h.payRemaining)

	r.GET("/tabs/:id", h.getTab)
	r.POST("/tabs/:id/close", h.closeTab)

	admin := r.Group("/admin")
	admin.GET("/webhooks", h.listFailedWebhooks)
	admin.POST("/webhooks/:id/retry", h.retryWebhook)
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "gateways": h.Gateways.Names()})
}

func (h *handler) log(c *gin.Context) *zap.Logger {
	return logger.FromContext(c, h.Logger)
}

func (h *handler) notify(ctx context.Context, c *gin.Context, ev notify.Event) {
	ev.At = h.nowFunc().UTC()
	if err := h.Notifier.Notify(ctx, ev); err != nil {
		h.log(c).Warn("publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}
