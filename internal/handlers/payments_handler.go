package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/split"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

func (h *handler) createSplit(c *gin.Context) {
	var req validation.SplitRequest
	if err := validation.BindAndValidate(c, &req, h.Validator); err != nil {
		return
	}
	s, err := h.Splits.CreateSession(c.Request.Context(), split.CreateRequest{
		BaseOrderID: req.OrderID,
		SplitCount:  req.SplitCount,
		Gateway:     gateway.Name(req.Gateway),
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *handler) getSplit(c *gin.Context) {
	s, err := h.Splits.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handler) payRemaining(c *gin.Context) {
	rem, err := h.Splits.PayRemaining(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, rem)
}
