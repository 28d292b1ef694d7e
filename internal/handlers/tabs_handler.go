package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

func (h *handler) getTab(c *gin.Context) {
	tab, err := h.Tabs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, tab)
}

func (h *handler) closeTab(c *gin.Context) {
	tab, err := h.Tabs.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	h.log(c).Info("tab closed", zap.String("tab_id", tab.TabID), zap.Stringer("total_bill", tab.TotalBill))
	c.JSON(http.StatusOK, tab)
}
