package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) GetDashboardSummary(c *gin.Context) {
	summary, err := h.repo.GetDashboardSummary(c.GetString("client_id"))
	if err != nil {
		h.logger.Error("Failed to build dashboard summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
