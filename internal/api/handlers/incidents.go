package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func (h *Handler) ListIncidents(c *gin.Context) {
	clientID := c.GetString("client_id")
	page, limit := pagination(c, 50, 200)

	status := strings.ToUpper(c.Query("status"))
	if status != "" && status != string(db.IncidentOpen) && status != string(db.IncidentResolved) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "status must be OPEN or RESOLVED"})
		return
	}

	incidents, err := h.repo.GetIncidents(db.IncidentFilters{
		ClientID: clientID,
		Status:   status,
		Severity: c.Query("severity"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		h.logger.Error("Failed to list incidents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}

func (h *Handler) GetIncidentByID(c *gin.Context) {
	incident, err := h.repo.GetIncident(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		h.logger.Error("Failed to get incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if incident.ClientID != c.GetString("client_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	clientID := c.GetString("client_id")
	page, limit := pagination(c, 50, 200)

	status := strings.ToUpper(c.Query("status"))
	if status != "" && status != string(db.AlertFiring) && status != string(db.AlertResolved) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "status must be FIRING or RESOLVED"})
		return
	}

	alerts, err := h.repo.GetAlerts(clientID, status, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}

func (h *Handler) ListNotifications(c *gin.Context) {
	clientID := c.GetString("client_id")
	page, limit := pagination(c, 50, 200)

	notifications, err := h.repo.ListNotifications(clientID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}
