package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type settingsRequest struct {
	NotificationEmail            *string `json:"notification_email"`
	SlackWebhookURL              *string `json:"slack_webhook_url"`
	SlackChannelName             *string `json:"slack_channel_name"`
	GracePeriodSeconds           *int    `json:"grace_period_seconds"`
	ReminderNotificationSeconds  *int    `json:"reminder_notification_seconds"`
	AlertGroupingEnabled         *bool   `json:"alert_grouping_enabled"`
	AlertGroupingWindowSeconds   *int    `json:"alert_grouping_window_seconds"`
	NotifyOnResolve              *bool   `json:"notify_on_resolve"`
	HeartbeatThresholdMinutes    *int    `json:"heartbeat_threshold_minutes"`
	ConsecutiveFailuresThreshold *int    `json:"consecutive_failures_threshold"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.repo.GetClientSettings(c.GetString("client_id"))
	if err != nil {
		h.logger.Error("Failed to get settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings overlays the supplied fields onto the stored row. Omitted
// fields keep their value, so the UI can save one toggle at a time.
func (h *Handler) UpdateSettings(c *gin.Context) {
	clientID := c.GetString("client_id")

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.repo.GetClientSettings(clientID)
	if err != nil {
		h.logger.Error("Failed to get settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.NotificationEmail != nil {
		settings.NotificationEmail = req.NotificationEmail
	}
	if req.SlackWebhookURL != nil {
		settings.SlackWebhookURL = req.SlackWebhookURL
	}
	if req.SlackChannelName != nil {
		settings.SlackChannelName = req.SlackChannelName
	}
	if req.GracePeriodSeconds != nil {
		settings.GracePeriodSeconds = *req.GracePeriodSeconds
	}
	if req.ReminderNotificationSeconds != nil {
		settings.ReminderNotificationSeconds = *req.ReminderNotificationSeconds
	}
	if req.AlertGroupingEnabled != nil {
		settings.AlertGroupingEnabled = *req.AlertGroupingEnabled
	}
	if req.AlertGroupingWindowSeconds != nil {
		settings.AlertGroupingWindowSeconds = *req.AlertGroupingWindowSeconds
	}
	if req.NotifyOnResolve != nil {
		settings.NotifyOnResolve = *req.NotifyOnResolve
	}
	if req.HeartbeatThresholdMinutes != nil {
		settings.HeartbeatThresholdMinutes = *req.HeartbeatThresholdMinutes
	}
	if req.ConsecutiveFailuresThreshold != nil {
		settings.ConsecutiveFailuresThreshold = *req.ConsecutiveFailuresThreshold
	}

	if settings.GracePeriodSeconds < 0 || settings.ReminderNotificationSeconds < 0 ||
		settings.AlertGroupingWindowSeconds < 0 || settings.HeartbeatThresholdMinutes < 0 ||
		settings.ConsecutiveFailuresThreshold < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "settings values must not be negative"})
		return
	}

	if err := h.repo.UpsertClientSettings(settings); err != nil {
		h.logger.Error("Failed to update settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Settings updated", zap.String("client_id", clientID))
	c.JSON(http.StatusOK, settings)
}
