package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/evaluate"
)

func (h *Handler) ListMachines(c *gin.Context) {
	clientID := c.GetString("client_id")
	page, limit := pagination(c, 50, 200)

	machines, err := h.repo.ListMachines(clientID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list machines", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machines": machines,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}

func (h *Handler) GetMachineDetail(c *gin.Context) {
	clientID := c.GetString("client_id")
	machineID := c.Param("id")

	machine, err := h.repo.GetMachine(machineID, clientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
			return
		}
		h.logger.Error("Failed to get machine", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	metrics, err := h.repo.ListMachineMetrics(machineID, clientID)
	if err != nil {
		h.logger.Error("Failed to list machine metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machine": machine,
		"metrics": metrics,
	})
}

func (h *Handler) ListMachineMetrics(c *gin.Context) {
	machineID := c.Query("machine_id")
	if machineID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "machine_id query parameter is required"})
		return
	}

	metrics, err := h.repo.ListMachineMetrics(machineID, c.GetString("client_id"))
	if err != nil {
		h.logger.Error("Failed to list machine metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (h *Handler) SetMetricAlerting(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	err := h.repo.SetInstanceAlerting(c.Param("id"), c.GetString("client_id"), *req.Enabled)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Metric not found"})
			return
		}
		h.logger.Error("Failed to set metric alerting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (h *Handler) SetMetricPaused(c *gin.Context) {
	var req struct {
		Paused *bool `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	err := h.repo.SetInstancePaused(c.Param("id"), c.GetString("client_id"), *req.Paused)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Metric not found"})
			return
		}
		h.logger.Error("Failed to set metric pause", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"paused": *req.Paused})
}

type defaultThresholdRequest struct {
	Comparison string   `json:"comparison"`
	Severity   string   `json:"severity"`
	Value      *float64 `json:"value"`
	ValueBool  *bool    `json:"value_bool"`
	ValueStr   *string  `json:"value_str"`
}

// CreateDefaultThreshold sets the 'default' threshold of a metric instance.
// The comparison falls back to the definition's default_comparison; the
// value field must match the definition's type. An existing default is a
// conflict, not an update.
func (h *Handler) CreateDefaultThreshold(c *gin.Context) {
	clientID := c.GetString("client_id")

	detail, err := h.repo.GetInstanceDetailForClient(c.Param("id"), clientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Metric not found"})
			return
		}
		h.logger.Error("Failed to get metric instance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req defaultThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	comparison := db.Comparison(req.Comparison)
	if comparison == "" && detail.DefaultComparison != nil {
		comparison = *detail.DefaultComparison
	}
	if comparison == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "comparison is required, the metric has no default"})
		return
	}
	if !evaluate.ValidComparison(detail.ValueType, comparison) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "comparison " + string(comparison) + " is not valid for " + string(detail.ValueType) + " metrics",
		})
		return
	}

	severity := db.SeverityCritical
	if req.Severity != "" {
		switch db.Severity(req.Severity) {
		case db.SeverityInfo, db.SeverityWarning, db.SeverityError, db.SeverityCritical:
			severity = db.Severity(req.Severity)
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "severity must be one of info, warning, error, critical"})
			return
		}
	}

	threshold := &db.Threshold{
		MetricInstanceID: detail.ID,
		Name:             "default",
		Comparison:       comparison,
		Severity:         severity,
	}
	switch detail.ValueType {
	case db.ValueTypeNumber:
		if req.Value == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "value is required for number metrics"})
			return
		}
		threshold.ValueNum = req.Value
	case db.ValueTypeBool:
		if req.ValueBool == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "value_bool is required for bool metrics"})
			return
		}
		threshold.ValueBool = req.ValueBool
	case db.ValueTypeString:
		if req.ValueStr == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "value_str is required for string metrics"})
			return
		}
		threshold.ValueStr = req.ValueStr
	}

	if err := h.repo.CreateThreshold(threshold); err != nil {
		var conflict *db.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error": conflict.Message,
				"detail": gin.H{
					"message":     conflict.Message,
					"existing_id": conflict.ExistingID,
				},
			})
			return
		}
		h.logger.Error("Failed to create threshold", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Default threshold created",
		zap.String("threshold_id", threshold.ID),
		zap.String("metric_instance_id", detail.ID),
		zap.String("metric", detail.MetricName),
	)
	c.JSON(http.StatusCreated, gin.H{"id": threshold.ID})
}
