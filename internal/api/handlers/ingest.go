package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/ingest"
)

type ingestMachine struct {
	Hostname    string `json:"hostname" binding:"required"`
	OS          string `json:"os"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

type ingestMetricInput struct {
	Name  string      `json:"name" binding:"required"`
	Type  string      `json:"type" binding:"required,oneof=number bool string"`
	Value interface{} `json:"value"`
	Unit  *string     `json:"unit"`
}

type ingestRequest struct {
	SentAt  *time.Time          `json:"sent_at"`
	Machine ingestMachine       `json:"machine" binding:"required"`
	Metrics []ingestMetricInput `json:"metrics" binding:"required"`
}

// Ingest accepts one agent batch. The whole batch commits or none of it;
// retransmits with the same ingest id (header or derived) ack as duplicates.
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	batch := db.IngestBatch{
		ClientID:    c.GetString("client_id"),
		IngestID:    c.GetHeader("X-Ingest-Id"),
		SentAt:      req.SentAt,
		Hostname:    req.Machine.Hostname,
		OS:          req.Machine.OS,
		Fingerprint: req.Machine.Fingerprint,
	}

	for _, m := range req.Metrics {
		metric, err := ingest.BuildMetric(m.Name, m.Type, m.Value, m.Unit)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		batch.Metrics = append(batch.Metrics, metric)
	}

	outcome, err := h.ingest.Process(c.Request.Context(), batch)
	if err != nil {
		var verr *db.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Message})
			return
		}
		h.logger.Error("Failed to process ingest batch",
			zap.String("client_id", batch.ClientID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":   true,
		"duplicate":  outcome.Duplicate,
		"ingest_id":  outcome.IngestID,
		"machine_id": outcome.MachineID,
	})
}
