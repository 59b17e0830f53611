package handlers

import (
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/ingest"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
)

type Handler struct {
	repo    *db.Repository
	ingest  *ingest.Service
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewHandler(repo *db.Repository, ingest *ingest.Service, metrics *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		repo:    repo,
		ingest:  ingest,
		metrics: metrics,
		logger:  logger,
	}
}
