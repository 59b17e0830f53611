package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/api/handlers"
	"github.com/fleetwatch/fleetwatch/internal/api/middleware"
	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/ingest"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	redisstore "github.com/fleetwatch/fleetwatch/internal/storage/redis"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	Repo    *db.Repository
	Cache   *redisstore.Client
	handler *handlers.Handler
	logger  *zap.Logger
}

func NewServer(cfg *config.Config, repo *db.Repository, cache *redisstore.Client, ingestSvc *ingest.Service, collector *metrics.Collector, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		Repo:    repo,
		Cache:   cache,
		handler: handlers.NewHandler(repo, ingestSvc, collector, logger),
		logger:  logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := s.handler

	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Agent-facing ingest, authenticated by API key.
	agent := s.Router.Group("/api/v1")
	agent.Use(middleware.APIKeyAuth(s.Repo, s.Cache, s.Config.Auth.APIKeyCacheTTL, s.logger))
	{
		agent.POST("/ingest/metrics", h.Ingest)
	}

	// Operator API, authenticated by JWT.
	api := s.Router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.Config.Auth.JWTSecret))
	{
		api.GET("/http-targets", h.ListTargets)
		api.POST("/http-targets", h.CreateTarget)
		api.GET("/http-targets/:id", h.GetTarget)
		api.PUT("/http-targets/:id", h.UpdateTarget)
		api.DELETE("/http-targets/:id", h.DeleteTarget)

		api.GET("/machines", h.ListMachines)
		api.GET("/machines/:id", h.GetMachineDetail)
		api.GET("/machine-metrics", h.ListMachineMetrics)
		api.PATCH("/metrics/:id/alerting", h.SetMetricAlerting)
		api.PATCH("/metrics/:id/pause", h.SetMetricPaused)
		api.POST("/metrics/:id/thresholds/default", h.CreateDefaultThreshold)

		api.GET("/incidents", h.ListIncidents)
		api.GET("/incidents/:id", h.GetIncidentByID)
		api.GET("/alerts", h.ListAlerts)
		api.GET("/notifications", h.ListNotifications)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
		api.GET("/dashboard/summary", h.GetDashboardSummary)
	}
}
