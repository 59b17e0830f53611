package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

type targetRequest struct {
	Name                 string `json:"name" binding:"required,min=1,max=200"`
	URL                  string `json:"url" binding:"required"`
	Method               string `json:"method"`
	AcceptedStatusCodes  []int  `json:"accepted_status_codes"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	IsActive             *bool  `json:"is_active"`
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// normalize applies defaults and validates the fields gin bindings cannot
// express. It returns a 422-ready message on failure.
func (r *targetRequest) normalize() error {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("url is not valid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme should be 'http' or 'https'")
	}

	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)
	if !allowedMethods[r.Method] {
		return fmt.Errorf("method %q is not allowed", r.Method)
	}

	if r.TimeoutSeconds == 0 {
		r.TimeoutSeconds = 30
	}
	if r.TimeoutSeconds < 1 || r.TimeoutSeconds > 120 {
		return fmt.Errorf("timeout_seconds must be between 1 and 120")
	}
	if r.CheckIntervalSeconds == 0 {
		r.CheckIntervalSeconds = 300
	}
	if r.CheckIntervalSeconds < 10 || r.CheckIntervalSeconds > 86400 {
		return fmt.Errorf("check_interval_seconds must be between 10 and 86400")
	}

	if len(r.AcceptedStatusCodes) == 0 {
		r.AcceptedStatusCodes = []int{200}
	}
	for _, code := range r.AcceptedStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("accepted status code %d is not a valid HTTP status", code)
		}
	}
	return nil
}

func (r *targetRequest) apply(t *db.HTTPTarget) {
	t.Name = r.Name
	t.URL = r.URL
	t.Method = r.Method
	t.AcceptedStatusCodes = db.StatusCodes(r.AcceptedStatusCodes)
	t.TimeoutSeconds = r.TimeoutSeconds
	t.CheckIntervalSeconds = r.CheckIntervalSeconds
	t.IsActive = true
	if r.IsActive != nil {
		t.IsActive = *r.IsActive
	}
}

func (h *Handler) CreateTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	target := &db.HTTPTarget{ClientID: c.GetString("client_id")}
	req.apply(target)

	if err := h.repo.CreateHTTPTarget(target); err != nil {
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
		h.logger.Error("Failed to create target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Target created",
		zap.String("target_id", target.ID),
		zap.String("client_id", target.ClientID),
		zap.String("url", target.URL),
	)
	c.JSON(http.StatusCreated, gin.H{"id": target.ID})
}

func (h *Handler) GetTarget(c *gin.Context) {
	target, err := h.repo.GetHTTPTarget(c.Param("id"), c.GetString("client_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to get target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, target)
}

func (h *Handler) ListTargets(c *gin.Context) {
	clientID := c.GetString("client_id")
	page, limit := pagination(c, 20, 100)

	targets, err := h.repo.ListHTTPTargets(clientID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list targets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"targets": targets,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}

func (h *Handler) UpdateTarget(c *gin.Context) {
	clientID := c.GetString("client_id")
	target, err := h.repo.GetHTTPTarget(c.Param("id"), clientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to get target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	req.apply(target)
	if err := h.repo.UpdateHTTPTarget(target); err != nil {
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
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to update target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, target)
}

func (h *Handler) DeleteTarget(c *gin.Context) {
	err := h.repo.DeleteHTTPTarget(c.Param("id"), c.GetString("client_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to delete target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

// pagination reads page/limit query params with bounds.
func pagination(c *gin.Context, defaultLimit, maxLimit int) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return page, limit
}
