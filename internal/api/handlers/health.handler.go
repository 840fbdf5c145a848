package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/internal/version"
	"github.com/platformbuilds/sentinelops/pkg/cache"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// BackendHealth is the health probe the handler runs against the
// observability backend.
type BackendHealth interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	store   *store.IncidentStore
	backend BackendHealth
	cache   cache.Valkey
	logger  logger.Logger
}

func NewHealthHandler(st *store.IncidentStore, backend BackendHealth, c cache.Valkey, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:   st,
		backend: backend,
		cache:   c,
		logger:  log,
	}
}

// GET /health - liveness plus component connectivity. The read API stays up
// even when the backend is unreachable, so an unhealthy backend reports
// status degraded with HTTP 200 rather than failing the probe.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	components := gin.H{}

	if h.backend != nil {
		if err := h.backend.HealthCheck(ctx); err != nil {
			components["elasticsearch"] = gin.H{"status": "unhealthy", "error": err.Error()}
			status = "degraded"
		} else {
			components["elasticsearch"] = gin.H{"status": "healthy"}
		}
	}

	if h.cache != nil {
		// The noop cache reports an error here; that is degraded operation,
		// not an outage.
		if err := h.cache.HealthCheck(ctx); err != nil {
			components["cache"] = gin.H{"status": "degraded", "error": err.Error()}
		} else {
			components["cache"] = gin.H{"status": "healthy"}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"incidents_tracked": h.store.Count(),
		"version":           version.Version,
		"components":        components,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}
