package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

type ServicesHandler struct {
	store        *store.IncidentStore
	statusWindow time.Duration
	logger       logger.Logger
}

// NewServicesHandler builds the per-service rollup endpoint. statusWindow is
// how far back incidents still color a service's status, normally the
// detection baseline window.
func NewServicesHandler(st *store.IncidentStore, statusWindow time.Duration, log logger.Logger) *ServicesHandler {
	return &ServicesHandler{
		store:        st,
		statusWindow: statusWindow,
		logger:       log,
	}
}

// GET /services - health rollup of every service with retained incidents.
func (h *ServicesHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services": h.store.ServiceSummaries(h.statusWindow),
	})
}
