package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/search"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/cache"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// listCacheTTL bounds staleness of the cached incidents list; the
	// dashboard polls faster than ticks create incidents.
	listCacheTTL = 5 * time.Second
)

type IncidentsHandler struct {
	store  *store.IncidentStore
	index  *search.IncidentIndex
	cache  cache.Valkey
	logger logger.Logger
}

func NewIncidentsHandler(st *store.IncidentStore, idx *search.IncidentIndex, c cache.Valkey, log logger.Logger) *IncidentsHandler {
	return &IncidentsHandler{
		store:  st,
		index:  idx,
		cache:  c,
		logger: log,
	}
}

type incidentListResponse struct {
	Total     int                      `json:"total"`
	Incidents []models.IncidentSummary `json:"incidents"`
}

// GET /incidents?limit=&offset= - newest first.
func (h *IncidentsHandler) List(c *gin.Context) {
	limit := parseQueryInt(c, "limit", defaultListLimit)
	offset := parseQueryInt(c, "offset", 0)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	cacheKey := fmt.Sprintf("incidents:list:%d:%d", limit, offset)
	if h.cache != nil {
		if data, err := h.cache.GetCachedQueryResult(c.Request.Context(), cacheKey); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", data)
			return
		}
	}

	incidents := h.store.List(limit, offset)
	summaries := make([]models.IncidentSummary, 0, len(incidents))
	for _, inc := range incidents {
		summaries = append(summaries, inc.Summary())
	}

	resp := incidentListResponse{
		Total:     h.store.Count(),
		Incidents: summaries,
	}

	if h.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			_ = h.cache.CacheQueryResult(c.Request.Context(), cacheKey, data, listCacheTTL)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GET /incidents/:id - full incident record.
func (h *IncidentsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	inc, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "incident not found",
			"id":     id,
		})
		return
	}
	c.JSON(http.StatusOK, inc)
}

type searchHit struct {
	Score    float64                `json:"score"`
	Incident models.IncidentSummary `json:"incident"`
}

// GET /incidents/search?q=&limit= - full-text search over retained
// incidents. Hits are resolved against the store so results always reflect
// current state; ids evicted between indexing and lookup are skipped.
func (h *IncidentsHandler) Search(c *gin.Context) {
	q := c.Query("q")
	limit := parseQueryInt(c, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	result, err := h.index.Search(c.Request.Context(), q, limit)
	if err != nil {
		h.logger.Error("incident search failed", "query", q, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "search failed",
		})
		return
	}

	hits := make([]searchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		inc, ok := h.store.Get(hit.ID)
		if !ok {
			continue
		}
		hits = append(hits, searchHit{Score: hit.Score, Incident: inc.Summary()})
	}

	c.JSON(http.StatusOK, gin.H{
		"total": result.Total,
		"query": q,
		"hits":  hits,
	})
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
