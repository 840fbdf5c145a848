package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// IncidentIndex is an in-memory full-text index over retained incidents.
// It is a read-side convenience: indexing failures are logged by callers and
// never block incident creation, and the store remains the source of truth.
type IncidentIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger logger.Logger
}

func NewIncidentIndex(log logger.Logger) (*IncidentIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create incident index: %w", err)
	}
	return &IncidentIndex{index: idx, logger: log}, nil
}

// Index makes the incident searchable. The document is a flattened view:
// anomaly metrics, runbook titles and correlated event messages are folded in
// so free-text queries can reach them.
func (x *IncidentIndex) Index(inc *models.Incident) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	doc := map[string]interface{}{
		"id":         inc.ID,
		"title":      inc.Title,
		"severity":   string(inc.Severity),
		"services":   inc.Services,
		"metrics":    anomalyMetrics(inc.Anomalies),
		"created_at": inc.CreatedAt,
	}
	if inc.Analysis != nil {
		doc["summary"] = inc.Analysis.Summary
		doc["root_cause"] = inc.Analysis.RootCause
		doc["confidence"] = inc.Analysis.Confidence
	}
	if len(inc.MatchedRunbooks) > 0 {
		titles := make([]string, 0, len(inc.MatchedRunbooks))
		for _, rb := range inc.MatchedRunbooks {
			titles = append(titles, rb.Title)
		}
		doc["runbooks"] = titles
	}
	if len(inc.CorrelatedEvents) > 0 {
		msgs := make([]string, 0, len(inc.CorrelatedEvents))
		for _, ev := range inc.CorrelatedEvents {
			msgs = append(msgs, ev.Message)
		}
		doc["events"] = strings.Join(msgs, "\n")
	}

	if err := x.index.Index(inc.ID, doc); err != nil {
		metrics.SearchIndexOperations.WithLabelValues("index", "error").Inc()
		return fmt.Errorf("failed to index incident %s: %w", inc.ID, err)
	}
	metrics.SearchIndexOperations.WithLabelValues("index", "success").Inc()
	return nil
}

// Remove drops an incident from the index, typically after store retention
// evicted it.
func (x *IncidentIndex) Remove(id string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := x.index.Delete(id); err != nil {
		metrics.SearchIndexOperations.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.SearchIndexOperations.WithLabelValues("delete", "success").Inc()
	return nil
}

// Hit is a single search match.
type Hit struct {
	ID    string
	Score float64
}

// Result carries the ranked ids for a query. Callers resolve ids against the
// store so responses always reflect current incident state.
type Result struct {
	Total uint64
	Hits  []Hit
}

func (x *IncidentIndex) Search(ctx context.Context, q string, limit int) (*Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(ParseQuery(q), limit, 0, false)
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		metrics.SearchIndexOperations.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("incident search failed: %w", err)
	}
	metrics.SearchIndexOperations.WithLabelValues("search", "success").Inc()

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return &Result{Total: res.Total, Hits: hits}, nil
}

func (x *IncidentIndex) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

func (x *IncidentIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}

func anomalyMetrics(anomalies []models.Anomaly) []string {
	seen := make(map[string]bool, len(anomalies))
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		m := string(a.Metric)
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
