package services

import (
	"context"
	"sort"

	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// RunbookSearcher is the slice of the observability client used for
// historical runbook lookups.
type RunbookSearcher interface {
	SearchRunbooks(ctx context.Context, services, keywords []string, maxResults int) ([]models.RunbookMatch, error)
}

// maxRunbookMatches caps how many historical entries ride along on an
// incident.
const maxRunbookMatches = 5

// RunbookService matches the current anomaly group against the historical
// runbook index so responders see how similar incidents were resolved.
type RunbookService struct {
	es     RunbookSearcher
	logger logger.Logger
}

func NewRunbookService(es RunbookSearcher, log logger.Logger) *RunbookService {
	return &RunbookService{es: es, logger: log}
}

// Match returns up to five runbooks whose services_affected intersect the
// anomaly services or whose tags carry a matching metric tag, ordered by
// relevance score descending with incident_date breaking ties. A missing
// index or query error degrades to an empty list; the pipeline never aborts
// on runbook lookup.
func (r *RunbookService) Match(ctx context.Context, anomalies []models.Anomaly) []models.RunbookMatch {
	if len(anomalies) == 0 {
		return nil
	}

	services := models.AnomalyServices(anomalies)
	keywords := anomalyMetricTags(anomalies)

	matches, err := r.es.SearchRunbooks(ctx, services, keywords, maxRunbookMatches)
	if err != nil {
		r.logger.Warn("runbook search failed", "error", err, "services", services)
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].IncidentDate > matches[j].IncidentDate
	})
	if len(matches) > maxRunbookMatches {
		matches = matches[:maxRunbookMatches]
	}

	r.logger.Debug("runbooks matched", "count", len(matches), "services", services, "keywords", keywords)
	return matches
}

// anomalyMetricTags returns the sorted distinct metric names of the group,
// used as tag keywords against the runbook index.
func anomalyMetricTags(anomalies []models.Anomaly) []string {
	seen := make(map[models.MetricType]bool, 2)
	out := make([]string, 0, 2)
	for _, a := range anomalies {
		if !seen[a.Metric] {
			seen[a.Metric] = true
			out = append(out, string(a.Metric))
		}
	}
	sort.Strings(out)
	return out
}
