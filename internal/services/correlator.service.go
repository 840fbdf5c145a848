package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// EventReader is the slice of the observability client the correlator uses.
type EventReader interface {
	EventsInWindow(ctx context.Context, start, end time.Time, levels []string, limit int) ([]models.CorrelatedEvent, error)
}

// correlationLevels restricts the sweep to error and warn documents; info
// and debug lines never enter an incident.
var correlationLevels = []string{"error", "warn"}

// CorrelatorService pulls raw error/warn log events from every service
// around the anomaly window, so an incident shows cross-service blast
// radius instead of just the metrics that tripped.
type CorrelatorService struct {
	es        EventReader
	window    time.Duration
	maxEvents int
	logger    logger.Logger
}

func NewCorrelatorService(cfg config.CorrelationConfig, es EventReader, log logger.Logger) *CorrelatorService {
	return &CorrelatorService{
		es:        es,
		window:    time.Duration(cfg.WindowMinutes) * time.Minute,
		maxEvents: cfg.MaxEvents,
		logger:    log,
	}
}

// Correlate fetches events in [earliest-window, earliest+window] where
// earliest is the oldest DetectedAt across the anomaly group. Results are
// ordered ascending by (timestamp, service), deduplicated on
// (timestamp, service, message), and capped at max_events.
func (c *CorrelatorService) Correlate(ctx context.Context, anomalies []models.Anomaly) ([]models.CorrelatedEvent, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}

	pivot := anomalies[0].DetectedAt
	for _, a := range anomalies[1:] {
		if a.DetectedAt.Before(pivot) {
			pivot = a.DetectedAt
		}
	}
	start := pivot.Add(-c.window)
	end := pivot.Add(c.window)

	events, err := c.es.EventsInWindow(ctx, start, end, correlationLevels, c.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("event sweep failed: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Service < events[j].Service
	})

	type eventKey struct {
		ts      int64
		service string
		message string
	}
	seen := make(map[eventKey]bool, len(events))
	out := make([]models.CorrelatedEvent, 0, len(events))
	for _, e := range events {
		k := eventKey{ts: e.Timestamp.UnixNano(), service: e.Service, message: e.Message}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
		if len(out) >= c.maxEvents {
			break
		}
	}

	c.logger.Debug("event correlation complete",
		"window_start", start.Format(time.RFC3339),
		"window_end", end.Format(time.RFC3339),
		"fetched", len(events),
		"kept", len(out),
	)
	return out, nil
}
