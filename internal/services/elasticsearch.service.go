package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// MetricBucket is one minute of a baseline series. A nil Value marks a
// bucket the backend had no measurement for; those do not count toward
// min_data_points.
type MetricBucket struct {
	Time  time.Time
	Value *float64
}

// ElasticsearchService talks to the observability backend over its JSON
// search API. Endpoints are rotated round-robin; a bounded connection pool
// keeps per-tick fan-out in check.
type ElasticsearchService struct {
	endpoints []string
	indices   config.IndicesConfig
	timeout   time.Duration
	client    *http.Client
	logger    logger.Logger
	current   int
	mu        sync.Mutex

	username string
	password string
}

func NewElasticsearchService(cfg config.ElasticsearchConfig, log logger.Logger) *ElasticsearchService {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	return &ElasticsearchService{
		endpoints: cfg.Endpoints,
		indices:   cfg.Indices,
		timeout:   timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     10,
			},
		},
		logger:   log,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// DistinctServices returns the sorted set of service names with any log
// activity inside [since, until].
func (s *ElasticsearchService) DistinctServices(ctx context.Context, since, until time.Time) ([]string, error) {
	start := time.Now()
	body := map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte": since.UTC().Format(time.RFC3339),
					"lte": until.UTC().Format(time.RFC3339),
				},
			},
		},
		"aggs": map[string]interface{}{
			"services": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "service.name",
					"size":  200,
				},
			},
		},
	}

	var out struct {
		Aggregations struct {
			Services struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"services"`
		} `json:"aggregations"`
	}
	err := s.search(ctx, s.indices.Logs, body, &out)
	metrics.RecordESQuery("distinct_services", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	services := make([]string, 0, len(out.Aggregations.Services.Buckets))
	for _, b := range out.Aggregations.Services.Buckets {
		services = append(services, b.Key)
	}
	sort.Strings(services)
	return services, nil
}

// AggregateValue returns the metric's single value over [start, end]: the
// error document count for error_rate, the p99 of duration_ms for
// latency_p99.
func (s *ElasticsearchService) AggregateValue(ctx context.Context, service string, metric models.MetricType, start, end time.Time) (float64, error) {
	switch metric {
	case models.MetricErrorRate:
		return s.errorCount(ctx, service, start, end)
	case models.MetricLatencyP99:
		return s.latencyPercentile(ctx, service, start, end)
	}
	return 0, fmt.Errorf("unknown metric type %q", metric)
}

func (s *ElasticsearchService) errorCount(ctx context.Context, service string, start, end time.Time) (float64, error) {
	began := time.Now()
	body := map[string]interface{}{
		"query": boolFilter(
			termClause("service.name", service),
			termClause("level", "error"),
			rangeClause(start, end),
		),
	}

	var out struct {
		Count float64 `json:"count"`
	}
	err := s.post(ctx, s.indices.Logs+"/_count", body, &out)
	metrics.RecordESQuery("error_count", time.Since(began).Seconds(), err)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (s *ElasticsearchService) latencyPercentile(ctx context.Context, service string, start, end time.Time) (float64, error) {
	began := time.Now()
	body := map[string]interface{}{
		"size": 0,
		"query": boolFilter(
			termClause("service.name", service),
			rangeClause(start, end),
			map[string]interface{}{"exists": map[string]interface{}{"field": "duration_ms"}},
		),
		"aggs": map[string]interface{}{
			"latency": percentilesAgg(),
		},
	}

	var out struct {
		Aggregations struct {
			Latency struct {
				Values map[string]*float64 `json:"values"`
			} `json:"latency"`
		} `json:"aggregations"`
	}
	err := s.search(ctx, s.indices.Logs, body, &out)
	metrics.RecordESQuery("latency_percentile", time.Since(began).Seconds(), err)
	if err != nil {
		return 0, err
	}
	if v := out.Aggregations.Latency.Values["99.0"]; v != nil {
		return *v, nil
	}
	return 0, nil
}

// BucketedSeries returns the per-minute baseline series for the metric over
// [start, end]. Latency buckets with no samples come back nil.
func (s *ElasticsearchService) BucketedSeries(ctx context.Context, service string, metric models.MetricType, start, end time.Time) ([]MetricBucket, error) {
	began := time.Now()

	filters := []map[string]interface{}{
		termClause("service.name", service),
		rangeClause(start, end),
	}
	histogram := map[string]interface{}{
		"date_histogram": map[string]interface{}{
			"field":          "@timestamp",
			"fixed_interval": "1m",
		},
	}
	switch metric {
	case models.MetricErrorRate:
		filters = append(filters, termClause("level", "error"))
	case models.MetricLatencyP99:
		filters = append(filters, map[string]interface{}{"exists": map[string]interface{}{"field": "duration_ms"}})
		histogram["aggs"] = map[string]interface{}{"latency": percentilesAgg()}
	default:
		return nil, fmt.Errorf("unknown metric type %q", metric)
	}

	body := map[string]interface{}{
		"size":  0,
		"query": boolFilter(filters...),
		"aggs":  map[string]interface{}{"over_time": histogram},
	}

	var out struct {
		Aggregations struct {
			OverTime struct {
				Buckets []struct {
					Key      int64 `json:"key"`
					DocCount int   `json:"doc_count"`
					Latency  *struct {
						Values map[string]*float64 `json:"values"`
					} `json:"latency,omitempty"`
				} `json:"buckets"`
			} `json:"over_time"`
		} `json:"aggregations"`
	}
	err := s.search(ctx, s.indices.Logs, body, &out)
	metrics.RecordESQuery("bucketed_series", time.Since(began).Seconds(), err)
	if err != nil {
		return nil, err
	}

	buckets := make([]MetricBucket, 0, len(out.Aggregations.OverTime.Buckets))
	for _, b := range out.Aggregations.OverTime.Buckets {
		mb := MetricBucket{Time: time.UnixMilli(b.Key).UTC()}
		switch metric {
		case models.MetricErrorRate:
			v := float64(b.DocCount)
			mb.Value = &v
		case models.MetricLatencyP99:
			if b.Latency != nil {
				mb.Value = b.Latency.Values["99.0"]
			}
		}
		buckets = append(buckets, mb)
	}
	return buckets, nil
}

// EventsInWindow returns raw log documents with a matching level inside
// [start, end], ascending by timestamp, capped at limit.
func (s *ElasticsearchService) EventsInWindow(ctx context.Context, start, end time.Time, levels []string, limit int) ([]models.CorrelatedEvent, error) {
	began := time.Now()
	body := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "asc"}},
		},
		"query": boolFilter(
			map[string]interface{}{"terms": map[string]interface{}{"level": levels}},
			rangeClause(start, end),
		),
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err := s.search(ctx, s.indices.Logs, body, &out)
	metrics.RecordESQuery("events_in_window", time.Since(began).Seconds(), err)
	if err != nil {
		return nil, err
	}

	events := make([]models.CorrelatedEvent, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		events = append(events, parseEventSource(h.Source))
	}
	return events, nil
}

// SearchRunbooks matches historical runbook documents against the affected
// services and metric keywords, ranked by backend relevance score.
func (s *ElasticsearchService) SearchRunbooks(ctx context.Context, services, keywords []string, maxResults int) ([]models.RunbookMatch, error) {
	began := time.Now()

	should := make([]map[string]interface{}, 0, 1+2*len(keywords))
	if len(services) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{"services_affected": services},
		})
	}
	for i, kw := range keywords {
		if i >= 10 {
			break
		}
		should = append(should,
			map[string]interface{}{"match": map[string]interface{}{"root_cause": kw}},
			map[string]interface{}{"match": map[string]interface{}{"tags": kw}},
		)
	}
	if len(should) == 0 {
		return []models.RunbookMatch{}, nil
	}

	body := map[string]interface{}{
		"size": maxResults,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"sort": []map[string]interface{}{
			{"_score": map[string]interface{}{"order": "desc"}},
		},
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					Title            string   `json:"title"`
					IncidentDate     string   `json:"incident_date"`
					ServicesAffected []string `json:"services_affected"`
					RootCause        string   `json:"root_cause"`
					ResolutionSteps  []string `json:"resolution_steps"`
					Tags             []string `json:"tags"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err := s.search(ctx, s.indices.Runbooks, body, &out)
	metrics.RecordESQuery("runbook_search", time.Since(began).Seconds(), err)
	if err != nil {
		return nil, err
	}

	matches := make([]models.RunbookMatch, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		title := h.Source.Title
		if title == "" {
			title = "Untitled"
		}
		matches = append(matches, models.RunbookMatch{
			Title:            title,
			IncidentDate:     h.Source.IncidentDate,
			ServicesAffected: h.Source.ServicesAffected,
			RootCause:        h.Source.RootCause,
			ResolutionSteps:  h.Source.ResolutionSteps,
			Tags:             h.Source.Tags,
			Score:            h.Score,
		})
	}
	return matches, nil
}

// HealthCheck verifies the backend answers at all. Used at startup to decide
// exit code 2 and by the health endpoint afterwards.
func (s *ElasticsearchService) HealthCheck(ctx context.Context) error {
	endpoint := s.selectEndpoint()
	if endpoint == "" {
		return errors.New("no elasticsearch endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/_cluster/health", nil)
	if err != nil {
		return err
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elasticsearch health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (s *ElasticsearchService) search(ctx context.Context, index string, body map[string]interface{}, out interface{}) error {
	return s.post(ctx, index+"/_search", body, out)
}

func (s *ElasticsearchService) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	endpoint := s.selectEndpoint()
	if endpoint == "" {
		return errors.New("no elasticsearch endpoint configured")
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrBody(resp.Body)
		if msg != "" {
			return fmt.Errorf("elasticsearch %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("elasticsearch returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *ElasticsearchService) selectEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return ""
	}
	ep := s.endpoints[s.current%len(s.endpoints)]
	s.current++
	return ep
}

func boolFilter(clauses ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{"filter": clauses},
	}
}

func termClause(field, value string) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

func rangeClause(start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			"@timestamp": map[string]interface{}{
				"gte": start.UTC().Format(time.RFC3339),
				"lte": end.UTC().Format(time.RFC3339),
			},
		},
	}
}

func percentilesAgg() map[string]interface{} {
	return map[string]interface{}{
		"percentiles": map[string]interface{}{
			"field":    "duration_ms",
			"percents": []float64{99},
		},
	}
}

// parseEventSource tolerates both nested ({"service":{"name":...}}) and flat
// ({"service.name":...}) document shapes.
func parseEventSource(src map[string]interface{}) models.CorrelatedEvent {
	ev := models.CorrelatedEvent{
		Service: "unknown",
		Level:   stringField(src, "level"),
		Message: stringField(src, "message"),
	}

	if ts := stringField(src, "@timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.Timestamp = parsed.UTC()
		}
	}

	if svc, ok := src["service"].(map[string]interface{}); ok {
		if name, ok := svc["name"].(string); ok && name != "" {
			ev.Service = name
		}
	} else if name := stringField(src, "service.name"); name != "" {
		ev.Service = name
	} else if name := stringField(src, "service"); name != "" {
		ev.Service = name
	}

	if tr, ok := src["trace"].(map[string]interface{}); ok {
		if id, ok := tr["id"].(string); ok {
			ev.TraceID = id
		}
	} else if id := stringField(src, "trace.id"); id != "" {
		ev.TraceID = id
	} else if id := stringField(src, "trace_id"); id != "" {
		ev.TraceID = id
	}

	if code, ok := src["status_code"].(float64); ok {
		ev.StatusCode = int(code)
	}

	return ev
}

func stringField(src map[string]interface{}, key string) string {
	if v, ok := src[key].(string); ok {
		return v
	}
	return ""
}

func readErrBody(r io.Reader) string {
	const max = 64 * 1024
	b, _ := io.ReadAll(io.LimitReader(r, max))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	var m map[string]interface{}
	if json.Unmarshal(b, &m) == nil {
		if e, ok := m["error"].(map[string]interface{}); ok {
			if reason, ok := e["reason"].(string); ok && reason != "" {
				return reason
			}
		}
		if msg, ok := m["error"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := m["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return s
}
