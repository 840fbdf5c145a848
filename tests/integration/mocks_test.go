package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/services"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/internal/tracing"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

/* -------------------------------------------------------------------------- */
/*                    Fake observability backend (httptest)                    */
/* -------------------------------------------------------------------------- */

// fakeBackend speaks just enough of the Elasticsearch search API for the
// pipeline: service discovery, per-minute histograms, count and percentile
// aggregations, the event sweep, and runbook search. Scenarios program it
// with per-service series and fixed documents.
type fakeBackend struct {
	mu sync.Mutex

	// baseline per-minute values per service and metric. The detector only
	// consumes values, so bucket keys are synthesized.
	baseline map[string]map[models.MetricType][]float64
	// current aggregate value per service and metric for the lookback window.
	current map[string]map[models.MetricType]float64

	events   []map[string]interface{}
	runbooks []runbookDoc

	healthErr bool

	srv *httptest.Server
}

type runbookDoc struct {
	Score  float64
	Source map[string]interface{}
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		baseline: make(map[string]map[models.MetricType][]float64),
		current:  make(map[string]map[models.MetricType]float64),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

func (b *fakeBackend) Close() { b.srv.Close() }

// setSeries programs one (service, metric) pair: the baseline series the
// histogram returns and the current-window aggregate.
func (b *fakeBackend) setSeries(service string, metric models.MetricType, baseline []float64, current float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.baseline[service] == nil {
		b.baseline[service] = make(map[models.MetricType][]float64)
		b.current[service] = make(map[models.MetricType]float64)
	}
	b.baseline[service][metric] = baseline
	b.current[service][metric] = current
}

func (b *fakeBackend) setEvents(events []map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = events
}

func (b *fakeBackend) setRunbooks(docs []runbookDoc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runbooks = docs
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.URL.Path == "/_cluster/health" {
		if b.healthErr {
			http.Error(w, `{"error":"red"}`, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]interface{}{"status": "green"})
		return
	}

	var req searchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	switch {
	case strings.Contains(r.URL.Path, "incident-runbooks"):
		b.handleRunbookSearch(w)
	case strings.HasSuffix(r.URL.Path, "/_count"):
		b.handleCount(w, req)
	default:
		b.handleLogSearch(w, req)
	}
}

type searchRequest struct {
	Size  int                        `json:"size"`
	Sort  json.RawMessage            `json:"sort"`
	Query queryClause                `json:"query"`
	Aggs  map[string]json.RawMessage `json:"aggs"`
}

type queryClause struct {
	Bool struct {
		Filter []map[string]interface{} `json:"filter"`
	} `json:"bool"`
}

func (b *fakeBackend) handleCount(w http.ResponseWriter, req searchRequest) {
	service, _ := filterTermValue(req.Query.Bool.Filter, "service.name")
	writeJSON(w, map[string]interface{}{"count": b.current[service][models.MetricErrorRate]})
}

func (b *fakeBackend) handleLogSearch(w http.ResponseWriter, req searchRequest) {
	switch {
	case req.Aggs["services"] != nil:
		buckets := make([]map[string]interface{}, 0, len(b.baseline))
		for svc := range b.baseline {
			buckets = append(buckets, map[string]interface{}{"key": svc})
		}
		writeJSON(w, map[string]interface{}{
			"aggregations": map[string]interface{}{
				"services": map[string]interface{}{"buckets": buckets},
			},
		})

	case req.Aggs["over_time"] != nil:
		service, _ := filterTermValue(req.Query.Bool.Filter, "service.name")
		metric := metricFromFilters(req.Query.Bool.Filter)
		series := b.baseline[service][metric]

		start := time.Now().UTC().Add(-time.Duration(len(series)) * time.Minute)
		buckets := make([]map[string]interface{}, 0, len(series))
		for i, v := range series {
			bucket := map[string]interface{}{
				"key":       start.Add(time.Duration(i) * time.Minute).UnixMilli(),
				"doc_count": int(v),
			}
			if metric == models.MetricLatencyP99 {
				bucket["latency"] = map[string]interface{}{
					"values": map[string]interface{}{"99.0": v},
				}
			}
			buckets = append(buckets, bucket)
		}
		writeJSON(w, map[string]interface{}{
			"aggregations": map[string]interface{}{
				"over_time": map[string]interface{}{"buckets": buckets},
			},
		})

	case req.Aggs["latency"] != nil:
		service, _ := filterTermValue(req.Query.Bool.Filter, "service.name")
		writeJSON(w, map[string]interface{}{
			"aggregations": map[string]interface{}{
				"latency": map[string]interface{}{
					"values": map[string]interface{}{"99.0": b.current[service][models.MetricLatencyP99]},
				},
			},
		})

	default: // event sweep
		limit := req.Size
		if limit <= 0 || limit > len(b.events) {
			limit = len(b.events)
		}
		hits := make([]map[string]interface{}, 0, limit)
		for _, ev := range b.events[:limit] {
			hits = append(hits, map[string]interface{}{"_source": ev})
		}
		writeJSON(w, map[string]interface{}{
			"hits": map[string]interface{}{"hits": hits},
		})
	}
}

func (b *fakeBackend) handleRunbookSearch(w http.ResponseWriter) {
	hits := make([]map[string]interface{}, 0, len(b.runbooks))
	for _, rb := range b.runbooks {
		hits = append(hits, map[string]interface{}{
			"_score":  rb.Score,
			"_source": rb.Source,
		})
	}
	writeJSON(w, map[string]interface{}{
		"hits": map[string]interface{}{"hits": hits},
	})
}

func filterTermValue(filters []map[string]interface{}, field string) (string, bool) {
	for _, f := range filters {
		term, ok := f["term"].(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := term[field].(string); ok {
			return v, true
		}
	}
	return "", false
}

func metricFromFilters(filters []map[string]interface{}) models.MetricType {
	if v, ok := filterTermValue(filters, "level"); ok && v == "error" {
		return models.MetricErrorRate
	}
	return models.MetricLatencyP99
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

/* -------------------------------------------------------------------------- */
/*                      Fake language-model API (httptest)                     */
/* -------------------------------------------------------------------------- */

// fakeAnalyzerAPI stands in for the Anthropic messages endpoint. Tests set
// the status and the content text it returns, and read back the call count.
type fakeAnalyzerAPI struct {
	mu     sync.Mutex
	status int
	text   string
	calls  int

	srv *httptest.Server
}

func newFakeAnalyzerAPI(status int, text string) *fakeAnalyzerAPI {
	a := &fakeAnalyzerAPI{status: status, text: text}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	return a
}

func (a *fakeAnalyzerAPI) Close() { a.srv.Close() }

func (a *fakeAnalyzerAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *fakeAnalyzerAPI) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.calls++
	status, text := a.status, a.text
	a.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, status)
		return
	}
	writeJSON(w, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"usage": map[string]interface{}{"input_tokens": 400, "output_tokens": 120},
	})
}

/* -------------------------------------------------------------------------- */
/*                            Recording notifiers                              */
/* -------------------------------------------------------------------------- */

// recordingNotifier captures every dispatched incident. It stands in for
// both channels; the PagerDuty endpoint is not configurable so paging is
// verified at the notifier seam.
type recordingNotifier struct {
	mu        sync.Mutex
	name      string
	incidents []*models.Incident
	err       error
}

func newRecordingNotifier(name string) *recordingNotifier {
	return &recordingNotifier{name: name}
}

func (n *recordingNotifier) Notify(_ context.Context, incident *models.Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.incidents = append(n.incidents, incident.Clone())
	return nil
}

func (n *recordingNotifier) Channel() string { return n.name }

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incidents)
}

func (n *recordingNotifier) last() *models.Incident {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.incidents) == 0 {
		return nil
	}
	return n.incidents[len(n.incidents)-1]
}

/* -------------------------------------------------------------------------- */
/*                              Pipeline harness                               */
/* -------------------------------------------------------------------------- */

// harness wires a full pipeline against the fakes, mirroring the production
// assembly in cmd/server.
type harness struct {
	backend *fakeBackend
	llm     *fakeAnalyzerAPI
	chat    *recordingNotifier
	pager   *recordingNotifier
	store   *store.IncidentStore
	pipe    *services.PipelineService
	cfg     *config.Config
}

func newHarness(backend *fakeBackend, llm *fakeAnalyzerAPI) (*harness, error) {
	cfg := config.GetDefaultConfig()
	cfg.Elasticsearch.Endpoints = []string{backend.srv.URL}
	cfg.Analyzer.Endpoint = llm.srv.URL
	cfg.Analyzer.APIKey = "test-key"
	cfg.Analyzer.TimeoutSeconds = 5

	log := logger.NewNop()
	es := services.NewElasticsearchService(cfg.Elasticsearch, log)

	provider, err := services.NewAnthropicProvider(cfg.Analyzer, log)
	if err != nil {
		return nil, fmt.Errorf("provider setup failed: %w", err)
	}

	chat := newRecordingNotifier("slack")
	pager := newRecordingNotifier("pagerduty")

	cooldown := time.Duration(cfg.Incidents.DedupCooldownMinutes) * time.Minute
	st := store.NewIncidentStore(cfg.Incidents.MaxIncidents, cooldown, log)

	detector := services.NewDetectorService(cfg.Detection, cfg.Polling, es, log)
	correlator := services.NewCorrelatorService(cfg.Correlation, es, log)
	runbooks := services.NewRunbookService(es, log)
	analyzer := services.NewAnalyzerService(cfg.Analyzer, provider, log)
	manager := services.NewIncidentManagerService(cfg.Incidents, st, chat, pager, log)

	pipe := services.NewPipelineService(detector, correlator, runbooks, analyzer, manager, tracing.NewPipelineTracer(), log)

	return &harness{
		backend: backend,
		llm:     llm,
		chat:    chat,
		pager:   pager,
		store:   st,
		pipe:    pipe,
		cfg:     cfg,
	}, nil
}

/* -------------------------------------------------------------------------- */
/*                              Series builders                                */
/* -------------------------------------------------------------------------- */

// steadyBaseline alternates mean-1 and mean+1, giving an exact mean and a
// population stddev of exactly 1.
func steadyBaseline(mean float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = mean - 1
		} else {
			out[i] = mean + 1
		}
	}
	return out
}

// flatBaseline is a zero-variance series; the detector skips the metric.
func flatBaseline(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func errorEvent(ts time.Time, service, message, traceID string) map[string]interface{} {
	return map[string]interface{}{
		"@timestamp":   ts.UTC().Format(time.RFC3339),
		"service.name": service,
		"level":        "error",
		"message":      message,
		"trace.id":     traceID,
		"status_code":  503,
	}
}
