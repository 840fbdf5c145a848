package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/platformbuilds/sentinelops/internal/api"
	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/search"
	"github.com/platformbuilds/sentinelops/internal/services"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/cache"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

type APITestSuite struct {
	suite.Suite
	backend    *fakeBackend
	store      *store.IncidentStore
	index      *search.IncidentIndex
	server     *api.Server
	testServer *httptest.Server
	client     *http.Client

	p1 *models.Incident
	p3 *models.Incident
}

func (suite *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	cfg := config.GetDefaultConfig()
	cfg.Environment = "test"

	log := logger.NewNop()

	suite.backend = newFakeBackend()
	cfg.Elasticsearch.Endpoints = []string{suite.backend.srv.URL}
	esService := services.NewElasticsearchService(cfg.Elasticsearch, log)

	suite.store = store.NewIncidentStore(cfg.Incidents.MaxIncidents, 30*time.Minute, log)

	var err error
	suite.index, err = search.NewIncidentIndex(log)
	suite.Require().NoError(err)

	// One recent P1 on payment-service and one older P3 on auth-service.
	suite.p1 = suite.seedIncident(time.Now().UTC().Add(-5*time.Minute), models.SeverityP1,
		"payment-service", "P1: error_rate anomaly on payment-service")
	suite.p3 = suite.seedIncident(time.Now().UTC().Add(-2*time.Hour), models.SeverityP3,
		"auth-service", "P3: latency_p99 anomaly on auth-service")

	suite.server = api.NewServer(cfg, log, cache.NewNoopValkeyCache(log), suite.store, suite.index, esService)
	suite.testServer = httptest.NewServer(suite.server.Handler())
	suite.client = &http.Client{Timeout: 10 * time.Second}
}

func (suite *APITestSuite) TearDownSuite() {
	suite.testServer.Close()
	suite.backend.Close()
	_ = suite.index.Close()
}

func (suite *APITestSuite) seedIncident(createdAt time.Time, severity models.Severity, service, title string) *models.Incident {
	metric := models.MetricErrorRate
	if severity == models.SeverityP3 {
		metric = models.MetricLatencyP99
	}
	anomalies := []models.Anomaly{{
		Service:        service,
		Metric:         metric,
		CurrentValue:   50,
		BaselineMean:   2,
		BaselineStddev: 1,
		ZScore:         48,
		Severity:       severity,
		DetectedAt:     createdAt,
	}}

	inc := &models.Incident{
		ID:               suite.store.AllocateID(createdAt),
		CreatedAt:        createdAt,
		Severity:         severity,
		Title:            title,
		Services:         []string{service},
		Anomalies:        anomalies,
		CorrelatedEvents: []models.CorrelatedEvent{},
		MatchedRunbooks:  []models.RunbookMatch{},
		DedupKey:         models.ComputeDedupKey(anomalies),
		Status:           models.IncidentActive,
	}
	suite.Require().NoError(suite.store.Put(inc))
	suite.Require().NoError(suite.index.Index(inc))
	return inc
}

func (suite *APITestSuite) getJSON(path string, out interface{}) *http.Response {
	resp, err := suite.client.Get(suite.testServer.URL + path)
	suite.Require().NoError(err)
	defer resp.Body.Close()
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func (suite *APITestSuite) TestHealthEndpoint() {
	var health map[string]interface{}
	resp := suite.getJSON("/health", &health)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "ok", health["status"])
	assert.Equal(suite.T(), float64(2), health["incidents_tracked"])

	components := health["components"].(map[string]interface{})
	es := components["elasticsearch"].(map[string]interface{})
	assert.Equal(suite.T(), "healthy", es["status"])
}

func (suite *APITestSuite) TestListIncidentsNewestFirst() {
	var listResp struct {
		Total     int                      `json:"total"`
		Incidents []models.IncidentSummary `json:"incidents"`
	}
	resp := suite.getJSON("/api/v1/incidents", &listResp)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), 2, listResp.Total)
	suite.Require().Len(listResp.Incidents, 2)
	assert.Equal(suite.T(), suite.p1.ID, listResp.Incidents[0].ID, "newest first")
	assert.Equal(suite.T(), suite.p3.ID, listResp.Incidents[1].ID)
	assert.Equal(suite.T(), 1, listResp.Incidents[0].AnomalyCount)
}

func (suite *APITestSuite) TestListIncidentsPagination() {
	var page struct {
		Total     int                      `json:"total"`
		Incidents []models.IncidentSummary `json:"incidents"`
	}
	suite.getJSON("/api/v1/incidents?limit=1&offset=1", &page)

	assert.Equal(suite.T(), 2, page.Total)
	suite.Require().Len(page.Incidents, 1)
	assert.Equal(suite.T(), suite.p3.ID, page.Incidents[0].ID)
}

func (suite *APITestSuite) TestGetIncident() {
	var inc models.Incident
	resp := suite.getJSON("/api/v1/incidents/"+suite.p1.ID, &inc)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), suite.p1.ID, inc.ID)
	assert.Equal(suite.T(), models.SeverityP1, inc.Severity)
	assert.Equal(suite.T(), []string{"payment-service"}, inc.Services)
	suite.Require().Len(inc.Anomalies, 1)
	assert.Equal(suite.T(), models.MetricErrorRate, inc.Anomalies[0].Metric)
}

func (suite *APITestSuite) TestGetIncidentNotFound() {
	var errResp map[string]interface{}
	resp := suite.getJSON("/api/v1/incidents/INC-00000000000000", &errResp)

	assert.Equal(suite.T(), http.StatusNotFound, resp.StatusCode)
	assert.Equal(suite.T(), "error", errResp["status"])
}

func (suite *APITestSuite) TestSearchIncidents() {
	var searchResp struct {
		Total uint64 `json:"total"`
		Query string `json:"query"`
		Hits  []struct {
			Score    float64                `json:"score"`
			Incident models.IncidentSummary `json:"incident"`
		} `json:"hits"`
	}
	resp := suite.getJSON("/api/v1/incidents/search?q=payment", &searchResp)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	suite.Require().Len(searchResp.Hits, 1)
	assert.Equal(suite.T(), suite.p1.ID, searchResp.Hits[0].Incident.ID)
}

func (suite *APITestSuite) TestSearchBySeverityField() {
	var searchResp struct {
		Hits []struct {
			Incident models.IncidentSummary `json:"incident"`
		} `json:"hits"`
	}
	suite.getJSON("/api/v1/incidents/search?q=severity:P3", &searchResp)

	suite.Require().Len(searchResp.Hits, 1)
	assert.Equal(suite.T(), suite.p3.ID, searchResp.Hits[0].Incident.ID)
}

func (suite *APITestSuite) TestServicesRollup() {
	var rollup struct {
		Services []models.ServiceSummary `json:"services"`
	}
	resp := suite.getJSON("/api/v1/services", &rollup)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	suite.Require().Len(rollup.Services, 2)

	// Worst first: the recent P1 makes payment-service critical; the
	// 2-hour-old P3 is outside the status window so auth-service reads
	// healthy while keeping its incident count.
	first := rollup.Services[0]
	assert.Equal(suite.T(), "payment-service", first.Service)
	assert.Equal(suite.T(), models.ServiceStatusCritical, first.Status)
	assert.Equal(suite.T(), 1, first.IncidentCount)

	second := rollup.Services[1]
	assert.Equal(suite.T(), "auth-service", second.Service)
	assert.Equal(suite.T(), models.ServiceStatusHealthy, second.Status)
	assert.Equal(suite.T(), 1, second.IncidentCount)
}

func (suite *APITestSuite) TestRootAliases() {
	for _, path := range []string{"/incidents", "/services", fmt.Sprintf("/incidents/%s", suite.p1.ID)} {
		resp, err := suite.client.Get(suite.testServer.URL + path)
		suite.Require().NoError(err)
		resp.Body.Close()
		assert.Equal(suite.T(), http.StatusOK, resp.StatusCode, path)
	}
}

func (suite *APITestSuite) TestRateLimitHeaders() {
	resp, err := suite.client.Get(suite.testServer.URL + "/health")
	suite.Require().NoError(err)
	resp.Body.Close()

	assert.NotEmpty(suite.T(), resp.Header.Get("X-Rate-Limit-Limit"))
	assert.NotEmpty(suite.T(), resp.Header.Get("X-Rate-Limit-Remaining"))
}

func (suite *APITestSuite) TestMetricsEndpoint() {
	resp, err := suite.client.Get(suite.testServer.URL + "/metrics")
	suite.Require().NoError(err)
	defer resp.Body.Close()
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
