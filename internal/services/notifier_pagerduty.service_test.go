package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

func newTestPagerDuty(t *testing.T, endpoint string) *PagerDutyNotifier {
	t.Helper()
	n, err := NewPagerDutyNotifier(config.PagerDutyConfig{Enabled: true, RoutingKey: "rk-test"}, logger.NewNop())
	require.NoError(t, err)
	n.endpoint = endpoint
	return n
}

func TestPagerDutyRequiresRoutingKey(t *testing.T) {
	_, err := NewPagerDutyNotifier(config.PagerDutyConfig{Enabled: true}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAGERDUTY_ROUTING_KEY")
}

func TestPagerDutyTriggerPayload(t *testing.T) {
	var got pagerDutyEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	incident := notifierIncident()
	err := newTestPagerDuty(t, srv.URL).Notify(context.Background(), incident)
	require.NoError(t, err)

	assert.Equal(t, "rk-test", got.RoutingKey)
	assert.Equal(t, "trigger", got.EventAction)
	assert.Equal(t, incident.DedupKey, got.DedupKey)
	assert.Equal(t, "[P1] Payment errors spiking due to DB pool exhaustion", got.Payload.Summary)
	assert.Equal(t, "critical", got.Payload.Severity)
	assert.Equal(t, "sentinelops", got.Payload.Source)
	assert.Equal(t, "payment-service", got.Payload.Component)
	assert.Equal(t, incident.ID, got.Payload.CustomDetails["incident_id"])
	assert.Contains(t, got.Payload.CustomDetails["remediation"], "1. scale the pool")
}

func TestPagerDutySeverityMapping(t *testing.T) {
	cases := []struct {
		severity models.Severity
		want     string
	}{
		{models.SeverityP1, "critical"},
		{models.SeverityP2, "error"},
		{models.SeverityP3, "warning"},
		{models.SeverityP4, "info"},
	}

	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			var got pagerDutyEvent
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(http.StatusAccepted)
			}))
			defer srv.Close()

			incident := notifierIncident()
			incident.Severity = tc.severity
			require.NoError(t, newTestPagerDuty(t, srv.URL).Notify(context.Background(), incident))
			assert.Equal(t, tc.want, got.Payload.Severity)
		})
	}
}

func TestPagerDutyRejectedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"invalid event","message":"routing key unknown"}`))
	}))
	defer srv.Close()

	err := newTestPagerDuty(t, srv.URL).Notify(context.Background(), notifierIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pagerduty returned status 400")
}
