package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

type fakeNotifier struct {
	name     string
	err      error
	onNotify func(*models.Incident)
	notified []*models.Incident
}

func (f *fakeNotifier) Notify(_ context.Context, incident *models.Incident) error {
	f.notified = append(f.notified, incident)
	if f.onNotify != nil {
		f.onNotify(incident)
	}
	return f.err
}

func (f *fakeNotifier) Channel() string { return f.name }

func managerFixture(chat, pager Notifier) (*IncidentManagerService, *store.IncidentStore) {
	st := store.NewIncidentStore(1000, 30*time.Minute, logger.NewNop())
	m := NewIncidentManagerService(
		config.IncidentsConfig{
			DedupCooldownMinutes: 30,
			MaxIncidents:         1000,
			PagerDutySeverities:  []string{"P1", "P2"},
		},
		st, chat, pager, logger.NewNop(),
	)
	return m, st
}

func candidateFor(anomalies ...models.Anomaly) Candidate {
	return newCandidate(anomalies, nil)
}

func p1Anomaly(service string) models.Anomaly {
	return models.Anomaly{
		Service:        service,
		Metric:         models.MetricErrorRate,
		CurrentValue:   50,
		BaselineMean:   2,
		BaselineStddev: 1,
		ZScore:         48,
		Severity:       models.SeverityP1,
		DetectedAt:     time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
}

func TestGroupCandidatesSingleWhenServicesIntersect(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	anomalies := []models.Anomaly{
		p1Anomaly("payment"),
		p1Anomaly("order"),
		p1Anomaly("gateway"),
	}
	events := make([]models.CorrelatedEvent, 0, 40)
	for i := 0; i < 40; i++ {
		svc := []string{"payment", "order", "gateway"}[i%3]
		events = append(events, models.CorrelatedEvent{
			Timestamp: time.Date(2026, 8, 25, 10, 0, i, 0, time.UTC),
			Service:   svc,
			Level:     "error",
			Message:   "cascading failure",
		})
	}

	candidates := m.GroupCandidates(anomalies, events)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, []string{"gateway", "order", "payment"}, c.Services)
	assert.Equal(t, models.SeverityP1, c.Severity)
	assert.Len(t, c.Anomalies, 3)
	assert.Len(t, c.Events, 40)
	assert.NotEmpty(t, c.DedupKey)
}

func TestGroupCandidatesPerServiceWithoutIntersection(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	anomalies := []models.Anomaly{p1Anomaly("zeta"), p1Anomaly("alpha")}
	events := []models.CorrelatedEvent{
		{Timestamp: time.Now().UTC(), Service: "unrelated-service", Level: "warn", Message: "noise"},
	}

	candidates := m.GroupCandidates(anomalies, events)
	require.Len(t, candidates, 2)
	assert.Equal(t, []string{"alpha"}, candidates[0].Services)
	assert.Equal(t, []string{"zeta"}, candidates[1].Services)
	assert.Empty(t, candidates[0].Events)
	assert.Empty(t, candidates[1].Events)
	assert.NotEqual(t, candidates[0].DedupKey, candidates[1].DedupKey)
}

func TestGroupCandidatesEmpty(t *testing.T) {
	m, _ := managerFixture(nil, nil)
	assert.Nil(t, m.GroupCandidates(nil, nil))
}

func TestCreateCommitsBeforeNotifying(t *testing.T) {
	var sawInStore bool
	chat := &fakeNotifier{name: "slack"}
	m, st := managerFixture(chat, nil)
	chat.onNotify = func(incident *models.Incident) {
		_, sawInStore = st.Get(incident.ID)
	}

	incident, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)
	assert.True(t, sawInStore, "incident must be in the store when the notifier fires")

	stored, ok := st.Get(incident.ID)
	require.True(t, ok)
	assert.Equal(t, models.IncidentActive, stored.Status)
}

func TestCreateTitleFallback(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	incident, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "P1: error_rate anomaly on payment-service", incident.Title)
}

func TestCreateTitleFromAnalysis(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	analysis := &models.Analysis{Summary: "Payment DB pool exhausted", Confidence: "high"}
	incident, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, analysis)
	require.NoError(t, err)
	assert.Equal(t, "Payment DB pool exhausted", incident.Title)
	assert.Same(t, analysis, incident.Analysis)
}

func TestCreateNormalizesEmptyCollections(t *testing.T) {
	m, st := managerFixture(nil, nil)

	incident, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)

	stored, ok := st.Get(incident.ID)
	require.True(t, ok)
	assert.NotNil(t, stored.CorrelatedEvents)
	assert.Empty(t, stored.CorrelatedEvents)
	assert.NotNil(t, stored.MatchedRunbooks)
	assert.Empty(t, stored.MatchedRunbooks)
	assert.Nil(t, stored.Analysis)
}

func TestDispatchPagesHighSeverities(t *testing.T) {
	chat := &fakeNotifier{name: "slack"}
	pager := &fakeNotifier{name: "pagerduty"}
	m, _ := managerFixture(chat, pager)

	_, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)
	assert.Len(t, chat.notified, 1)
	assert.Len(t, pager.notified, 1)
}

func TestDispatchSkipsPagerForLowSeverity(t *testing.T) {
	chat := &fakeNotifier{name: "slack"}
	pager := &fakeNotifier{name: "pagerduty"}
	m, _ := managerFixture(chat, pager)

	a := p1Anomaly("cart-service")
	a.Severity = models.SeverityP3
	a.ZScore = 2.8

	_, err := m.Create(context.Background(), candidateFor(a), nil, nil)
	require.NoError(t, err)
	assert.Len(t, chat.notified, 1)
	assert.Empty(t, pager.notified)
}

func TestDispatchChatFailureStillPages(t *testing.T) {
	chat := &fakeNotifier{name: "slack", err: errors.New("channel_not_found")}
	pager := &fakeNotifier{name: "pagerduty"}
	m, st := managerFixture(chat, pager)

	incident, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)
	assert.Len(t, pager.notified, 1)

	_, ok := st.Get(incident.ID)
	assert.True(t, ok, "notifier failure must not roll back the incident")
}

func TestIsDuplicateWithinCooldown(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	c := candidateFor(p1Anomaly("payment-service"))
	assert.False(t, m.IsDuplicate(c), "no prior incident yet")

	_, err := m.Create(context.Background(), c, nil, nil)
	require.NoError(t, err)
	assert.True(t, m.IsDuplicate(c), "identical candidate within cooldown must be suppressed")
}

func TestIsDuplicateExpiresAfterCooldown(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	c := candidateFor(p1Anomaly("payment-service"))
	m.now = func() time.Time { return time.Now().UTC().Add(-31 * time.Minute) }
	_, err := m.Create(context.Background(), c, nil, nil)
	require.NoError(t, err)

	assert.False(t, m.IsDuplicate(c), "cooldown elapsed, candidate may alert again")
}

func TestIsDuplicateDistinguishesSeverity(t *testing.T) {
	m, _ := managerFixture(nil, nil)

	p1 := candidateFor(p1Anomaly("payment-service"))
	_, err := m.Create(context.Background(), p1, nil, nil)
	require.NoError(t, err)

	a := p1Anomaly("payment-service")
	a.Severity = models.SeverityP2
	a.ZScore = 4.0
	p2 := candidateFor(a)
	assert.False(t, m.IsDuplicate(p2), "different severity produces a different dedup key")
}

func TestCreateSameSecondIDsStayUnique(t *testing.T) {
	m, _ := managerFixture(nil, nil)
	fixed := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	ids := make(map[string]bool)
	services := []string{"a", "b", "c", "d"}
	for _, svc := range services {
		incident, err := m.Create(context.Background(), candidateFor(p1Anomaly(svc)), nil, nil)
		require.NoError(t, err)
		assert.False(t, ids[incident.ID], "id %s already allocated", incident.ID)
		ids[incident.ID] = true
	}
	assert.Len(t, ids, len(services))
}

func TestCreatedHookRunsBeforeNotify(t *testing.T) {
	var order []string
	chat := &fakeNotifier{name: "slack", onNotify: func(*models.Incident) {
		order = append(order, "notify")
	}}
	m, _ := managerFixture(chat, nil)
	m.SetCreatedHook(func(*models.Incident) {
		order = append(order, "hook")
	})

	_, err := m.Create(context.Background(), candidateFor(p1Anomaly("payment-service")), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hook", "notify"}, order)
}
