package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// ErrDuplicateID is returned by Put when the incident id is already taken.
// The caller re-allocates and retries.
var ErrDuplicateID = errors.New("incident id already exists")

// IncidentStore keeps incident records in process memory. Lookup by id and
// by dedup key is O(1); retention evicts the oldest records once the
// configured cap is exceeded. Readers always receive copies, so stored
// records cannot be mutated from outside.
type IncidentStore struct {
	mu sync.RWMutex

	byID    map[string]*models.Incident
	byDedup map[string]string // dedup key -> most recent incident id
	order   []string          // ids ascending by created_at, ties in insert order

	maxIncidents int
	cooldown     time.Duration
	onEvict      func(id string)

	logger logger.Logger
	now    func() time.Time
}

func NewIncidentStore(maxIncidents int, cooldown time.Duration, log logger.Logger) *IncidentStore {
	return &IncidentStore{
		byID:         make(map[string]*models.Incident),
		byDedup:      make(map[string]string),
		maxIncidents: maxIncidents,
		cooldown:     cooldown,
		logger:       log,
		now:          time.Now,
	}
}

// AllocateID returns the first free id for the given creation time: the bare
// INC-YYYYMMDDhhmmss form when available, otherwise the smallest -N suffix.
func (s *IncidentStore) AllocateID(createdAt time.Time) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := models.FormatIncidentID(createdAt)
	if _, taken := s.byID[base]; !taken {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, taken := s.byID[candidate]; !taken {
			return candidate
		}
	}
}

// SetEvictionHook registers a callback invoked with each id dropped by
// retention. Used to keep the search index aligned with the store. Must be
// called before the pipeline starts writing.
func (s *IncidentStore) SetEvictionHook(fn func(id string)) {
	s.onEvict = fn
}

// Put inserts a copy of the incident. An id collision returns ErrDuplicateID
// without modifying the store. Inserting past the retention cap evicts the
// oldest incidents by created_at.
func (s *IncidentStore) Put(inc *models.Incident) error {
	s.mu.Lock()
	if _, exists := s.byID[inc.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, inc.ID)
	}

	cp := inc.Clone()
	s.byID[cp.ID] = cp
	if prev, ok := s.byDedup[cp.DedupKey]; !ok || !s.byID[prev].CreatedAt.After(cp.CreatedAt) {
		s.byDedup[cp.DedupKey] = cp.ID
	}
	s.insertOrderedLocked(cp)
	evicted := s.evictLocked()
	size := len(s.byID)
	s.mu.Unlock()

	metrics.IncidentsTracked.Set(float64(size))

	// The hook runs outside the lock so it may call back into the store.
	if s.onEvict != nil {
		for _, id := range evicted {
			s.onEvict(id)
		}
	}
	return nil
}

// insertOrderedLocked keeps s.order ascending by created_at. Equal
// timestamps preserve insertion order so same-second ids list newest-first.
func (s *IncidentStore) insertOrderedLocked(inc *models.Incident) {
	idx := sort.Search(len(s.order), func(i int) bool {
		return s.byID[s.order[i]].CreatedAt.After(inc.CreatedAt)
	})
	s.order = append(s.order, "")
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = inc.ID
}

func (s *IncidentStore) evictLocked() []string {
	var evicted []string
	for len(s.order) > s.maxIncidents {
		oldest := s.order[0]
		s.order = s.order[1:]

		inc := s.byID[oldest]
		delete(s.byID, oldest)
		if inc != nil && s.byDedup[inc.DedupKey] == oldest {
			delete(s.byDedup, inc.DedupKey)
		}
		evicted = append(evicted, oldest)
		if s.logger != nil {
			s.logger.Debug("evicted incident for retention", "id", oldest)
		}
	}
	return evicted
}

// Get returns a copy of the incident with its status computed against the
// cooldown window, or false when the id is unknown.
func (s *IncidentStore) Get(id string) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.snapshot(inc), true
}

// FindActiveByDedupKey returns the most recent incident carrying the key
// whose created_at lies within the given window of now.
func (s *IncidentStore) FindActiveByDedupKey(key string, within time.Duration) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDedup[key]
	if !ok {
		return nil, false
	}
	inc := s.byID[id]
	if inc == nil || s.now().Sub(inc.CreatedAt) >= within {
		return nil, false
	}
	return s.snapshot(inc), true
}

// List returns up to limit incidents starting at offset, descending by
// created_at.
func (s *IncidentStore) List(limit, offset int) []*models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || offset < 0 || offset >= len(s.order) {
		return []*models.Incident{}
	}

	out := make([]*models.Incident, 0, limit)
	for i := len(s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.snapshot(s.byID[s.order[i]]))
	}
	return out
}

func (s *IncidentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ServiceSummaries rolls the retained incidents up per service. Status,
// worst severity, and the anomaly list derive only from incidents created
// within window of now; incident counts and the newest-incident pointer span
// everything retained. Sorted worst status first, ties by service name.
func (s *IncidentStore) ServiceSummaries(window time.Duration) []models.ServiceSummary {
	s.mu.RLock()
	cutoff := s.now().Add(-window)
	byService := make(map[string]*models.ServiceSummary)
	for _, id := range s.order {
		inc := s.byID[id]
		recent := inc.CreatedAt.After(cutoff)
		counted := make(map[string]bool, 2)
		for _, a := range inc.Anomalies {
			entry, ok := byService[a.Service]
			if !ok {
				entry = &models.ServiceSummary{
					Service:   a.Service,
					Anomalies: []models.ServiceAnomaly{},
				}
				byService[a.Service] = entry
			}
			if !counted[a.Service] {
				counted[a.Service] = true
				entry.IncidentCount++
			}
			if entry.LastIncidentAt == nil || inc.CreatedAt.After(*entry.LastIncidentAt) {
				at := inc.CreatedAt
				entry.LastIncidentAt = &at
				entry.LastIncidentID = inc.ID
			}
			if !recent {
				continue
			}
			entry.WorstSeverity = models.MaxSeverity(entry.WorstSeverity, a.Severity)
			entry.Anomalies = append(entry.Anomalies, models.ServiceAnomaly{
				Metric:       a.Metric,
				ZScore:       a.ZScore,
				CurrentValue: a.CurrentValue,
				BaselineMean: a.BaselineMean,
				Severity:     a.Severity,
				Timestamp:    a.DetectedAt,
			})
		}
	}
	s.mu.RUnlock()

	out := make([]models.ServiceSummary, 0, len(byService))
	for _, entry := range byService {
		entry.Status = models.StatusForSeverity(entry.WorstSeverity)
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status.Rank() != out[j].Status.Rank() {
			return out[i].Status.Rank() > out[j].Status.Rank()
		}
		return out[i].Service < out[j].Service
	})
	return out
}

// snapshot copies the incident and stamps the lazily computed status:
// active until the cooldown elapses, cooling afterwards.
func (s *IncidentStore) snapshot(inc *models.Incident) *models.Incident {
	cp := inc.Clone()
	if s.now().Sub(cp.CreatedAt) >= s.cooldown {
		cp.Status = models.IncidentCooling
	} else {
		cp.Status = models.IncidentActive
	}
	return cp
}
