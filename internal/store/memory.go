package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps everything in process. It backs the service when no DATABASE_URL is
// set and serves as the L1 tier in front of Redis or Postgres.
type Memory struct {
	mu      sync.RWMutex
	now     func() time.Time
	costs   map[string]memCost
	runs    map[string]Run
	order   []string // run ids, oldest first
	weights map[string][]WeightSnapshot

	dmu        sync.Mutex
	deliveries map[string]*WebhookDelivery
}

type memCost struct {
	Cost
	expires time.Time // zero means no expiry
}

func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		costs:      map[string]memCost{},
		runs:       map[string]Run{},
		weights:    map[string][]WeightSnapshot{},
		deliveries: map[string]*WebhookDelivery{},
	}
}

func (m *Memory) GetMany(ctx context.Context, keys []string) (map[string]Cost, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Cost, len(keys))
	for _, k := range keys {
		c, ok := m.costs[k]
		if !ok || (!c.expires.IsZero() && now.After(c.expires)) {
			continue
		}
		out[k] = c.Cost
	}
	return out, nil
}

func (m *Memory) PutMany(ctx context.Context, entries map[string]Cost, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range entries {
		m.costs[k] = memCost{Cost: c, expires: exp}
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.costs = map[string]memCost{}
	m.mu.Unlock()
	return nil
}

// Prune drops expired cache entries and reports how many were removed.
func (m *Memory) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.costs {
		if !c.expires.IsZero() && now.After(c.expires) {
			delete(m.costs, k)
			n++
		}
	}
	return n
}

func (m *Memory) SaveRun(ctx context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Run{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.order[i]])
	}
	return out, nil
}

func (m *Memory) SaveWeights(ctx context.Context, runID string, snaps []WeightSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights[runID] = append(m.weights[runID], snaps...)
	return nil
}

func (m *Memory) ListWeights(ctx context.Context, runID string) ([]WeightSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(m.weights[runID]), nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	m.dmu.Lock()
	defer m.dmu.Unlock()
	m.deliveries[id] = &WebhookDelivery{
		ID: id, EventType: eventType, URL: url, Secret: secret,
		Payload: slices.Clone(payload), Status: "pending", NextAttemptAt: m.now(),
	}
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	now := m.now()
	m.dmu.Lock()
	defer m.dmu.Unlock()
	var out []WebhookDelivery
	for _, d := range m.deliveries {
		if d.Status == "pending" && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b WebhookDelivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
	if success {
		d.Status = "delivered"
		return nil
	}
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
	return nil
}

// Delivery returns a copy of one outbox entry.
func (m *Memory) Delivery(id string) (WebhookDelivery, bool) {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return WebhookDelivery{}, false
	}
	return *d, true
}
