package store

import (
	"context"
	"sync"
	"time"

	"webhookhub/internal/types"
)

// MemStore is an in-memory fake implementing EventStore, DeliveryStore,
// SourceLookup, DestinationLookup, and BreakerStore for unit tests —
// tests substitute this for PgxStore with no other code changes.
type MemStore struct {
	mu sync.Mutex

	events       map[string]types.Event // key: source_name + "/" + idempotency_key
	deliveries   map[string]types.Delivery
	sources      map[string]types.Source
	destinations map[string]types.Destination
	rules        []types.DestinationRule
	openUntil    map[string]time.Time
	health       map[string][2]int // [success, failure]
}

func NewMemStore() *MemStore {
	return &MemStore{
		events:       map[string]types.Event{},
		deliveries:   map[string]types.Delivery{},
		sources:      map[string]types.Source{},
		destinations: map[string]types.Destination{},
		openUntil:    map[string]time.Time{},
		health:       map[string][2]int{},
	}
}

func eventKey(sourceName, idempotencyKey string) string {
	return sourceName + "/" + idempotencyKey
}

func (m *MemStore) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey(ev.SourceName, ev.IdempotencyKey)
	if _, exists := m.events[k]; exists {
		return false, nil
	}
	m.events[k] = ev
	return true, nil
}

func (m *MemStore) Insert(ctx context.Context, d types.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.ID] = d
	return nil
}

func (m *MemStore) UpdateStatus(ctx context.Context, id string, status types.DeliveryStatus, attempts int, lastError *string, lastAttemptAt, deliveredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil
	}
	if d.Terminal() {
		return nil
	}
	d.Status = status
	d.Attempts = attempts
	d.LastError = lastError
	d.LastAttemptAt = lastAttemptAt
	d.DeliveredAt = deliveredAt
	m.deliveries[id] = d
	return nil
}

func (m *MemStore) Get(ctx context.Context, id string) (types.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return types.Delivery{}, ErrNotFound
	}
	return d, nil
}

func (m *MemStore) ByName(ctx context.Context, name string) (types.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[name]
	if !ok {
		return types.Source{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) MatchingActive(ctx context.Context, sourceName, eventType string) ([]types.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []types.Destination
	for _, r := range m.rules {
		if r.SourceName != sourceName || r.EventType != eventType {
			continue
		}
		if seen[r.DestinationID] {
			continue
		}
		d, ok := m.destinations[r.DestinationID]
		if !ok || !d.Active {
			continue
		}
		seen[r.DestinationID] = true
		out = append(out, d)
	}
	return out, nil
}

func (m *MemStore) ByID(ctx context.Context, id string) (types.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[id]
	if !ok {
		return types.Destination{}, ErrNotFound
	}
	return d, nil
}

func (m *MemStore) OpenUntil(ctx context.Context, destinationID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.openUntil[destinationID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemStore) RecordSuccess(ctx context.Context, destinationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[destinationID]
	h[0]++
	m.health[destinationID] = h
	return nil
}

func (m *MemStore) RecordFailure(ctx context.Context, destinationID string, ratio float64, minRequests int, cooldown time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[destinationID]
	h[1]++
	m.health[destinationID] = h
	total := h[0] + h[1]
	if total >= minRequests && float64(h[1])/float64(total) >= ratio {
		m.openUntil[destinationID] = time.Now().Add(cooldown)
	}
	return nil
}

// Test helpers — seed fixtures directly, bypassing the admin HTTP surface.

func (m *MemStore) SeedSource(s types.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.Name] = s
}

func (m *MemStore) SeedDestination(d types.Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[d.ID] = d
}

func (m *MemStore) SeedRule(r types.DestinationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

func (m *MemStore) DeliveriesForEvent(eventID string) []types.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Delivery
	for _, d := range m.deliveries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	return out
}
