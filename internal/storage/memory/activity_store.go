package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu     sync.RWMutex
	events []*domain.ActivityEvent
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

// Append adds an event.
func (s *ActivityStore) Append(_ context.Context, e *domain.ActivityEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, copyEvent(e))
	return nil
}

// GetByTrace retrieves events with a trace id, ordered by created_at ASC.
func (s *ActivityStore) GetByTrace(_ context.Context, traceID string) ([]*domain.ActivityEvent, error) {
	return s.filter(func(e *domain.ActivityEvent) bool { return e.TraceID == traceID }), nil
}

// GetByEntity retrieves events for an entity, ordered by created_at ASC.
func (s *ActivityStore) GetByEntity(_ context.Context, entityID string) ([]*domain.ActivityEvent, error) {
	return s.filter(func(e *domain.ActivityEvent) bool { return e.EntityID == entityID }), nil
}

func (s *ActivityStore) filter(keep func(*domain.ActivityEvent) bool) []*domain.ActivityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ActivityEvent
	for _, e := range s.events {
		if keep(e) {
			result = append(result, copyEvent(e))
		}
	}

	// Stable keeps append order for events sharing a timestamp
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

func copyEvent(e *domain.ActivityEvent) *domain.ActivityEvent {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.ActivityStore = (*ActivityStore)(nil)
