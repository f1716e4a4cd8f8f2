package audit

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and single-process
// deployments without a database. Events are copied on append so later
// caller mutations cannot reach the stored record.
type MemStore struct {
	mu     sync.RWMutex
	events []Event
}

var (
	_ Store        = (*MemStore)(nil)
	_ PeriodLister = (*MemStore)(nil)
)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, cloneEvent(*event))
	return nil
}

func (s *MemStore) ListByUser(_ context.Context, userID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

func (s *MemStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, e := range s.events {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	s.events = kept
	return nil
}

func (s *MemStore) ListByPeriod(_ context.Context, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

// Len reports the number of stored events.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func cloneEvent(e Event) Event {
	if e.Metadata != nil {
		metadata := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			metadata[k] = v
		}
		e.Metadata = metadata
	}
	return e
}
