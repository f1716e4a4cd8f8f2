// Package stream fan-outs post-commit auth notifications (login, logout,
// token refresh) to subscribers such as SSE clients or session-invalidation
// hooks. Delivery is at-most-once: slow subscribers drop events rather than
// block the auth path.
package stream

import (
	"context"
	"sync"
	"time"
)

// Kind labels a notification.
type Kind string

const (
	KindLogin   Kind = "login"
	KindLogout  Kind = "logout"
	KindRefresh Kind = "refresh"
)

// Notification describes a completed auth operation. Published only after
// the operation (including its audit write) has committed.
type Notification struct {
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs notifications to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Notification
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// notifications. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Notification {
	ch := make(chan Notification, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the notification to all subscribers.
func (s *Stream) Publish(n Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
