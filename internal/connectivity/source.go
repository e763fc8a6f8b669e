// Package connectivity tracks whether the device can reach the API and
// drains the outbox when it comes back online
package connectivity

import (
	"context"
	"sync"
	"time"
)

// Event is a connectivity observation
type Event struct {
	Online bool
	At     time.Time
	Reason string
}

// Source reports connectivity. Online gives the current state; Watch
// delivers observations until ctx is done, then closes the channel.
// Observations may repeat; the monitor deduplicates them.
type Source interface {
	Online(ctx context.Context) bool
	Watch(ctx context.Context) (<-chan Event, error)
}

// ManualSource is driven by explicit Set calls, e.g. from the platform shell
// posting to the local agent API
type ManualSource struct {
	mu      sync.Mutex
	online  bool
	watches map[chan Event]struct{}
}

// NewManualSource creates a source starting in the given state
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, watches: make(map[chan Event]struct{})}
}

// Online returns the last value passed to Set
func (s *ManualSource) Online(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records a new state and notifies watchers
func (s *ManualSource) Set(online bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = online
	ev := Event{Online: online, At: time.Now(), Reason: reason}
	for ch := range s.watches {
		// drop a stale value rather than block
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Watch streams Set calls until ctx is done
func (s *ManualSource) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 1)

	s.mu.Lock()
	s.watches[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watches, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
