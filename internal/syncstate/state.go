// Package syncstate holds the in-memory sync state the UI observes
package syncstate

import (
	"sync"
	"time"

	"github.com/synaxhq/synax/internal/store"
)

// Snapshot is a copy of the sync state at one instant
type Snapshot struct {
	IsOnline         bool                     `json:"isOnline"`
	LastOnlineAt     *time.Time               `json:"lastOnlineAt,omitempty"`
	IsSyncing        bool                     `json:"isSyncing"`
	SyncProgress     float64                  `json:"syncProgress"`
	LastSyncAt       *time.Time               `json:"lastSyncAt,omitempty"`
	SyncError        string                   `json:"syncError,omitempty"`
	PendingMutations int                      `json:"pendingMutations"`
	PendingImages    int                      `json:"pendingImages"`
	FailedMutations  int                      `json:"failedMutations"`
	FailedImages     int                      `json:"failedImages"`
	CachedEntities   map[store.EntityType]int `json:"cachedEntities"`
}

// HasPendingWork reports whether anything is waiting to be replayed
func (s Snapshot) HasPendingWork() bool {
	return s.PendingMutations > 0 || s.PendingImages > 0
}

// State is safe for concurrent use. Every change is pushed to subscribers;
// a slow subscriber only ever sees the latest snapshot.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// New creates an offline, idle state
func New() *State {
	return &State{
		now:  time.Now,
		subs: make(map[int]chan Snapshot),
		snap: Snapshot{CachedEntities: map[store.EntityType]int{}},
	}
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *State) copyLocked() Snapshot {
	out := s.snap
	out.CachedEntities = make(map[store.EntityType]int, len(s.snap.CachedEntities))
	for k, v := range s.snap.CachedEntities {
		out.CachedEntities[k] = v
	}
	if s.snap.LastOnlineAt != nil {
		t := *s.snap.LastOnlineAt
		out.LastOnlineAt = &t
	}
	if s.snap.LastSyncAt != nil {
		t := *s.snap.LastSyncAt
		out.LastSyncAt = &t
	}
	return out
}

func (s *State) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// SetOnline records connectivity. Going online stamps LastOnlineAt.
func (s *State) SetOnline(online bool) {
	s.update(func(st *Snapshot) {
		st.IsOnline = online
		if online {
			t := s.now()
			st.LastOnlineAt = &t
		}
	})
}

// IsOnline reports the last recorded connectivity
func (s *State) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.IsOnline
}

// BeginCycle marks a drain cycle as started
func (s *State) BeginCycle() {
	s.update(func(st *Snapshot) {
		st.IsSyncing = true
		st.SyncProgress = 0
		st.SyncError = ""
	})
}

// SetProgress moves progress forward. Values below the current progress are
// ignored so that progress never goes backwards within a cycle.
func (s *State) SetProgress(pct float64) {
	if pct > 100 {
		pct = 100
	}
	s.update(func(st *Snapshot) {
		if pct > st.SyncProgress {
			st.SyncProgress = pct
		}
	})
}

// CompleteCycle marks a cycle as finished normally
func (s *State) CompleteCycle() {
	s.update(func(st *Snapshot) {
		t := s.now()
		st.IsSyncing = false
		st.SyncProgress = 100
		st.LastSyncAt = &t
	})
}

// FailCycle marks a cycle as aborted with a whole-cycle error
func (s *State) FailCycle(err error) {
	s.update(func(st *Snapshot) {
		st.IsSyncing = false
		if err != nil {
			st.SyncError = err.Error()
		}
	})
}

// SetCounts records queue depths
func (s *State) SetCounts(c store.Counts) {
	s.update(func(st *Snapshot) {
		st.PendingMutations = c.PendingMutations
		st.PendingImages = c.PendingImages
		st.FailedMutations = c.FailedMutations
		st.FailedImages = c.FailedImages
	})
}

// SetCachedEntities records how many entities of each type are cached
func (s *State) SetCachedEntities(counts map[store.EntityType]int) {
	s.update(func(st *Snapshot) {
		st.CachedEntities = make(map[store.EntityType]int, len(counts))
		for k, v := range counts {
			st.CachedEntities[k] = v
		}
	})
}

// Subscribe returns a channel of snapshots, primed with the current state,
// and a function that stops delivery and closes the channel
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.Snapshot()
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *State) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		// drop the stale value so the newest always fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
