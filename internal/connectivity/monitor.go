package connectivity

import (
	"context"
	"fmt"
	"sync"

	"github.com/synaxhq/synax/internal/loggy"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

// Syncer is the part of the sync engine the monitor drives
type Syncer interface {
	SyncNow(ctx context.Context) (*synxsync.SyncResult, error)
	HasPendingWork(ctx context.Context) (bool, error)
}

// Monitor feeds connectivity into the sync state and starts a drain cycle
// whenever the device comes online with work queued. It never cancels a
// running cycle on going offline.
type Monitor struct {
	source Source
	syncer Syncer
	state  *syncstate.State
	logger *loggy.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	known   bool
	online  bool
	loopWG  sync.WaitGroup
	cycleWG sync.WaitGroup
}

// NewMonitor creates a new connectivity monitor
func NewMonitor(source Source, syncer Syncer, state *syncstate.State, logger *loggy.Logger) *Monitor {
	return &Monitor{source: source, syncer: syncer, state: state, logger: logger}
}

// Start records the initial state, treating it as a transition, and then
// follows the source until Stop
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	events, err := m.source.Watch(ctx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		return fmt.Errorf("watching connectivity: %w", err)
	}

	m.observe(ctx, Event{Online: m.source.Online(ctx), Reason: "initial"})

	m.loopWG.Add(1)
	go func() {
		defer m.loopWG.Done()
		for ev := range events {
			m.observe(ctx, ev)
		}
	}()
	return nil
}

// Stop ends watching and waits for any cycle the monitor started
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.loopWG.Wait()
	m.cycleWG.Wait()
}

// observe applies one observation. Repeats of the current state are ignored.
func (m *Monitor) observe(ctx context.Context, ev Event) {
	m.mu.Lock()
	if m.known && m.online == ev.Online {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.online = ev.Online
	m.mu.Unlock()

	m.state.SetOnline(ev.Online)
	if !ev.Online {
		m.logger.Info("Device went offline", "reason", ev.Reason)
		return
	}
	m.logger.Info("Device is online", "reason", ev.Reason)

	pending, err := m.syncer.HasPendingWork(ctx)
	if err != nil {
		m.logger.Error("Failed to check outbox", "error", err)
		return
	}
	if !pending {
		return
	}

	m.cycleWG.Add(1)
	go func() {
		defer m.cycleWG.Done()
		res, err := m.syncer.SyncNow(ctx)
		if err != nil {
			m.logger.Error("Sync after reconnect failed", "error", err)
			return
		}
		if res.Skipped {
			m.logger.Debug("Sync after reconnect skipped", "reason", res.SkipReason)
		}
	}()
}
