package sync

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/syncstate"
)

// startSync subscribes to state changes and runs the cycle in the background
func (m *Model) startSync() tea.Cmd {
	m.updates, m.cancel = m.state.Subscribe()
	runner := m.runner

	run := func() tea.Msg {
		loggy.Debug("Starting sync from TUI")
		res, err := runner.SyncNow(context.Background())
		return SyncCompleteMsg{Result: res, Error: err}
	}
	return tea.Batch(run, waitForSnapshot(m.updates))
}

// requeueFailed resets failed records in the background
func (m *Model) requeueFailed() tea.Cmd {
	requeue := m.requeue
	return func() tea.Msg {
		n, err := requeue(context.Background())
		return RequeueMsg{Count: n, Error: err}
	}
}

// canRequeue reports whether there is anything for the retry key to act on
func (m Model) canRequeue() bool {
	if m.requeue == nil || !m.ready || m.syncing || m.requeueing || m.error != "" {
		return false
	}
	if m.result != nil && m.result.FailedItems > 0 {
		return true
	}
	return m.snapshot.FailedMutations+m.snapshot.FailedImages > 0
}

// waitForSnapshot turns the next state change into a message. It returns
// nil once the subscription is cancelled.
func waitForSnapshot(updates <-chan syncstate.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return SyncProgressMsg{Snapshot: snap}
	}
}

func (m *Model) stopUpdates() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
