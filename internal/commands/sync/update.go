package sync

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/synaxhq/synax/internal/loggy"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = msg.Width - 10

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			// the cycle owns the database until it returns
			if m.syncing {
				m.status = "Finishing the current cycle before quitting..."
				m.autoStart = false
				m.ready = false
				return m, nil
			}
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keymap.Retry):
			if !m.canRequeue() {
				return m, nil
			}
			m.requeueing = true
			m.status = "Requeueing failed records..."
			return m, m.requeueFailed()
		case key.Matches(msg, m.keymap.Start):
			if m.ready && !m.syncing && !m.requeueing && m.result == nil && m.error == "" {
				m.syncing = true
				m.status = "Starting sync..."
				cmds = append(cmds, m.startSync(), m.spinner.Tick)
			} else if m.result != nil || m.error != "" {
				return m, tea.Quit
			}
		}

	case spinner.TickMsg:
		if !m.ready || m.syncing {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)

	case SyncStartMsg:
		m.ready = true
		m.snapshot = msg.Snapshot
		total := msg.Snapshot.PendingMutations + msg.Snapshot.PendingImages
		m.status = fmt.Sprintf("Found %d queued changes.", total)
		if m.autoStart {
			m.syncing = true
			m.status = "Starting sync..."
			cmds = append(cmds, m.startSync())
		}

	case RequeueMsg:
		m.requeueing = false
		if msg.Error != nil {
			m.error = msg.Error.Error()
			m.status = "Requeue failed."
			break
		}
		m.result = nil
		m.snapshot = m.state.Snapshot()
		m.syncing = true
		m.status = fmt.Sprintf("Requeued %d failed record(s).", msg.Count)
		cmds = append(cmds, m.progress.SetPercent(0), m.startSync(), m.spinner.Tick)

	case SyncProgressMsg:
		m.snapshot = msg.Snapshot
		cmds = append(cmds, m.progress.SetPercent(msg.Snapshot.SyncProgress/100))
		if msg.Snapshot.IsSyncing {
			m.status = fmt.Sprintf("Syncing... %.0f%%", msg.Snapshot.SyncProgress)
		}
		if m.updates != nil {
			cmds = append(cmds, waitForSnapshot(m.updates))
		}

	case SyncCompleteMsg:
		quitting := m.syncing && !m.ready
		m.syncing = false
		m.ready = true
		m.stopUpdates()
		m.result = msg.Result
		if msg.Error != nil {
			m.error = msg.Error.Error()
			m.status = "Sync aborted."
			loggy.Error("Sync aborted", "error", msg.Error)
		} else {
			m.snapshot = m.state.Snapshot()
			m.status = "Sync complete! Press Enter or q to quit."
			cmds = append(cmds, m.progress.SetPercent(1))
		}
		if quitting {
			return m, tea.Quit
		}
	}

	return m, tea.Batch(cmds...)
}
