// Package sync is the Bubble Tea progress view for `synax sync`
package sync

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

// Runner runs one drain cycle
type Runner interface {
	SyncNow(ctx context.Context) (*synxsync.SyncResult, error)
}

// RequeueFunc moves failed records back to pending and reports how many
type RequeueFunc func(ctx context.Context) (int, error)

// Model is the Bubble Tea model for the sync TUI
type Model struct {
	runner    Runner
	requeue   RequeueFunc
	state     *syncstate.State
	autoStart bool
	keymap    KeyMap
	help      help.Model
	spinner   spinner.Model
	progress  progress.Model
	styles    Styles

	// UI state
	ready      bool
	showHelp   bool
	requeueing bool
	error    string
	status   string
	width    int
	syncing  bool
	snapshot syncstate.Snapshot
	result   *synxsync.SyncResult

	updates <-chan syncstate.Snapshot
	cancel  func()
}

// NewModel initializes and returns a new Model. With autoStart the cycle
// begins without waiting for Enter.
func NewModel(runner Runner, state *syncstate.State, autoStart bool) Model {
	styles := DefaultStyles()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	return Model{
		runner:    runner,
		state:     state,
		autoStart: autoStart,
		keymap:    DefaultKeyMap(),
		help:      help.New(),
		spinner:   s,
		progress:  progress.New(progress.WithDefaultGradient()),
		styles:    styles,
		status:    "Initializing...",
	}
}

// WithRequeue enables the retry key
func (m Model) WithRequeue(fn RequeueFunc) Model {
	m.requeue = fn
	m.keymap.Retry.SetEnabled(fn != nil)
	return m
}

// Init initializes the model and returns the initial command
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return SyncStartMsg{Snapshot: m.state.Snapshot()} })
}

// Result is the finished cycle, nil until one completes
func (m Model) Result() *synxsync.SyncResult {
	return m.result
}

// Err is the whole-cycle failure, if any
func (m Model) Err() string {
	return m.error
}
