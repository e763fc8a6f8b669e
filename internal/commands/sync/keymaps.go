package sync

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the sync view bindings
type KeyMap struct {
	Start key.Binding
	Retry key.Binding
	Help  key.Binding
	Quit  key.Binding
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Retry, k.Quit, k.Help}
}

// FullHelp lists queue actions first, then view controls
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Retry},
		{k.Help, k.Quit},
	}
}

// DefaultKeyMap returns the bindings. Retry stays disabled until the model
// is given a way to requeue failed records.
func DefaultKeyMap() KeyMap {
	retry := key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "requeue failed and sync"),
	)
	retry.SetEnabled(false)

	return KeyMap{
		Start: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "sync / close"),
		),
		Retry: retry,
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit after the cycle"),
		),
	}
}
