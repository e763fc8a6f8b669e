package sync

import "github.com/charmbracelet/lipgloss"

// Gruvbox palette shared with the rest of the CLI output
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#79740e", Dark: "#b8bb26"}
	colorOrange = lipgloss.AdaptiveColor{Light: "#af3a03", Dark: "#fe8019"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#b57614", Dark: "#fabd2f"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#9d0006", Dark: "#fb4934"}
	colorText   = lipgloss.AdaptiveColor{Light: "#3c3836", Dark: "#fbf1c7"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#7c6f64", Dark: "#a89984"}
)

// Styles contains predefined styles for the sync TUI
type Styles struct {
	StatusText lipgloss.Style
	Title      lipgloss.Style
	Paragraph  lipgloss.Style
	Subtle     lipgloss.Style
	Error      lipgloss.Style
	Warning    lipgloss.Style
	Spinner    lipgloss.Style
}

// DefaultStyles returns default styles for the sync TUI
func DefaultStyles() Styles {
	return Styles{
		StatusText: lipgloss.NewStyle().Bold(true).Foreground(colorGreen),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(colorText),
		Paragraph:  lipgloss.NewStyle().Foreground(colorText),
		Subtle:     lipgloss.NewStyle().Foreground(colorDim),
		Error:      lipgloss.NewStyle().Bold(true).Foreground(colorRed),
		Warning:    lipgloss.NewStyle().Bold(true).Foreground(colorYellow),
		Spinner:    lipgloss.NewStyle().Foreground(colorOrange),
	}
}
