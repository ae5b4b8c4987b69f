package chat

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors of the chat TUI.
type Theme struct {
	Primary   lipgloss.Color // title
	User      lipgloss.Color // user message labels
	Assistant lipgloss.Color // assistant message labels
	Error     lipgloss.Color
	Success   lipgloss.Color // token totals
	Text      lipgloss.Color
	TextMuted lipgloss.Color // hints, status, typing indicator
	Border    lipgloss.Color
}

// DarkTheme is the default theme.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		User:      lipgloss.Color("#5c9cf5"),
		Assistant: lipgloss.Color("#9d7cd8"),
		Error:     lipgloss.Color("#e06c75"),
		Success:   lipgloss.Color("#7fd88f"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
		Border:    lipgloss.Color("#484848"),
	}
}

// LightTheme suits bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		User:      lipgloss.Color("#0550ae"),
		Assistant: lipgloss.Color("#6639ba"),
		Error:     lipgloss.Color("#cf222e"),
		Success:   lipgloss.Color("#116329"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
		Border:    lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns the named theme, dark unless name is "light".
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme()
	}
	return DarkTheme()
}

type styles struct {
	title     lipgloss.Style
	border    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	text      lipgloss.Style
	err       lipgloss.Style
	tokens    lipgloss.Style
	dim       lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		border:    lipgloss.NewStyle().Foreground(t.Border),
		user:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Assistant),
		text:      lipgloss.NewStyle().Foreground(t.Text),
		err:       lipgloss.NewStyle().Foreground(t.Error),
		tokens:    lipgloss.NewStyle().Foreground(t.Success),
		dim:       lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}
