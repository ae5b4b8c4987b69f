package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/prompt-tracker/internal/model"
)

// chrome is the number of lines around the transcript: title, two rules,
// status, input and hints.
const chrome = 6

// replyMsg carries the outcome of a Send.
type replyMsg struct {
	text  string
	reply model.Message
	err   error
}

// TUI runs an interactive chat session.
type TUI struct {
	Session *Session
	Theme   Theme
	// Title names the prompt version in the header.
	Title string
}

type tuiModel struct {
	session *Session
	ctx     context.Context
	title   string
	styles  styles

	input    textinput.Model
	viewport viewport.Model

	width  int
	height int

	sending bool
	message string
}

// Run starts the program and blocks until the user quits.
func (t *TUI) Run(ctx context.Context) error {
	m := newModel(ctx, t.Session, t.Theme, t.Title)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func newModel(ctx context.Context, s *Session, theme Theme, title string) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter..."
	ti.CharLimit = 8192
	ti.Width = 80
	ti.SetValue(s.Opening())
	ti.Focus()

	return &tuiModel{
		session:  s,
		ctx:      ctx,
		title:    title,
		styles:   newStyles(theme),
		input:    ti,
		viewport: viewport.New(80, 20),
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *tuiModel) send(text string) tea.Cmd {
	s := m.session
	ctx := m.ctx
	return func() tea.Msg {
		reply, err := s.Send(ctx, text)
		return replyMsg{text: text, reply: reply, err: err}
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chrome, 1)
		m.refresh()
		return m, nil

	case replyMsg:
		m.sending = false
		if msg.err != nil {
			m.message = fmt.Sprintf("Send failed: %v", msg.err)
			m.input.SetValue(msg.text)
		} else {
			m.message = ""
		}
		m.refresh()
		return m, nil
	}
	return m, nil
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "ctrl+r":
		if m.sending {
			return m, nil
		}
		m.session.Reset()
		m.message = "Conversation reset"
		m.refresh()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.sending {
			return m, nil
		}
		m.sending = true
		m.message = ""
		m.input.Reset()
		m.refresh()
		return m, m.send(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *tuiModel) refresh() {
	m.viewport.SetContent(m.transcript(m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *tuiModel) transcript(width int) string {
	var b strings.Builder
	wrap := max(width-4, 20)

	if sp := m.session.SystemPrompt(); sp != "" {
		b.WriteString(m.styles.dim.Render("  System"))
		b.WriteString("\n")
		for _, line := range wrapText(sp, wrap) {
			b.WriteString(m.styles.dim.Render("    " + line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, msg := range m.session.Messages() {
		label := m.styles.assistant.Render("  Assistant")
		if msg.Role == model.RoleUser {
			label = m.styles.user.Render("  You")
		}
		b.WriteString(label)
		b.WriteString("\n")
		for _, para := range strings.Split(msg.Content, "\n") {
			for _, line := range wrapText(para, wrap) {
				b.WriteString(m.styles.text.Render("    " + line))
				b.WriteString("\n")
			}
		}
		for _, tc := range msg.ToolCalls {
			b.WriteString(m.styles.dim.Render(fmt.Sprintf("    [tool call] %s %s", tc.Name, truncate(tc.Arguments, wrap-20))))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.sending {
		b.WriteString(m.styles.dim.Render("  Assistant is typing..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	rule := m.styles.border.Render("  " + strings.Repeat("─", max(m.width-4, 1)))

	client := m.session.Client()
	b.WriteString(m.styles.title.Render("  " + m.title))
	b.WriteString(m.styles.dim.Render(fmt.Sprintf("  %s/%s", client.Provider(), client.Model())))
	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString("  " + m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.dim.Render("  Enter=send  PgUp/PgDn=scroll  Ctrl+R=reset  Esc=quit"))
	return b.String()
}

func (m *tuiModel) statusLine() string {
	u := m.session.Usage()
	tokens := m.styles.tokens.Render(fmt.Sprintf("  turns %d  tokens in %s  out %s  total %s",
		m.session.Turn(), formatTokens(u.InputTokens), formatTokens(u.OutputTokens), formatTokens(u.TotalTokens)))
	if m.message == "" {
		return tokens
	}
	style := m.styles.dim
	if strings.HasPrefix(m.message, "Send failed") {
		style = m.styles.err
	}
	return tokens + "  " + style.Render(m.message)
}

// truncate cuts s to at most maxLen bytes.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// wrapText breaks s into lines of at most maxLen bytes at spaces.
func wrapText(s string, maxLen int) []string {
	if maxLen <= 0 || s == "" {
		return []string{s}
	}
	var lines []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			lines = append(lines, s)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(s[:maxLen], " "); idx > 0 {
			cut = idx
		}
		lines = append(lines, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	return lines
}

// formatTokens formats a token count for display, e.g. "12.3k".
func formatTokens(n int64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 10000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	case n < 1000000:
		return fmt.Sprintf("%.0fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}
