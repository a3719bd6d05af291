package ui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/productdevbook/lsprobe/internal/discovery"
	"github.com/productdevbook/lsprobe/internal/platform"
	"github.com/sirupsen/logrus"
)

// maxLines is how many progress lines stay on screen.
const maxLines = 6

// ErrInterrupted is returned when the user quits before detection finishes.
var ErrInterrupted = errors.New("interrupted")

type logMsg string

type doneMsg struct {
	creds discovery.Credentials
	ok    bool
}

type model struct {
	spinner  spinner.Model
	title    string
	detect   func() (discovery.Credentials, bool)
	messages platform.Messages
	lines    []string

	done  bool
	ok    bool
	quit  bool
	creds discovery.Credentials
}

func newModel(title string, detect func() (discovery.Credentials, bool), messages platform.Messages) model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))
	return model{spinner: s, title: title, detect: detect, messages: messages}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		creds, ok := m.detect()
		return doneMsg{creds: creds, ok: ok}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quit = true
			return m, tea.Quit
		}
	case logMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
	case doneMsg:
		m.done = true
		m.ok = msg.ok
		m.creds = msg.creds
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	switch {
	case !m.done:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), titleStyle.Render(m.title))
		for _, line := range m.lines {
			b.WriteString(dimStyle.Render("  · "+line) + "\n")
		}
	case m.ok:
		b.WriteString(okStyle.Render("✓ Language server API found") + "\n")
		rows := []string{
			keyStyle.Render("Connect port") + fmt.Sprint(m.creds.ConnectPort),
			keyStyle.Render("Extension port") + extensionPort(m.creds.ExtensionPort),
			keyStyle.Render("CSRF token") + m.creds.CSRFToken,
		}
		b.WriteString(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)) + "\n")
	default:
		b.WriteString(failStyle.Render("✗ "+m.messages.ProcessNotFound) + "\n")
		for i, req := range m.messages.Requirements {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, req)
		}
	}

	return b.String()
}

func extensionPort(port int) string {
	if port == 0 {
		return "unknown"
	}
	return fmt.Sprint(port)
}

// hook forwards log entries to a running program as progress lines.
type hook struct {
	send func(tea.Msg)
}

func (h hook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}

func (h hook) Fire(e *logrus.Entry) error {
	h.send(logMsg(formatEntry(e)))
	return nil
}

func formatEntry(e *logrus.Entry) string {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{e.Message}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Data[k]))
	}
	return strings.Join(parts, " ")
}

// Run shows an interactive view while det.Detect runs. Log entries from
// logger at info level and above become progress lines.
func Run(det *discovery.Detector, logger *logrus.Logger, title string, out io.Writer) (discovery.Credentials, bool, error) {
	p := tea.NewProgram(newModel(title, det.Detect, det.Messages()), tea.WithOutput(out))
	logger.AddHook(hook{send: p.Send})

	final, err := p.Run()
	if err != nil {
		return discovery.Credentials{}, false, fmt.Errorf("running ui: %w", err)
	}

	m := final.(model)
	if m.quit && !m.done {
		return discovery.Credentials{}, false, ErrInterrupted
	}
	return m.creds, m.ok, nil
}
