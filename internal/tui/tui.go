package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

// --- Styles ---
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")) // Mauve
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))            // Green
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))           // Amber
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))           // Red
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// --- Messages ---
type eventMsg model.Event

type doneMsg struct {
	res *model.Result
	err error
}

// RunFunc runs one session, reporting progress through observe.
type RunFunc func(ctx context.Context, observe func(model.Event)) (*model.Result, error)

// --- Model ---
type Model struct {
	spinner spinner.Model
	cancel  context.CancelFunc
	state   state
	attempt int
	phase   string
	message string
	log     []string
	res     *model.Result
	err     error
}

type state int

const (
	stateRunning state = iota
	stateDone
)

const logLines = 4

func New(cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{spinner: s, cancel: cancel, state: stateRunning}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The session notices the cancellation and reports back with a
			// doneMsg, which ends the program.
			if m.cancel != nil {
				m.cancel()
			}
			m.message = "cancelling..."
		}
		return m, nil

	case eventMsg:
		m.attempt = msg.Attempt
		m.phase = msg.Phase
		if msg.Message != "" {
			m.message = msg.Message
			m.log = append(m.log, fmt.Sprintf("#%d %s: %s", msg.Attempt, msg.Phase, msg.Message))
			if len(m.log) > logLines {
				m.log = m.log[len(m.log)-logLines:]
			}
		}
		return m, nil

	case doneMsg:
		m.state = stateDone
		m.res = msg.res
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateRunning {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
}

func (m Model) View() string {
	if m.state == stateDone {
		return m.renderSummary()
	}
	var b strings.Builder
	phase := m.phase
	if phase == "" {
		phase = "starting"
	}
	b.WriteString(fmt.Sprintf("%s %s %s",
		m.spinner.View(),
		headerStyle.Render(fmt.Sprintf("attempt %d", m.attempt)),
		phase,
	))
	if m.message != "" {
		b.WriteString(faintStyle.Render("  " + m.message))
	}
	b.WriteString("\n")
	for _, line := range m.log {
		b.WriteString(faintStyle.Render("  "+line) + "\n")
	}
	return b.String()
}

func (m Model) renderSummary() string {
	if m.res == nil {
		if m.err != nil {
			return errorStyle.Render("Error: "+m.err.Error()) + "\n"
		}
		return ""
	}
	var style lipgloss.Style
	switch m.res.Status {
	case model.StatusSuccess:
		style = successStyle
	case model.StatusPartial, model.StatusDiffMissing, model.StatusInvalidDiff:
		style = warningStyle
	default:
		style = errorStyle
	}
	return style.Render(fmt.Sprintf("%s after %d retries", m.res.Status, m.res.RetryCount)) + "\n"
}

// Run shows a spinner on out while fn runs. The ui printers are silenced
// for the duration so they do not tear the view.
func Run(ctx context.Context, out io.Writer, fn RunFunc) (*model.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(cancel), tea.WithOutput(out), tea.WithContext(ctx))

	prev := ui.SetOutput(io.Discard)
	defer ui.SetOutput(prev)

	done := make(chan doneMsg, 1)
	go func() {
		res, err := fn(ctx, func(ev model.Event) { p.Send(eventMsg(ev)) })
		d := doneMsg{res: res, err: err}
		done <- d
		p.Send(d)
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		// The view died but the session keeps going; wait for it.
		ui.SetOutput(prev)
		ui.Warning("Progress view stopped: %v", err)
	}
	d := <-done
	return d.res, d.err
}
