// Package live renders analysis progress as a terminal UI: one
// progress row per completed timestep with the merged bound widths.
package live

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/reachlab/internal/analyze"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const barWidth = 40

type updateMsg analyze.StepUpdate

type doneMsg struct{ err error }

// Model is the bubbletea model for a running analysis. Updates arrive
// over the channel the analyzer's observer writes to; the done channel
// carries the final error (nil on success).
type Model struct {
	title   string
	updates <-chan analyze.StepUpdate
	done    <-chan error

	last     analyze.StepUpdate
	started  time.Time
	err      error
	finished bool
	quit     bool
}

func New(title string, updates <-chan analyze.StepUpdate, done <-chan error) Model {
	return Model{title: title, updates: updates, done: done, started: time.Now()}
}

// Aborted reports whether the user quit before the analysis finished.
func (m Model) Aborted() bool { return m.quit && !m.finished }

func (m Model) Init() tea.Cmd { return m.wait() }

func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case u, ok := <-m.updates:
			if !ok {
				return doneMsg{err: <-m.done}
			}
			return updateMsg(u)
		case err := <-m.done:
			return doneMsg{err: err}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}
		return m, nil
	case updateMsg:
		m.last = analyze.StepUpdate(msg)
		return m, m.wait()
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString("\n  " + cyan.Render(m.title) + "\n\n")

	done := m.last.Step
	total := m.last.Steps
	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	bar := green.Render(strings.Repeat("█", filled)) + dim.Render(strings.Repeat("░", barWidth-filled))
	b.WriteString(fmt.Sprintf("  %s %s\n\n", bar, white.Render(fmt.Sprintf("%d/%d steps", done, total))))

	if done > 0 {
		b.WriteString("  " + dim.Render(fmt.Sprintf("cells/step: %d   elapsed: %s", m.last.Cells, m.last.Elapsed.Round(time.Millisecond))) + "\n")
		if len(m.last.Widths) > 0 {
			parts := make([]string, len(m.last.Widths))
			for i, w := range m.last.Widths {
				parts[i] = fmt.Sprintf("w%d=%.4f", i, w)
			}
			b.WriteString("  " + yellow.Render(strings.Join(parts, "  ")) + "\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.finished && m.err != nil:
		b.WriteString("  " + red.Render("failed: "+m.err.Error()) + "\n")
	case m.finished:
		b.WriteString("  " + green.Render("done") + "\n")
	default:
		b.WriteString("  " + dim.Render("q to quit") + "\n")
	}

	return b.String()
}

// Run drives a live view to completion and returns the analysis error,
// if any. The caller runs the analysis in its own goroutine, pushes
// observer events into updates, closes it, and sends the final error on
// done.
func Run(title string, updates <-chan analyze.StepUpdate, done <-chan error) error {
	m := New(title, updates, done)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok {
		if fm.Aborted() {
			return fmt.Errorf("analysis aborted")
		}
		return fm.err
	}
	return nil
}
