// Package tui is the interactive job-list screen: thin glue over the
// tracker and the search projection. All state consistency lives in the
// tracker; this layer only renders snapshots and dispatches commands.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mbaumer/clipq/internal/jobs"
	"github.com/mbaumer/clipq/pkg/models"
)

type mode int

const (
	modeBrowse mode = iota
	modeFilter
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	selStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	flaggedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type refreshedMsg struct{}

type actionDoneMsg struct{}

// Model is the bubbletea model for the manage screen.
type Model struct {
	tracker *jobs.Tracker
	limit   int

	mode   mode
	cursor int
	filter textinput.Model
	snap   jobs.Snapshot

	statusLine  string
	statusIsErr bool

	width  int
	height int
}

// New builds the manage screen over an existing tracker.
func New(tracker *jobs.Tracker, limit int) Model {
	filter := textinput.New()
	filter.Placeholder = "filter by title, url, filename…"
	filter.CharLimit = 120

	return Model{
		tracker: tracker,
		limit:   limit,
		filter:  filter,
		snap:    tracker.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.refreshCmd()
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		m.tracker.Refresh(context.Background(), m.limit, "")
		return refreshedMsg{}
	}
}

func (m Model) actionCmd(run func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		run(context.Background())
		return actionDoneMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case refreshedMsg, actionDoneMsg:
		return m.resync(), nil

	case tea.KeyMsg:
		if m.mode == modeFilter {
			return m.updateFilter(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

// resync pulls a fresh snapshot and consumes the one-shot notices into the
// status line.
func (m Model) resync() Model {
	m.snap = m.tracker.Snapshot()
	if errMsg, okMsg := m.tracker.ConsumeNotices(); errMsg != "" {
		m.statusLine, m.statusIsErr = errMsg, true
	} else if okMsg != "" {
		m.statusLine, m.statusIsErr = okMsg, false
	}
	if max := len(m.snap.Filtered) - 1; m.cursor > max {
		m.cursor = max
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return m
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Filtered)-1 {
			m.cursor++
		}
	case "/":
		m.mode = modeFilter
		m.filter.SetValue(m.snap.Query)
		m.filter.Focus()
	case "R":
		return m, m.refreshCmd()
	case "d":
		return m.dispatch(func(ctx context.Context, id string) error {
			if f := m.tracker.Delete(ctx, id); f != nil {
				return f
			}
			return nil
		})
	case "f":
		job, ok := m.selected()
		if !ok {
			break
		}
		flagged := !job.IsFlagged
		return m.dispatch(func(ctx context.Context, id string) error {
			if f := m.tracker.SetFlag(ctx, id, flagged, ""); f != nil {
				return f
			}
			return nil
		})
	case "p":
		return m.dispatch(func(ctx context.Context, id string) error {
			if f := m.tracker.Pause(ctx, id); f != nil {
				return f
			}
			return nil
		})
	case "r":
		return m.dispatch(func(ctx context.Context, id string) error {
			if f := m.tracker.Resume(ctx, id); f != nil {
				return f
			}
			return nil
		})
	case "c":
		return m.dispatch(func(ctx context.Context, id string) error {
			if f := m.tracker.Cancel(ctx, id); f != nil {
				return f
			}
			return nil
		})
	}
	return m, nil
}

// dispatch runs a job action for the selected row unless an action is
// already in flight for it; the UI disables commands for busy jobs.
func (m Model) dispatch(run func(ctx context.Context, id string) error) (tea.Model, tea.Cmd) {
	job, ok := m.selected()
	if !ok {
		return m, nil
	}
	if m.snap.Busy(job.ID) {
		m.statusLine, m.statusIsErr = "An action is already running for this job", true
		return m, nil
	}
	id := job.ID
	return m, m.actionCmd(func(ctx context.Context) error {
		return run(ctx, id)
	})
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.filter.Blur()
		m.tracker.SetQuery("")
		return m.resync(), nil
	case "enter":
		m.mode = modeBrowse
		m.filter.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.tracker.SetQuery(m.filter.Value())
	return m.resync(), cmd
}

func (m Model) selected() (models.Job, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Filtered) {
		return models.Job{}, false
	}
	return m.snap.Filtered[m.cursor], true
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("clipq — jobs"))
	b.WriteString("\n")

	if m.mode == modeFilter {
		b.WriteString("filter: " + m.filter.View() + "\n")
	} else if m.snap.Query != "" {
		b.WriteString(mutedStyle.Render("filter: "+m.snap.Query) + "\n")
	}
	b.WriteString("\n")

	if len(m.snap.Filtered) == 0 {
		b.WriteString(mutedStyle.Render("no jobs") + "\n")
	}
	for i, job := range m.snap.Filtered {
		b.WriteString(m.renderRow(i, job))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.statusLine != "" {
		style := okStyle
		if m.statusIsErr {
			style = errorStyle
		}
		b.WriteString(style.Render(m.statusLine) + "\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ move · / filter · d delete · f flag · p pause · r resume · c cancel · R refresh · q quit"))
	return b.String()
}

func (m Model) renderRow(i int, job models.Job) string {
	status := string(job.Status)
	if job.Status == models.StatusProcessing {
		status = fmt.Sprintf("%s %d%%", job.Status, job.ProgressPct)
	}
	if job.PauseRequested {
		status += " (pause requested)"
	}
	if _, busy := m.snap.InFlight[job.ID]; busy {
		status += " …"
	}

	flag := "  "
	if job.IsFlagged {
		flag = flaggedStyle.Render("⚑ ")
	}

	row := fmt.Sprintf("%s%-40.40s  %s", flag, job.Title, status)
	if i == m.cursor && m.mode == modeBrowse {
		return selStyle.Render("> " + row)
	}
	return "  " + row
}
