package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/services"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type snapshotMsg struct {
	snap *services.RunSnapshot
	err  error
}

type cancelMsg struct {
	snap *services.RunSnapshot
	err  error
}

type tickMsg struct{}

// model follows a run until it is terminal. In drive mode each tick calls
// resume; otherwise the server schedules the run and each tick polls for
// events after the last seen seq.
type model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	api      *apiClient
	runID    string
	interval time.Duration
	drive    bool

	spinner  spinner.Model
	bar      progress.Model
	log      viewport.Model
	lines    []string
	lastSeq  int64
	snap     *services.RunSnapshot
	err      error
	finished bool
}

func newModel(api *apiClient, first *services.RunSnapshot, interval time.Duration, drive bool) model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := model{
		ctx:      ctx,
		cancel:   cancel,
		api:      api,
		runID:    first.Run.ID.String(),
		interval: interval,
		drive:    drive,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient()),
		log:      viewport.New(80, 12),
	}
	m.apply(first)
	return m
}

func (m model) Init() tea.Cmd {
	if m.finished {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, m.stepCmd())
}

func (m model) stepCmd() tea.Cmd {
	ctx, api, runID, after, drive := m.ctx, m.api, m.runID, m.lastSeq, m.drive
	return func() tea.Msg {
		var (
			snap *services.RunSnapshot
			err  error
		)
		if drive {
			snap, err = api.resume(ctx, runID)
		} else {
			snap, err = api.get(ctx, runID, after)
		}
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m model) waitCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "x":
			if m.finished {
				return m, nil
			}
			m.cancel()
			api, runID := m.api, m.runID
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				snap, err := api.cancel(ctx, runID)
				return cancelMsg{snap: snap, err: err}
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(20, msg.Width-4)
		m.log.Width = msg.Width
		m.log.Height = max(5, msg.Height-8)
		return m, nil
	case cancelMsg:
		if msg.err != nil {
			m.err = msg.err
			m.finished = true
			return m, tea.Quit
		}
		m.apply(msg.snap)
		return m, tea.Quit
	case snapshotMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			m.finished = true
			return m, tea.Quit
		}
		m.apply(msg.snap)
		if m.finished {
			return m, tea.Quit
		}
		return m, m.waitCmd()
	case tickMsg:
		if m.finished || m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.stepCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *model) apply(snap *services.RunSnapshot) {
	if snap == nil || snap.Run == nil {
		return
	}
	m.snap = snap
	for _, ev := range snap.Events {
		if ev.Seq <= m.lastSeq {
			continue
		}
		m.lastSeq = ev.Seq
		line := fmt.Sprintf("%4d  %-18s %s", ev.Seq, ev.Type, ev.Agent)
		m.lines = append(m.lines, line)
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
	m.finished = snap.Run.State.Terminal()
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("run " + m.runID))
	b.WriteString("\n\n")
	if m.snap != nil {
		p := m.snap.Progress
		ratio := 0.0
		if p.Total > 0 {
			ratio = float64(p.Completed) / float64(p.Total)
		}
		status := fmt.Sprintf("%s  %d/%d subtasks  state=%s", m.spinner.View(), p.Completed, p.Total, m.snap.Run.State)
		if m.finished {
			status = m.stateLabel()
		}
		b.WriteString(status + "\n")
		b.WriteString(m.bar.ViewAs(ratio) + "\n\n")
	}
	b.WriteString(m.log.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render("q quit · x cancel run"))
	return b.String()
}

func (m model) stateLabel() string {
	run := m.snap.Run
	switch {
	case run.State == types.StateCompleted:
		return doneStyle.Render("completed")
	case run.LastError != "":
		return errStyle.Render(fmt.Sprintf("%s: %s", run.State, run.LastError))
	default:
		return errStyle.Render(string(run.State))
	}
}
