// SPDX-License-Identifier: MIT

// Package tui implements the interactive recording console.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mediarec/internal/app"
	"mediarec/internal/media"
)

const refreshInterval = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	recordingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D")).
			Width(10)
)

// Recorder is the part of *app.App the console drives.
type Recorder interface {
	Toggle(ctx context.Context) error
	TogglePause(ctx context.Context) error
	Status() app.Status
	OnStatus(fn func(app.Status)) (cancel func())
}

type keyMap struct {
	Record key.Binding
	Pause  key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Pause, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Record: key.NewBinding(key.WithKeys("r", " "), key.WithHelp("r/space", "record")),
	Pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	statusMsg app.Status
	tickMsg   time.Time
	errMsg    struct{ err error }
)

// ConsoleModel represents the Bubble Tea model for the recording console.
type ConsoleModel struct {
	ctx         context.Context
	rec         Recorder
	maxDuration time.Duration

	status app.Status
	err    error
	meter  progress.Model
	bar    progress.Model
	help   help.Model
}

// NewConsoleModel creates a console for rec. A positive maxDuration shows
// a progress bar toward the cutoff.
func NewConsoleModel(ctx context.Context, rec Recorder, maxDuration time.Duration) ConsoleModel {
	return ConsoleModel{
		ctx:         ctx,
		rec:         rec,
		maxDuration: maxDuration,
		status:      rec.Status(),
		meter:       progress.New(progress.WithGradient("#25A065", "#FF5F5F"), progress.WithoutPercentage()),
		bar:         progress.New(progress.WithDefaultGradient()),
		help:        help.New(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m ConsoleModel) Init() tea.Cmd {
	return tick()
}

// command runs fn off the UI goroutine and reports its error.
func (m ConsoleModel) command(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(m.ctx); err != nil {
			return errMsg{err}
		}
		return statusMsg(m.rec.Status())
	}
}

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		width := max(msg.Width-lipgloss.Width(labelStyle.Render(""))-4, 10)
		m.meter.Width = width
		m.bar.Width = width
		m.help.Width = msg.Width

	case tickMsg:
		m.status = m.rec.Status()
		return m, tick()

	case statusMsg:
		m.status = app.Status(msg)

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Record):
			m.err = nil
			return m, m.command(m.rec.Toggle)
		case key.Matches(msg, keys.Pause):
			m.err = nil
			return m, m.command(m.rec.TogglePause)
		}
	}
	return m, nil
}

// View renders the UI
func (m ConsoleModel) View() string {
	st := m.status
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Recorder"))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("State", stateLabel(st))
	mimeType := st.MimeType
	if mimeType == "" {
		mimeType = infoStyle.Render("no input")
	}
	row("Format", mimeType)
	row("Elapsed", formatElapsed(st.Elapsed))
	if m.maxDuration > 0 {
		row("Limit", m.bar.ViewAs(min(float64(st.Elapsed)/float64(m.maxDuration), 1)))
	}
	row("Level", m.meter.ViewAs(min(st.Level*2, 1)))

	if st.Last != nil {
		last := fmt.Sprintf("%s, %d chunks, %s",
			formatBytes(st.Last.Blob.Size()), st.Last.Chunks, st.Last.Duration.Round(10*time.Millisecond))
		if st.LastPath != "" {
			last += " → " + highlightStyle.Render(filepath.Base(st.LastPath))
		}
		row("Last", last)
	}

	if m.err != nil {
		sb.WriteString("\n")
		sb.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.help.View(keys))
	return sb.String()
}

func stateLabel(st app.Status) string {
	switch {
	case !st.Ready:
		return infoStyle.Render("not ready")
	case st.State == media.StatePaused:
		return highlightStyle.Render("● paused")
	case st.State == media.StateRecording:
		return recordingStyle.Render("● recording")
	default:
		return infoStyle.Render("○ idle")
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(100 * time.Millisecond)
	return fmt.Sprintf("%02d:%02d.%d", int(d.Minutes()), int(d.Seconds())%60, (d%time.Second)/(100*time.Millisecond))
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Run launches the console and blocks until the user quits or ctx ends.
func Run(ctx context.Context, rec Recorder, maxDuration time.Duration) error {
	p := tea.NewProgram(
		NewConsoleModel(ctx, rec, maxDuration),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	cancel := rec.OnStatus(func(st app.Status) {
		go p.Send(statusMsg(st))
	})
	defer cancel()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
