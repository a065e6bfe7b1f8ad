// Package tui renders the chord detector in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/audiolibrelab/chordwatch/internal/session"
)

// Controls is the part of the service the UI drives
type Controls interface {
	Subscribe() (<-chan session.Snapshot, func())
	ToggleListening(ctx context.Context) error
}

type snapshotMsg session.Snapshot

type actionDoneMsg struct{ err error }

var (
	green = lipgloss.Color("#16A34A")
	blue  = lipgloss.Color("#2563EB")
	red   = lipgloss.Color("#EF4444")
	gray  = lipgloss.Color("240")

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("252")).
			Padding(1, 4).
			Align(lipgloss.Center)
	chordStyle = lipgloss.NewStyle().Foreground(green).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(gray)
)

type model struct {
	ctl     Controls
	updates <-chan session.Snapshot
	snap    session.Snapshot
	bar     progress.Model
	width   int
	busy    bool
}

func newModel(ctl Controls, updates <-chan session.Snapshot) model {
	return model{
		ctl:     ctl,
		updates: updates,
		snap:    session.Snapshot{State: session.StateNotListening, Status: session.StatusIdle},
		bar:     progress.New(progress.WithSolidFill("#4ADE80"), progress.WithoutPercentage()),
		width:   48,
	}
}

func (m model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

func waitForSnapshot(updates <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m model) toggle() tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: m.ctl.ToggleListening(context.Background())}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case " ", "space", "enter":
			// the mic button is disabled while recording
			if m.busy || m.snap.Recording() {
				return m, nil
			}
			m.busy = true
			return m, m.toggle()
		}

	case tea.WindowSizeMsg:
		m.width = min(max(msg.Width-8, 10), 60)
		m.bar.Width = m.width

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, waitForSnapshot(m.updates)

	case actionDoneMsg:
		m.busy = false
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Chord Detector"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("Strum a chord to detect it"))
	b.WriteString("\n\n")

	b.WriteString(m.chordView())
	b.WriteString("\n\n")

	if m.snap.Listening() {
		b.WriteString(m.levelView())
		b.WriteString("\n\n")
	}

	b.WriteString(m.micView())
	b.WriteString("\n\n")
	b.WriteString(m.statusView())

	if m.snap.Recording() {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(green).Render("● Recording... ●"))
	}

	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render("space/enter: toggle listening • q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m model) chordView() string {
	var content string
	if m.snap.Chord != "" {
		content = mutedStyle.Render("Detected Chord") + "\n" + chordStyle.Render(m.snap.Chord)
	} else {
		content = mutedStyle.Render("No chord detected")
	}
	return cardStyle.Width(m.width).Render(content)
}

func (m model) levelView() string {
	label := "Audio Level"
	hint := m.snap.Hint()
	gap := max(1, m.width-lipgloss.Width(label)-lipgloss.Width(hint))
	header := mutedStyle.Render(label + strings.Repeat(" ", gap) + hint)

	bar := m.bar
	if !m.snap.AboveThreshold() {
		bar.FullColor = "#D1D5DB"
	}
	return header + "\n" + bar.ViewAs(min(m.snap.Volume, 1))
}

func (m model) micView() string {
	style := lipgloss.NewStyle().Padding(0, 2).Border(lipgloss.RoundedBorder())
	label := "🎤 Start listening"
	if m.snap.Listening() {
		style = style.BorderForeground(green).Foreground(green)
		label = "🔇 Stop listening"
	}
	if m.snap.Recording() || m.busy {
		style = style.Faint(true)
	}
	return style.Render(label)
}

func (m model) statusView() string {
	if m.snap.Error != "" {
		line := lipgloss.NewStyle().Foreground(red).Render(m.snap.Error)
		if m.snap.Listening() {
			line += "\n" + mutedStyle.Render("Still listening for new chords...")
		}
		return line
	}

	color := gray
	switch {
	case m.snap.Recording():
		color = green
	case m.snap.Listening():
		color = blue
	}
	return lipgloss.NewStyle().Foreground(color).Render(m.snap.Status)
}

// Run shows the UI until the user quits
func Run(ctl Controls) error {
	updates, unsubscribe := ctl.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newModel(ctl, updates), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
