package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/redstone-dev/redstone/internal/scheduler"
)

var (
	colorAccent  = lipgloss.Color("62")
	colorMuted   = lipgloss.Color("240")
	colorRunning = lipgloss.Color("214")
	colorDone    = lipgloss.Color("42")
	colorFailed  = lipgloss.Color("196")
)

var (
	StyleFocusedBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent)
	StyleUnfocusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted)

	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))

	StyleRunning = lipgloss.NewStyle().Foreground(colorRunning).Bold(true)
	StyleDone    = lipgloss.NewStyle().Foreground(colorDone).Bold(true)
	StyleFailed  = lipgloss.NewStyle().Foreground(colorFailed).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)

// taskGlyphs maps an AgentTask status to its list marker.
var taskGlyphs = map[scheduler.TaskStatus]struct {
	glyph string
	style lipgloss.Style
}{
	scheduler.TaskPending:   {"○", StyleMuted},
	scheduler.TaskRunning:   {"●", StyleRunning},
	scheduler.TaskCompleted: {"✓", StyleDone},
	scheduler.TaskFailed:    {"✗", StyleFailed},
}

// StatusIcon returns a styled marker for an AgentTask status.
func StatusIcon(status string) string {
	g, ok := taskGlyphs[scheduler.TaskStatus(status)]
	if !ok {
		g = taskGlyphs[scheduler.TaskPending]
	}
	return g.style.Render(g.glyph)
}

// outcomeStyle colors the terminal status of a turn.
func outcomeStyle(status string) lipgloss.Style {
	switch status {
	case "complete":
		return StyleDone
	case "partial", "cancelled":
		return StyleRunning
	default:
		return StyleFailed
	}
}
