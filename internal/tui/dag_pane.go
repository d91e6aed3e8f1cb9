package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// fileLine is one applied or proposed file operation.
type fileLine struct {
	op      string
	path    string
	applied bool
	err     string
}

// DAGPaneModel shows workflow progress, file operations and the outcome.
type DAGPaneModel struct {
	progress scheduler.Progress
	files    []fileLine

	done     bool
	status   string // turn status once complete, or "error"
	message  string
	warnings []string
	escalate []string

	width   int
	height  int
	focused bool
}

// NewDAGPaneModel creates an empty progress pane.
func NewDAGPaneModel() DAGPaneModel {
	return DAGPaneModel{}
}

// Update handles turn event messages.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskEvent:
		m.progress = msg.Progress

	case events.FileOperationEvent:
		m.files = append(m.files, fileLine{op: msg.Operation, path: msg.Path, applied: msg.Applied, err: msg.Error})

	case events.CompleteEvent:
		m.done = true
		m.status = msg.Status
		m.message = msg.Message
		m.warnings = msg.Warnings
		m.escalate = msg.Escalations

	case events.ErrorEvent:
		m.done = true
		m.status = "error"
		m.message = msg.Message
	}
	return m, nil
}

// Done reports whether the turn has ended.
func (m DAGPaneModel) Done() bool {
	return m.done
}

// View renders the pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Workflow")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	p := m.progress
	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleDone.Render(fmt.Sprint(p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleRunning.Render(fmt.Sprint(p.Running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Pending:   %s\n\n", StyleMuted.Render(fmt.Sprint(p.Pending)))

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := p.Completed * barWidth / p.Total
		failedWidth := p.Failed * barWidth / p.Total
		runningWidth := p.Running * barWidth / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleDone.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleMuted.Render(strings.Repeat(".", max(0, pendingWidth)))
		fmt.Fprintf(&b, "[%s]  %d/%d\n\n", bar, p.Completed+p.Failed, p.Total)
	}

	if len(m.files) > 0 {
		b.WriteString(StyleTitle.Render("Files"))
		b.WriteString("\n")
		for _, f := range m.files {
			icon := StyleMuted.Render("~")
			switch {
			case f.err != "":
				icon = StyleFailed.Render("✗")
			case f.applied:
				icon = StyleDone.Render("✓")
			}
			fmt.Fprintf(&b, "%s %s %s\n", icon, f.op, f.path)
		}
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString(outcomeStyle(m.status).Render("Turn " + m.status))
		b.WriteString("\n")
		for _, e := range m.escalate {
			fmt.Fprintf(&b, "%s conflict on %s\n", StyleFailed.Render("!"), e)
		}
		for _, w := range m.warnings {
			fmt.Fprintf(&b, "%s %s\n", StyleRunning.Render("!"), w)
		}
		if m.status == "error" && m.message != "" {
			b.WriteString(m.message)
			b.WriteString("\n")
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
