package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// AgentState is what the pane knows about one workflow node.
type AgentState struct {
	NodeID    string
	Label     string
	AgentType string
	Status    string // "pending", "running", "completed", "failed"
	Output    strings.Builder
	StartTime time.Time
	Duration  time.Duration
}

// AgentPaneModel lists the turn's agents and shows the selected one's output.
type AgentPaneModel struct {
	agents      map[string]*AgentState // nodeID -> state
	agentOrder  []string               // first-seen order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // debounces viewport refreshes while chunks stream in
}

// NewAgentPaneModel creates an empty agent pane.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		agents:   make(map[string]*AgentState),
		viewport: viewport.New(0, 0),
	}
}

type tickMsg struct {
	tag int
}

func (m *AgentPaneModel) agent(nodeID, label, agentType string) *AgentState {
	if a, ok := m.agents[nodeID]; ok {
		return a
	}
	a := &AgentState{NodeID: nodeID, Label: label, AgentType: agentType, Status: string(scheduler.TaskPending)}
	if a.Label == "" {
		a.Label = nodeID
	}
	m.agents[nodeID] = a
	m.agentOrder = append(m.agentOrder, nodeID)
	if len(m.agentOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return a
}

// Update handles key and turn event messages.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyNext, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyPrev, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.StatusEvent:
		a := m.agent(msg.NodeID, msg.Label, string(msg.Agent))
		a.Status = msg.Status
		if msg.Status == string(scheduler.TaskRunning) && a.StartTime.IsZero() {
			a.StartTime = msg.Timestamp
		}
		if m.selectedID() == msg.NodeID {
			m.updateViewportContent()
		}

	case events.ChunkEvent:
		a := m.agent(msg.NodeID, "", string(msg.Agent))
		a.Output.WriteString(msg.Content)
		if m.selectedID() == msg.NodeID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.TaskEvent:
		if msg.Task == nil {
			break
		}
		task := msg.Task
		a := m.agent(task.NodeID, task.Label, string(task.AgentType))
		a.Status = string(task.Status)
		if task.StartedAt != nil && task.CompletedAt != nil {
			a.Duration = task.CompletedAt.Sub(*task.StartedAt)
		}
		switch task.Status {
		case scheduler.TaskCompleted:
			fmt.Fprintf(&a.Output, "\n\n[Completed in %v]", a.Duration.Round(time.Millisecond))
		case scheduler.TaskFailed:
			fmt.Fprintf(&a.Output, "\n\n[Failed: %s]", task.Error)
		}
		if m.selectedID() == task.NodeID {
			m.updateViewportContent()
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the agent list beside the selected agent's output.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleMuted.Render("Waiting..."))
	}
	for i, nodeID := range m.agentOrder {
		a := m.agents[nodeID]
		name := a.Label
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(a.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func (m AgentPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected agent, if any.
func (m AgentPaneModel) Selected() (*AgentState, bool) {
	a, ok := m.agents[m.selectedID()]
	return a, ok
}

func (m *AgentPaneModel) updateViewportContent() {
	a, ok := m.agents[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for agents...")
		return
	}
	m.viewport.SetContent(a.Output.String())
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-25-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
