// Package tui renders a streamed turn: the agents of the workflow with their
// output, and overall progress with file operations.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/redstone-dev/redstone/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneWorkflow
)

const paneCount = 2

// CancelFunc asks the server to cancel a turn.
type CancelFunc func(turnID string) error

// Model is the root Bubble Tea model.
type Model struct {
	agentPane   AgentPaneModel
	dagPane     DAGPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	cancel      CancelFunc

	turnID       string
	cancelling   bool
	disconnected bool
	notice       string

	width    int
	height   int
	quitting bool
}

// New creates a model fed by sub. cancel may be nil.
func New(sub <-chan events.Event, cancel CancelFunc) Model {
	m := Model{
		agentPane:   NewAgentPaneModel(),
		dagPane:     NewDAGPaneModel(),
		focusedPane: PaneAgents,
		eventSub:    sub,
		cancel:      cancel,
	}
	m.updateFocusStates()
	return m
}

// streamClosedMsg reports that the event source is gone.
type streamClosedMsg struct{}

type cancelResultMsg struct {
	err error
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return streamClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyAgents:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyWorkflow:
			m.focusedPane = PaneWorkflow
			m.updateFocusStates()

		case KeyCancel:
			if m.cancel != nil && m.turnID != "" && !m.cancelling && !m.dagPane.Done() {
				m.cancelling = true
				m.notice = "cancelling..."
				cancel, turnID := m.cancel, m.turnID
				cmds = append(cmds, func() tea.Msg { return cancelResultMsg{err: cancel(turnID)} })
			}

		default:
			if m.focusedPane == PaneAgents {
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case cancelResultMsg:
		if msg.err != nil {
			m.cancelling = false
			m.notice = "cancel failed: " + msg.err.Error()
		}

	case streamClosedMsg:
		m.disconnected = true
		if !m.dagPane.Done() {
			m.notice = "disconnected"
		}

	case tickMsg:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		if m.turnID == "" {
			m.turnID = msg.TurnID()
		}
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd)
		if events.Terminal(msg) {
			m.notice = ""
		}
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Connecting..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.agentPane.View(), m.dagPane.View())

	help := HelpView()
	if m.notice != "" {
		help = StyleRunning.Render(m.notice) + "  " + help
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, help)
}

// computeLayout gives the agent pane 65% of the width.
func (m *Model) computeLayout() {
	leftWidth := m.width * 65 / 100
	availableHeight := m.height - 1

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.dagPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.dagPane.SetFocused(m.focusedPane == PaneWorkflow)
}
