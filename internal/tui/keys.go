package tui

import "strings"

const (
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyCancel   = "c"
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyAgents   = "1"
	KeyWorkflow = "2"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyPrev     = "k"
	KeyNext     = "j"
)

var helpEntries = [][2]string{
	{"Tab", "cycle focus"},
	{KeyAgents + "/" + KeyWorkflow, "jump to pane"},
	{KeyNext + "/" + KeyPrev, "select agent"},
	{KeyCancel, "cancel turn"},
	{KeyQuit, "quit"},
}

// HelpView renders the key hints shown under the panes.
func HelpView() string {
	parts := make([]string, len(helpEntries))
	for i, e := range helpEntries {
		parts[i] = e[0] + ": " + e[1]
	}
	return StyleHelp.Render(strings.Join(parts, " | "))
}
