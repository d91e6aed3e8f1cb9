package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CLIAdapter runs a local agent CLI (claude-compatible flags) once per request.
type CLIAdapter struct {
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// cliResponse is the JSON printed with --output-format json. Older CLI
// versions nest the text under result.content.
type cliResponse struct {
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
	IsError   bool            `json:"is_error"`
}

// NewCLIAdapter creates a subprocess adapter. The ProcessManager is optional.
func NewCLIAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &CLIAdapter{
		command: command,
		args:    append([]string{}, cfg.Args...),
		workDir: workDir,
		procMgr: procMgr,
	}, nil
}

// Send runs the CLI with the flattened conversation as its prompt.
func (a *CLIAdapter) Send(ctx context.Context, req Request) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(req)...)
	cmd.Dir = a.workDir

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{}, fmt.Errorf("%s command failed: %w", a.command, err)
	}

	content, err := parseCLIOutput(stdout)
	if err != nil {
		return Response{}, fmt.Errorf("failed to parse %s output: %w", a.command, err)
	}
	return Response{Content: content, Model: req.Model}, nil
}

// Close is a no-op; each request is its own subprocess.
func (a *CLIAdapter) Close() error {
	return nil
}

func (a *CLIAdapter) buildArgs(req Request) []string {
	args := append([]string{}, a.args...)
	args = append(args, "-p", flatten(req.Messages), "--output-format", "json")
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	return args
}

// flatten renders a conversation as a single prompt. A lone user message is
// passed through unchanged.
func flatten(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(role[:1])+role[1:], m.Content)
	}
	return b.String()
}

// parseCLIOutput accepts the JSON result envelope or, failing that, plain text.
func parseCLIOutput(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty output")
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}

	var cr cliResponse
	if err := json.Unmarshal(trimmed, &cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var text string
	if err := json.Unmarshal(cr.Result, &text); err != nil {
		var nested struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(cr.Result, &nested); err != nil {
			return "", fmt.Errorf("unexpected result shape: %w", err)
		}
		for _, item := range nested.Content {
			if item.Type == "text" {
				text += item.Text
			}
		}
	}
	if cr.IsError {
		return "", fmt.Errorf("agent reported an error: %s", text)
	}
	return text, nil
}
