package orchestrator

import (
	"fmt"
	"strings"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

var basePrompts = map[agents.AgentType]string{
	agents.Orchestrator:   "You are the lead of a team of software agents. Break the request into clear steps and state what each step must deliver.",
	agents.Architect:      "You are an expert software architect. Design systems with scalability, maintainability, and best practices in mind.",
	agents.Product:        "You are a product manager. Define clear requirements, user stories, and acceptance criteria.",
	agents.Implementation: "You are an expert software developer. Write clean, efficient, and well-documented code.",
	agents.Reviewer:       "You are a code reviewer. Check for bugs, security issues, and adherence to best practices.",
	agents.BuildTest:      "You are a build and test engineer. Ensure code is tested and builds successfully.",
	agents.Integrator:     "You are an integration engineer. Combine the work of other agents into one consistent change set.",
	agents.Infra:          "You are a DevOps engineer. Design robust infrastructure and deployment pipelines.",
	agents.Tester:         "You are a QA engineer. Write focused tests and report what fails and why.",
	agents.Debugger:       "You are a debugging specialist. Find the root cause of failures and fix it with the smallest correct change.",
	agents.Optimizer:      "You are a performance engineer. Find the expensive paths and make them faster without changing behavior.",
	agents.Documenter:     "You are a technical writer. Document how the code works and how to use it.",
}

const (
	defaultPrompt = "You are a helpful AI assistant."
	promptClosing = "When providing code, be specific about file paths and complete implementations."
	fileOpsHint   = "To create or replace a file, put its path as a comment on the first line of a fenced code block, for example \"# src/app.py\" or \"// src/index.ts\". To delete a file, use a block whose first line is \"# DELETE path\"."

	treeDepth = 2
	treeItems = 20
)

// workspaceView is what agents are told about the bound workspace.
type workspaceView struct {
	ws   *persistence.Workspace
	tree []workspace.FileEntry
}

// systemPrompt assembles the prompt for one node: its custom prompt, the
// role prompt and the workspace summary.
func systemPrompt(node scheduler.Node, view *workspaceView) string {
	prompt, ok := basePrompts[node.AgentType]
	if !ok {
		prompt = defaultPrompt
	}
	if node.SystemPrompt != "" {
		prompt = node.SystemPrompt + "\n\n" + prompt
	}

	if view != nil {
		prompt += fmt.Sprintf("\n\nYou have access to a workspace:\n- Type: %s\n- Name: %s", view.ws.Type, view.ws.Name)
		if summary := formatTree(view.tree, 0); summary != "" {
			prompt += "\n- Files:\n" + summary
		}
		prompt += "\n\n" + fileOpsHint
	}

	return prompt + "\n\n" + promptClosing
}

// formatTree renders at most treeItems entries per level, treeDepth levels deep.
func formatTree(entries []workspace.FileEntry, depth int) string {
	if depth >= treeDepth {
		return ""
	}
	if len(entries) > treeItems {
		entries = entries[:treeItems]
	}

	var lines []string
	for _, e := range entries {
		prefix := strings.Repeat("  ", depth)
		if e.IsDir {
			lines = append(lines, prefix+e.Name+"/")
			if sub := formatTree(e.Children, depth+1); sub != "" {
				lines = append(lines, sub)
			}
			continue
		}
		lines = append(lines, prefix+e.Name)
	}
	return strings.Join(lines, "\n")
}

// nodeInput builds the user turn for a node. Source nodes get the raw
// message; other nodes get the request plus every predecessor's output or
// failure marker, in execution order.
func nodeInput(content string, preds []*scheduler.AgentTask) string {
	if len(preds) == 0 {
		return content
	}

	var b strings.Builder
	b.WriteString("Original request:\n")
	b.WriteString(content)
	for _, p := range preds {
		b.WriteString("\n\n")
		if p.Status == scheduler.TaskFailed {
			b.WriteString(failureMarker(p))
			continue
		}
		fmt.Fprintf(&b, "[Output from %s (%s)]:\n%s", p.Label, p.NodeID, p.Output)
	}
	return b.String()
}

// failureMarker is the input a successor sees in place of a failed predecessor's output.
func failureMarker(task *scheduler.AgentTask) string {
	return fmt.Sprintf("[FAILED %s (%s)]: %s\nThis step produced no output. Continue with what is available or explain what is missing.",
		task.Label, task.NodeID, task.Error)
}
