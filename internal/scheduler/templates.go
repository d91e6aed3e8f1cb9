package scheduler

import (
	"errors"
	"fmt"

	"github.com/redstone-dev/redstone/internal/agents"
)

// ErrUnknownTemplate is returned for a template id that does not exist.
var ErrUnknownTemplate = errors.New("unknown workflow template")

// Template is a starter Elastic Swarm graph.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

var templates = []Template{
	{
		ID:          "full-stack-builder",
		Name:        "Full-Stack Builder",
		Description: "Complete workflow for building full-stack applications",
		Nodes: []Node{
			{ID: "1", AgentType: agents.Orchestrator, Label: "Orchestrator", Provider: agents.ProviderAnthropic, Model: sonnet, Temperature: 0.7},
			{ID: "2", AgentType: agents.Architect, Label: "Architect", Provider: agents.ProviderAnthropic, Model: sonnet, Temperature: 0.7},
			{ID: "3", AgentType: agents.Implementation, Label: "Coder", Provider: agents.ProviderOpenAI, Model: gpt4o, Temperature: 0.7},
			{ID: "4", AgentType: agents.Reviewer, Label: "Reviewer", Provider: agents.ProviderAnthropic, Model: sonnet, Temperature: 0.7},
		},
		Edges: []Edge{{"1", "2"}, {"1", "3"}, {"2", "4"}, {"3", "4"}},
	},
	{
		ID:          "code-review-pipeline",
		Name:        "Code Review Pipeline",
		Description: "Automated code review with multiple perspectives",
		Nodes: []Node{
			{ID: "1", AgentType: agents.Orchestrator, Label: "Coordinator", Provider: agents.ProviderOpenAI, Model: gpt4oMini, Temperature: 0.7},
			{ID: "2", AgentType: agents.Reviewer, Label: "Security Review", Provider: agents.ProviderAnthropic, Model: sonnet, Temperature: 0.7},
			{ID: "3", AgentType: agents.Optimizer, Label: "Performance Review", Provider: agents.ProviderOpenAI, Model: gpt4o, Temperature: 0.7},
		},
		Edges: []Edge{{"1", "2"}, {"1", "3"}},
	},
	{
		ID:          "rapid-prototyper",
		Name:        "Rapid Prototyper",
		Description: "Fast prototyping with minimal overhead",
		Nodes: []Node{
			{ID: "1", AgentType: agents.Implementation, Label: "Speed Coder", Provider: agents.ProviderOpenAI, Model: gpt4oMini, Temperature: 0.7},
			{ID: "2", AgentType: agents.Tester, Label: "Quick Tester", Provider: agents.ProviderOpenAI, Model: "gpt-3.5-turbo", Temperature: 0.7},
		},
		Edges: []Edge{{"1", "2"}},
	},
}

// Templates returns all starter templates.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.Nodes = append([]Node{}, t.Nodes...)
		t.Edges = append([]Edge{}, t.Edges...)
		out[i] = t
	}
	return out
}

// FromTemplate builds an unsaved workflow owned by ownerID from template id.
func FromTemplate(id, ownerID string) (*Workflow, error) {
	for _, t := range Templates() {
		if t.ID != id {
			continue
		}
		return &Workflow{
			Name:        t.Name,
			Slug:        Slugify(t.Name),
			Description: t.Description,
			Nodes:       t.Nodes,
			Edges:       t.Edges,
			Settings:    DefaultSettings(),
			OwnerID:     ownerID,
			Tier:        agents.ElasticSwarmTier,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
}
