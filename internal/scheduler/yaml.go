package scheduler

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/redstone-dev/redstone/internal/agents"
)

// ErrInvalidYAML wraps documents that cannot be parsed into a workflow.
var ErrInvalidYAML = errors.New("invalid workflow yaml")

// YAMLVersion is the schema version written on export.
const YAMLVersion = "1.0"

type yamlDocument struct {
	Version string    `yaml:"version"`
	Swarm   yamlSwarm `yaml:"elastic_swarm"`
}

type yamlSwarm struct {
	Name        string           `yaml:"name,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Global      *yamlGlobal      `yaml:"global,omitempty"`
	Agents      yamlAgents       `yaml:"agents"`
	Connections []yamlConnection `yaml:"connections"`
}

type yamlGlobal struct {
	DefaultProvider string   `yaml:"default_provider"`
	DefaultModel    string   `yaml:"default_model"`
	Temperature     *float64 `yaml:"temperature"`
	MaxTokens       int      `yaml:"max_tokens"`
}

type yamlAgent struct {
	Type         string   `yaml:"type"`
	Label        string   `yaml:"label"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	Temperature  *float64 `yaml:"temperature"`
	SystemPrompt string   `yaml:"system_prompt"`
	OnFailure    string   `yaml:"on_failure,omitempty"`
}

type yamlConnection struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type namedAgent struct {
	ID    string
	Agent yamlAgent
}

// yamlAgents keeps the document order of the agents mapping.
type yamlAgents []namedAgent

func (a yamlAgents) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, na := range a {
		var value yaml.Node
		if err := value.Encode(na.Agent); err != nil {
			return nil, err
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: na.ID}
		node.Content = append(node.Content, key, &value)
	}
	return node, nil
}

func (a *yamlAgents) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: agents must be a mapping of id to agent", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var agent yamlAgent
		if err := value.Content[i+1].Decode(&agent); err != nil {
			return fmt.Errorf("agent %q: %w", value.Content[i].Value, err)
		}
		*a = append(*a, namedAgent{ID: value.Content[i].Value, Agent: agent})
	}
	return nil
}

// ExportYAML renders w in the elastic_swarm document schema.
func ExportYAML(w *Workflow) ([]byte, error) {
	temp := w.Settings.Temperature
	doc := yamlDocument{
		Version: YAMLVersion,
		Swarm: yamlSwarm{
			Name:        w.Name,
			Description: w.Description,
			Global: &yamlGlobal{
				DefaultProvider: string(w.Settings.DefaultProvider),
				DefaultModel:    w.Settings.DefaultModel,
				Temperature:     &temp,
				MaxTokens:       w.Settings.MaxTokens,
			},
			Connections: []yamlConnection{},
		},
	}

	for _, n := range w.Nodes {
		n = w.withDefaults(n)
		t := n.Temperature
		doc.Swarm.Agents = append(doc.Swarm.Agents, namedAgent{
			ID: n.ID,
			Agent: yamlAgent{
				Type:         string(n.AgentType),
				Label:        n.Label,
				Provider:     string(n.Provider),
				Model:        n.Model,
				Temperature:  &t,
				SystemPrompt: n.SystemPrompt,
				OnFailure:    string(n.FailureMode),
			},
		})
	}
	for _, e := range w.Edges {
		doc.Swarm.Connections = append(doc.Swarm.Connections, yamlConnection{From: e.From, To: e.To})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow yaml: %w", err)
	}
	return out, nil
}

// ImportYAML parses an elastic_swarm document and validates the resulting
// graph. Nothing is returned when validation fails.
func ImportYAML(data []byte) (*Workflow, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if doc.Version != "" && doc.Version != YAMLVersion && doc.Version != "1" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidYAML, doc.Version)
	}

	settings := DefaultSettings()
	if g := doc.Swarm.Global; g != nil {
		if g.DefaultProvider != "" {
			settings.DefaultProvider = agents.Provider(g.DefaultProvider)
		}
		if g.DefaultModel != "" {
			settings.DefaultModel = g.DefaultModel
		}
		if g.Temperature != nil {
			settings.Temperature = *g.Temperature
		}
		if g.MaxTokens > 0 {
			settings.MaxTokens = g.MaxTokens
		}
	}

	wf := &Workflow{
		Name:        doc.Swarm.Name,
		Description: doc.Swarm.Description,
		Settings:    settings,
		Tier:        agents.ElasticSwarmTier,
	}
	if wf.Name == "" {
		wf.Name = "Imported Workflow"
	}
	wf.Slug = Slugify(wf.Name)

	var errs []error
	for _, na := range doc.Swarm.Agents {
		node, err := nodeFromYAML(na, settings)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		wf.Nodes = append(wf.Nodes, node)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, c := range doc.Swarm.Connections {
		wf.Edges = append(wf.Edges, Edge{From: c.From, To: c.To})
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func nodeFromYAML(na namedAgent, settings Settings) (Node, error) {
	a := na.Agent

	agentType := agents.Custom
	if a.Type != "" {
		t, err := agents.ParseType(a.Type)
		if err != nil {
			return Node{}, fmt.Errorf("%w: agent %q: %w", ErrInvalidNode, na.ID, err)
		}
		agentType = t
	}

	node := Node{
		ID:           na.ID,
		AgentType:    agentType,
		Label:        a.Label,
		Provider:     agents.Provider(a.Provider),
		Model:        a.Model,
		Temperature:  settings.Temperature,
		SystemPrompt: a.SystemPrompt,
		FailureMode:  FailureMode(a.OnFailure),
	}
	if node.Label == "" {
		node.Label = "Agent " + na.ID
	}
	if node.Provider == "" {
		node.Provider = settings.DefaultProvider
	}
	if node.Model == "" {
		node.Model = settings.DefaultModel
	}
	if a.Temperature != nil {
		node.Temperature = *a.Temperature
	}
	return node, nil
}
