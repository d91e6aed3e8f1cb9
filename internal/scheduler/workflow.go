package scheduler

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/redstone-dev/redstone/internal/agents"
)

var (
	ErrBuiltinReadOnly = errors.New("built-in workflows are read-only")
	ErrEmptyWorkflow   = errors.New("workflow must have at least one agent")
)

// Settings are workflow-wide defaults applied to nodes that leave a field empty.
type Settings struct {
	DefaultProvider agents.Provider `json:"default_provider"`
	DefaultModel    string          `json:"default_model"`
	Temperature     float64         `json:"temperature"`
	MaxTokens       int             `json:"max_tokens"`
}

// DefaultSettings mirrors the product defaults for new workflows.
func DefaultSettings() Settings {
	return Settings{
		DefaultProvider: agents.ProviderAnthropic,
		DefaultModel:    "claude-3-5-sonnet-20241022",
		Temperature:     0.7,
		MaxTokens:       4096,
	}
}

// Workflow is a stored workflow graph: a built-in stack or a user-owned
// Elastic Swarm.
type Workflow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Nodes       []Node      `json:"nodes"`
	Edges       []Edge      `json:"edges"`
	Settings    Settings    `json:"settings"`
	IsBuiltin   bool        `json:"is_builtin"`
	OwnerID     string      `json:"owner_id,omitempty"`
	Tier        agents.Tier `json:"tier_required"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the workflow has nodes and a valid edge relation.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return ErrEmptyWorkflow
	}
	return Validate(w.Nodes, w.Edges)
}

// Graph builds the executable graph, filling unset node fields from Settings.
func (w *Workflow) Graph() (*Graph, error) {
	if len(w.Nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}
	nodes := make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		nodes[i] = w.withDefaults(n)
	}
	return NewGraph(nodes, w.Edges)
}

func (w *Workflow) withDefaults(n Node) Node {
	if n.Provider == "" {
		n.Provider = w.Settings.DefaultProvider
	}
	if n.Model == "" {
		n.Model = w.Settings.DefaultModel
	}
	if n.Provider == "" || n.Model == "" {
		if def, err := agents.Get(n.AgentType); err == nil {
			if n.Provider == "" {
				n.Provider = def.DefaultProvider
			}
			if n.Model == "" {
				n.Model = def.DefaultModel
			}
		}
	}
	if n.Label == "" {
		n.Label = string(n.AgentType)
	}
	return n
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters into "-".
func Slugify(name string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Nodes = append([]Node{}, w.Nodes...)
	cp.Edges = append([]Edge{}, w.Edges...)
	return &cp
}

// ValidationReport is the non-persisting validation result.
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
	Order  []string `json:"order"`
}

// Report validates w and lists every problem found.
func Report(w *Workflow) ValidationReport {
	report := ValidationReport{Errors: []string{}, Order: []string{}}
	err := w.Validate()
	if err == nil {
		g, gerr := w.Graph()
		if gerr == nil {
			report.Order, gerr = g.TopologicalOrder()
		}
		err = gerr
	}
	if err == nil {
		report.Valid = true
		return report
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			report.Errors = append(report.Errors, e.Error())
		}
	} else {
		report.Errors = append(report.Errors, err.Error())
	}
	return report
}
