package agents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrUnknownAgentType is returned when a lookup names a type the registry does not hold.
var ErrUnknownAgentType = errors.New("unknown agent type")

// AgentType identifies an agent role.
type AgentType string

const (
	Orchestrator   AgentType = "orchestrator"
	Architect      AgentType = "architect"
	Product        AgentType = "product"
	Implementation AgentType = "implementation"
	Reviewer       AgentType = "reviewer"
	BuildTest      AgentType = "build_test"
	Integrator     AgentType = "integrator"
	Infra          AgentType = "infra"
	Tester         AgentType = "tester"
	Debugger       AgentType = "debugger"
	Optimizer      AgentType = "optimizer"
	Documenter     AgentType = "documenter"
	Custom         AgentType = "custom"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderGoogle     Provider = "google"
	ProviderOpenRouter Provider = "openrouter"
)

// Definition is the static description of an agent role.
type Definition struct {
	Type            AgentType `json:"type"`
	Name            string    `json:"name"`
	Authority       int       `json:"authority"`
	DefaultProvider Provider  `json:"default_provider"`
	DefaultModel    string    `json:"default_model"`
	Description     string    `json:"description"`
}

var registry = map[AgentType]Definition{
	Orchestrator: {
		Type: Orchestrator, Name: "Orchestrator", Authority: 10,
		DefaultProvider: ProviderAnthropic, DefaultModel: "claude-3-5-sonnet-20241022",
		Description: "Coordinates other agents",
	},
	Architect: {
		Type: Architect, Name: "Architect", Authority: 10,
		DefaultProvider: ProviderAnthropic, DefaultModel: "claude-3-5-sonnet-20241022",
		Description: "System design and architecture",
	},
	Product: {
		Type: Product, Name: "Product", Authority: 9,
		DefaultProvider: ProviderAnthropic, DefaultModel: "claude-3-5-sonnet-20241022",
		Description: "Requirements, scope and acceptance criteria",
	},
	BuildTest: {
		Type: BuildTest, Name: "Build & Test", Authority: 8,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "Builds the project and writes tests",
	},
	Integrator: {
		Type: Integrator, Name: "Integrator", Authority: 8,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "Merges work from other agents",
	},
	Tester: {
		Type: Tester, Name: "Tester", Authority: 8,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o-mini",
		Description: "Testing and validation",
	},
	Reviewer: {
		Type: Reviewer, Name: "Reviewer", Authority: 7,
		DefaultProvider: ProviderAnthropic, DefaultModel: "claude-3-5-sonnet-20241022",
		Description: "Code review and quality",
	},
	Optimizer: {
		Type: Optimizer, Name: "Optimizer", Authority: 7,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "Performance optimization",
	},
	Documenter: {
		Type: Documenter, Name: "Documenter", Authority: 9,
		DefaultProvider: ProviderGoogle, DefaultModel: "gemini-1.5-flash",
		Description: "Documentation generation",
	},
	Infra: {
		Type: Infra, Name: "Infra", Authority: 6,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "CI, deployment and infrastructure",
	},
	Implementation: {
		Type: Implementation, Name: "Implementation", Authority: 5,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "Writes code",
	},
	Debugger: {
		Type: Debugger, Name: "Debugger", Authority: 5,
		DefaultProvider: ProviderOpenAI, DefaultModel: "gpt-4o",
		Description: "Bug fixing and debugging",
	},
	Custom: {
		Type: Custom, Name: "Custom Agent", Authority: 5,
		DefaultProvider: ProviderAnthropic, DefaultModel: "claude-3-5-sonnet-20241022",
		Description: "User-defined agent",
	},
}

// Get returns the definition for the given agent type.
func Get(t AgentType) (Definition, error) {
	def, ok := registry[t]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownAgentType, string(t))
	}
	return def, nil
}

// Valid reports whether t is a registered agent type.
func Valid(t AgentType) bool {
	_, ok := registry[t]
	return ok
}

// ParseType accepts registry names as well as the legacy spellings used by
// stack configs ("ArchitectAgent", "BuildTest", "build-test").
func ParseType(s string) (AgentType, error) {
	name := strings.TrimSpace(s)
	name = strings.TrimSuffix(name, "Agent")

	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '-' || r == ' ':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}

	t := AgentType(b.String())
	if !Valid(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgentType, s)
	}
	return t, nil
}

// All returns every definition ordered by authority (highest first), then by type.
func All() []Definition {
	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Authority != defs[j].Authority {
			return defs[i].Authority > defs[j].Authority
		}
		return defs[i].Type < defs[j].Type
	})
	return defs
}

// Ranking is the outcome of comparing two agents' authority.
type Ranking int

const (
	Outranks   Ranking = iota // left side wins
	Outranked                 // right side wins
	Escalation                // equal authority, not decidable
)

func (r Ranking) String() string {
	switch r {
	case Outranks:
		return "outranks"
	case Outranked:
		return "outranked"
	default:
		return "escalation"
	}
}

// Compare ranks a against b. Anything other than a strict difference in
// authority is an Escalation.
func Compare(a, b AgentType) (Ranking, error) {
	da, err := Get(a)
	if err != nil {
		return Escalation, err
	}
	db, err := Get(b)
	if err != nil {
		return Escalation, err
	}
	switch {
	case da.Authority > db.Authority:
		return Outranks, nil
	case da.Authority < db.Authority:
		return Outranked, nil
	default:
		return Escalation, nil
	}
}
