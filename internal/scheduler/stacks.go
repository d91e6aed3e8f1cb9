package scheduler

import (
	"errors"
	"fmt"

	"github.com/redstone-dev/redstone/internal/agents"
)

// ErrUnknownStack is returned for a slug that names no built-in stack.
var ErrUnknownStack = errors.New("unknown stack")

// DefaultStackSlug is used when a session names no stack or workflow.
const DefaultStackSlug = "speed-demon"

type stackAgent struct {
	agentType   agents.AgentType
	provider    agents.Provider
	model       string
	temperature float64
}

type stackDef struct {
	slug        string
	name        string
	description string
	focus       string
	tier        agents.Tier
	agents      []stackAgent // executed as a chain in this order
}

const (
	sonnet     = "claude-3-5-sonnet-20241022"
	gpt4o      = "gpt-4o"
	gpt4oMini  = "gpt-4o-mini"
	geminiPro  = "gemini-1.5-pro"
	geminiFast = "gemini-1.5-flash"
)

var builtinStacks = []stackDef{
	{
		slug: "architect-pro", name: "Architect Pro", focus: "architecture", tier: agents.TierDeveloper,
		description: "Best for system design and large codebases. Uses Claude 3.5 Sonnet for deep architectural reasoning.",
		agents: []stackAgent{
			{agents.Architect, agents.ProviderAnthropic, sonnet, 0.5},
			{agents.Product, agents.ProviderAnthropic, sonnet, 0.7},
			{agents.Implementation, agents.ProviderAnthropic, sonnet, 0.3},
		},
	},
	{
		slug: "speed-demon", name: "Speed Demon", focus: "speed", tier: agents.TierFree,
		description: "Optimized for fast iteration and prototyping. Uses GPT-4o-mini and Gemini Flash.",
		agents: []stackAgent{
			{agents.Architect, agents.ProviderOpenAI, gpt4oMini, 0.7},
			{agents.Product, agents.ProviderGoogle, geminiFast, 0.8},
			{agents.Implementation, agents.ProviderOpenAI, gpt4oMini, 0.5},
		},
	},
	{
		slug: "full-stack", name: "Full Stack", focus: "balanced", tier: agents.TierDeveloper,
		description: "Balanced stack for production applications. Combines Claude and GPT-4o.",
		agents: []stackAgent{
			{agents.Architect, agents.ProviderAnthropic, sonnet, 0.5},
			{agents.Product, agents.ProviderOpenAI, gpt4o, 0.7},
			{agents.Implementation, agents.ProviderOpenAI, gpt4o, 0.3},
			{agents.Reviewer, agents.ProviderAnthropic, sonnet, 0.3},
		},
	},
	{
		slug: "budget-builder", name: "Budget Builder", focus: "cost", tier: agents.TierFree,
		description: "Cost-effective development with Gemini Pro. Great for learning and small projects.",
		agents: []stackAgent{
			{agents.Architect, agents.ProviderGoogle, geminiPro, 0.6},
			{agents.Product, agents.ProviderGoogle, geminiPro, 0.7},
			{agents.Implementation, agents.ProviderGoogle, geminiPro, 0.4},
		},
	},
	{
		slug: "security-first", name: "Security First", focus: "security", tier: agents.TierTeam,
		description: "Security-focused stack with enhanced review. Claude for deep security analysis.",
		agents: []stackAgent{
			{agents.Architect, agents.ProviderAnthropic, sonnet, 0.3},
			{agents.Reviewer, agents.ProviderAnthropic, sonnet, 0.2},
			{agents.BuildTest, agents.ProviderAnthropic, sonnet, 0.3},
		},
	},
}

// Stack is the public description of a built-in stack.
type Stack struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Focus       string      `json:"focus"`
	Tier        agents.Tier `json:"tier_required"`
	Workflow    *Workflow   `json:"workflow"`
}

// Stacks returns every built-in stack.
func Stacks() []Stack {
	stacks := make([]Stack, 0, len(builtinStacks))
	for _, def := range builtinStacks {
		stacks = append(stacks, def.stack())
	}
	return stacks
}

// LookupStack returns the stack for slug without tier checks.
func LookupStack(slug string) (Stack, error) {
	for _, def := range builtinStacks {
		if def.slug == slug {
			return def.stack(), nil
		}
	}
	return Stack{}, fmt.Errorf("%w: %q", ErrUnknownStack, slug)
}

// ResolveStack returns the stack's workflow if tier unlocks it.
func ResolveStack(slug string, tier agents.Tier) (*Workflow, error) {
	if slug == "" {
		slug = DefaultStackSlug
	}
	stack, err := LookupStack(slug)
	if err != nil {
		return nil, err
	}
	if err := agents.Require(tier, stack.Tier, "stack "+slug); err != nil {
		return nil, err
	}
	return stack.Workflow, nil
}

// IsStack reports whether ref names a built-in stack.
func IsStack(ref string) bool {
	_, err := LookupStack(ref)
	return err == nil
}

func (def stackDef) stack() Stack {
	wf := &Workflow{
		ID:          def.slug,
		Name:        def.name,
		Slug:        def.slug,
		Description: def.description,
		IsBuiltin:   true,
		Tier:        def.tier,
		Settings:    DefaultSettings(),
	}
	wf.Settings.DefaultProvider = def.agents[0].provider
	wf.Settings.DefaultModel = def.agents[0].model

	var prev string
	for _, a := range def.agents {
		id := string(a.agentType)
		name := id
		if d, err := agents.Get(a.agentType); err == nil {
			name = d.Name
		}
		wf.Nodes = append(wf.Nodes, Node{
			ID:          id,
			AgentType:   a.agentType,
			Label:       name,
			Provider:    a.provider,
			Model:       a.model,
			Temperature: a.temperature,
		})
		if prev != "" {
			wf.Edges = append(wf.Edges, Edge{From: prev, To: id})
		}
		prev = id
	}

	return Stack{
		Slug:        def.slug,
		Name:        def.name,
		Description: def.description,
		Focus:       def.focus,
		Tier:        def.tier,
		Workflow:    wf,
	}
}
