package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/redstone-dev/redstone/internal/agents"
)

func node(id string, t agents.AgentType) Node {
	return Node{ID: id, AgentType: t, Label: id, Provider: agents.ProviderOpenAI, Model: "gpt-4o", Temperature: 0.5}
}

func impl(ids ...string) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = node(id, agents.Implementation)
	}
	return nodes
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		edges   []Edge
		wantErr error
	}{
		{
			name:  "linear chain",
			nodes: impl("a", "b", "c"),
			edges: []Edge{{"a", "b"}, {"b", "c"}},
		},
		{
			name:  "diamond",
			nodes: impl("a", "b", "c", "d"),
			edges: []Edge{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
		},
		{
			name:  "isolated nodes",
			nodes: impl("a", "b"),
		},
		{
			name:  "empty graph",
			nodes: nil,
		},
		{
			name:    "direct cycle",
			nodes:   impl("a", "b"),
			edges:   []Edge{{"a", "b"}, {"b", "a"}},
			wantErr: ErrCycleDetected,
		},
		{
			name:    "transitive cycle",
			nodes:   impl("a", "b", "c"),
			edges:   []Edge{{"a", "b"}, {"b", "c"}, {"c", "a"}},
			wantErr: ErrCycleDetected,
		},
		{
			name:    "self loop",
			nodes:   impl("a"),
			edges:   []Edge{{"a", "a"}},
			wantErr: ErrCycleDetected,
		},
		{
			name:    "dangling target",
			nodes:   impl("a"),
			edges:   []Edge{{"a", "ghost"}},
			wantErr: ErrDanglingEdge,
		},
		{
			name:    "dangling source",
			nodes:   impl("a"),
			edges:   []Edge{{"ghost", "a"}},
			wantErr: ErrDanglingEdge,
		},
		{
			name:    "duplicate id",
			nodes:   impl("a", "a"),
			wantErr: ErrDuplicateNodeID,
		},
		{
			name:    "unknown agent type",
			nodes:   []Node{{ID: "a", AgentType: "wizard"}},
			wantErr: agents.ErrUnknownAgentType,
		},
		{
			name:    "temperature out of range",
			nodes:   []Node{{ID: "a", AgentType: agents.Reviewer, Temperature: 2.5}},
			wantErr: ErrInvalidNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.nodes, tt.edges)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateNamesCycle(t *testing.T) {
	err := Validate(impl("a", "b", "c", "d"), []Edge{{"a", "b"}, {"b", "c"}, {"c", "b"}, {"c", "d"}})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	want := []string{"b", "c", "b"}
	if !reflect.DeepEqual(cycleErr.Cycle, want) {
		t.Errorf("cycle = %v, want %v", cycleErr.Cycle, want)
	}
	if !strings.Contains(err.Error(), "b -> c -> b") {
		t.Errorf("error should name the cycle: %v", err)
	}
}

// hasCycleReference is an independent cycle check: repeatedly strip nodes
// with no incoming edges; anything left over sits on or behind a cycle.
func hasCycleReference(n int, edges []Edge) bool {
	remaining := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		remaining[fmt.Sprint(i)] = true
	}
	for {
		removed := false
		for id := range remaining {
			incoming := false
			for _, e := range edges {
				if e.To == id && remaining[e.From] {
					incoming = true
					break
				}
			}
			if !incoming {
				delete(remaining, id)
				removed = true
			}
		}
		if !removed {
			return len(remaining) > 0
		}
	}
}

func TestValidateMatchesReferenceCycleDetector(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(8)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprint(i)
		}
		var edges []Edge
		for e := rng.Intn(n * 2); e > 0; e-- {
			edges = append(edges, Edge{From: ids[rng.Intn(n)], To: ids[rng.Intn(n)]})
		}

		err := Validate(impl(ids...), edges)
		got := errors.Is(err, ErrCycleDetected)
		want := hasCycleReference(n, edges)
		if got != want {
			t.Fatalf("iteration %d: edges %v: cycle detected = %v, reference = %v (err: %v)", iter, edges, got, want, err)
		}
		if !got && err != nil {
			t.Fatalf("iteration %d: unexpected error %v", iter, err)
		}
	}
}

func TestTopologicalOrderTieBreak(t *testing.T) {
	g, err := NewGraph(impl("d", "c", "b", "a", "e"), []Edge{{"d", "e"}, {"a", "e"}})
	if err != nil {
		t.Fatal(err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestTopologicalOrderStableAndRespectsEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		n := 2 + rng.Intn(10)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("n%02d", i)
		}
		// Edges only go from lower to higher index, so the graph is acyclic
		var edges []Edge
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(4) == 0 {
					edges = append(edges, Edge{From: ids[j], To: ids[i]})
				}
			}
		}

		g, err := NewGraph(impl(ids...), edges)
		if err != nil {
			t.Fatalf("iteration %d: %v", iter, err)
		}
		first, err := g.TopologicalOrder()
		if err != nil {
			t.Fatal(err)
		}
		second, _ := g.TopologicalOrder()
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("order not reproducible: %v vs %v", first, second)
		}

		pos := make(map[string]int, len(first))
		for i, id := range first {
			pos[id] = i
		}
		for _, e := range edges {
			if pos[e.From] >= pos[e.To] {
				t.Fatalf("edge %s -> %s violated in %v", e.From, e.To, first)
			}
		}
	}
}

func TestSuccessorsPredecessors(t *testing.T) {
	g, err := NewGraph(impl("a", "b", "c", "d"), []Edge{{"a", "c"}, {"a", "b"}, {"b", "d"}, {"c", "d"}})
	if err != nil {
		t.Fatal(err)
	}

	if got := g.Successors("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("Successors(a) = %v", got)
	}
	if got := g.Predecessors("d"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("Predecessors(d) = %v", got)
	}
	if got := g.Predecessors("a"); len(got) != 0 {
		t.Errorf("Predecessors(a) = %v, want none", got)
	}
	if got := g.Sinks(); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("Sinks() = %v", got)
	}
	if !g.HasPath("a", "d") || g.HasPath("b", "c") || g.HasPath("d", "a") {
		t.Error("HasPath returned wrong reachability")
	}
}

func TestMutationRejectedAtomically(t *testing.T) {
	g, err := NewGraph(impl("a", "b", "c"), []Edge{{"a", "b"}, {"b", "c"}})
	if err != nil {
		t.Fatal(err)
	}
	before := g.Edges()

	if err := g.AddEdge(Edge{From: "c", To: "a"}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	if !reflect.DeepEqual(g.Edges(), before) {
		t.Errorf("edges changed after rejected mutation: %v", g.Edges())
	}

	if err := g.AddNode(node("a", agents.Reviewer)); !errors.Is(err, ErrDuplicateNodeID) {
		t.Fatalf("expected ErrDuplicateNodeID, got %v", err)
	}
	if n, _ := g.Node("a"); n.AgentType != agents.Implementation {
		t.Errorf("node a replaced by rejected AddNode")
	}

	if err := g.AddEdge(Edge{From: "a", To: "zzz"}); !errors.Is(err, ErrDanglingEdge) {
		t.Fatalf("expected ErrDanglingEdge, got %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}
}

func TestMutationsApplied(t *testing.T) {
	g, err := NewGraph(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range impl("a", "b", "c") {
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge(Edge{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(Edge{"b", "c"}); err != nil {
		t.Fatal(err)
	}

	if err := g.RemoveNode("b"); err != nil {
		t.Fatal(err)
	}
	if len(g.Edges()) != 0 {
		t.Errorf("edges touching removed node remain: %v", g.Edges())
	}
	if err := g.RemoveNode("b"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}

	// The edge that used to close a cycle is fine once the path is gone
	if err := g.AddEdge(Edge{"c", "a"}); err != nil {
		t.Errorf("AddEdge(c, a): %v", err)
	}
	if err := g.RemoveEdge(Edge{"c", "a"}); err != nil {
		t.Fatal(err)
	}
	if len(g.Edges()) != 0 {
		t.Errorf("RemoveEdge left %v", g.Edges())
	}
}
