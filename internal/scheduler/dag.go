package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/redstone-dev/redstone/internal/agents"
)

var (
	ErrCycleDetected   = errors.New("cycle detected")
	ErrDanglingEdge    = errors.New("dangling edge")
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrInvalidNode     = errors.New("invalid node")
	ErrNodeNotFound    = errors.New("node not found")
)

// CycleError names the nodes that form a cycle, first node repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// Node is one agent in a workflow graph.
type Node struct {
	ID           string           `json:"id"`
	AgentType    agents.AgentType `json:"agent_type"`
	Label        string           `json:"label"`
	Provider     agents.Provider  `json:"provider"`
	Model        string           `json:"model"`
	Temperature  float64          `json:"temperature"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	FailureMode  FailureMode      `json:"failure_mode,omitempty"`
}

// Edge routes the output of From into To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a validated DAG of agent nodes. Nodes and edges live in flat maps
// keyed by id; every structural mutation revalidates the whole relation and
// leaves the graph untouched when validation fails.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges []Edge
	succ  map[string][]string // nodeID -> sorted successor IDs
	pred  map[string][]string // nodeID -> sorted predecessor IDs
}

// NewGraph validates nodes and edges and builds a graph from them.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	if err := Validate(nodes, edges); err != nil {
		return nil, err
	}
	g := &Graph{}
	g.commit(nodes, edges)
	return g, nil
}

// Validate checks node ids, edge endpoints and acyclicity.
// Duplicate ids and dangling edges are all reported together; the cycle check
// only runs once the edge relation is well formed.
func Validate(nodes []Node, edges []Edge) error {
	var errs []error

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if err := validateNode(n); err != nil {
			errs = append(errs, err)
		}
		if ids[n.ID] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateNodeID, n.ID))
		}
		ids[n.ID] = true
	}

	for _, e := range edges {
		if !ids[e.From] {
			errs = append(errs, fmt.Errorf("%w: %s -> %s references missing node %q", ErrDanglingEdge, e.From, e.To, e.From))
		}
		if !ids[e.To] {
			errs = append(errs, fmt.Errorf("%w: %s -> %s references missing node %q", ErrDanglingEdge, e.From, e.To, e.To))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// Build edges for topological sort, roots hang off nil so isolated nodes are kept
	var sortEdges []toposort.Edge
	hasPred := make(map[string]bool)
	for _, e := range edges {
		if e.From == e.To {
			return &CycleError{Cycle: []string{e.From, e.To}}
		}
		hasPred[e.To] = true
		sortEdges = append(sortEdges, toposort.Edge{e.From, e.To})
	}
	for _, n := range nodes {
		if !hasPred[n.ID] {
			sortEdges = append(sortEdges, toposort.Edge{nil, n.ID})
		}
	}

	if _, err := toposort.Toposort(sortEdges); err != nil {
		return &CycleError{Cycle: findCycle(nodes, edges)}
	}
	return nil
}

func validateNode(n Node) error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if !agents.Valid(n.AgentType) {
		return fmt.Errorf("%w: node %q: %w: %q", ErrInvalidNode, n.ID, agents.ErrUnknownAgentType, string(n.AgentType))
	}
	if n.Provider != "" && !agents.ValidProvider(n.Provider) {
		return fmt.Errorf("%w: node %q: unknown provider %q", ErrInvalidNode, n.ID, n.Provider)
	}
	if n.Temperature < 0 || n.Temperature > 2 {
		return fmt.Errorf("%w: node %q: temperature %v outside [0,2]", ErrInvalidNode, n.ID, n.Temperature)
	}
	if n.FailureMode != FailSoft && n.FailureMode != FailHard {
		return fmt.Errorf("%w: node %q: unknown failure mode %q", ErrInvalidNode, n.ID, n.FailureMode)
	}
	return nil
}

// findCycle runs a DFS with recursion-stack tracking and returns the first
// back-edge cycle found, visiting nodes and successors in ascending id order.
func findCycle(nodes []Node, edges []Edge) []string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

func (g *Graph) commit(nodes []Node, edges []Edge) {
	g.nodes = make(map[string]Node, len(nodes))
	g.succ = make(map[string][]string, len(nodes))
	g.pred = make(map[string][]string, len(nodes))
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}

	seen := make(map[Edge]bool, len(edges))
	g.edges = make([]Edge, 0, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		g.edges = append(g.edges, e)
		g.succ[e.From] = append(g.succ[e.From], e.To)
		g.pred[e.To] = append(g.pred[e.To], e.From)
	}
	for id := range g.succ {
		sort.Strings(g.succ[id])
	}
	for id := range g.pred {
		sort.Strings(g.pred[id])
	}
}

// mutate applies fn to copies of the node and edge sets and commits the
// result only if it validates.
func (g *Graph) mutate(fn func(nodes []Node, edges []Edge) ([]Node, []Edge, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes, edges, err := fn(g.nodeList(), append([]Edge{}, g.edges...))
	if err != nil {
		return err
	}
	if err := Validate(nodes, edges); err != nil {
		return err
	}
	g.commit(nodes, edges)
	return nil
}

// AddNode adds a node. Rejected if the id already exists or the node is invalid.
func (g *Graph) AddNode(n Node) error {
	return g.mutate(func(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
		return append(nodes, n), edges, nil
	})
}

// AddEdge adds an edge. Rejected atomically if it would create a cycle.
func (g *Graph) AddEdge(e Edge) error {
	return g.mutate(func(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
		return nodes, append(edges, e), nil
	})
}

// RemoveNode removes a node together with every edge touching it.
func (g *Graph) RemoveNode(id string) error {
	return g.mutate(func(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
		kept := nodes[:0]
		found := false
		for _, n := range nodes {
			if n.ID == id {
				found = true
				continue
			}
			kept = append(kept, n)
		}
		if !found {
			return nil, nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		keptEdges := edges[:0]
		for _, e := range edges {
			if e.From != id && e.To != id {
				keptEdges = append(keptEdges, e)
			}
		}
		return kept, keptEdges, nil
	})
}

// RemoveEdge removes an edge if present.
func (g *Graph) RemoveEdge(e Edge) error {
	return g.mutate(func(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
		kept := edges[:0]
		for _, existing := range edges {
			if existing != e {
				kept = append(kept, existing)
			}
		}
		return nodes, kept, nil
	})
}

// Validate re-checks the current graph.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Validate(g.nodeList(), g.edges)
}

// TopologicalOrder returns node ids so that every edge's source precedes its
// target. Among nodes that are ready at the same time the smallest id goes first.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	ready := &idHeap{}
	for id := range g.nodes {
		indegree[id] = len(g.pred[id])
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range g.succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Cycle: findCycle(g.nodeList(), g.edges)}
	}
	return order, nil
}

// Successors returns the ids of nodes fed directly by id, ascending.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.succ[id]...)
}

// Predecessors returns the ids of nodes feeding directly into id, ascending.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.pred[id]...)
}

// HasPath reports whether to is reachable from from by following edges.
func (g *Graph) HasPath(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.succ[id] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodeList()
}

// Edges returns all edges ordered by (from, to).
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := append([]Edge{}, g.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Sinks returns nodes with no successors, ordered by id.
func (g *Graph) Sinks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sinks []string
	for id := range g.nodes {
		if len(g.succ[id]) == 0 {
			sinks = append(sinks, id)
		}
	}
	sort.Strings(sinks)
	return sinks
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) nodeList() []Node {
	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// idHeap is a min-heap of node ids.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
