package orchestrator

import (
	"testing"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

func conflictGraph(t *testing.T, nodes map[string]agents.AgentType, edges ...scheduler.Edge) *scheduler.Graph {
	t.Helper()
	var ns []scheduler.Node
	for id, typ := range nodes {
		ns = append(ns, wfNode(id, typ))
	}
	g, err := scheduler.NewGraph(ns, edges)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func write(nodeID string, agent agents.AgentType, path, content string) proposal {
	return proposal{nodeID: nodeID, agent: agent, op: workspace.FileOp{Path: path, Op: workspace.OpWrite, Content: content}}
}

func statuses(artifacts []*Artifact) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.NodeID + "=" + a.Status
	}
	return out
}

func TestResolveConflicts(t *testing.T) {
	t.Run("descendant supersedes ancestor", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Architect, "b": agents.Reviewer},
			scheduler.Edge{From: "a", To: "b"})
		arts, esc := resolveConflicts(g, []proposal{
			write("a", agents.Architect, "x.go", "1"),
			write("b", agents.Reviewer, "x.go", "2"),
		})
		if len(esc) != 0 {
			t.Errorf("unexpected escalations %+v", esc)
		}
		if arts[0].Status != ArtifactSuperseded || arts[1].Status != ArtifactPending {
			t.Errorf("statuses = %v", statuses(arts))
		}
	})

	t.Run("higher authority sibling wins", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Implementation, "b": agents.Architect})
		arts, esc := resolveConflicts(g, []proposal{
			write("a", agents.Implementation, "x.go", "impl"),
			write("b", agents.Architect, "x.go", "arch"),
		})
		if len(esc) != 0 {
			t.Errorf("unexpected escalations %+v", esc)
		}
		if arts[0].Status != ArtifactOutranked || arts[1].Status != ArtifactPending {
			t.Errorf("statuses = %v", statuses(arts))
		}
	})

	t.Run("equal authority disagreement escalates", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Implementation, "b": agents.Debugger})
		arts, esc := resolveConflicts(g, []proposal{
			write("a", agents.Implementation, "x.go", "1"),
			write("b", agents.Debugger, "x.go", "2"),
		})
		if len(esc) != 1 || esc[0].Path != "x.go" || esc[0].Authority != 5 {
			t.Fatalf("escalations = %+v", esc)
		}
		if arts[0].Status != ArtifactEscalated || arts[1].Status != ArtifactEscalated {
			t.Errorf("statuses = %v", statuses(arts))
		}
		if ops, _ := winners(arts); len(ops) != 0 {
			t.Errorf("escalated path must not be applied: %+v", ops)
		}
	})

	t.Run("identical sibling edits agree", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Implementation, "b": agents.Implementation})
		arts, esc := resolveConflicts(g, []proposal{
			write("a", agents.Implementation, "x.go", "same"),
			write("b", agents.Implementation, "x.go", "same"),
		})
		if len(esc) != 0 {
			t.Errorf("unexpected escalations %+v", esc)
		}
		ops, owners := winners(arts)
		if len(ops) != 1 || owners[0].NodeID != "a" {
			t.Errorf("winners = %+v", ops)
		}
	})

	t.Run("different paths do not interact", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Implementation, "b": agents.Implementation})
		arts, esc := resolveConflicts(g, []proposal{
			write("a", agents.Implementation, "a.go", "1"),
			write("b", agents.Implementation, "b.go", "2"),
		})
		if len(esc) != 0 {
			t.Errorf("unexpected escalations %+v", esc)
		}
		if ops, _ := winners(arts); len(ops) != 2 {
			t.Errorf("expected both writes, got %+v", ops)
		}
	})

	t.Run("delete and write by equal siblings escalate", func(t *testing.T) {
		g := conflictGraph(t, map[string]agents.AgentType{"a": agents.Tester, "b": agents.BuildTest})
		del := proposal{nodeID: "b", agent: agents.BuildTest, op: workspace.FileOp{Path: "x.go", Op: workspace.OpDelete}}
		_, esc := resolveConflicts(g, []proposal{write("a", agents.Tester, "x.go", "1"), del})
		if len(esc) != 1 {
			t.Errorf("escalations = %+v", esc)
		}
	})
}
