package orchestrator

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

// Artifact outcomes.
const (
	ArtifactPending    = "pending"    // chosen, not applied (dry run or cancelled)
	ArtifactApplied    = "applied"    // written to the workspace
	ArtifactFailed     = "failed"     // write attempted and failed
	ArtifactSuperseded = "superseded" // a downstream node edited the same path
	ArtifactOutranked  = "outranked"  // a higher-authority sibling won
	ArtifactEscalated  = "escalated"  // equal-authority siblings disagreed
)

// Artifact is one file operation proposed by an agent during a turn.
type Artifact struct {
	NodeID    string           `json:"node_id"`
	Agent     agents.AgentType `json:"agent"`
	Path      string           `json:"path"`
	Operation workspace.OpKind `json:"operation"`
	Content   string           `json:"content,omitempty"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
}

// Escalation is a path that equal-authority siblings edited differently.
// Nothing is written for it.
type Escalation struct {
	Path      string             `json:"path"`
	Nodes     []string           `json:"nodes"`
	Agents    []agents.AgentType `json:"agents"`
	Authority int                `json:"authority"`
}

// proposal is a node's file operation awaiting resolution.
type proposal struct {
	nodeID string
	agent  agents.AgentType
	op     workspace.FileOp
}

// resolveConflicts decides which proposed operation lands for each path.
// Proposals arrive in execution order. An edit is superseded when a
// descendant of its node also edits the path. What remains are edits from
// nodes with no path between them: identical edits agree, otherwise the
// strictly highest authority wins and a tie at the top is an Escalation.
func resolveConflicts(g *scheduler.Graph, proposals []proposal) ([]*Artifact, []Escalation) {
	artifacts := make([]*Artifact, len(proposals))
	byPath := make(map[string][]int)
	var paths []string
	for i, p := range proposals {
		artifacts[i] = &Artifact{
			NodeID:    p.nodeID,
			Agent:     p.agent,
			Path:      p.op.Path,
			Operation: p.op.Op,
			Content:   p.op.Content,
			Status:    ArtifactPending,
		}
		if _, ok := byPath[p.op.Path]; !ok {
			paths = append(paths, p.op.Path)
		}
		byPath[p.op.Path] = append(byPath[p.op.Path], i)
	}

	var escalations []Escalation
	for _, path := range paths {
		idx := byPath[path]

		var live []int
		for _, i := range idx {
			superseded := false
			for _, j := range idx {
				if i != j && g.HasPath(proposals[i].nodeID, proposals[j].nodeID) {
					superseded = true
					break
				}
			}
			if superseded {
				artifacts[i].Status = ArtifactSuperseded
				continue
			}
			live = append(live, i)
		}

		if esc, ok := arbitrate(proposals, artifacts, live); !ok {
			escalations = append(escalations, esc)
			log.Warn().Str("path", path).Strs("nodes", esc.Nodes).Int("authority", esc.Authority).Msg("write conflict escalated")
		}
	}
	return artifacts, escalations
}

// arbitrate settles a set of mutually unordered edits to one path. It marks
// losers and returns false with an Escalation when no single edit wins.
func arbitrate(proposals []proposal, artifacts []*Artifact, live []int) (Escalation, bool) {
	if len(live) <= 1 {
		return Escalation{}, true
	}

	authority := func(i int) int {
		def, err := agents.Get(proposals[i].agent)
		if err != nil {
			return 0
		}
		return def.Authority
	}

	top := 0
	for _, i := range live {
		if a := authority(i); a > top {
			top = a
		}
	}

	var leaders []int
	for _, i := range live {
		if authority(i) == top {
			leaders = append(leaders, i)
		} else {
			artifacts[i].Status = ArtifactOutranked
		}
	}

	winner := leaders[0]
	agree := true
	for _, i := range leaders[1:] {
		if !sameEdit(proposals[winner].op, proposals[i].op) {
			agree = false
			break
		}
	}
	if agree {
		// Duplicates of the winning edit are dropped without a second write
		for _, i := range leaders[1:] {
			artifacts[i].Status = ArtifactSuperseded
		}
		return Escalation{}, true
	}

	esc := Escalation{Path: proposals[winner].op.Path, Authority: top}
	sort.Ints(leaders)
	for _, i := range leaders {
		artifacts[i].Status = ArtifactEscalated
		esc.Nodes = append(esc.Nodes, proposals[i].nodeID)
		esc.Agents = append(esc.Agents, proposals[i].agent)
	}
	return esc, false
}

func sameEdit(a, b workspace.FileOp) bool {
	return a.Op == b.Op && (a.Op == workspace.OpDelete || a.Content == b.Content)
}

// winners returns the operations to apply with the artifact each belongs to.
func winners(artifacts []*Artifact) ([]workspace.FileOp, []*Artifact) {
	var ops []workspace.FileOp
	var owners []*Artifact
	for _, a := range artifacts {
		if a.Status != ArtifactPending {
			continue
		}
		ops = append(ops, workspace.FileOp{Path: a.Path, Op: a.Operation, Content: a.Content})
		owners = append(owners, a)
	}
	return ops, owners
}
