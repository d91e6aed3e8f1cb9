package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Execution tracks the AgentTask state of one turn over a graph.
// There is exactly one task per node.
type Execution struct {
	mu    sync.RWMutex
	graph *Graph
	order []string              // topological order, ties by ascending id
	tasks map[string]*AgentTask // nodeID -> task
	rank  map[string]int        // nodeID -> position in order
}

// NewExecution creates pending tasks for every node of g.
func NewExecution(g *Graph, turnID, sessionID string) (*Execution, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	e := &Execution{
		graph: g,
		order: order,
		tasks: make(map[string]*AgentTask, len(order)),
		rank:  make(map[string]int, len(order)),
	}
	for i, id := range order {
		node, _ := g.Node(id)
		e.rank[id] = i
		e.tasks[id] = &AgentTask{
			ID:            uuid.NewString(),
			TurnID:        turnID,
			SessionID:     sessionID,
			NodeID:        id,
			AgentType:     node.AgentType,
			Label:         node.Label,
			Status:        TaskPending,
			FilesModified: []string{},
		}
	}
	return e, nil
}

// Order returns the execution order.
func (e *Execution) Order() []string {
	return append([]string{}, e.order...)
}

// Graph returns the graph being executed.
func (e *Execution) Graph() *Graph {
	return e.graph
}

// Eligible returns pending tasks whose predecessors have all reached a
// terminal state, in execution order.
func (e *Execution) Eligible() []*AgentTask {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var eligible []*AgentTask
	for _, id := range e.order {
		task := e.tasks[id]
		if task.Status != TaskPending {
			continue
		}

		allResolved := true
		for _, predID := range e.graph.Predecessors(id) {
			if !e.tasks[predID].Status.Terminal() {
				allResolved = false
				break
			}
		}
		if allResolved {
			eligible = append(eligible, cloneTask(task))
		}
	}
	return eligible
}

// BlockedBy returns the first predecessor of nodeID that failed with FailHard.
func (e *Execution) BlockedBy(nodeID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, predID := range e.graph.Predecessors(nodeID) {
		node, _ := e.graph.Node(predID)
		if e.tasks[predID].Status == TaskFailed && node.FailureMode == FailHard {
			return predID, true
		}
	}
	return "", false
}

// MarkRunning moves a pending task to running.
func (e *Execution) MarkRunning(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[nodeID]
	if !ok {
		return fmt.Errorf("task for node %q not found", nodeID)
	}
	if task.Status != TaskPending {
		return fmt.Errorf("task for node %q is %s, not pending", nodeID, task.Status)
	}

	now := time.Now().UTC()
	task.Status = TaskRunning
	task.StartedAt = &now
	return nil
}

// MarkCompleted stores the agent output. Terminal tasks are immutable
// except for RecordApplied.
func (e *Execution) MarkCompleted(nodeID, output string, files []string) error {
	return e.finish(nodeID, func(task *AgentTask) {
		task.Status = TaskCompleted
		task.Output = output
		task.FilesModified = append([]string{}, files...)
	})
}

// MarkFailed records the failure. Terminal tasks are immutable.
func (e *Execution) MarkFailed(nodeID string, err error) error {
	return e.finish(nodeID, func(task *AgentTask) {
		task.Status = TaskFailed
		if err != nil {
			task.Error = err.Error()
		}
	})
}

func (e *Execution) finish(nodeID string, apply func(*AgentTask)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[nodeID]
	if !ok {
		return fmt.Errorf("task for node %q not found", nodeID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task for node %q already %s", nodeID, task.Status)
	}

	now := time.Now().UTC()
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	task.CompletedAt = &now
	apply(task)
	return nil
}

// RecordApplied sets the paths a completed task's edits wrote. Writes land
// after every node is terminal, so files_modified is the one field filled in
// on a terminal task; everything else stays as MarkCompleted left it.
func (e *Execution) RecordApplied(nodeID string, files []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[nodeID]
	if !ok {
		return fmt.Errorf("task for node %q not found", nodeID)
	}
	if task.Status != TaskCompleted {
		return fmt.Errorf("task for node %q is %s, not completed", nodeID, task.Status)
	}
	task.FilesModified = append([]string{}, files...)
	return nil
}

// Get returns a copy of the task for nodeID.
func (e *Execution) Get(nodeID string) (*AgentTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	task, ok := e.tasks[nodeID]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in execution order.
func (e *Execution) Tasks() []*AgentTask {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tasks := make([]*AgentTask, 0, len(e.order))
	for _, id := range e.order {
		tasks = append(tasks, cloneTask(e.tasks[id]))
	}
	return tasks
}

// Progress counts tasks by status.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Progress returns the current task counts.
func (e *Execution) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := Progress{Total: len(e.tasks)}
	for _, task := range e.tasks {
		switch task.Status {
		case TaskPending:
			p.Pending++
		case TaskRunning:
			p.Running++
		case TaskCompleted:
			p.Completed++
		case TaskFailed:
			p.Failed++
		}
	}
	return p
}

// Done reports whether every task is terminal.
func (e *Execution) Done() bool {
	p := e.Progress()
	return p.Completed+p.Failed == p.Total
}
