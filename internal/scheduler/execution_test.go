package scheduler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/redstone-dev/redstone/internal/agents"
)

func eligibleIDs(tasks []*AgentTask) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.NodeID
	}
	return ids
}

func TestExecutionWaves(t *testing.T) {
	g, err := NewGraph(impl("a", "b", "c", "d"), []Edge{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})
	if err != nil {
		t.Fatal(err)
	}
	exec, err := NewExecution(g, "turn-1", "session-1")
	if err != nil {
		t.Fatal(err)
	}

	if got := eligibleIDs(exec.Eligible()); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("wave 1 = %v", got)
	}
	if err := exec.MarkRunning("a"); err != nil {
		t.Fatal(err)
	}
	if got := exec.Eligible(); len(got) != 0 {
		t.Fatalf("nothing should be eligible while a runs, got %v", eligibleIDs(got))
	}
	if err := exec.MarkCompleted("a", "plan", nil); err != nil {
		t.Fatal(err)
	}

	if got := eligibleIDs(exec.Eligible()); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("wave 2 = %v", got)
	}
	_ = exec.MarkRunning("b")
	_ = exec.MarkRunning("c")
	_ = exec.MarkFailed("b", errors.New("provider down"))
	if got := exec.Eligible(); len(got) != 0 {
		t.Fatalf("d must wait for c, got %v", eligibleIDs(got))
	}
	_ = exec.MarkCompleted("c", "code", []string{"main.go"})

	// Soft failure of b still resolves d's dependency
	if got := eligibleIDs(exec.Eligible()); !reflect.DeepEqual(got, []string{"d"}) {
		t.Fatalf("wave 3 = %v", got)
	}
	if _, blocked := exec.BlockedBy("d"); blocked {
		t.Error("soft failure should not block d")
	}

	_ = exec.MarkRunning("d")
	_ = exec.MarkCompleted("d", "review", nil)

	if !exec.Done() {
		t.Error("execution should be done")
	}
	p := exec.Progress()
	if p.Total != 4 || p.Completed != 3 || p.Failed != 1 {
		t.Errorf("progress = %+v", p)
	}

	b, _ := exec.Get("b")
	if b.Status != TaskFailed || b.Error != "provider down" || b.CompletedAt == nil {
		t.Errorf("task b = %+v", b)
	}
	c, _ := exec.Get("c")
	if !reflect.DeepEqual(c.FilesModified, []string{"main.go"}) {
		t.Errorf("files = %v", c.FilesModified)
	}
}

func TestExecutionTerminalTasksImmutable(t *testing.T) {
	g, _ := NewGraph(impl("a"), nil)
	exec, _ := NewExecution(g, "turn", "session")

	_ = exec.MarkRunning("a")
	if err := exec.MarkCompleted("a", "done", nil); err != nil {
		t.Fatal(err)
	}
	if err := exec.MarkFailed("a", errors.New("late")); err == nil {
		t.Error("expected error when failing a completed task")
	}
	if err := exec.MarkRunning("a"); err == nil {
		t.Error("expected error when restarting a completed task")
	}
	task, _ := exec.Get("a")
	if task.Status != TaskCompleted || task.Output != "done" {
		t.Errorf("task mutated: %+v", task)
	}
}

func TestExecutionRecordApplied(t *testing.T) {
	g, _ := NewGraph(impl("a", "b"), nil)
	exec, _ := NewExecution(g, "turn", "session")

	if err := exec.RecordApplied("a", []string{"x.go"}); err == nil {
		t.Error("expected error recording writes for a pending task")
	}

	_ = exec.MarkRunning("a")
	_ = exec.MarkCompleted("a", "done", []string{"x.go", "y.go"})
	before, _ := exec.Get("a")
	if err := exec.RecordApplied("a", []string{"x.go"}); err != nil {
		t.Fatal(err)
	}
	after, _ := exec.Get("a")
	if !reflect.DeepEqual(after.FilesModified, []string{"x.go"}) {
		t.Errorf("files = %v", after.FilesModified)
	}
	if after.Status != before.Status || after.Output != before.Output || !after.CompletedAt.Equal(*before.CompletedAt) {
		t.Errorf("RecordApplied changed more than files: %+v", after)
	}

	_ = exec.MarkRunning("b")
	_ = exec.MarkFailed("b", errors.New("boom"))
	if err := exec.RecordApplied("b", []string{"z.go"}); err == nil {
		t.Error("expected error recording writes for a failed task")
	}
}

func TestExecutionHardFailureBlocks(t *testing.T) {
	gate := node("gate", agents.BuildTest)
	gate.FailureMode = FailHard
	g, err := NewGraph([]Node{gate, node("ship", agents.Infra)}, []Edge{{"gate", "ship"}})
	if err != nil {
		t.Fatal(err)
	}
	exec, _ := NewExecution(g, "turn", "session")

	_ = exec.MarkRunning("gate")
	_ = exec.MarkFailed("gate", errors.New("tests failed"))

	if pred, blocked := exec.BlockedBy("ship"); !blocked || pred != "gate" {
		t.Errorf("BlockedBy = %q, %v", pred, blocked)
	}
}

func TestExecutionOneTaskPerNode(t *testing.T) {
	g, _ := NewGraph(impl("x", "y", "z"), []Edge{{"x", "z"}})
	exec, _ := NewExecution(g, "turn-9", "session-9")

	tasks := exec.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.ID] {
			t.Errorf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = true
		if task.TurnID != "turn-9" || task.SessionID != "session-9" || task.Status != TaskPending {
			t.Errorf("task = %+v", task)
		}
	}
	if got := exec.Order(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("order = %v", got)
	}
}
