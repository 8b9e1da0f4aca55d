package planning

import (
	"strings"
	"testing"
)

func TestNewPlanID_HasExpectedShape(t *testing.T) {
	id := NewPlanID()
	if !strings.HasPrefix(id, "plan_") {
		t.Fatalf("expected plan_ prefix, got %q", id)
	}
	if len(id) != len("plan_")+8 {
		t.Fatalf("expected 8 hex chars after prefix, got %q", id)
	}
}

func TestParsePlan_ValidPlanParses(t *testing.T) {
	raw := `{"goal":"ship feature X","tasks":[
		{"id":"t1","title":"design","depends_on":[]},
		{"id":"t2","title":"implement","depends_on":["t1"]},
		{"id":"t3","title":"test","depends_on":["t2"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Goal != "ship feature X" || len(plan.Tasks) != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Version != 1 {
		t.Errorf("expected version 1, got %d", plan.Version)
	}
}

func TestParsePlan_RejectsUnknownDependency(t *testing.T) {
	raw := `{"goal":"g","tasks":[{"id":"t1","title":"a","depends_on":["missing"]}]}`
	if _, err := ParsePlan(raw, 1); err == nil {
		t.Fatal("expected error for dependency on unknown task")
	}
}

func TestParsePlan_RejectsCycle(t *testing.T) {
	raw := `{"goal":"g","tasks":[
		{"id":"t1","title":"a","depends_on":["t2"]},
		{"id":"t2","title":"b","depends_on":["t1"]}
	]}`
	if _, err := ParsePlan(raw, 1); err == nil {
		t.Fatal("expected error for a dependency cycle")
	}
}

func TestParsePlan_RejectsEmptyPlan(t *testing.T) {
	// an empty task list has no entry point by construction.
	plan := &Plan{Goal: "g"}
	if err := plan.Validate(); err == nil {
		t.Fatal("expected validation error for a plan with no tasks")
	}
}

func TestParsePlan_RejectsDuplicateIDs(t *testing.T) {
	raw := `{"goal":"g","tasks":[{"id":"t1","title":"a"},{"id":"t1","title":"b"}]}`
	if _, err := ParsePlan(raw, 1); err == nil {
		t.Fatal("expected error for duplicate task ids")
	}
}

func TestPlan_ReadyTasks_OnlyPendingWithSatisfiedDeps(t *testing.T) {
	raw := `{"goal":"g","tasks":[
		{"id":"t1","title":"a","depends_on":[]},
		{"id":"t2","title":"b","depends_on":["t1"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}

	ready := plan.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t1" {
		t.Fatalf("expected only t1 ready, got %+v", ready)
	}

	plan.Tasks[0].Status = StatusSuccess
	ready = plan.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t2" {
		t.Fatalf("expected t2 ready after t1 succeeds, got %+v", ready)
	}
}

func TestPlan_IsComplete(t *testing.T) {
	plan := &Plan{Tasks: []*Task{NewTask("t1", "a"), NewTask("t2", "b")}}
	if plan.IsComplete() {
		t.Fatal("expected incomplete with pending tasks")
	}
	plan.Tasks[0].Status = StatusSuccess
	plan.Tasks[1].Status = StatusSkipped
	if !plan.IsComplete() {
		t.Fatal("expected complete once all tasks are success/skipped")
	}
}

func TestPlan_IsBlocked(t *testing.T) {
	plan := &Plan{Tasks: []*Task{NewTask("t1", "a")}}
	plan.Tasks[0].Status = StatusError
	if !plan.IsBlocked() {
		t.Fatal("expected blocked: error task with no ready tasks")
	}
}

func TestPlan_BlockedTasks_ReportsBlockers(t *testing.T) {
	raw := `{"goal":"g","tasks":[
		{"id":"t1","title":"a","depends_on":[]},
		{"id":"t2","title":"b","depends_on":["t1"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}
	blocked := plan.BlockedTasks()
	if blockers, ok := blocked["t2"]; !ok || len(blockers) != 1 || blockers[0] != "t1" {
		t.Fatalf("expected t2 blocked on t1, got %+v", blocked)
	}
}
