package planning

import (
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func twoTaskPlan(t *testing.T) *Plan {
	t.Helper()
	raw := `{"goal":"g","tasks":[
		{"id":"t1","title":"a","depends_on":[]},
		{"id":"t2","title":"b","depends_on":["t1"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestScheduler_StartCompleteHappyPath(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))

	if err := s.StartTask("t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteTask("t1", "done"); err != nil {
		t.Fatal(err)
	}

	ready := s.GetReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t2" {
		t.Fatalf("expected t2 ready after t1 completes, got %+v", ready)
	}
}

func TestScheduler_FailTask_RetryDecisionWhenCanRetry(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))
	s.StartTask("t1")

	task, decision, err := s.FailTask("t1", "boom")
	if err != nil {
		t.Fatal(err)
	}
	if decision != DecisionRetry {
		t.Fatalf("expected retry decision, got %s", decision)
	}
	if task.Status != StatusError {
		t.Fatalf("expected error status, got %s", task.Status)
	}
}

func TestScheduler_FailTask_SkipDecisionForOptionalExhausted(t *testing.T) {
	s := NewScheduler(testLogger())
	plan := twoTaskPlan(t)
	plan.Tasks[0].IsOptional = true
	plan.Tasks[0].MaxRetries = 0
	s.LoadPlan(plan)
	s.StartTask("t1")

	_, decision, err := s.FailTask("t1", "boom")
	if err != nil {
		t.Fatal(err)
	}
	if decision != DecisionSkip {
		t.Fatalf("expected skip decision for exhausted optional task, got %s", decision)
	}
}

func TestScheduler_FailTask_ReplanThenHumanAfterCap(t *testing.T) {
	s := NewScheduler(testLogger())
	plan := twoTaskPlan(t)
	plan.Tasks[0].MaxRetries = 0
	s.LoadPlan(plan)
	s.StartTask("t1")

	_, decision, _ := s.FailTask("t1", "boom")
	if decision != DecisionReplan {
		t.Fatalf("expected replan decision, got %s", decision)
	}

	for i := 0; i < maxReplans; i++ {
		s.RecordReplan()
	}

	// new failure on a fresh plan instance after replans exhausted
	s2 := NewScheduler(testLogger())
	plan2 := twoTaskPlan(t)
	plan2.Tasks[0].MaxRetries = 0
	s2.LoadPlan(plan2)
	for i := 0; i < maxReplans; i++ {
		s2.RecordReplan()
	}
	s2.StartTask("t1")
	_, decision2, _ := s2.FailTask("t1", "boom again")
	if decision2 != DecisionHuman {
		t.Fatalf("expected human decision once replan cap is reached, got %s", decision2)
	}
}

func TestScheduler_RetryTask_IncrementsRetryCount(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))
	s.StartTask("t1")
	s.FailTask("t1", "boom")

	if err := s.RetryTask("t1"); err != nil {
		t.Fatal(err)
	}
	task := s.Plan().taskByID("t1")
	if task.Status != StatusPending || task.RetryCount != 1 {
		t.Fatalf("unexpected task after retry: %+v", task)
	}
}

func TestScheduler_SkipTask(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))
	s.StartTask("t1")
	s.FailTask("t1", "boom")

	if err := s.SkipTask("t1"); err != nil {
		t.Fatal(err)
	}
	if s.Plan().taskByID("t1").Status != StatusSkipped {
		t.Fatal("expected t1 skipped")
	}
}

func TestScheduler_ReplacePlan_IncrementsVersion(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))
	if s.Plan().Version != 1 {
		t.Fatalf("expected initial version 1, got %d", s.Plan().Version)
	}

	next := twoTaskPlan(t)
	next.Version = 1 // parser would set this; ReplacePlan overrides it
	s.ReplacePlan(next)
	if s.Plan().Version != 2 {
		t.Fatalf("expected version bumped to 2, got %d", s.Plan().Version)
	}
}

func TestScheduler_OnStateChange_InvokedSynchronously(t *testing.T) {
	s := NewScheduler(testLogger())
	s.LoadPlan(twoTaskPlan(t))

	var transitions []string
	s.OnStateChange(func(task *Task, from, to Status) {
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	s.StartTask("t1")
	s.CompleteTask("t1", "ok")

	if len(transitions) != 2 {
		t.Fatalf("expected 2 recorded transitions, got %v", transitions)
	}
	if transitions[0] != "pending->running" || transitions[1] != "running->success" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestScheduler_IsCompleteAndIsBlocked(t *testing.T) {
	s := NewScheduler(testLogger())
	plan := &Plan{Tasks: []*Task{NewTask("t1", "a")}}
	s.LoadPlan(plan)

	if s.IsComplete() {
		t.Fatal("expected incomplete")
	}

	s.StartTask("t1")
	s.FailTask("t1", "boom")
	if !s.IsBlocked() {
		t.Fatal("expected blocked after sole task errors with no ready tasks")
	}
}
