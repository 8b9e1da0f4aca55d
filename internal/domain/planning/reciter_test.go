package planning

import (
	"strings"
	"testing"
)

func buildRecitationPlan(t *testing.T) *Plan {
	t.Helper()
	raw := `{"goal":"ship feature X","tasks":[
		{"id":"t1","title":"design","depends_on":[],"acceptance_criteria":"doc approved"},
		{"id":"t2","title":"implement","depends_on":["t1"],"acceptance_criteria":"tests pass"},
		{"id":"t3","title":"test","depends_on":["t2"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestGenerate_NilPlanReturnsEmpty(t *testing.T) {
	if got := Generate(nil, nil); got != "" {
		t.Fatalf("expected empty string for nil plan, got %q", got)
	}
}

func TestGenerate_IncludesGoalAndProgress(t *testing.T) {
	plan := buildRecitationPlan(t)
	out := Generate(plan, nil)

	if !strings.Contains(out, "ship feature X") {
		t.Fatalf("expected goal in output, got %q", out)
	}
	if !strings.Contains(out, "Progress: 0/3 tasks complete") {
		t.Fatalf("expected progress line, got %q", out)
	}
}

func TestGenerate_FallsBackToNextReadyTaskWhenNoneRunning(t *testing.T) {
	plan := buildRecitationPlan(t)
	out := Generate(plan, nil)

	if !strings.Contains(out, "Next ready task: [t1] design") {
		t.Fatalf("expected next ready task line, got %q", out)
	}
	if strings.Contains(out, "Current task:") {
		t.Fatalf("did not expect a current task line, got %q", out)
	}
}

func TestGenerate_ShowsRunningTaskWithAcceptanceCriteria(t *testing.T) {
	plan := buildRecitationPlan(t)
	plan.Tasks[0].Status = StatusRunning

	out := Generate(plan, nil)
	if !strings.Contains(out, "Current task: [t1] design") {
		t.Fatalf("expected running task line, got %q", out)
	}
	if !strings.Contains(out, "Acceptance criteria: doc approved") {
		t.Fatalf("expected acceptance criteria line, got %q", out)
	}
	if strings.Contains(out, "Next ready task:") {
		t.Fatalf("did not expect next-ready line while a task is running, got %q", out)
	}
}

func TestGenerate_RecentlyCompletedTruncatesToLastThree(t *testing.T) {
	raw := `{"goal":"g","tasks":[
		{"id":"t1","title":"a","depends_on":[]},
		{"id":"t2","title":"b","depends_on":[]},
		{"id":"t3","title":"c","depends_on":[]},
		{"id":"t4","title":"d","depends_on":[]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range plan.Tasks {
		tk.Status = StatusSuccess
	}

	out := Generate(plan, nil)
	if strings.Contains(out, "[t1]") {
		t.Fatalf("expected oldest completed task truncated out, got %q", out)
	}
	for _, id := range []string{"t2", "t3", "t4"} {
		if !strings.Contains(out, "["+id+"]") {
			t.Fatalf("expected %s listed among recently completed, got %q", id, out)
		}
	}
}

func TestGenerate_BlockedTasksTruncatesToTwoAndIsDeterministic(t *testing.T) {
	raw := `{"goal":"g","tasks":[
		{"id":"root","title":"r","depends_on":[]},
		{"id":"a","title":"a","depends_on":["root"]},
		{"id":"b","title":"b","depends_on":["root"]},
		{"id":"c","title":"c","depends_on":["root"]}
	]}`
	plan, err := ParsePlan(raw, 1)
	if err != nil {
		t.Fatal(err)
	}

	first := Generate(plan, nil)
	second := Generate(plan, nil)
	if first != second {
		t.Fatalf("expected deterministic output across repeated calls:\n%q\nvs\n%q", first, second)
	}

	blockedLines := 0
	for _, line := range strings.Split(first, "\n") {
		if strings.HasPrefix(line, "- [") {
			blockedLines++
		}
	}
	if blockedLines != maxBlockedShown {
		t.Fatalf("expected %d blocked lines, got %d in %q", maxBlockedShown, blockedLines, first)
	}
	if !strings.Contains(first, "- [a] waiting on root") {
		t.Fatalf("expected a's blocker line in task order, got %q", first)
	}
}

func TestGenerateMinimal_OneLineSummary(t *testing.T) {
	plan := buildRecitationPlan(t)
	plan.Tasks[0].Status = StatusSuccess

	out := GenerateMinimal(plan)
	if strings.Contains(out, "\n") {
		t.Fatalf("expected a single line, got %q", out)
	}
	if !strings.Contains(out, `"ship feature X"`) || !strings.Contains(out, "1/3") {
		t.Fatalf("expected goal and progress fraction, got %q", out)
	}
}

func TestGenerateMinimal_NilPlanReturnsEmpty(t *testing.T) {
	if got := GenerateMinimal(nil); got != "" {
		t.Fatalf("expected empty string for nil plan, got %q", got)
	}
}
