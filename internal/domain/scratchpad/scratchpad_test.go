package scratchpad

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

// memFS is an in-memory Filesystem double for tests.
type memFS struct {
	files map[string][]byte
}

func newMemFS() *memFS { return &memFS{files: make(map[string][]byte)} }

func (m *memFS) Read(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memFS) Write(path string, data []byte) error {
	m.files[path] = data
	return nil
}

func (m *memFS) Exists(path string) bool {
	_, ok := m.files[path]
	return ok
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestReadEmptyByDefault(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	for _, read := range []func() (string, error){sp.ReadTaskPlan, sp.ReadFindings, sp.ReadProgress} {
		text, err := read()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "" {
			t.Errorf("expected empty text, got %q", text)
		}
	}
}

func TestTaskPlanAndFindingsAreOverwritable(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	if err := sp.WriteTaskPlan("v1 plan"); err != nil {
		t.Fatal(err)
	}
	if err := sp.WriteTaskPlan("v2 plan"); err != nil {
		t.Fatal(err)
	}
	text, _ := sp.ReadTaskPlan()
	if text != "v2 plan" {
		t.Errorf("expected overwritten plan, got %q", text)
	}

	if err := sp.WriteFindings("finding A"); err != nil {
		t.Fatal(err)
	}
	text, _ = sp.ReadFindings()
	if text != "finding A" {
		t.Errorf("expected findings, got %q", text)
	}
}

func TestProgressIsAppendOnly(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	if err := sp.UpdateProgress("step one", false); err != nil {
		t.Fatal(err)
	}
	if err := sp.UpdateProgress("step two", false); err != nil {
		t.Fatal(err)
	}

	text, _ := sp.ReadProgress()
	if !contains(text, "step one") || !contains(text, "step two") {
		t.Errorf("expected both entries present, got %q", text)
	}
	// Order preserved: step one appears before step two.
	if indexOf(text, "step one") > indexOf(text, "step two") {
		t.Error("expected append order preserved")
	}
}

func TestRecordError_ThreeStrikeRereadPlan(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	var lastShould bool
	var lastCount int
	for i := 0; i < 3; i++ {
		lastCount, lastShould = sp.RecordError("timeout", "tool timed out")
	}
	if lastCount != 3 {
		t.Errorf("expected count=3, got %d", lastCount)
	}
	if !lastShould {
		t.Error("expected should_reread_plan=true at 3rd same-type error")
	}
}

func TestRecordError_CountsPerErrorType(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	sp.RecordError("timeout", "a")
	sp.RecordError("timeout", "b")
	count, should := sp.RecordError("rate_limited", "c")

	if count != 1 {
		t.Errorf("expected rate_limited count=1 (separate bucket), got %d", count)
	}
	if should {
		t.Error("should_reread_plan should be false below threshold")
	}
}

func TestRecordAction_TwoActionRule(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	if sp.RecordAction("web_search", nil) {
		t.Error("expected no reminder after 1st search call")
	}
	if !sp.RecordAction("web_search", nil) {
		t.Error("expected reminder after 2nd search call")
	}
	if sp.RecordAction("web_search", nil) {
		t.Error("expected no reminder after 3rd search call")
	}
	if !sp.RecordAction("read_url", nil) {
		t.Error("expected reminder after 4th search-style call (read_url counts too)")
	}
}

func TestRecordAction_NonSearchToolsDoNotCount(t *testing.T) {
	sp := New(newMemFS(), "/sess1", testLogger())

	for i := 0; i < 5; i++ {
		if sp.RecordAction("write_file", nil) {
			t.Error("non-search tool should never trigger the 2-Action reminder")
		}
	}
}

func contains(s, sub string) bool { return indexOf(s, sub) >= 0 }

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
