package failure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	lines []string
}

func (f *fakeWriter) UpdateProgress(entry string, isError bool) error {
	f.lines = append(f.lines, entry)
	return nil
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestObserve_SuccessSkipsSummaryAndProgress(t *testing.T) {
	w := &fakeWriter{}
	o := NewObserver(w, testLogger())

	o.Observe(NewSuccessSignal(SourceTool, "read_file", nil))

	stats := o.GetStatistics()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 0, stats.Failures)
	assert.Empty(t, w.lines, "expected no progress write for success")
}

func TestObserve_FailureWritesProgressAndSummary(t *testing.T) {
	w := &fakeWriter{}
	o := NewObserver(w, testLogger())

	sig := NewFailureSignal(SourceTool, TypeTimeout, ExitRetryable, "timed out", "", "web_search", nil)
	o.Observe(sig)

	require.Len(t, w.lines, 1)
	assert.NotEqual(t, "no recent failures", o.GetFailureSummaryText())
}

func TestThreeStrike_BySameType(t *testing.T) {
	o := NewObserver(nil, testLogger())

	for i := 0; i < 2; i++ {
		o.Observe(NewFailureSignal(SourceTool, TypeTimeout, ExitRetryable, "x", "", "tool_a", nil))
	}
	sig := NewFailureSignal(SourceTool, TypeTimeout, ExitRetryable, "x", "", "tool_b", nil)
	require.False(t, o.ThreeStrike(sig), "should not strike before 3rd occurrence")

	o.Observe(sig)
	assert.True(t, o.ThreeStrike(sig), "expected 3-strike to fire on 3rd same-type failure")
}

func TestThreeStrike_BySameTool(t *testing.T) {
	o := NewObserver(nil, testLogger())

	types := []Type{TypeTimeout, TypeNetworkError, TypeExecutionError}
	for _, typ := range types {
		o.Observe(NewFailureSignal(SourceTool, typ, ExitRetryable, "x", "", "flaky_tool", nil))
	}
	sig := NewFailureSignal(SourceTool, TypeUnknown, ExitRetryable, "x", "", "flaky_tool", nil)
	assert.True(t, o.ThreeStrike(sig), "expected 3-strike via same_tool_count even with differing types")
}

func TestShouldStopRetry_FatalAlwaysStops(t *testing.T) {
	o := NewObserver(nil, testLogger())
	sig := NewFailureSignal(SourceSystem, TypeUnknown, ExitFatal, "boom", "", "t", nil)
	assert.True(t, o.ShouldStopRetry(sig), "fatal exit code should always stop retry")
}

func TestSummaryWindow_IsBoundedToFive(t *testing.T) {
	o := NewObserver(nil, testLogger())
	for i := 0; i < 8; i++ {
		o.Observe(NewFailureSignal(SourceTool, TypeUnknown, ExitRetryable, "x", "", "t", nil))
	}
	o.mu.Lock()
	got := len(o.summary)
	o.mu.Unlock()
	assert.Equal(t, summaryWindowSize, got)
}

func TestCallbackPanicDoesNotPropagate(t *testing.T) {
	o := NewObserver(nil, testLogger())
	called := false
	o.RegisterCallback(func(s Signal) { panic("boom") })
	o.RegisterCallback(func(s Signal) { called = true })

	o.Observe(NewFailureSignal(SourceTool, TypeUnknown, ExitRetryable, "x", "", "t", nil))

	assert.True(t, called, "expected second callback to still run after first panicked")
}

func TestIsRetryable_PermissionDeniedNeverRetryable(t *testing.T) {
	sig := NewFailureSignal(SourceTool, TypePermissionDenied, ExitRetryable, "no", "", "t", nil)
	assert.False(t, sig.IsRetryable(), "permission_denied should never be retryable regardless of exit code")
}

func TestClear_ResetsHistoryAndSummary(t *testing.T) {
	o := NewObserver(nil, testLogger())
	o.Observe(NewFailureSignal(SourceTool, TypeUnknown, ExitRetryable, "x", "", "t", nil))
	o.Clear()

	stats := o.GetStatistics()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, "no recent failures", o.GetFailureSummaryText())
}

func TestKnowledgeBase_RecordsOnFailure(t *testing.T) {
	o := NewObserver(nil, testLogger())
	kb := &fakeKnowledgeBase{}
	o.SetKnowledgeBase(kb)

	sig := NewFailureSignal(SourceTool, TypeTimeout, ExitRetryable, "timed out", "", "web_search", nil)
	o.Observe(sig)

	require.Len(t, kb.recorded, 1)
	assert.Equal(t, sig.ToolName, kb.recorded[0].ToolName)
}

func TestKnowledgeBase_SurfacesRepeatPatternInSummaryText(t *testing.T) {
	o := NewObserver(nil, testLogger())
	kb := &fakeKnowledgeBase{count: 4, lastSeen: time.Now().Add(-time.Hour)}
	o.SetKnowledgeBase(kb)

	o.Observe(NewFailureSignal(SourceTool, TypeTimeout, ExitRetryable, "timed out", "", "web_search", nil))

	assert.Contains(t, o.GetFailureSummaryText(), "seen 4 times across past sessions")
}

type fakeKnowledgeBase struct {
	recorded []Signal
	count    int
	lastSeen time.Time
}

func (f *fakeKnowledgeBase) Record(s Signal) {
	f.recorded = append(f.recorded, s)
}

func (f *fakeKnowledgeBase) Lookup(toolName string, failureType Type) (int, time.Time) {
	return f.count, f.lastSeen
}
