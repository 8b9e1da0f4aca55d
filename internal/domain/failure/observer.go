package failure

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	summaryWindowSize = 5
	strikeThreshold   = 3
)

// ProgressWriter is the injected writer the Observer uses for the
// Keep-the-Failures rule: every non-success signal is appended to the
// scratchpad's progress log.
type ProgressWriter interface {
	UpdateProgress(entry string, isError bool) error
}

// Callback is invoked best-effort on every non-success signal. A panicking
// callback must never bring down the Observer.
type Callback func(Signal)

// KnowledgeBase persists failure patterns across sessions — unlike the
// Observer's own in-memory summary window (bounded, per-session), a
// KnowledgeBase lets a tool/type pairing that has repeatedly failed in past
// sessions surface as a hint in a brand new one. Satisfied by a
// Redis-backed or JSON-file-backed store in the infrastructure layer.
type KnowledgeBase interface {
	Record(signal Signal)
	Lookup(toolName string, failureType Type) (count int, lastSeen time.Time)
}

// Statistics summarises the Observer's full history.
type Statistics struct {
	Total        int
	Successes    int
	Failures     int
	ByType       map[Type]int
	ByTool       map[string]int
}

// Observer wraps every tool/LLM invocation's Signal, maintaining a full
// history for statistics plus a bounded ring of recent non-success signals
// that drives the 3-strike rule.
type Observer struct {
	mu sync.Mutex

	log     *zap.Logger
	writer  ProgressWriter
	history []Signal // full, unbounded
	summary []Signal // ring buffer of last N non-success signals

	callbacks []Callback
	kb        KnowledgeBase
}

// NewObserver creates an Observer. writer may be nil (writes are then
// skipped, useful for tests that don't need the Keep-the-Failures side
// effect).
func NewObserver(writer ProgressWriter, log *zap.Logger) *Observer {
	return &Observer{writer: writer, log: log}
}

// RegisterCallback adds a best-effort failure callback.
func (o *Observer) RegisterCallback(cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// SetKnowledgeBase wires an optional cross-session failure-pattern store.
// When set, every non-success signal is also recorded there, and
// GetFailureSummaryText consults it for patterns outside this session's own
// bounded summary window.
func (o *Observer) SetKnowledgeBase(kb KnowledgeBase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kb = kb
}

// Observe records signal into the full history, and — if non-success —
// into the bounded summary, writes a progress line, and invokes registered
// callbacks best-effort.
func (o *Observer) Observe(signal Signal) {
	o.mu.Lock()
	o.history = append(o.history, signal)

	if signal.IsSuccess() {
		o.mu.Unlock()
		return
	}

	o.summary = append(o.summary, signal)
	if len(o.summary) > summaryWindowSize {
		o.summary = o.summary[len(o.summary)-summaryWindowSize:]
	}
	callbacks := make([]Callback, len(o.callbacks))
	copy(callbacks, o.callbacks)
	writer := o.writer
	kb := o.kb
	o.mu.Unlock()

	if kb != nil {
		kb.Record(signal)
	}

	if writer != nil {
		line := fmt.Sprintf("%s/%s failed: %s", signal.ToolName, signal.Type, signal.Message)
		if err := writer.UpdateProgress(line, true); err != nil {
			o.log.Warn("observer: failed to write progress line", zap.Error(err))
		}
	}

	o.invokeCallbacks(callbacks, signal)
}

// invokeCallbacks calls every registered callback, recovering from any
// panic so one misbehaving callback cannot take down the Observer.
func (o *Observer) invokeCallbacks(callbacks []Callback, signal Signal) {
	for _, cb := range callbacks {
		o.safeInvoke(cb, signal)
	}
}

func (o *Observer) safeInvoke(cb Callback, signal Signal) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("observer: failure callback panicked", zap.Any("recover", r))
		}
	}()
	cb(signal)
}

// sameTypeCount counts summary entries of the given type.
func (o *Observer) sameTypeCount(t Type) int {
	n := 0
	for _, s := range o.summary {
		if s.Type == t {
			n++
		}
	}
	return n
}

// sameToolCount counts summary entries against the given tool name.
func (o *Observer) sameToolCount(tool string) int {
	n := 0
	for _, s := range o.summary {
		if s.ToolName == tool {
			n++
		}
	}
	return n
}

// ThreeStrike reports whether signal's type or tool has reached the
// 3-strike threshold within the current summary window.
func (o *Observer) ThreeStrike(signal Signal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sameTypeCount(signal.Type) >= strikeThreshold || o.sameToolCount(signal.ToolName) >= strikeThreshold
}

// ShouldStopRetry reports true when exit_code is fatal or the 3-strike rule
// fires for signal.
func (o *Observer) ShouldStopRetry(signal Signal) bool {
	if signal.ExitCode == ExitFatal {
		return true
	}
	return o.ThreeStrike(signal)
}

// GetFailureSummaryText renders the current summary window as a short
// human-readable report, suitable for injection into a REFLECTING prompt.
func (o *Observer) GetFailureSummaryText() string {
	o.mu.Lock()
	summary := append([]Signal(nil), o.summary...)
	kb := o.kb
	o.mu.Unlock()

	if len(summary) == 0 {
		return "no recent failures"
	}
	text := fmt.Sprintf("%d recent failure(s):\n", len(summary))
	for _, s := range summary {
		text += fmt.Sprintf("- [%s/%s] %s: %s\n", s.Source, s.Type, s.ToolName, s.GetLearning())
		if kb != nil {
			if count, lastSeen := kb.Lookup(s.ToolName, s.Type); count > 1 {
				text += fmt.Sprintf("  (seen %d times across past sessions, last %s)\n", count, lastSeen.Format(time.RFC3339))
			}
		}
	}
	return text
}

// GetStatistics summarises the full (unbounded) history.
func (o *Observer) GetStatistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Statistics{ByType: make(map[Type]int), ByTool: make(map[string]int)}
	for _, s := range o.history {
		stats.Total++
		if s.IsSuccess() {
			stats.Successes++
			continue
		}
		stats.Failures++
		stats.ByType[s.Type]++
		stats.ByTool[s.ToolName]++
	}
	return stats
}

// Clear resets both the full history and the bounded summary window.
func (o *Observer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
	o.summary = nil
}
