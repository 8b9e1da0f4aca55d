// Package guardrail holds inner-loop safety nets that sit alongside the
// Observer's 3-strike rule: checks that react to a *pattern* of calls rather
// than a single failure.
package guardrail

import (
	"fmt"

	"go.uber.org/zap"
)

// LoopDetector flags a successful-but-repeating tool-call pattern that the
// 3-strike rule never sees (every call succeeds, so the Observer has nothing
// to strike on) using two independent strategies:
//  1. Name-only: the same tool dominates a sliding window, regardless of args.
//  2. Exact-match: the same tool + identical args repeats N times in a row.
//
// Neither strategy terminates the Task — both return a reflection prompt for
// injection into the conversation so the model can self-correct, grounded on
// the teacher's LoopDetector (RecordName/Record).
type LoopDetector struct {
	recentCalls []string
	windowSize  int
	threshold   int

	nameThreshold int
	nameHistory   []string

	logger *zap.Logger
}

// DefaultWindowSize, DefaultExactThreshold, DefaultNameThreshold mirror the
// teacher's tuning: 8 consecutive identical calls trip the exact-match path,
// the same tool naming 8 of the last 12 calls trips the name-only path.
const (
	DefaultWindowSize     = 12
	DefaultExactThreshold = 8
	DefaultNameThreshold  = 8
)

// NewLoopDetector builds a detector. windowSize/threshold bound exact-match
// detection; nameThreshold bounds name-only detection over the same window.
func NewLoopDetector(windowSize, threshold, nameThreshold int, logger *zap.Logger) *LoopDetector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if threshold <= 0 {
		threshold = DefaultExactThreshold
	}
	if nameThreshold <= 0 {
		nameThreshold = DefaultNameThreshold
	}
	return &LoopDetector{
		recentCalls:   make([]string, 0, windowSize),
		windowSize:    windowSize,
		threshold:     threshold,
		nameThreshold: nameThreshold,
		logger:        logger,
	}
}

// RecordName tracks tool-name frequency in the sliding window (ignoring
// args) and returns a non-empty nudge when one name dominates the window —
// catches interleaved patterns like bash×7 -> web_search -> bash.
func (d *LoopDetector) RecordName(toolName string) string {
	d.nameHistory = append(d.nameHistory, toolName)
	if len(d.nameHistory) > d.windowSize {
		d.nameHistory = d.nameHistory[1:]
	}

	count := 0
	for _, name := range d.nameHistory {
		if name == toolName {
			count++
		}
	}

	if count >= d.nameThreshold {
		d.logger.Warn("same tool dominates sliding window",
			zap.String("tool", toolName),
			zap.Int("count_in_window", count),
			zap.Int("window_size", len(d.nameHistory)),
			zap.Int("threshold", d.nameThreshold),
		)
		return fmt.Sprintf(
			"[SYSTEM] Warning: tool %q was called %d times in the last %d calls. "+
				"You are likely stuck in a retry loop. Stop calling tools and reply "+
				"to the user describing: (1) what you were trying to do, (2) what "+
				"went wrong, (3) how the user could unblock you.",
			toolName, count, len(d.nameHistory),
		)
	}
	return ""
}

// Record adds a call to the exact-match window and returns a non-empty
// nudge if the identical name+args call appears threshold times in a row.
func (d *LoopDetector) Record(toolName, argsSignature string) string {
	sig := toolName
	if argsSignature != "" {
		sig = toolName + "|" + argsSignature
	}

	d.recentCalls = append(d.recentCalls, sig)
	if len(d.recentCalls) > d.windowSize {
		d.recentCalls = d.recentCalls[1:]
	}

	if len(d.recentCalls) < d.threshold {
		return ""
	}

	tail := d.recentCalls[len(d.recentCalls)-d.threshold:]
	allSame := true
	for _, name := range tail {
		if name != tail[0] {
			allSame = false
			break
		}
	}

	if allSame {
		d.logger.Warn("exact tool call loop detected",
			zap.String("tool", toolName),
			zap.String("signature", sig),
			zap.Int("consecutive_calls", d.threshold),
		)
		return fmt.Sprintf(
			"[SYSTEM] Tool %q was called %d times in a row with identical arguments; "+
				"the result will not change. Stop repeating the call — try a different "+
				"approach or report the result to the user directly.",
			toolName, d.threshold,
		)
	}
	return ""
}

// Reset clears all tracking state. Call once per Task so one task's loop
// never trips a nudge attributed to a sibling task.
func (d *LoopDetector) Reset() {
	d.recentCalls = d.recentCalls[:0]
	d.nameHistory = d.nameHistory[:0]
}
