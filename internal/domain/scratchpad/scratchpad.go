// Package scratchpad implements the Three-Files Scratchpad: an append-only
// progress log plus two freely-rewritable notes files (task plan, findings),
// backed by an opaque filesystem collaborator the way the rest of the core
// treats persistence.
package scratchpad

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Filesystem is the narrow collaborator the scratchpad is backed by —
// read/write/exists over opaque paths, same contract as the rest of the
// core's consumed filesystem abstraction.
type Filesystem interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Exists(path string) bool
}

// searchToolNames are the tool names that count toward the 2-Action Rule.
var searchToolNames = map[string]bool{
	"web_search": true,
	"read_url":   true,
}

const (
	errorStrikeThreshold  = 3
	actionReminderEvery   = 2
)

// Scratchpad holds the three files for one session: task_plan and findings
// are freely rewritten, progress is strictly append-only.
type Scratchpad struct {
	fs   Filesystem
	base string // directory prefix under which the three files live
	log  *zap.Logger

	mu sync.Mutex

	errorCounts  map[string]int // keyed by error type, per session
	actionCount  int            // search-style tool calls since last reminder
}

// New creates a scratchpad rooted at base (e.g. a per-session directory).
func New(fs Filesystem, base string, log *zap.Logger) *Scratchpad {
	return &Scratchpad{
		fs:          fs,
		base:        base,
		log:         log,
		errorCounts: make(map[string]int),
	}
}

func (s *Scratchpad) planPath() string     { return s.base + "/task_plan.md" }
func (s *Scratchpad) findingsPath() string { return s.base + "/findings.md" }
func (s *Scratchpad) progressPath() string { return s.base + "/progress.md" }

// ReadTaskPlan returns the current task plan text, or empty if not yet written.
func (s *Scratchpad) ReadTaskPlan() (string, error) {
	return s.readOrEmpty(s.planPath())
}

// ReadFindings returns the current findings text, or empty if not yet written.
func (s *Scratchpad) ReadFindings() (string, error) {
	return s.readOrEmpty(s.findingsPath())
}

// ReadProgress returns the full append-only progress log.
func (s *Scratchpad) ReadProgress() (string, error) {
	return s.readOrEmpty(s.progressPath())
}

// WriteTaskPlan overwrites the task plan file.
func (s *Scratchpad) WriteTaskPlan(text string) error {
	return s.fs.Write(s.planPath(), []byte(text))
}

// WriteFindings overwrites the findings file.
func (s *Scratchpad) WriteFindings(text string) error {
	return s.fs.Write(s.findingsPath(), []byte(text))
}

// UpdateProgress appends one line to the progress log. Writers never rewrite
// prior lines — this is the Keep-the-Failures invariant's storage side.
func (s *Scratchpad) UpdateProgress(entry string, isError bool) error {
	prefix := "[ok]"
	if isError {
		prefix = "[err]"
	}
	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339), prefix, entry)

	existing, err := s.readOrEmpty(s.progressPath())
	if err != nil {
		return err
	}
	return s.fs.Write(s.progressPath(), []byte(existing+line))
}

// RecordError bumps the rolling per-(session, error_type) failure count and
// reports whether it has crossed the 3-strike reread-plan threshold.
func (s *Scratchpad) RecordError(errType, message string) (count int, shouldRereadPlan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorCounts[errType]++
	count = s.errorCounts[errType]
	shouldRereadPlan = count >= errorStrikeThreshold

	if err := s.UpdateProgress(fmt.Sprintf("error(%s): %s", errType, message), true); err != nil {
		s.log.Warn("scratchpad: failed to append error to progress", zap.Error(err))
	}
	if shouldRereadPlan {
		s.log.Info("scratchpad: error strike threshold crossed, recommending plan re-read",
			zap.String("error_type", errType), zap.Int("count", count))
	}
	return count, shouldRereadPlan
}

// RecordAction counts search-style tool calls (web_search, read_url) and
// signals a findings-recording nudge every 2 such calls — the 2-Action Rule.
func (s *Scratchpad) RecordAction(toolName string, meta map[string]interface{}) (shouldRemindFindings bool) {
	if !searchToolNames[toolName] {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.actionCount++
	if s.actionCount%actionReminderEvery == 0 {
		return true
	}
	return false
}

func (s *Scratchpad) readOrEmpty(path string) (string, error) {
	if !s.fs.Exists(path) {
		return "", nil
	}
	data, err := s.fs.Read(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
