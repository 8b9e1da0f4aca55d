// Package planning implements the Atomic Planner & Task Scheduler (C7):
// a validated DAG of Tasks produced by the LLM, a scheduler that dispatches
// ready tasks and decides how to react to failures, and a plan-recitation
// renderer injected back into context each outer turn.
package planning

import "time"

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

const defaultMaxRetries = 3

// Task is an atomic unit of work in a Plan.
type Task struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	DependsOn          []string
	Status             Status
	Output             string
	Error              string
	RetryCount         int
	MaxRetries         int
	IsOptional         bool
	ToolsHint          []string
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// NewTask constructs a Task with defaults applied (status=pending,
// max_retries=3 unless already set).
func NewTask(id, title string) *Task {
	return &Task{
		ID:         id,
		Title:      title,
		Status:     StatusPending,
		MaxRetries: defaultMaxRetries,
	}
}

// CanRetry reports whether this task may transition back to pending from
// error.
func (t *Task) CanRetry() bool {
	return t.Status == StatusError && t.RetryCount < t.MaxRetries
}

// Start transitions pending -> running, recording StartedAt.
func (t *Task) Start() {
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
}

// Complete transitions running -> success, recording CompletedAt and the
// task's output.
func (t *Task) Complete(output string) {
	now := time.Now()
	t.Status = StatusSuccess
	t.Output = output
	t.CompletedAt = &now
}

// Fail transitions running -> error, recording the failure. It does not by
// itself decide retry/skip/replan — see ReplanDecision.
func (t *Task) Fail(err string) {
	now := time.Now()
	t.Status = StatusError
	t.Error = err
	t.CompletedAt = &now
}

// ResetForRetry transitions error -> pending, incrementing RetryCount.
// No-op (returns false) if CanRetry is false.
func (t *Task) ResetForRetry() bool {
	if !t.CanRetry() {
		return false
	}
	t.RetryCount++
	t.Status = StatusPending
	t.Output = ""
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	return true
}

// Skip transitions (typically error on an optional task) -> skipped.
func (t *Task) Skip() {
	t.Status = StatusSkipped
}

// IsReady reports whether t is eligible to run given the status of its
// dependencies (success or skipped counts as satisfied).
func (t *Task) IsReady(depStatus func(id string) (Status, bool)) bool {
	if t.Status != StatusPending {
		return false
	}
	for _, dep := range t.DependsOn {
		s, ok := depStatus(dep)
		if !ok {
			return false
		}
		if s != StatusSuccess && s != StatusSkipped {
			return false
		}
	}
	return true
}

// IsTerminal reports whether t has reached success or skipped (no further
// scheduling required).
func (t *Task) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusSkipped
}
