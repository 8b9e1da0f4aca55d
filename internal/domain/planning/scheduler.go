package planning

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ReplanDecision is the engine's reaction to a failed task.
type ReplanDecision string

const (
	DecisionRetry   ReplanDecision = "retry"
	DecisionSkip    ReplanDecision = "skip"
	DecisionReplan  ReplanDecision = "replan"
	DecisionAbort   ReplanDecision = "abort"
	DecisionHuman   ReplanDecision = "human"
)

const maxReplans = 3

// StateChangeCallback is invoked synchronously from the mutating call that
// caused the change.
type StateChangeCallback func(task *Task, from, to Status)

// Scheduler maintains the current Plan and a replan counter, dispatching
// ready tasks and deciding how to react to failures.
type Scheduler struct {
	mu          sync.Mutex
	plan        *Plan
	replanCount int
	log         *zap.Logger

	callbacks []StateChangeCallback
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// OnStateChange registers a callback invoked on every task status
// transition.
func (s *Scheduler) OnStateChange(cb StateChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *Scheduler) notify(task *Task, from, to Status) {
	for _, cb := range s.callbacks {
		cb(task, from, to)
	}
}

// LoadPlan installs p as the current plan (used for the initial plan).
func (s *Scheduler) LoadPlan(p *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
}

// ReplacePlan installs newPlan as the current plan, incrementing its
// version beyond the previous plan's.
func (s *Scheduler) ReplacePlan(newPlan *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan != nil {
		newPlan.Version = s.plan.Version + 1
	}
	s.plan = newPlan
}

// Plan returns the current plan (may be nil before LoadPlan).
func (s *Scheduler) Plan() *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// ReplanCount returns how many replans have occurred so far.
func (s *Scheduler) ReplanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replanCount
}

// GetReadyTasks returns the current plan's ready tasks.
func (s *Scheduler) GetReadyTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil
	}
	return s.plan.ReadyTasks()
}

// GetBlockedTasks returns the current plan's blocked tasks and their
// blocking dependency ids.
func (s *Scheduler) GetBlockedTasks() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil
	}
	return s.plan.BlockedTasks()
}

// StartTask transitions task id from pending to running.
func (s *Scheduler) StartTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(id)
	if err != nil {
		return err
	}
	if t.Status != StatusPending {
		return fmt.Errorf("scheduler: task %q is not pending (status=%s)", id, t.Status)
	}
	from := t.Status
	t.Start()
	s.notify(t, from, t.Status)
	return nil
}

// CompleteTask transitions task id from running to success.
func (s *Scheduler) CompleteTask(id, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(id)
	if err != nil {
		return err
	}
	from := t.Status
	t.Complete(output)
	s.notify(t, from, t.Status)
	return nil
}

// FailTask transitions task id from running to error and computes the
// ReplanDecision: retry if can_retry; else skip if is_optional; else
// replan if replan_count < 3; otherwise human.
func (s *Scheduler) FailTask(id, errMsg string) (*Task, ReplanDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(id)
	if err != nil {
		return nil, "", err
	}
	from := t.Status
	t.Fail(errMsg)
	s.notify(t, from, t.Status)

	decision := s.decide(t)
	s.log.Info("task failed", zap.String("task", id), zap.String("decision", string(decision)))
	return t, decision, nil
}

func (s *Scheduler) decide(t *Task) ReplanDecision {
	if t.CanRetry() {
		return DecisionRetry
	}
	if t.IsOptional {
		return DecisionSkip
	}
	if s.replanCount < maxReplans {
		return DecisionReplan
	}
	return DecisionHuman
}

// RetryTask transitions task id from error back to pending, incrementing
// retry_count, iff can_retry.
func (s *Scheduler) RetryTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(id)
	if err != nil {
		return err
	}
	from := t.Status
	if !t.ResetForRetry() {
		return fmt.Errorf("scheduler: task %q cannot be retried (retry_count=%d, max_retries=%d)", id, t.RetryCount, t.MaxRetries)
	}
	s.notify(t, from, t.Status)
	return nil
}

// SkipTask transitions task id to skipped.
func (s *Scheduler) SkipTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(id)
	if err != nil {
		return err
	}
	from := t.Status
	t.Skip()
	s.notify(t, from, t.Status)
	return nil
}

// RecordReplan increments the replan counter — called by the engine once it
// has actually produced and installed a replanned Plan.
func (s *Scheduler) RecordReplan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replanCount++
}

// IsComplete reports whether the current plan is complete.
func (s *Scheduler) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan != nil && s.plan.IsComplete()
}

// IsBlocked reports whether the current plan is blocked.
func (s *Scheduler) IsBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan != nil && s.plan.IsBlocked()
}

func (s *Scheduler) mustTask(id string) (*Task, error) {
	if s.plan == nil {
		return nil, fmt.Errorf("scheduler: no plan loaded")
	}
	t := s.plan.taskByID(id)
	if t == nil {
		return nil, fmt.Errorf("scheduler: unknown task %q", id)
	}
	return t, nil
}
