package planning

import (
	"fmt"
	"strings"
)

const (
	maxRecentCompleted = 3
	maxBlockedShown    = 2
)

// Generate renders a short markdown Plan Recitation block: goal, progress
// ratio, up to 3 recently completed tasks, the current running task (with
// its acceptance criteria), the next ready task if idle, and up to 2
// blocked tasks with their blocking dependencies. This text is appended to
// context at the end of each outer turn and is never itself stored.
func Generate(plan *Plan, scheduler *Scheduler) string {
	if plan == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Plan: %s\n", plan.Goal)

	total := len(plan.Tasks)
	done := 0
	var completed []*Task
	var running *Task
	for _, t := range plan.Tasks {
		if t.IsTerminal() {
			done++
			if t.Status == StatusSuccess {
				completed = append(completed, t)
			}
		}
		if t.Status == StatusRunning {
			running = t
		}
	}
	fmt.Fprintf(&b, "Progress: %d/%d tasks complete\n", done, total)

	if n := len(completed); n > 0 {
		start := n - maxRecentCompleted
		if start < 0 {
			start = 0
		}
		b.WriteString("Recently completed:\n")
		for _, t := range completed[start:] {
			fmt.Fprintf(&b, "- [%s] %s\n", t.ID, t.Title)
		}
	}

	if running != nil {
		fmt.Fprintf(&b, "Current task: [%s] %s\n", running.ID, running.Title)
		if running.AcceptanceCriteria != "" {
			fmt.Fprintf(&b, "  Acceptance criteria: %s\n", running.AcceptanceCriteria)
		}
	} else if ready := plan.ReadyTasks(); len(ready) > 0 {
		fmt.Fprintf(&b, "Next ready task: [%s] %s\n", ready[0].ID, ready[0].Title)
	}

	blocked := plan.BlockedTasks()
	if len(blocked) > 0 {
		shown := 0
		b.WriteString("Blocked:\n")
		// iterate in task order (not map order) for deterministic output
		for _, t := range plan.Tasks {
			blockers, ok := blocked[t.ID]
			if !ok {
				continue
			}
			if shown >= maxBlockedShown {
				break
			}
			fmt.Fprintf(&b, "- [%s] waiting on %s\n", t.ID, strings.Join(blockers, ", "))
			shown++
		}
	}

	return b.String()
}

// GenerateMinimal returns a one-line summary of plan progress, for tight
// token budgets.
func GenerateMinimal(plan *Plan) string {
	if plan == nil {
		return ""
	}
	done := 0
	for _, t := range plan.Tasks {
		if t.IsTerminal() {
			done++
		}
	}
	return fmt.Sprintf("Plan %q: %d/%d tasks complete", plan.Goal, done, len(plan.Tasks))
}
