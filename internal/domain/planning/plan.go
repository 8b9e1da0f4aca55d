package planning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan is a DAG of Tasks restating a user goal.
type Plan struct {
	ID        string
	Goal      string
	Tasks     []*Task
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// rawPlan is the wire shape parsed from the LLM's planning response:
// {goal, tasks:[{id, title, description, acceptance_criteria, depends_on, tools_hint}]}
type rawPlan struct {
	Goal  string    `json:"goal"`
	Tasks []rawTask `json:"tasks"`
}

type rawTask struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria string   `json:"acceptance_criteria"`
	DependsOn          []string `json:"depends_on"`
	ToolsHint          []string `json:"tools_hint"`
	IsOptional         bool     `json:"is_optional"`
}

// NewPlanID generates a server-assigned plan id: "plan_" + the first 8
// characters of a UUIDv4's hex digits, short enough for logs while still
// collision-free in practice.
func NewPlanID() string {
	id := uuid.New().String()
	return "plan_" + id[:8]
}

// ParsePlan parses an LLM planning response into a validated Plan. version
// is the caller-supplied version number (1 for a fresh plan, previous+1 for
// a replan).
func ParsePlan(jsonText string, version int) (*Plan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("plan: invalid JSON: %w", err)
	}

	now := time.Now()
	plan := &Plan{
		ID:        NewPlanID(),
		Goal:      raw.Goal,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, rt := range raw.Tasks {
		t := NewTask(rt.ID, rt.Title)
		t.Description = rt.Description
		t.AcceptanceCriteria = rt.AcceptanceCriteria
		t.DependsOn = rt.DependsOn
		t.ToolsHint = rt.ToolsHint
		t.IsOptional = rt.IsOptional
		plan.Tasks = append(plan.Tasks, t)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// taskByID returns the task with the given id, or nil.
func (p *Plan) taskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Validate enforces the Plan's invariants: task ids are unique, every
// depends_on id exists, the dependency graph is acyclic (3-colour DFS), and
// at least one entry-point task (empty depends_on) exists.
func (p *Plan) Validate() error {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if ids[t.ID] {
			return fmt.Errorf("plan: duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}

	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("plan: task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	if err := p.checkAcyclic(); err != nil {
		return err
	}

	hasEntryPoint := false
	for _, t := range p.Tasks {
		if len(t.DependsOn) == 0 {
			hasEntryPoint = true
			break
		}
	}
	if !hasEntryPoint {
		return fmt.Errorf("plan: no entry-point task (every task has a dependency)")
	}

	return nil
}

// color states for the 3-colour DFS cycle check.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// checkAcyclic runs a 3-colour depth-first search over the depend-on graph,
// reporting an error if any back-edge (gray -> gray) is found.
func (p *Plan) checkAcyclic() error {
	colors := make(map[string]color, len(p.Tasks))
	for _, t := range p.Tasks {
		colors[t.ID] = white
	}

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		colors[id] = gray
		path = append(path, id)

		t := p.taskByID(id)
		for _, dep := range t.DependsOn {
			switch colors[dep] {
			case gray:
				return fmt.Errorf("plan: dependency cycle detected: %v -> %s", path, dep)
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			case black:
				// already fully explored via another path, safe
			}
		}

		colors[id] = black
		return nil
	}

	for _, t := range p.Tasks {
		if colors[t.ID] == white {
			if err := visit(t.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsComplete reports whether every task has reached success or skipped.
func (p *Plan) IsComplete() bool {
	for _, t := range p.Tasks {
		if !t.IsTerminal() {
			return false
		}
	}
	return true
}

// IsBlocked reports whether the plan is stuck: not complete, some task is
// in error, and no task is currently ready.
func (p *Plan) IsBlocked() bool {
	if p.IsComplete() {
		return false
	}
	hasError := false
	for _, t := range p.Tasks {
		if t.Status == StatusError {
			hasError = true
			break
		}
	}
	if !hasError {
		return false
	}
	return len(p.ReadyTasks()) == 0
}

// ReadyTasks returns every pending task whose dependencies are all
// success/skipped.
func (p *Plan) ReadyTasks() []*Task {
	depStatus := func(id string) (Status, bool) {
		if t := p.taskByID(id); t != nil {
			return t.Status, true
		}
		return "", false
	}

	var ready []*Task
	for _, t := range p.Tasks {
		if t.IsReady(depStatus) {
			ready = append(ready, t)
		}
	}
	return ready
}

// BlockedTasks returns tasks that are pending but not ready, along with the
// ids of the dependencies still blocking them.
func (p *Plan) BlockedTasks() map[string][]string {
	blocked := make(map[string][]string)
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		var blockers []string
		for _, dep := range t.DependsOn {
			depTask := p.taskByID(dep)
			if depTask == nil || (depTask.Status != StatusSuccess && depTask.Status != StatusSkipped) {
				blockers = append(blockers, dep)
			}
		}
		if len(blockers) > 0 {
			blocked[t.ID] = blockers
		}
	}
	return blocked
}
