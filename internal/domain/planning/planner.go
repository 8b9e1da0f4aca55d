package planning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// PlannerLLM is the narrow LLM collaborator the Planner calls to produce
// and revise plans. Defined locally (rather than importing
// domain/service) so this package stays a leaf dependency, matching the
// Context Manager's RecitationProvider pattern.
type PlannerLLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const planningSystemPrompt = `You are a planning assistant. Decompose the user's goal into an atomic
task DAG. Respond with exactly one JSON object, no surrounding prose:
{"goal": "...", "tasks": [{"id": "t1", "title": "...", "description": "...",
"acceptance_criteria": "...", "depends_on": ["t0"], "tools_hint": ["..."],
"is_optional": false}]}
Every task id must be unique. depends_on must reference only ids defined in
this same plan. At least one task must have no dependencies.`

// Planner produces and revises validated Plans from an LLM, built on
// ParsePlan's wire-format parsing and Plan.Validate's DAG invariants.
type Planner struct {
	llm PlannerLLM
	log *zap.Logger
}

// NewPlanner constructs a Planner.
func NewPlanner(llm PlannerLLM, log *zap.Logger) *Planner {
	return &Planner{llm: llm, log: log}
}

// Plan asks the LLM to decompose goal into a validated Plan (version 1).
// additionalContext, if non-empty, is appended to the prompt verbatim
// (e.g. relevant scratchpad findings).
func (p *Planner) Plan(ctx context.Context, goal, additionalContext string) (*Plan, error) {
	prompt := fmt.Sprintf("Goal: %s\n", goal)
	if additionalContext != "" {
		prompt += "Context:\n" + additionalContext + "\n"
	}

	text, err := p.llm.Complete(ctx, planningSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("planner: LLM call failed: %w", err)
	}

	plan, err := ParsePlan(extractJSON(text), 1)
	if err != nil {
		p.log.Warn("planner: produced plan failed validation", zap.Error(err))
		return nil, err
	}

	p.log.Info("planner: produced plan", zap.String("plan_id", plan.ID), zap.Int("tasks", len(plan.Tasks)))
	return plan, nil
}

// Replan asks the LLM to revise previous in light of failedTask's failure,
// returning a new validated Plan whose version succeeds previous's.
func (p *Planner) Replan(ctx context.Context, previous *Plan, failedTask *Task, failureReason string) (*Plan, error) {
	if previous == nil {
		return nil, fmt.Errorf("planner: cannot replan without a previous plan")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", previous.Goal)
	fmt.Fprintf(&b, "The previous plan failed on task %q (%s): %s\n", failedTask.ID, failedTask.Title, failureReason)
	b.WriteString("Previous tasks and their outcomes:\n")
	for _, t := range previous.Tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", t.ID, t.Title, t.Status)
	}
	b.WriteString("Produce a revised plan that works around the failure. You may reuse successful task ids' results by referencing them narratively, but the new plan's own tasks must form a fresh valid DAG.")

	text, err := p.llm.Complete(ctx, planningSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("planner: replan LLM call failed: %w", err)
	}

	plan, err := ParsePlan(extractJSON(text), previous.Version+1)
	if err != nil {
		p.log.Warn("planner: revised plan failed validation", zap.Error(err))
		return nil, err
	}

	p.log.Info("planner: produced revised plan", zap.String("plan_id", plan.ID), zap.Int("version", plan.Version))
	return plan, nil
}

// extractJSON strips any prose wrapper or code fence the model added
// around its JSON object — defensive against models that ignore the
// "no surrounding prose" instruction.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
