package execution

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/planning"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"go.uber.org/zap"
)

// RoutingPath is one of the three dispatch targets the Execution Router
// (C10) may select.
type RoutingPath string

const (
	PathSkill   RoutingPath = "SKILL"
	PathMCPCode RoutingPath = "MCP_CODE"
	PathLLM     RoutingPath = "LLM"
)

const (
	defaultSkillConfidenceThreshold = 0.85
	defaultStructuredTaskConfidence = 0.70
)

// RoutingDecision is the router's always-produced verdict for one query.
type RoutingDecision struct {
	Path       RoutingPath
	Confidence float64
	Reason     string
}

// SkillMatch is what a SkillMatcher returns for a candidate query.
type SkillMatch struct {
	SkillID  string
	Score    float64
	Reason   string
	Metadata map[string]interface{}
}

// SkillMatcher is the narrow consumed collaborator named in spec §6 —
// matcher.match(query) -> {skill_id, score, reason, metadata} | nil.
type SkillMatcher interface {
	Match(ctx context.Context, query string) (*SkillMatch, error)
}

// SkillRegistry is the narrow consumed collaborator — registry.get(skill_id).
type SkillRegistry interface {
	Get(skillID string) (*entity.Skill, bool)
}

// SkillLoader loads a matched skill's L2 instructional text.
type SkillLoader interface {
	LoadL2(skillID string) (string, error)
}

// SkillExecResult is the outcome of running a skill's L3 script.
type SkillExecResult struct {
	Status     string // success | failed | timeout
	Data       string
	Error      string
	TokensUsed int
}

// SkillExecutor runs a matched skill's L3 script in a sandbox.
type SkillExecutor interface {
	CanExecute(skillID string) bool
	Execute(ctx context.Context, skillID, query string, toolsHint []string) (*SkillExecResult, error)
}

// CodeSandbox is the narrow consumed sandbox code executor named in spec
// §6 — execute({code, language, timeout_s, max_memory_mb}) -> {status,
// output?, error?, execution_time}.
type CodeSandbox interface {
	ExecuteScript(ctx context.Context, interpreter, script string) (*SandboxResult, error)
}

// SandboxResult is the router's own narrow view of a sandbox run, kept
// independent of the concrete infrastructure/sandbox result shape.
type SandboxResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Killed   bool
}

var (
	pyFence      = regexp.MustCompile("(?s)```python\\s*(.*?)```")
	genericFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	imperativeRe = regexp.MustCompile(`(?i)^(compute|calculate|sum|count|sort|parse|convert|generate|extract|transform)\b`)
	codeShapedRe = regexp.MustCompile(`[{}();=]|def |import |function |=>`)
)

// Router implements the Execution Router (C10): given a query, decides
// whether a Skill, generated-code sandbox execution, or the plain LLM path
// handles it — grounded on the teacher's MessageRouter/AgentSelector
// never-raises/always-decides contract, retargeted from "which agent"
// to "which execution path".
type Router struct {
	matcher  SkillMatcher
	registry SkillRegistry
	loader   SkillLoader
	skills   SkillExecutor
	sandbox  CodeSandbox
	allow    *domaintool.AllowList
	taskExec *TaskExecutor

	skillConfidenceThreshold float64
	structuredTaskConfidence float64

	log *zap.Logger
}

// RouterConfig bounds Router's thresholds.
type RouterConfig struct {
	SkillConfidenceThreshold float64
	StructuredTaskConfidence float64
}

// DefaultRouterConfig mirrors spec defaults (0.85 / 0.70).
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SkillConfidenceThreshold: defaultSkillConfidenceThreshold,
		StructuredTaskConfidence: defaultStructuredTaskConfidence,
	}
}

// NewRouter constructs a Router. matcher/registry/loader/skills/sandbox may
// be nil. Decide consults only the matcher (a nil matcher drops the SKILL
// rule); when a collaborator the chosen path needs is nil, Dispatch falls
// back to LLM.
func NewRouter(matcher SkillMatcher, registry SkillRegistry, loader SkillLoader, skills SkillExecutor, sandbox CodeSandbox, allow *domaintool.AllowList, taskExec *TaskExecutor, cfg RouterConfig, log *zap.Logger) *Router {
	if cfg.SkillConfidenceThreshold == 0 {
		cfg.SkillConfidenceThreshold = defaultSkillConfidenceThreshold
	}
	if cfg.StructuredTaskConfidence == 0 {
		cfg.StructuredTaskConfidence = defaultStructuredTaskConfidence
	}
	return &Router{
		matcher: matcher, registry: registry, loader: loader, skills: skills, sandbox: sandbox,
		allow: allow, taskExec: taskExec,
		skillConfidenceThreshold: cfg.SkillConfidenceThreshold,
		structuredTaskConfidence: cfg.StructuredTaskConfidence,
		log:                      log,
	}
}

// Decide returns a RoutingDecision for query. It never returns an error —
// an unavailable collaborator just drops that rule from consideration.
func (r *Router) Decide(ctx context.Context, query string) RoutingDecision {
	if r.matcher != nil {
		if match, err := r.matcher.Match(ctx, query); err == nil && match != nil {
			if match.Score >= r.skillConfidenceThreshold {
				return RoutingDecision{Path: PathSkill, Confidence: match.Score, Reason: "skill match: " + match.Reason}
			}
		} else if err != nil {
			r.log.Debug("router: skill matcher error, skipping SKILL rule", zap.Error(err))
		}
	}

	if conf, ok := structuredTaskConfidence(query); ok && conf >= r.structuredTaskConfidence {
		return RoutingDecision{Path: PathMCPCode, Confidence: conf, Reason: "query looks like a structured/executable task"}
	}

	return RoutingDecision{Path: PathLLM, Confidence: 1.0, Reason: "no higher-confidence path matched"}
}

// structuredTaskConfidence implements the heuristic named in spec §4.10:
// imperative computation keywords, or short and code-shaped text.
func structuredTaskConfidence(query string) (float64, bool) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return 0, false
	}
	if imperativeRe.MatchString(trimmed) {
		return 0.9, true
	}
	if len(trimmed) < 120 && codeShapedRe.MatchString(trimmed) {
		return 0.75, true
	}
	return 0, false
}

// Dispatch runs the decision's path end-to-end, emitting events onto out in
// causal order. Every fallback from one path to another emits exactly one
// recoverable ERROR event before the fallback path's own events.
func (r *Router) Dispatch(ctx context.Context, decision RoutingDecision, query string, task *planning.Task, planPreamble string, out chan<- entity.AgentEvent) {
	switch decision.Path {
	case PathSkill:
		if r.dispatchSkill(ctx, query, out) {
			return
		}
		r.emitFallbackError(out, "skill execution failed, falling back to LLM")
	case PathMCPCode:
		if r.dispatchMCPCode(ctx, query, out) {
			return
		}
		r.emitFallbackError(out, "generated-code execution failed, falling back to LLM")
	}
	r.dispatchLLM(ctx, query, task, planPreamble, out)
}

func (r *Router) emitFallbackError(out chan<- entity.AgentEvent, reason string) {
	out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": reason, "recoverable": true})
}

func (r *Router) dispatchSkill(ctx context.Context, query string, out chan<- entity.AgentEvent) bool {
	if r.matcher == nil || r.skills == nil {
		return false
	}
	match, err := r.matcher.Match(ctx, query)
	if err != nil || match == nil {
		return false
	}
	if !r.skills.CanExecute(match.SkillID) {
		return false
	}

	var toolsHint []string
	if r.registry != nil {
		if sk, ok := r.registry.Get(match.SkillID); ok && sk != nil {
			if hints, ok := sk.GetConfig("tools"); ok {
				if list, ok := hints.([]string); ok {
					toolsHint = list
				}
			}
		}
	}
	if r.allow != nil && len(toolsHint) > 0 {
		r.allow.SetAllowedTools(toolsHint)
		defer r.allow.ResetAllowedTools()
	}

	result, err := r.skills.Execute(ctx, match.SkillID, query, toolsHint)
	if err != nil || result == nil || result.Status != "success" {
		return false
	}

	l2 := ""
	if r.loader != nil {
		if text, err := r.loader.LoadL2(match.SkillID); err == nil {
			l2 = text
		}
	}
	content := result.Data
	if l2 != "" {
		content = l2 + "\n\n" + content
	}
	out <- entity.NewAgentEvent(entity.EventContent, map[string]interface{}{"content": content})
	out <- entity.NewAgentEvent(entity.EventDone, map[string]interface{}{"status": "success", "output": content})
	return true
}

func (r *Router) dispatchMCPCode(ctx context.Context, query string, out chan<- entity.AgentEvent) bool {
	if r.sandbox == nil {
		return false
	}
	code := extractCode(query)
	if code == "" {
		return false
	}

	out <- entity.NewAgentEvent(entity.EventToolCall, map[string]interface{}{"name": "run_code", "arguments": map[string]interface{}{"language": "python"}})

	res, err := r.sandbox.ExecuteScript(ctx, "python3", code)
	if err != nil || res == nil || res.ExitCode != 0 || res.Killed {
		out <- entity.NewAgentEvent(entity.EventToolResult, map[string]interface{}{"name": "run_code", "success": false})
		return false
	}

	out <- entity.NewAgentEvent(entity.EventToolResult, map[string]interface{}{"name": "run_code", "success": true, "output": res.Stdout})
	out <- entity.NewAgentEvent(entity.EventDone, map[string]interface{}{"status": "success", "output": res.Stdout})
	return true
}

// extractCode extracts a code block from text: prefer a ```python fence,
// then any generic fence, then a heuristic "looks like code" pass over the
// raw text itself.
func extractCode(text string) string {
	if m := pyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if codeShapedRe.MatchString(text) {
		return strings.TrimSpace(text)
	}
	return ""
}

func (r *Router) dispatchLLM(ctx context.Context, query string, task *planning.Task, planPreamble string, out chan<- entity.AgentEvent) {
	if r.taskExec == nil {
		out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": "no task executor configured for LLM path", "recoverable": false})
		return
	}
	t := task
	if t == nil {
		t = planning.NewTask("implicit", query)
		t.Description = query
	}
	for ev := range r.taskExec.ExecuteStream(ctx, t, planPreamble) {
		out <- ev
	}
}
