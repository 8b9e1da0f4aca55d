// Package agent implements the Agent Engine (C13): the top-level
// orchestrator that binds the Context Manager, Policies, Scratchpad,
// Failure Observer, Planner/Scheduler, Task Executor, Execution Router,
// Answer Agent and outer state machine into the two public entry points
// named in the spec — run (single-turn, non-streaming) and execute
// (streaming, mode-selected AUTO/DIRECT/PLANNING).
//
// Grounded on the teacher's AgentLoop (Run/runLoop, eventCh, the
// panic-recovery goroutine, StateMachine wiring, AgentHook chain):
// AgentLoop is generalised here from "one flat ReAct loop" into "DIRECT
// (the teacher's loop, wrapping one implicit Task) vs PLANNING (the DAG
// executor driving many Task Executors)", reusing the same bounded event
// channel and hook chain shape.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/agentcore/agentcore/internal/domain/checkpoint"
	domaincontext "github.com/agentcore/agentcore/internal/domain/context"
	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/execution"
	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/planning"
	"github.com/agentcore/agentcore/internal/domain/policy"
	"github.com/agentcore/agentcore/internal/domain/scratchpad"
	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

// ExecutionMode selects how execute() handles the LLM path once the
// Router has ruled out SKILL and MCP_CODE.
type ExecutionMode string

const (
	ModeAuto     ExecutionMode = "AUTO"
	ModeDirect   ExecutionMode = "DIRECT"
	ModePlanning ExecutionMode = "PLANNING"
)

var planningShapedRe = regexp.MustCompile(`(?i)\b(research|analyse|analyze|report|compare|investigate|comprehensive|multi-step|plan out)\b`)

const planningShapedLengthThreshold = 200

// planningShaped implements the mode=AUTO heuristic named in spec §4.13:
// planning-shaped keywords, or a long query.
func planningShaped(query string) bool {
	return len(query) > planningShapedLengthThreshold || planningShapedRe.MatchString(query)
}

// Deps bundles the constructed collaborators an Engine orchestrates. All
// fields are required except Hooks and Checkpoints, which may be nil.
type Deps struct {
	LLM          service.LLMClient
	StateMachine *service.StateMachine
	Hooks        service.AgentHook
	Context      *domaincontext.Manager
	Compressor   *policy.Compressor
	Budget       *policy.BudgetManager
	Observer     *failure.Observer
	Scratchpad   *scratchpad.Scratchpad
	Planner      *planning.Planner
	Scheduler    *planning.Scheduler
	TaskExecutor *execution.TaskExecutor
	Router       *execution.Router
	AnswerAgent  *execution.AnswerAgent
	Checkpoints  *checkpoint.Manager
}

// Engine is the Agent Engine (C13). One Engine instance serves one
// session; the wiring package constructs a fresh set of Deps (sharing
// nothing mutable except the Registry/Store layers) per session.
type Engine struct {
	mu sync.Mutex

	cfg       service.EngineConfig
	sessionID string
	deps      Deps
	log       *zap.Logger

	iteration     int
	adaptedBudget int
	startTime     time.Time
}

// NewEngine constructs an Engine for one session. cfg defaults are applied
// via service.DefaultEngineConfig's shape where the caller leaves a field
// at its zero value.
func NewEngine(sessionID string, deps Deps, cfg service.EngineConfig, log *zap.Logger) *Engine {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = service.DefaultEngineConfig().MaxIterations
	}
	if cfg.BaseBudget == 0 {
		cfg.BaseBudget = service.DefaultEngineConfig().BaseBudget
	}
	if cfg.AvailableTimeSeconds == 0 {
		cfg.AvailableTimeSeconds = service.DefaultEngineConfig().AvailableTimeSeconds
	}
	if cfg.RecentMessagesRetained == 0 {
		cfg.RecentMessagesRetained = service.DefaultEngineConfig().RecentMessagesRetained
	}
	if cfg.ContextClearThreshold == 0 {
		cfg.ContextClearThreshold = service.DefaultEngineConfig().ContextClearThreshold
	}
	if deps.Hooks == nil {
		deps.Hooks = service.NoOpHook{}
	}

	e := &Engine{cfg: cfg, sessionID: sessionID, deps: deps, log: log, startTime: time.Now()}

	if deps.Scheduler != nil {
		deps.Context.SetRecitationProvider(&recitationProvider{scheduler: deps.Scheduler})
	}
	if deps.Observer != nil && deps.Scratchpad != nil {
		deps.Observer.RegisterCallback(e.onFailureSignal)
	}
	if deps.StateMachine != nil {
		deps.StateMachine.OnTransition(func(from, to service.AgentState, snap service.StateSnapshot) {
			deps.Hooks.OnStateChange(from, to, snap)
		})
	}

	return e
}

// recitationProvider adapts the Scheduler's current Plan into the Context
// Manager's RecitationProvider port.
type recitationProvider struct {
	scheduler *planning.Scheduler
}

func (r *recitationProvider) Recitation() string {
	return planning.Generate(r.scheduler.Plan(), r.scheduler)
}

// onFailureSignal is the Observer callback wiring the 2-Action Rule and the
// 3-strike reread-plan trigger into the scratchpad and, via a context
// nudge, back into the next LLM call — grounded on spec §4.3/§4.1's
// "engine injects a recovery prompt" contract.
func (e *Engine) onFailureSignal(signal failure.Signal) {
	if signal.IsSuccess() {
		if signal.Source == failure.SourceTool && e.deps.Scratchpad.RecordAction(signal.ToolName, signal.ToolArgs) {
			e.deps.Context.AddSystemMessage("Reminder: record accumulated findings in the findings file before continuing.")
		}
		return
	}
	_, shouldRereadPlan := e.deps.Scratchpad.RecordError(string(signal.Type), signal.Message)
	if shouldRereadPlan {
		e.deps.Context.AddSystemMessage(
			"Repeated " + string(signal.Type) + " failures detected — re-read the task plan and findings before the next attempt.",
		)
	}
}

// Run executes query as a single non-streaming turn, draining execute's
// event stream and folding it into an AgentResult.
func (e *Engine) Run(ctx context.Context, userMessage string) *service.AgentResult {
	start := time.Now()
	result := &service.AgentResult{}

	for ev := range e.Execute(ctx, userMessage, ModeAuto) {
		switch ev.Type {
		case entity.EventAnswerReady, entity.EventContent:
			if content, ok := ev.Payload["content"].(string); ok {
				result.FinalContent = content
			}
		case entity.EventDone:
			if status, _ := ev.Payload["status"].(string); status == "success" {
				result.Success = true
			}
			if output, ok := ev.Payload["output"].(string); ok && result.FinalContent == "" {
				result.FinalContent = output
			}
		case entity.EventError:
			if msg, ok := ev.Payload["error"].(string); ok {
				result.Error = fmt.Errorf("%s", msg)
			}
		}
	}

	snap := e.deps.StateMachine.Snapshot()
	result.Steps = snap.Step
	result.InputTokens, result.OutputTokens = e.deps.Context.GetTokenUsage()
	result.Duration = time.Since(start)
	e.deps.Hooks.OnComplete(ctx, result)
	return result
}

// Execute is the unified streaming entry point. Events are emitted onto
// the returned channel in causal order, terminated by exactly one DONE (or
// a terminal ERROR with no following DONE, for unrecoverable failures).
func (e *Engine) Execute(ctx context.Context, query string, mode ExecutionMode) <-chan entity.AgentEvent {
	out := make(chan entity.AgentEvent, 32)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("agent engine panic recovered", zap.Any("recover", r), zap.String("session", e.sessionID))
				out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": fmt.Sprintf("internal error: %v", r), "recoverable": false})
			}
		}()

		e.deps.Context.AddUserMessage(query)
		e.deps.StateMachine.Transition(service.SignalUserMessageReceived)
		e.adaptedBudget = policy.IterationBudget{
			BaseBudget:           e.cfg.BaseBudget,
			MaxIterations:        e.cfg.MaxIterations,
			AvailableTimeSeconds: e.cfg.AvailableTimeSeconds,
			ContextWindowLimit:   e.cfg.ContextWindowLimit,
		}.AdaptedBudget(len(query))

		decision := e.deps.Router.Decide(ctx, query)
		if decision.Path != execution.PathLLM {
			e.deps.StateMachine.Transition(service.SignalIntentClear)
			e.deps.Router.Dispatch(ctx, decision, query, nil, e.recitationText(), out)
			e.finishIteration(ctx)
			return
		}

		effective := mode
		if effective == ModeAuto || effective == "" {
			if planningShaped(query) {
				effective = ModePlanning
			} else {
				effective = ModeDirect
			}
		}

		e.deps.StateMachine.Transition(service.SignalIntentClear)
		if effective == ModeDirect {
			e.runDirect(ctx, query, out)
		} else {
			e.runPlanning(ctx, query, out)
		}
	}()

	return out
}

func (e *Engine) recitationText() string {
	if e.deps.Scheduler == nil {
		return ""
	}
	return planning.Generate(e.deps.Scheduler.Plan(), e.deps.Scheduler)
}

// runDirect wraps query in one implicit Task and forwards the Task
// Executor's stream unchanged, per spec §4.13's DIRECT contract.
func (e *Engine) runDirect(ctx context.Context, query string, out chan<- entity.AgentEvent) {
	task := planning.NewTask("implicit", query)
	task.Description = query

	var lastStatus string
	var lastOutput string
	for ev := range e.deps.TaskExecutor.ExecuteStream(ctx, task, "") {
		out <- ev
		if ev.Type == entity.EventDone {
			lastStatus, _ = ev.Payload["status"].(string)
			lastOutput, _ = ev.Payload["output"].(string)
		}
	}

	if lastStatus == "success" {
		e.deps.Context.AddAssistantMessage(lastOutput, estimateTokens(lastOutput))
		e.deps.StateMachine.Transition(service.SignalTaskComplete)
	} else {
		e.deps.StateMachine.Transition(service.SignalMaxIterations)
	}
	e.finishIteration(ctx)
}

// runPlanning drives the Scheduler across many Tasks, per spec §4.13's
// PLANNING contract.
func (e *Engine) runPlanning(ctx context.Context, query string, out chan<- entity.AgentEvent) {
	e.deps.StateMachine.Transition(service.SignalNeedTool) // enter PLANNING via REASONING->TOOL_CALLING->... is modelled elsewhere; PLANNING state itself is driven by the plan-ready signal below.

	out <- entity.NewAgentEvent(entity.EventStatus, map[string]interface{}{"phase": "planning"})
	plan, err := e.deps.Planner.Plan(ctx, query, e.recentFindings())
	if err != nil {
		out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": "planner failed: " + err.Error(), "recoverable": false})
		e.deps.StateMachine.Transition(service.SignalMaxIterations)
		return
	}
	e.deps.Scheduler.LoadPlan(plan)
	e.deps.Hooks.OnPlanProposed(ctx, planning.GenerateMinimal(plan))
	out <- entity.NewAgentEvent(entity.EventPlanCreated, map[string]interface{}{"plan_id": plan.ID, "goal": plan.Goal, "tasks": len(plan.Tasks)})
	e.deps.StateMachine.Transition(service.SignalPlanReady)

	outputs := make([]execution.TaskOutput, 0, len(plan.Tasks))

	for e.iteration = 1; e.iteration <= e.cfg.MaxIterations && !e.deps.Scheduler.IsComplete(); e.iteration++ {
		ready := e.deps.Scheduler.GetReadyTasks()
		if len(ready) == 0 {
			if e.deps.Scheduler.IsBlocked() {
				out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": "plan is blocked: no ready tasks remain", "recoverable": false})
				break
			}
			break
		}

		if len(ready) > 1 && e.cfg.MaxParallelTasks > 1 {
			e.runTasksConcurrently(ctx, ready, plan, out, &outputs)
		} else {
			for _, t := range ready {
				if !e.runOneTask(ctx, t, plan, out, &outputs, nil) {
					break
				}
			}
		}

		out <- entity.NewAgentEvent(entity.EventTaskUpdate, map[string]interface{}{
			"completed": countTerminal(plan), "total": len(plan.Tasks),
		})

		if !e.finishIteration(ctx) {
			e.deps.StateMachine.Transition(service.SignalMaxIterations)
			break
		}
	}

	answer := e.deps.AnswerAgent.Assemble(ctx, query, outputs)
	out <- entity.NewAgentEvent(entity.EventAnswerGenerating, map[string]interface{}{})
	out <- entity.NewAgentEvent(entity.EventAnswerReady, map[string]interface{}{"content": answer.Content, "summary": answer.Summary})

	e.deps.Context.AddAssistantMessage(answer.Content, estimateTokens(answer.Content))

	status := "success"
	if !e.deps.Scheduler.IsComplete() {
		status = "failed"
	}
	out <- entity.NewAgentEvent(entity.EventDone, map[string]interface{}{"status": status, "output": answer.Content})

	if status == "success" {
		e.deps.StateMachine.Transition(service.SignalTaskComplete)
	}
}

// runOneTask runs t sequentially, updating the scheduler and handling its
// ReplanDecision on failure. Returns false if the caller should stop
// dispatching further ready tasks this round (abort/human/replan).
// outputsMu, if non-nil, guards appends to *outputs for callers dispatching
// tasks concurrently; sequential callers may pass nil.
func (e *Engine) runOneTask(ctx context.Context, t *planning.Task, plan *planning.Plan, out chan<- entity.AgentEvent, outputs *[]execution.TaskOutput, outputsMu *sync.Mutex) bool {
	e.deps.Scheduler.StartTask(t.ID)
	out <- taggedEvent(t.ID, entity.NewAgentEvent(entity.EventTaskStart, map[string]interface{}{"task_id": t.ID, "title": t.Title}))

	result := e.deps.TaskExecutor.Execute(ctx, t, e.recitationText())

	appendOutput := func(o execution.TaskOutput) {
		if outputsMu != nil {
			outputsMu.Lock()
			defer outputsMu.Unlock()
		}
		*outputs = append(*outputs, o)
	}

	if result.Status == execution.ResultSuccess {
		e.deps.Scheduler.CompleteTask(t.ID, result.Output)
		out <- taggedEvent(t.ID, entity.NewAgentEvent(entity.EventTaskComplete, map[string]interface{}{"task_id": t.ID, "output": result.Output}))
		appendOutput(execution.TaskOutput{TaskID: t.ID, TaskTitle: t.Title, Output: result.Output, Success: true})
		return true
	}

	_, decision, err := e.deps.Scheduler.FailTask(t.ID, result.Error)
	out <- taggedEvent(t.ID, entity.NewAgentEvent(entity.EventTaskFailed, map[string]interface{}{"task_id": t.ID, "error": result.Error}))
	if err != nil {
		return true
	}

	switch decision {
	case planning.DecisionRetry:
		e.deps.Scheduler.RetryTask(t.ID)
		return true
	case planning.DecisionSkip:
		e.deps.Scheduler.SkipTask(t.ID)
		appendOutput(execution.TaskOutput{TaskID: t.ID, TaskTitle: t.Title, Output: result.Output, Success: false})
		return true
	case planning.DecisionReplan:
		revised, err := e.deps.Planner.Replan(ctx, plan, t, result.Error)
		if err != nil {
			out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": "replan failed: " + err.Error(), "recoverable": false})
			return false
		}
		e.deps.Scheduler.ReplacePlan(revised)
		e.deps.Scheduler.RecordReplan()
		e.deps.Hooks.OnPlanProposed(ctx, planning.GenerateMinimal(revised))
		out <- entity.NewAgentEvent(entity.EventPlanRevised, map[string]interface{}{"plan_id": revised.ID, "version": revised.Version})
		e.deps.StateMachine.Transition(service.SignalReplanReady)
		return false
	default: // DecisionAbort, DecisionHuman
		out <- entity.NewAgentEvent(entity.EventError, map[string]interface{}{"error": fmt.Sprintf("task %q requires %s", t.ID, decision), "recoverable": false})
		appendOutput(execution.TaskOutput{TaskID: t.ID, TaskTitle: t.Title, Output: result.Output, Success: false})
		return false
	}
}

// runTasksConcurrently dispatches ready tasks in parallel, multiplexing
// each sub-stream into out tagged with its task id, bounded by
// MaxParallelTasks. Each task genuinely runs concurrently; only the shared
// outputs slice is mutex-guarded.
func (e *Engine) runTasksConcurrently(ctx context.Context, ready []*planning.Task, plan *planning.Plan, out chan<- entity.AgentEvent, outputs *[]execution.TaskOutput) {
	sem := make(chan struct{}, e.cfg.MaxParallelTasks)
	var wg sync.WaitGroup
	var outputsMu sync.Mutex

	for _, t := range ready {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.runOneTask(ctx, t, plan, out, outputs, &outputsMu)
		}()
	}
	wg.Wait()
}

func taggedEvent(taskID string, ev entity.AgentEvent) entity.AgentEvent {
	ev.Payload["task_id"] = taskID
	return ev
}

func countTerminal(plan *planning.Plan) int {
	n := 0
	for _, t := range plan.Tasks {
		if t.IsTerminal() {
			n++
		}
	}
	return n
}

func (e *Engine) recentFindings() string {
	if e.deps.Scratchpad == nil {
		return ""
	}
	findings, err := e.deps.Scratchpad.ReadFindings()
	if err != nil {
		return ""
	}
	return findings
}

// finishIteration runs the cross-cutting rules named in spec §4.13 that
// apply every outer iteration: iteration-policy continuation check,
// compression, memory-manager rewrite on message-count overflow, and
// checkpoint save. Returns false if the loop should stop.
func (e *Engine) finishIteration(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, out := e.deps.Context.GetTokenUsage()
	tokensUsed := in + out

	budget := policy.IterationBudget{
		BaseBudget:           e.cfg.BaseBudget,
		MaxIterations:        e.cfg.MaxIterations,
		AvailableTimeSeconds: e.cfg.AvailableTimeSeconds,
		ContextWindowLimit:   e.cfg.ContextWindowLimit,
	}
	cont, _ := policy.ShouldContinue(policy.IterationInput{
		Iteration:      e.iteration,
		TokensUsed:     tokensUsed,
		ElapsedSeconds: time.Since(e.startTime).Seconds(),
	}, budget, e.adaptedBudget)

	e.maybeCompress(ctx, tokensUsed)
	e.maybeCheckpoint(ctx)

	return cont
}

func (e *Engine) maybeCompress(ctx context.Context, tokensUsed int) {
	if e.deps.Compressor == nil {
		return
	}
	messages := e.deps.Context.Messages()
	forceAggressive := len(messages) > e.cfg.ContextClearThreshold

	should, strategy := e.deps.Compressor.ShouldCompress(tokensUsed, forceAggressive)
	if !should {
		return
	}

	policyMessages := toPolicyMessages(messages)
	compressed, result := e.deps.Compressor.Compress(ctx, policyMessages, tokensUsed, strategy)
	e.deps.Context.Replace(toContextMessages(compressed))
	e.log.Info("engine: context compressed",
		zap.String("session", e.sessionID),
		zap.String("strategy", string(result.StrategyUsed)),
		zap.Int("tokens_saved", result.TokensSaved),
	)
}

func (e *Engine) maybeCheckpoint(ctx context.Context) {
	if e.deps.Checkpoints == nil || !e.deps.Checkpoints.ShouldSave(e.iteration) {
		return
	}
	in, out := e.deps.Context.GetTokenUsage()
	cp := &checkpoint.Checkpoint{
		SessionID:  e.sessionID,
		Iteration:  e.iteration,
		State:      string(e.deps.StateMachine.State()),
		TokensUsed: in + out,
	}
	if messagesJSON, err := json.Marshal(e.deps.Context.Messages()); err == nil {
		cp.MessagesJSON = string(messagesJSON)
	} else {
		e.log.Warn("engine: checkpoint message serialization failed", zap.Error(err))
	}
	if e.deps.Scheduler != nil && e.deps.Scheduler.Plan() != nil {
		if planJSON, err := json.Marshal(e.deps.Scheduler.Plan()); err == nil {
			cp.PlanJSON = string(planJSON)
		} else {
			e.log.Warn("engine: checkpoint plan serialization failed", zap.Error(err))
		}
	}
	if err := e.deps.Checkpoints.Save(ctx, cp); err != nil {
		e.log.Warn("engine: checkpoint save failed", zap.Error(err))
	}
}

// Restore replays the session's most recent checkpoint (if any) back into
// the Context Manager, Scheduler and iteration counter before the first
// Execute call — the crash-recovery half of the Checkpoint Manager (C12)
// that periodic Save alone does not provide. It is a no-op (false, nil) when
// no Checkpoints collaborator is wired or no prior checkpoint exists.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.deps.Checkpoints == nil {
		return false, nil
	}
	cp, err := e.deps.Checkpoints.Latest(ctx, e.sessionID)
	if err != nil {
		return false, fmt.Errorf("engine: restore: %w", err)
	}
	if cp == nil {
		return false, nil
	}

	if cp.MessagesJSON != "" {
		var messages []domaincontext.Message
		if err := json.Unmarshal([]byte(cp.MessagesJSON), &messages); err != nil {
			return false, fmt.Errorf("engine: restore: invalid messages checkpoint: %w", err)
		}
		e.deps.Context.Replace(messages)
	}
	if cp.PlanJSON != "" && e.deps.Scheduler != nil {
		var plan planning.Plan
		if err := json.Unmarshal([]byte(cp.PlanJSON), &plan); err != nil {
			return false, fmt.Errorf("engine: restore: invalid plan checkpoint: %w", err)
		}
		e.deps.Scheduler.LoadPlan(&plan)
	}

	e.mu.Lock()
	e.iteration = cp.Iteration
	e.mu.Unlock()

	// Replay the same two transitions a brand new session takes to leave
	// INIT (USER_MESSAGE_RECEIVED -> PARSING_INTENT, INTENT_UNCLEAR ->
	// REASONING) so the state machine's own history/listeners see a
	// consistent edge sequence, then force the exact state the checkpoint
	// captured if it was something other than REASONING itself.
	e.deps.StateMachine.Transition(service.SignalUserMessageReceived)
	e.deps.StateMachine.Transition(service.SignalIntentUnclear)
	if state := service.AgentState(cp.State); state != "" && state != service.StateReasoning {
		e.deps.StateMachine.ForceState(state)
	}

	e.log.Info("engine: restored from checkpoint",
		zap.String("session", e.sessionID), zap.String("checkpoint_id", cp.ID), zap.Int("iteration", cp.Iteration))
	return true, nil
}

func toPolicyMessages(messages []domaincontext.Message) []policy.Message {
	out := make([]policy.Message, len(messages))
	for i, m := range messages {
		out[i] = policy.Message{Role: m.Role, Content: m.Content, Tokens: m.Tokens}
	}
	return out
}

func toContextMessages(messages []policy.Message) []domaincontext.Message {
	out := make([]domaincontext.Message, len(messages))
	for i, m := range messages {
		out[i] = domaincontext.Message{Role: m.Role, Content: m.Content, Tokens: m.Tokens}
	}
	return out
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
