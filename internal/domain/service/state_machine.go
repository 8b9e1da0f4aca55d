package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AgentState is a node of the outer control-loop state machine.
type AgentState string

const (
	StateInit            AgentState = "INIT"
	StateParsingIntent   AgentState = "PARSING_INTENT"
	StatePlanning        AgentState = "PLANNING"
	StateReasoning       AgentState = "REASONING"
	StateToolCalling     AgentState = "TOOL_CALLING"
	StateObserving       AgentState = "OBSERVING"
	StateReflecting      AgentState = "REFLECTING"
	StateReplanning      AgentState = "REPLANNING"
	StateWaitingConfirm  AgentState = "WAITING_CONFIRM"
	StateSuccess         AgentState = "SUCCESS"
	StateFailed          AgentState = "FAILED"
	StateTimeout         AgentState = "TIMEOUT"
	StateCancelled       AgentState = "CANCELLED"
)

// Signal is an edge label driving a state transition.
type Signal string

const (
	SignalUserMessageReceived Signal = "USER_MESSAGE_RECEIVED"
	SignalIntentClear         Signal = "INTENT_CLEAR"
	SignalIntentUnclear       Signal = "INTENT_UNCLEAR"
	SignalPlanReady           Signal = "PLAN_READY"
	SignalNeedTool            Signal = "NEED_TOOL"
	SignalToolSuccess         Signal = "TOOL_SUCCESS"
	SignalToolFailed          Signal = "TOOL_FAILED"
	SignalReflectionDone      Signal = "REFLECTION_DONE"
	SignalReplanReady         Signal = "REPLAN_READY"
	SignalUserConfirmed       Signal = "USER_CONFIRMED"
	SignalTaskComplete        Signal = "TASK_COMPLETE"
	SignalMaxIterations       Signal = "MAX_ITERATIONS"
	SignalExitCodeSuccess     Signal = "EXIT_CODE_SUCCESS"
	SignalExitCodeFailure     Signal = "EXIT_CODE_FAILURE"
)

// terminalStates is the set {SUCCESS, FAILED, TIMEOUT, CANCELLED}.
var terminalStates = map[AgentState]bool{
	StateSuccess:   true,
	StateFailed:    true,
	StateTimeout:   true,
	StateCancelled: true,
}

// validTransitions is the fixed (state, signal) -> next-state table. A pair
// absent from this table makes transition() a no-op, per the labelled
// transition system's contract — it never panics or returns an error for an
// unmodelled edge.
var validTransitions = map[AgentState]map[Signal]AgentState{
	StateInit: {
		SignalUserMessageReceived: StateParsingIntent,
	},
	StateParsingIntent: {
		SignalIntentClear:   StatePlanning,
		SignalIntentUnclear: StateReasoning,
	},
	StatePlanning: {
		SignalPlanReady:     StateReasoning,
		SignalReplanReady:   StateReasoning,
		SignalMaxIterations: StateTimeout,
	},
	StateReasoning: {
		SignalNeedTool:      StateToolCalling,
		SignalTaskComplete:  StateSuccess,
		SignalMaxIterations: StateTimeout,
		SignalToolFailed:    StateReflecting,
	},
	StateToolCalling: {
		SignalToolSuccess: StateObserving,
		SignalToolFailed:  StateObserving,
	},
	StateObserving: {
		SignalToolSuccess:   StateReasoning,
		SignalToolFailed:    StateReflecting,
		SignalTaskComplete:  StateSuccess,
		SignalMaxIterations: StateTimeout,
	},
	StateReflecting: {
		SignalReflectionDone: StateReplanning,
	},
	StateReplanning: {
		SignalReplanReady:   StateReasoning,
		SignalMaxIterations: StateTimeout,
	},
	StateWaitingConfirm: {
		SignalUserConfirmed: StateReasoning,
	},
	// Terminal states — no transitions out.
	StateSuccess:   {},
	StateFailed:    {},
	StateTimeout:   {},
	StateCancelled: {},
}

// transitionRecord is one (state, signal, next_state) triple kept for
// diagnostics.
type transitionRecord struct {
	From   AgentState
	Signal Signal
	To     AgentState
	At     time.Time
}

// StateSnapshot captures the agent's runtime state at a point in time.
type StateSnapshot struct {
	State         AgentState    `json:"state"`
	Step          int           `json:"step"`
	MaxSteps      int           `json:"max_steps"` // 0 = unlimited
	TokensUsed    int           `json:"tokens_used"`
	ToolsExecuted int           `json:"tools_executed"`
	RetryCount    int           `json:"retry_count"`
	ErrorCount    int           `json:"error_count"`
	Elapsed       time.Duration `json:"elapsed"`
	ModelUsed     string        `json:"model_used,omitempty"`
	LastTool      string        `json:"last_tool,omitempty"`
}

// StateMachine is the labelled transition system driving one session's
// outer control loop. Thread-safe — multiple goroutines can read state
// concurrently.
type StateMachine struct {
	mu            sync.RWMutex
	state         AgentState
	step          int
	maxSteps      int
	tokensUsed    int
	toolsExecuted int
	retryCount    int
	errorCount    int
	startTime     time.Time
	modelUsed     string
	lastTool      string
	logger        *zap.Logger

	history   []transitionRecord
	listeners []func(from, to AgentState, snap StateSnapshot)
}

// NewStateMachine creates a state machine starting in INIT.
func NewStateMachine(maxSteps int, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		state:     StateInit,
		maxSteps:  maxSteps,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state (thread-safe).
func (sm *StateMachine) State() AgentState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a full copy of the current runtime state.
func (sm *StateMachine) Snapshot() StateSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() StateSnapshot {
	return StateSnapshot{
		State:         sm.state,
		Step:          sm.step,
		MaxSteps:      sm.maxSteps,
		TokensUsed:    sm.tokensUsed,
		ToolsExecuted: sm.toolsExecuted,
		RetryCount:    sm.retryCount,
		ErrorCount:    sm.errorCount,
		Elapsed:       time.Since(sm.startTime),
		ModelUsed:     sm.modelUsed,
		LastTool:      sm.lastTool,
	}
}

// Transition applies signal to the current state. If (current, signal) is
// undefined in the transition table the call is a no-op — it returns false
// but does not error, matching the "no-op for an undefined pair" contract.
func (sm *StateMachine) Transition(signal Signal) bool {
	sm.mu.Lock()
	from := sm.state

	next, ok := validTransitions[from][signal]
	if !ok {
		sm.mu.Unlock()
		sm.logger.Debug("state machine: no-op transition",
			zap.String("state", string(from)),
			zap.String("signal", string(signal)),
		)
		return false
	}

	sm.state = next
	sm.history = append(sm.history, transitionRecord{From: from, Signal: signal, To: next, At: time.Now()})
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to AgentState, snap StateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("signal", string(signal)),
		zap.String("to", string(next)),
		zap.Int("step", snap.Step),
	)

	for _, fn := range listeners {
		fn(from, next, snap)
	}
	return true
}

// OnTransition registers a listener called on every applied state change.
func (sm *StateMachine) OnTransition(fn func(from, to AgentState, snap StateSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// History returns a copy of the append-only transition log (cleared only by
// Reset).
func (sm *StateMachine) History() []transitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]transitionRecord, len(sm.history))
	copy(out, sm.history)
	return out
}

// Reset returns the machine to INIT and clears transition history.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = StateInit
	sm.history = nil
	sm.step = 0
	sm.tokensUsed = 0
	sm.toolsExecuted = 0
	sm.retryCount = 0
	sm.errorCount = 0
	sm.startTime = time.Now()
}

// ForceState sets the state directly, bypassing the transition table.
// Checkpoint restoration calls it after replaying USER_MESSAGE_RECEIVED then
// INTENT_UNCLEAR, to land on a saved state other than REASONING.
func (sm *StateMachine) ForceState(s AgentState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = s
}

// --- Mutation helpers (all thread-safe) ---

// SetStep updates the current step counter.
func (sm *StateMachine) SetStep(step int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.step = step
}

// AddTokens increments the token counter.
func (sm *StateMachine) AddTokens(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tokensUsed += n
}

// RecordToolExec records a tool execution.
func (sm *StateMachine) RecordToolExec(toolName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolsExecuted++
	sm.lastTool = toolName
}

// RecordRetry increments the retry counter.
func (sm *StateMachine) RecordRetry() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount++
}

// RecordError increments the error counter.
func (sm *StateMachine) RecordError() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errorCount++
}

// SetModel sets the model identifier.
func (sm *StateMachine) SetModel(model string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.modelUsed = model
}

// IsTerminal returns true if the state machine is in the terminal set
// {SUCCESS, FAILED, TIMEOUT, CANCELLED}.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return terminalStates[sm.state]
}

// invalidTransitionError is returned by callers that choose to treat an
// unmodelled (state, signal) pair as an error rather than a silent no-op
// (e.g. strict test assertions).
func invalidTransitionError(from AgentState, signal Signal) error {
	return fmt.Errorf("state machine: no transition for state=%s signal=%s", from, signal)
}
