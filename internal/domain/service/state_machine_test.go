package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// === StateMachine creation ===

func TestNewStateMachine(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	if sm.State() != StateInit {
		t.Errorf("expected initial state INIT, got %s", sm.State())
	}
	if sm.IsTerminal() {
		t.Error("new state machine should not be terminal")
	}
	snap := sm.Snapshot()
	if snap.MaxSteps != 10 {
		t.Errorf("expected MaxSteps=10, got %d", snap.MaxSteps)
	}
}

// === Valid transitions ===

func TestTransition_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []Signal
		want AgentState
	}{
		{
			name: "init -> parsing_intent -> reasoning -> success",
			path: []Signal{SignalUserMessageReceived, SignalIntentUnclear, SignalTaskComplete},
			want: StateSuccess,
		},
		{
			name: "reasoning -> tool_calling -> observing -> reasoning -> success",
			path: []Signal{SignalUserMessageReceived, SignalIntentUnclear, SignalNeedTool, SignalToolSuccess, SignalToolSuccess, SignalTaskComplete},
			want: StateSuccess,
		},
		{
			name: "reasoning -> reflecting -> replanning -> reasoning",
			path: []Signal{SignalUserMessageReceived, SignalIntentUnclear, SignalToolFailed, SignalReflectionDone, SignalReplanReady},
			want: StateReasoning,
		},
		{
			name: "reasoning -> timeout",
			path: []Signal{SignalUserMessageReceived, SignalIntentUnclear, SignalMaxIterations},
			want: StateTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(25, testLogger())
			for _, sig := range tt.path {
				if ok := sm.Transition(sig); !ok {
					t.Fatalf("unexpected no-op transition on signal %s from state %s", sig, sm.State())
				}
			}
			if sm.State() != tt.want {
				t.Errorf("expected state %s, got %s", tt.want, sm.State())
			}
		})
	}
}

// === Invalid / undefined transitions are no-ops ===

func TestTransition_UndefinedPairsAreNoOps(t *testing.T) {
	tests := []struct {
		name   string
		signal Signal
	}{
		{"init -> task_complete", SignalTaskComplete},
		{"init -> need_tool", SignalNeedTool},
		{"init -> tool_failed", SignalToolFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(10, testLogger())
			before := sm.State()
			if ok := sm.Transition(tt.signal); ok {
				t.Errorf("expected no-op for signal %s in state %s", tt.signal, before)
			}
			if sm.State() != before {
				t.Errorf("state changed on no-op transition: %s -> %s", before, sm.State())
			}
		})
	}
}

func TestTransition_TerminalStatesAcceptNothing(t *testing.T) {
	terminals := []AgentState{StateSuccess, StateFailed, StateTimeout, StateCancelled}
	for _, term := range terminals {
		t.Run(string(term), func(t *testing.T) {
			sm := NewStateMachine(10, testLogger())
			sm.ForceState(term)
			if ok := sm.Transition(SignalUserMessageReceived); ok {
				t.Errorf("terminal state %s accepted a transition", term)
			}
		})
	}
}

// === Terminal states ===

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    AgentState
		terminal bool
	}{
		{StateInit, false},
		{StateParsingIntent, false},
		{StatePlanning, false},
		{StateReasoning, false},
		{StateToolCalling, false},
		{StateObserving, false},
		{StateReflecting, false},
		{StateReplanning, false},
		{StateWaitingConfirm, false},
		{StateSuccess, true},
		{StateFailed, true},
		{StateTimeout, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			sm := NewStateMachine(10, testLogger())
			sm.ForceState(tt.state)
			if sm.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() for %s: got %v, want %v", tt.state, sm.IsTerminal(), tt.terminal)
			}
		})
	}
}

// === Mutation helpers ===

func TestMutationHelpers(t *testing.T) {
	sm := NewStateMachine(10, testLogger())

	sm.SetStep(5)
	sm.AddTokens(1000)
	sm.AddTokens(500)
	sm.RecordToolExec("shell_exec")
	sm.RecordToolExec("file_read")
	sm.RecordRetry()
	sm.RecordError()
	sm.SetModel("gpt-4o")

	snap := sm.Snapshot()
	if snap.Step != 5 {
		t.Errorf("Step: got %d, want 5", snap.Step)
	}
	if snap.TokensUsed != 1500 {
		t.Errorf("TokensUsed: got %d, want 1500", snap.TokensUsed)
	}
	if snap.ToolsExecuted != 2 {
		t.Errorf("ToolsExecuted: got %d, want 2", snap.ToolsExecuted)
	}
	if snap.LastTool != "file_read" {
		t.Errorf("LastTool: got %s, want file_read", snap.LastTool)
	}
	if snap.RetryCount != 1 {
		t.Errorf("RetryCount: got %d, want 1", snap.RetryCount)
	}
	if snap.ErrorCount != 1 {
		t.Errorf("ErrorCount: got %d, want 1", snap.ErrorCount)
	}
	if snap.ModelUsed != "gpt-4o" {
		t.Errorf("ModelUsed: got %s, want gpt-4o", snap.ModelUsed)
	}
	if snap.Elapsed <= 0 {
		t.Error("Elapsed should be positive")
	}
}

// === OnTransition listener ===

func TestOnTransitionListener(t *testing.T) {
	sm := NewStateMachine(10, testLogger())

	var transitions []struct{ from, to AgentState }
	sm.OnTransition(func(from, to AgentState, snap StateSnapshot) {
		transitions = append(transitions, struct{ from, to AgentState }{from, to})
	})

	_ = sm.Transition(SignalUserMessageReceived)
	_ = sm.Transition(SignalIntentUnclear)
	_ = sm.Transition(SignalNeedTool)
	_ = sm.Transition(SignalToolSuccess)

	if len(transitions) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(transitions))
	}
	expected := []struct{ from, to AgentState }{
		{StateInit, StateParsingIntent},
		{StateParsingIntent, StateReasoning},
		{StateReasoning, StateToolCalling},
		{StateToolCalling, StateObserving},
	}
	for i, exp := range expected {
		if transitions[i].from != exp.from || transitions[i].to != exp.to {
			t.Errorf("transition[%d]: got %s→%s, want %s→%s",
				i, transitions[i].from, transitions[i].to, exp.from, exp.to)
		}
	}
}

// === Thread safety ===

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	sm := NewStateMachine(100, testLogger())
	_ = sm.Transition(SignalUserMessageReceived)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.State()
			_ = sm.Snapshot()
			_ = sm.IsTerminal()
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sm.AddTokens(100)
			sm.SetStep(n)
			sm.RecordToolExec("test_tool")
		}(i)
	}
	wg.Wait()

	snap := sm.Snapshot()
	if snap.TokensUsed != 2000 {
		t.Errorf("concurrent TokensUsed: got %d, want 2000", snap.TokensUsed)
	}
	if snap.ToolsExecuted != 20 {
		t.Errorf("concurrent ToolsExecuted: got %d, want 20", snap.ToolsExecuted)
	}
}

// === Snapshot isolation ===

func TestSnapshot_Isolation(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	sm.SetStep(3)
	sm.AddTokens(500)

	snap1 := sm.Snapshot()

	sm.SetStep(8)
	sm.AddTokens(1000)

	snap2 := sm.Snapshot()

	if snap1.Step != 3 || snap1.TokensUsed != 500 {
		t.Error("snap1 was mutated after capture")
	}
	if snap2.Step != 8 || snap2.TokensUsed != 1500 {
		t.Errorf("snap2 wrong: step=%d tokens=%d", snap2.Step, snap2.TokensUsed)
	}
}

// === Elapsed increases ===

func TestSnapshot_ElapsedIncreases(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	snap1 := sm.Snapshot()
	time.Sleep(5 * time.Millisecond)
	snap2 := sm.Snapshot()
	if snap2.Elapsed <= snap1.Elapsed {
		t.Errorf("elapsed should increase: %v <= %v", snap2.Elapsed, snap1.Elapsed)
	}
}

// === History ===

func TestHistory_RecordsTriples(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	_ = sm.Transition(SignalUserMessageReceived)
	_ = sm.Transition(SignalIntentClear)
	_ = sm.Transition(SignalTaskComplete) // no-op: PLANNING has no TASK_COMPLETE edge

	hist := sm.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 recorded transitions (no-ops aren't recorded), got %d", len(hist))
	}
	if hist[0].From != StateInit || hist[0].To != StateParsingIntent {
		t.Errorf("unexpected first record: %+v", hist[0])
	}
}

func TestReset_ReturnsToInitAndClearsHistory(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	_ = sm.Transition(SignalUserMessageReceived)
	_ = sm.Transition(SignalIntentUnclear)
	sm.SetStep(7)

	sm.Reset()

	if sm.State() != StateInit {
		t.Errorf("expected INIT after reset, got %s", sm.State())
	}
	if len(sm.History()) != 0 {
		t.Error("expected cleared history after reset")
	}
	if sm.Snapshot().Step != 0 {
		t.Error("expected step counter cleared after reset")
	}
}
