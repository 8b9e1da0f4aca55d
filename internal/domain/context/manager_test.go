package context

import "testing"

type fixedRecitation string

func (f fixedRecitation) Recitation() string { return string(f) }

func TestManager_AppendOnlyOrdering(t *testing.T) {
	m := NewManager()
	m.AddSystemMessage("you are an agent")
	m.AddUserMessage("hello")
	m.AddAssistantMessage("hi there", 5)
	m.AddToolResultMessage("call-1", "tool output")

	msgs := m.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	wantRoles := []string{RoleSystem, RoleUser, RoleAssistant, RoleTool}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d: role = %q, want %q", i, msgs[i].Role, want)
		}
	}
	if msgs[3].ToolCallID != "call-1" {
		t.Errorf("expected tool message to carry ToolCallID, got %q", msgs[3].ToolCallID)
	}
}

func TestManager_MessagesForLLM_WithoutRecitation(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")

	msgs := m.MessagesForLLM(true)
	if len(msgs) != 1 {
		t.Fatalf("expected no recitation suffix when no provider is set, got %d messages", len(msgs))
	}
}

func TestManager_MessagesForLLM_AppendsRecitationSuffix(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")
	m.SetRecitationProvider(fixedRecitation("plan: do X then Y"))

	msgs := m.MessagesForLLM(true)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (1 stored + 1 recitation suffix), got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser || last.Content != "plan: do X then Y" {
		t.Errorf("unexpected recitation suffix: %+v", last)
	}

	// the suffix must never be persisted into the stored log
	stored := m.Messages()
	if len(stored) != 1 {
		t.Fatalf("recitation suffix leaked into stored log: %d messages", len(stored))
	}
}

func TestManager_MessagesForLLM_RecitationOmittedWhenFalse(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")
	m.SetRecitationProvider(fixedRecitation("plan text"))

	msgs := m.MessagesForLLM(false)
	if len(msgs) != 1 {
		t.Fatalf("expected no recitation suffix when includePlanRecitation is false, got %d", len(msgs))
	}
}

func TestManager_MessagesForLLM_RecomputedEveryCall(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")
	provider := fixedRecitation("version 1")
	m.SetRecitationProvider(provider)

	first := m.MessagesForLLM(true)
	m.SetRecitationProvider(fixedRecitation("version 2"))
	second := m.MessagesForLLM(true)

	if first[len(first)-1].Content == second[len(second)-1].Content {
		t.Error("expected recitation text to be recomputed, not cached, across calls")
	}
	if second[len(second)-1].Content != "version 2" {
		t.Errorf("expected latest recitation text, got %q", second[len(second)-1].Content)
	}
}

func TestManager_TokenUsage_Cumulative(t *testing.T) {
	m := NewManager()
	m.UpdateTokenUsage(10, 5)
	m.UpdateTokenUsage(20, 15)

	in, out := m.GetTokenUsage()
	if in != 30 || out != 20 {
		t.Errorf("expected cumulative (30,20), got (%d,%d)", in, out)
	}
}

func TestManager_Clear_ResetsMessagesAndTokens(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")
	m.UpdateTokenUsage(10, 10)

	m.Clear()

	if len(m.Messages()) != 0 {
		t.Error("expected empty message log after Clear")
	}
	in, out := m.GetTokenUsage()
	if in != 0 || out != 0 {
		t.Errorf("expected reset token counters after Clear, got (%d,%d)", in, out)
	}
}

func TestManager_Replace_SwapsStoredMessages(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("a")
	m.AddUserMessage("b")
	m.AddUserMessage("c")

	compacted := []Message{{Role: RoleUser, Content: "[summary]"}, {Role: RoleUser, Content: "c"}}
	m.Replace(compacted)

	got := m.Messages()
	if len(got) != 2 || got[0].Content != "[summary]" || got[1].Content != "c" {
		t.Errorf("unexpected messages after Replace: %+v", got)
	}
}

func TestManager_Messages_ReturnsCopyNotAlias(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")

	got := m.Messages()
	got[0].Content = "mutated"

	fresh := m.Messages()
	if fresh[0].Content != "hello" {
		t.Error("Messages() must return an independent copy, caller mutation leaked into stored log")
	}
}
