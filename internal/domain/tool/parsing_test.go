package tool

import "testing"

func TestParseToolCalls_ExtractsNameAndArguments(t *testing.T) {
	text := `I'll check the file.
<tool_call name="read_file">{"path": "a.go"}</tool_call>
Then write it.
<tool_call name="write_file">{"path": "b.go", "content": "x"}</tool_call>`

	calls := ParseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "read_file" || calls[0].Arguments["path"] != "a.go" {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].ID == calls[0].ID {
		t.Error("expected distinct call ids")
	}
}

func TestParseToolCalls_IdempotentIDs(t *testing.T) {
	text := `<tool_call name="x">{}</tool_call><tool_call name="y">{}</tool_call>`
	first := ParseToolCalls(text)
	second := ParseToolCalls(text)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("expected deterministic ids across parses, got %q vs %q", first[i].ID, second[i].ID)
		}
	}
}

func TestParseToolCalls_NoCallsReturnsEmpty(t *testing.T) {
	calls := ParseToolCalls("just plain text, nothing structured")
	if len(calls) != 0 {
		t.Errorf("expected no calls, got %d", len(calls))
	}
}

func TestParseToolCalls_MalformedJSONCapturedAsParseError(t *testing.T) {
	calls := ParseToolCalls(`<tool_call name="x">{not json}</tool_call>`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call even with malformed args, got %d", len(calls))
	}
	if _, ok := calls[0].Arguments["_parse_error"]; !ok {
		t.Error("expected malformed arguments to be captured under _parse_error")
	}
}

func TestHasToolCalls(t *testing.T) {
	if HasToolCalls("no calls here") {
		t.Error("expected false for text without tool_call blocks")
	}
	if !HasToolCalls(`<tool_call name="x">{}</tool_call>`) {
		t.Error("expected true for text with a tool_call block")
	}
}

func TestHasFinalAnswerAndExtractAnswer(t *testing.T) {
	text := "thinking...\n<final_answer>The answer is 42.</final_answer>"
	if !HasFinalAnswer(text) {
		t.Fatal("expected HasFinalAnswer to be true")
	}
	if got := ExtractAnswer(text); got != "The answer is 42." {
		t.Errorf("ExtractAnswer = %q", got)
	}
}

func TestExtractAnswer_EmptyWhenAbsent(t *testing.T) {
	if got := ExtractAnswer("no answer tag"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestExtractReasoning(t *testing.T) {
	text := "<reasoning>because X implies Y</reasoning><final_answer>Y</final_answer>"
	if got := ExtractReasoning(text); got != "because X implies Y" {
		t.Errorf("ExtractReasoning = %q", got)
	}
}
