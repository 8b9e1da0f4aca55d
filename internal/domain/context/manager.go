package context

import "sync"

// Role values used by Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// RecitationProvider supplies the Plan Recitation text injected by
// MessagesForLLM when includePlanRecitation is true. The Context Manager
// never stores this text — it is recomputed on every call.
type RecitationProvider interface {
	Recitation() string
}

// Manager implements the Context Manager (C4): an append-only message log,
// cumulative input/output token accounting, and plan-recitation injection.
// Messages are never mutated after being appended; Clear is the only way to
// shrink the log, and compression (C5) rewrites the list wholesale rather
// than editing entries in place.
type Manager struct {
	mu sync.RWMutex

	messages     []Message
	inputTokens  int
	outputTokens int
	recitation   RecitationProvider
}

// NewManager creates an empty Context Manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetRecitationProvider wires the source of Plan Recitation text. May be
// nil, in which case MessagesForLLM(true) behaves as if no plan exists.
func (m *Manager) SetRecitationProvider(p RecitationProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recitation = p
}

// AddUserMessage appends a user-role message.
func (m *Manager) AddUserMessage(content string) {
	m.append(Message{Role: RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant-role message, optionally carrying
// a token estimate for accounting.
func (m *Manager) AddAssistantMessage(content string, tokens int) {
	m.append(Message{Role: RoleAssistant, Content: content, Tokens: tokens})
}

// AddToolResultMessage appends a tool-role message correlated to its
// ToolCall via toolCallID.
func (m *Manager) AddToolResultMessage(toolCallID, content string) {
	m.append(Message{Role: RoleTool, Content: content, ToolCallID: toolCallID})
}

// AddSystemMessage appends a system-role message. Not part of the spec's
// named exposure set but needed to seed a session; kept narrow on purpose.
func (m *Manager) AddSystemMessage(content string) {
	m.append(Message{Role: RoleSystem, Content: content})
}

func (m *Manager) append(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// MessagesForLLM returns a snapshot of the message log. When
// includePlanRecitation is true and a RecitationProvider is set, a synthetic
// user-role message carrying the current recitation text is appended to the
// end of the returned slice — this suffix is never stored in the log.
func (m *Manager) MessagesForLLM(includePlanRecitation bool) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)

	if includePlanRecitation && m.recitation != nil {
		if text := m.recitation.Recitation(); text != "" {
			out = append(out, Message{Role: RoleUser, Content: text})
		}
	}
	return out
}

// Messages returns a read-only copy of the full append-only log, without
// any plan-recitation suffix.
func (m *Manager) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// GetTokenUsage returns cumulative input and output token counts.
func (m *Manager) GetTokenUsage() (input, output int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputTokens, m.outputTokens
}

// UpdateTokenUsage adds to the cumulative input/output counters. These
// counts are advisory — the Compressor (C5) reads them to decide whether to
// compact the log, but the Context Manager does not act on them itself.
func (m *Manager) UpdateTokenUsage(in, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputTokens += in
	m.outputTokens += out
}

// Clear empties the message log and resets token counters.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.inputTokens = 0
	m.outputTokens = 0
}

// Replace swaps the stored message log for messages, as produced by the
// Compressor's Compress step. Token counters are left untouched — callers
// update them separately via UpdateTokenUsage if compression changed the
// accounted total.
func (m *Manager) Replace(messages []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]Message(nil), messages...)
}
