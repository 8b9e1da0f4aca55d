package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

// OpenAIProvider is a Go-native OpenAI-compatible HTTP client, generalized
// from the teacher's OpenAIBuiltinProvider. It is wire-compatible with
// OpenAI, Bailian (Qwen), MiniMax, and Ollama's OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewOpenAIProvider creates a Go-native OpenAI-compatible LLM client.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	// Transport-level timeouts. No total client.Timeout — long LLM
	// inferences are not killed; cancellation is via context, scoped by
	// the Engine's RunTimeout/TaskTimeout.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  logger.With(zap.String("provider", cfg.Name)),
	}
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) Name() string    { return p.name }
func (p *OpenAIProvider) Models() []string { return p.models }

func (p *OpenAIProvider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != "" && p.breaker.Allow()
}

// asContext recovers a real context.Context from the narrow Done()-only
// interface named by service.LLMClient. Every call site in this module
// passes an actual context.Context, which structurally satisfies the
// interface, so the type assertion always succeeds in practice; the
// fallback exists only so a non-context.Context caller degrades to an
// uncancellable request instead of panicking.
func asContext(ctx interface{ Done() <-chan struct{} }) context.Context {
	if cc, ok := ctx.(context.Context); ok {
		return cc
	}
	return context.Background()
}

// Generate implements service.LLMClient.
func (p *OpenAIProvider) Generate(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (*service.LLMResponse, error) {
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("llm provider %s: circuit open", p.name)
	}

	apiReq := p.buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(asContext(ctx), "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	out, err := p.parseAPIResponse(respBody)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}
	p.breaker.RecordSuccess()
	return out, nil
}

// GenerateStream implements service.LLMClient with SSE streaming, emitting
// deltas on the returned channel as they arrive and closing it once the
// stream terminates or fails.
func (p *OpenAIProvider) GenerateStream(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (<-chan service.StreamChunk, error) {
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("llm provider %s: circuit open", p.name)
	}

	apiReq := p.buildAPIRequest(req)
	streamBody := struct {
		*openaiRequest
		Stream bool `json:"stream"`
	}{openaiRequest: apiReq, Stream: true}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	cctx := asContext(ctx)
	httpReq, err := http.NewRequestWithContext(cctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	out := make(chan service.StreamChunk, 16)

	// CRITICAL: context cancellation does not interrupt resp.Body.Read().
	// This goroutine watches ctx.Done() and force-closes the body, which
	// makes scanner.Scan() return false and unblocks parseSSEStream.
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			p.logger.Info("context cancelled, force-closing SSE stream", zap.Error(cctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := p.parseSSEStream(cctx, resp.Body, out); err != nil {
			p.breaker.RecordFailure()
			p.logger.Warn("SSE stream ended with error", zap.Error(err))
		} else {
			p.breaker.RecordSuccess()
		}
		close(streamDone)
	}()

	return out, nil
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Model   string               `json:"model"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

// parseSSEStream reads a text/event-stream response, emitting deltas onto
// out. Three-tier termination protection:
//
//	L1: break on finish_reason (don't wait for [DONE] — some APIs never send it)
//	L2: 60s read idle timeout (detect stale connections)
//	L3: per-call context cancellation
func (p *OpenAIProvider) parseSSEStream(ctx context.Context, reader io.Reader, out chan<- service.StreamChunk) error {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCallMap := make(map[int]*toolCallAccumulator)
	var contentLen int
	var finishReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}

		if delta.Content != "" {
			contentLen += len(delta.Content)
			out <- service.StreamChunk{Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			if _, ok := toolCallMap[idx]; !ok {
				toolCallMap[idx] = &toolCallAccumulator{ID: tc.ID, Name: tc.Function.Name}
			}
			acc := toolCallMap[idx]
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.ArgsBuilder.WriteString(tc.Function.Arguments)
		}

		if finishReason != "" {
			p.logger.Debug("SSE stream: finish_reason received, breaking", zap.String("finish_reason", finishReason))
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			p.logger.Warn("SSE stream idle timeout — API stalled", zap.Duration("idle_timeout", idleTimeout))
			if contentLen == 0 && len(toolCallMap) == 0 {
				return fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return fmt.Errorf("SSE scan error: %w", err)
		}
	}

	refs := make([]service.ToolCallRef, 0, len(toolCallMap))
	for i := 0; i < len(toolCallMap); i++ {
		acc := toolCallMap[i]
		var args map[string]interface{}
		if argsStr := acc.ArgsBuilder.String(); argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
				p.logger.Warn("failed to parse streamed tool call args", zap.String("tool", acc.Name), zap.Error(err))
				continue
			}
		}
		refs = append(refs, entity.ToolCallInfo{ID: acc.ID, Name: acc.Name, Arguments: args})
	}
	if len(refs) > 0 {
		out <- service.StreamChunk{ToolCallRefs: refs}
	}
	out <- service.StreamChunk{Done: true}
	return nil
}

type toolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (p *OpenAIProvider) buildAPIRequest(req *service.LLMRequest) *openaiRequest {
	model := req.Model
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	apiReq := &openaiRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		apiMsg := openaiMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiToolCallFunc{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  convertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

func (p *OpenAIProvider) parseAPIResponse(body []byte) (*service.LLMResponse, error) {
	var apiResp openaiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	resp := &service.LLMResponse{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, entity.ToolCallInfo{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return resp, nil
}

func convertSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

// NewBailianProvider creates a provider for Aliyun Bailian (Qwen), which
// speaks the OpenAI-compatible wire format.
func NewBailianProvider(apiKey string, logger *zap.Logger) *OpenAIProvider {
	return NewOpenAIProvider(ProviderConfig{
		Name:    "bailian",
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		APIKey:  apiKey,
		Models:  []string{"qwen3-coder-plus", "qwen-max"},
	}, logger)
}

// NewOllamaProvider creates a provider for a local Ollama instance.
func NewOllamaProvider(baseURL string, logger *zap.Logger) *OpenAIProvider {
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	return NewOpenAIProvider(ProviderConfig{
		Name:    "ollama",
		BaseURL: baseURL,
		APIKey:  "ollama",
		Models:  []string{},
	}, logger)
}

// errIdleTimeout is the sentinel error returned when timedReader's deadline expires.
var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline, detecting
// stalled SSE streams where the API stops sending data mid-stream.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
