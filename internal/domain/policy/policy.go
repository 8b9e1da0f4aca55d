// Package policy holds the cross-cutting run policies consulted on every
// outer iteration: how long to keep running, when to compress context, and
// how much token budget remains.
package policy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// --- Dynamic Iteration Policy ---

// IterationInput is the per-iteration state the Dynamic Iteration Policy
// decides against.
type IterationInput struct {
	Iteration      int
	TokensUsed     int
	HasFatalError  bool
	ElapsedSeconds float64
}

// IterationBudget is the configuration the policy is evaluated against.
type IterationBudget struct {
	BaseBudget           int
	MaxIterations        int
	AvailableTimeSeconds float64
	ContextWindowLimit   int
}

// AdaptedBudget computes the once-up-front iteration budget as a monotonic
// function of the task description length, clamped to [BaseBudget,
// MaxIterations]. Longer task descriptions imply more complex tasks, hence
// more iterations of slack before the policy calls it quits.
func (b IterationBudget) AdaptedBudget(taskDescriptionLength int) int {
	// One extra iteration of slack per full 80 characters of task
	// description (80 characters already add one) — same shape as the teacher's adaptive-token
	// accounting in context.Pruner, generalized to iteration count.
	extra := taskDescriptionLength / 80
	budget := b.BaseBudget + extra
	if budget < b.BaseBudget {
		budget = b.BaseBudget
	}
	if budget > b.MaxIterations {
		budget = b.MaxIterations
	}
	return budget
}

// ShouldContinue evaluates the Dynamic Iteration Policy. adaptedBudget
// should be precomputed once via AdaptedBudget at session start.
func ShouldContinue(in IterationInput, budget IterationBudget, adaptedBudget int) (bool, string) {
	if in.HasFatalError {
		return false, "fatal error"
	}
	if in.ElapsedSeconds >= budget.AvailableTimeSeconds {
		return false, "exceeded elapsed budget"
	}
	if in.Iteration >= budget.MaxIterations {
		return false, "exceeded max_iterations"
	}
	if in.Iteration >= adaptedBudget {
		return false, "exceeded adapted budget"
	}
	return true, ""
}

// --- Context Compressor ---

// CompressionStrategy selects how aggressively compress() rewrites history.
type CompressionStrategy string

const (
	StrategyNone       CompressionStrategy = "none"
	StrategySoft       CompressionStrategy = "soft"
	StrategyAggressive CompressionStrategy = "aggressive"
)

const (
	softCompressionRatio       = 0.70
	aggressiveCompressionRatio = 0.90
	retainLastMessages         = 6
	largeToolOutputThreshold   = 2000 // bytes
)

// Message is the minimal shape the compressor reasons about; callers adapt
// their own message type to/from this at the boundary.
type Message struct {
	Role    string
	Content string
	Tokens  int
}

// CompressionResult reports what a compress() call actually did.
type CompressionResult struct {
	StrategyUsed CompressionStrategy
	TokensBefore int
	TokensAfter  int
	TokensSaved  int
}

// Summarizer is the narrow optional collaborator Compress calls to turn
// the messages being dropped into one coherent summary message, in place
// of the plain truncation-count fallback in summarizeOlder. Satisfied by
// context.LLMSummarizer and context.SimpleSummarizer via their own
// Message type — callers adapt at the boundary, same as this package's own
// Message type already requires.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Pruner is the optional importance-based pre-filter Compress runs over the
// older-messages block under StrategyAggressive, before summarization —
// dropping low-importance messages outright shrinks what the Summarizer has
// to read, instead of paying to summarize text that was never going to
// matter. Satisfied by context.Pruner via a caller-side adapter, the same
// boundary-adaptation pattern Summarizer already requires.
type Pruner interface {
	Prune(messages []Message) []Message
}

// Compressor implements the Context Compressor (C5): should_compress /
// compress, generalizing the teacher's XML-state-snapshot compaction
// (internal/domain/service/compaction.go, since folded in here) onto the
// token-ratio-triggered contract.
type Compressor struct {
	windowLimit int
	summarizer  Summarizer
	pruner      Pruner
	log         *zap.Logger
}

// NewCompressor creates a Compressor for a context window of the given size.
func NewCompressor(windowLimit int, log *zap.Logger) *Compressor {
	return &Compressor{windowLimit: windowLimit, log: log}
}

// SetSummarizer wires an optional LLM-backed summarizer. When set, Compress
// tries it first for the older-messages block and falls back to
// summarizeOlder's truncation-count text on error or when unset.
func (c *Compressor) SetSummarizer(s Summarizer) {
	c.summarizer = s
}

// SetPruner wires an optional importance pre-filter, applied to the
// older-messages block only when StrategyAggressive fires.
func (c *Compressor) SetPruner(p Pruner) {
	c.pruner = p
}

// ShouldCompress reports whether tokensUsed crosses the soft (70%) or
// aggressive (90%) threshold of the configured window.
func (c *Compressor) ShouldCompress(tokensUsed int, forceAggressive bool) (bool, CompressionStrategy) {
	if c.windowLimit <= 0 {
		return false, StrategyNone
	}
	ratio := float64(tokensUsed) / float64(c.windowLimit)
	switch {
	case forceAggressive || ratio >= aggressiveCompressionRatio:
		return true, StrategyAggressive
	case ratio >= softCompressionRatio:
		return true, StrategySoft
	default:
		return false, StrategyNone
	}
}

// Compress rewrites messages per strategy: system messages and the last 6
// messages are kept, and every older non-system message is folded into one
// summary message. Aggressive mode first runs the optional Pruner over those
// older messages, and also replaces large tool outputs within the last 6
// with a size placeholder.
func (c *Compressor) Compress(ctx context.Context, messages []Message, tokensUsed int, strategy CompressionStrategy) ([]Message, CompressionResult) {
	before := tokensUsed
	if strategy == StrategyNone || len(messages) <= retainLastMessages {
		return messages, CompressionResult{StrategyUsed: StrategyNone, TokensBefore: before, TokensAfter: before}
	}

	var system []Message
	cutoff := len(messages) - retainLastMessages
	if cutoff < 0 {
		cutoff = 0
	}

	var older []Message
	for i, m := range messages[:cutoff] {
		if m.Role == "system" {
			system = append(system, m)
			continue
		}
		_ = i
		older = append(older, m)
	}
	recent := messages[cutoff:]

	if strategy == StrategyAggressive && c.pruner != nil && len(older) > 0 {
		prunedOlder := c.pruner.Prune(older)
		c.log.Info("context pruned before summarization",
			zap.Int("messages_before", len(older)), zap.Int("messages_after", len(prunedOlder)))
		older = prunedOlder
	}

	result := make([]Message, 0, len(system)+1+len(recent))
	result = append(result, system...)

	if len(older) > 0 {
		result = append(result, Message{
			Role:    "user",
			Content: c.summarizeOrFallback(ctx, older),
		})
	}

	if strategy == StrategyAggressive {
		for i := range recent {
			if recent[i].Role == "tool" && len(recent[i].Content) > largeToolOutputThreshold {
				recent[i].Content = fmt.Sprintf("<tool output returned %d bytes>", len(recent[i].Content))
			}
		}
	}
	result = append(result, recent...)

	after := estimateTokens(result)
	res := CompressionResult{
		StrategyUsed: strategy,
		TokensBefore: before,
		TokensAfter:  after,
		TokensSaved:  before - after,
	}
	c.log.Info("context compressed",
		zap.String("strategy", string(strategy)),
		zap.Int("tokens_before", res.TokensBefore),
		zap.Int("tokens_after", res.TokensAfter),
	)
	return result, res
}

// summarizeOrFallback tries the wired Summarizer, falling back to the
// truncation-count summary on a nil summarizer or a failed call — the
// compressor must never fail outright just because summarization did.
func (c *Compressor) summarizeOrFallback(ctx context.Context, messages []Message) string {
	if c.summarizer != nil {
		if text, err := c.summarizer.Summarize(ctx, messages); err == nil && text != "" {
			return text
		} else if err != nil {
			c.log.Warn("compressor: summarizer call failed, falling back to truncation summary", zap.Error(err))
		}
	}
	return summarizeOlder(messages)
}

// summarizeOlder builds a truncation-based fallback summary — same idiom as
// the teacher's truncationSummary, generalized off the AgentLoop receiver.
func summarizeOlder(messages []Message) string {
	assistantCount, userCount, toolCount := 0, 0, 0
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			assistantCount++
		case "user":
			userCount++
		case "tool":
			toolCount++
		}
	}
	return fmt.Sprintf(
		"[context compacted: %d messages summarized (%d user, %d assistant, %d tool)]",
		len(messages), userCount, assistantCount, toolCount,
	)
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.Tokens > 0 {
			total += m.Tokens
			continue
		}
		total += int(math.Ceil(float64(len(m.Content)) / 4.0))
	}
	return total
}

// --- Token Budget Manager ---

// BudgetManager tracks cumulative input/output token usage and advises the
// compressor on when to switch to summary mode.
type BudgetManager struct {
	inputTokens  int
	outputTokens int
	windowLimit  int
	reserveRatio float64
}

// NewBudgetManager creates a manager for the given context window, reserving
// reserveRatio of it (e.g. 0.8) before recommending summary mode.
func NewBudgetManager(windowLimit int, reserveRatio float64) *BudgetManager {
	return &BudgetManager{windowLimit: windowLimit, reserveRatio: reserveRatio}
}

// Record adds to the cumulative token counts.
func (b *BudgetManager) Record(in, out int) {
	b.inputTokens += in
	b.outputTokens += out
}

// Total returns cumulative input+output tokens.
func (b *BudgetManager) Total() int {
	return b.inputTokens + b.outputTokens
}

// ShouldSwitchToSummaryMode reports whether cumulative usage has breached
// the reserved ratio of the context window.
func (b *BudgetManager) ShouldSwitchToSummaryMode() bool {
	if b.windowLimit <= 0 {
		return false
	}
	return float64(b.Total())/float64(b.windowLimit) >= b.reserveRatio
}
