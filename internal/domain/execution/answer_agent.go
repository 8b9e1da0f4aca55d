package execution

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/domain/service"
)

// AnswerStyle is the register the style detector picks for the final
// answer's tone, inferred from the original query.
type AnswerStyle string

const (
	StyleReport  AnswerStyle = "report"
	StyleSummary AnswerStyle = "summary"
	StyleOutline AnswerStyle = "outline"
)

var (
	reportKeywords  = regexp.MustCompile(`(?i)\b(report|analysis|findings|detailed)\b`)
	outlineKeywords = regexp.MustCompile(`(?i)\b(outline|steps|checklist|bullet)\b`)
)

// detectStyle infers a register from the query text. Summary is the
// default when neither report nor outline language is present.
func detectStyle(query string) AnswerStyle {
	switch {
	case reportKeywords.MatchString(query):
		return StyleReport
	case outlineKeywords.MatchString(query):
		return StyleOutline
	default:
		return StyleSummary
	}
}

// TaskOutput is one task's contribution to the final answer, as named in
// spec §4.9.
type TaskOutput struct {
	TaskID    string
	TaskTitle string
	Output    string
	Success   bool
}

// Answer is the Answer Agent's rendered result.
type Answer struct {
	Content     string
	Summary     string
	Suggestions []string
}

// AssemblyClient is the narrow LLM collaborator the multi-task path calls
// to synthesize one coherent answer from several task outputs.
type AssemblyClient interface {
	Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error)
}

// AnswerAgent implements the Answer Agent (C9): renders a final answer from
// a list of per-task outputs plus the original query — single-task
// (verbatim/lightly cleaned) or multi-task (LLM-assembled synthesis, with a
// concatenation fallback grounded on the teacher's compactMessages/
// tryLLMSummarize "never fail outright" idiom).
type AnswerAgent struct {
	llm        AssemblyClient
	model      string
	sanitizer  *bluemonday.Policy
	log        *zap.Logger
}

// NewAnswerAgent constructs an AnswerAgent. llm may be nil, in which case
// the multi-task path always uses the concatenation fallback.
func NewAnswerAgent(llm AssemblyClient, model string, log *zap.Logger) *AnswerAgent {
	return &AnswerAgent{llm: llm, model: model, sanitizer: bluemonday.UGCPolicy(), log: log}
}

// Assemble renders the final Answer for query from outputs.
func (a *AnswerAgent) Assemble(ctx context.Context, query string, outputs []TaskOutput) Answer {
	style := detectStyle(query)

	if len(outputs) == 1 {
		return a.single(outputs[0], style)
	}
	return a.multi(ctx, query, outputs, style)
}

func (a *AnswerAgent) single(out TaskOutput, style AnswerStyle) Answer {
	content := a.render(strings.TrimSpace(out.Output))
	if !out.Success {
		return Answer{Content: content, Summary: "task did not complete successfully"}
	}
	return Answer{Content: content, Summary: summaryLine(style, 1)}
}

func (a *AnswerAgent) multi(ctx context.Context, query string, outputs []TaskOutput, style AnswerStyle) Answer {
	if a.llm != nil {
		if answer, ok := a.assembleWithLLM(ctx, query, outputs, style); ok {
			return answer
		}
		a.log.Warn("answer agent: assembly LLM call failed, falling back to concatenation")
	}
	return a.concatenate(outputs, style)
}

func (a *AnswerAgent) assembleWithLLM(ctx context.Context, query string, outputs []TaskOutput, style AnswerStyle) (Answer, bool) {
	prompt := a.buildAssemblyPrompt(query, outputs, style)
	resp, err := a.llm.Generate(ctx, &service.LLMRequest{
		Model:    a.model,
		System:   "You synthesize completed sub-task results into one coherent answer for the user. Do not invent facts not present in the sub-task outputs.",
		Messages: []service.LLMMessage{{Role: "user", Content: prompt}},
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Answer{}, false
	}
	return Answer{Content: a.render(resp.Content), Summary: summaryLine(style, len(outputs))}, true
}

func (a *AnswerAgent) buildAssemblyPrompt(query string, outputs []TaskOutput, style AnswerStyle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\nDesired register: %s\n\nSub-task results:\n", query, style)
	for _, o := range outputs {
		status := "ok"
		if !o.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", o.TaskID, status, o.TaskTitle, o.Output)
	}
	b.WriteString("\nWrite one coherent final answer synthesizing the successful results.")
	return b.String()
}

// concatenate is the fallback-on-LLM-failure path: grounded on the
// teacher's compactMessages/tryLLMSummarize idiom of never failing
// outright, and on buildHistoryText's "### <title>" section style.
func (a *AnswerAgent) concatenate(outputs []TaskOutput, style AnswerStyle) Answer {
	var b strings.Builder
	succeeded := 0
	for _, o := range outputs {
		if !o.Success {
			continue
		}
		succeeded++
		fmt.Fprintf(&b, "### %s\n%s\n\n", o.TaskTitle, strings.TrimSpace(o.Output))
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		content = "No sub-task completed successfully."
	}
	return Answer{
		Content: a.render(content),
		Summary: fmt.Sprintf("%s (%d/%d sub-tasks succeeded)", summaryLine(style, len(outputs)), succeeded, len(outputs)),
	}
}

// render converts markdown to sanitized HTML for the answer_ready payload,
// falling back to the sanitized plain text if rendering fails.
func (a *AnswerAgent) render(markdownText string) string {
	var buf strings.Builder
	if err := goldmark.Convert([]byte(markdownText), &buf); err != nil {
		return a.sanitizer.Sanitize(markdownText)
	}
	return a.sanitizer.Sanitize(buf.String())
}

func summaryLine(style AnswerStyle, taskCount int) string {
	switch style {
	case StyleReport:
		return fmt.Sprintf("detailed report across %d task(s)", taskCount)
	case StyleOutline:
		return fmt.Sprintf("outline across %d task(s)", taskCount)
	default:
		return fmt.Sprintf("summary across %d task(s)", taskCount)
	}
}
