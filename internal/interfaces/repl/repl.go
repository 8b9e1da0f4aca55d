// Package repl implements the interactive command-line Agent Engine
// session: one Engine per REPL conversation, driven by Engine.Execute's
// streaming event channel rather than a single blocking call, so tool
// calls and plan progress render as they happen.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/domain/agent"
	"github.com/agentcore/agentcore/internal/domain/entity"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// REPL interactive command-line agent session.
type REPL struct {
	engine       *agent.Engine
	logger       *zap.Logger
	currentModel string
	userName     string
}

// Config REPL configuration.
type Config struct {
	DefaultModel string
	UserName     string
}

// New creates a new REPL instance bound to one Engine (one session).
func New(engine *agent.Engine, logger *zap.Logger, cfg Config) *REPL {
	model := cfg.DefaultModel
	if model == "" {
		model = "default"
	}
	userName := cfg.UserName
	if userName == "" {
		userName = "user"
	}

	return &REPL{
		engine:       engine,
		logger:       logger,
		currentModel: model,
		userName:     userName,
	}
}

// Run starts the REPL loop.
func (r *REPL) Run(ctx context.Context) error {
	r.printBanner()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Printf("%s%s> %s", colorGreen, r.userName, colorReset)

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if handled, shouldExit := r.handleCommand(input); handled {
			if shouldExit {
				return nil
			}
			continue
		}

		r.processMessage(ctx, input)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	fmt.Println("\nGoodbye!")
	return nil
}

// handleCommand processes built-in REPL commands.
// Returns (handled, shouldExit).
func (r *REPL) handleCommand(input string) (bool, bool) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, false
	}

	switch strings.ToLower(parts[0]) {
	case "/exit", "/quit", "/q":
		fmt.Println("Goodbye!")
		return true, true

	case "/model":
		if len(parts) > 1 {
			r.currentModel = parts[1]
			fmt.Printf("%s✓ Model switched to: %s%s\n", colorCyan, r.currentModel, colorReset)
		} else {
			fmt.Printf("%sCurrent model: %s%s\n", colorCyan, r.currentModel, colorReset)
		}
		return true, false

	case "/status":
		fmt.Printf("%s── Status ──%s\n", colorCyan, colorReset)
		fmt.Printf("  Model: %s\n", r.currentModel)
		fmt.Printf("  User:  %s\n", r.userName)
		return true, false

	case "/help":
		r.printHelp()
		return true, false

	default:
		return false, false
	}
}

// processMessage drives one turn of the Engine in AUTO mode, rendering
// each streamed AgentEvent as it arrives.
func (r *REPL) processMessage(ctx context.Context, input string) {
	startTime := time.Now()
	var sawError bool

	for ev := range r.engine.Execute(ctx, input, agent.ModeAuto) {
		switch ev.Type {
		case entity.EventThinking:
			fmt.Printf("%s…thinking%s\n", colorGray, colorReset)
		case entity.EventToolCall:
			if name, _ := ev.Payload["name"].(string); name != "" {
				fmt.Printf("%s→ %s%s\n", colorGray, name, colorReset)
			}
		case entity.EventPlanCreated, entity.EventPlanRevised:
			fmt.Printf("%s✎ plan updated%s\n", colorGray, colorReset)
		case entity.EventTaskStart:
			if title, _ := ev.Payload["title"].(string); title != "" {
				fmt.Printf("%s▸ %s%s\n", colorGray, title, colorReset)
			}
		case entity.EventAnswerReady, entity.EventContent:
			if content, _ := ev.Payload["content"].(string); content != "" {
				fmt.Printf("\n%s%s🤖 Assistant%s\n", colorBold, colorCyan, colorReset)
				fmt.Println(content)
			}
		case entity.EventError:
			sawError = true
			if msg, _ := ev.Payload["error"].(string); msg != "" {
				fmt.Printf("%sError: %s%s\n", colorYellow, msg, colorReset)
			}
		case entity.EventDone:
			elapsed := time.Since(startTime)
			fmt.Printf("%s(%s)%s\n\n", colorGray, elapsed.Round(time.Millisecond), colorReset)
		}
	}

	if sawError {
		r.logger.Warn("REPL turn completed with an error event")
	}
}

// printBanner displays the REPL welcome message.
func (r *REPL) printBanner() {
	fmt.Printf("\n%s%s╔══════════════════════════════════╗%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%s%s║          Agent Core REPL          ║%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%s%s╚══════════════════════════════════╝%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%sModel: %s | Type /help for commands%s\n\n", colorGray, r.currentModel, colorReset)
}

// printHelp displays available commands.
func (r *REPL) printHelp() {
	fmt.Printf("\n%s── Commands ──%s\n", colorCyan, colorReset)
	fmt.Println("  /model [name] Show or switch current model")
	fmt.Println("  /status       Show current session status")
	fmt.Println("  /help         Show this help")
	fmt.Println("  /exit         Exit REPL")
	fmt.Println()
}
