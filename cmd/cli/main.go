package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/application"
	"github.com/agentcore/agentcore/internal/infrastructure/config"
	"github.com/agentcore/agentcore/internal/infrastructure/logger"
	agenthttp "github.com/agentcore/agentcore/internal/interfaces/http"
	"github.com/agentcore/agentcore/internal/interfaces/repl"
)

const (
	cliVersion = "0.2.0"
	cliName    = "agentcore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName + " [message]",
		Short: "Agent Core — AI Coding Agent",
		Long:  "Agent Core CLI — 交互式 AI 编程助手, 支持代码生成/编辑/调试/搜索",
		Args:  cobra.ArbitraryArgs,
		RunE:  runInteractive,
	}

	rootCmd.Flags().StringP("model", "m", "", "指定模型 (覆盖配置)")
	rootCmd.Flags().BoolP("no-approve", "y", false, "跳过工具审批 (YOLO 模式)")
	rootCmd.Flags().StringP("workspace", "w", "", "工作目录")

	// --- Subcommands ---

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动完整网关服务 (HTTP API)",
		Long:  "启动 Agent Core Gateway 全量服务, 包含 HTTP API",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── CLI Interactive Mode (default) ───

func runInteractive(cmd *cobra.Command, args []string) error {
	// Quiet logger for CLI
	log, err := logger.NewLogger(logger.Config{
		Level:      "error",
		Format:     "console",
		OutputPath: "/dev/null",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// CLI flag overrides
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.Agent.DefaultModel = m
	}
	// Workspace: always use CWD (where user launched agentcore)
	// --workspace flag overrides CWD; config workspace is for gateway mode only
	workspace, _ := os.Getwd()
	if w, _ := cmd.Flags().GetString("workspace"); w != "" {
		workspace = w
	}
	if workspace != "" {
		cfg.Agent.Workspace = workspace
	}
	if noApprove, _ := cmd.Flags().GetBool("no-approve"); noApprove {
		cfg.Agent.Security.ApprovalMode = "auto"
	}

	// Init app (CLI mode — no HTTP server, silent DB)
	fmt.Print("\033[90m⏳ 初始化中...\033[0m")
	app, err := application.NewAppCLI(cfg, log)
	if err != nil {
		return fmt.Errorf("\n初始化失败: %w", err)
	}
	fmt.Print("\r\033[2K") // Clear "initializing" line

	// Tool count
	toolCount := 0
	if reg := app.ToolRegistry(); reg != nil {
		toolCount = len(reg.List())
	}
	fmt.Printf("\033[90m✓ %d tools loaded\033[0m\n", toolCount)

	sessionID := "cli_" + uuid.NewString()
	engine, err := app.NewSession(sessionID)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	r := repl.New(engine, app.Logger(), repl.Config{
		DefaultModel: cfg.Agent.DefaultModel,
		UserName:     os.Getenv("USER"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build initial prompt from trailing args — fed to the engine directly
	// before dropping into the interactive loop, so `agentcore fix the bug`
	// runs one turn immediately.
	if initPrompt := strings.Join(args, " "); initPrompt != "" {
		result := engine.Run(ctx, initPrompt)
		fmt.Println(result.FinalContent)
	}

	return r.Run(ctx)
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(logger.Config{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Agent Core Gateway",
		zap.String("version", cliVersion),
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	srv := agenthttp.NewServer(agenthttp.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, app, log)
	if err := srv.Start(ctx); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", zap.Error(err))
	}

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
	return nil
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ Agent Core Doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"配置文件", checkConfig},
		{"Go 工具链", checkGo},
		{"Python 环境", checkPython},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.agentcore/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "未找到 ~/.agentcore/config.yaml", false
}

func checkGo() (string, bool) {
	for _, p := range []string{"/usr/local/go/bin/go", "/usr/bin/go", "/usr/lib/go/bin/go"} {
		if _, err := os.Stat(p); err == nil {
			return "已安装", true
		}
	}
	return "未安装", false
}

// checkPython reports on the sandbox's configured Python environment (see
// Config.PythonEnv / infrastructure/sandbox's CONDA_PREFIX wiring),
// falling back to a conda env at the conventional location when unset.
func checkPython() (string, bool) {
	cfg, err := config.Load()
	p := ""
	if err == nil {
		p = cfg.PythonEnv
	}
	if p == "" {
		p = os.Getenv("HOME") + "/miniconda3/envs/agentcore"
	}
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return fmt.Sprintf("Python 环境未找到 (%s)", p), false
}
