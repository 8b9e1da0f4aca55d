package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/agentcore/agentcore/internal/domain/agent"
	"github.com/agentcore/agentcore/internal/domain/checkpoint"
	domaincontext "github.com/agentcore/agentcore/internal/domain/context"
	"github.com/agentcore/agentcore/internal/domain/execution"
	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/planning"
	"github.com/agentcore/agentcore/internal/domain/policy"
	"github.com/agentcore/agentcore/internal/domain/scratchpad"
	"github.com/agentcore/agentcore/internal/domain/service"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"github.com/agentcore/agentcore/internal/infrastructure/config"
	"github.com/agentcore/agentcore/internal/infrastructure/llm"
	"github.com/agentcore/agentcore/internal/infrastructure/monitoring"
	"github.com/agentcore/agentcore/internal/infrastructure/persistence"
	"github.com/agentcore/agentcore/internal/infrastructure/sandbox"
	infratool "github.com/agentcore/agentcore/internal/infrastructure/tool"
)

// App holds the process-wide singletons shared across sessions: the LLM
// failover chain, the tool registry/policy/sandbox, persistence, and
// monitoring. A fresh agent.Deps (and thus agent.Engine) is constructed
// per session by NewSession, sharing these but owning its own scratchpad,
// context manager, scheduler and allow-list — mirroring the teacher's
// App binding one process's worth of infrastructure to many per-request
// use-case invocations.
type App struct {
	cfg *config.Config
	log *zap.Logger

	llmClient     service.LLMClient
	db            *gorm.DB
	checkpoints   *checkpoint.Manager
	monitor       *monitoring.Monitor
	toolRegistry  domaintool.Registry
	toolPolicy    *domaintool.Policy
	sandbox       *sandbox.ProcessSandbox
	configWatcher *service.ConfigWatcher
	failureKB     failure.KnowledgeBase
	modelPolicies map[string]*service.ModelPolicyOverride

	mu       sync.Mutex
	sessions map[string]*agent.Engine
}

// NewApp builds the full gateway-mode App: persistent checkpoint storage,
// every builtin tool, and the configured LLM provider chain.
func NewApp(cfg *config.Config, log *zap.Logger) (*App, error) {
	return newApp(cfg, log, true)
}

// NewAppCLI builds a lighter CLI-mode App — same wiring, but callers
// typically point Database.DSN at a local sqlite file rather than a
// server-managed one; behavior is otherwise identical to NewApp.
func NewAppCLI(cfg *config.Config, log *zap.Logger) (*App, error) {
	return newApp(cfg, log, false)
}

func newApp(cfg *config.Config, log *zap.Logger, gatewayMode bool) (*App, error) {
	workspace := cfg.Agent.Workspace
	if workspace == "" {
		workspace = "."
	}

	llmClient := buildLLMClient(cfg, log)

	sb, err := sandbox.NewProcessSandbox(&sandbox.Config{
		WorkDir:     workspace,
		Timeout:     60 * time.Second,
		TempDir:     sandbox.DefaultConfig().TempDir,
		PythonEnv:   cfg.PythonEnv,
		AllowedBins: []string{"bash", "sh", "python3", "python", "git", "ls", "cat", "grep"},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("application: sandbox init: %w", err)
	}

	registry := domaintool.NewInMemoryRegistry()
	registerBuiltinTools(registry, sb, log)

	toolPolicy := &domaintool.Policy{
		Profile:     "full",
		AllowList:   cfg.Agent.Tools.AllowList,
		DenyList:    cfg.Agent.Tools.DenyList,
		AskMode:     cfg.Agent.Security.ApprovalMode != "auto",
		MaxExecTime: cfg.Agent.Runtime.TimeoutSeconds,
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("application: db init: %w", err)
	}
	store := persistence.NewGormCheckpointStore(db)
	checkpoints := checkpoint.NewManager(store, cfg.Agent.Checkpoint.Interval, cfg.Agent.Checkpoint.MaxRetained, log)

	monitor := monitoring.NewMonitor(log)

	var watcher *service.ConfigWatcher
	if cfg.Agent.HotReloadPath != "" {
		watcher = service.NewConfigWatcher(cfg.Agent.HotReloadPath, log)
	}

	failureKBPath := filepath.Join(workspace, ".agentcore", "failure_patterns.json")
	failureKB := persistence.NewFailureKnowledgeBase(os.Getenv("REDIS_URL"), failureKBPath, log)

	modelPolicies, err := service.LoadModelPolicyOverrides(filepath.Join(workspace, ".agentcore", "model_policies.yaml"))
	if err != nil {
		log.Warn("application: ignoring malformed model policy overrides", zap.Error(err))
	}

	a := &App{
		cfg:           cfg,
		log:           log,
		llmClient:     llmClient,
		db:            db,
		checkpoints:   checkpoints,
		monitor:       monitor,
		toolRegistry:  registry,
		toolPolicy:    toolPolicy,
		sandbox:       sb,
		configWatcher: watcher,
		failureKB:     failureKB,
		modelPolicies: modelPolicies,
		sessions:      make(map[string]*agent.Engine),
	}
	return a, nil
}

// buildLLMClient assembles the MultiProvider failover chain from
// cfg.Agent.Providers, falling back to a single Bailian-backed provider
// when none are configured (matching the teacher's bundled-by-default
// provider set).
func buildLLMClient(cfg *config.Config, log *zap.Logger) service.LLMClient {
	multi := llm.NewMultiProvider(log)
	if len(cfg.Agent.Providers) == 0 {
		multi.AddProvider(llm.NewBailianProvider("", log))
	}
	for i, p := range cfg.Agent.Providers {
		provider, err := llm.CreateProvider("openai", llm.ProviderConfig{
			Name:     p.Name,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Priority: i,
		}, log)
		if err != nil {
			log.Warn("application: skipping unknown llm provider type", zap.String("provider", p.Name), zap.Error(err))
			continue
		}
		multi.AddProvider(provider)
	}
	return multi
}

// registerBuiltinTools registers every infrastructure tool the teacher's
// builtin/advanced tool files provide, plus the exit/update_plan control
// tools. Registration errors (duplicate names) are logged, not fatal —
// they only happen if this function itself has a bug.
func registerBuiltinTools(registry domaintool.Registry, sb *sandbox.ProcessSandbox, log *zap.Logger) {
	tools := []domaintool.Tool{
		infratool.NewBashTool(sb, log),
		infratool.NewReadFileTool(sb, log),
		infratool.NewWriteFileTool(sb, log),
		infratool.NewListDirTool(sb, log),
		infratool.NewSearchTool(sb, log),
		infratool.NewEditFileTool(sb, log),
		infratool.NewGlobTool(sb, log),
		infratool.NewApplyPatchTool(sb, log),
		infratool.NewWebFetchTool(sb, log),
		infratool.NewExitTool(log),
		infratool.NewUpdatePlanTool(log),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			log.Error("application: failed to register builtin tool", zap.String("tool", t.Name()), zap.Error(err))
		}
	}
}

// ToolRegistry exposes the shared tool registry (e.g. for a CLI banner's
// tool count).
func (a *App) ToolRegistry() domaintool.Registry {
	return a.toolRegistry
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Monitor returns the shared metrics monitor.
func (a *App) Monitor() *monitoring.Monitor {
	return a.monitor
}

// Start performs background startup work: it logs readiness and, when a
// config watcher is configured, starts it in its own goroutine. The HTTP/WS
// listeners themselves are started by the interfaces layer that owns the App.
func (a *App) Start(ctx context.Context) error {
	a.log.Info("application started",
		zap.Int("tools_registered", len(a.toolRegistry.List())),
		zap.String("default_model", a.cfg.Agent.DefaultModel),
	)
	if a.configWatcher != nil {
		go a.configWatcher.Start()
	}
	return nil
}

// Stop releases process-wide resources (the database connection, the
// config watcher's polling goroutine).
func (a *App) Stop(ctx context.Context) error {
	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}

// NewSession constructs a fresh agent.Engine for sessionID: its own
// Scratchpad (rooted under the shared workspace), Context Manager,
// Compressor/BudgetManager, Observer, Scheduler/Planner, a
// session-scoped TaskExecutor+Router (so Action-Space Pruning's AllowList
// narrowing never leaks across concurrent sessions), and the shared
// LLM/tool-registry/checkpoint singletons.
func (a *App) NewSession(sessionID string) (*agent.Engine, error) {
	cfg := a.cfg
	engineCfg := service.EngineConfig{
		Model:                    cfg.Agent.DefaultModel,
		MaxIterations:            cfg.Agent.Runtime.MaxIterations,
		TimeoutSeconds:           cfg.Agent.Runtime.TimeoutSeconds,
		TaskTimeout:              cfg.Agent.Runtime.TaskTimeout,
		Enable3Strike:            cfg.Agent.Runtime.Enable3Strike,
		EnableActionSpacePruning: cfg.Agent.Runtime.EnableActionSpacePruning,
		SkillConfidenceThreshold: cfg.Agent.Runtime.SkillConfidenceThreshold,
		StructuredTaskConfidence: cfg.Agent.Runtime.StructuredTaskConfidence,
		BaseBudget:               cfg.Agent.Runtime.BaseBudget,
		AvailableTimeSeconds:     cfg.Agent.Runtime.AvailableTimeSeconds,
		ContextWindowLimit:       cfg.Agent.Runtime.ContextWindowLimit,
		CheckpointInterval:       cfg.Agent.Checkpoint.Interval,
		MaxCheckpoints:           cfg.Agent.Checkpoint.MaxRetained,
		ContextClearThreshold:    cfg.Agent.Runtime.ContextClearThreshold,
		ContextTokenThreshold:    cfg.Agent.Runtime.ContextTokenThreshold,
		MaxParallelTasks:         cfg.Agent.Runtime.MaxParallelTasks,
		MaxParallelTools:         cfg.Agent.Runtime.MaxParallelTools,
		RecentMessagesRetained:   cfg.Agent.Runtime.RecentMessagesRetained,
	}
	if a.configWatcher != nil {
		overlayHotReloadedConfig(&engineCfg, a.configWatcher.Config())
	}

	workspace := cfg.Agent.Workspace
	if workspace == "" {
		workspace = "."
	}
	base := filepath.Join(workspace, ".agentcore", "sessions", sessionID)

	pad := scratchpad.New(osFilesystem{}, base, a.log)
	observer := failure.NewObserver(pad, a.log)
	if a.failureKB != nil {
		observer.SetKnowledgeBase(a.failureKB)
	}

	llmClient := newRetryingLLMClient(a.llmClient, observer, cfg.Agent.Runtime.MaxRetries, cfg.Agent.Runtime.RetryBaseWait, a.log)

	ctxMgr := domaincontext.NewManager()

	compressor := policy.NewCompressor(cfg.Agent.Runtime.ContextWindowLimit, a.log)
	summarizer := domaincontext.NewLLMSummarizer(newModelClient(llmClient, cfg.Agent.DefaultModel), domaincontext.DefaultSummarizerConfig())
	compressor.SetSummarizer(&policySummarizerAdapter{inner: summarizer})

	pruneCfg := domaincontext.DefaultPruneConfig()
	pruneCfg.MaxTokens = cfg.Agent.Runtime.ContextWindowLimit
	compressor.SetPruner(&prunerAdapter{inner: domaincontext.NewPruner(pruneCfg, nil)})

	budget := policy.NewBudgetManager(cfg.Agent.Runtime.ContextWindowLimit, 0.8)

	allowList := domaintool.NewAllowList()
	executor := infratool.NewExecutor(a.toolRegistry, a.toolPolicy, allowList, a.sandbox, a.log)
	runner := infratool.NewRunnerAdapter(executor)

	taskExecCfg := execution.DefaultTaskExecutorConfig()
	taskExecCfg.Model = engineCfg.Model
	taskExecCfg.ModelPolicyOverrides = a.modelPolicies
	taskExec := execution.NewTaskExecutor(
		llmClient, runner, a.toolRegistry.List(), observer,
		execution.NewDefaultValidator(), a.log, taskExecCfg,
	)

	codeSandbox := sandbox.NewCodeSandboxAdapter(a.sandbox)
	router := execution.NewRouter(
		nil, nil, nil, nil, codeSandbox,
		allowList, taskExec, execution.DefaultRouterConfig(), a.log,
	)

	answerAgent := execution.NewAnswerAgent(newAssemblyClient(llmClient), cfg.Agent.DefaultModel, a.log)

	scheduler := planning.NewScheduler(a.log)
	planner := planning.NewPlanner(newPlannerLLM(llmClient, cfg.Agent.DefaultModel), a.log)

	sm := service.NewStateMachine(cfg.Agent.Runtime.MaxIterations, a.log)

	hooks := service.NewHookChain(monitoring.NewMetricsHook(a.monitor))

	deps := agent.Deps{
		LLM:          llmClient,
		StateMachine: sm,
		Hooks:        hooks,
		Context:      ctxMgr,
		Compressor:   compressor,
		Budget:       budget,
		Observer:     observer,
		Scratchpad:   pad,
		Planner:      planner,
		Scheduler:    scheduler,
		TaskExecutor: taskExec,
		Router:       router,
		AnswerAgent:  answerAgent,
		Checkpoints:  a.checkpoints,
	}

	e := agent.NewEngine(sessionID, deps, engineCfg, a.log)

	if restored, err := e.Restore(context.Background()); err != nil {
		a.log.Warn("application: checkpoint restore failed, starting fresh", zap.String("session", sessionID), zap.Error(err))
	} else if restored {
		a.log.Info("application: session restored from checkpoint", zap.String("session", sessionID))
	}

	a.mu.Lock()
	a.sessions[sessionID] = e
	a.mu.Unlock()

	return e, nil
}

// overlayHotReloadedConfig applies the subset of the watcher's EngineConfig
// that makes sense to tune without a restart (model choice and the budget
// knobs an operator would adjust under load) onto a freshly built
// session config, zero-value fields from an unconfigured watch file
// left alone so an empty override JSON is a no-op.
func overlayHotReloadedConfig(engineCfg *service.EngineConfig, hot service.EngineConfig) {
	if hot.Model != "" {
		engineCfg.Model = hot.Model
	}
	if hot.MaxIterations != 0 {
		engineCfg.MaxIterations = hot.MaxIterations
	}
	if hot.ContextWindowLimit != 0 {
		engineCfg.ContextWindowLimit = hot.ContextWindowLimit
	}
	if hot.BaseBudget != 0 {
		engineCfg.BaseBudget = hot.BaseBudget
	}
	if hot.MaxParallelTasks != 0 {
		engineCfg.MaxParallelTasks = hot.MaxParallelTasks
	}
	if hot.MaxParallelTools != 0 {
		engineCfg.MaxParallelTools = hot.MaxParallelTools
	}
}

// Session returns a previously constructed session's Engine, if any.
func (a *App) Session(sessionID string) (*agent.Engine, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sessions[sessionID]
	return e, ok
}
