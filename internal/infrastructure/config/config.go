package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	PythonEnv string          `mapstructure:"python_env"` // 全局 Python 环境路径 (conda/venv 根目录)
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig Agent 配置
type AgentConfig struct {
	DefaultModel    string              `mapstructure:"default_model"`
	Workspace       string              `mapstructure:"workspace"`
	Providers       []LLMProviderConfig `mapstructure:"providers"` // LLM provider configs for the builtin OpenAI-compatible client

	// 运行时、规划、检查点、工具配置 — maps onto service.EngineConfig at
	// wiring time.
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Security   SecurityConfig   `mapstructure:"security"`
	Tools      ToolsConfig      `mapstructure:"tools"`

	// HotReloadPath, if set, points at a JSON file polled for EngineConfig
	// overrides (model, iteration/budget knobs) applied to every session
	// started after a reload, without a process restart.
	HotReloadPath string `mapstructure:"hot_reload_path"`
}

// LLMProviderConfig configures a Go-native LLM provider consumed by
// infrastructure/llm.
type LLMProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// RuntimeConfig Agent 运行时参数 (全部可通过 config.yaml 调整)，映射到
// service.EngineConfig 的对应字段。
type RuntimeConfig struct {
	MaxIterations            int           `mapstructure:"max_iterations"`
	TimeoutSeconds            int           `mapstructure:"timeout_seconds"`
	TaskTimeout               time.Duration `mapstructure:"task_timeout"`
	Enable3Strike             bool          `mapstructure:"enable_3_strike"`
	EnableActionSpacePruning  bool          `mapstructure:"enable_action_space_pruning"`
	SkillConfidenceThreshold  float64       `mapstructure:"skill_confidence_threshold"`
	StructuredTaskConfidence  float64       `mapstructure:"structured_task_confidence"`
	BaseBudget                int           `mapstructure:"base_budget"`
	AvailableTimeSeconds       float64       `mapstructure:"available_time_seconds"`
	ContextWindowLimit         int           `mapstructure:"context_window_limit"`
	ContextClearThreshold      int           `mapstructure:"context_clear_threshold"`
	ContextTokenThreshold      int           `mapstructure:"context_token_threshold"`
	MaxParallelTasks           int           `mapstructure:"max_parallel_tasks"`
	MaxParallelTools           int           `mapstructure:"max_parallel_tools"`
	RecentMessagesRetained     int           `mapstructure:"recent_messages_retained"`
	MaxRetries                 int           `mapstructure:"max_retries"`
	RetryBaseWait              time.Duration `mapstructure:"retry_base_wait"`
}

// CheckpointConfig 检查点参数.
type CheckpointConfig struct {
	Interval     int `mapstructure:"interval"`      // M — save every M iterations
	MaxRetained  int `mapstructure:"max_retained"`   // K — evict beyond K
}

// SecurityConfig 工具安全策略配置
type SecurityConfig struct {
	// ApprovalMode: "auto" | "ask_dangerous" | "ask_all"
	ApprovalMode    string        `mapstructure:"approval_mode"`
	DangerousTools  []string      `mapstructure:"dangerous_tools"`
	TrustedTools    []string      `mapstructure:"trusted_tools"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

// ToolsConfig 工具注册表配置
type ToolsConfig struct {
	AllowList []string `mapstructure:"allow_list"`
	DenyList  []string `mapstructure:"deny_list"`
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.agentcore/config.yaml
	globalDir := filepath.Join(os.Getenv("HOME"), ".agentcore")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置 (覆盖层)
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("AGENTCORE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认配置 — 与 service.DefaultEngineConfig() 保持一致。
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "agentcore.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("agent.runtime.max_iterations", 10)
	v.SetDefault("agent.runtime.timeout_seconds", 300)
	v.SetDefault("agent.runtime.task_timeout", "5m")
	v.SetDefault("agent.runtime.enable_3_strike", true)
	v.SetDefault("agent.runtime.enable_action_space_pruning", true)
	v.SetDefault("agent.runtime.skill_confidence_threshold", 0.85)
	v.SetDefault("agent.runtime.structured_task_confidence", 0.70)
	v.SetDefault("agent.runtime.base_budget", 20)
	v.SetDefault("agent.runtime.available_time_seconds", 300)
	v.SetDefault("agent.runtime.context_window_limit", 128000)
	v.SetDefault("agent.runtime.context_clear_threshold", 200)
	v.SetDefault("agent.runtime.context_token_threshold", 100000)
	v.SetDefault("agent.runtime.max_parallel_tasks", 4)
	v.SetDefault("agent.runtime.max_parallel_tools", 4)
	v.SetDefault("agent.runtime.recent_messages_retained", 10)
	v.SetDefault("agent.runtime.max_retries", 3)
	v.SetDefault("agent.runtime.retry_base_wait", "2s")

	v.SetDefault("agent.checkpoint.interval", 5)
	v.SetDefault("agent.checkpoint.max_retained", 3)

	v.SetDefault("agent.security.approval_mode", "ask_dangerous")
	v.SetDefault("agent.security.dangerous_tools", []string{"bash", "write_file", "apply_patch"})
	v.SetDefault("agent.security.trusted_tools", []string{"read_file", "list_dir", "grep_search"})
	v.SetDefault("agent.security.approval_timeout", "5m")
}
