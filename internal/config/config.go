package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultMaxTurns is the turn budget applied when a request omits one.
	DefaultMaxTurns = 15
	// MaxTurnsCap bounds client-requested turn budgets.
	MaxTurnsCap = 50
	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 300 * time.Second
	// DefaultOracleTimeout bounds a single oracle request.
	DefaultOracleTimeout = 60 * time.Second
	// DefaultJobTTLSeconds is how long finished jobs linger before cleanup.
	DefaultJobTTLSeconds = 300
	// DefaultJobDeadlineSeconds is the hard wall-clock limit on a job.
	DefaultJobDeadlineSeconds = 1800
)

// OracleConfig selects and tunes the reasoning model.
type OracleConfig struct {
	Provider      string  `mapstructure:"provider"`
	Model         string  `mapstructure:"model"`
	APIKey        string  `mapstructure:"api_key"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	PromptVersion string  `mapstructure:"prompt_version"`
	Timeout       time.Duration
}

// WorkerConfig is everything the worker process reads from its environment.
type WorkerConfig struct {
	Goal        string        `mapstructure:"goal"`
	MaxTurns    int           `mapstructure:"max_turns"`
	ResultsDir  string        `mapstructure:"results_dir"`
	ToolsDir    string        `mapstructure:"tools_dir"`
	LogLevel    string        `mapstructure:"log_level"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	ReplySchema string        `mapstructure:"reply_schema"`
	Oracle      OracleConfig  `mapstructure:"oracle"`
}

// ServerConfig is everything the control plane reads at startup.
type ServerConfig struct {
	ListenAddr         string `mapstructure:"listen_addr"`
	Namespace          string `mapstructure:"namespace"`
	WorkerImage        string `mapstructure:"worker_image"`
	ResultsDir         string `mapstructure:"results_dir"`
	LogLevel           string `mapstructure:"log_level"`
	LogFile            string `mapstructure:"log_file"`
	EnableCORS         bool   `mapstructure:"enable_cors"`
	Kubeconfig         string `mapstructure:"kubeconfig"`
	JobTTLSeconds      int32  `mapstructure:"job_ttl_seconds"`
	JobDeadlineSeconds int64  `mapstructure:"job_deadline_seconds"`
	Oracle             OracleConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func bindOracle(v *viper.Viper) {
	_ = v.BindEnv("oracle.provider", "UFFLOW_LLM_PROVIDER")
	_ = v.BindEnv("oracle.model", "UFFLOW_LLM_MODEL")
	_ = v.BindEnv("oracle.temperature", "UFFLOW_TEMPERATURE")
	_ = v.BindEnv("oracle.max_tokens", "UFFLOW_MAX_TOKENS")
	_ = v.BindEnv("oracle.prompt_version", "UFFLOW_PROMPT_VERSION")
	_ = v.BindEnv("oracle.anthropic_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("oracle.openai_key", "OPENAI_API_KEY")

	v.SetDefault("oracle.provider", "anthropic")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.prompt_version", "v3")
}

func oracleFrom(v *viper.Viper) OracleConfig {
	cfg := OracleConfig{
		Provider:      strings.ToLower(strings.TrimSpace(v.GetString("oracle.provider"))),
		Model:         v.GetString("oracle.model"),
		Temperature:   v.GetFloat64("oracle.temperature"),
		MaxTokens:     v.GetInt("oracle.max_tokens"),
		PromptVersion: v.GetString("oracle.prompt_version"),
		Timeout:       DefaultOracleTimeout,
	}
	switch cfg.Provider {
	case "openai":
		cfg.APIKey = v.GetString("oracle.openai_key")
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
	default:
		cfg.APIKey = v.GetString("oracle.anthropic_key")
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-20250514"
		}
	}
	return cfg
}

// LoadWorker builds the worker configuration from process environment.
func LoadWorker() (*WorkerConfig, error) {
	v := newViper()

	_ = v.BindEnv("goal", "OATS_GOAL")
	_ = v.BindEnv("max_turns", "OATS_MAX_TURNS")
	_ = v.BindEnv("results_dir", "OATS_RESULTS_DIR")
	_ = v.BindEnv("tools_dir", "OATS_TOOLS_DIR")
	_ = v.BindEnv("log_level", "UFFLOW_LOG_LEVEL")
	_ = v.BindEnv("reply_schema", "UFFLOW_REPLY_SCHEMA")
	bindOracle(v)

	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("results_dir", "/var/oats/results")
	v.SetDefault("tools_dir", "/etc/oats/tools")
	v.SetDefault("log_level", "info")
	v.SetDefault("reply_schema", "auto")

	cfg := &WorkerConfig{
		Goal:        strings.TrimSpace(v.GetString("goal")),
		MaxTurns:    v.GetInt("max_turns"),
		ResultsDir:  v.GetString("results_dir"),
		ToolsDir:    v.GetString("tools_dir"),
		LogLevel:    v.GetString("log_level"),
		ToolTimeout: DefaultToolTimeout,
		ReplySchema: strings.ToLower(v.GetString("reply_schema")),
		Oracle:      oracleFrom(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every violation at once.
func (c *WorkerConfig) Validate() error {
	var errs []error
	if c.Goal == "" {
		errs = append(errs, fmt.Errorf("OATS_GOAL is required"))
	}
	if c.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("OATS_MAX_TURNS must be at least 1, got %d", c.MaxTurns))
	}
	if c.MaxTurns > MaxTurnsCap {
		errs = append(errs, fmt.Errorf("OATS_MAX_TURNS must be at most %d, got %d", MaxTurnsCap, c.MaxTurns))
	}
	switch c.ReplySchema {
	case "auto", "rsa", "legacy":
	default:
		errs = append(errs, fmt.Errorf("UFFLOW_REPLY_SCHEMA must be auto, rsa or legacy, got %q", c.ReplySchema))
	}
	if err := c.Oracle.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks provider selection and credentials.
func (c *OracleConfig) Validate() error {
	var errs []error
	switch c.Provider {
	case "anthropic", "openai":
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("UFFLOW_LLM_PROVIDER must be anthropic or openai, got %q", c.Provider))
	}
	if c.Provider != "mock" && c.APIKey == "" {
		errs = append(errs, fmt.Errorf("missing API key for provider %q", c.Provider))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("UFFLOW_TEMPERATURE must be within [0, 2], got %v", c.Temperature))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("UFFLOW_MAX_TOKENS must be positive, got %d", c.MaxTokens))
	}
	return errors.Join(errs...)
}

// LoadServer builds the control-plane configuration. An explicit config file
// takes precedence over environment variables, which beat defaults.
func LoadServer(configFile string) (*ServerConfig, error) {
	v := newViper()

	_ = v.BindEnv("listen_addr", "OATS_LISTEN_ADDR")
	_ = v.BindEnv("namespace", "OATS_NAMESPACE")
	_ = v.BindEnv("worker_image", "OATS_WORKER_IMAGE")
	_ = v.BindEnv("results_dir", "OATS_RESULTS_DIR")
	_ = v.BindEnv("log_level", "UFFLOW_LOG_LEVEL")
	_ = v.BindEnv("log_file", "OATS_LOG_FILE")
	_ = v.BindEnv("kubeconfig", "KUBECONFIG")
	bindOracle(v)

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("namespace", "oats")
	v.SetDefault("results_dir", "/var/oats/results")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_cors", true)
	v.SetDefault("job_ttl_seconds", DefaultJobTTLSeconds)
	v.SetDefault("job_deadline_seconds", DefaultJobDeadlineSeconds)

	if configFile != "" {
		file := viper.New()
		file.SetConfigFile(configFile)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
		for _, key := range file.AllKeys() {
			v.Set(key, file.Get(key))
		}
	}

	cfg := &ServerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	cfg.Oracle = oracleFrom(v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every violation at once.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen address must not be empty"))
	}
	if c.Namespace == "" {
		errs = append(errs, fmt.Errorf("namespace must not be empty"))
	}
	if c.WorkerImage == "" {
		errs = append(errs, fmt.Errorf("OATS_WORKER_IMAGE is required"))
	}
	if c.JobTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("job TTL must not be negative, got %d", c.JobTTLSeconds))
	}
	if c.JobDeadlineSeconds < 1 {
		errs = append(errs, fmt.Errorf("job deadline must be positive, got %d", c.JobDeadlineSeconds))
	}
	return errors.Join(errs...)
}
