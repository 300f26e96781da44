package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OATS_GOAL", "why is checkout-api crashlooping")
	t.Setenv("UFFLOW_LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
}

func TestLoadWorkerDefaults(t *testing.T) {
	setWorkerEnv(t)

	cfg, err := LoadWorker()
	require.NoError(t, err)
	require.Equal(t, "why is checkout-api crashlooping", cfg.Goal)
	require.Equal(t, DefaultMaxTurns, cfg.MaxTurns)
	require.Equal(t, "/var/oats/results", cfg.ResultsDir)
	require.Equal(t, "/etc/oats/tools", cfg.ToolsDir)
	require.Equal(t, "auto", cfg.ReplySchema)
	require.Equal(t, DefaultToolTimeout, cfg.ToolTimeout)

	require.Equal(t, "anthropic", cfg.Oracle.Provider)
	require.Equal(t, "claude-sonnet-4-20250514", cfg.Oracle.Model)
	require.Equal(t, "test-key", cfg.Oracle.APIKey)
	require.Equal(t, 0.2, cfg.Oracle.Temperature)
	require.Equal(t, 4096, cfg.Oracle.MaxTokens)
	require.Equal(t, "v3", cfg.Oracle.PromptVersion)
	require.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
}

func TestLoadWorkerEnvOverrides(t *testing.T) {
	setWorkerEnv(t)
	t.Setenv("OATS_MAX_TURNS", "25")
	t.Setenv("UFFLOW_REPLY_SCHEMA", "RSA")
	t.Setenv("UFFLOW_LLM_MODEL", "claude-opus-4-20250514")
	t.Setenv("UFFLOW_TEMPERATURE", "0.7")
	t.Setenv("UFFLOW_PROMPT_VERSION", "v2")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	require.Equal(t, 25, cfg.MaxTurns)
	require.Equal(t, "rsa", cfg.ReplySchema, "schema names are lowercased")
	require.Equal(t, "claude-opus-4-20250514", cfg.Oracle.Model)
	require.Equal(t, 0.7, cfg.Oracle.Temperature)
	require.Equal(t, "v2", cfg.Oracle.PromptVersion)
}

func TestLoadWorkerOpenAIKeySelection(t *testing.T) {
	t.Setenv("OATS_GOAL", "g")
	t.Setenv("UFFLOW_LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "wrong-key")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Oracle.Provider)
	require.Equal(t, "sk-test", cfg.Oracle.APIKey)
	require.Equal(t, "gpt-4o", cfg.Oracle.Model)
}

func TestLoadWorkerMissingGoal(t *testing.T) {
	t.Setenv("OATS_GOAL", "")
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")

	_, err := LoadWorker()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OATS_GOAL is required")
}

func TestLoadWorkerMockProviderNeedsNoKey(t *testing.T) {
	t.Setenv("OATS_GOAL", "g")
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	require.Equal(t, "mock", cfg.Oracle.Provider)
}

func TestWorkerValidateCollectsAllViolations(t *testing.T) {
	t.Parallel()

	cfg := &WorkerConfig{
		Goal:        "",
		MaxTurns:    0,
		ReplySchema: "haiku",
		Oracle:      OracleConfig{Provider: "carrier-pigeon", Temperature: 3, MaxTokens: 0},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{
		"OATS_GOAL is required",
		"OATS_MAX_TURNS must be at least 1",
		"UFFLOW_REPLY_SCHEMA must be auto, rsa or legacy",
		"UFFLOW_LLM_PROVIDER must be anthropic or openai",
		"UFFLOW_TEMPERATURE must be within [0, 2]",
		"UFFLOW_MAX_TOKENS must be positive",
	} {
		require.Contains(t, err.Error(), fragment)
	}
}

func TestWorkerValidateTurnCap(t *testing.T) {
	t.Parallel()

	cfg := &WorkerConfig{
		Goal:        "g",
		MaxTurns:    51,
		ReplySchema: "auto",
		Oracle:      OracleConfig{Provider: "mock", Temperature: 0.2, MaxTokens: 100},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "at most 50")
}

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("OATS_WORKER_IMAGE", "registry.local/oats-worker:v1")
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")

	cfg, err := LoadServer("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "oats", cfg.Namespace)
	require.Equal(t, "registry.local/oats-worker:v1", cfg.WorkerImage)
	require.True(t, cfg.EnableCORS)
	require.Equal(t, int32(DefaultJobTTLSeconds), cfg.JobTTLSeconds)
	require.Equal(t, int64(DefaultJobDeadlineSeconds), cfg.JobDeadlineSeconds)
}

func TestLoadServerMissingWorkerImage(t *testing.T) {
	t.Setenv("OATS_WORKER_IMAGE", "")
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")

	_, err := LoadServer("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "OATS_WORKER_IMAGE is required")
}

func TestLoadServerConfigFile(t *testing.T) {
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")

	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
namespace: sre-tools
worker_image: registry.local/oats-worker:v2
job_ttl_seconds: 120
job_deadline_seconds: 600
enable_cors: false
`), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "sre-tools", cfg.Namespace)
	require.Equal(t, "registry.local/oats-worker:v2", cfg.WorkerImage)
	require.Equal(t, int32(120), cfg.JobTTLSeconds)
	require.Equal(t, int64(600), cfg.JobDeadlineSeconds)
	require.False(t, cfg.EnableCORS)
}

func TestLoadServerUnreadableConfigFile(t *testing.T) {
	t.Setenv("OATS_WORKER_IMAGE", "img")
	t.Setenv("UFFLOW_LLM_PROVIDER", "mock")

	_, err := LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config file")
}
