package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config file path inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", appDir)
	require.NoError(t, os.MkdirAll(dir, 0700))
	return filepath.Join(dir, "config.yaml")
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chmod(path, 0600))
}

func TestLoad_Defaults(t *testing.T) {
	path := setupTestHome(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxConcurrentRuns)
	assert.Equal(t, 90.0, cfg.Refinement.AcceptThreshold)
	assert.Equal(t, 5, cfg.Refinement.MaxCycles)
	assert.Equal(t, 3*time.Minute, cfg.Refinement.StageTimeout.Duration())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, "awsdac", cfg.Render.Binary)
	assert.True(t, cfg.Render.Lint)
	assert.True(t, cfg.Redaction.Enabled)
	assert.Equal(t, "sqlite", cfg.RunStore.Driver)
	assert.Equal(t, "archagent-refinement", cfg.Temporal.TaskQueue)
}

func TestLoad_File(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, `
server:
  port: 9090
refinement:
  accept_threshold: 85
  max_cycles: 3
  refine_keywords: [missing, "single point of failure"]
  stage_timeout: 45s
llm:
  provider: openai
  model: gpt-4o
  api_key: sk-test
render:
  lint: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 85.0, cfg.Refinement.AcceptThreshold)
	assert.Equal(t, 3, cfg.Refinement.MaxCycles)
	assert.Equal(t, []string{"missing", "single point of failure"}, cfg.Refinement.RefineKeywords)
	assert.Equal(t, 45*time.Second, cfg.Refinement.StageTimeout.Duration())
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey.Value())
	assert.False(t, cfg.Render.Lint)
	// Unset values still get defaults.
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, "server:\n  port: 9090\n")

	t.Setenv("ARCHAGENT_SERVER_PORT", "7070")
	t.Setenv("ARCHAGENT_REFINEMENT_MAX_CYCLES", "2")
	t.Setenv("ARCHAGENT_REFINEMENT_REFINE_KEYWORDS", "improve,missing")
	t.Setenv("ARCHAGENT_LLM_API_KEY", "sk-ant-from-env")
	t.Setenv("ARCHAGENT_EVENTS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Refinement.MaxCycles)
	assert.Equal(t, []string{"improve", "missing"}, cfg.Refinement.RefineKeywords)
	assert.Equal(t, "sk-ant-from-env", cfg.LLM.APIKey.Value())
	assert.True(t, cfg.Events.Enabled)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	path := setupTestHome(t)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))
	require.NoError(t, os.Chmod(path, 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_PathOutsideConfigDir(t *testing.T) {
	setupTestHome(t)
	other := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, other, "server:\n  port: 9090\n")

	_, err := Load(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file must be in")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, `
llm:
  provider: cohere
artifacts:
  backend: s3
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "artifacts.s3_endpoint")
	assert.Contains(t, err.Error(), "artifacts.s3_bucket")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"threshold", func(c *Config) { c.Refinement.AcceptThreshold = 120 }, "accept_threshold"},
		{"negative iterations", func(c *Config) { c.Refinement.MaxIterations = -1 }, "max_iterations"},
		{"blank keyword", func(c *Config) { c.Refinement.RefineKeywords = []string{"ok", "  "} }, "blank entry"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"base url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "base_url"},
		{"runstore", func(c *Config) { c.RunStore.Driver = "mysql" }, "runstore.driver"},
		{"exemplars", func(c *Config) { c.Exemplars.Backend = "pinecone" }, "exemplars.backend"},
		{"github repo", func(c *Config) {
			c.Publish.GitHubRepo = "justname"
			c.Publish.GitHubToken = "ghp_x"
		}, "owner/name"},
		{"github token", func(c *Config) { c.Publish.GitHubRepo = "acme/designs" }, "github_token"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "thrift" }, "telemetry.protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())

	b, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "llm.api_key", envKey("ARCHAGENT_LLM_API_KEY"))
	assert.Equal(t, "refinement.max_cycles", envKey("ARCHAGENT_REFINEMENT_MAX_CYCLES"))
	assert.Equal(t, "debug", envKey("ARCHAGENT_DEBUG"))
}

func TestEnvValue_SplitsListKeys(t *testing.T) {
	key, value := envValue("ARCHAGENT_REFINEMENT_REFINE_KEYWORDS", " improve, missing ,,consider ")
	assert.Equal(t, "refinement.refine_keywords", key)
	assert.Equal(t, []string{"improve", "missing", "consider"}, value)

	key, value = envValue("ARCHAGENT_LLM_MODELS", "gpt-4o")
	assert.Equal(t, "llm.models", key)
	assert.Equal(t, []string{"gpt-4o"}, value)

	key, value = envValue("ARCHAGENT_LLM_API_KEY", "a,b")
	assert.Equal(t, "llm.api_key", key)
	assert.Equal(t, "a,b", value, "scalar values keep their commas")
}

func TestLoad_EnvListReplacesFileList(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, "refinement:\n  refine_keywords: [improve, missing, consider]\n")

	t.Setenv("ARCHAGENT_REFINEMENT_REFINE_KEYWORDS", "lacks,should")
	t.Setenv("ARCHAGENT_LLM_MODELS", "gpt-4o,gemini-1.5-pro")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lacks", "should"}, cfg.Refinement.RefineKeywords)
	assert.Equal(t, []string{"gpt-4o", "gemini-1.5-pro"}, cfg.LLM.Models)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, "refinement:\n  max_cycles: 3\n")

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, func(c *Config) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeConfig(t, path, "refinement:\n  max_cycles: 7\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Refinement.MaxCycles == 7
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_InvalidReloadReportsError(t *testing.T) {
	path := setupTestHome(t)
	writeConfig(t, path, "refinement:\n  max_cycles: 3\n")

	errCh := make(chan error, 4)
	w, err := NewWatcher(path, func(*Config) {
		t.Error("reload should not be delivered for an invalid file")
	}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeConfig(t, path, "llm:\n  provider: cohere\n")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload error")
	}
}
