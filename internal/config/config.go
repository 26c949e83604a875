// Package config loads archagent configuration from YAML and ARCHAGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Refinement RefinementConfig `koanf:"refinement"`
	LLM        LLMConfig        `koanf:"llm"`
	Render     RenderConfig     `koanf:"render"`
	Artifacts  ArtifactsConfig  `koanf:"artifacts"`
	RunStore   RunStoreConfig   `koanf:"runstore"`
	Events     EventsConfig     `koanf:"events"`
	Exemplars  ExemplarsConfig  `koanf:"exemplars"`
	Publish    PublishConfig    `koanf:"publish"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	Auth       AuthConfig       `koanf:"auth"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string   `koanf:"host"`
	Port              int      `koanf:"port"`
	ShutdownTimeout   Duration `koanf:"shutdown_timeout"`
	MaxConcurrentRuns int      `koanf:"max_concurrent_runs"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RefinementConfig controls the refinement loop.
type RefinementConfig struct {
	AcceptThreshold  float64  `koanf:"accept_threshold"`
	MaxCycles        int      `koanf:"max_cycles"`
	MaxIterations    int      `koanf:"max_iterations"`
	RefineKeywords   []string `koanf:"refine_keywords"`
	StageTimeout     Duration `koanf:"stage_timeout"`
	MaxArtifactBytes int      `koanf:"max_artifact_bytes"`
}

// LLMConfig selects the model provider used by the generator and validator.
type LLMConfig struct {
	Provider       string   `koanf:"provider"`
	Model          string   `koanf:"model"`
	ValidatorModel string   `koanf:"validator_model"`
	APIKey         Secret   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url"`
	Temperature    float64  `koanf:"temperature"`
	MaxTokens      int      `koanf:"max_tokens"`
	Timeout        Duration `koanf:"timeout"`
	MaxRetries     int      `koanf:"max_retries"`
	RatePerMinute  float64  `koanf:"rate_per_minute"`
	Models         []string `koanf:"models"`
}

// RenderConfig configures the awsdac renderer.
type RenderConfig struct {
	Binary    string   `koanf:"binary"`
	WorkDir   string   `koanf:"work_dir"`
	Timeout   Duration `koanf:"timeout"`
	CacheSize int      `koanf:"cache_size"`
	Lint      bool     `koanf:"lint"`
}

// ArtifactsConfig selects where YAML and diagrams are stored.
type ArtifactsConfig struct {
	Backend     string `koanf:"backend"`
	Path        string `koanf:"path"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3Region    string `koanf:"s3_region"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3AccessKey Secret `koanf:"s3_access_key"`
	S3SecretKey Secret `koanf:"s3_secret_key"`
	S3UseSSL    bool   `koanf:"s3_use_ssl"`
}

// RunStoreConfig selects the run history database.
type RunStoreConfig struct {
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// EventsConfig configures NATS fan-out.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ExemplarsConfig configures retrieval of previously accepted designs.
type ExemplarsConfig struct {
	Enabled          bool    `koanf:"enabled"`
	Backend          string  `koanf:"backend"`
	Path             string  `koanf:"path"`
	Collection       string  `koanf:"collection"`
	K                int     `koanf:"k"`
	MinScore         float64 `koanf:"min_score"`
	EmbeddingBaseURL string  `koanf:"embedding_base_url"`
	EmbeddingModel   string  `koanf:"embedding_model"`
	EmbeddingAPIKey  Secret  `koanf:"embedding_api_key"`
	QdrantHost       string  `koanf:"qdrant_host"`
	QdrantPort       int     `koanf:"qdrant_port"`
	QdrantTLS        bool    `koanf:"qdrant_tls"`
	VectorSize       int     `koanf:"vector_size"`
}

// PublishConfig configures where accepted designs are published.
type PublishConfig struct {
	GitPath       string `koanf:"git_path"`
	GitHubRepo    string `koanf:"github_repo"`
	GitHubBranch  string `koanf:"github_branch"`
	GitHubToken   Secret `koanf:"github_token"`
	GitHubBaseURL string `koanf:"github_base_url"`
}

// TemporalConfig configures the durable worker.
type TemporalConfig struct {
	// Enabled dispatches runs started by serve to Temporal workers instead of running them in-process.
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// AuthConfig configures bearer-token auth on the API.
type AuthConfig struct {
	JWTSecret Secret `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// RedactionConfig configures secret scrubbing of user text.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig is the subset of logging options exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry options exposed to users.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Render.Lint = true
	cfg.Redaction.Enabled = true
	return cfg
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxConcurrentRuns == 0 {
		cfg.Server.MaxConcurrentRuns = 4
	}

	if cfg.Refinement.AcceptThreshold == 0 {
		cfg.Refinement.AcceptThreshold = 90
	}
	if cfg.Refinement.MaxCycles == 0 {
		cfg.Refinement.MaxCycles = 5
	}
	if cfg.Refinement.StageTimeout == 0 {
		cfg.Refinement.StageTimeout = Duration(3 * time.Minute)
	}
	if cfg.Refinement.MaxArtifactBytes == 0 {
		cfg.Refinement.MaxArtifactBytes = 64 * 1024
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-3-5-sonnet-20240620"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2000
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(2 * time.Minute)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RatePerMinute == 0 {
		cfg.LLM.RatePerMinute = 50
	}

	if cfg.Render.Binary == "" {
		cfg.Render.Binary = "awsdac"
	}
	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = Duration(time.Minute)
	}
	if cfg.Render.CacheSize == 0 {
		cfg.Render.CacheSize = 128
	}

	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = "filesystem"
	}
	if cfg.Artifacts.Path == "" {
		cfg.Artifacts.Path = "~/.local/share/archagent/artifacts"
	}
	if cfg.Artifacts.S3Region == "" {
		cfg.Artifacts.S3Region = "us-east-1"
	}

	if cfg.RunStore.Driver == "" {
		cfg.RunStore.Driver = "sqlite"
	}
	if cfg.RunStore.DSN == "" {
		cfg.RunStore.DSN = "file:archagent.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "archagent.runs"
	}

	if cfg.Exemplars.Backend == "" {
		cfg.Exemplars.Backend = "chromem"
	}
	if cfg.Exemplars.Collection == "" {
		cfg.Exemplars.Collection = "accepted_designs"
	}
	if cfg.Exemplars.K == 0 {
		cfg.Exemplars.K = 2
	}
	if cfg.Exemplars.MinScore == 0 {
		cfg.Exemplars.MinScore = 90
	}
	if cfg.Exemplars.EmbeddingBaseURL == "" {
		cfg.Exemplars.EmbeddingBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Exemplars.EmbeddingModel == "" {
		cfg.Exemplars.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Exemplars.QdrantHost == "" {
		cfg.Exemplars.QdrantHost = "localhost"
	}
	if cfg.Exemplars.QdrantPort == 0 {
		cfg.Exemplars.QdrantPort = 6334
	}
	if cfg.Exemplars.VectorSize == 0 {
		cfg.Exemplars.VectorSize = 1536
	}

	if cfg.Publish.GitHubBranch == "" {
		cfg.Publish.GitHubBranch = "main"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "archagent-refinement"
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "archagent"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "archagent"
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port out of range: %d", c.Server.Port)
	check(c.Server.MaxConcurrentRuns > 0, "server.max_concurrent_runs must be > 0")

	check(c.Refinement.AcceptThreshold >= 0 && c.Refinement.AcceptThreshold <= 100,
		"refinement.accept_threshold must be within [0,100], got %v", c.Refinement.AcceptThreshold)
	check(c.Refinement.MaxCycles > 0, "refinement.max_cycles must be > 0")
	check(c.Refinement.MaxIterations >= 0, "refinement.max_iterations must be >= 0")
	for _, kw := range c.Refinement.RefineKeywords {
		check(strings.TrimSpace(kw) != "", "refinement.refine_keywords contains a blank entry")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "gemini":
	default:
		check(false, "llm.provider must be anthropic, openai or gemini, got %q", c.LLM.Provider)
	}
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be within [0,2]")
	check(c.LLM.MaxTokens > 0, "llm.max_tokens must be > 0")
	if c.LLM.BaseURL != "" {
		_, err := url.ParseRequestURI(c.LLM.BaseURL)
		check(err == nil, "llm.base_url is not a valid URL: %q", c.LLM.BaseURL)
	}

	switch c.Artifacts.Backend {
	case "memory", "filesystem":
	case "s3":
		check(c.Artifacts.S3Endpoint != "", "artifacts.s3_endpoint is required for the s3 backend")
		check(c.Artifacts.S3Bucket != "", "artifacts.s3_bucket is required for the s3 backend")
	default:
		check(false, "artifacts.backend must be memory, filesystem or s3, got %q", c.Artifacts.Backend)
	}

	switch c.RunStore.Driver {
	case "sqlite", "postgres":
	default:
		check(false, "runstore.driver must be sqlite or postgres, got %q", c.RunStore.Driver)
	}

	switch c.Exemplars.Backend {
	case "chromem", "qdrant":
	default:
		check(false, "exemplars.backend must be chromem or qdrant, got %q", c.Exemplars.Backend)
	}
	check(c.Exemplars.K >= 0, "exemplars.k must be >= 0")

	if c.Publish.GitHubRepo != "" {
		parts := strings.Split(c.Publish.GitHubRepo, "/")
		check(len(parts) == 2 && parts[0] != "" && parts[1] != "", "publish.github_repo must be owner/name")
		check(c.Publish.GitHubToken.IsSet(), "publish.github_token is required with publish.github_repo")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		check(false, "logging.format must be json or console, got %q", c.Logging.Format)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		check(false, "telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
	}
	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be within [0,1]")

	return errors.Join(errs...)
}
