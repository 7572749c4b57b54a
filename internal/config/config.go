// Package config provides configuration loading and validation for the nsid
// daemon: the MCP-facing server, the workspace/overlay store, the
// verification pipeline defaults, and the symbol/search index.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort         = errors.New("invalid server port")
	ErrInvalidMaxSessions  = errors.New("max concurrent sessions must be positive")
	ErrMissingRepository   = errors.New("repository path must be set")
	ErrInvalidTokenBudget  = errors.New("default max_tokens must be positive")
	ErrInvalidVerifyConfig = errors.New("verify timeout must be positive")
)

// Default configuration values.
const (
	defaultPort            = 7420
	defaultHost            = "127.0.0.1"
	defaultMaxSessions     = 64
	defaultTokenBudget     = 8000
	maxPort                = 65535
	defaultEventBufferSize = 256
)

// Config holds all configuration for the nsid daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Index      IndexConfig      `mapstructure:"index"`
	Changeset  ChangesetConfig  `mapstructure:"changeset"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the MCP/diagnostics server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	DiagnosticsPort int           `mapstructure:"diagnostics_port"`
	MaxSessions     int           `mapstructure:"max_sessions"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	DefaultMaxTokens int          `mapstructure:"default_max_tokens"`
}

// RepositoryConfig points at the git repository this daemon serves
// sessions against.
type RepositoryConfig struct {
	Path string `mapstructure:"path"`
}

// WorkspaceConfig configures where per-session overlays are mirrored to
// disk and how long an idle session's workspace survives.
type WorkspaceConfig struct {
	StateDir   string        `mapstructure:"state_dir"`
	IdleExpiry time.Duration `mapstructure:"idle_expiry"`
}

// IndexConfig configures the symbol/call-graph/search index store.
type IndexConfig struct {
	Path          string `mapstructure:"path"`
	FTSEnabled    bool   `mapstructure:"fts_enabled"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// ChangesetConfig configures the changeset store: its SQLite database and
// the directory the per-repository numbering lock file lives in.
type ChangesetConfig struct {
	Path          string `mapstructure:"path"`
	LockDir       string `mapstructure:"lock_dir"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// VerifyConfig holds defaults for the verification pipeline when a
// changeset's repository carries no .dekode/pipeline.toml.
type VerifyConfig struct {
	WorkflowTimeout time.Duration `mapstructure:"workflow_timeout"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`
	MaxParallelSteps int          `mapstructure:"max_parallel_steps"`
	AllowedCommands []string      `mapstructure:"allowed_commands"`
}

// EventBusConfig controls the bounded per-repository fan-out channels.
type EventBusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables.
// repoPath, when non-empty, overrides repository.path regardless of what a
// config file sets — the caller (cmd/nsid) always knows the repository it
// was invoked against.
func LoadConfig(configPath, repoPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("nsid")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/nsid")
	}

	viperCfg.SetEnvPrefix("NSI")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	if repoPath != "" {
		cfg.Repository.Path = repoPath
	}

	validateErr := validateConfig(&cfg)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.host", defaultHost)
	viperCfg.SetDefault("server.diagnostics_port", defaultPort)
	viperCfg.SetDefault("server.max_sessions", defaultMaxSessions)
	viperCfg.SetDefault("server.session_ttl", "24h")
	viperCfg.SetDefault("server.default_max_tokens", defaultTokenBudget)

	viperCfg.SetDefault("workspace.state_dir", "/var/lib/nsid/workspaces")
	viperCfg.SetDefault("workspace.idle_expiry", "72h")

	viperCfg.SetDefault("index.path", "/var/lib/nsid/index.db")
	viperCfg.SetDefault("index.fts_enabled", true)
	viperCfg.SetDefault("index.busy_timeout_ms", 5000)

	viperCfg.SetDefault("changeset.path", "/var/lib/nsid/changesets.db")
	viperCfg.SetDefault("changeset.lock_dir", "/var/lib/nsid/locks")
	viperCfg.SetDefault("changeset.busy_timeout_ms", 5000)

	viperCfg.SetDefault("verify.workflow_timeout", "15m")
	viperCfg.SetDefault("verify.step_timeout", "5m")
	viperCfg.SetDefault("verify.max_parallel_steps", 4)
	viperCfg.SetDefault("verify.allowed_commands", []string{"go", "cargo", "npm", "pytest", "golangci-lint"})

	viperCfg.SetDefault("event_bus.buffer_size", defaultEventBufferSize)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "json")
	viperCfg.SetDefault("logging.output", "stdout")
}

// validateConfig validates the configuration.
func validateConfig(cfg *Config) error {
	if cfg.Server.DiagnosticsPort <= 0 || cfg.Server.DiagnosticsPort > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Server.DiagnosticsPort)
	}

	if cfg.Server.MaxSessions <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSessions, cfg.Server.MaxSessions)
	}

	if cfg.Repository.Path == "" {
		return ErrMissingRepository
	}

	if cfg.Server.DefaultMaxTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTokenBudget, cfg.Server.DefaultMaxTokens)
	}

	if cfg.Verify.WorkflowTimeout <= 0 || cfg.Verify.StepTimeout <= 0 {
		return ErrInvalidVerifyConfig
	}

	return nil
}
