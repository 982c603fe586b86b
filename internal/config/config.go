// Package config provides configuration types, defaults and validation for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/command"
	"github.com/zjrosen/relay/internal/git"
	"github.com/zjrosen/relay/internal/github"
	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/processor"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
	"github.com/zjrosen/relay/internal/staging"
)

// Ledger drivers accepted in LedgerConfig.Driver.
const (
	LedgerDriverFile   = "file"
	LedgerDriverSQLite = "sqlite"
)

// Config holds all configuration options for relay.
type Config struct {
	Server     ServerConfig                         `mapstructure:"server"`
	Projects   ProjectsConfig                       `mapstructure:"projects"`
	Providers  map[client.ClientType]ProviderConfig `mapstructure:"providers"`
	Jobs       JobsConfig                           `mapstructure:"jobs"`
	Staging    StagingConfig                        `mapstructure:"staging"`
	GitHub     github.Config                        `mapstructure:"github"`
	Ledger     LedgerConfig                         `mapstructure:"ledger"`
	Classifier ClassifierConfig                     `mapstructure:"classifier"`
	Tracing    tracing.Config                       `mapstructure:"tracing"`
	Dispatcher DispatcherConfig                     `mapstructure:"dispatcher"`
	Command    CommandConfig                        `mapstructure:"command"`
	Log        LogConfig                            `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Heartbeat is the SSE/WebSocket keepalive interval.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// AvailabilityTTL caches provider binary lookups.
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl"`
}

// ProjectsConfig locates user projects and the shared build checkout.
type ProjectsConfig struct {
	BasePath string `mapstructure:"base_path"`
	// Workspace is the git checkout that staging branches are cut from.
	Workspace     string   `mapstructure:"workspace"`
	StagingDir    string   `mapstructure:"staging_dir"`
	MaxSizeMB     int      `mapstructure:"max_size_mb"`
	Excludes      []string `mapstructure:"excludes"`
	RequiredFiles []string `mapstructure:"required_files"`
	ExpoOwner     string   `mapstructure:"expo_owner"`
	BundlePrefix  string   `mapstructure:"bundle_prefix"`
	// ScaffoldTimeout bounds the project template command.
	ScaffoldTimeout time.Duration `mapstructure:"scaffold_timeout"`
}

// ProviderConfig is the operator configuration for one agent CLI.
type ProviderConfig struct {
	Executable string   `mapstructure:"executable"`
	Model      string   `mapstructure:"model"`
	Env        []string `mapstructure:"env"`
}

// JobsConfig configures the background job supervisor.
type JobsConfig struct {
	LogCapacity  int           `mapstructure:"log_capacity"`
	SnapshotTail int           `mapstructure:"snapshot_tail"`
	Retention    time.Duration `mapstructure:"retention"`
}

// StagingConfig configures how projects are pushed to build branches.
type StagingConfig struct {
	BaseBranch   string        `mapstructure:"base_branch"`
	PushAttempts int           `mapstructure:"push_attempts"`
	PushBackoff  time.Duration `mapstructure:"push_backoff"`
	GitUserName  string        `mapstructure:"git_user_name"`
	GitUserEmail string        `mapstructure:"git_user_email"`
	// GitTimeout bounds local git commands, PushTimeout bounds git push.
	GitTimeout  time.Duration `mapstructure:"git_timeout"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
}

// LedgerConfig selects where rollback failures are recorded.
type LedgerConfig struct {
	Driver string `mapstructure:"driver"` // "file" (default) or "sqlite"
	Path   string `mapstructure:"path"`
}

// ClassifierConfig points at an optional stderr rules file.
type ClassifierConfig struct {
	RulesFile string `mapstructure:"rules_file"`
	// Watch reloads the rules file when it changes.
	Watch bool `mapstructure:"watch"`
}

// DispatcherConfig sizes the single-goroutine command queue.
type DispatcherConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// CommandConfig configures synchronous command execution for jobs.
type CommandConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Allowed []string      `mapstructure:"allowed"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:3001",
			Heartbeat:       15 * time.Second,
			AvailabilityTTL: 30 * time.Second,
		},
		Projects: ProjectsConfig{
			BasePath:        "", // Derived from the home directory at runtime
			Workspace:       ".",
			StagingDir:      staging.DefaultStagingDir,
			MaxSizeMB:       staging.DefaultMaxSizeBytes >> 20,
			Excludes:        append([]string(nil), staging.DefaultExcludes...),
			RequiredFiles:   append([]string(nil), staging.DefaultRequiredFiles...),
			BundlePrefix:    jobs.DefaultBundlePrefix,
			ScaffoldTimeout: jobs.DefaultScaffoldTimeout,
		},
		Providers: map[client.ClientType]ProviderConfig{},
		Jobs: JobsConfig{
			LogCapacity:  jobs.DefaultLogCapacity,
			SnapshotTail: jobs.DefaultSnapshotTail,
			Retention:    jobs.DefaultRetention,
		},
		Staging: StagingConfig{
			BaseBranch:   staging.DefaultBaseBranch,
			PushAttempts: staging.DefaultPushAttempts,
			PushBackoff:  staging.DefaultPushBackoff,
			GitUserName:  "relay",
			GitUserEmail: "relay@localhost",
			GitTimeout:   git.DefaultTimeout,
			PushTimeout:  git.DefaultPushTimeout,
		},
		GitHub: github.Config{
			Workflow: github.DefaultWorkflow,
			APIURL:   github.DefaultAPIURL,
		},
		Ledger: LedgerConfig{
			Driver: LedgerDriverFile,
			Path:   "", // Derived from config dir at runtime
		},
		Tracing: tracing.DefaultConfig(),
		Dispatcher: DispatcherConfig{
			QueueCapacity: processor.DefaultQueueCapacity,
		},
		Command: CommandConfig{
			Timeout: command.DefaultTimeout,
			Allowed: append([]string(nil), command.DefaultAllowed...),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ProviderConfigs converts the configured providers to client configs.
func (c Config) ProviderConfigs() map[client.ClientType]client.ProviderConfig {
	out := make(map[client.ClientType]client.ProviderConfig, len(c.Providers))
	for t, p := range c.Providers {
		out[t] = client.ProviderConfig{
			Executable: p.Executable,
			Model:      p.Model,
			Env:        p.Env,
		}
	}
	return out
}

// MaxSizeBytes returns the staging size ceiling in bytes.
func (p ProjectsConfig) MaxSizeBytes() int64 {
	return int64(p.MaxSizeMB) << 20
}

// Validate checks every section and returns the first error found.
func (c Config) Validate() error {
	if err := ValidateServer(c.Server); err != nil {
		return err
	}
	if err := ValidateProjects(c.Projects); err != nil {
		return err
	}
	if err := ValidateProviders(c.Providers); err != nil {
		return err
	}
	if err := ValidateJobs(c.Jobs); err != nil {
		return err
	}
	if err := ValidateStaging(c.Staging); err != nil {
		return err
	}
	if err := ValidateLedger(c.Ledger); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if c.Dispatcher.QueueCapacity < 0 {
		return fmt.Errorf("dispatcher.queue_capacity must not be negative, got %d", c.Dispatcher.QueueCapacity)
	}
	if c.Command.Timeout < 0 {
		return fmt.Errorf("command.timeout must not be negative, got %s", c.Command.Timeout)
	}
	return nil
}

// ValidateServer checks the server section.
func ValidateServer(s ServerConfig) error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if s.Heartbeat < 0 {
		return fmt.Errorf("server.heartbeat must not be negative, got %s", s.Heartbeat)
	}
	return nil
}

// ValidateProjects checks the projects section.
func ValidateProjects(p ProjectsConfig) error {
	if p.MaxSizeMB < 0 {
		return fmt.Errorf("projects.max_size_mb must not be negative, got %d", p.MaxSizeMB)
	}
	if p.StagingDir != "" {
		if filepath.IsAbs(p.StagingDir) || strings.Contains(p.StagingDir, "..") {
			return fmt.Errorf("projects.staging_dir must be a relative path inside the workspace, got %q", p.StagingDir)
		}
	}
	return nil
}

// ValidateProviders checks that every configured provider is known.
func ValidateProviders(providers map[client.ClientType]ProviderConfig) error {
	for t, p := range providers {
		if !client.IsRegistered(t) {
			return fmt.Errorf("providers.%s: unknown provider", t)
		}
		for _, kv := range p.Env {
			if !strings.Contains(kv, "=") {
				return fmt.Errorf("providers.%s.env entry %q must be KEY=VALUE", t, kv)
			}
		}
	}
	return nil
}

// ValidateJobs checks the jobs section.
func ValidateJobs(j JobsConfig) error {
	if j.LogCapacity < 0 {
		return fmt.Errorf("jobs.log_capacity must not be negative, got %d", j.LogCapacity)
	}
	if j.SnapshotTail < 0 {
		return fmt.Errorf("jobs.snapshot_tail must not be negative, got %d", j.SnapshotTail)
	}
	if j.LogCapacity > 0 && j.SnapshotTail > j.LogCapacity {
		return fmt.Errorf("jobs.snapshot_tail (%d) must not exceed jobs.log_capacity (%d)", j.SnapshotTail, j.LogCapacity)
	}
	return nil
}

// ValidateStaging checks the staging section.
func ValidateStaging(s StagingConfig) error {
	if s.PushAttempts < 0 {
		return fmt.Errorf("staging.push_attempts must not be negative, got %d", s.PushAttempts)
	}
	if s.PushBackoff < 0 {
		return fmt.Errorf("staging.push_backoff must not be negative, got %s", s.PushBackoff)
	}
	if s.GitTimeout < 0 || s.PushTimeout < 0 {
		return fmt.Errorf("staging git timeouts must not be negative")
	}
	if strings.ContainsAny(s.BaseBranch, " ~^:") {
		return fmt.Errorf("staging.base_branch %q is not a valid branch name", s.BaseBranch)
	}
	return nil
}

// ValidateLedger checks the ledger section.
func ValidateLedger(l LedgerConfig) error {
	switch l.Driver {
	case "", LedgerDriverFile, LedgerDriverSQLite:
		return nil
	default:
		return fmt.Errorf("ledger.driver must be %q or %q, got %q", LedgerDriverFile, LedgerDriverSQLite, l.Driver)
	}
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Path requirements only matter when tracing is on
	if t.Enabled {
		if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigDir returns ~/.config/relay, or .relay when the home
// directory cannot be resolved.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".config", "relay")
}

// DefaultProjectsPath returns ~/relay-projects.
func DefaultProjectsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay-projects"
	}
	return filepath.Join(home, "relay-projects")
}

// ResolvePaths fills runtime-derived paths left empty in the file.
func (c *Config) ResolvePaths(configDir string) {
	if c.Projects.BasePath == "" {
		c.Projects.BasePath = DefaultProjectsPath()
	}
	if c.Ledger.Path == "" {
		name := "ledger.json"
		if c.Ledger.Driver == LedgerDriverSQLite {
			name = "ledger.db"
		}
		c.Ledger.Path = filepath.Join(configDir, name)
	}
	if c.Tracing.FilePath == "" {
		c.Tracing.FilePath = filepath.Join(configDir, "traces", "traces.jsonl")
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Relay Configuration

# HTTP surface
server:
  addr: 127.0.0.1:3001
  heartbeat: 15s          # SSE/WebSocket keepalive interval
  # availability_ttl: 30s # Cache provider binary lookups

# User projects and the shared build checkout
projects:
  # base_path: ~/relay-projects  # Where projects live (default: ~/relay-projects)
  workspace: .                   # Git checkout that build branches are cut from
  staging_dir: temp-builds       # Directory inside the workspace projects are copied into
  max_size_mb: 50                # Reject projects larger than this (excluded dirs not counted)
  # excludes: [node_modules, .git, android, ios, .expo, .expo-shared]
  # required_files: [package.json, app.json]
  # expo_owner: my-expo-account
  # bundle_prefix: com.relay
  # scaffold_timeout: 10m

# Agent CLIs (claude, codex, gemini, amp)
# providers:
#   claude:
#     executable: /usr/local/bin/claude
#     model: opus
#   amp:
#     env:
#       - AMP_API_KEY=...

# Background jobs
jobs:
  log_capacity: 100   # Output lines kept per job
  snapshot_tail: 10   # Output lines included in a status snapshot
  retention: 10m      # How long finished jobs stay queryable

# Git staging
staging:
  base_branch: main
  push_attempts: 3
  push_backoff: 1s    # Retry n waits n * push_backoff
  git_user_name: relay
  git_user_email: relay@localhost
  # git_timeout: 30s   # Local git commands
  # push_timeout: 2m   # git push

# GitHub repository that runs the build workflow
# The token is better supplied through GITHUB_TOKEN
github:
  # owner: my-org
  # repo: build-farm
  workflow: gradle-build-android.yml
  # api_url: https://api.github.com

# Failure ledger for rollback steps that could not complete
ledger:
  driver: file        # file (default) or sqlite
  # path: ~/.config/relay/ledger.json

# Stderr classification rules (YAML with progress and errors lists)
# classifier:
#   rules_file: ~/.config/relay/classifier.yaml
#   watch: true       # Reload on change

# Distributed tracing configuration
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/relay/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# dispatcher:
#   queue_capacity: 1000

# Commands run by jobs
# command:
#   timeout: 2m
#   allowed: [npx create-expo-app, git init, ...]

# log:
#   path: ~/.config/relay/relay.log
#   level: info
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
