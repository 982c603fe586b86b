package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/relay/internal/config"
)

// localConfigPath is checked before the user config directory.
const localConfigPath = ".relay/config.yaml"

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	// cfgPath is the file the config was read from, or where it would be
	// written when none existed.
	cfgPath string
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Stream coding agent sessions and stage projects for remote builds",
	Long: `Relay runs coding agent CLIs (claude, codex, gemini, amp) as supervised
processes and streams their normalized output to clients over WebSocket and
server-sent events. It also scaffolds projects as background jobs and stages
them onto disposable git branches that trigger a remote build workflow.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if cfgErr != nil {
			return fmt.Errorf("loading config: %w", cfgErr)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .relay/config.yaml, then ~/.config/relay/config.yaml)")
}

func initConfig() {
	cfg, cfgPath, cfgErr = loadConfig(viper.GetViper(), cfgFile)
}

// loadConfig reads the config into a Config seeded with defaults. When no
// file exists anywhere a commented default is written to the user config
// directory. Environment variables prefixed RELAY_ override file values;
// GITHUB_TOKEN is honored for github.token.
func loadConfig(v *viper.Viper, explicit string) (config.Config, string, error) {
	c := config.Defaults()
	setDefaults(v, c)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github.token", "RELAY_GITHUB_TOKEN", "GITHUB_TOKEN")

	configDir := config.DefaultConfigDir()
	switch {
	case explicit != "":
		v.SetConfigFile(explicit)
	case fileExists(localConfigPath):
		v.SetConfigFile(localConfigPath)
	default:
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	path := explicit
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, path, err
		}
		// Nothing anywhere: write a default the operator can edit.
		path = filepath.Join(configDir, "config.yaml")
		if writeErr := config.WriteDefaultConfig(path); writeErr == nil {
			v.SetConfigFile(path)
			_ = v.ReadInConfig()
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		path = used
		configDir = filepath.Dir(used)
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, path, fmt.Errorf("decoding config: %w", err)
	}
	c.ResolvePaths(configDir)

	if err := c.Validate(); err != nil {
		return c, path, err
	}
	return c, path, nil
}

// setDefaults registers scalar keys so AutomaticEnv can override them.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)
	v.SetDefault("server.availability_ttl", d.Server.AvailabilityTTL)
	v.SetDefault("projects.base_path", d.Projects.BasePath)
	v.SetDefault("projects.workspace", d.Projects.Workspace)
	v.SetDefault("projects.staging_dir", d.Projects.StagingDir)
	v.SetDefault("projects.max_size_mb", d.Projects.MaxSizeMB)
	v.SetDefault("projects.expo_owner", d.Projects.ExpoOwner)
	v.SetDefault("projects.bundle_prefix", d.Projects.BundlePrefix)
	v.SetDefault("projects.scaffold_timeout", d.Projects.ScaffoldTimeout)
	v.SetDefault("jobs.log_capacity", d.Jobs.LogCapacity)
	v.SetDefault("jobs.snapshot_tail", d.Jobs.SnapshotTail)
	v.SetDefault("jobs.retention", d.Jobs.Retention)
	v.SetDefault("staging.base_branch", d.Staging.BaseBranch)
	v.SetDefault("staging.push_attempts", d.Staging.PushAttempts)
	v.SetDefault("staging.push_backoff", d.Staging.PushBackoff)
	v.SetDefault("staging.git_user_name", d.Staging.GitUserName)
	v.SetDefault("staging.git_user_email", d.Staging.GitUserEmail)
	v.SetDefault("staging.git_timeout", d.Staging.GitTimeout)
	v.SetDefault("staging.push_timeout", d.Staging.PushTimeout)
	v.SetDefault("github.owner", d.GitHub.Owner)
	v.SetDefault("github.repo", d.GitHub.Repo)
	v.SetDefault("github.workflow", d.GitHub.Workflow)
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("ledger.driver", d.Ledger.Driver)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("classifier.rules_file", d.Classifier.RulesFile)
	v.SetDefault("classifier.watch", d.Classifier.Watch)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("dispatcher.queue_capacity", d.Dispatcher.QueueCapacity)
	v.SetDefault("command.timeout", d.Command.Timeout)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
