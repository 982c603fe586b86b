package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/config"
	"github.com/zjrosen/relay/internal/git"
	"github.com/zjrosen/relay/internal/github"
	"github.com/zjrosen/relay/internal/infrastructure/sqlite"
	"github.com/zjrosen/relay/internal/ledger"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/classify"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/staging"
)

// setupLogging installs the global logger. With no log path entries go to
// stderr. The returned cleanup is always safe to call.
func setupLogging(c config.Config, debug bool) (func(), error) {
	level := log.ParseLevel(c.Log.Level)
	if debug || os.Getenv("RELAY_DEBUG") != "" {
		level = log.LevelDebug
	}

	if c.Log.Path == "" {
		log.InitWriter(os.Stderr, level)
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.Log.Path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	cleanup, err := log.Init(c.Log.Path)
	if err != nil {
		return nil, err
	}
	log.SetMinLevel(level)
	return cleanup, nil
}

// openLedger opens the configured failure ledger. The closer releases the
// database for the sqlite driver and is a no-op otherwise.
func openLedger(c config.LedgerConfig) (ledger.Ledger, io.Closer, error) {
	switch c.Driver {
	case config.LedgerDriverSQLite:
		db, err := sqlite.NewDB(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening ledger database: %w", err)
		}
		return db.Ledger(), db, nil
	default:
		l, err := ledger.NewFileLedger(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening ledger file: %w", err)
		}
		return l, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newClassifier loads the operator rules file when configured, falling
// back to the built-in rules.
func newClassifier(c config.ClassifierConfig) (*classify.Live, error) {
	if c.RulesFile == "" {
		return classify.NewLive(classify.Default()), nil
	}
	rules, err := classify.LoadRules(c.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading classifier rules: %w", err)
	}
	cl, err := classify.New(rules)
	if err != nil {
		return nil, fmt.Errorf("compiling classifier rules: %w", err)
	}
	return classify.NewLive(cl), nil
}

// newStager wires the staging orchestrator against the shared checkout.
func newStager(c config.Config, l ledger.Ledger, sink events.Sink, tracer trace.Tracer) (*staging.Orchestrator, error) {
	workspace, err := filepath.Abs(c.Projects.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	return staging.New(staging.Config{
		RepoRoot:      workspace,
		ProjectsPath:  c.Projects.BasePath,
		StagingDir:    c.Projects.StagingDir,
		BaseBranch:    c.Staging.BaseBranch,
		MaxSizeBytes:  c.Projects.MaxSizeBytes(),
		Excludes:      c.Projects.Excludes,
		RequiredFiles: c.Projects.RequiredFiles,
		PushAttempts:  c.Staging.PushAttempts,
		PushBackoff:   c.Staging.PushBackoff,
		Author:        git.Author{Name: c.Staging.GitUserName, Email: c.Staging.GitUserEmail},
		Git:           git.NewRealExecutor(workspace).WithTimeouts(c.Staging.GitTimeout, c.Staging.PushTimeout),
		GitHub:        github.NewClient(c.GitHub, nil),
		Ledger:        l,
		Sink:          sink,
		Tracer:        tracer,
	}), nil
}
