package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/relay/internal/api"
	"github.com/zjrosen/relay/internal/command"
	"github.com/zjrosen/relay/internal/config"
	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/classify"
	"github.com/zjrosen/relay/internal/orchestration/processor"
	"github.com/zjrosen/relay/internal/orchestration/session"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
	"github.com/zjrosen/relay/internal/watcher"

	// Register agent providers.
	_ "github.com/zjrosen/relay/internal/orchestration/amp"
	_ "github.com/zjrosen/relay/internal/orchestration/claude"
	_ "github.com/zjrosen/relay/internal/orchestration/codex"
	_ "github.com/zjrosen/relay/internal/orchestration/gemini"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the HTTP server that starts agent sessions, runs project jobs and
stages builds. Output is pushed to clients over /ws and /events.

Example:
  relay serve                       # Listen on the configured address
  relay serve --addr 127.0.0.1:0    # Let the OS pick a port
  relay serve --debug               # Debug logging`,
	RunE: runServe,
}

var (
	serveAddr  string
	serveDebug bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().BoolVarP(&serveDebug, "debug", "d", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := setupLogging(cfg, serveDebug)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanupLog()
	log.Info(log.CatConfig, "Relay starting", "config", cfgPath, "version", version)

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	tracer := tp.Tracer()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	led, ledgerCloser, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() { _ = ledgerCloser.Close() }()

	classifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		return err
	}

	hub := api.NewHub(api.DefaultHubBuffer)
	defer hub.Close()

	proc := processor.New(
		processor.WithQueueCapacity(cfg.Dispatcher.QueueCapacity),
		processor.WithMiddleware(
			processor.NewRecoveryMiddleware(),
			processor.NewLoggingMiddleware(0),
			tracing.NewDispatcherMiddleware(tracer),
		),
	)
	// The dispatcher outlives the signal context so shutdown can still
	// publish final events through it.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go proc.Run(dispatchCtx)
	if err := proc.WaitForReady(cmd.Context()); err != nil {
		return err
	}

	manager := session.NewManager(session.Config{
		Dispatcher: proc,
		Sink:       hub,
		Classifier: classifier,
		Providers:  cfg.ProviderConfigs(),
		Tracer:     tracer,
	})

	supervisor := jobs.NewSupervisor(jobs.Config{
		Dispatcher:   proc,
		Sink:         hub,
		LogCapacity:  cfg.Jobs.LogCapacity,
		SnapshotTail: cfg.Jobs.SnapshotTail,
		Retention:    cfg.Jobs.Retention,
		Tracer:       tracer,
	})

	stager, err := newStager(cfg, led, hub, tracer)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.HandlerConfig{
		Sessions:     manager,
		Jobs:         supervisor,
		Staging:      stager,
		Ledger:       led,
		Hub:          hub,
		Availability: api.NewAvailabilityCache(cfg.ProviderConfigs(), cfg.Server.AvailabilityTTL),
		Dispatcher:   proc,
		Projects:     projectFactory(cfg),
		ProjectsPath: cfg.Projects.BasePath,
		Heartbeat:    cfg.Server.Heartbeat,
	})

	server, err := api.NewServer(api.ServerConfig{Addr: addr, Handler: handler})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	if cfg.Classifier.Watch && cfg.Classifier.RulesFile != "" {
		g.Go(func() error { return watchRules(gctx, cfg.Classifier.RulesFile, classifier) })
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(stopCtx)
	})

	color.New(color.FgGreen, color.Bold).Printf("Relay listening on %s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	runErr := g.Wait()
	fmt.Println("\nShutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatSession, "Error shutting down sessions", err)
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatJob, "Error shutting down jobs", err)
	}
	proc.Drain()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatTracing, "Error flushing traces", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("server error: %w", runErr)
	}
	fmt.Println("Relay stopped")
	return nil
}

// projectFactory builds project creation steps from the project config.
// Scaffold commands run through the configured allow-list.
func projectFactory(c config.Config) api.ProjectFactory {
	runner := command.NewRunner(c.Command.Allowed, c.Command.Timeout)
	return func(name, template string) ([]jobs.Step, error) {
		return jobs.ProjectCreation(jobs.ProjectOptions{
			BasePath:     c.Projects.BasePath,
			Name:         name,
			Template:     template,
			Owner:        c.Projects.ExpoOwner,
			BundlePrefix: c.Projects.BundlePrefix,
			Runner:       runner,
			Timeout:      c.Projects.ScaffoldTimeout,
		})
	}
}

// watchRules reloads the classifier when the rules file changes. A bad
// edit keeps the previous rules.
func watchRules(ctx context.Context, path string, live *classify.Live) error {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	return w.Run(ctx, func() {
		if err := live.Reload(path); err != nil {
			log.Warn(log.CatClassify, "Keeping previous rules", "path", path, "error", err)
			return
		}
		log.Info(log.CatClassify, "Reloaded classifier rules", "path", path)
	})
}
