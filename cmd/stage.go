package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/api"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
	"github.com/zjrosen/relay/internal/staging"
)

var (
	stageBuild string
	stageJSON  bool
)

var stageCmd = &cobra.Command{
	Use:   "stage <project>",
	Short: "Stage a project onto a build branch",
	Long: `Copy a project from the projects directory onto a fresh build/ branch
and push it. With --build the remote build workflow is dispatched on the
branch; a failed dispatch removes the branch again.

Examples:
  relay stage my-app
  relay stage my-app --build release`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List staged build branches on the remote",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stager, closeFn, err := cliStager(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeFn()

		branches, err := stager.TempBranches(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if stageJSON {
			return printJSON(out, branches)
		}
		table := newTable(out, "Branch", "Commit")
		for _, b := range branches {
			_ = table.Append([]string{cyan(b.Name), b.SHA})
		}
		return table.Render()
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <branch> [project]",
	Short: "Delete a staged branch and its local copy",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stager, closeFn, err := cliStager(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeFn()

		project := ""
		if len(args) == 2 {
			project = args[1]
		}
		res, err := stager.Cleanup(cmd.Context(), args[0], project)
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Removed %s", res.Branch)
		return nil
	},
}

func init() {
	stageCmd.Flags().StringVarP(&stageBuild, "build", "b", "", "Dispatch the build workflow (debug or release)")
	stageCmd.Flags().BoolVar(&stageJSON, "json", false, "Print JSON")
	branchesCmd.Flags().BoolVar(&stageJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(stageCmd, branchesCmd, cleanupCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	if stageBuild != "" {
		if err := api.ValidateBuildType(stageBuild); err != nil {
			return err
		}
	}
	stager, closeFn, err := cliStager(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var result any
	if stageBuild != "" {
		res, err := stager.StageAndBuild(ctx, args[0], stageBuild)
		if err != nil {
			return err
		}
		result = res
		if !stageJSON {
			success(out, "Staged %s on %s and dispatched a %s build", args[0], cyan(res.Staging.BranchName), res.BuildType)
		}
	} else {
		res, err := stager.Stage(ctx, args[0])
		if err != nil {
			return err
		}
		result = res
		if !stageJSON {
			success(out, "Staged %s on %s (%s)", args[0], cyan(res.BranchName), res.CommitHash)
		}
	}

	if stageJSON {
		return printJSON(out, result)
	}
	return nil
}

// cliStager builds an orchestrator whose progress is printed to w.
func cliStager(w io.Writer) (*staging.Orchestrator, func(), error) {
	cleanupLog, err := setupLogging(cfg, false)
	if err != nil {
		return nil, nil, err
	}
	led, closer, err := openLedger(cfg.Ledger)
	if err != nil {
		cleanupLog()
		return nil, nil, err
	}

	stager, err := newStager(cfg, led, progressSink(w), tracing.Noop())
	if err != nil {
		_ = closer.Close()
		cleanupLog()
		return nil, nil, err
	}
	return stager, func() {
		_ = closer.Close()
		cleanupLog()
	}, nil
}

// progressSink prints staging transitions as they happen.
func progressSink(w io.Writer) events.Sink {
	return events.SinkFunc(func(env events.Envelope) {
		update, ok := env.Data.(staging.StatusUpdate)
		if !ok {
			return
		}
		switch {
		case update.Error != "":
			failure(w, "%s: %s", update.State, update.Error)
		case update.State == staging.StateDone:
			_, _ = fmt.Fprintf(w, "  %s\n", green(string(update.State)))
		default:
			_, _ = fmt.Fprintf(w, "  %s\n", yellow(string(update.State)))
		}
	})
}
