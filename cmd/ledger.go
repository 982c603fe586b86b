package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/ledger"
)

var (
	ledgerLimit int
	ledgerJSON  bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the failure ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cleanup failures that need manual attention",
	Long: `List entries of the failure ledger, newest first. Each entry is a
rollback step (branch deletion, local copy removal) that failed and was
left for an operator to finish.

Examples:
  relay ledger list
  relay ledger list --limit 5
  relay ledger list --json`,
	RunE: runLedger,
}

func init() {
	ledgerListCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	ledgerListCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Print JSON")
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, _ []string) error {
	led, closer, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	entries, err := led.List(cmd.Context(), ledgerLimit)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if ledgerJSON {
		if entries == nil {
			entries = []ledger.Entry{}
		}
		return printJSON(out, entries)
	}
	if len(entries) == 0 {
		success(out, "No cleanup failures recorded")
		return nil
	}

	table := newTable(out, "Time", "Context", "Error")
	for _, e := range entries {
		_ = table.Append([]string{
			e.Timestamp.Local().Format(time.DateTime),
			formatContext(e.Context),
			red(e.Error),
		})
	}
	return table.Render()
}

// formatContext renders k=v pairs in key order.
func formatContext(ctx map[string]string) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ctx[k])
	}
	return strings.Join(parts, " ")
}
