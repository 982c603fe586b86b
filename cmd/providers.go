package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/orchestration/client"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show which agent CLIs are installed",
	Long: `Check every registered provider's executable on PATH, using the
executable overrides from the providers section of the config.

Examples:
  relay providers
  relay providers --json | jq '.[] | select(.available)'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		results := client.CheckAll(cfg.ProviderConfigs())
		out := cmd.OutOrStdout()
		if providersJSON {
			return printJSON(out, results)
		}

		table := newTable(out, "Provider", "Executable", "Status", "Path")
		for _, a := range results {
			status := green("available")
			detail := a.Path
			if !a.Available {
				status = red("missing")
				detail = a.Error
			}
			_ = table.Append([]string{cyan(string(a.Type)), a.Executable, status, detail})
		}
		return table.Render()
	},
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(providersCmd)
}
