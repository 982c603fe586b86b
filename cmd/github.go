package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/config"
	"github.com/zjrosen/relay/internal/github"
)

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Manage the build repository settings",
}

var (
	ghOwner    string
	ghRepo     string
	ghWorkflow string
)

var githubConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the github section of the config file",
	Long: `Set the repository that build branches are pushed to and the workflow
dispatched for builds. Only flags that are given change; other sections of
the config file keep their comments. The token is read from GITHUB_TOKEN
and is never written to the file.

Example:
  relay github configure --owner acme --repo mobile-builds --workflow build.yml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		gh := cfg.GitHub
		if cmd.Flags().Changed("owner") {
			gh.Owner = ghOwner
		}
		if cmd.Flags().Changed("repo") {
			gh.Repo = ghRepo
		}
		if cmd.Flags().Changed("workflow") {
			gh.Workflow = ghWorkflow
		}
		if gh.Owner == "" || gh.Repo == "" {
			return errors.New("github owner and repo are required")
		}

		if err := config.SaveGitHub(cfgPath, gh); err != nil {
			return err
		}
		cfg.GitHub = gh

		out := cmd.OutOrStdout()
		success(out, "Saved github settings to %s", cfgPath)
		if !github.NewClient(gh, nil).IsConfigured() {
			failure(out, "GITHUB_TOKEN is not set; staging stays disabled until it is")
		}
		return nil
	},
}

func init() {
	githubConfigureCmd.Flags().StringVar(&ghOwner, "owner", "", "Repository owner")
	githubConfigureCmd.Flags().StringVar(&ghRepo, "repo", "", "Repository name")
	githubConfigureCmd.Flags().StringVar(&ghWorkflow, "workflow", "", "Workflow file dispatched for builds")
	githubCmd.AddCommand(githubConfigureCmd)
	rootCmd.AddCommand(githubCmd)
}
