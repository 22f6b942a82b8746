package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		density     int
		providerIDs []string
		commit      bool
		description string
		repoURL     string
		wait        bool
		waitTimeout int
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a media URL for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			job, err := client.Submit(cmd.Context(), api.SubmitRequest{
				SourceRef:          args[0],
				Density:            density,
				Providers:          providerIDs,
				CommitProvenance:   commit,
				Description:        description,
				RepoURL:            repoURL,
				Wait:               wait,
				WaitTimeoutSeconds: waitTimeout,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s %s\n", job.ID, job.Status)
			if wait {
				printJobSummary(out, job)
			} else {
				fmt.Fprintf(out, "Track progress with: arbiter show %s\n", job.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&density, "density", "d", 0, "Frames per minute to sample (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&providerIDs, "provider", nil, "Judge provider to use (repeatable; defaults to all enabled)")
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit report provenance to the ledger")
	cmd.Flags().StringVar(&description, "description", "", "Submission description passed to the judges")
	cmd.Flags().StringVar(&repoURL, "repo", "", "Repository URL for README context")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().IntVar(&waitTimeout, "wait-timeout", 0, "Maximum seconds to wait (0 uses the daemon default)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
