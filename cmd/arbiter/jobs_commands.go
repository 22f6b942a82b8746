package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"arbiter/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List analysis jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			jobs, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Status,
					fmt.Sprintf("%.0f%%", job.ProgressPercent),
					truncate(job.SourceRef, 60),
					job.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Progress", "Source", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var follow bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var job *api.JobView
			if follow {
				job, err = client.WaitTerminal(cmd.Context(), args[0], 0)
			} else {
				job, err = client.Job(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			printJobSummary(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll until the job reaches a terminal status")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s (status %s)\n", job.ID, job.Status)
			return nil
		},
	}
}

func printJobSummary(out io.Writer, job *api.JobView) {
	fmt.Fprintf(out, "  %-14s %s\n", "Source:", job.SourceRef)
	fmt.Fprintf(out, "  %-14s %s (%.0f%%)\n", "Status:", job.Status, job.ProgressPercent)
	if job.ProgressMessage != "" {
		fmt.Fprintf(out, "  %-14s %s\n", "Progress:", job.ProgressMessage)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Providers:", strings.Join(job.Providers, ", "))
	fmt.Fprintf(out, "  %-14s %s\n", "Provenance:", yesNo(job.CommitProvenance))
	if job.ReasonCode != "" {
		fmt.Fprintf(out, "  %-14s %s\n", "Reason:", job.ReasonCode)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  %-14s %s\n", "Error:", job.ErrorMessage)
	}
	for _, warning := range job.Warnings {
		fmt.Fprintf(out, "  %-14s %s\n", "Warning:", warning)
	}
	if job.HasReport {
		fmt.Fprintf(out, "  %-14s arbiter report %s\n", "Report:", job.ID)
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
