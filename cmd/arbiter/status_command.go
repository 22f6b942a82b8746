package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			runningKind := statusError
			if status.Running {
				runningKind = statusOK
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, fmt.Sprintf("pid %d", status.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Job database", statusInfo, status.JobDBPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
			if status.LastError != "" {
				fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.LastError, colorize))
			}

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(out, line)
			}
			queueMessage := fmt.Sprintf("%d total / %d pending / %d processing / %d completed / %d failed",
				status.Queue.Total, status.Queue.Pending, status.Queue.Processing, status.Queue.Completed, status.Queue.Failed)
			fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, queueMessage, colorize))

			if len(status.Stages) > 0 {
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, stage := range status.Stages {
					kind := statusOK
					if !stage.Ready {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(stage.Name, kind, stage.Detail, colorize))
				}
			}

			if len(status.Dependencies) > 0 {
				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, dep := range status.Dependencies {
					kind := statusOK
					message := dep.Command
					if !dep.Available {
						kind = statusError
						message = dep.Detail
						if dep.Optional {
							kind = statusWarn
						}
					}
					fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
