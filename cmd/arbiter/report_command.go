package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"arbiter/internal/aggregate"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "report <job-id>",
		Short: "Show the scored report for a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				var raw json.RawMessage = resp.Report
				return writeJSON(cmd, raw)
			}

			var report aggregate.Report
			if err := json.Unmarshal(resp.Report, &report); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			renderReport(cmd, &report, resp.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw report JSON")
	return cmd
}

func renderReport(cmd *cobra.Command, report *aggregate.Report, status string) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Report "+report.JobID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Source:", report.SourceRef)
	fmt.Fprintf(out, "  %-14s %s\n", "Status:", status)
	fmt.Fprintf(out, "  %-14s %.2f / 100\n", "Score:", report.Summary.Score)
	fmt.Fprintf(out, "  %-14s %d analyzed, %d unanalyzed, %d disputed\n", "Artifacts:",
		report.Summary.AnalyzedArtifacts, report.Summary.UnanalyzedArtifacts, report.Summary.DisputedArtifacts)
	fmt.Fprintf(out, "  %-14s %s\n", "Providers:", strings.Join(report.Summary.ProvidersUsed, ", "))
	if len(report.Summary.ProvidersFailed) > 0 {
		fmt.Fprintf(out, "  %-14s %s\n", "Failed:", strings.Join(report.Summary.ProvidersFailed, ", "))
	}
	if report.Receipt != nil {
		fmt.Fprintf(out, "  %-14s %s at %s\n", "Ledger:", report.Receipt.TransactionID, report.Receipt.CommittedAt)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Hash:", report.Hash)

	if len(report.Summary.PerCriterion) > 0 {
		rows := make([][]string, 0, len(report.Summary.PerCriterion))
		for _, name := range sortedKeys(report.Summary.PerCriterion) {
			rows = append(rows, []string{name, fmt.Sprintf("%.2f", report.Summary.PerCriterion[name])})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Criterion", "Consensus"},
			rows,
			[]columnAlignment{alignLeft, alignRight},
		))
	}

	disputed := make([][]string, 0)
	for _, entry := range report.Artifacts {
		if !entry.Disputed {
			continue
		}
		disputed = append(disputed, []string{
			fmt.Sprintf("%d", entry.Ordinal),
			entry.Kind,
			fmt.Sprintf("%.2f", entry.Score),
			fmt.Sprintf("%.2f", entry.Divergence),
		})
	}
	if len(disputed) > 0 {
		fmt.Fprintln(out, "Disputed artifacts:")
		fmt.Fprintln(out, renderTable(
			[]string{"Ordinal", "Kind", "Score", "Divergence"},
			disputed,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
		))
	}
	for _, warning := range report.Warnings {
		fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, warning, colorize))
	}
}

func sortedKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
