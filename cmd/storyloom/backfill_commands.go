package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Cover art backfill operations",
	}

	backfillCmd.AddCommand(newBackfillRunCommand(ctx))
	backfillCmd.AddCommand(newBackfillStatusCommand(ctx))

	return backfillCmd
}

func newBackfillRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cover art backfill batch now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			body := map[string]any{"force": force, "limit": limit}
			var summary backfillSummaryPayload
			if err := client.post(cmd.Context(), "/api/backfill", body, &summary); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, summary)
			}

			stdout := cmd.OutOrStdout()
			if summary.Skipped {
				fmt.Fprintf(stdout, "Backfill skipped: %s\n", summary.Reason)
				return nil
			}
			fmt.Fprintf(stdout, "Backfill finished: %d processed, %d covers generated, %d failed\n",
				summary.Processed, summary.Generated, summary.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Run even when backfill is disabled in configuration")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum stories to process (0 uses the configured batch size)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the summary as JSON")
	return cmd
}

func newBackfillStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backfill scheduling state and the last run summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var status backfillStatusPayload
			if err := client.get(cmd.Context(), "/api/backfill/status", &status); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Cover Backfill", colorize) {
				fmt.Fprintln(stdout, line)
			}
			enabledKind := statusOK
			if !status.Enabled {
				enabledKind = statusWarn
			}
			fmt.Fprintln(stdout, renderStatusLine("Enabled", enabledKind, yesNo(status.Enabled), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Running", statusInfo, yesNo(status.Running), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Interval", statusInfo, fmt.Sprintf("%d minutes", status.IntervalMinutes), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Next due", statusInfo, formatTime(status.NextDue), colorize))
			if last := status.LastRun; last != nil {
				detail := fmt.Sprintf("%s: %d processed, %d generated, %d failed",
					formatTime(&last.RanAt), last.Processed, last.Generated, last.Failed)
				if last.Skipped {
					detail = fmt.Sprintf("%s: skipped (%s)", formatTime(&last.RanAt), last.Reason)
				}
				fmt.Fprintln(stdout, renderStatusLine("Last run", statusInfo, detail, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Last run", statusInfo, "never", colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status as JSON")
	return cmd
}
