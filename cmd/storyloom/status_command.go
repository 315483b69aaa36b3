package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and orchestrator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var status daemonStatusPayload
			if err := client.get(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			daemonKind := statusOK
			daemonDetail := "running"
			if !status.Running {
				daemonKind = statusWarn
				daemonDetail = "stopped"
			}
			fmt.Fprintln(stdout, renderStatusLine("Daemon", daemonKind, daemonDetail, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
			fmt.Fprintln(stdout)

			orch := status.Orchestrator
			for _, line := range renderSectionHeader("Orchestrator", colorize) {
				fmt.Fprintln(stdout, line)
			}
			tickKind := statusOK
			tickDetail := formatTime(orch.LastTickAt)
			if orch.LastTickError != "" {
				tickKind = statusError
				tickDetail = fmt.Sprintf("%s (%s)", tickDetail, orch.LastTickError)
			} else if orch.LastTickAt == nil {
				tickKind = statusInfo
				tickDetail = "no tick yet"
			}
			fmt.Fprintln(stdout, renderStatusLine("Last tick", tickKind, tickDetail, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Active stories", statusInfo, formatCount(orch.ActiveStories), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Completed stories", statusInfo, formatCount(orch.CompletedCount), colorize))
			metaDetail := formatTime(orch.LastMetaAt)
			if orch.PendingMeta > 0 || orch.FullRebuildDue {
				metaDetail = fmt.Sprintf("%s, %d pending", metaDetail, orch.PendingMeta)
				if orch.FullRebuildDue {
					metaDetail += ", full rebuild due"
				}
			}
			fmt.Fprintln(stdout, renderStatusLine("Universe refresh", statusInfo, metaDetail, colorize))
			backfillKind := statusInfo
			backfillDetail := "idle"
			if orch.BackfillRunning {
				backfillKind = statusOK
				backfillDetail = "running"
			}
			fmt.Fprintln(stdout, renderStatusLine("Cover backfill", backfillKind, backfillDetail, colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status payload as JSON")
	return cmd
}
