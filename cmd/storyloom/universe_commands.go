package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newUniverseCommand(ctx *commandContext) *cobra.Command {
	universeCmd := &cobra.Command{
		Use:   "universe",
		Short: "Shared-universe graph operations",
	}

	universeCmd.AddCommand(newUniverseRefreshCommand(ctx))
	universeCmd.AddCommand(newOverridesCommand(ctx))

	return universeCmd
}

func newUniverseRefreshCommand(ctx *commandContext) *cobra.Command {
	var storyID string
	var full bool
	var now bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Schedule or run a universe graph refresh",
		Long:  "Without flags, schedules a full rebuild for the next tick. --story scopes the refresh to one story; --now runs the pipeline synchronously instead of scheduling it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			body := map[string]any{
				"story_id":     strings.TrimSpace(storyID),
				"full_rebuild": full,
				"run_now":      now,
			}
			var resp struct {
				Status string `json:"status"`
			}
			if err := client.post(cmd.Context(), "/api/universe/refresh", body, &resp); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			switch resp.Status {
			case "completed":
				fmt.Fprintln(stdout, "Universe refresh completed")
			default:
				fmt.Fprintln(stdout, "Universe refresh scheduled for the next tick")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "Limit the refresh to one story")
	cmd.Flags().BoolVar(&full, "full", false, "Rebuild from the entire completed corpus")
	cmd.Flags().BoolVar(&now, "now", false, "Run the refresh immediately instead of scheduling it")
	return cmd
}

func newOverridesCommand(ctx *commandContext) *cobra.Command {
	overridesCmd := &cobra.Command{
		Use:   "overrides",
		Short: "Manage entity extraction overrides",
	}

	overridesCmd.AddCommand(newOverridesListCommand(ctx))
	overridesCmd.AddCommand(newOverridesAddCommand(ctx))
	overridesCmd.AddCommand(newOverridesRemoveCommand(ctx))

	return overridesCmd
}

func newOverridesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entity overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var resp struct {
				Overrides []overridePayload `json:"overrides"`
			}
			if err := client.get(cmd.Context(), "/api/universe/overrides", &resp); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, resp.Overrides)
			}

			stdout := cmd.OutOrStdout()
			if len(resp.Overrides) == 0 {
				fmt.Fprintln(stdout, "No overrides defined.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Overrides))
			for _, ov := range resp.Overrides {
				scope := "all stories"
				if ov.StoryID != nil {
					scope = shortID(*ov.StoryID)
				}
				rows = append(rows, []string{
					shortID(ov.ID),
					ov.Name,
					ov.Action,
					ov.TargetName,
					scope,
					ov.Notes,
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Name", "Action", "Target", "Scope", "Notes"},
				rows,
				nil,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print overrides as JSON")
	return cmd
}

func newOverridesAddCommand(ctx *commandContext) *cobra.Command {
	var storyID string
	var target string
	var notes string

	cmd := &cobra.Command{
		Use:   "add <name> <action>",
		Short: "Add an entity override (action: ignore or merge)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			body := map[string]any{
				"name":        args[0],
				"action":      args[1],
				"story_id":    strings.TrimSpace(storyID),
				"target_name": strings.TrimSpace(target),
				"notes":       strings.TrimSpace(notes),
			}
			var created overridePayload
			if err := client.post(cmd.Context(), "/api/universe/overrides", body, &created); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created override %s (%s %q)\n", shortID(created.ID), created.Action, created.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "Scope the override to one story")
	cmd.Flags().StringVar(&target, "target", "", "Canonical name for merge overrides")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form note about why the override exists")
	return cmd
}

func newOverridesRemoveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <override-id>",
		Short: "Remove an entity override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var removed overridePayload
			if err := client.delete(cmd.Context(), "/api/universe/overrides/"+url.PathEscape(args[0]), &removed); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed override %s (%s %q)\n", shortID(removed.ID), removed.Action, removed.Name)
			return nil
		},
	}

	return cmd
}
