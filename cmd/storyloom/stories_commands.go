package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newStoriesCommand(ctx *commandContext) *cobra.Command {
	storiesCmd := &cobra.Command{
		Use:   "stories",
		Short: "Inspect the story population",
	}

	storiesCmd.AddCommand(newStoriesListCommand(ctx))
	storiesCmd.AddCommand(newStoriesShowCommand(ctx))

	return storiesCmd
}

func newStoriesListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			path := "/api/stories"
			if len(statuses) > 0 {
				values := url.Values{}
				for _, status := range statuses {
					values.Add("status", status)
				}
				path += "?" + values.Encode()
			}

			var resp struct {
				Stories []storyPayload `json:"stories"`
			}
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, resp.Stories)
			}

			stdout := cmd.OutOrStdout()
			if len(resp.Stories) == 0 {
				fmt.Fprintln(stdout, "No stories found.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Stories))
			for _, story := range resp.Stories {
				rows = append(rows, []string{
					shortID(story.ID),
					story.Title,
					story.Status,
					formatCount(story.ChapterCount),
					formatCount(story.TotalTokens),
					formatTime(story.LastChapterAt),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Title", "Status", "Chapters", "Tokens", "Last Chapter"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (active, completed); repeatable")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print stories as JSON")
	return cmd
}

func newStoriesShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <story-id>",
		Short: "Show a single story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var story storyPayload
			if err := client.get(cmd.Context(), "/api/stories/"+url.PathEscape(args[0]), &story); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, story)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Story "+shortID(story.ID), colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Title", statusInfo, story.Title, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Status", storyStatusKind(story.Status), story.Status, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Chapters", statusInfo, formatCount(story.ChapterCount), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Total tokens", statusInfo, formatCount(story.TotalTokens), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, formatTime(&story.CreatedAt), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Last chapter", statusInfo, formatTime(story.LastChapterAt), colorize))
			if story.CompletedAt != nil {
				fmt.Fprintln(stdout, renderStatusLine("Completed", statusInfo, formatTime(story.CompletedAt), colorize))
			}
			if story.CompletionReason != "" {
				fmt.Fprintln(stdout, renderStatusLine("Completion reason", statusInfo, story.CompletionReason, colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Cover image", statusInfo, coverDetail(story.CoverImageURL), colorize))
			if premise := strings.TrimSpace(story.Premise); premise != "" {
				fmt.Fprintln(stdout)
				fmt.Fprintln(stdout, premise)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the story as JSON")
	return cmd
}

func storyStatusKind(status string) statusKind {
	switch status {
	case "active":
		return statusOK
	case "completed":
		return statusInfo
	default:
		return statusWarn
	}
}

func coverDetail(coverURL string) string {
	if strings.TrimSpace(coverURL) == "" {
		return "none"
	}
	return coverURL
}
