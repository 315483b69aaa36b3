package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "generate <story-id>",
		Short: "Generate the next chapter for a story immediately",
		Long:  "Asks the daemon to generate one chapter out of schedule. The request waits for any in-flight tick to finish first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var chapter chapterPayload
			path := "/api/stories/" + url.PathEscape(args[0]) + "/generate"
			if err := client.post(cmd.Context(), path, nil, &chapter); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, chapter)
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Generated chapter %d for story %s (%d tokens, %dms)\n",
				chapter.ChapterNumber, shortID(chapter.StoryID), chapter.TokensUsed, chapter.GenerationTimeMS)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the chapter as JSON")
	return cmd
}
