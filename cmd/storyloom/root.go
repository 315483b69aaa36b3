package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var apiFlag string
	var configFlag string

	ctx := newCommandContext(&apiFlag, &configFlag)

	root := &cobra.Command{
		Use:           "storyloom",
		Short:         "Autonomous story lifecycle manager",
		Long:          "Storyloom spawns, grows, evaluates, and retires AI-generated stories, and mines the finished corpus into a shared-universe graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API address (host:port); defaults to the configured api_bind")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the configuration file")

	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newStoriesCommand(ctx))
	root.AddCommand(newGenerateCommand(ctx))
	root.AddCommand(newConfigCommand(ctx))
	root.AddCommand(newBackfillCommand(ctx))
	root.AddCommand(newUniverseCommand(ctx))

	return root
}
