package main

import "github.com/spf13/cobra"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres migrations or create MongoDB indexes for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return container.Migrate(cmd.Context())
	},
}
