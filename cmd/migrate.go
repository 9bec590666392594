package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bdb, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer bdb.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "database ready (%s)\n", cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
