package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/lostfound-api/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadConfig()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			if err := database.MigrateUp(database.URL(cfg.Database)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadConfig()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			if err := database.MigrateDown(database.URL(cfg.Database), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}
