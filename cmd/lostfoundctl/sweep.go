package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/lostfound-api/internal/app"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire found items past the expiry window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadConfig()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			application, err := app.New(cfg, logr)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Items.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d skipped=%d\n", result.Scanned, result.Expired, result.Skipped)
			return nil
		},
	}
}
