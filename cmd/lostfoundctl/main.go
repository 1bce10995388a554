// Command lostfoundctl runs operator tasks against the lost-and-found database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/pkg/config"
	"github.com/noah-isme/lostfound-api/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lostfoundctl",
		Short: "Operator tooling for the lost-and-found API",
		Long: `lostfoundctl runs maintenance tasks with the same configuration as the API server:

  - apply or roll back database migrations
  - run one expiry sweep outside the server schedule
  - mint access tokens for local testing`,
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newSweepCmd(), newTokenCmd())
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}
