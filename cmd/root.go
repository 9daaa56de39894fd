// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/config"
	"github.com/JakeFAU/hoops-harvester/internal/logging"
)

// envKeyType is the key for storing the environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// environment is what every subcommand receives from the root command.
type environment struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests NBA season statistics into an artifact store.",
		Long: `harvester walks a catalog of basketball seasons and stores the statistics
tables of every season (standings, per-player stats, award voting and rookie
tables) as HTML fragments with deterministic names.`,
		SilenceUsage: true,

		// Config and logger are loaded once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), envKey, &environment{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if env, ok := cmd.Context().Value(envKey).(*environment); ok && env != nil {
				// Sync fails on terminals; there is nothing left to report it to.
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); HARVESTER_* env vars override it")

	cmd.AddCommand(newPlanCmd(), newRunCmd(), newServeCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*environment, error) {
	env, ok := ctx.Value(envKey).(*environment)
	if !ok || env == nil {
		return nil, errors.New("harvester environment not initialized")
	}
	return env, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
