// Command bwbackup makes encrypted backups of a Bitwarden or Vaultwarden
// vault through the bw CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/internal/config"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

// Global flags
var (
	configPath string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "bwbackup",
	Short:         "Encrypted backups of a Bitwarden vault",
	Long:          `bwbackup drives the Bitwarden CLI to export a vault and stores the export in an encrypted file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE loads configuration and builds the logger for every
	// subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := disableCoreDumps(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to disable core dumps: %v\n", err)
		}

		if configPath != "" {
			if err := os.Setenv(config.EnvConfigPath, configPath); err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if cmd.Root().PersistentFlags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}
		if cmd.Root().PersistentFlags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		logger, err = newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $BWBACKUP_CONFIG or "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log encoding: json, console")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// configFile returns the path config.Load reads.
func configFile() string {
	if p := os.Getenv(config.EnvConfigPath); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM
// arrives, and prints any error to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
