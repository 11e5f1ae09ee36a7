package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/internal/config"
	"github.com/yairfalse/surface/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	envFile    string
	logLevel   string

	// cfg and logger are replaced by setup before any subcommand runs
	cfg    = config.Default()
	logger = telemetry.NewNopLogger()

	rootCmd = &cobra.Command{
		Use:   "surface",
		Short: "Attack surface rule engine",
		Long: `Surface - attack surface rule engine

Surface stores cloud asset documents and rules, evaluates every rule
against every asset, and records a finding for each match.

Upload assets and rules from JSON or YAML files, or discover them
straight from AWS, then scan and summarise the findings.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Surface {{.Version}} - attack surface rule engine
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./surface.yaml or ~/surface.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

// setup loads .env, the config file and the logger
func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger = telemetry.NewLoggerWithOptions(telemetry.LoggerOptions{
		Service: "surface",
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Writer:  cmd.ErrOrStderr(),
	})
	log.Logger = logger.Logger
	return nil
}
