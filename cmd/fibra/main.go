// Package main provides the fibra binary. It runs SPARQL workers, calls
// their services and serves the browser build.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgnsk/fibra-workers/internal/config"
	"github.com/mgnsk/fibra-workers/internal/observability"
)

const appName = "fibra"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the state shared by all commands.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func rootCmd() *cobra.Command {
	a := &app{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "SPARQL statistics and updates on a pool of workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.log = observability.NewLogger(observability.LogConfig{
				Level:       cfg.LogLevel,
				Format:      cfg.LogFormat,
				Development: cfg.LogDevelopment,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides FIBRA_LOG_LEVEL")

	cmd.AddCommand(
		workerCmd(a),
		callCmd(a),
		statsCmd(a),
		serveCmd(a),
	)

	return cmd
}
