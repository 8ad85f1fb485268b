package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/persona-chat/internal/config"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once per invocation, before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "persona-chat",
	Short: "Talk to simulated personas, in public or in confession",
	Long: `persona-chat holds running dialogues with simulated personas.

Public conversations are stored and can be resumed later. Confession mode
keeps nothing. Every turn costs tokens from the user's balance.

Quick Start:
  persona-chat serve                                  # HTTP API on PERSONA_PORT
  persona-chat chat --token dev --persona socrates    # interactive session
  persona-chat chat --token dev --persona socrates --private`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv("PERSONA_CONFIG")
		}
		loaded, err := config.LoadPath(path)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if err := observability.SetLevel(loaded.LogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", loaded.LogLevel, err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command with a background context.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults to $PERSONA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}
