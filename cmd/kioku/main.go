// Kioku ingests speaker-labelled conversation transcripts and retrieves
// semantically similar past messages with their surrounding context.
//
// Configuration comes from a YAML file (--config, default kioku.yaml),
// an optional .env file (--env-file) and KIOKU_* environment variables.
//
// Examples:
//
//	kioku encoder up
//	kioku ingest call.json --date 2024-05-01 --time 10:00:00
//	kioku users pending
//	kioku users set-handle 3 @alice
//	kioku context "summer trip plans"
//	kioku serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "kioku",
	Short:         "Conversation ingestion and semantic retrieval",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "kioku.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the env file and the configuration and installs the
// global logger.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// openApp loads the configuration and wires every component.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise kioku: %w", err)
	}
	return a, nil
}
