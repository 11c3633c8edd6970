package cmd

import (
	"fmt"
	"os"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
	"github.com/spf13/cobra"
)

// ConfigFile is the path to the YAML configuration.
var (
	ConfigFile string
	// rootCmd is the base command for mediback.
	rootCmd = &cobra.Command{
		Use:   "mediback",
		Short: "Backup orchestrator for containerized media servers",
		Long: `mediback verifies, stops, archives, restarts and replicates
containerized media-server units based on your YAML configuration file.`,
	}
)

// Execute runs the root command.
func Execute() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initializes the session logger
// with its log file setting. Every subcommand that touches the engine goes
// through here.
func loadConfig() (config.Config, logger.Logger, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return config.Config{}, nil, err
	}
	var opts []logger.Option
	if cfg.Log.File != "" {
		opts = append(opts, logger.WithLogFile(cfg.Log.File))
	}
	log, err := logger.Init(opts...)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, log, nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(versionCmd)
}
