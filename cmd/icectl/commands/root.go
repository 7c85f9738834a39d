// Package commands implements the icectl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netice/goice/internal/config"
)

var (
	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// configPath, if set, points at an iced.yaml config file to load
	// gather/IO/filter defaults from. An empty path falls back to
	// config.DefaultConfig().
	configPath string

	// cfg is the resolved configuration, populated in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd is the top-level cobra command for icectl.
var rootCmd = &cobra.Command{
	Use:   "icectl",
	Short: "CLI for exercising goice's candidate gathering and transport layers",
	Long: "icectl drives goice's candidate harvester and transport acceptors in-process, " +
		"the way a short-lived diagnostic client would -- goice has no RPC daemon of its " +
		"own to dial into, so every subcommand here binds its own sockets for the " +
		"duration of the command rather than querying a long-running iced.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to an iced.yaml config file (built-in defaults if omitted)")

	rootCmd.AddCommand(harvestCmd())
	rootCmd.AddCommand(candidatesCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(dispatcherCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig returns the built-in defaults when path is empty, otherwise
// loads and validates path the same way iced does at startup.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
