package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/config"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/simulation"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamsim",
		Short: "Marketplace telemetry simulator",
		Long: `streamsim generates synthetic marketplace event streams, perturbs them
with scenarios and external events, and pushes them to dashboard clients.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "Path to configuration file (empty for defaults)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newScenariosCmd(),
		newGenerateCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "streamsim version %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadConfig reads and validates the configuration named by --config and
// initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded from %q", path)
	return cfg, nil
}

// newSimulator builds a simulator from the catalog and simulation settings.
func newSimulator(cfg *config.Config, opts ...simulation.Option) (*simulation.Simulator, error) {
	cat, err := catalog.LoadDir(cfg.Simulation.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return simulation.New(cat, simulation.Config{
		Location:        loc,
		HistoryDays:     cfg.Simulation.HistoryDays,
		HistoryInterval: cfg.Simulation.HistoryInterval,
		AnomalyRate:     cfg.Simulation.AnomalyRate,
	}, opts...)
}
