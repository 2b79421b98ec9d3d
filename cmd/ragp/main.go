package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ragp/internal/config"
	"github.com/nvandessel/ragp/internal/engine"
	"github.com/nvandessel/ragp/internal/logging"
	"github.com/nvandessel/ragp/internal/model"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// newRootCmd assembles the full command tree with its global flags.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ragp",
		Short: "RAGP - persistent activation-spreading graph engine",
		Long: `ragp manages a persistent associative memory graph: nodes for
sensors, contexts, and actions; weighted synapses learned by Hebbian
reinforcement; spreading activation over a sharded actor runtime; and a
chunked binary base with an append-only delta log.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("storage", "", "Storage directory (default ragp_storage, or RAGP_STORAGE_DIR)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newStatusCmd(),
		newConnectionsCmd(),
		newStimulateCmd(),
		newUpdateWeightCmd(),
		newComputeCDCmd(),
		newConsolidateCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newAuditCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// exitCode maps engine failures onto the documented CLI exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, model.ErrCorruptRecord):
		return 2
	case errors.Is(err, model.ErrMigrationConflict):
		return 3
	default:
		return 1
	}
}

// loadConfig builds the engine config from flags, file, and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("storage"); dir != "" {
		cfg.Storage.Dir = dir
	}
	return cfg, nil
}

// openEngine opens an engine for one CLI invocation.
func openEngine(cmd *cobra.Command) (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)
	eng, err := engine.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

// emit prints v as JSON when --json is set; otherwise it calls human.
func emit(cmd *cobra.Command, v any, human func()) error {
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return json.NewEncoder(os.Stdout).Encode(v)
	}
	human()
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("ragp version %s\n", version)
			}
		},
	}
}
