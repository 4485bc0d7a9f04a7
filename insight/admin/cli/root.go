// Package cli implements the insight-admin command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/utils/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const (
	defaultDataPath     = "data/"
	defaultDatabasePath = "data/CFU_API.db"
)

func Run() ExitCode {
	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "insight-admin",
		Short:         "Admin CLI for the CFU Insight database and templates.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().String("db", envOr("DATABASE_PATH", defaultDatabasePath), "SQLite database path (or set DATABASE_PATH env var)")
	rootCmd.PersistentFlags().String("data", envOr("DATA_PATH", defaultDataPath), "spreadsheet directory (or set DATA_PATH env var)")

	rootCmd.AddCommand(
		NewETLCmd().Command(),
		NewQueryCmd().Command(),
		NewChartCmd().Command(),
		NewCatalogCmd().Command(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// commandLogger logs to stderr so command output stays clean.
func commandLogger(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), verbose), nil
}

func openStore(cmd *cobra.Command, log *slog.Logger) (*store.Store, error) {
	path, err := cmd.Root().PersistentFlags().GetString("db")
	if err != nil {
		return nil, fmt.Errorf("failed to get db flag: %w", err)
	}
	if !store.Exists(path) {
		return nil, fmt.Errorf("database %s does not exist, run 'insight-admin etl load' first", path)
	}
	return store.Open(store.Config{Logger: log, Path: path})
}
