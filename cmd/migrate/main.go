// Command migrate applies the SQL files under migrations/ to the marketplace
// database, either through the exec_sql RPC or over a direct Postgres
// connection.
package main

import (
	"fmt"
	"os"

	"github.com/boddenberg/campus-market-api/internal/config"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrationsDir string
	driver        string
	logLevel      string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply and inspect campus-market SQL migrations",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = config.LoadDotEnv(".env")
		logger = observability.NewLogger(logLevel, "campus-market-migrate")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "directory holding the .sql files")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "supabase", "how to reach the database: supabase (exec_sql RPC) or postgres (DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(upCmd, statusCmd, splitCmd, execCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
