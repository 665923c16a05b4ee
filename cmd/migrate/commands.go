package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/boddenberg/campus-market-api/internal/config"
	"github.com/boddenberg/campus-market-api/internal/infra/postgres"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"
	"github.com/boddenberg/campus-market-api/internal/infra/supabase"
	"github.com/boddenberg/campus-market-api/internal/migrate"
	"github.com/boddenberg/campus-market-api/internal/port"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// up
// =============================================================================

var (
	upTarget string
	upDryRun bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations in file-name order",
	Args:  cobra.NoArgs,
	RunE:  runUp,
}

func init() {
	upCmd.Flags().StringVar(&upTarget, "target", "", "stop after this version (file name without .sql)")
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "list what would be applied without executing anything")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	migrations, err := migrate.LoadDir(migrationsDir)
	if err != nil {
		return err
	}
	target, closeTarget, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer closeTarget()

	res, err := migrate.NewRunner(target, logger).Up(ctx, migrations, upTarget, upDryRun)
	if res != nil {
		verb := "applied"
		if res.DryRun {
			verb = "would apply"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d migration(s), %d already applied\n", verb, len(res.Applied), res.Skipped)
		for _, v := range res.Applied {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", v)
		}
	}
	return err
}

// =============================================================================
// status
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations are applied, pending, drifted or missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		migrations, err := migrate.LoadDir(migrationsDir)
		if err != nil {
			return err
		}
		target, closeTarget, err := openTarget(ctx)
		if err != nil {
			return err
		}
		defer closeTarget()

		statuses, err := migrate.NewRunner(target, logger).Status(ctx, migrations)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tSTATEMENTS\tAPPLIED AT")
		for _, s := range statuses {
			at := "-"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Version, s.State, s.Statements, at)
		}
		return tw.Flush()
	},
}

// =============================================================================
// split
// =============================================================================

var splitCmd = &cobra.Command{
	Use:   "split <file.sql>",
	Short: "Print the statements a file splits into, without touching the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		stmts := migrate.SplitStatements(string(raw))
		for i, s := range stmts {
			fmt.Fprintf(cmd.OutOrStdout(), "-- statement %d\n%s;\n\n", i+1, s)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "-- %d statement(s)\n", len(stmts))
		return nil
	},
}

// =============================================================================
// exec
// =============================================================================

var execCmd = &cobra.Command{
	Use:   "exec <file.sql>",
	Short: "Run a one-off SQL file without recording it",
	Long: `Runs every statement of a file in order through the selected driver
and stops at the first failure. Nothing is written to schema_migrations, so
this is meant for fixes and backfills rather than schema changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		exec, closeFn, err := openTarget(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		stmts := migrate.SplitStatements(string(raw))
		for i, s := range stmts {
			if err := exec.ExecSQL(ctx, s); err != nil {
				return fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
			}
			logger.Debug("statement executed", zap.Int("index", i+1))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "executed %d statement(s) from %s\n", len(stmts), args[0])
		return nil
	},
}

// =============================================================================
// targets
// =============================================================================

// sqlTarget is a migration target that can also run loose statements.
type sqlTarget interface {
	port.MigrationTarget
	ExecSQL(ctx context.Context, stmt string) error
}

func openTarget(ctx context.Context) (sqlTarget, func(), error) {
	switch driver {
	case "supabase":
		exec, err := supabaseExecutor()
		if err != nil {
			return nil, nil, err
		}
		return exec, func() {}, nil
	case "postgres":
		dsn := config.Load().DatabaseURL
		if dsn == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for --driver=postgres")
		}
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewMigrator(db, logger), closeDB(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q (want supabase or postgres)", driver)
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}
}

func supabaseExecutor() (*supabase.SQLExecutor, error) {
	cfg := config.Load()
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for --driver=supabase")
	}
	c := supabase.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase-sql"),
		resilience.Config{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff},
		logger,
	)
	return supabase.NewSQLExecutor(c), nil
}
