// Package postgres applies SQL migrations over a direct database connection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  version text PRIMARY KEY,
  checksum text NOT NULL,
  applied_at timestamptz NOT NULL DEFAULT now()
)`

// Open connects with lib/pq and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrator runs each migration file in its own transaction, including the
// schema_migrations row.
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// ExecSQL runs one statement outside any migration bookkeeping.
func (m *Migrator) ExecSQL(ctx context.Context, stmt string) error {
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

func (m *Migrator) EnsureTracking(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, createMigrationsTable)
	return err
}

func (m *Migrator) Applied(ctx context.Context) ([]domain.AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, checksum, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AppliedMigration
	for rows.Next() {
		var a domain.AppliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *Migrator) Apply(ctx context.Context, mig domain.Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i, stmt := range mig.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return &domain.ErrStatement{Version: mig.Version, Index: i, Err: err}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)`,
		mig.Version, mig.Checksum,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", mig.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.Version, err)
	}
	m.logger.Info("postgres: migration applied",
		zap.String("version", mig.Version),
		zap.Int("statements", len(mig.Statements)),
	)
	return nil
}
