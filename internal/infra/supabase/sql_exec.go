package supabase

import (
	"context"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// exec_sql migration target
// ============================================================

const createMigrationsTable = `create table if not exists public.schema_migrations (
  version text primary key,
  checksum text not null,
  applied_at timestamptz not null default now()
)`

// SQLExecutor applies migrations one statement at a time through the
// exec_sql RPC and tracks them in schema_migrations over PostgREST.
// Statements are not retried and files are not transactional.
type SQLExecutor struct {
	client *Client
}

// NewSQLExecutor returns a migration target backed by c.
func NewSQLExecutor(c *Client) *SQLExecutor {
	once := *c
	once.cfg.MaxRetries = 0
	return &SQLExecutor{client: &once}
}

// ExecSQL runs a single statement through exec_sql(sql).
func (e *SQLExecutor) ExecSQL(ctx context.Context, sql string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RPC.exec_sql")
	defer span.End()

	_, err := e.client.doRPC(ctx, "exec_sql", map[string]any{"sql": sql})
	return err
}

func (e *SQLExecutor) EnsureTracking(ctx context.Context) error {
	return e.ExecSQL(ctx, createMigrationsTable)
}

func (e *SQLExecutor) Applied(ctx context.Context) ([]domain.AppliedMigration, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAppliedMigrations")
	defer span.End()

	return getRows[domain.AppliedMigration](ctx, e.client, "schema_migrations?select=version,checksum,applied_at&order=version.asc")
}

func (e *SQLExecutor) Apply(ctx context.Context, m domain.Migration) error {
	for i, stmt := range m.Statements {
		if err := e.ExecSQL(ctx, stmt); err != nil {
			return &domain.ErrStatement{Version: m.Version, Index: i, Err: err}
		}
	}

	_, err := e.client.doPost(ctx, "schema_migrations", map[string]any{
		"version":    m.Version,
		"checksum":   m.Checksum,
		"applied_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	e.client.logger.Info("supabase: migration applied",
		zap.String("version", m.Version),
		zap.Int("statements", len(m.Statements)),
	)
	return nil
}
