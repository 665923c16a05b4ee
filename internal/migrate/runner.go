package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/port"

	"go.uber.org/zap"
)

// LoadDir reads every *.sql file of dir, ordered by file name. The version
// of a file is its name without the extension.
func LoadDir(dir string) ([]domain.Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []domain.Migration
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, Parse(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), path, raw))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Parse builds a migration from file contents.
func Parse(version, path string, raw []byte) domain.Migration {
	sum := sha256.Sum256(raw)
	return domain.Migration{
		Version:    version,
		Path:       path,
		Checksum:   hex.EncodeToString(sum[:]),
		Statements: SplitStatements(string(raw)),
	}
}

// State is the status of one migration file.
type State string

const (
	StateApplied State = "applied"
	StatePending State = "pending"
	StateDrifted State = "drifted" // applied, but the file changed since
	StateMissing State = "missing" // recorded, but no file on disk
)

// Status pairs a version with its state.
type Status struct {
	Version    string
	State      State
	Statements int
	AppliedAt  *time.Time
}

// Result summarises a run of Up.
type Result struct {
	Applied []string
	Skipped int
	DryRun  bool
}

// Runner applies migrations to a target.
type Runner struct {
	target port.MigrationTarget
	logger *zap.Logger
}

func NewRunner(target port.MigrationTarget, logger *zap.Logger) *Runner {
	return &Runner{target: target, logger: logger}
}

func (r *Runner) applied(ctx context.Context) (map[string]domain.AppliedMigration, error) {
	if err := r.target.EnsureTracking(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	rows, err := r.target.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	out := make(map[string]domain.AppliedMigration, len(rows))
	for _, a := range rows {
		out[a.Version] = a
	}
	return out, nil
}

// Status reports the state of every known version, files first in order,
// then versions recorded in the database that have no file.
func (r *Runner) Status(ctx context.Context, migrations []domain.Migration) ([]Status, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(migrations))
	seen := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		seen[m.Version] = true
		st := Status{Version: m.Version, State: StatePending, Statements: len(m.Statements)}
		if a, ok := applied[m.Version]; ok {
			at := a.AppliedAt
			st.AppliedAt = &at
			st.State = StateApplied
			if a.Checksum != "" && a.Checksum != m.Checksum {
				st.State = StateDrifted
			}
		}
		out = append(out, st)
	}

	var missing []string
	for v := range applied {
		if !seen[v] {
			missing = append(missing, v)
		}
	}
	sort.Strings(missing)
	for _, v := range missing {
		at := applied[v].AppliedAt
		out = append(out, Status{Version: v, State: StateMissing, AppliedAt: &at})
	}
	return out, nil
}

// Up applies pending migrations in order, up to and including target when
// it is not empty. It stops at the first failure.
func (r *Runner) Up(ctx context.Context, migrations []domain.Migration, target string, dryRun bool) (*Result, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	if target != "" && !hasVersion(migrations, target) {
		return nil, &domain.ErrValidation{Field: "target", Message: fmt.Sprintf("unknown version %q", target)}
	}

	res := &Result{DryRun: dryRun}
	for _, m := range migrations {
		if target != "" && m.Version > target {
			break
		}
		if a, ok := applied[m.Version]; ok {
			if a.Checksum != "" && a.Checksum != m.Checksum {
				r.logger.Warn("applied migration changed on disk",
					zap.String("version", m.Version),
					zap.String("recorded", a.Checksum),
					zap.String("file", m.Checksum),
				)
			}
			res.Skipped++
			continue
		}
		if len(m.Statements) == 0 {
			r.logger.Warn("migration has no statements", zap.String("version", m.Version))
		}

		if dryRun {
			r.logger.Info("would apply migration",
				zap.String("version", m.Version),
				zap.Int("statements", len(m.Statements)),
			)
			res.Applied = append(res.Applied, m.Version)
			continue
		}

		start := time.Now()
		if err := r.target.Apply(ctx, m); err != nil {
			r.logger.Error("migration failed", zap.String("version", m.Version), zap.Error(err))
			return res, err
		}
		r.logger.Info("migration applied",
			zap.String("version", m.Version),
			zap.Int("statements", len(m.Statements)),
			zap.Duration("took", time.Since(start)),
		)
		res.Applied = append(res.Applied, m.Version)
	}
	return res, nil
}

func hasVersion(migrations []domain.Migration, v string) bool {
	for _, m := range migrations {
		if m.Version == v {
			return true
		}
	}
	return false
}
