package migrate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/migrate"
)

// --- Mocks ---

type mockTarget struct {
	applied  []domain.AppliedMigration
	executed []string
	failOn   string
	ensured  bool
}

func (m *mockTarget) EnsureTracking(context.Context) error {
	m.ensured = true
	return nil
}

func (m *mockTarget) Applied(context.Context) ([]domain.AppliedMigration, error) {
	return m.applied, nil
}

func (m *mockTarget) Apply(_ context.Context, mig domain.Migration) error {
	for i, stmt := range mig.Statements {
		if stmt == m.failOn {
			return &domain.ErrStatement{Version: mig.Version, Index: i, Err: errors.New("boom")}
		}
		m.executed = append(m.executed, stmt)
	}
	m.applied = append(m.applied, domain.AppliedMigration{Version: mig.Version, Checksum: mig.Checksum, AppliedAt: time.Now()})
	return nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// --- Tests ---

func TestLoadDir_OrdersAndFilters(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_offers.sql":  "create table offers (id int);",
		"001_init.sql":    "create table a (id int); create table b (id int);",
		"README.md":       "not sql",
		"010_indexes.SQL": "create index i on a (id);",
	})

	got, err := migrate.LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(got))
	}
	if got[0].Version != "001_init" || got[1].Version != "002_offers" || got[2].Version != "010_indexes" {
		t.Errorf("unexpected order: %s, %s, %s", got[0].Version, got[1].Version, got[2].Version)
	}
	if len(got[0].Statements) != 2 {
		t.Errorf("expected 2 statements in 001_init, got %d", len(got[0].Statements))
	}
	if len(got[0].Checksum) != 64 {
		t.Errorf("expected sha256 hex checksum, got %q", got[0].Checksum)
	}
}

func TestUp_AppliesPendingInOrder(t *testing.T) {
	migs := []domain.Migration{
		migrate.Parse("001", "", []byte("select 1;")),
		migrate.Parse("002", "", []byte("select 2;")),
		migrate.Parse("003", "", []byte("select 3;")),
	}
	target := &mockTarget{applied: []domain.AppliedMigration{{Version: "001", Checksum: migs[0].Checksum}}}

	res, err := migrate.NewRunner(target, zap.NewNop()).Up(context.Background(), migs, "", false)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if !target.ensured {
		t.Error("tracking table was not ensured")
	}
	if res.Skipped != 1 || len(res.Applied) != 2 || res.Applied[0] != "002" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(target.executed) != 2 || target.executed[1] != "select 3" {
		t.Errorf("unexpected statements: %v", target.executed)
	}
}

func TestUp_StopsAtTarget(t *testing.T) {
	migs := []domain.Migration{
		migrate.Parse("001", "", []byte("select 1;")),
		migrate.Parse("002", "", []byte("select 2;")),
		migrate.Parse("003", "", []byte("select 3;")),
	}
	target := &mockTarget{}

	res, err := migrate.NewRunner(target, zap.NewNop()).Up(context.Background(), migs, "002", false)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Errorf("expected 2 applied, got %v", res.Applied)
	}

	_, err = migrate.NewRunner(&mockTarget{}, zap.NewNop()).Up(context.Background(), migs, "999", false)
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error for unknown target, got %v", err)
	}
}

func TestUp_StopsAtFirstFailure(t *testing.T) {
	migs := []domain.Migration{
		migrate.Parse("001", "", []byte("select 1; select broken;")),
		migrate.Parse("002", "", []byte("select 2;")),
	}
	target := &mockTarget{failOn: "select broken"}

	res, err := migrate.NewRunner(target, zap.NewNop()).Up(context.Background(), migs, "", false)
	var stmtErr *domain.ErrStatement
	if !errors.As(err, &stmtErr) {
		t.Fatalf("expected ErrStatement, got %v", err)
	}
	if stmtErr.Version != "001" || stmtErr.Index != 1 {
		t.Errorf("unexpected failure location: %+v", stmtErr)
	}
	if len(res.Applied) != 0 {
		t.Errorf("nothing should be recorded as applied, got %v", res.Applied)
	}
	for _, s := range target.executed {
		if s == "select 2" {
			t.Error("later migrations must not run after a failure")
		}
	}
}

func TestUp_DryRunExecutesNothing(t *testing.T) {
	migs := []domain.Migration{migrate.Parse("001", "", []byte("select 1;"))}
	target := &mockTarget{}

	res, err := migrate.NewRunner(target, zap.NewNop()).Up(context.Background(), migs, "", true)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if !res.DryRun || len(res.Applied) != 1 || len(target.executed) != 0 {
		t.Errorf("unexpected dry run: %+v executed=%v", res, target.executed)
	}
}

func TestStatus_ReportsDriftAndMissing(t *testing.T) {
	migs := []domain.Migration{
		migrate.Parse("001", "", []byte("select 1;")),
		migrate.Parse("002", "", []byte("select 2;")),
		migrate.Parse("003", "", []byte("select 3;")),
	}
	target := &mockTarget{applied: []domain.AppliedMigration{
		{Version: "000_legacy", Checksum: "x"},
		{Version: "001", Checksum: migs[0].Checksum},
		{Version: "002", Checksum: "stale"},
	}}

	got, err := migrate.NewRunner(target, zap.NewNop()).Status(context.Background(), migs)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := map[string]migrate.State{
		"001":        migrate.StateApplied,
		"002":        migrate.StateDrifted,
		"003":        migrate.StatePending,
		"000_legacy": migrate.StateMissing,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for _, s := range got {
		if want[s.Version] != s.State {
			t.Errorf("%s: got %s, want %s", s.Version, s.State, want[s.Version])
		}
	}
}
