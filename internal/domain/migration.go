package domain

import (
	"fmt"
	"time"
)

// Migration is one .sql file split into statements.
type Migration struct {
	Version    string
	Path       string
	Checksum   string
	Statements []string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// ErrStatement reports which statement of which file failed.
type ErrStatement struct {
	Version string
	Index   int
	Err     error
}

func (e *ErrStatement) Error() string {
	return fmt.Sprintf("migration %s: statement %d: %v", e.Version, e.Index+1, e.Err)
}

func (e *ErrStatement) Unwrap() error {
	return e.Err
}
