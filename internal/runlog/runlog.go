// Package runlog keeps a ledger of classification runs: what was asked for,
// how it scored and, for failures, why it stopped.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the outcome of a run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Run is one ledger entry.
type Run struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Region     string          `json:"region"`
	Seed       uint64          `json:"seed"`
	Accuracy   *float64        `json:"accuracy,omitempty"`
	Kappa      *float64        `json:"kappa,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
	RegionWKB  []byte          `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status Status
	Region string
	Limit  int
}

// Store persists runs.
type Store interface {
	Migrate(ctx context.Context) error
	// RecordRun inserts run, assigning an id and timestamps when unset.
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	Close() error
}

// Open connects to the ledger named by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("runlog: unknown driver %q", driver)
	}
}

const defaultListLimit = 50

func limitOf(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
