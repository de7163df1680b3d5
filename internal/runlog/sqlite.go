package runlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	region      TEXT NOT NULL,
	seed        INTEGER NOT NULL,
	accuracy    REAL,
	kappa       REAL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	report      TEXT,
	region_wkb  BLOB,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_region ON runs(region);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	stamp(run)

	var report any
	if len(run.Report) > 0 {
		report = string(run.Report)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, region, seed, accuracy, kappa, error_kind, error, report, region_wkb, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Region, int64(run.Seed), run.Accuracy, run.Kappa,
		run.ErrorKind, run.Error, report, run.RegionWKB, run.CreatedAt, run.FinishedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

const sqliteSelect = `SELECT id, status, region, seed, accuracy, kappa, error_kind, error, report, region_wkb, created_at, finished_at FROM runs`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: run %s not found", id)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := sqliteSelect + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOf(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r      Run
		seed   int64
		acc    sql.NullFloat64
		kappa  sql.NullFloat64
		report sql.NullString
	)
	err := row.Scan(&r.ID, &r.Status, &r.Region, &seed, &acc, &kappa,
		&r.ErrorKind, &r.Error, &report, &r.RegionWKB, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Seed = uint64(seed)
	if acc.Valid {
		r.Accuracy = &acc.Float64
	}
	if kappa.Valid {
		r.Kappa = &kappa.Float64
	}
	if report.Valid {
		r.Report = []byte(report.String)
	}
	return &r, nil
}

// stamp fills the id and timestamps of a new run.
func stamp(run *Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = now
	}
}
