// Package db is the reclamation ledger: an append-only SQLite record of what
// each run evicted. The engine never reads it back to make decisions.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/lucasew/artifactquota/internal/eviction"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB represents the ledger database connection.
type DB struct {
	db *sql.DB
}

// Entry is one recorded reclamation.
type Entry struct {
	ID          int64
	Namespace   string
	RecordedAt  time.Time
	Limit       int64
	Pending     int64
	Existing    int64
	Deficit     int64
	DeletedSize int64
	Headroom    int64
	DryRun      bool
	Error       string
	Evicted     []artifact.Artifact
}

// Open opens the ledger at path and applies pending migrations.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		errutil.LogMsg(sqlDB.Close(), "Failed to close database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(sqlDB); err != nil {
		errutil.LogMsg(sqlDB.Close(), "Failed to close database")
		return nil, err
	}

	return &DB{db: sqlDB}, nil
}

func migrateUp(sqlDB *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Record stores a reclamation and its evicted artifacts in a single
// transaction. runErr, if set, is stored as the failure message.
func (d *DB) Record(ctx context.Context, ns artifact.Namespace, at time.Time, report *eviction.Report, dryRun bool, runErr error) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reclamations (namespace, recorded_at, limit_bytes, pending_bytes, existing_bytes,
			deficit_bytes, deleted_bytes, headroom_bytes, dry_run, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ns.String(), at.UnixMilli(), report.Quota.Limit, report.Quota.Pending, report.Quota.Existing,
		report.Deficit, report.DeletedSize, report.Headroom(), dryRun, errMsg,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reclamation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read reclamation id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evictions (reclamation_id, position, artifact_id, name, size_bytes, run_id, workflow_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, a := range report.Deleted {
		if _, err := stmt.ExecContext(ctx, id, i, a.ID, a.Name, a.Size, a.RunID, a.WorkflowID, a.CreatedAtMillis()); err != nil {
			return 0, fmt.Errorf("failed to insert eviction %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// Recent returns the latest reclamations, newest first, with their evicted
// artifacts. An empty namespace matches every namespace.
func (d *DB) Recent(ctx context.Context, ns string, limit int) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, namespace, recorded_at, limit_bytes, pending_bytes, existing_bytes,
			deficit_bytes, deleted_bytes, headroom_bytes, dry_run, error
		FROM reclamations
		WHERE ? = '' OR namespace = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, ns, ns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reclamations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.Namespace, &recordedAt, &e.Limit, &e.Pending, &e.Existing,
			&e.Deficit, &e.DeletedSize, &e.Headroom, &e.DryRun, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan reclamation: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reclamations: %w", err)
	}

	for i := range entries {
		evicted, err := d.evictions(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Evicted = evicted
	}
	return entries, nil
}

func (d *DB) evictions(ctx context.Context, id int64) ([]artifact.Artifact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT artifact_id, name, size_bytes, run_id, workflow_id, created_at
		FROM evictions WHERE reclamation_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query evictions for %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Name, &a.Size, &a.RunID, &a.WorkflowID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan eviction: %w", err)
		}
		if createdAt != 0 {
			a.CreatedAt = time.UnixMilli(createdAt).UTC()
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
