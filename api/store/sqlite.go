package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"switchyard/api/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenSQLite opens a SQLite database at dsn and runs all pending
// migrations. Use ":memory:" for an in-memory database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// SQLiteRegistry stores one app's registry document in SQLite.
type SQLiteRegistry struct {
	DB  *sql.DB
	App string
}

func (r *SQLiteRegistry) Load(ctx context.Context) (*model.RegistryState, error) {
	var doc string
	err := r.DB.QueryRowContext(ctx, `SELECT doc FROM registry_state WHERE app = ?`, r.App).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select registry: %w", err)
	}
	var st model.RegistryState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("parse registry doc: %w", err)
	}
	return &st, nil
}

func (r *SQLiteRegistry) Save(ctx context.Context, st *model.RegistryState) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal registry doc: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO registry_state (app, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(app) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		r.App, string(doc), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert registry: %w", err)
	}
	return nil
}

// SQLiteAudit stores one app's deployment attempts in SQLite.
type SQLiteAudit struct {
	DB  *sql.DB
	App string
}

func (a *SQLiteAudit) Append(ctx context.Context, at *model.DeploymentAttempt) error {
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO deployment_attempts
		   (id, app, version, from_slot, target_slot, outcome, kind, reason, probe_attempts, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.ID, a.App, at.Version, string(at.FromSlot), string(at.TargetSlot), string(at.Outcome),
		at.Kind, at.Reason, at.ProbeAttempts, at.StartedAt.UnixNano(), at.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (a *SQLiteAudit) List(ctx context.Context, limit int) ([]model.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.DB.QueryContext(ctx,
		`SELECT id, app, version, from_slot, target_slot, outcome, kind, reason, probe_attempts, started_at, finished_at
		 FROM deployment_attempts WHERE app = ? ORDER BY started_at DESC LIMIT ?`,
		a.App, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.DeploymentAttempt
	for rows.Next() {
		var at model.DeploymentAttempt
		var from, target, outcome string
		var started, finished int64
		if err := rows.Scan(&at.ID, &at.App, &at.Version, &from, &target, &outcome,
			&at.Kind, &at.Reason, &at.ProbeAttempts, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		at.FromSlot = model.SlotID(from)
		at.TargetSlot = model.SlotID(target)
		at.Outcome = model.Outcome(outcome)
		at.StartedAt = time.Unix(0, started).UTC()
		at.FinishedAt = time.Unix(0, finished).UTC()
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}
