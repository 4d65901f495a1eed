package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"switchyard/api/model"
)

type DB struct {
	Pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS registry_state (
			app        TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS deployment_attempts (
			id             TEXT PRIMARY KEY,
			app            TEXT NOT NULL,
			version        TEXT NOT NULL,
			from_slot      TEXT NOT NULL,
			target_slot    TEXT NOT NULL,
			outcome        TEXT NOT NULL,
			kind           TEXT NOT NULL DEFAULT '',
			reason         TEXT NOT NULL DEFAULT '',
			probe_attempts INTEGER NOT NULL DEFAULT 0,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_app ON deployment_attempts(app, started_at DESC);
	`)
	return err
}

// Healthy checks the database connection.
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

// PGRegistry stores one app's registry document as a JSONB row.
type PGRegistry struct {
	pool *pgxpool.Pool
	app  string
}

func (db *DB) Registry(app string) *PGRegistry {
	return &PGRegistry{pool: db.Pool, app: app}
}

func (r *PGRegistry) Load(ctx context.Context) (*model.RegistryState, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM registry_state WHERE app = $1`, r.app).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st model.RegistryState
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("parse registry doc: %w", err)
	}
	return &st, nil
}

func (r *PGRegistry) Save(ctx context.Context, st *model.RegistryState) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal registry doc: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO registry_state (app, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (app) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		r.app, doc,
	)
	return err
}

// PGAudit stores one app's deployment attempts.
type PGAudit struct {
	pool *pgxpool.Pool
	app  string
}

func (db *DB) Audit(app string) *PGAudit {
	return &PGAudit{pool: db.Pool, app: app}
}

func (a *PGAudit) Append(ctx context.Context, at *model.DeploymentAttempt) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO deployment_attempts
		   (id, app, version, from_slot, target_slot, outcome, kind, reason, probe_attempts, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		at.ID, a.app, at.Version, string(at.FromSlot), string(at.TargetSlot), string(at.Outcome),
		at.Kind, at.Reason, at.ProbeAttempts, at.StartedAt, at.FinishedAt,
	)
	return err
}

func (a *PGAudit) List(ctx context.Context, limit int) ([]model.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, app, version, from_slot, target_slot, outcome, kind, reason, probe_attempts, started_at, finished_at
		 FROM deployment_attempts WHERE app = $1 ORDER BY started_at DESC LIMIT $2`,
		a.app, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.DeploymentAttempt
	for rows.Next() {
		var at model.DeploymentAttempt
		var from, target, outcome string
		if err := rows.Scan(&at.ID, &at.App, &at.Version, &from, &target, &outcome,
			&at.Kind, &at.Reason, &at.ProbeAttempts, &at.StartedAt, &at.FinishedAt); err != nil {
			return nil, err
		}
		at.FromSlot = model.SlotID(from)
		at.TargetSlot = model.SlotID(target)
		at.Outcome = model.Outcome(outcome)
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}
