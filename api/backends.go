package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"switchyard/api/audit"
	"switchyard/api/config"
	"switchyard/api/consul"
	"switchyard/api/handler"
	"switchyard/api/model"
	"switchyard/api/registry"
	"switchyard/api/storage"
	"switchyard/api/store"
)

// backends opens the stores named in the config, sharing one connection
// per database between the registry and the audit log.
type backends struct {
	cfg    *config.Config
	app    string
	sqlite *sql.DB
	pg     *store.DB
	checks []handler.Check
}

func (b *backends) sqliteDB() (*sql.DB, error) {
	if b.sqlite != nil {
		return b.sqlite, nil
	}
	db, err := store.OpenSQLite(b.cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	b.sqlite = db
	b.checks = append(b.checks, handler.Check{Name: "sqlite", Probe: db.PingContext})
	return db, nil
}

func (b *backends) postgres() (*store.DB, error) {
	if b.pg != nil {
		return b.pg, nil
	}
	if b.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: SWITCHYARD_DATABASE_URL is required for the postgres backend", model.ErrInvalidConfig)
	}
	db, err := store.Connect(b.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	b.pg = db
	b.checks = append(b.checks, handler.Check{Name: "postgres", Probe: db.Healthy})
	return db, nil
}

func (b *backends) registry() (registry.Backend, error) {
	switch b.cfg.RegistryBackend {
	case "file":
		if err := os.MkdirAll(b.cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return registry.NewFileBackend(b.cfg.RegistryPath()), nil
	case "memory":
		log.Println("WARNING: memory registry does not survive a restart")
		return registry.NewMemoryBackend(), nil
	case "sqlite":
		db, err := b.sqliteDB()
		if err != nil {
			return nil, err
		}
		return &store.SQLiteRegistry{DB: db, App: b.app}, nil
	case "postgres":
		db, err := b.postgres()
		if err != nil {
			return nil, err
		}
		return db.Registry(b.app), nil
	case "consul":
		c, err := consul.NewClient(b.cfg.ConsulAddr)
		if err != nil {
			return nil, err
		}
		b.checks = append(b.checks, handler.Check{Name: "consul", Probe: func(context.Context) error { return c.Healthy() }})
		return c.Registry(b.cfg.ConsulPrefix, b.app), nil
	}
	return nil, fmt.Errorf("%w: unknown registry backend %q", model.ErrInvalidConfig, b.cfg.RegistryBackend)
}

func (b *backends) audit(ctx context.Context) (audit.Store, error) {
	switch b.cfg.AuditBackend {
	case "file":
		if err := os.MkdirAll(b.cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return audit.NewFileStore(b.cfg.AuditPath()), nil
	case "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		db, err := b.sqliteDB()
		if err != nil {
			return nil, err
		}
		return &store.SQLiteAudit{DB: db, App: b.app}, nil
	case "postgres":
		db, err := b.postgres()
		if err != nil {
			return nil, err
		}
		return db.Audit(b.app), nil
	case "s3":
		c, err := storage.NewClient(storage.Config{
			Endpoint:  b.cfg.S3Endpoint,
			AccessKey: b.cfg.S3AccessKey,
			SecretKey: b.cfg.S3SecretKey,
			Region:    b.cfg.S3Region,
			UseSSL:    b.cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := c.EnsureBucket(ctx, b.cfg.S3Bucket); err != nil {
			return nil, err
		}
		log.Println("S3 audit log at " + c.Endpoint() + "/" + b.cfg.S3Bucket)
		b.checks = append(b.checks, handler.Check{Name: "s3", Probe: c.Healthy})
		return c.Audit(b.cfg.S3Bucket, b.app), nil
	}
	return nil, fmt.Errorf("%w: unknown audit backend %q", model.ErrInvalidConfig, b.cfg.AuditBackend)
}

func (b *backends) Close() {
	if b.sqlite != nil {
		b.sqlite.Close()
	}
	if b.pg != nil {
		b.pg.Close()
	}
}
