package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-notify/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// OpenConfig describes a database connection. It satisfies the
// go-persistence-bun config contract.
type OpenConfig struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
	// Migrate applies the embedded migrations for the driver's dialect.
	Migrate bool
}

func (c OpenConfig) GetDebug() bool    { return c.Debug }
func (c OpenConfig) GetDriver() string { return c.Driver }
func (c OpenConfig) GetServer() string { return c.DSN }

func (c OpenConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout > 0 {
		return c.PingTimeout
	}
	return 5 * time.Second
}

func (c OpenConfig) GetOtelIdentifier() string { return "go-notify" }

// Open connects to sqlite3 or postgres and registers the notify migrations
// for that dialect on the returned client.
func Open(ctx context.Context, cfg OpenConfig) (*persistence.Client, error) {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, badInput("sqlstore: dsn is required")
	}

	var (
		dialect        schema.Dialect
		migrateDialect string
	)
	switch cfg.Driver {
	case DriverSQLite, "sqlite":
		cfg.Driver = DriverSQLite
		dialect = sqlitedialect.New()
		migrateDialect = migrations.DialectSQLite
	case DriverPostgres, "postgresql", "pg":
		cfg.Driver = DriverPostgres
		dialect = pgdialect.New()
		migrateDialect = migrations.DialectPostgres
	default:
		return nil, badInput(fmt.Sprintf("sqlstore: unsupported driver %q", cfg.Driver))
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, storeError("sqlstore: open database", err)
	}
	if cfg.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, storeError("sqlstore: new persistence client", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrateDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrateDialect))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, storeError("sqlstore: migrate", err)
		}
	}
	return client, nil
}
