// Package database persists feeds, articles and digest history in SQLite or
// Postgres.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"           // Registers the postgres driver.
	_ "github.com/mattn/go-sqlite3" // Registers the sqlite3 driver.
)

// ErrNotConfigured is returned when no DATABASE_URL is set.
var ErrNotConfigured = errors.New("database is not configured")

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

//go:embed migrations
var migrationsFS embed.FS

type Database struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	log     *slog.Logger
}

// Open connects to databaseURL and applies pending migrations. Accepted forms
// are sqlite3://path, sqlite://path, postgres://... and postgresql://....
func Open(ctx context.Context, databaseURL string, log *slog.Logger) (*Database, error) {
	dialect, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	dbConn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open DB: %w", err)
	}

	if dialect == DialectSQLite {
		dbConn.SetMaxOpenConns(1)
	}

	if err = dbConn.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping DB: %w", err), dbConn.Close())
	}

	d := &Database{
		db:      dbConn,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholderFormat(dialect)),
		log:     log,
	}

	if err = d.migrate(ctx); err != nil {
		return nil, errors.Join(err, dbConn.Close())
	}

	return d, nil
}

func (d *Database) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close DB: %w", err)
	}

	return nil
}

func (d *Database) Dialect() Dialect {
	return d.dialect
}

func (d *Database) migrate(ctx context.Context) error {
	var (
		dbInstance migratedb.Driver
		err        error
	)

	switch d.dialect {
	case DialectSQLite:
		dbInstance, err = sqlite3.WithInstance(d.db, &sqlite3.Config{})
	case DialectPostgres:
		dbInstance, err = postgres.WithInstance(d.db, &postgres.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %q", d.dialect)
	}

	if err != nil {
		return fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, string(d.dialect), dbInstance)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dialect", d.dialect,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		d.log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dialect", d.dialect)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}

		d.log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		d.log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return nil
}

// rebind rewrites ? placeholders for the active dialect.
func (d *Database) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}

	rebound, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return query
	}

	return rebound
}

func (d *Database) closeRows(ctx context.Context, rows *sql.Rows, operation string) {
	if err := rows.Close(); err != nil {
		d.log.ErrorContext(ctx, "Failed to close rows",
			"error", err,
			"operation", operation)
	}
}

func parseURL(databaseURL string) (Dialect, string, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return "", "", ErrNotConfigured
	}

	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return "", "", errors.New("parse DATABASE_URL: missing scheme")
	}

	switch strings.ToLower(scheme) {
	case "sqlite3", "sqlite":
		if rest == "" {
			return "", "", errors.New("parse DATABASE_URL: empty sqlite path")
		}

		return DialectSQLite, rest, nil
	case "postgres", "postgresql":
		return DialectPostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("parse DATABASE_URL: unsupported scheme %q", scheme)
	}
}

func placeholderFormat(d Dialect) sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}

	return sq.Question
}
