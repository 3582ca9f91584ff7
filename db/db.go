package db

import (
	"context"
	"embed"
	"fmt"

	_ "github.com/tfkr-ae/orderproc/db/migrations"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql migrations/*.go
var embedMigrations embed.FS

const migrationsDir = "migrations"

// Repository provides a centralized structure for database operations, embedding the database connection.
// It acts as a receiver for methods that implement the various repository interfaces defined in the domain package.
type Repository struct {
	dbConn *sqlx.DB // dbConn is the active database connection pool.
}

// NewRepository initializes a new Repository with the given sqlx.DB database connection.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		dbConn: db,
	}
}

// Ping verifies the database connection is still usable.
func (repo *Repository) Ping(ctx context.Context) error {
	if err := repo.dbConn.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging db : %w", err)
	}
	return nil
}

// Close terminates the database connection.
// It is critical to call this to free up database resources.
func (repo *Repository) Close() error {
	err := repo.dbConn.Close()
	if err != nil {
		return fmt.Errorf("closing repo : %w", err)
	}
	return nil
}

// Open establishes a connection to a SQLite database file without applying migrations.
// WAL mode, a busy timeout and foreign keys are enabled on the connection.
func Open(name string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", name)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}

	// SQLite allows a single writer, batches and single inserts share one connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return db, nil
}

// New establishes a new connection to a SQLite database file and applies all pending migrations.
//
// The `name` parameter should be the file path for the SQLite database.
//
// It returns a ready-to-use sqlx.DB connection pool or an error if the connection or migrations fail.
func New(name string) (*sqlx.DB, error) {
	db, err := Open(name)
	if err != nil {
		return nil, err
	}

	if err := Migrate(context.Background(), db, "up"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs a goose command ("up", "down" or "status") against the embedded migrations.
func Migrate(ctx context.Context, db *sqlx.DB, command string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return fmt.Errorf("setting dialect for migrations : %w", err)
	}

	switch command {
	case "up":
		if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
			return fmt.Errorf("applying migration : %w", err)
		}
	case "down":
		if err := goose.DownContext(ctx, db.DB, migrationsDir); err != nil {
			return fmt.Errorf("rolling back migration : %w", err)
		}
	case "status":
		if err := goose.StatusContext(ctx, db.DB, migrationsDir); err != nil {
			return fmt.Errorf("reading migration status : %w", err)
		}
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	return nil
}

// Version returns the currently applied migration version.
func Version(db *sqlx.DB) (int64, error) {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return 0, fmt.Errorf("setting dialect for migrations : %w", err)
	}
	version, err := goose.GetDBVersion(db.DB)
	if err != nil {
		return 0, fmt.Errorf("getting db version : %w", err)
	}
	return version, nil
}
