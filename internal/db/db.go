package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

// Dialect captures the few SQL differences between the relational backends.
type Dialect string

const (
	SQLite   Dialect = DriverSQLite
	Postgres Dialect = DriverPostgres
)

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureDir creates the parent directory of a SQLite file if missing.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Open opens the relational database selected by cfg.Driver.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, "", fmt.Errorf("sqlite path required")
		}
		if err := EnsureDir(cfg.Path); err != nil {
			return nil, "", err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		// Single connection: SQLite allows one writer.
		conn.SetMaxOpenConns(1)
		return conn, SQLite, nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("postgres dsn required")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, Postgres, nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
