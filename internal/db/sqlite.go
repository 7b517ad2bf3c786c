package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (creating if needed) a SQLite database in WAL mode and applies
// the embedded schema. ":memory:" is pinned to one connection so every caller
// sees the same database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyMigrations(ctx, "migrations/sqlite", func(ctx context.Context, q string) error {
		_, err := conn.ExecContext(ctx, q)
		return err
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// sqliteDSN carries every per-connection pragma so each pooled connection gets it.
func sqliteDSN(path string) string {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return dsn
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}
