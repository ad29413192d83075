package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
)`

// DB is a sqlite database holding every visitor's keys.
type DB struct {
	sql *sql.DB
}

// Open opens (creating when needed) the sqlite database at path and makes
// sure the kv table exists.
func Open(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("kv: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kv: create database dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: create table: %w", err)
	}
	return &DB{sql: db}, nil
}

// SQL exposes the underlying handle so other tables can share the file.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Namespace returns a Store whose keys are isolated under ns.
func (d *DB) Namespace(ns string) Store {
	return &namespace{db: d.sql, ns: ns}
}

// CountKeys counts keys across all namespaces matching the include glob and,
// when exclude is not empty, not matching the exclude glob.
func (d *DB) CountKeys(ctx context.Context, include, exclude string) (int64, error) {
	query := `SELECT COUNT(*) FROM kv WHERE key GLOB ?`
	args := []any{include}
	if exclude != "" {
		query += ` AND key NOT GLOB ?`
		args = append(args, exclude)
	}
	var n int64
	if err := d.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv: count keys: %w", err)
	}
	return n, nil
}

type namespace struct {
	db *sql.DB
	ns string
}

func (n *namespace) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := n.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, n.ns, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return value, true, nil
}

func (n *namespace) Set(ctx context.Context, key, value string) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, n.ns, key, value, time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

func (n *namespace) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, n.ns)
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := n.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}
