// Package store provides SQLite-backed persistence for cached feed items,
// the pinned set, follow/block lists, sync jobs, and key-value state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.
)

// Feed names the visible item collections.
const (
	FeedMy      = "my"
	FeedPopular = "popular"
)

// ValidFeed reports whether name is a known item collection.
func ValidFeed(name string) bool {
	return name == FeedMy || name == FeedPopular
}

// Open is part of the store package API.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;")
	if err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init is part of the store package API.
func Init(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS items (
	feed TEXT NOT NULL,
	id TEXT NOT NULL,
	subreddit TEXT NOT NULL,
	author TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL,
	body_text TEXT,
	permalink TEXT NOT NULL,
	media_refs TEXT,
	is_video INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (feed, id)
);

CREATE INDEX IF NOT EXISTS items_created_at ON items (feed, created_at DESC);

CREATE TABLE IF NOT EXISTS pinned_items (
	id TEXT PRIMARY KEY,
	subreddit TEXT NOT NULL,
	author TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL,
	body_text TEXT,
	permalink TEXT NOT NULL,
	media_refs TEXT,
	is_video INTEGER NOT NULL DEFAULT 0,
	pinned_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS follows (
	name TEXT PRIMARY KEY,
	added_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	name TEXT PRIMARY KEY,
	added_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	target TEXT,
	created_at DATETIME NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

	_, err := db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	return value
}

func rollbackTx(tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("tx rollback failed", "err", err)
	}
}
