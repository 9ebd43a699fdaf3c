package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Follow adds a subreddit to the followed list.
func Follow(ctx context.Context, db *sql.DB, name string) error {
	return addListEntry(ctx, db, "follows", name)
}

// Unfollow removes a subreddit from the followed list.
func Unfollow(ctx context.Context, db *sql.DB, name string) error {
	return removeListEntry(ctx, db, "follows", name)
}

// ListFollows returns the followed subreddits in insertion order.
func ListFollows(ctx context.Context, db *sql.DB) ([]string, error) {
	return listEntries(ctx, db, "follows")
}

// IsFollowed reports followed-list membership.
func IsFollowed(ctx context.Context, db *sql.DB, name string) (bool, error) {
	return listContains(ctx, db, "follows", name)
}

// Block adds a subreddit to the blocked list.
func Block(ctx context.Context, db *sql.DB, name string) error {
	return addListEntry(ctx, db, "blocks", name)
}

// Unblock removes a subreddit from the blocked list.
func Unblock(ctx context.Context, db *sql.DB, name string) error {
	return removeListEntry(ctx, db, "blocks", name)
}

// ListBlocks returns the blocked subreddits in insertion order.
func ListBlocks(ctx context.Context, db *sql.DB) ([]string, error) {
	return listEntries(ctx, db, "blocks")
}

// IsBlocked reports blocked-list membership.
func IsBlocked(ctx context.Context, db *sql.DB, name string) (bool, error) {
	return listContains(ctx, db, "blocks", name)
}

// ReplaceFollows swaps the followed list wholesale, for imports. The swap
// is transactional so a failed import leaves the previous list intact.
func ReplaceFollows(ctx context.Context, db *sql.DB, names []string) error {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Op: "begin replace follows transaction", Err: err}
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM follows")
	if err != nil {
		return &WriteError{Op: "clear followed list", Err: err}
	}

	now := time.Now().UTC()

	for _, name := range names {
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO follows (name, added_at) VALUES (?, ?)",
			name, now,
		)
		if err != nil {
			return &WriteError{Op: fmt.Sprintf("insert followed subreddit %q", name), Err: err}
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return &WriteError{Op: "commit replace follows transaction", Err: commitErr}
	}

	committed = true

	return nil
}

func addListEntry(ctx context.Context, db *sql.DB, table, name string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+table+" (name, added_at) VALUES (?, ?)",
		name, time.Now().UTC(),
	)
	if err != nil {
		return &WriteError{Op: fmt.Sprintf("add %q to %s", name, table), Err: err}
	}

	return nil
}

func removeListEntry(ctx context.Context, db *sql.DB, table, name string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE name = ? COLLATE NOCASE", name)
	if err != nil {
		return &WriteError{Op: fmt.Sprintf("remove %q from %s", name, table), Err: err}
	}

	return nil
}

func listEntries(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, "SELECT name FROM "+table+" ORDER BY added_at ASC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var names []string

	for rows.Next() {
		var name string

		scanErr := rows.Scan(&name)
		if scanErr != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, scanErr)
		}

		names = append(names, name)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, rowsErr)
	}

	return names, nil
}

func listContains(ctx context.Context, db *sql.DB, table, name string) (bool, error) {
	ctx = contextOrBackground(ctx)

	var count int

	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE name = ? COLLATE NOCASE", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check %s membership for %q: %w", table, name, err)
	}

	return count > 0, nil
}
