package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miguell-h2o/RPWA/internal/reddit"
)

// UpsertItems merges incoming items into a feed collection. Existing rows
// win over incoming duplicates (INSERT OR IGNORE is first-writer-wins), so
// the on-disk merge rule matches MergeItems. Returns the number of items
// actually added.
func UpsertItems(ctx context.Context, db *sql.DB, feed string, items []reddit.Item) (int, error) {
	ctx = contextOrBackground(ctx)

	if !ValidFeed(feed) {
		return 0, fmt.Errorf("unknown feed %q", feed)
	}

	stmt, err := db.PrepareContext(ctx, `
INSERT OR IGNORE INTO items
(feed, id, subreddit, author, created_at, score, comment_count, title, body_text, permalink, media_refs, is_video)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, &WriteError{Op: "prepare item upsert statement", Err: err}
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	inserted := 0

	for _, item := range items {
		refs, refsErr := encodeMediaRefs(item.MediaRefs)
		if refsErr != nil {
			return inserted, refsErr
		}

		res, execErr := stmt.ExecContext(ctx,
			feed,
			item.ID,
			item.Subreddit,
			item.Author,
			item.CreatedAt,
			item.Score,
			item.CommentCount,
			item.Title,
			nullString(item.BodyText),
			item.Permalink,
			refs,
			boolToInt(item.IsVideo),
		)
		if execErr != nil {
			return inserted, &WriteError{Op: "execute item upsert statement", Err: execErr}
		}

		affected, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return inserted, fmt.Errorf("count upserted item rows: %w", rowsErr)
		}

		inserted += int(affected)
	}

	return inserted, nil
}

// ListItems returns a feed collection newest-first.
func ListItems(ctx context.Context, db *sql.DB, feed string) ([]reddit.Item, error) {
	ctx = contextOrBackground(ctx)

	if !ValidFeed(feed) {
		return nil, fmt.Errorf("unknown feed %q", feed)
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, subreddit, author, created_at, score, comment_count, title, body_text, permalink, media_refs, is_video
FROM items
WHERE feed = ?
ORDER BY created_at DESC, id ASC
	`, feed)
	if err != nil {
		return nil, fmt.Errorf("query items for feed %q: %w", feed, err)
	}

	return collectItems(rows, fmt.Sprintf("feed %q", feed))
}

// FindItem looks an item up by id across the visible feed collections.
func FindItem(ctx context.Context, db *sql.DB, id string) (reddit.Item, bool, error) {
	ctx = contextOrBackground(ctx)

	row := db.QueryRowContext(ctx, `
SELECT id, subreddit, author, created_at, score, comment_count, title, body_text, permalink, media_refs, is_video
FROM items
WHERE id = ?
LIMIT 1
	`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reddit.Item{}, false, nil
	}
	if err != nil {
		return reddit.Item{}, false, fmt.Errorf("scan item %q: %w", id, err)
	}

	return item, true, nil
}

// RemoveSubredditItems deletes a followed collection's items from the "my"
// feed after an unfollow. Pinned copies stay.
func RemoveSubredditItems(ctx context.Context, db *sql.DB, name string) (int64, error) {
	ctx = contextOrBackground(ctx)

	res, err := db.ExecContext(ctx,
		"DELETE FROM items WHERE feed = ? AND subreddit = ? COLLATE NOCASE",
		FeedMy, name,
	)
	if err != nil {
		return 0, &WriteError{Op: fmt.Sprintf("delete items for subreddit %q", name), Err: err}
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed subreddit items: %w", err)
	}

	return removed, nil
}

// Pin copies an item into the pinned set. Pinning is a reference: the item
// keeps its place in the feed collections.
func Pin(ctx context.Context, db *sql.DB, item reddit.Item) error {
	ctx = contextOrBackground(ctx)

	refs, err := encodeMediaRefs(item.MediaRefs)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT OR IGNORE INTO pinned_items
(id, subreddit, author, created_at, score, comment_count, title, body_text, permalink, media_refs, is_video, pinned_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.Subreddit,
		item.Author,
		item.CreatedAt,
		item.Score,
		item.CommentCount,
		item.Title,
		nullString(item.BodyText),
		item.Permalink,
		refs,
		boolToInt(item.IsVideo),
		time.Now().UTC(),
	)
	if err != nil {
		return &WriteError{Op: fmt.Sprintf("pin item %q", item.ID), Err: err}
	}

	return nil
}

// Unpin removes an item from the pinned set.
func Unpin(ctx context.Context, db *sql.DB, id string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, "DELETE FROM pinned_items WHERE id = ?", id)
	if err != nil {
		return &WriteError{Op: fmt.Sprintf("unpin item %q", id), Err: err}
	}

	return nil
}

// ListPinned returns the pinned set newest-first.
func ListPinned(ctx context.Context, db *sql.DB) ([]reddit.Item, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT id, subreddit, author, created_at, score, comment_count, title, body_text, permalink, media_refs, is_video
FROM pinned_items
ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pinned items: %w", err)
	}

	return collectItems(rows, "pinned set")
}

// IsPinned reports pinned-set membership for an item id.
func IsPinned(ctx context.Context, db *sql.DB, id string) (bool, error) {
	ctx = contextOrBackground(ctx)

	var count int

	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pinned_items WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pinned membership for %q: %w", id, err)
	}

	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectItems(rows *sql.Rows, what string) ([]reddit.Item, error) {
	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var items []reddit.Item

	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row for %s: %w", what, scanErr)
		}

		items = append(items, item)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate rows for %s: %w", what, rowsErr)
	}

	return items, nil
}

func scanItem(row rowScanner) (reddit.Item, error) {
	var (
		item     reddit.Item
		bodyText sql.NullString
		refs     sql.NullString
		isVideo  int
	)

	err := row.Scan(
		&item.ID,
		&item.Subreddit,
		&item.Author,
		&item.CreatedAt,
		&item.Score,
		&item.CommentCount,
		&item.Title,
		&bodyText,
		&item.Permalink,
		&refs,
		&isVideo,
	)
	if err != nil {
		return reddit.Item{}, err
	}

	item.BodyText = bodyText.String
	item.IsVideo = isVideo != 0

	if refs.Valid && refs.String != "" {
		decodeErr := json.Unmarshal([]byte(refs.String), &item.MediaRefs)
		if decodeErr != nil {
			return reddit.Item{}, fmt.Errorf("decode media refs for %q: %w", item.ID, decodeErr)
		}
	}

	return item, nil
}

func encodeMediaRefs(refs []string) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encode media refs: %w", err)
	}

	return string(encoded), nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
