package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
)

const (
	// evictThresholdPct is the usage percentage above which the oldest
	// non-pinned items are purged.
	evictThresholdPct = 80
	// evictShareNum/evictShareDen express the evicted share of eligible
	// items: ceil(N/5), i.e. 20%.
	evictShareNum = 1
	evictShareDen = 5
)

// UsageFunc reports current storage usage and the granted quota in bytes.
// It stands in for the platform storage estimator.
type UsageFunc func() (used, quota int64, err error)

// FileUsage builds a UsageFunc from the database file size and a fixed
// quota grant.
func FileUsage(path string, quota int64) UsageFunc {
	return func() (int64, int64, error) {
		info, err := os.Stat(path)
		if err != nil {
			return 0, 0, fmt.Errorf("stat database file: %w", err)
		}

		return info.Size(), quota, nil
	}
}

// EvictIfOverQuota purges the oldest fifth of eviction-eligible items when
// usage crosses the threshold. Eligible means: present in a feed collection
// and absent from the pinned set. Pinned items are never removed, even when
// that keeps usage above the threshold forever; the storage display owns
// telling the user about that.
//
// The quota reported by usage is capped at maxQuota before the threshold
// check. Returns the number of distinct post ids removed.
func EvictIfOverQuota(ctx context.Context, db *sql.DB, usage UsageFunc, maxQuota int64) (int, error) {
	ctx = contextOrBackground(ctx)

	used, quota, err := usage()
	if err != nil {
		return 0, fmt.Errorf("estimate storage usage: %w", err)
	}

	if maxQuota > 0 && quota > maxQuota {
		quota = maxQuota
	}

	if quota <= 0 || used*100 < quota*evictThresholdPct {
		return 0, nil
	}

	removed, err := evictOldestEligible(ctx, db)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		slog.Info("evicted cached items",
			"removed", removed,
			"used_bytes", used,
			"quota_bytes", quota,
		)
	}

	return removed, nil
}

func evictOldestEligible(ctx context.Context, db *sql.DB) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &WriteError{Op: "begin eviction transaction", Err: err}
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	var eligible int

	err = tx.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT id)
FROM items
WHERE id NOT IN (SELECT id FROM pinned_items)
	`).Scan(&eligible)
	if err != nil {
		return 0, fmt.Errorf("count eviction-eligible items: %w", err)
	}

	if eligible == 0 {
		return 0, nil
	}

	// ceil(N/5) of the eligible union, oldest first.
	toRemove := (eligible*evictShareNum + evictShareDen - 1) / evictShareDen

	res, err := tx.ExecContext(ctx, `
DELETE FROM items
WHERE id IN (
	SELECT id
	FROM items
	WHERE id NOT IN (SELECT id FROM pinned_items)
	GROUP BY id
	ORDER BY MIN(created_at) ASC, id ASC
	LIMIT ?
)
	`, toRemove)
	if err != nil {
		return 0, &WriteError{Op: "delete evicted items", Err: err}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return 0, &WriteError{Op: "commit eviction transaction", Err: commitErr}
	}

	committed = true

	// RowsAffected counts rows, not distinct ids; an id shared by both feed
	// collections deletes two rows but is one eviction.
	_, raErr := res.RowsAffected()
	if raErr != nil {
		slog.Warn("count evicted rows failed", "err", raErr)
	}

	return toRemove, nil
}
