package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miguell-h2o/RPWA/internal/queue"
	"github.com/miguell-h2o/RPWA/internal/ratelimit"
	"github.com/miguell-h2o/RPWA/internal/reddit"
	"github.com/miguell-h2o/RPWA/internal/store"
)

// EnqueueRefresh queues one fetch job per followed subreddit plus the
// popular collection. Returns the number of jobs queued.
func (a *App) EnqueueRefresh(ctx context.Context) (int, error) {
	follows, err := store.ListFollows(ctx, a.db)
	if err != nil {
		return 0, err
	}

	queued := 0

	for _, name := range follows {
		_, err = a.queue.Enqueue(ctx, queue.KindFetchNamed, name)
		if err != nil {
			return queued, err
		}

		queued++
	}

	_, err = a.queue.Enqueue(ctx, queue.KindFetchPopular, "")
	if err != nil {
		return queued, err
	}

	return queued + 1, nil
}

// RefreshAll enqueues a full refresh and drains it.
func (a *App) RefreshAll(ctx context.Context) (int, error) {
	queued, err := a.EnqueueRefresh(ctx)
	if err != nil {
		return queued, err
	}

	return queued, a.Drain(ctx)
}

// Drain runs one queue pass, then persists the limiter snapshot. A clean
// pass also records the last-update timestamp and gives the update service
// a chance to activate a waiting version.
func (a *App) Drain(ctx context.Context) error {
	err := a.queue.Drain(ctx)

	a.persistRateState(ctx)

	if err != nil {
		return err
	}

	setErr := store.SetValue(ctx, a.db, store.KeyLastUpdate, time.Now().UTC())
	if setErr != nil {
		slog.Warn("persist last-update timestamp failed", "err", setErr)

		return nil
	}

	a.checkForUpdate(ctx)

	return nil
}

// Apply merges a feed's staged items into the visible cache and clears the
// staging slot. Returns the number of items actually added (staged items
// already present keep their existing entry). A failed write restages the
// items so nothing staged is silently dropped while the process lives.
func (a *App) Apply(ctx context.Context, feed string) (int, error) {
	if !store.ValidFeed(feed) {
		return 0, fmt.Errorf("unknown feed %q", feed)
	}

	staged := a.buffer.Take(feed)
	if len(staged) == 0 {
		return 0, nil
	}

	incoming := store.MergeItems(nil, staged)

	if feed == store.FeedPopular {
		filtered, err := a.dropBlocked(ctx, incoming)
		if err != nil {
			a.buffer.Restage(feed, staged)

			return 0, err
		}

		incoming = filtered
	}

	added, err := store.UpsertItems(ctx, a.db, feed, incoming)
	if err != nil {
		var writeErr *store.WriteError
		if errors.As(err, &writeErr) {
			a.buffer.Restage(feed, staged)
		}

		return 0, err
	}

	_, evictErr := store.EvictIfOverQuota(ctx, a.db, a.usage, a.cfg.StorageQuotaBytes)
	if evictErr != nil {
		// Headroom recovery retries on the next housekeeping pass.
		slog.Warn("eviction after apply failed", "err", evictErr)
	}

	slog.Info("applied staged items", "feed", feed, "staged", len(staged), "added", added)

	return added, nil
}

func (a *App) dropBlocked(ctx context.Context, items []reddit.Item) ([]reddit.Item, error) {
	blocks, err := store.ListBlocks(ctx, a.db)
	if err != nil {
		return nil, err
	}

	if len(blocks) == 0 {
		return items, nil
	}

	blocked := make(map[string]struct{}, len(blocks))
	for _, name := range blocks {
		blocked[normalizeName(name)] = struct{}{}
	}

	kept := items[:0]

	for _, item := range items {
		if _, skip := blocked[normalizeName(item.Subreddit)]; skip {
			continue
		}

		kept = append(kept, item)
	}

	return kept, nil
}

// StagedCounts reports pending items per feed for the "N new posts" badge.
func (a *App) StagedCounts() map[string]int {
	return a.buffer.Counts()
}

// FailedCount returns the persistent failure-indicator value.
func (a *App) FailedCount(ctx context.Context) (int, error) {
	return a.queue.FailedCount(ctx)
}

// ClearFailed dismisses the terminal failures.
func (a *App) ClearFailed(ctx context.Context) error {
	return a.queue.ClearFailed(ctx)
}

// Status is the daemon state surfaced to the status endpoint.
type Status struct {
	Online         bool            `json:"online"`
	PendingJobs    int             `json:"pending_jobs"`
	FailedJobs     int             `json:"failed_jobs"`
	FailedTargets  []string        `json:"failed_targets,omitempty"`
	Staged         map[string]int  `json:"staged,omitempty"`
	Quota          ratelimit.State `json:"quota"`
	UsedBytes      int64           `json:"used_bytes"`
	QuotaBytes     int64           `json:"quota_bytes"`
	LastUpdateAt   time.Time       `json:"last_update_at,omitzero"`
	CurrentFeed    string          `json:"current_feed"`
	FollowedCount  int             `json:"followed_count"`
	PinnedCount    int             `json:"pinned_count"`
}

// CurrentStatus assembles the status snapshot.
func (a *App) CurrentStatus(ctx context.Context) (Status, error) {
	status := Status{
		Online: a.online(),
		Quota:  a.limiter.Snapshot(),
		Staged: a.buffer.Counts(),
	}

	var err error

	status.PendingJobs, err = a.queue.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}

	status.FailedJobs, err = a.queue.FailedCount(ctx)
	if err != nil {
		return Status{}, err
	}

	status.FailedTargets, err = a.queue.FailedTargets(ctx)
	if err != nil {
		return Status{}, err
	}

	used, quota, usageErr := a.usage()
	if usageErr != nil {
		slog.Warn("storage usage estimate failed", "err", usageErr)
	} else {
		status.UsedBytes = used

		if a.cfg.StorageQuotaBytes > 0 && quota > a.cfg.StorageQuotaBytes {
			quota = a.cfg.StorageQuotaBytes
		}

		status.QuotaBytes = quota
	}

	status.LastUpdateAt, err = store.GetValue(ctx, a.db, store.KeyLastUpdate, time.Time{})
	if err != nil {
		slog.Warn("read last-update timestamp failed", "err", err)
	}

	status.CurrentFeed, err = store.GetValue(ctx, a.db, store.KeyCurrentFeed, store.FeedMy)
	if err != nil {
		slog.Warn("read current feed failed", "err", err)

		status.CurrentFeed = store.FeedMy
	}

	follows, err := store.ListFollows(ctx, a.db)
	if err != nil {
		return Status{}, err
	}

	status.FollowedCount = len(follows)

	pinned, err := store.ListPinned(ctx, a.db)
	if err != nil {
		return Status{}, err
	}

	status.PinnedCount = len(pinned)

	return status, nil
}
