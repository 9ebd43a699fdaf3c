// Package app wires the limiter, fetch client, queue, staging buffer, and
// store into one service object owned by the caller.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/miguell-h2o/RPWA/internal/config"
	"github.com/miguell-h2o/RPWA/internal/pending"
	"github.com/miguell-h2o/RPWA/internal/queue"
	"github.com/miguell-h2o/RPWA/internal/ratelimit"
	"github.com/miguell-h2o/RPWA/internal/reddit"
	"github.com/miguell-h2o/RPWA/internal/store"
)

// UpdateService is the app-shell update collaborator: it knows whether a
// new version is installed and waiting, and can activate it. The core only
// calls it after the last-update timestamp has been persisted.
type UpdateService interface {
	UpdateReady(ctx context.Context) (bool, error)
	Activate(ctx context.Context) error
}

// NoopUpdateService is the default collaborator when no shell integration
// is configured.
type NoopUpdateService struct{}

func (NoopUpdateService) UpdateReady(context.Context) (bool, error) { return false, nil }

func (NoopUpdateService) Activate(context.Context) error { return nil }

// AboutFetcher serves subreddit metadata for the info popup.
type AboutFetcher interface {
	About(ctx context.Context, name string) (reddit.AboutInfo, error)
}

// Deps are optional collaborator overrides; zero fields get defaults built
// from the config.
type Deps struct {
	Fetcher queue.Fetcher
	About   AboutFetcher
	Online  func() bool
	Usage   store.UsageFunc
	Updates UpdateService
}

// App owns all mutable service state. Construct one per process and pass
// it to the HTTP layer; nothing here is a package-level singleton.
type App struct {
	db      *sql.DB
	cfg     config.Config
	limiter *ratelimit.Limiter
	buffer  *pending.Buffer
	queue   *queue.Queue
	about   AboutFetcher
	online  func() bool
	usage   store.UsageFunc
	updates UpdateService
}

// New builds the service graph. The rate limiter is restored from its
// persisted snapshot (with the stale-window guard) and jobs stranded in
// processing by a previous crash are returned to pending.
func New(ctx context.Context, db *sql.DB, cfg config.Config, deps Deps) (*App, error) {
	state, err := store.GetValue(ctx, db, store.KeyRateState, ratelimit.State{})
	if err != nil {
		// A broken snapshot costs a fresh window, nothing more.
		slog.Warn("load rate limit state failed", "err", err)

		state = ratelimit.State{}
	}

	limiter := ratelimit.Restore(cfg.QuotaCap, cfg.QuotaWindow, cfg.MinRequestInterval, state)

	fetcher := deps.Fetcher
	about := deps.About

	if fetcher == nil {
		client := reddit.NewClient(limiter, reddit.ClientConfig{
			BaseURL:        cfg.APIBaseURL,
			UserAgent:      cfg.UserAgent,
			ListingLimit:   cfg.ListingLimit,
			FetchTimeout:   cfg.FetchTimeout,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			BackoffCap:     cfg.BackoffCap,
		})

		fetcher = client
		if about == nil {
			about = client
		}
	}

	online := deps.Online
	if online == nil {
		online = func() bool { return true }
	}

	usage := deps.Usage
	if usage == nil {
		usage = store.FileUsage(cfg.DBPath, cfg.StorageQuotaBytes)
	}

	updates := deps.Updates
	if updates == nil {
		updates = NoopUpdateService{}
	}

	buffer := pending.NewBuffer()

	a := &App{
		db:      db,
		cfg:     cfg,
		limiter: limiter,
		buffer:  buffer,
		queue:   queue.New(db, fetcher, buffer, online),
		about:   about,
		online:  online,
		usage:   usage,
		updates: updates,
	}

	err = a.queue.ResetInterrupted(ctx)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Run drives the periodic loops: drain retries (the resumption path after
// connectivity loss), housekeeping (eviction retry plus rate-state
// persistence), and the update-service poll. It blocks until ctx is done;
// all tickers stop with it.
func (a *App) Run(ctx context.Context) {
	drainTicker := time.NewTicker(a.cfg.DrainInterval)
	defer drainTicker.Stop()

	housekeepTicker := time.NewTicker(a.cfg.HousekeepInterval)
	defer housekeepTicker.Stop()

	updateTicker := time.NewTicker(a.cfg.UpdateCheckInterval)
	defer updateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.persistRateState(context.Background())

			return
		case <-drainTicker.C:
			a.drainIfBacklogged(ctx)
		case <-housekeepTicker.C:
			a.housekeep(ctx)
		case <-updateTicker.C:
			a.checkForUpdate(ctx)
		}
	}
}

func (a *App) drainIfBacklogged(ctx context.Context) {
	pendingJobs, err := a.queue.PendingCount(ctx)
	if err != nil {
		slog.Warn("pending count failed", "err", err)

		return
	}

	if pendingJobs == 0 {
		return
	}

	err = a.Drain(ctx)
	if err != nil {
		slog.Warn("periodic drain failed", "err", err)
	}
}

func (a *App) housekeep(ctx context.Context) {
	// Eviction skipped earlier because of a write failure gets another
	// chance here.
	_, err := store.EvictIfOverQuota(ctx, a.db, a.usage, a.cfg.StorageQuotaBytes)
	if err != nil {
		slog.Warn("housekeeping eviction failed", "err", err)
	}

	a.persistRateState(ctx)
}

func (a *App) checkForUpdate(ctx context.Context) {
	ready, err := a.updates.UpdateReady(ctx)
	if err != nil {
		slog.Warn("update readiness check failed", "err", err)

		return
	}

	if !ready {
		return
	}

	err = a.updates.Activate(ctx)
	if err != nil {
		slog.Warn("update activation failed", "err", err)

		return
	}

	slog.Info("new version activated")
}

func (a *App) persistRateState(ctx context.Context) {
	err := store.SetValue(ctx, a.db, store.KeyRateState, a.limiter.Snapshot())
	if err != nil {
		slog.Warn("persist rate limit state failed", "err", err)
	}
}
