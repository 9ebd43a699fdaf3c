// Package queue is the durable backlog of fetch jobs. Jobs survive process
// restarts and connectivity loss in SQLite and drain serially through the
// fetch client.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miguell-h2o/RPWA/internal/reddit"
	"github.com/miguell-h2o/RPWA/internal/store"
)

// Job kinds.
const (
	KindFetchNamed   = "fetch_named"
	KindFetchPopular = "fetch_popular"
)

// Job statuses. A job moves pending → processing → completed, or back to
// failed for another pass, until the retry ceiling tips it into
// failed_terminal.
const (
	StatusPending        = "pending"
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusFailedTerminal = "failed_terminal"
)

const defaultMaxRetries = 3

// Job is one deferred unit of fetch work.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Retries   int       `json:"retries"`
	Status    string    `json:"status"`
}

// Fetcher fetches one collection's normalized items.
type Fetcher interface {
	FetchListing(ctx context.Context, target string) ([]reddit.Item, error)
}

// Stager receives a completed job's items for later application.
type Stager interface {
	Stage(feed string, items []reddit.Item)
}

// Queue drains persisted jobs through a Fetcher.
type Queue struct {
	db         *sql.DB
	fetcher    Fetcher
	stager     Stager
	online     func() bool
	maxRetries int
	drainMu    sync.Mutex
}

// New builds a queue over the shared database. online is the connectivity
// probe consulted before each job; nil means always online.
func New(db *sql.DB, fetcher Fetcher, stager Stager, online func() bool) *Queue {
	if online == nil {
		online = func() bool { return true }
	}

	return &Queue{
		db:         db,
		fetcher:    fetcher,
		stager:     stager,
		online:     online,
		maxRetries: defaultMaxRetries,
	}
}

// Enqueue appends a job and persists it. Jobs are never reordered.
func (q *Queue) Enqueue(ctx context.Context, kind, target string) (Job, error) {
	if kind != KindFetchNamed && kind != KindFetchPopular {
		return Job{}, fmt.Errorf("unknown job kind %q", kind)
	}

	if kind == KindFetchNamed && target == "" {
		return Job{}, errors.New("named fetch job requires a target")
	}

	job := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO sync_jobs (id, kind, target, created_at, retries, status)
VALUES (?, ?, ?, ?, 0, ?)
	`, job.ID, job.Kind, job.Target, job.CreatedAt, job.Status)
	if err != nil {
		return Job{}, &store.WriteError{Op: "insert sync job", Err: err}
	}

	slog.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "target", job.Target)

	return job, nil
}

// Drain processes eligible jobs oldest-first, one at a time. It is
// single-flight: a call that finds a drain already running is a no-op.
// Connectivity loss halts the pass with remaining jobs untouched; the next
// trigger resumes from the oldest eligible job. Completed jobs are purged
// after the pass; terminal failures stay visible until cleared.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.drainMu.TryLock() {
		return nil
	}
	defer q.drainMu.Unlock()

	jobs, err := q.eligibleJobs(ctx)
	if err != nil {
		return err
	}

	var passErr error

	for _, job := range jobs {
		if ctx.Err() != nil {
			passErr = ctx.Err()

			break
		}

		if !q.online() {
			slog.Warn("drain halted, offline", "remaining", job.ID)

			passErr = reddit.ErrNetworkUnavailable

			break
		}

		halt, jobErr := q.runJob(ctx, job)
		if halt {
			passErr = jobErr

			break
		}
	}

	purgeErr := q.purgeCompleted(ctx)
	if passErr == nil {
		passErr = purgeErr
	}

	return passErr
}

// runJob executes one attempt of one job. The halt return asks the caller
// to stop the pass (connectivity gone) with the job left pending.
func (q *Queue) runJob(ctx context.Context, job Job) (bool, error) {
	err := q.setStatus(ctx, job.ID, StatusProcessing, job.Retries)
	if err != nil {
		return false, err
	}

	items, fetchErr := q.fetcher.FetchListing(ctx, q.jobTarget(job))
	if fetchErr == nil {
		q.stager.Stage(q.jobFeed(job), items)

		markErr := q.setStatus(ctx, job.ID, StatusCompleted, job.Retries)
		if markErr != nil {
			return false, markErr
		}

		slog.Info("job completed", "job_id", job.ID, "kind", job.Kind, "items", len(items))

		return false, nil
	}

	if errors.Is(fetchErr, reddit.ErrNetworkUnavailable) || errors.Is(fetchErr, context.Canceled) {
		// Not the job's fault: put it back and stop this pass.
		revertErr := q.setStatus(ctx, job.ID, StatusPending, job.Retries)
		if revertErr != nil {
			slog.Warn("revert job to pending failed", "job_id", job.ID, "err", revertErr)
		}

		return true, fetchErr
	}

	retries := job.Retries + 1
	status := StatusFailed

	if retries > q.maxRetries {
		status = StatusFailedTerminal
	}

	slog.Warn("job attempt failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"target", job.Target,
		"retries", retries,
		"status", status,
		"err", fetchErr,
	)

	return false, q.setStatus(ctx, job.ID, status, retries)
}

func (q *Queue) jobTarget(job Job) string {
	if job.Kind == KindFetchPopular {
		return reddit.TargetPopular
	}

	return job.Target
}

func (q *Queue) jobFeed(job Job) string {
	if job.Kind == KindFetchPopular {
		return store.FeedPopular
	}

	return store.FeedMy
}

// eligibleJobs returns pending and retryable-failed jobs, oldest first.
// Each job gets at most one attempt per pass.
func (q *Queue) eligibleJobs(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, kind, COALESCE(target, ''), created_at, retries, status
FROM sync_jobs
WHERE status IN (?, ?)
ORDER BY created_at ASC, id ASC
	`, StatusPending, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("query eligible jobs: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var jobs []Job

	for rows.Next() {
		var job Job

		scanErr := rows.Scan(&job.ID, &job.Kind, &job.Target, &job.CreatedAt, &job.Retries, &job.Status)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}

		jobs = append(jobs, job)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate job rows: %w", rowsErr)
	}

	return jobs, nil
}

func (q *Queue) setStatus(ctx context.Context, id, status string, retries int) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ?, retries = ? WHERE id = ?",
		status, retries, id,
	)
	if err != nil {
		return &store.WriteError{Op: fmt.Sprintf("update job %s to %s", id, status), Err: err}
	}

	return nil
}

func (q *Queue) purgeCompleted(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM sync_jobs WHERE status = ?", StatusCompleted)
	if err != nil {
		return &store.WriteError{Op: "purge completed jobs", Err: err}
	}

	return nil
}

// ResetInterrupted returns jobs stranded in processing by a crash to
// pending. Call once at startup before the first drain.
func (q *Queue) ResetInterrupted(ctx context.Context) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ? WHERE status = ?",
		StatusPending, StatusProcessing,
	)
	if err != nil {
		return &store.WriteError{Op: "reset interrupted jobs", Err: err}
	}

	reset, raErr := res.RowsAffected()
	if raErr == nil && reset > 0 {
		slog.Info("reset interrupted jobs", "count", reset)
	}

	return nil
}

// FailedCount returns the number of terminally failed jobs still on record.
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	var count int

	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_jobs WHERE status = ?", StatusFailedTerminal,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count terminal failures: %w", err)
	}

	return count, nil
}

// FailedTargets lists the targets of terminally failed jobs for the
// failure notification.
func (q *Queue) FailedTargets(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT COALESCE(NULLIF(target, ''), kind)
FROM sync_jobs
WHERE status = ?
ORDER BY created_at ASC
	`, StatusFailedTerminal)
	if err != nil {
		return nil, fmt.Errorf("query failed targets: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var targets []string

	for rows.Next() {
		var target string

		scanErr := rows.Scan(&target)
		if scanErr != nil {
			return nil, fmt.Errorf("scan failed target: %w", scanErr)
		}

		targets = append(targets, target)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate failed targets: %w", rowsErr)
	}

	return targets, nil
}

// ClearFailed drops terminally failed jobs after the user retries or
// dismisses them.
func (q *Queue) ClearFailed(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM sync_jobs WHERE status = ?", StatusFailedTerminal,
	)
	if err != nil {
		return &store.WriteError{Op: "clear terminal failures", Err: err}
	}

	return nil
}

// PendingCount returns the number of jobs still waiting for a successful
// attempt.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int

	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_jobs WHERE status IN (?, ?)",
		StatusPending, StatusFailed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}

	return count, nil
}
