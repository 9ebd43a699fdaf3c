package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miguell-h2o/RPWA/internal/ratelimit"
)

const (
	// TargetPopular names the sitewide popular collection.
	TargetPopular = "popular"

	headerQuotaRemaining = "X-Ratelimit-Remaining"
	headerQuotaReset     = "X-Ratelimit-Reset"

	maxJitter = time.Second
)

// ClientConfig tunes a Client. Zero values fall back to the defaults below.
type ClientConfig struct {
	BaseURL        string
	UserAgent      string
	ListingLimit   int
	FetchTimeout   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	BackoffCap     time.Duration
}

// Client performs timed, retried fetches of one feed collection and feeds
// authoritative quota data back to the limiter.
type Client struct {
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	baseURL      string
	userAgent    string
	listingLimit int
	fetchTimeout time.Duration
	maxRetries   int
	initial      time.Duration
	backoffCap   time.Duration

	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient builds a listing API client on top of the given limiter.
func NewClient(limiter *ratelimit.Limiter, cfg ClientConfig) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		limiter:      limiter,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:    cfg.UserAgent,
		listingLimit: cfg.ListingLimit,
		fetchTimeout: cfg.FetchTimeout,
		maxRetries:   cfg.MaxRetries,
		initial:      cfg.InitialBackoff,
		backoffCap:   cfg.BackoffCap,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
		sleep: sleepCtx,
	}

	if c.baseURL == "" {
		c.baseURL = "https://www.reddit.com"
	}
	if c.userAgent == "" {
		c.userAgent = "rpwa-feed-cache/1.0"
	}
	if c.listingLimit <= 0 {
		c.listingLimit = 25
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = 15 * time.Second
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.initial <= 0 {
		c.initial = 2 * time.Second
	}
	if c.backoffCap <= 0 {
		c.backoffCap = 30 * time.Second
	}

	return c
}

// FetchListing fetches one collection and returns its normalized items.
// Target is a subreddit name, or TargetPopular for the sitewide feed.
// Timeouts and 429s are retried up to the retry ceiling; everything else
// is terminal for this fetch.
func (c *Client) FetchListing(ctx context.Context, target string) ([]Item, error) {
	listingURL, err := c.listingURL(target)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		items, retry, err := c.attempt(ctx, listingURL)
		if err == nil {
			return items, nil
		}

		if !retry || attempt >= c.maxRetries {
			if errors.Is(err, errThrottled) {
				return nil, fmt.Errorf("fetch %s: %w", target, ErrRateLimited)
			}

			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}

		delay := ComputeRetryDelay(attempt, c.initial, c.backoffCap) + c.jitter()
		if delay > c.backoffCap {
			delay = c.backoffCap
		}

		slog.Info("fetch retry",
			"target", target,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"err", err,
		)

		sleepErr := c.sleep(ctx, delay)
		if sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// errThrottled marks a pre-ceiling 429 so the final failure can surface as
// ErrRateLimited once retries are exhausted.
var errThrottled = errors.New("throttled by listing API")

// attempt runs one bounded, rate-limited network call. The second return
// value reports whether the error is worth a retry.
func (c *Client) attempt(ctx context.Context, listingURL string) ([]Item, bool, error) {
	err := c.limiter.WaitUntilEligible(ctx)
	if err != nil {
		return nil, false, err
	}

	c.limiter.MarkDeparture()

	attemptCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(ctx, err)

		return nil, errors.Is(classified, ErrTimeout), classified
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Quota headers win over local bookkeeping even on error responses.
	c.applyQuotaHeaders(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, errThrottled
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, false, &StatusError{Code: resp.StatusCode}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		classified := classifyTransportError(ctx, err)

		return nil, errors.Is(classified, ErrTimeout), classified
	}

	items, err := ParseListing(payload)
	if err != nil {
		return nil, false, err
	}

	return items, false, nil
}

// About fetches subreddit metadata from the /about endpoint. It shares the
// limiter with listing fetches but does not retry: the popup it serves just
// shows an error state.
func (c *Client) About(ctx context.Context, name string) (AboutInfo, error) {
	err := c.limiter.WaitUntilEligible(ctx)
	if err != nil {
		return AboutInfo{}, err
	}

	c.limiter.MarkDeparture()

	attemptCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	aboutURL := fmt.Sprintf("%s/r/%s/about.json", c.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, aboutURL, nil)
	if err != nil {
		return AboutInfo{}, fmt.Errorf("build about request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AboutInfo{}, classifyTransportError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.applyQuotaHeaders(resp.Header)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return AboutInfo{}, &StatusError{Code: resp.StatusCode}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return AboutInfo{}, classifyTransportError(ctx, err)
	}

	return parseAbout(payload)
}

func (c *Client) listingURL(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("fetch target is required")
	}

	path := fmt.Sprintf("/r/%s/new.json", url.PathEscape(target))
	if target == TargetPopular {
		path = "/r/popular.json"
	}

	return fmt.Sprintf("%s%s?limit=%d", c.baseURL, path, c.listingLimit), nil
}

func (c *Client) applyQuotaHeaders(header http.Header) {
	remaining := -1

	if raw := header.Get(headerQuotaRemaining); raw != "" {
		// Some deployments send the remaining count as a float.
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err == nil && value >= 0 {
			remaining = int(value)
		}
	}

	var resetAt time.Time

	if raw := header.Get(headerQuotaReset); raw != "" {
		epoch, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil && epoch > 0 {
			resetAt = time.Unix(epoch, 0)
		}
	}

	if remaining < 0 && resetAt.IsZero() {
		return
	}

	c.limiter.ApplyServerQuota(remaining, resetAt)
}

// ComputeRetryDelay returns the base backoff for an attempt, before jitter:
// initial doubled per attempt, bounded by max.
func ComputeRetryDelay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}

	if delay > max {
		return max
	}

	return delay
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
