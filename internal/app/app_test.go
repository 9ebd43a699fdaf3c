package app_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miguell-h2o/RPWA/internal/app"
	"github.com/miguell-h2o/RPWA/internal/config"
	"github.com/miguell-h2o/RPWA/internal/ratelimit"
	"github.com/miguell-h2o/RPWA/internal/reddit"
	"github.com/miguell-h2o/RPWA/internal/store"
	"github.com/miguell-h2o/RPWA/internal/testutil"
)

type fetchFunc func(ctx context.Context, target string) ([]reddit.Item, error)

func (f fetchFunc) FetchListing(ctx context.Context, target string) ([]reddit.Item, error) {
	return f(ctx, target)
}

type aboutFunc func(ctx context.Context, name string) (reddit.AboutInfo, error)

func (f aboutFunc) About(ctx context.Context, name string) (reddit.AboutInfo, error) {
	return f(ctx, name)
}

func testConfig() config.Config {
	return config.Config{
		QuotaCap:            60,
		QuotaWindow:         time.Minute,
		MinRequestInterval:  time.Millisecond,
		StorageQuotaBytes:   1 << 30,
		DrainInterval:       time.Minute,
		HousekeepInterval:   time.Minute,
		UpdateCheckInterval: time.Minute,
	}
}

func newTestApp(t *testing.T, db *sql.DB, fetch fetchFunc) *app.App {
	t.Helper()

	deps := app.Deps{
		Fetcher: fetch,
		About: aboutFunc(func(context.Context, string) (reddit.AboutInfo, error) {
			return reddit.AboutInfo{}, nil
		}),
		Usage: func() (int64, int64, error) { return 0, 1 << 30, nil },
	}

	a, err := app.New(context.Background(), db, testConfig(), deps)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	return a
}

func feedItem(id, subreddit string, createdAt int64) reddit.Item {
	return reddit.Item{
		ID:        id,
		Subreddit: subreddit,
		Author:    "tester",
		CreatedAt: createdAt,
		Title:     "post " + id,
		Permalink: "/r/" + subreddit + "/comments/" + id + "/",
	}
}

func TestRefreshApplyRoundTrip(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(_ context.Context, target string) ([]reddit.Item, error) {
		if target == reddit.TargetPopular {
			return []reddit.Item{feedItem("pop1", "pics", 500)}, nil
		}

		return []reddit.Item{
			feedItem(target+"1", target, 300),
			feedItem(target+"2", target, 400),
		}, nil
	})

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	queued, err := a.RefreshAll(ctx)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if queued != 2 {
		t.Fatalf("expected 2 jobs (1 follow + popular), got %d", queued)
	}

	// Fetched items are staged, not visible.
	counts := a.StagedCounts()
	if counts["my"] != 2 || counts["popular"] != 1 {
		t.Fatalf("unexpected staged counts: %v", counts)
	}

	items, err := a.Items(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Items before apply: %v", err)
	}

	if len(items) != 0 {
		t.Fatalf("expected empty cache before apply, got %d items", len(items))
	}

	added, err := a.Apply(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}

	items, err = a.Items(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Items after apply: %v", err)
	}

	if len(items) != 2 || items[0].ID != "golang2" {
		t.Fatalf("unexpected items after apply: %+v", items)
	}

	// The staging slot is cleared; a second apply is a no-op.
	added, err = a.Apply(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	if added != 0 {
		t.Fatalf("expected no-op apply, got %d added", added)
	}

	// A clean drain records the last-update timestamp.
	stamp, err := store.GetValue(ctx, db, store.KeyLastUpdate, time.Time{})
	if err != nil {
		t.Fatalf("read last update: %v", err)
	}

	if stamp.IsZero() {
		t.Fatal("expected last-update timestamp recorded")
	}

	// The limiter snapshot is persisted after the pass.
	state, err := store.GetValue(ctx, db, store.KeyRateState, ratelimit.State{})
	if err != nil {
		t.Fatalf("read rate state: %v", err)
	}

	if state.WindowResetAt.IsZero() {
		t.Fatal("expected rate limit state persisted after drain")
	}
}

// TestDefaultClientWiring runs the whole path with the real fetch client
// against a scripted listing API instead of a stub Fetcher.
func TestDefaultClientWiring(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testutil.ListingJSON(testutil.Post{
			ID:         "w1",
			Subreddit:  "golang",
			Author:     "u",
			CreatedUTC: 100,
			Score:      5,
			Comments:   2,
			Title:      "wired through",
			Permalink:  "/r/golang/comments/w1/",
		}))
	}))
	defer srv.Close()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.APIBaseURL = srv.URL
	cfg.FetchTimeout = 5 * time.Second

	a, err := app.New(ctx, db, cfg, app.Deps{
		Usage: func() (int64, int64, error) { return 0, 1 << 30, nil },
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, err := a.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	added, err := a.Apply(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The same item arrives via the followed fetch and the popular fetch;
	// it lands once per collection.
	if added != 1 {
		t.Fatalf("expected 1 added to my feed, got %d", added)
	}

	items, err := a.Items(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}

	if len(items) != 1 || items[0].Title != "wired through" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestApplyReportsOnlyNewItems(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(_ context.Context, target string) ([]reddit.Item, error) {
		// A refetch overlaps the cache and repeats one id.
		return []reddit.Item{
			feedItem("known", target, 100),
			feedItem("fresh", target, 200),
			feedItem("fresh", target, 200),
		}, nil
	})

	if _, err := store.UpsertItems(ctx, db, store.FeedMy, []reddit.Item{feedItem("known", "golang", 100)}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, err := a.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	added, err := a.Apply(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if added != 1 {
		t.Fatalf("expected 1 new item added, got %d", added)
	}

	items, err := a.Items(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 cached items, got %d", len(items))
	}
}

func TestApplyFiltersBlockedFromPopular(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(context.Context, string) ([]reddit.Item, error) {
		return []reddit.Item{
			feedItem("ok1", "pics", 100),
			feedItem("bad1", "Spam", 200),
		}, nil
	})

	if err := a.Block(ctx, "spam"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	if _, err := a.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	added, err := a.Apply(ctx, store.FeedPopular)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if added != 1 {
		t.Fatalf("expected blocked subreddit filtered, added=%d", added)
	}

	items, err := a.Items(ctx, store.FeedPopular)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}

	if len(items) != 1 || items[0].ID != "ok1" {
		t.Fatalf("unexpected popular items: %+v", items)
	}
}

func TestApplyRestagesOnWriteFailure(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(_ context.Context, target string) ([]reddit.Item, error) {
		return []reddit.Item{feedItem("a1", target, 100)}, nil
	})

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, err := a.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if got := a.StagedCounts()["my"]; got != 1 {
		t.Fatalf("expected 1 staged, got %d", got)
	}

	// A closed database makes the write fail; the staged items must come
	// back instead of vanishing.
	_ = db.Close()

	_, err := a.Apply(ctx, store.FeedMy)
	if err == nil {
		t.Fatal("expected apply against closed database to fail")
	}

	if got := a.StagedCounts()["my"]; got != 1 {
		t.Fatalf("expected staged items restored after failed apply, got %d", got)
	}
}

func TestPinLifecycle(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(context.Context, string) ([]reddit.Item, error) {
		return nil, nil
	})

	err := a.Pin(ctx, "ghost")
	if !errors.Is(err, app.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem for uncached id, got %v", err)
	}

	if _, err := store.UpsertItems(ctx, db, store.FeedMy, []reddit.Item{feedItem("real", "golang", 100)}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := a.Pin(ctx, "real"); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	pinned, err := a.Items(ctx, "pinned")
	if err != nil {
		t.Fatalf("Items pinned: %v", err)
	}

	if len(pinned) != 1 || pinned[0].ID != "real" {
		t.Fatalf("unexpected pinned items: %+v", pinned)
	}

	if err := a.Unpin(ctx, "real"); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	pinned, err = a.Items(ctx, "pinned")
	if err != nil {
		t.Fatalf("Items pinned after unpin: %v", err)
	}

	if len(pinned) != 0 {
		t.Fatalf("expected empty pinned set, got %+v", pinned)
	}
}

func TestUnfollowRemovesCachedItems(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(context.Context, string) ([]reddit.Item, error) {
		return nil, nil
	})

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, err := store.UpsertItems(ctx, db, store.FeedMy, []reddit.Item{
		feedItem("g1", "golang", 100),
		feedItem("r1", "rust", 200),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := a.Unfollow(ctx, "golang"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}

	follows, err := a.Follows(ctx)
	if err != nil {
		t.Fatalf("Follows: %v", err)
	}

	if len(follows) != 0 {
		t.Fatalf("expected empty follow list, got %v", follows)
	}

	items, err := a.Items(ctx, store.FeedMy)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}

	if len(items) != 1 || items[0].ID != "r1" {
		t.Fatalf("expected only unrelated items to survive, got %+v", items)
	}
}

func TestFollowCleansName(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(context.Context, string) ([]reddit.Item, error) {
		return nil, nil
	})

	if err := a.Follow(ctx, "  r/golang "); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	follows, err := a.Follows(ctx)
	if err != nil {
		t.Fatalf("Follows: %v", err)
	}

	if len(follows) != 1 || follows[0] != "golang" {
		t.Fatalf("expected cleaned name stored, got %v", follows)
	}

	if err := a.Follow(ctx, "no spaces allowed"); err == nil {
		t.Fatal("expected invalid name rejected")
	}
}

func TestImportFollows(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(context.Context, string) ([]reddit.Item, error) {
		return nil, nil
	})

	if err := a.Follow(ctx, "existing"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	// Shape violations reject the import and leave the list alone.
	badPayloads := []string{
		`{"subreddits": "golang"}`,
		`{"subs": ["golang"]}`,
		`{"subreddits": []}`,
		`{"subreddits": ["not a name!"]}`,
		`not json at all`,
	}

	for _, payload := range badPayloads {
		_, err := a.ImportFollows(ctx, strings.NewReader(payload))
		if !errors.Is(err, app.ErrMalformedImport) {
			t.Fatalf("payload %q: expected ErrMalformedImport, got %v", payload, err)
		}
	}

	follows, err := a.Follows(ctx)
	if err != nil {
		t.Fatalf("Follows: %v", err)
	}

	if len(follows) != 1 || follows[0] != "existing" {
		t.Fatalf("failed import mutated the list: %v", follows)
	}

	// A valid import replaces wholesale, strips prefixes, and dedups
	// case-insensitively.
	imported, err := a.ImportFollows(ctx, strings.NewReader(
		`{"subreddits": ["r/golang", "Golang", "rust"]}`,
	))
	if err != nil {
		t.Fatalf("ImportFollows: %v", err)
	}

	if imported != 2 {
		t.Fatalf("expected 2 imported after dedup, got %d", imported)
	}

	follows, err = a.Follows(ctx)
	if err != nil {
		t.Fatalf("Follows after import: %v", err)
	}

	if len(follows) != 2 || follows[0] != "golang" || follows[1] != "rust" {
		t.Fatalf("unexpected follow list after import: %v", follows)
	}
}

func TestAboutDecoratesMembership(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	deps := app.Deps{
		Fetcher: fetchFunc(func(context.Context, string) ([]reddit.Item, error) {
			return nil, nil
		}),
		About: aboutFunc(func(_ context.Context, name string) (reddit.AboutInfo, error) {
			return reddit.AboutInfo{Name: name, Subscribers: 42}, nil
		}),
		Usage: func() (int64, int64, error) { return 0, 1 << 30, nil },
	}

	a, err := app.New(ctx, db, testConfig(), deps)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	result, err := a.About(ctx, "golang")
	if err != nil {
		t.Fatalf("About: %v", err)
	}

	if !result.Followed || result.Blocked {
		t.Fatalf("unexpected membership flags: %+v", result)
	}

	if result.Info.Subscribers != 42 {
		t.Fatalf("unexpected about info: %+v", result.Info)
	}
}

func TestCurrentStatus(t *testing.T) {
	t.Parallel()

	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := newTestApp(t, db, func(_ context.Context, target string) ([]reddit.Item, error) {
		return []reddit.Item{feedItem("s1", target, 100)}, nil
	})

	if err := a.Follow(ctx, "golang"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, err := a.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	status, err := a.CurrentStatus(ctx)
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}

	if !status.Online {
		t.Fatal("expected online status")
	}

	if status.PendingJobs != 0 || status.FailedJobs != 0 {
		t.Fatalf("expected clean queue, got %+v", status)
	}

	if status.Staged["my"] != 1 || status.Staged["popular"] != 1 {
		t.Fatalf("unexpected staged counts: %v", status.Staged)
	}

	if status.CurrentFeed != store.FeedMy {
		t.Fatalf("expected default current feed, got %q", status.CurrentFeed)
	}

	if status.FollowedCount != 1 {
		t.Fatalf("expected 1 follow, got %d", status.FollowedCount)
	}

	if status.LastUpdateAt.IsZero() {
		t.Fatal("expected last-update timestamp after clean drain")
	}

	if err := a.SetCurrentFeed(ctx, "pinned"); err != nil {
		t.Fatalf("SetCurrentFeed: %v", err)
	}

	if err := a.SetCurrentFeed(ctx, "bogus"); err == nil {
		t.Fatal("expected unknown feed rejected")
	}

	status, err = a.CurrentStatus(ctx)
	if err != nil {
		t.Fatalf("CurrentStatus after switch: %v", err)
	}

	if status.CurrentFeed != "pinned" {
		t.Fatalf("expected pinned feed selected, got %q", status.CurrentFeed)
	}
}
