package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/miguell-h2o/RPWA/internal/reddit"
	"github.com/miguell-h2o/RPWA/internal/store"
)

// ErrMalformedImport is returned when an imported follow list has an
// invalid shape. Nothing is mutated in that case.
var ErrMalformedImport = errors.New("malformed follow list import")

// ErrUnknownItem is returned when a pin targets an id absent from the
// visible cache.
var ErrUnknownItem = errors.New("item not in cache")

const maxSubredditNameLen = 50

// Pin copies a cached item into the pinned set, exempting it from
// eviction. Pins are user-curated only; nothing pins automatically.
func (a *App) Pin(ctx context.Context, id string) error {
	item, found, err := store.FindItem(ctx, a.db, id)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("pin %q: %w", id, ErrUnknownItem)
	}

	return store.Pin(ctx, a.db, item)
}

// Unpin removes an item from the pinned set.
func (a *App) Unpin(ctx context.Context, id string) error {
	return store.Unpin(ctx, a.db, id)
}

// Items returns a visible collection: "my", "popular", or "pinned".
func (a *App) Items(ctx context.Context, feed string) ([]reddit.Item, error) {
	if feed == "pinned" {
		return store.ListPinned(ctx, a.db)
	}

	return store.ListItems(ctx, a.db, feed)
}

// Follow adds a subreddit to the followed list.
func (a *App) Follow(ctx context.Context, name string) error {
	cleaned, err := cleanSubredditName(name)
	if err != nil {
		return err
	}

	return store.Follow(ctx, a.db, cleaned)
}

// Unfollow removes a subreddit and deletes its cached items from the "my"
// feed; pinned copies survive.
func (a *App) Unfollow(ctx context.Context, name string) error {
	err := store.Unfollow(ctx, a.db, name)
	if err != nil {
		return err
	}

	removed, err := store.RemoveSubredditItems(ctx, a.db, name)
	if err != nil {
		return err
	}

	slog.Info("unfollowed subreddit", "name", name, "items_removed", removed)

	return nil
}

// Block hides a subreddit from future popular merges.
func (a *App) Block(ctx context.Context, name string) error {
	cleaned, err := cleanSubredditName(name)
	if err != nil {
		return err
	}

	return store.Block(ctx, a.db, cleaned)
}

// Unblock lifts a block.
func (a *App) Unblock(ctx context.Context, name string) error {
	return store.Unblock(ctx, a.db, name)
}

// Follows returns the followed list.
func (a *App) Follows(ctx context.Context) ([]string, error) {
	return store.ListFollows(ctx, a.db)
}

// Blocks returns the blocked list.
func (a *App) Blocks(ctx context.Context) ([]string, error) {
	return store.ListBlocks(ctx, a.db)
}

type followImport struct {
	Subreddits []string `json:"subreddits"`
}

// ImportFollows replaces the followed list from an external export. The
// payload must be {"subreddits": [...]} with valid names; any shape
// violation returns ErrMalformedImport and leaves the stored list alone.
func (a *App) ImportFollows(ctx context.Context, r io.Reader) (int, error) {
	var payload followImport

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}

	if len(payload.Subreddits) == 0 {
		return 0, fmt.Errorf("%w: empty subreddit list", ErrMalformedImport)
	}

	cleaned := make([]string, 0, len(payload.Subreddits))
	seen := make(map[string]struct{}, len(payload.Subreddits))

	for _, name := range payload.Subreddits {
		valid, cleanErr := cleanSubredditName(name)
		if cleanErr != nil {
			return 0, cleanErr
		}

		key := normalizeName(valid)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		cleaned = append(cleaned, valid)
	}

	err = store.ReplaceFollows(ctx, a.db, cleaned)
	if err != nil {
		return 0, err
	}

	return len(cleaned), nil
}

// About fetches subreddit metadata and decorates it with local
// follow/block membership.
func (a *App) About(ctx context.Context, name string) (AboutResult, error) {
	info, err := a.about.About(ctx, name)
	if err != nil {
		return AboutResult{}, err
	}

	followed, err := store.IsFollowed(ctx, a.db, name)
	if err != nil {
		return AboutResult{}, err
	}

	blocked, err := store.IsBlocked(ctx, a.db, name)
	if err != nil {
		return AboutResult{}, err
	}

	return AboutResult{Info: info, Followed: followed, Blocked: blocked}, nil
}

// AboutResult pairs remote metadata with local membership flags.
type AboutResult struct {
	Info     reddit.AboutInfo `json:"info"`
	Followed bool             `json:"followed"`
	Blocked  bool             `json:"blocked"`
}

// SetCurrentFeed persists the feed selector.
func (a *App) SetCurrentFeed(ctx context.Context, feed string) error {
	if feed != "pinned" && !store.ValidFeed(feed) {
		return fmt.Errorf("unknown feed %q", feed)
	}

	return store.SetValue(ctx, a.db, store.KeyCurrentFeed, feed)
}

func cleanSubredditName(name string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "r/"))

	if trimmed == "" || len(trimmed) > maxSubredditNameLen {
		return "", fmt.Errorf("%w: invalid subreddit name %q", ErrMalformedImport, name)
	}

	for _, r := range trimmed {
		isWordChar := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isWordChar {
			return "", fmt.Errorf("%w: invalid subreddit name %q", ErrMalformedImport, name)
		}
	}

	return trimmed, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
