// Package pending holds fetched items that are not yet visible. A user (or
// system) apply call moves them into the cache; until then they live only
// in memory. Losing staged items on restart is deliberate: content never
// appears without an explicit apply, and a re-fetch recovers the loss.
package pending

import (
	"sync"

	"github.com/miguell-h2o/RPWA/internal/reddit"
)

// Buffer is a per-feed staging area for fetched-but-unapplied items.
type Buffer struct {
	mu     sync.Mutex
	staged map[string][]reddit.Item
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{staged: make(map[string][]reddit.Item)}
}

// Stage appends items to a feed's pending list. No dedup happens here;
// duplicates are resolved at merge time.
func (b *Buffer) Stage(feed string, items []reddit.Item) {
	if len(items) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.staged[feed] = append(b.staged[feed], items...)
}

// Count returns the number of staged items for a feed.
func (b *Buffer) Count(feed string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.staged[feed])
}

// Counts returns staged counts for every feed with pending items.
func (b *Buffer) Counts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int, len(b.staged))
	for feed, items := range b.staged {
		if len(items) > 0 {
			counts[feed] = len(items)
		}
	}

	return counts
}

// Take removes and returns a feed's staged items. Callers that fail to
// persist the result should Restage it so nothing is silently dropped.
func (b *Buffer) Take(feed string) []reddit.Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.staged[feed]
	delete(b.staged, feed)

	return items
}

// Restage puts items back at the front of a feed's pending list, preserving
// their original order ahead of anything staged meanwhile.
func (b *Buffer) Restage(feed string, items []reddit.Item) {
	if len(items) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.staged[feed] = append(append([]reddit.Item{}, items...), b.staged[feed]...)
}
