package store

import (
	"sort"

	"github.com/miguell-h2o/RPWA/internal/reddit"
)

// MergeItems dedups the concatenation of existing and incoming by id with
// first-seen wins, then sorts newest-first. Existing entries therefore take
// priority over incoming duplicates, the same rule UpsertItems applies on
// disk. Merging is idempotent: merging a merged list again changes nothing.
func MergeItems(existing, incoming []reddit.Item) []reddit.Item {
	merged := make([]reddit.Item, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	for _, item := range existing {
		if _, dup := seen[item.ID]; dup {
			continue
		}

		seen[item.ID] = struct{}{}
		merged = append(merged, item)
	}

	for _, item := range incoming {
		if _, dup := seen[item.ID]; dup {
			continue
		}

		seen[item.ID] = struct{}{}
		merged = append(merged, item)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt > merged[j].CreatedAt
	})

	return merged
}
