// Package testutil holds helpers shared by package tests: a throwaway
// SQLite database and builders for listing API payloads.
package testutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/miguell-h2o/RPWA/internal/store"
)

// OpenTestDB opens and initializes a database under t.TempDir.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	if err := store.Init(db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// Post describes one raw post for ListingJSON.
type Post struct {
	ID         string
	Subreddit  string
	Author     string
	CreatedUTC float64
	Score      int
	Comments   int
	Title      string
	Selftext   string
	Permalink  string
	PreviewURL string
}

// ListingJSON builds a listing API payload wrapping the given posts.
func ListingJSON(posts ...Post) string {
	children := make([]map[string]any, 0, len(posts))

	for _, p := range posts {
		data := map[string]any{
			"id":           p.ID,
			"subreddit":    p.Subreddit,
			"author":       p.Author,
			"created_utc":  p.CreatedUTC,
			"score":        p.Score,
			"num_comments": p.Comments,
			"title":        p.Title,
			"selftext":     p.Selftext,
			"permalink":    p.Permalink,
		}

		if p.PreviewURL != "" {
			data["preview"] = map[string]any{
				"images": []map[string]any{
					{"source": map[string]any{"url": p.PreviewURL}},
				},
			}
		}

		children = append(children, map[string]any{"data": data})
	}

	payload := map[string]any{
		"data": map[string]any{"children": children},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("encode listing payload: %v", err))
	}

	return string(encoded)
}
