package reddit

import (
	"encoding/json"
	"fmt"
	stdhtml "html"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// listing mirrors the subset of the reddit listing envelope the cache needs.
type listing struct {
	Data struct {
		Children []struct {
			Data rawPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type rawPost struct {
	ID           string  `json:"id"`
	Subreddit    string  `json:"subreddit"`
	Author       string  `json:"author"`
	CreatedUTC   float64 `json:"created_utc"`
	Score        int     `json:"score"`
	NumComments  int     `json:"num_comments"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHTML string  `json:"selftext_html"`
	Permalink    string  `json:"permalink"`
	IsVideo      bool    `json:"is_video"`

	Preview *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`

	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`

	MediaMetadata map[string]struct {
		S struct {
			U string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`

	Media *struct {
		RedditVideo *struct {
			FallbackURL string `json:"fallback_url"`
		} `json:"reddit_video"`
	} `json:"media"`
}

// ParseListing decodes a raw listing payload into normalized items. The
// result depends only on the payload bytes: same payload, same items.
func ParseListing(payload []byte) ([]Item, error) {
	var doc listing

	err := json.Unmarshal(payload, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode listing payload: %w", err)
	}

	items := make([]Item, 0, len(doc.Data.Children))
	for _, child := range doc.Data.Children {
		items = append(items, normalizePost(child.Data))
	}

	return items, nil
}

func normalizePost(post rawPost) Item {
	item := Item{
		ID:           post.ID,
		Subreddit:    post.Subreddit,
		Author:       post.Author,
		CreatedAt:    int64(post.CreatedUTC),
		Score:        post.Score,
		CommentCount: post.NumComments,
		Title:        post.Title,
		BodyText:     deriveBodyText(post),
		Permalink:    post.Permalink,
	}

	switch {
	case post.IsVideo && post.Media != nil && post.Media.RedditVideo != nil:
		item.IsVideo = true
		if url := cleanMediaURL(post.Media.RedditVideo.FallbackURL); url != "" {
			item.MediaRefs = []string{url}
		}
	default:
		item.MediaRefs = galleryOrPreviewRefs(post)
	}

	return item
}

// galleryOrPreviewRefs prefers the ordered gallery over the single preview
// image. Gallery order comes from gallery_data, never from iterating the
// media_metadata map.
func galleryOrPreviewRefs(post rawPost) []string {
	if post.GalleryData != nil && len(post.MediaMetadata) > 0 {
		var refs []string

		for _, entry := range post.GalleryData.Items {
			meta, ok := post.MediaMetadata[entry.MediaID]
			if !ok {
				continue
			}

			if url := cleanMediaURL(meta.S.U); url != "" {
				refs = append(refs, url)
			}
		}

		if len(refs) > 0 {
			return refs
		}
	}

	if post.Preview != nil && len(post.Preview.Images) > 0 {
		if url := cleanMediaURL(post.Preview.Images[0].Source.URL); url != "" {
			return []string{url}
		}
	}

	return nil
}

// cleanMediaURL undoes the entity encoding reddit applies to URLs inside
// JSON payloads ("&amp;" in query strings).
func cleanMediaURL(raw string) string {
	return strings.TrimSpace(stdhtml.UnescapeString(raw))
}

// deriveBodyText uses the plain selftext when present and falls back to
// stripping the entity-escaped selftext_html.
func deriveBodyText(post rawPost) string {
	if text := strings.TrimSpace(post.Selftext); text != "" {
		return text
	}

	if post.SelftextHTML == "" {
		return ""
	}

	return extractText(stdhtml.UnescapeString(post.SelftextHTML))
}

func extractText(fragment string) string {
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	var b strings.Builder
	for _, node := range nodes {
		collectText(node, &b)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(node *html.Node, b *strings.Builder) {
	if node.Type == html.TextNode {
		b.WriteString(node.Data)
		b.WriteString(" ")

		return
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}
