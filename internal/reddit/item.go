// Package reddit fetches and normalizes posts from the reddit listing API.
package reddit

// Item is one normalized feed entry. Items are immutable once built; two
// items with the same ID are considered the same post.
type Item struct {
	ID           string   `json:"id"`
	Subreddit    string   `json:"subreddit"`
	Author       string   `json:"author"`
	CreatedAt    int64    `json:"created_at"`
	Score        int      `json:"score"`
	CommentCount int      `json:"comment_count"`
	Title        string   `json:"title"`
	BodyText     string   `json:"body_text,omitempty"`
	Permalink    string   `json:"permalink"`
	MediaRefs    []string `json:"media_refs,omitempty"`
	IsVideo      bool     `json:"is_video,omitempty"`
}

// AboutInfo is subreddit metadata from the /about endpoint. It is served to
// the info popup; the cache itself only stores follow/block membership.
type AboutInfo struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url,omitempty"`
	BannerURL   string `json:"banner_url,omitempty"`
	AccentColor string `json:"accent_color,omitempty"`
}
