package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
)

// Timeout constants
const (
	DefaultParseTimeout = 60 * time.Second
)

// PlaylistItem is one video of an expanded playlist
type PlaylistItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// itemSource fetches playlist items by playlist id
type itemSource func(ctx context.Context, playlistID string, limit int) ([]PlaylistItem, error)

// PlaylistLister expands playlist links into their video links without
// spawning yt-dlp
type PlaylistLister struct {
	timeout time.Duration
	fetch   itemSource
}

// NewPlaylistLister creates a lister backed by the ytdlp/v2 client
func NewPlaylistLister() *PlaylistLister {
	return &PlaylistLister{
		timeout: DefaultParseTimeout,
		fetch:   fetchPlaylistItems,
	}
}

// SetTimeout sets the timeout for listing operations
func (p *PlaylistLister) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Items returns up to limit videos of the playlist in url, all when limit is 0
func (p *PlaylistLister) Items(ctx context.Context, url string, limit int) ([]PlaylistItem, error) {
	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	items, err := p.fetch(ctx, playlistID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	return items, nil
}

// Expand replaces every playlist link in urls with the links of its videos,
// keeping input order. Other links pass through unchanged.
func (p *PlaylistLister) Expand(ctx context.Context, urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if extractPlaylistID(u) == "" {
			out = append(out, u)
			continue
		}
		items, err := p.Items(ctx, u, 0)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out = append(out, it.URL)
		}
	}
	return out, nil
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.SplitN(url, PlaylistParam, 2)
	id := parts[1]
	if strings.Contains(id, ParamSeparator) {
		id = strings.Split(id, ParamSeparator)[0]
	}
	return id
}

func fetchPlaylistItems(ctx context.Context, playlistID string, limit int) ([]PlaylistItem, error) {
	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]PlaylistItem, 0, len(items))
	for _, it := range items {
		out = append(out, PlaylistItem{
			ID:    it.VideoID,
			Title: it.Title,
			URL:   fmt.Sprintf(YouTubeVideoURLTemplate, it.VideoID),
		})
	}
	return out, nil
}
