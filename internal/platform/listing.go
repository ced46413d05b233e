package platform

import (
	"fmt"
	"strings"

	"github.com/ytget/ytfetch/internal/model"
)

// Paging defaults
const (
	DefaultPageSize = 50
)

// URL markers
const (
	PlaylistParam  = "list="
	PlaylistMarker = "playlist"
	ShortsMarker   = "/shorts/"
	ParamSeparator = "&"
)

// Channel sections stripped before a tab is applied
var channelSections = []string{"/videos", "/shorts", "/streams"}

// URL templates
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
	ThumbnailURLTemplate    = "https://i.ytimg.com/vi/%s/hqdefault.jpg"
)

// Format option values for the audio-only choice
const (
	AudioResolutionLabel = "Audio Only"
	AudioDefaultExt      = "webm"
	ListableExt          = "mp4"
)

// IsPlaylistURL reports whether the URL points at a playlist rather than a channel
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, PlaylistParam) || strings.Contains(url, PlaylistMarker)
}

// videoMarkers identify links to one video
var videoMarkers = []string{"watch?v=", "youtu.be/", "/shorts/", "/live/", "/embed/"}

// IsVideoURL reports whether the URL points at a single video
func IsVideoURL(url string) bool {
	if strings.Contains(url, PlaylistParam) {
		return false
	}
	for _, m := range videoMarkers {
		if strings.Contains(url, m) {
			return true
		}
	}
	return false
}

// BaseURL strips a trailing channel section (/videos, /shorts, /streams)
func BaseURL(url string) string {
	for _, section := range channelSections {
		if idx := strings.Index(url, section); idx >= 0 {
			url = url[:idx]
		}
	}
	return url
}

// TabURL returns the clean base URL and the URL to list for the tab.
// Playlists are listed as-is and filtered afterwards.
func TabURL(url string, tab model.Tab) (base, target string) {
	base = BaseURL(url)
	if IsPlaylistURL(url) {
		return base, base
	}
	return base, base + "/" + string(tab)
}

// PageRange converts a 1-based page into an inclusive 1-based item range
func PageRange(page, size int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	return (page-1)*size + 1, page * size
}

// thumbnailRef is one element of a yt-dlp thumbnails array
type thumbnailRef struct {
	URL string `json:"url"`
}

// flatEntry is one entry of a flat listing
type flatEntry struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Duration   float64        `json:"duration"`
	URL        string         `json:"url"`
	WebpageURL string         `json:"webpage_url"`
	Thumbnail  string         `json:"thumbnail"`
	Thumbnails []thumbnailRef `json:"thumbnails"`
}

// videoURL returns the entry URL, building a watch URL from the id as a last resort
func (e flatEntry) videoURL() string {
	if e.URL != "" {
		return e.URL
	}
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	if e.ID != "" {
		return fmt.Sprintf(YouTubeVideoURLTemplate, e.ID)
	}
	return ""
}

// thumbnail prefers the last (largest) thumbnail, then the single field,
// then the well-known image URL for the id
func (e flatEntry) thumbnail() string {
	if n := len(e.Thumbnails); n > 0 && e.Thumbnails[n-1].URL != "" {
		return e.Thumbnails[n-1].URL
	}
	if e.Thumbnail != "" {
		return e.Thumbnail
	}
	if e.ID != "" {
		return fmt.Sprintf(ThumbnailURLTemplate, e.ID)
	}
	return ""
}

// flatInfo is the top level of a flat yt-dlp listing
type flatInfo struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Type    string       `json:"_type"`
	Entries []*flatEntry `json:"entries"`
}

// formatInfo is one format of a fully extracted video
type formatInfo struct {
	FormatID       string `json:"format_id"`
	Ext            string `json:"ext"`
	Height         *int   `json:"height"`
	FilesizeApprox *int64 `json:"filesize_approx"`
}

// videoInfo is a fully extracted single video
type videoInfo struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Thumbnail string       `json:"thumbnail"`
	Duration  float64      `json:"duration"`
	Formats   []formatInfo `json:"formats"`
}

// maxHeight returns the tallest format height, 0 when none carry a height
func (v *videoInfo) maxHeight() int {
	best := 0
	for _, f := range v.Formats {
		if f.Height != nil && *f.Height > best {
			best = *f.Height
		}
	}
	return best
}

// buildListing turns one raw page into the client listing. Playlist entries are
// filtered by tab after the page was fetched, so a page may hold fewer items
// than the page size while more remain.
func buildListing(info *flatInfo, url string, tab model.Tab, page, pageSize int) *model.Listing {
	base, _ := TabURL(url, tab)
	playlist := IsPlaylistURL(url)

	kind := model.ListingChannel
	if playlist {
		kind = model.ListingPlaylist
	}

	listing := model.NewListing(kind, base, tab, page)
	listing.Title = info.Title

	raw := 0
	for _, e := range info.Entries {
		if e == nil {
			continue
		}
		raw++

		videoURL := e.videoURL()
		isShort := strings.Contains(videoURL, ShortsMarker)
		if playlist && isShort != (tab == model.TabShorts) {
			continue
		}

		listing.AddEntry(model.Entry{
			ID:        e.ID,
			Title:     e.Title,
			Duration:  e.Duration,
			Thumbnail: e.thumbnail(),
			URL:       videoURL,
			IsShort:   isShort,
		})
	}
	listing.HasMore = raw == pageSize

	return listing
}

// buildMediaInfo keeps one mp4 format per resolution and appends the audio option
func buildMediaInfo(info *videoInfo, url string) *model.MediaInfo {
	formats := make([]model.FormatOption, 0, len(info.Formats)+1)
	seen := make(map[string]bool)
	for _, f := range info.Formats {
		if f.Ext != ListableExt || f.Height == nil || *f.Height <= 0 {
			continue
		}
		res := fmt.Sprintf("%dp", *f.Height)
		if seen[res] {
			continue
		}
		seen[res] = true
		formats = append(formats, model.FormatOption{
			FormatID:       f.FormatID,
			Resolution:     res,
			Ext:            f.Ext,
			FilesizeApprox: f.FilesizeApprox,
		})
	}

	formats = append(formats, model.FormatOption{
		FormatID:   model.AudioFormatID,
		Resolution: AudioResolutionLabel,
		Ext:        AudioDefaultExt,
	})
	model.SortFormats(formats)

	return &model.MediaInfo{
		Type:        model.ListingVideo,
		Title:       info.Title,
		Thumbnail:   info.Thumbnail,
		Duration:    info.Duration,
		Formats:     formats,
		OriginalURL: url,
	}
}
