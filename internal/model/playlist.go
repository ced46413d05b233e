package model

import (
	"sort"
	"strconv"
	"strings"
)

// ListingType tells the client which view to render
type ListingType string

const (
	ListingVideo    ListingType = "video"
	ListingChannel  ListingType = "channel"
	ListingPlaylist ListingType = "playlist"
)

// Tab selects the channel section or filters playlist entries
type Tab string

const (
	TabVideos Tab = "videos"
	TabShorts Tab = "shorts"
)

// ParseTab returns TabShorts for "shorts" and TabVideos for anything else
func ParseTab(s string) Tab {
	if strings.EqualFold(strings.TrimSpace(s), string(TabShorts)) {
		return TabShorts
	}
	return TabVideos
}

// FormatOption is one selectable download format of a single video
type FormatOption struct {
	FormatID       string `json:"format_id"`
	Resolution     string `json:"resolution"`
	Ext            string `json:"ext"`
	FilesizeApprox *int64 `json:"filesize_approx"`
}

// height returns the numeric part of a "720p" resolution, -1 otherwise
func (f FormatOption) height() int {
	h, err := strconv.Atoi(strings.TrimSuffix(f.Resolution, "p"))
	if err != nil {
		return -1
	}
	return h
}

// SortFormats orders options by height, tallest first; non-video options last
func SortFormats(formats []FormatOption) {
	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].height() > formats[j].height()
	})
}

// MediaInfo describes a single video with its format options
type MediaInfo struct {
	Type        ListingType    `json:"type"`
	Title       string         `json:"title"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Duration    float64        `json:"duration,omitempty"`
	Formats     []FormatOption `json:"formats"`
	OriginalURL string         `json:"original_url"`
}

// Entry is one item of a channel or playlist page
type Entry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	URL       string  `json:"url"`
	IsShort   bool    `json:"is_short"`
	MaxHeight int     `json:"max_height"`
}

// Listing is one page of a channel or playlist
type Listing struct {
	Type       ListingType    `json:"type"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	CurrentTab Tab            `json:"current_tab"`
	Videos     []Entry        `json:"videos"`
	Stats      map[string]int `json:"stats"`
	Page       int            `json:"page"`
	HasMore    bool           `json:"has_more"`
}

// NewListing creates an empty page with zeroed resolution stats
func NewListing(kind ListingType, url string, tab Tab, page int) *Listing {
	return &Listing{
		Type:       kind,
		URL:        url,
		CurrentTab: tab,
		Videos:     make([]Entry, 0),
		Stats:      map[string]int{"2160p": 0, "1440p": 0, "1080p": 0, "720p": 0, "480p": 0},
		Page:       page,
	}
}

// AddEntry appends an entry to the page
func (l *Listing) AddEntry(e Entry) {
	l.Videos = append(l.Videos, e)
}

// FormatSummary is the batch probe result for one URL
type FormatSummary struct {
	URL           string `json:"url"`
	MaxHeight     int    `json:"max_height"`
	MaxResolution string `json:"max_resolution"`
	Error         string `json:"error,omitempty"`
}

// ResolutionLabel maps a pixel height to the label shown to users
func ResolutionLabel(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "2K"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height > 0:
		return "360p"
	default:
		return "Unknown"
	}
}
