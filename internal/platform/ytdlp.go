package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/model"
)

// yt-dlp invocation constants
const (
	OutputTemplate       = "%(title)s.%(ext)s"
	ProgressInterval     = 500 * time.Millisecond
	AndroidExtractorArgs = "youtube:player_client=android"
)

var (
	// ErrCancelled is returned by Fetch when the progress callback asked to stop
	ErrCancelled = errors.New("fetch cancelled")

	// ErrNoDirectURL is returned when a format needs merging and cannot be streamed as one response
	ErrNoDirectURL = errors.New("format has no single direct url")
)

// FetchRequest describes one download into a staging directory
type FetchRequest struct {
	URL         string
	Selector    string
	MergeFormat string
	Dir         string
}

// FetchProgress is one progress sample from the download collaborator
type FetchProgress struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	ETA             string
	Title           string
}

// FetchResult is the finished download
type FetchResult struct {
	Path  string
	Title string
}

// DirectMedia is a resolved single-response media URL
type DirectMedia struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"http_headers"`
	Title   string            `json:"title"`
	Ext     string            `json:"ext"`
	Size    int64             `json:"filesize"`
	Approx  int64             `json:"filesize_approx"`
}

// ContentLength returns the exact size if known, else the estimate
func (d *DirectMedia) ContentLength() int64 {
	if d.Size > 0 {
		return d.Size
	}
	return d.Approx
}

// YTDLP runs the yt-dlp binary through go-ytdlp for metadata, listing and downloads
type YTDLP struct {
	log      logrus.FieldLogger
	pageSize int
}

// NewYTDLP creates the yt-dlp collaborator
func NewYTDLP(log logrus.FieldLogger, pageSize int) *YTDLP {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &YTDLP{log: logging.OrDiscard(log), pageSize: pageSize}
}

// Describe returns a single video with its formats, or one page of a channel
// or playlist listing.
func (y *YTDLP) Describe(ctx context.Context, url string, tab model.Tab, page int) (any, error) {
	if IsVideoURL(url) {
		return y.describeVideo(ctx, url)
	}

	_, target := TabURL(url, tab)
	start, end := PageRange(page, y.pageSize)
	y.log.WithFields(logrus.Fields{"url": target, "start": start, "end": end}).Debug("listing page")

	var info flatInfo
	cmd := ytdlp.New().
		DumpSingleJSON().
		FlatPlaylist().
		PlaylistItems(strconv.Itoa(start) + ":" + strconv.Itoa(end))
	if err := y.runJSON(ctx, cmd, target, &info); err != nil {
		return nil, err
	}

	if info.Entries == nil {
		// Not a listing after all
		return y.describeVideo(ctx, url)
	}
	return buildListing(&info, url, tab, max(page, 1), y.pageSize), nil
}

func (y *YTDLP) describeVideo(ctx context.Context, url string) (*model.MediaInfo, error) {
	info, err := y.probe(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return buildMediaInfo(info, url), nil
}

// MaxHeight returns the tallest video height available for url
func (y *YTDLP) MaxHeight(ctx context.Context, url string) (int, error) {
	info, err := y.probe(ctx, url, true)
	if err != nil {
		return 0, err
	}
	return info.maxHeight(), nil
}

func (y *YTDLP) probe(ctx context.Context, url string, android bool) (*videoInfo, error) {
	cmd := ytdlp.New().
		DumpSingleJSON().
		NoPlaylist()
	if android {
		cmd = cmd.ExtractorArgs(AndroidExtractorArgs)
	}

	var info videoInfo
	if err := y.runJSON(ctx, cmd, url, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DirectURL resolves a URL the media can be fetched from in one response
func (y *YTDLP) DirectURL(ctx context.Context, url, selector string) (*DirectMedia, error) {
	cmd := ytdlp.New().
		DumpSingleJSON().
		NoPlaylist().
		Format(selector)

	var media DirectMedia
	if err := y.runJSON(ctx, cmd, url, &media); err != nil {
		return nil, err
	}
	if media.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDirectURL, selector)
	}
	return &media, nil
}

func (y *YTDLP) runJSON(ctx context.Context, cmd *ytdlp.Command, url string, v any) error {
	result, err := cmd.Run(ctx, url)
	if err != nil {
		return fmt.Errorf("yt-dlp failed for %s: %w", url, err)
	}
	if err := json.Unmarshal([]byte(result.Stdout), v); err != nil {
		return fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}
	return nil
}

// Fetch downloads req.URL into req.Dir. onProgress is called for every
// progress sample; returning false stops the download and Fetch returns
// ErrCancelled.
func (y *YTDLP) Fetch(ctx context.Context, req FetchRequest, onProgress func(FetchProgress) bool) (*FetchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := CreateDirectoryIfNotExists(req.Dir); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	dl := ytdlp.New().
		Format(req.Selector).
		NoPlaylist().
		Output(filepath.Join(req.Dir, OutputTemplate))
	if req.MergeFormat != "" {
		dl = dl.MergeOutputFormat(req.MergeFormat)
	}

	var (
		stopped atomic.Bool
		title   atomic.Value
	)
	dl.ProgressFunc(ProgressInterval, func(update ytdlp.ProgressUpdate) {
		p := toFetchProgress(&update)
		if p.Title != "" {
			title.Store(p.Title)
		}
		if !onProgress(p) && stopped.CompareAndSwap(false, true) {
			cancel()
		}
	})

	if _, err := dl.Run(ctx, req.URL); err != nil {
		if stopped.Load() {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if stopped.Load() {
		return nil, ErrCancelled
	}

	path, err := FindOutputFile(req.Dir)
	if err != nil {
		return nil, err
	}

	res := &FetchResult{Path: path}
	if t, ok := title.Load().(string); ok {
		res.Title = t
	}
	return res, nil
}

// toFetchProgress converts a go-ytdlp progress update
func toFetchProgress(update *ytdlp.ProgressUpdate) FetchProgress {
	p := FetchProgress{
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}

	if update.TotalBytes > 0 {
		p.Percent = float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
	}

	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed.Seconds() > 0 {
			p.Speed = model.FormatSpeed(float64(update.DownloadedBytes) / elapsed.Seconds())
		}
	}

	if eta := update.ETA(); eta > 0 {
		p.ETA = model.FormatETA(int(eta.Seconds()))
	}

	if update.Info != nil && update.Info.Title != nil {
		p.Title = *update.Info.Title
	}
	return p
}

// RemoveStaging deletes a staging directory, logging failures
func RemoveStaging(log logrus.FieldLogger, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.WithError(err).WithField("dir", dir).Warn("failed to remove staging directory")
	}
}
