// Package batch fans URL lists out to probing or download submission at
// bounded parallelism and returns results in input order.
package batch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/download"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultParallel is used when no bound is configured
const DefaultParallel = 20

// Prober reports the tallest video rendition of a URL
type Prober interface {
	MaxHeight(ctx context.Context, url string) (int, error)
}

// Submitter starts a download task and returns its id
type Submitter interface {
	Submit(req download.Request) string
}

// Expander replaces playlist links with the links of their videos
type Expander interface {
	Expand(ctx context.Context, urls []string) ([]string, error)
}

// SubmitResult is the outcome of submitting one input URL. A playlist URL
// yields one task per video.
type SubmitResult struct {
	URL     string   `json:"url"`
	TaskIDs []string `json:"taskIds"`
	Error   string   `json:"error,omitempty"`
}

// Coordinator runs batch operations
type Coordinator struct {
	prober    Prober
	submitter Submitter
	expander  Expander
	parallel  int
	log       logrus.FieldLogger
}

// NewCoordinator creates a coordinator. expander may be nil, in which case
// playlist links are submitted as single tasks.
func NewCoordinator(prober Prober, submitter Submitter, expander Expander, parallel int, log logrus.FieldLogger) *Coordinator {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Coordinator{
		prober:    prober,
		submitter: submitter,
		expander:  expander,
		parallel:  parallel,
		log:       logging.OrDiscard(log).WithField("component", "batch"),
	}
}

// Parallel returns the fan-out bound
func (c *Coordinator) Parallel() int {
	return c.parallel
}

// Map calls fn for every input with at most limit calls in flight. The
// result slice matches inputs index by index regardless of completion order.
func Map[In, Out any](ctx context.Context, inputs []In, limit int, fn func(ctx context.Context, in In) Out) []Out {
	out := make([]Out, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, in := range inputs {
		g.Go(func() error {
			out[i] = fn(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ProbeFormats resolves the maximum resolution of every URL. A failed probe
// yields an error-tagged summary and leaves its siblings alone.
func (c *Coordinator) ProbeFormats(ctx context.Context, urls []string) []model.FormatSummary {
	c.log.WithField("count", len(urls)).Info("probing formats")
	return Map(ctx, urls, c.parallel, func(ctx context.Context, url string) model.FormatSummary {
		height, err := c.prober.MaxHeight(ctx, url)
		if err != nil {
			c.log.WithError(err).WithField("url", url).Warn("format probe failed")
			return model.FormatSummary{URL: url, Error: err.Error(), MaxResolution: model.ResolutionLabel(0)}
		}
		return model.FormatSummary{
			URL:           url,
			MaxHeight:     height,
			MaxResolution: model.ResolutionLabel(height),
		}
	})
}

// SubmitAll starts one download task per video. Playlist links are expanded
// first; an expansion failure is reported for that input only.
func (c *Coordinator) SubmitAll(ctx context.Context, urls []string, quality model.Quality, sessionID string) []SubmitResult {
	c.log.WithFields(logrus.Fields{"count": len(urls), "quality": quality.String()}).Info("submitting batch")

	var mu sync.Mutex
	return Map(ctx, urls, c.parallel, func(ctx context.Context, url string) SubmitResult {
		res := SubmitResult{URL: url}

		videos := []string{url}
		if c.expander != nil {
			expanded, err := c.expander.Expand(ctx, videos)
			if err != nil {
				c.log.WithError(err).WithField("url", url).Warn("playlist expansion failed")
				res.Error = err.Error()
				return res
			}
			videos = expanded
		}

		// keep submission order stable within one input
		mu.Lock()
		defer mu.Unlock()
		for _, v := range videos {
			res.TaskIDs = append(res.TaskIDs, c.submitter.Submit(download.Request{
				URL:       v,
				Quality:   quality,
				SessionID: sessionID,
			}))
		}
		return res
	})
}

// TaskIDs flattens results into the ordered list of started task ids
func TaskIDs(results []SubmitResult) []string {
	var ids []string
	for _, r := range results {
		ids = append(ids, r.TaskIDs...)
	}
	return ids
}
