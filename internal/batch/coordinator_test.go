package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytget/ytfetch/internal/download"
	"github.com/ytget/ytfetch/internal/model"
)

type fakeProber struct {
	heights map[string]int
}

func (p *fakeProber) MaxHeight(_ context.Context, url string) (int, error) {
	h, ok := p.heights[url]
	if !ok {
		return 0, errors.New("video unavailable")
	}
	// later inputs finish first
	time.Sleep(time.Duration(10-len(url)%10) * time.Millisecond)
	return h, nil
}

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []download.Request
}

func (s *recordingSubmitter) Submit(req download.Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return fmt.Sprintf("task-%s", req.URL)
}

type fakeExpander struct{}

func (fakeExpander) Expand(_ context.Context, urls []string) ([]string, error) {
	var out []string
	for _, u := range urls {
		switch {
		case strings.Contains(u, "list=bad"):
			return nil, errors.New("playlist is private")
		case strings.Contains(u, "list="):
			out = append(out, u+"#1", u+"#2")
		default:
			out = append(out, u)
		}
	}
	return out, nil
}

func TestMap_PreservesOrderAndBound(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}

	var inFlight, peak atomic.Int64
	out := Map(context.Background(), inputs, 4, func(_ context.Context, in int) int {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return in * 2
	})

	require.Len(t, out, len(inputs))
	for i, v := range out {
		assert.Equal(t, i*2, v)
	}
	assert.LessOrEqual(t, peak.Load(), int64(4))
}

func TestProbeFormats(t *testing.T) {
	prober := &fakeProber{heights: map[string]int{
		"https://a.example/1": 2160,
		"https://a.example/22": 720,
		"https://a.example/333": 0,
	}}
	c := NewCoordinator(prober, nil, nil, 3, nil)

	got := c.ProbeFormats(context.Background(), []string{
		"https://a.example/1",
		"https://a.example/missing",
		"https://a.example/22",
		"https://a.example/333",
	})

	want := []model.FormatSummary{
		{URL: "https://a.example/1", MaxHeight: 2160, MaxResolution: "4K"},
		{URL: "https://a.example/missing", MaxResolution: "Unknown", Error: "video unavailable"},
		{URL: "https://a.example/22", MaxHeight: 720, MaxResolution: "720p"},
		{URL: "https://a.example/333", MaxResolution: "Unknown"},
	}
	assert.Equal(t, want, got)
}

func TestSubmitAll(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewCoordinator(nil, sub, fakeExpander{}, 2, nil)

	results := c.SubmitAll(context.Background(), []string{
		"https://v.example/watch?v=a",
		"https://v.example/playlist?list=ok",
		"https://v.example/playlist?list=bad",
	}, model.QualityCap(1080), "sid-1")

	require.Len(t, results, 3)
	assert.Equal(t, []string{"task-https://v.example/watch?v=a"}, results[0].TaskIDs)
	assert.Equal(t, []string{
		"task-https://v.example/playlist?list=ok#1",
		"task-https://v.example/playlist?list=ok#2",
	}, results[1].TaskIDs)
	assert.Empty(t, results[2].TaskIDs)
	assert.Equal(t, "playlist is private", results[2].Error)

	assert.Len(t, TaskIDs(results), 3)
	require.Len(t, sub.reqs, 3)
	for _, req := range sub.reqs {
		assert.Equal(t, "sid-1", req.SessionID)
		assert.Equal(t, model.QualityCap(1080), req.Quality)
	}
}

func TestSubmitAll_NoExpander(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewCoordinator(nil, sub, nil, 0, nil)
	assert.Equal(t, DefaultParallel, c.Parallel())

	results := c.SubmitAll(context.Background(), []string{"https://v.example/playlist?list=ok"}, model.Quality{}, "")
	assert.Equal(t, []string{"task-https://v.example/playlist?list=ok"}, results[0].TaskIDs)
}
