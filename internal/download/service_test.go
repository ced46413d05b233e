package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytget/ytfetch/internal/admission"
	"github.com/ytget/ytfetch/internal/events"
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
	"github.com/ytget/ytfetch/internal/registry"
)

type fetchFunc func(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error)

type fakeFetcher struct {
	calls atomic.Int64
	fn    fetchFunc
}

func (f *fakeFetcher) Fetch(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, req, onProgress)
}

type fakeOptimizer struct {
	calls atomic.Int64
	err   error
}

func (o *fakeOptimizer) Optimize(context.Context, string) error {
	o.calls.Add(1)
	return o.err
}

type failingPlacer struct {
	dir string
}

func (failingPlacer) Place(string) (string, error) {
	return "", errors.New("cross-device link")
}

func (p failingPlacer) Dir() string {
	return p.dir
}

type harness struct {
	svc       *Service
	reg       *registry.Registry
	gate      *admission.Gate
	bus       *events.Bus
	fetcher   *fakeFetcher
	optimizer *fakeOptimizer
	outDir    string
}

func newHarness(t *testing.T, capacity int, fn fetchFunc) *harness {
	t.Helper()
	outDir := t.TempDir()
	h := &harness{
		reg:       registry.New(),
		gate:      admission.New(capacity, nil),
		bus:       events.New(nil),
		fetcher:   &fakeFetcher{fn: fn},
		optimizer: &fakeOptimizer{},
		outDir:    outDir,
	}
	h.svc = NewService(Deps{
		Tasks:      h.reg,
		Gate:       h.gate,
		Fetcher:    h.fetcher,
		Placer:     platform.NewResolver(outDir),
		Optimizer:  h.optimizer,
		Bus:        h.bus,
		StagingDir: filepath.Join(outDir, ".staging"),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

// writeFile is a fetch that produces name in the staging directory
func writeFile(name string, percents ...float64) fetchFunc {
	return func(_ context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		for _, p := range percents {
			if !onProgress(platform.FetchProgress{Percent: p, Title: "My Video!"}) {
				return nil, platform.ErrCancelled
			}
		}
		if err := os.MkdirAll(req.Dir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(req.Dir, name)
		if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
			return nil, err
		}
		return &platform.FetchResult{Path: path}, nil
	}
}

// blockUntil is a fetch that holds its slot until release is closed or the task is cancelled
func blockUntil(release <-chan struct{}) fetchFunc {
	return func(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		select {
		case <-release:
			return writeFile("clip.mp4")(ctx, req, onProgress)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func collect(t *testing.T, sub *events.Subscription, taskID string) []model.ProgressEvent {
	t.Helper()
	var out []model.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.TaskID != taskID {
				continue
			}
			out = append(out, ev)
			if ev.Status == model.PhaseFinished || ev.Status == model.PhaseError {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(out))
			return out
		}
	}
}

func phases(tasks []model.Task) map[model.Phase]int {
	counts := make(map[model.Phase]int)
	for _, task := range tasks {
		counts[task.Phase]++
	}
	return counts
}

func TestSubmit_EndToEnd(t *testing.T) {
	h := newHarness(t, 5, writeFile("My Video!.mp4", 0, 40, 30, 100))
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	id := h.svc.Submit(Request{URL: "https://youtu.be/x", Quality: model.Explicit("best")})
	evs := collect(t, sub, id)

	require.GreaterOrEqual(t, len(evs), 4)
	assert.Equal(t, model.PhaseQueued, evs[0].Status)
	assert.Equal(t, model.PhaseDownloading, evs[1].Status)
	assert.Equal(t, 0.0, evs[1].Percent)

	last := -1.0
	var statuses []model.Phase
	for _, ev := range evs {
		if ev.Status == model.PhaseDownloading {
			assert.GreaterOrEqual(t, ev.Percent, last, "percent went backwards")
			last = ev.Percent
		}
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, 100.0, last)
	assert.Equal(t, []model.Phase{
		model.PhaseQueued,
		model.PhaseDownloading,
		model.PhaseRenaming,
		model.PhaseOptimizing,
		model.PhaseFinished,
	}, statuses)

	final := evs[len(evs)-1]
	assert.Equal(t, "My Video.mp4", final.Filename)
	assert.Equal(t, "My Video!", final.Title)
	assert.Equal(t, 100.0, final.Percent)

	assert.FileExists(t, filepath.Join(h.outDir, "My Video.mp4"))
	matches, err := filepath.Glob(filepath.Join(h.outDir, "My Video*.mp4"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoDirExists(t, filepath.Join(h.outDir, ".staging", id))
	assert.Equal(t, int64(1), h.optimizer.calls.Load())
	assert.Zero(t, h.gate.InUse())
}

func TestSubmit_CollidingTitles(t *testing.T) {
	h := newHarness(t, 5, writeFile("Same.mp4", 100))
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	first := collect(t, sub, h.svc.Submit(Request{URL: "a"}))
	second := collect(t, sub, h.svc.Submit(Request{URL: "b"}))

	assert.Equal(t, "Same.mp4", first[len(first)-1].Filename)
	assert.Equal(t, "Same_1.mp4", second[len(second)-1].Filename)
}

func TestSubmit_CapacityPlusK(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, 2, blockUntil(release))

	for i := 0; i < 5; i++ {
		h.svc.Submit(Request{URL: "u"})
	}

	require.Eventually(t, func() bool {
		counts := phases(h.reg.List())
		return counts[model.PhaseDownloading] == 2 && counts[model.PhaseQueued] == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.gate.InUse())

	close(release)
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(5), h.fetcher.calls.Load())
}

func TestCancel_WhileQueued(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, 1, blockUntil(release))
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	running := h.svc.Submit(Request{URL: "first"})
	require.Eventually(t, func() bool { return h.gate.InUse() == 1 }, time.Second, 5*time.Millisecond)

	queued := h.svc.Submit(Request{URL: "second"})
	assert.True(t, h.svc.Cancel(queued))

	require.Eventually(t, func() bool {
		_, ok := h.reg.Get(queued)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.fetcher.calls.Load(), "aborted task never fetched")

	close(release)
	evs := collect(t, sub, running)
	assert.Equal(t, model.PhaseFinished, evs[len(evs)-1].Status)
}

func TestCancel_MidDownload(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, 1, func(ctx context.Context, _ platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		for pct := 0.0; ; pct += 0.5 {
			if !onProgress(platform.FetchProgress{Percent: pct}) {
				return nil, platform.ErrCancelled
			}
			once.Do(func() { close(started) })
			time.Sleep(5 * time.Millisecond)
		}
	})
	sub := h.bus.Subscribe(1024)
	defer sub.Close()

	id := h.svc.Submit(Request{URL: "u"})
	<-started
	h.svc.Cancel(id)

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.gate.InUse(), "slot released")

	// drain: no error or completion events for an aborted task
	for {
		select {
		case ev := <-sub.Events():
			assert.NotEqual(t, model.PhaseError, ev.Status)
			assert.NotEqual(t, model.PhaseFinished, ev.Status)
			continue
		default:
		}
		break
	}
}

func TestCascadeAbort_Session(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, 2, blockUntil(release))

	h.reg.OpenSession("S")
	for i := 0; i < 3; i++ {
		h.svc.Submit(Request{URL: "u", SessionID: "S"})
	}
	require.Eventually(t, func() bool { return h.gate.InUse() == 2 }, time.Second, 5*time.Millisecond)

	aborted := h.reg.CascadeAbort("S")
	assert.Len(t, aborted, 3)
	assert.False(t, h.reg.HasSession("S"))

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.gate.InUse())
}

func TestExecute_FetchError(t *testing.T) {
	h := newHarness(t, 1, func(context.Context, platform.FetchRequest, func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		return nil, errors.New("ERROR: Video unavailable")
	})
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	id := h.svc.Submit(Request{URL: "u"})
	evs := collect(t, sub, id)

	last := evs[len(evs)-1]
	assert.Equal(t, model.PhaseError, last.Status)
	assert.Contains(t, last.Error, "Video unavailable")

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.gate.InUse())
}

func TestExecute_OptimizeFailureStillFinishes(t *testing.T) {
	h := newHarness(t, 1, writeFile("clip.mp4", 100))
	h.optimizer.err = errors.New("ffmpeg missing")
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	evs := collect(t, sub, h.svc.Submit(Request{URL: "u"}))

	assert.Equal(t, model.PhaseFinished, evs[len(evs)-1].Status)
	assert.FileExists(t, filepath.Join(h.outDir, "clip.mp4"))
}

func TestExecute_AudioSkipsOptimize(t *testing.T) {
	var gotReq platform.FetchRequest
	h := newHarness(t, 1, func(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		gotReq = req
		return writeFile("song.webm", 100)(ctx, req, onProgress)
	})
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	evs := collect(t, sub, h.svc.Submit(Request{URL: "u", Quality: model.AudioOnly()}))

	for _, ev := range evs {
		assert.NotEqual(t, model.PhaseOptimizing, ev.Status)
	}
	assert.Equal(t, "song.webm", evs[len(evs)-1].Filename)
	assert.Zero(t, h.optimizer.calls.Load())
	assert.Equal(t, "bestaudio/best", gotReq.Selector)
	assert.Empty(t, gotReq.MergeFormat)
}

func TestExecute_QualityCapSelector(t *testing.T) {
	var gotReq platform.FetchRequest
	h := newHarness(t, 1, func(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error) {
		gotReq = req
		return writeFile("clip.mp4")(ctx, req, onProgress)
	})
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	collect(t, sub, h.svc.Submit(Request{URL: "u", Quality: model.QualityCap(720)}))

	assert.Equal(t, "bestvideo[height<=720]+bestaudio/best[height<=720]", gotReq.Selector)
	assert.Equal(t, "mp4", gotReq.MergeFormat)
}

func TestExecute_RenameFailureFallsBack(t *testing.T) {
	h := newHarness(t, 1, writeFile("Raw Name.mp4", 100))
	h.svc.Placer = failingPlacer{dir: h.outDir}
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	id := h.svc.Submit(Request{URL: "u"})
	evs := collect(t, sub, id)

	last := evs[len(evs)-1]
	assert.Equal(t, model.PhaseFinished, last.Status)
	assert.Equal(t, "Raw Name.mp4", last.Filename)

	_, err := os.Stat(filepath.Join(h.outDir, last.Filename))
	assert.NoError(t, err, "finished file must be servable from the output directory")

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoDirExists(t, filepath.Join(h.outDir, ".staging", id))
}

func TestExecute_RenameFallbackRefusesOverwrite(t *testing.T) {
	h := newHarness(t, 1, writeFile("Raw Name.mp4", 100))
	h.svc.Placer = failingPlacer{dir: h.outDir}
	existing := filepath.Join(h.outDir, "Raw Name.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("keep me"), 0o644))
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	evs := collect(t, sub, h.svc.Submit(Request{URL: "u"}))

	last := evs[len(evs)-1]
	assert.Equal(t, model.PhaseError, last.Status)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestExecute_FilenameOnlyWhenFinished(t *testing.T) {
	h := newHarness(t, 1, writeFile("clip.mp4", 100))
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	evs := collect(t, sub, h.svc.Submit(Request{URL: "u"}))

	for _, ev := range evs[:len(evs)-1] {
		assert.Empty(t, ev.Filename, "filename leaked in %s event", ev.Status)
	}
	assert.Equal(t, "clip.mp4", evs[len(evs)-1].Filename)
}

func TestShutdown_CancelsRunning(t *testing.T) {
	h := newHarness(t, 1, blockUntil(make(chan struct{})))
	h.svc.Submit(Request{URL: "u"})
	require.Eventually(t, func() bool { return h.gate.InUse() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))

	assert.Zero(t, h.reg.Len())
	assert.Zero(t, h.gate.InUse())
}

func TestProgressTracker_Monotonic(t *testing.T) {
	tr := &progressTracker{taskID: "t"}

	assert.Equal(t, 10.0, tr.next(platform.FetchProgress{Percent: 10}).Percent)
	assert.Equal(t, 60.0, tr.next(platform.FetchProgress{Percent: 60, Title: "T"}).Percent)
	ev := tr.next(platform.FetchProgress{Percent: 5})
	assert.Equal(t, 60.0, ev.Percent, "second stream restarts counting")
	assert.Equal(t, "T", ev.Title)
	assert.Equal(t, 100.0, tr.next(platform.FetchProgress{Percent: 140}).Percent)
}
