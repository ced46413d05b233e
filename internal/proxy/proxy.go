// Package proxy streams remote media straight to the client without touching
// the output directory, reporting progress and honouring the abort flag
// between chunks.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
	"golang.org/x/time/rate"
)

// Streaming defaults
const (
	DefaultChunkSize        = 64 * 1024
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultContentType      = "application/octet-stream"
)

var (
	// ErrCancelled is the outcome of a stream whose abort flag was observed
	ErrCancelled = errors.New("stream cancelled")

	// ErrUpstream is returned when the stream could not be opened. Nothing
	// has been written to the client in that case.
	ErrUpstream = errors.New("upstream unavailable")
)

// Resolver turns a page URL and selector into a direct media URL
type Resolver interface {
	DirectURL(ctx context.Context, url, selector string) (*platform.DirectMedia, error)
}

// Tasks is the registry surface the proxy needs
type Tasks interface {
	Create(kind model.TaskKind, url, sessionID string) string
	IsAborted(id string) bool
	MarkAbort(id string) bool
	Done(id string) <-chan struct{}
	SetPhase(id string, phase model.Phase) error
	SetOutput(id, title, filename string)
	Remove(id string)
}

// Publisher receives progress events
type Publisher interface {
	Publish(ev model.ProgressEvent)
}

// Recorder counts proxied tasks and bytes
type Recorder interface {
	TaskSubmitted(kind model.TaskKind)
	TaskFinished(kind model.TaskKind, phase model.Phase)
	ProxyBytes(n int)
}

// Request is one proxy submission
type Request struct {
	URL       string
	Quality   model.Quality
	SessionID string
	Range     string
}

// Deps wires the proxy to its collaborators
type Deps struct {
	Tasks            Tasks
	Resolver         Resolver
	Client           *http.Client
	Bus              Publisher
	Recorder         Recorder
	Log              logrus.FieldLogger
	ProgressInterval time.Duration
	ChunkSize        int
}

// Service runs proxy tasks on the caller's goroutine
type Service struct {
	Deps
	log logrus.FieldLogger
}

// NewService creates a streaming proxy
func NewService(deps Deps) *Service {
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	if deps.ProgressInterval <= 0 {
		deps.ProgressInterval = DefaultProgressInterval
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = DefaultChunkSize
	}
	return &Service{Deps: deps, log: logging.OrDiscard(deps.Log)}
}

// Open registers a proxy task and returns its id
func (s *Service) Open(req Request) string {
	id := s.Tasks.Create(model.KindProxy, req.URL, req.SessionID)
	if s.Recorder != nil {
		s.Recorder.TaskSubmitted(model.KindProxy)
	}
	return id
}

// streamState is the per-task progress bookkeeping of one stream
type streamState struct {
	taskID  string
	title   string
	total   int64
	sent    int64
	started time.Time
	limiter *rate.Limiter
}

func newStreamState(taskID, title string, total int64, interval time.Duration) *streamState {
	st := &streamState{
		taskID:  taskID,
		title:   title,
		total:   total,
		started: time.Now(),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
	// the initial event spends the first token
	st.limiter.Allow()
	return st
}

func (st *streamState) add(n int) {
	st.sent += int64(n)
}

// due reports whether a throttled progress event may be sent now
func (st *streamState) due() bool {
	return st.limiter.Allow()
}

func (st *streamState) event(status model.Phase) model.ProgressEvent {
	ev := model.ProgressEvent{
		TaskID:          st.taskID,
		Status:          status,
		DownloadedBytes: st.sent,
		TotalBytes:      st.total,
		Title:           st.title,
	}
	if st.total > 0 {
		ev.Percent = min(float64(st.sent)/float64(st.total)*100, 100)
	}
	if elapsed := time.Since(st.started).Seconds(); elapsed > 0 && st.sent > 0 {
		bps := float64(st.sent) / elapsed
		ev.Speed = model.FormatSpeed(bps)
		if st.total > st.sent {
			ev.ETA = model.FormatETA(int(float64(st.total-st.sent) / bps))
		}
	}
	if status == model.PhaseFinished {
		ev.Percent = 100
	}
	return ev
}

// Stream runs task id: it resolves the media, copies it to w chunk by chunk
// and removes the task when done. It returns nil, ErrCancelled, an
// ErrUpstream-wrapped error (nothing written), or a mid-stream failure.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, id string, req Request) error {
	log := s.log.WithFields(logrus.Fields{"taskId": id, "url": req.URL})

	err := s.stream(ctx, w, id, req, log)

	phase := model.PhaseFinished
	switch {
	case err == nil:
		log.Info("proxy stream finished")
	case errors.Is(err, ErrCancelled):
		phase = model.PhaseAborted
		log.Info("proxy stream aborted")
	default:
		phase = model.PhaseError
		log.WithError(err).Error("proxy stream failed")
		s.publish(model.ProgressEvent{TaskID: id, Status: model.PhaseError, Error: err.Error()})
	}

	if phase != model.PhaseFinished {
		_ = s.Tasks.SetPhase(id, phase)
	}
	if s.Recorder != nil {
		s.Recorder.TaskFinished(model.KindProxy, phase)
	}
	s.Tasks.Remove(id)
	return err
}

func (s *Service) stream(parent context.Context, w http.ResponseWriter, id string, req Request, log logrus.FieldLogger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-s.Tasks.Done(id):
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.aborted(ctx, id) {
		return ErrCancelled
	}
	_ = s.Tasks.SetPhase(id, model.PhaseDownloading)

	media, err := s.Resolver.DirectURL(ctx, req.URL, req.Quality.Selector())
	if err != nil {
		if s.aborted(ctx, id) {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	resp, err := s.open(ctx, media, req.Range)
	if err != nil {
		if s.aborted(ctx, id) {
			return ErrCancelled
		}
		return err
	}
	defer resp.Body.Close()

	filename := platform.SanitizeFilename(media.Title)
	if media.Ext != "" {
		filename += "." + media.Ext
	}
	s.Tasks.SetOutput(id, media.Title, filename)
	writeHeaders(w, resp, filename)

	total := resp.ContentLength
	if total <= 0 {
		total = media.ContentLength()
	}
	st := newStreamState(id, media.Title, total, s.ProgressInterval)
	s.publish(st.event(model.PhaseDownloading))
	log.WithField("total", total).Debug("proxy stream opened")

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, s.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// client went away
				s.Tasks.MarkAbort(id)
				return ErrCancelled
			}
			if flusher != nil {
				flusher.Flush()
			}
			st.add(n)
			if s.Recorder != nil {
				s.Recorder.ProxyBytes(n)
			}

			if s.Tasks.IsAborted(id) {
				abortClient(w)
				return ErrCancelled
			}
			if st.due() {
				s.publish(st.event(model.PhaseDownloading))
			}
		}

		if rerr == io.EOF {
			_ = s.Tasks.SetPhase(id, model.PhaseFinished)
			s.publish(st.event(model.PhaseFinished))
			return nil
		}
		if rerr != nil {
			abortClient(w)
			if s.aborted(ctx, id) {
				return ErrCancelled
			}
			return fmt.Errorf("upstream read failed after %d bytes: %w", st.sent, rerr)
		}
	}
}

// open starts the upstream transfer with the collaborator's headers
func (s *Service) open(ctx context.Context, media *platform.DirectMedia, byteRange string) (*http.Response, error) {
	upReq, err := http.NewRequestWithContext(ctx, http.MethodGet, media.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	for k, v := range media.Headers {
		upReq.Header.Set(k, v)
	}
	if byteRange != "" {
		upReq.Header.Set("Range", byteRange)
	}

	resp, err := s.Client.Do(upReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return resp, nil
}

func (s *Service) aborted(ctx context.Context, id string) bool {
	return s.Tasks.IsAborted(id) || ctx.Err() != nil
}

func (s *Service) publish(ev model.ProgressEvent) {
	if s.Bus != nil {
		s.Bus.Publish(ev)
	}
}

func writeHeaders(w http.ResponseWriter, resp *http.Response, filename string) {
	h := w.Header()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	for _, k := range []string{"Accept-Ranges", "Content-Range"} {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

// abortClient closes the client connection, leaving the body short of its
// declared length
func abortClient(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	if conn, _, err := hj.Hijack(); err == nil {
		conn.Close()
	}
}
