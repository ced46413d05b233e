package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
)

// Messages shown with phase events
const (
	OptimizingMessage = "Optimizing for smooth playback..."
)

// ErrCancelled is the outcome of a task whose abort flag was observed
var ErrCancelled = errors.New("task cancelled")

// Request is one download submission
type Request struct {
	URL       string
	Quality   model.Quality
	SessionID string
}

// Deps wires the runner to its collaborators
type Deps struct {
	Tasks      Tasks
	Gate       Gate
	Fetcher    Fetcher
	Placer     Placer
	Optimizer  Optimizer
	Bus        Publisher
	Recorder   Recorder
	Log        logrus.FieldLogger
	StagingDir string
}

// Service runs download tasks, one goroutine per task
type Service struct {
	Deps

	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a download runner
func NewService(deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Deps:   deps,
		log:    logging.OrDiscard(deps.Log),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers a task, publishes its queued event and starts it in the
// background. It returns the task id.
func (s *Service) Submit(req Request) string {
	id := s.Tasks.Create(model.KindDownload, req.URL, req.SessionID)
	s.publish(model.ProgressEvent{TaskID: id, Status: model.PhaseQueued})
	if s.Recorder != nil {
		s.Recorder.TaskSubmitted(model.KindDownload)
	}

	s.log.WithFields(logrus.Fields{
		"taskId":  id,
		"url":     req.URL,
		"quality": req.Quality.String(),
		"session": req.SessionID,
	}).Info("download queued")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Execute(s.ctx, id, req)
	}()
	return id
}

// Cancel sets the abort flag of a task
func (s *Service) Cancel(id string) bool {
	return s.Tasks.MarkAbort(id)
}

// Execute runs a registered task to a terminal phase and removes it from the
// registry. It returns nil, ErrCancelled, or the failure that was reported.
func (s *Service) Execute(ctx context.Context, id string, req Request) error {
	log := s.log.WithField("taskId", id)

	err := s.run(ctx, id, req, log)

	phase := model.PhaseFinished
	switch {
	case err == nil:
		log.Info("download finished")
	case errors.Is(err, ErrCancelled):
		phase = model.PhaseAborted
		log.Info("download aborted")
	default:
		phase = model.PhaseError
		log.WithError(err).Error("download failed")
		s.publish(model.ProgressEvent{TaskID: id, Status: model.PhaseError, Error: err.Error()})
	}

	if phase != model.PhaseFinished {
		_ = s.Tasks.SetPhase(id, phase)
	}
	if s.Recorder != nil {
		s.Recorder.TaskFinished(model.KindDownload, phase)
	}
	s.Tasks.Remove(id)
	return err
}

func (s *Service) run(parent context.Context, id string, req Request, log logrus.FieldLogger) error {
	ctx, cancel := s.watchAbort(parent, id)
	defer cancel()

	if err := s.Gate.Acquire(ctx); err != nil {
		return ErrCancelled
	}
	defer s.Gate.Release()

	if s.aborted(ctx, id) {
		return ErrCancelled
	}

	staging := filepath.Join(s.StagingDir, id)
	defer platform.RemoveStaging(log, staging)

	s.setPhase(id, model.PhaseDownloading)
	s.publish(model.ProgressEvent{TaskID: id, Status: model.PhaseDownloading})

	tracker := &progressTracker{taskID: id}
	fetchReq := platform.FetchRequest{
		URL:         req.URL,
		Selector:    req.Quality.Selector(),
		MergeFormat: req.Quality.MergeFormat(),
		Dir:         staging,
	}
	res, err := s.Fetcher.Fetch(ctx, fetchReq, func(p platform.FetchProgress) bool {
		if s.aborted(ctx, id) {
			return false
		}
		s.publish(tracker.next(p))
		return true
	})
	if err != nil {
		if errors.Is(err, platform.ErrCancelled) || s.aborted(ctx, id) {
			return ErrCancelled
		}
		return err
	}
	if s.aborted(ctx, id) {
		return ErrCancelled
	}

	title := res.Title
	if title == "" {
		title = tracker.title
	}

	s.setPhase(id, model.PhaseRenaming)
	s.publish(model.ProgressEvent{TaskID: id, Status: model.PhaseRenaming, Percent: 100, Title: title})

	final, err := s.Placer.Place(res.Path)
	if err != nil {
		log.WithError(err).Warn("rename failed, keeping original file name")
		if final, err = placeRaw(s.Placer.Dir(), res.Path); err != nil {
			return fmt.Errorf("failed to place output: %w", err)
		}
	}
	filename := filepath.Base(final)

	if !req.Quality.IsAudio() {
		if s.aborted(ctx, id) {
			discard(log, final)
			return ErrCancelled
		}

		s.setPhase(id, model.PhaseOptimizing)
		s.publish(model.ProgressEvent{
			TaskID:  id,
			Status:  model.PhaseOptimizing,
			Percent: 100,
			Message: OptimizingMessage,
		})

		if err := s.Optimizer.Optimize(ctx, final); err != nil {
			log.WithError(err).Warn("optimization failed, keeping original file")
		}
	}

	if s.aborted(ctx, id) {
		discard(log, final)
		return ErrCancelled
	}

	s.Tasks.SetOutput(id, title, filename)
	s.setPhase(id, model.PhaseFinished)
	s.publish(model.ProgressEvent{
		TaskID:   id,
		Status:   model.PhaseFinished,
		Percent:  100,
		Title:    title,
		Filename: filename,
	})
	return nil
}

// watchAbort derives a context that is cancelled as soon as the task is aborted
func (s *Service) watchAbort(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := s.Tasks.Done(id)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// aborted reports whether the task was aborted or the runner is shutting down
func (s *Service) aborted(ctx context.Context, id string) bool {
	return s.Tasks.IsAborted(id) || ctx.Err() != nil
}

func (s *Service) setPhase(id string, phase model.Phase) {
	if err := s.Tasks.SetPhase(id, phase); err != nil {
		s.log.WithField("taskId", id).WithError(err).Debug("phase not recorded")
	}
}

func (s *Service) publish(ev model.ProgressEvent) {
	if s.Bus != nil {
		s.Bus.Publish(ev)
	}
}

// Shutdown stops accepting work, cancels running tasks and waits for them
// to unwind or for ctx to expire
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("download tasks still running: %w", ctx.Err())
	}
}

// placeRaw moves src into dir under its unmodified base name. It refuses
// to overwrite and to produce a name the file endpoint would reject.
func placeRaw(dir, src string) (string, error) {
	dst, err := platform.SafeJoin(dir, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%s already exists", filepath.Base(dst))
	}
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func discard(log logrus.FieldLogger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove output of aborted task")
	}
}
