// Package cleanup enforces retention of the output directory.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/platform"
)

// Retention defaults
const (
	DefaultInterval = 300 * time.Second
	DefaultMaxAge   = 3600 * time.Second
	StagingDirName  = ".staging"
)

// Recorder counts swept files
type Recorder interface {
	FilesSwept(n int)
}

// Sweeper periodically deletes output files older than MaxAge
type Sweeper struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	recorder Recorder
	log      logrus.FieldLogger
	now      func() time.Time
	live     func(taskID string) bool
}

// NewSweeper creates a sweeper for dir. Non-positive durations fall back
// to the defaults.
func NewSweeper(dir string, interval, maxAge time.Duration, recorder Recorder, log logrus.FieldLogger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{
		dir:      dir,
		interval: interval,
		maxAge:   maxAge,
		recorder: recorder,
		log:      logging.OrDiscard(log).WithField("component", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"dir":      s.dir,
		"interval": s.interval,
		"maxAge":   s.maxAge,
	}).Info("retention sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(); err != nil {
				s.log.WithError(err).Warn("sweep finished with errors")
			}
		}
	}
}

// SweepOnce deletes regular files in the output directory whose mtime is
// older than maxAge, plus abandoned staging directories. Per-file failures
// are logged and joined into the returned error; the sweep goes on.
func (s *Sweeper) SweepOnce() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", s.dir, err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		ok, err := s.removeIfStale(path, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	errs = append(errs, s.sweepStaging(cutoff))

	if removed > 0 {
		s.log.WithField("count", removed).Info("removed expired files")
		if s.recorder != nil {
			s.recorder.FilesSwept(removed)
		}
	}
	return removed, errors.Join(errs...)
}

func (s *Sweeper) removeIfStale(path string, cutoff time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		s.log.WithError(err).WithField("path", path).Warn("stat failed")
		return false, err
	}
	if !info.ModTime().Before(cutoff) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("path", path).Warn("remove failed")
		return false, err
	}
	s.log.WithField("path", path).Debug("removed expired file")
	return true, nil
}

// SetLiveCheck installs a lookup for tasks that are still running. Their
// staging directories are never swept.
func (s *Sweeper) SetLiveCheck(live func(taskID string) bool) {
	s.live = live
}

// sweepStaging drops staging directories of finished tasks whose newest
// entry is older than cutoff
func (s *Sweeper) sweepStaging(cutoff time.Time) error {
	root := filepath.Join(s.dir, StagingDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.live != nil && s.live(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		newest, err := newestModTime(path)
		if err != nil || !newest.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("failed to remove staging directory")
			errs = append(errs, err)
			continue
		}
		s.log.WithField("path", path).Debug("removed stale staging directory")
	}
	return errors.Join(errs...)
}

// newestModTime returns the latest mtime of dir and everything below it
func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

// Purge empties the output directory, used once at startup
func Purge(dir string, log logrus.FieldLogger) error {
	if err := platform.ClearDirectory(dir); err != nil {
		return err
	}
	logging.OrDiscard(log).WithField("dir", dir).Info("output directory purged")
	return nil
}
