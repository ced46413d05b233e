// Package remux moves the index of finished MP4 files to the front with a
// copy-codec ffmpeg pass, so playback can start before the whole file arrives.
package remux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/logging"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpeg constants for the remux pass
const (
	// Stream copy, no re-encode
	CodecCopy = "copy"

	// Container flags
	FastStartFlag = "+faststart"

	// Temporary output suffix
	OptimizedSuffix = "_optimized"

	// Keep this much ffmpeg stderr in error messages
	MaxErrorTail = 512
)

// runner executes a compiled ffmpeg stream
type runner func(stream *ffmpeg.Stream) error

// Service runs the remux pass through ffmpeg-go
type Service struct {
	log logrus.FieldLogger
	run runner
}

// NewService creates a remux service
func NewService(log logrus.FieldLogger) *Service {
	return &Service{
		log: logging.OrDiscard(log),
		run: func(stream *ffmpeg.Stream) error { return stream.Run() },
	}
}

// Optimize remuxes path in place. On failure the temporary output is
// removed and the original file is kept as it was.
func (s *Service) Optimize(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input file does not exist: %w", err)
	}

	tmp := optimizedPath(path)
	var stderr bytes.Buffer
	stream := BuildStream(ctx, path, tmp).WithErrorOutput(&stderr)

	log := s.log.WithField("file", filepath.Base(path))
	log.Debug("remuxing for streaming")

	if err := s.run(stream); err != nil {
		removeTemp(log, tmp)
		return fmt.Errorf("ffmpeg failed: %w%s", err, errorTail(stderr.String()))
	}

	if err := os.Rename(tmp, path); err != nil {
		removeTemp(log, tmp)
		return fmt.Errorf("failed to replace original: %w", err)
	}
	return nil
}

// BuildStream builds the ffmpeg graph: copy every stream, move the moov atom
// to the front, overwrite the output.
func BuildStream(ctx context.Context, inputPath, outputPath string) *ffmpeg.Stream {
	return ffmpeg.OutputContext(ctx, []*ffmpeg.Stream{ffmpeg.Input(inputPath)}, outputPath,
		ffmpeg.KwArgs{
			"c":        CodecCopy,
			"movflags": FastStartFlag,
		}).
		OverWriteOutput()
}

// optimizedPath returns <base>_optimized<ext> next to the input
func optimizedPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + OptimizedSuffix + ext
}

func removeTemp(log logrus.FieldLogger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove temporary remux output")
	}
}

func errorTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	if len(stderr) > MaxErrorTail {
		stderr = stderr[len(stderr)-MaxErrorTail:]
	}
	return ": " + stderr
}
