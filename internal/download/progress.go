package download

import (
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
)

// progressTracker turns collaborator samples into events whose percent never
// goes backwards, even when yt-dlp restarts counting for the audio stream
type progressTracker struct {
	taskID  string
	percent float64
	title   string
}

func (t *progressTracker) next(p platform.FetchProgress) model.ProgressEvent {
	if p.Percent > t.percent {
		t.percent = min(p.Percent, 100)
	}
	if p.Title != "" {
		t.title = p.Title
	}

	return model.ProgressEvent{
		TaskID:          t.taskID,
		Status:          model.PhaseDownloading,
		Percent:         t.percent,
		Speed:           p.Speed,
		ETA:             p.ETA,
		DownloadedBytes: p.DownloadedBytes,
		TotalBytes:      p.TotalBytes,
		Title:           t.title,
	}
}
