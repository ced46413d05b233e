package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TaskKind distinguishes the two fetch paths
type TaskKind string

const (
	// KindDownload fetches into the output directory
	KindDownload TaskKind = "download"

	// KindProxy streams remote bytes straight to the client
	KindProxy TaskKind = "proxy"
)

// Task is a snapshot of a single fetch job as held by the registry
type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	URL       string    `json:"url"`
	Phase     Phase     `json:"status"`
	Aborted   bool      `json:"aborted"`
	Filename  string    `json:"filename,omitempty"` // final output name, set once known
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayTitle returns title, filename, or URL in order of preference
func (t *Task) DisplayTitle() string {
	if t.Title != "" && !strings.HasPrefix(t.Title, "http") {
		return t.Title
	}

	if t.Filename != "" {
		name := filepath.Base(t.Filename)
		if idx := strings.LastIndex(name, "."); idx > 0 {
			name = name[:idx]
		}
		return name
	}

	return t.URL
}

// ProgressEvent is an immutable notification about a task. Percent never
// decreases within one phase of one task.
type ProgressEvent struct {
	TaskID          string  `json:"taskId"`
	Status          Phase   `json:"status"`
	Percent         float64 `json:"progress"`
	Speed           string  `json:"speed,omitempty"`
	ETA             string  `json:"eta,omitempty"`
	DownloadedBytes int64   `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	Title           string  `json:"title,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	Message         string  `json:"message,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Name returns the transport event name the client listens for
func (e ProgressEvent) Name() string {
	switch e.Status {
	case PhaseFinished:
		return "complete"
	case PhaseError:
		return "error"
	default:
		return "progress"
	}
}

// Names returns every transport event name ev is sent under. A finished
// event also goes out as progress so progress-only listeners see the
// terminal status.
func (e ProgressEvent) Names() []string {
	if e.Status == PhaseFinished {
		return []string{"progress", "complete"}
	}
	return []string{e.Name()}
}

// FormatETA returns seconds formatted as hh:mm:ss or mm:ss, or "—" if unknown
func FormatETA(seconds int) string {
	if seconds <= 0 {
		return "—"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// FormatSpeed renders a byte rate as MB/s
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1fMB/s", bytesPerSecond/1024/1024)
}
