package download

import (
	"context"

	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
)

// Fetcher downloads one URL into a directory. Returning false from onProgress
// stops the transfer.
type Fetcher interface {
	Fetch(ctx context.Context, req platform.FetchRequest, onProgress func(platform.FetchProgress) bool) (*platform.FetchResult, error)
}

// Placer moves a finished file into the output directory
type Placer interface {
	Place(src string) (string, error)
	Dir() string
}

// Optimizer remuxes a placed file in place
type Optimizer interface {
	Optimize(ctx context.Context, path string) error
}

// Gate bounds concurrent transfers
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Publisher receives progress events
type Publisher interface {
	Publish(ev model.ProgressEvent)
}

// Tasks is the registry surface the runner needs
type Tasks interface {
	Create(kind model.TaskKind, url, sessionID string) string
	IsAborted(id string) bool
	MarkAbort(id string) bool
	Done(id string) <-chan struct{}
	SetPhase(id string, phase model.Phase) error
	SetOutput(id, title, filename string)
	Remove(id string)
}

// Recorder counts task outcomes
type Recorder interface {
	TaskSubmitted(kind model.TaskKind)
	TaskFinished(kind model.TaskKind, phase model.Phase)
}
