package remux

import "context"

// Optimizer rewrites a finished file for progressive playback. Failure must
// leave the input untouched.
type Optimizer interface {
	Optimize(ctx context.Context, path string) error
}

var _ Optimizer = (*Service)(nil)
