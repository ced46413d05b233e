package model

// Phase represents the lifecycle phase of a fetch task
type Phase string

const (
	// PhaseQueued means the task was accepted and waits for a transfer slot
	PhaseQueued Phase = "queued"

	// PhaseDownloading means bytes are being transferred
	PhaseDownloading Phase = "downloading"

	// PhaseRenaming means the output is being moved to its final name
	PhaseRenaming Phase = "renaming"

	// PhaseOptimizing means the output is being remuxed for streaming
	PhaseOptimizing Phase = "optimizing"

	// PhaseFinished means the task completed successfully
	PhaseFinished Phase = "finished"

	// PhaseAborted means the task was cancelled
	PhaseAborted Phase = "aborted"

	// PhaseError means the task failed with an error
	PhaseError Phase = "error"
)

// String returns the string representation of Phase
func (p Phase) String() string {
	return string(p)
}

// IsActive returns true if the task holds resources in this phase
func (p Phase) IsActive() bool {
	return p == PhaseDownloading || p == PhaseRenaming || p == PhaseOptimizing
}

// IsFinished returns true if the phase is terminal (finished, aborted, or error)
func (p Phase) IsFinished() bool {
	return p == PhaseFinished || p == PhaseAborted || p == PhaseError
}

// CanTransition reports whether a task may move from p to next.
// Aborted and error are reachable from every non-terminal phase.
func (p Phase) CanTransition(next Phase) bool {
	if p.IsFinished() {
		return false
	}
	if next == PhaseAborted || next == PhaseError {
		return true
	}
	switch p {
	case PhaseQueued:
		return next == PhaseDownloading
	case PhaseDownloading:
		return next == PhaseRenaming || next == PhaseFinished
	case PhaseRenaming:
		return next == PhaseOptimizing || next == PhaseFinished
	case PhaseOptimizing:
		return next == PhaseFinished
	}
	return false
}
