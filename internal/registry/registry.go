// Package registry tracks live fetch tasks, their abort flags and the
// sessions that own them.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ytget/ytfetch/internal/model"
)

// TaskIDPrefix is prepended to every generated task id
const TaskIDPrefix = "task-"

// ErrNotFound is returned for ids the registry does not hold
var ErrNotFound = errors.New("task not found")

type entry struct {
	task    model.Task
	abortCh chan struct{}
}

// Registry owns every live task. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*entry
	sessions map[string][]string
	now      func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tasks:    make(map[string]*entry),
		sessions: make(map[string][]string),
		now:      time.Now,
	}
}

// OpenSession registers a connected session. Reopening is a no-op.
func (r *Registry) OpenSession(sessionID string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = nil
	}
}

// HasSession reports whether the session is connected
func (r *Registry) HasSession(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Create registers a new task in the queued phase and returns its id. The
// task joins sessionID only if that session is connected.
func (r *Registry) Create(kind model.TaskKind, url, sessionID string) string {
	id := generateTaskID()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	task := model.Task{
		ID:        id,
		Kind:      kind,
		URL:       url,
		Phase:     model.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owned, ok := r.sessions[sessionID]; ok && sessionID != "" {
		task.SessionID = sessionID
		r.sessions[sessionID] = append(owned, id)
	}

	r.tasks[id] = &entry{task: task, abortCh: make(chan struct{})}
	return id
}

// MarkAbort sets the abort flag. Unknown ids and repeated calls are no-ops.
func (r *Registry) MarkAbort(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markAbortLocked(id)
}

func (r *Registry) markAbortLocked(id string) bool {
	e, ok := r.tasks[id]
	if !ok {
		return false
	}
	if !e.task.Aborted {
		e.task.Aborted = true
		e.task.UpdatedAt = r.now()
		close(e.abortCh)
	}
	return true
}

// IsAborted reports the abort flag; unknown ids are not aborted
func (r *Registry) IsAborted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	return ok && e.task.Aborted
}

// Done returns a channel closed when the task is aborted. Unknown ids get nil,
// which never fires.
func (r *Registry) Done(id string) <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tasks[id]; ok {
		return e.abortCh
	}
	return nil
}

// Remove drops the task. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return
	}
	delete(r.tasks, id)

	if sid := e.task.SessionID; sid != "" {
		owned := r.sessions[sid]
		for i, tid := range owned {
			if tid == id {
				r.sessions[sid] = append(owned[:i:i], owned[i+1:]...)
				break
			}
		}
	}
}

// CascadeAbort aborts every task still owned by the session and forgets the
// session. It returns the ids that were aborted.
func (r *Registry) CascadeAbort(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)

	aborted := make([]string, 0, len(owned))
	for _, id := range owned {
		if r.markAbortLocked(id) {
			aborted = append(aborted, id)
		}
	}
	return aborted
}

// SetPhase records a phase transition
func (r *Registry) SetPhase(id string, phase model.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.task.Phase != phase && !e.task.Phase.CanTransition(phase) {
		return fmt.Errorf("invalid transition %s -> %s for %s", e.task.Phase, phase, id)
	}
	e.task.Phase = phase
	e.task.UpdatedAt = r.now()
	return nil
}

// SetOutput records the title and final filename once known
func (r *Registry) SetOutput(id, title, filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return
	}
	if title != "" {
		e.task.Title = title
	}
	if filename != "" {
		e.task.Filename = filename
	}
	e.task.UpdatedAt = r.now()
}

// Get returns a copy of the task
func (r *Registry) Get(id string) (model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return e.task, true
}

// List returns copies of all live tasks, oldest first
func (r *Registry) List() []model.Task {
	r.mu.RLock()
	tasks := make([]model.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		tasks = append(tasks, e.task)
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// SessionTasks returns the ids owned by a session in submission order
func (r *Registry) SessionTasks(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.sessions[sessionID]...)
}

// Len returns the number of live tasks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// generateTaskID uses UUID v7 so ids sort by creation time
func generateTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return TaskIDPrefix + uuid.NewString()
	}
	return TaskIDPrefix + id.String()
}
