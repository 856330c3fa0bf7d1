package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"socialqueue/internal/model"
)

// TaskState is a point-in-time view of one platform task tracked by a handle.
type TaskState struct {
	JobID    int64
	Platform string
	Status   model.TaskStatus
	Progress float64
	Detail   string
}

// Handle is a caller-held reference to an in-flight orchestration run. It can
// be polled for progress, waited on, or cancelled cooperatively.
type Handle struct {
	id        uuid.UUID
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskState

	wg sync.WaitGroup
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     uuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
		tasks:  make(map[string]*TaskState),
	}
}

// ID identifies this run.
func (h *Handle) ID() string { return h.id.String() }

// Cancel asks all in-flight platform tasks to stop cooperatively. Cancelled
// tasks settle to failed with the Cancelled detail.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Done is closed once every task has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run settles or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the tracked tasks ordered by job then platform.
func (h *Handle) Snapshot() []TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	states := make([]TaskState, 0, len(h.tasks))
	for _, t := range h.tasks {
		states = append(states, *t)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].JobID != states[j].JobID {
			return states[i].JobID < states[j].JobID
		}
		return states[i].Platform < states[j].Platform
	})
	return states
}

// Err aggregates the failures of a settled run; nil when every task
// succeeded. Calling Err before Done closes reflects only settled tasks.
func (h *Handle) Err() error {
	var parts []string
	for _, t := range h.Snapshot() {
		if t.Status == model.TaskFailed {
			parts = append(parts, fmt.Sprintf("job %d/%s: %s", t.JobID, t.Platform, t.Detail))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(strings.Join(parts, "; "))
}

func taskKey(jobID int64, platform string) string {
	return fmt.Sprintf("%d/%s", jobID, platform)
}

func (h *Handle) track(jobID int64, platform string) {
	h.mu.Lock()
	h.tasks[taskKey(jobID, platform)] = &TaskState{
		JobID:    jobID,
		Platform: platform,
		Status:   model.TaskQueued,
	}
	h.mu.Unlock()
}

func (h *Handle) setStatus(jobID int64, platform string, status model.TaskStatus, detail string) {
	h.mu.Lock()
	if t, ok := h.tasks[taskKey(jobID, platform)]; ok {
		t.Status = status
		t.Detail = detail
		if status == model.TaskSucceeded {
			t.Progress = 1
		}
	}
	h.mu.Unlock()
}

func (h *Handle) setProgress(jobID int64, platform string, fraction float64) {
	h.mu.Lock()
	if t, ok := h.tasks[taskKey(jobID, platform)]; ok && fraction > t.Progress {
		t.Progress = model.ClampProgress(fraction)
	}
	h.mu.Unlock()
}

func (h *Handle) finish() {
	close(h.done)
}
