package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"

	"socialqueue/internal/model"
)

var supportedExtensions = map[string]struct{}{
	".mp4": {},
	".avi": {},
	".mov": {},
	".mkv": {},
	".wmv": {},
	".flv": {},
}

// Registry exposes the set of registered platform adapters. A job's target
// platform set must stay a subset of this registry.
type Registry interface {
	Platforms() []string
	Defaults() []string
}

// UpdateFields is a partial metadata update; nil fields are left unchanged.
type UpdateFields struct {
	Title       *string
	Description *string
	Tags        *[]string
	Platforms   *[]string
	Privacy     *string
}

// Manager owns the job collection. It is the single writer of job and task
// state; the orchestrator mutates state only through Dispatch, Transition,
// Progress and Retry.
type Manager struct {
	store    *Store
	registry Registry

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	settledMu sync.Mutex
	settled   []func(model.Job)
}

// NewManager creates a queue manager over the given store and adapter registry.
func NewManager(store *Store, registry Registry) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// jobLock returns the mutex serializing state changes for one job. Different
// jobs proceed fully in parallel.
func (m *Manager) jobLock(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) dropLock(id int64) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// OnJobSettled registers a callback invoked whenever a job reaches a terminal
// status. Callbacks run on their own goroutine, outside the job lock.
func (m *Manager) OnJobSettled(fn func(model.Job)) {
	m.settledMu.Lock()
	m.settled = append(m.settled, fn)
	m.settledMu.Unlock()
}

func (m *Manager) notifySettled(job model.Job) {
	m.settledMu.Lock()
	callbacks := make([]func(model.Job), len(m.settled))
	copy(callbacks, m.settled)
	m.settledMu.Unlock()
	for _, fn := range callbacks {
		go fn(job)
	}
}

// Add enqueues a video file. The title defaults to the file stem, the
// platform set to the default-enabled adapters and privacy to public.
func (m *Manager) Add(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		return 0, fmt.Errorf("%w: unsupported extension %q", ErrInvalidFile, ext)
	}

	name := filepath.Base(path)
	job := &model.Job{
		SourcePath: path,
		Name:       name,
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		Tags:       []string{},
		Platforms:  m.registry.Defaults(),
		Privacy:    model.PrivacyPublic,
		Status:     model.JobPending,
	}
	return m.store.InsertJob(ctx, job)
}

// Get loads a single job.
func (m *Manager) Get(ctx context.Context, id int64) (*model.Job, error) {
	return m.store.GetJob(ctx, id)
}

// List returns all jobs in insertion order.
func (m *Manager) List(ctx context.Context) ([]*model.Job, error) {
	return m.store.ListJobs(ctx)
}

// Update applies a partial metadata edit. Metadata is immutable once the job
// has been dispatched.
func (m *Manager) Update(ctx context.Context, id int64, fields UpdateFields) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != model.JobPending {
		return fmt.Errorf("%w: job %d is %s", ErrInvalidState, id, job.Status)
	}

	if fields.Title != nil {
		job.Title = *fields.Title
	}
	if fields.Description != nil {
		job.Description = *fields.Description
	}
	if fields.Tags != nil {
		job.Tags = lo.Uniq(*fields.Tags)
	}
	if fields.Platforms != nil {
		platforms := lo.Uniq(*fields.Platforms)
		registered := m.registry.Platforms()
		for _, platform := range platforms {
			if !lo.Contains(registered, platform) {
				return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
			}
		}
		job.Platforms = platforms
	}
	if fields.Privacy != nil {
		switch *fields.Privacy {
		case model.PrivacyPublic, model.PrivacyPrivate:
			job.Privacy = *fields.Privacy
		default:
			return fmt.Errorf("%w: privacy %q", ErrInvalidState, *fields.Privacy)
		}
	}
	return m.store.UpdateJobMeta(ctx, job)
}

// Remove deletes a job. Removal is rejected while an upload is in flight.
func (m *Manager) Remove(ctx context.Context, id int64) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == model.JobUploading {
		return fmt.Errorf("%w: job %d is uploading", ErrInvalidState, id)
	}
	if err := m.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	m.dropLock(id)
	return nil
}

// Dispatch marks a pending job as uploading and creates one queued task per
// selected platform. It returns the created tasks in platform order.
func (m *Manager) Dispatch(ctx context.Context, id int64) ([]model.PlatformTask, error) {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobPending {
		return nil, fmt.Errorf("%w: job %d is %s", ErrInvalidState, id, job.Status)
	}
	if len(job.Tasks) > 0 {
		return nil, fmt.Errorf("%w: job %d", ErrAlreadyDispatched, id)
	}
	if len(job.Platforms) == 0 {
		return nil, fmt.Errorf("%w: job %d", ErrNoPlatformsSelected, id)
	}

	if err := m.store.DispatchTasks(ctx, id, job.Platforms); err != nil {
		return nil, err
	}
	return m.store.GetTasks(ctx, id)
}

// Transition is the sole entry point by which the orchestrator changes task
// status. It enforces the task state machine and re-derives the job status in
// the same critical section.
func (m *Manager) Transition(ctx context.Context, id int64, platform string, status model.TaskStatus, detail string) error {
	if !model.ValidTaskStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, id, platform)
	if err != nil {
		return err
	}
	if !model.CanTransition(task.Status, status) {
		return fmt.Errorf("%w: %s -> %s for job %d/%s", ErrInvalidTransition, task.Status, status, id, platform)
	}

	task.Status = status
	switch status {
	case model.TaskSucceeded:
		task.Progress = 1
		task.Detail = ""
	case model.TaskFailed:
		task.Detail = detail
	default:
		task.Detail = ""
	}
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	return m.rederiveStatus(ctx, id)
}

// Progress records a reported upload fraction. Fractions are clamped to
// [0, 1] and never regress.
func (m *Manager) Progress(ctx context.Context, id int64, platform string, fraction float64) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, id, platform)
	if err != nil {
		return err
	}
	if task.Status != model.TaskUploading {
		return fmt.Errorf("%w: progress on %s task %d/%s", ErrInvalidState, task.Status, id, platform)
	}
	fraction = model.ClampProgress(fraction)
	if fraction <= task.Progress {
		return nil
	}
	task.Progress = fraction
	return m.store.UpdateTask(ctx, task)
}

// Retry resets a failed task back to queued so it can be dispatched again.
// Retrying a task in any other state fails with ErrInvalidTransition.
func (m *Manager) Retry(ctx context.Context, id int64, platform string) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.GetTask(ctx, id, platform)
	if err != nil {
		return err
	}
	if task.Status != model.TaskFailed {
		return fmt.Errorf("%w: retry of %s task %d/%s", ErrInvalidTransition, task.Status, id, platform)
	}
	task.Status = model.TaskQueued
	task.Progress = 0
	task.Detail = ""
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	return m.rederiveStatus(ctx, id)
}

// rederiveStatus recomputes the job-level status from its tasks and notifies
// observers when the job settles. Caller must hold the job lock.
func (m *Manager) rederiveStatus(ctx context.Context, id int64) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	derived := model.DeriveJobStatus(job.Tasks)
	if derived == job.Status {
		return nil
	}
	if err := m.store.UpdateJobStatus(ctx, id, derived); err != nil {
		return err
	}
	if derived == model.JobCompleted || derived == model.JobFailed {
		job.Status = derived
		m.notifySettled(*job)
	}
	return nil
}
