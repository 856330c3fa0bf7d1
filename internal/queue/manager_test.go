package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialqueue/internal/model"
)

type stubRegistry struct {
	platforms []string
	defaults  []string
}

func (r stubRegistry) Platforms() []string { return r.platforms }
func (r stubRegistry) Defaults() []string  { return r.defaults }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	registry := stubRegistry{
		platforms: []string{"instagram", "tiktok", "x", "youtube"},
		defaults:  []string{"youtube"},
	}
	return NewManager(store, registry)
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func TestAddAppliesDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", job.Name)
	assert.Equal(t, "clip", job.Title)
	assert.Equal(t, []string{"youtube"}, job.Platforms)
	assert.Equal(t, model.PrivacyPublic, job.Privacy)
	assert.Equal(t, model.JobPending, job.Status)
}

func TestAddRejectsBadFiles(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Add(ctx, filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = m.Add(ctx, writeVideo(t, "notes.txt"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = m.Add(ctx, t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestAddAcceptsAllSupportedExtensions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	for _, name := range []string{"a.mp4", "b.AVI", "c.mov", "d.mkv", "e.wmv", "f.flv"} {
		_, err := m.Add(ctx, writeVideo(t, name))
		assert.NoError(t, err, name)
	}
}

func TestUpdateMetadata(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)

	title := "my clip"
	tags := []string{"funny", "funny", "cats"}
	platforms := []string{"youtube", "instagram"}
	privacy := model.PrivacyPrivate
	require.NoError(t, m.Update(ctx, id, UpdateFields{
		Title:     &title,
		Tags:      &tags,
		Platforms: &platforms,
		Privacy:   &privacy,
	}))

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "my clip", job.Title)
	assert.Equal(t, []string{"funny", "cats"}, job.Tags)
	assert.Equal(t, []string{"youtube", "instagram"}, job.Platforms)
	assert.Equal(t, model.PrivacyPrivate, job.Privacy)
}

func TestUpdateRejectsUnknownPlatform(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)

	platforms := []string{"youtube", "myspace"}
	err = m.Update(ctx, id, UpdateFields{Platforms: &platforms})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestUpdateRejectedOnceDispatched(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)

	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	title := "too late"
	err = m.Update(ctx, id, UpdateFields{Title: &title})
	assert.ErrorIs(t, err, ErrInvalidState)

	// prior metadata is unchanged
	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "clip", job.Title)
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, id))
	assert.ErrorIs(t, m.Remove(ctx, id), ErrNotFound)
}

func TestRemoveRejectedWhileUploading(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Remove(ctx, id), ErrInvalidState)
}

func TestDispatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	platforms := []string{"youtube", "instagram"}
	require.NoError(t, m.Update(ctx, id, UpdateFields{Platforms: &platforms}))

	tasks, err := m.Dispatch(ctx, id)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, model.TaskQueued, task.Status)
	}

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobUploading, job.Status)

	_, err = m.Dispatch(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDispatchRequiresPlatforms(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	empty := []string{}
	require.NoError(t, m.Update(ctx, id, UpdateFields{Platforms: &empty}))

	_, err = m.Dispatch(ctx, id)
	assert.ErrorIs(t, err, ErrNoPlatformsSelected)
}

func TestTransitionStateMachine(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	// queued -> succeeded is not an edge
	err = m.Transition(ctx, id, "youtube", model.TaskSucceeded, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskSucceeded, ""))

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 1.0, job.Tasks[0].Progress)

	// terminal states have no outgoing edges
	err = m.Transition(ctx, id, "youtube", model.TaskUploading, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMixedOutcomeDerivesFailed(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	platforms := []string{"youtube", "instagram"}
	require.NoError(t, m.Update(ctx, id, UpdateFields{Platforms: &platforms}))
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskSucceeded, ""))

	// still uploading until the sibling settles
	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobUploading, job.Status)

	require.NoError(t, m.Transition(ctx, id, "instagram", model.TaskFailed, model.DetailNotAuthenticated))

	job, err = m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	for _, task := range job.Tasks {
		if task.Platform == "instagram" {
			assert.Equal(t, model.TaskFailed, task.Status)
			assert.Equal(t, model.DetailNotAuthenticated, task.Detail)
		} else {
			assert.Equal(t, model.TaskSucceeded, task.Status)
		}
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	// progress before the task starts uploading is rejected
	assert.ErrorIs(t, m.Progress(ctx, id, "youtube", 0.1), ErrInvalidState)

	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, m.Progress(ctx, id, "youtube", 0.5))
	require.NoError(t, m.Progress(ctx, id, "youtube", 0.3)) // regressions are ignored
	require.NoError(t, m.Progress(ctx, id, "youtube", 1.5)) // clamped

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, job.Tasks[0].Progress)
}

func TestRetry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)

	// retry of a non-failed task is rejected
	assert.ErrorIs(t, m.Retry(ctx, id, "youtube"), ErrInvalidTransition)

	// queued -> queued is not an edge either
	assert.ErrorIs(t, m.Transition(ctx, id, "youtube", model.TaskQueued, ""), ErrInvalidTransition)
}

func TestRetryResetsFailedTask(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskFailed, "boom"))

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, job.Status)

	require.NoError(t, m.Retry(ctx, id, "youtube"))

	job, err = m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobUploading, job.Status)
	assert.Equal(t, model.TaskQueued, job.Tasks[0].Status)
	assert.Equal(t, 0.0, job.Tasks[0].Progress)
	assert.Empty(t, job.Tasks[0].Detail)

	assert.ErrorIs(t, m.Retry(ctx, id, "youtube"), ErrInvalidTransition)
}

func TestOnJobSettled(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	settled := make(chan model.Job, 1)
	m.OnJobSettled(func(job model.Job) { settled <- job })

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskSucceeded, ""))

	select {
	case job := <-settled:
		assert.Equal(t, id, job.ID)
		assert.Equal(t, model.JobCompleted, job.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("settled callback never fired")
	}
}

func TestRestartRecoversInterruptedJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	registry := stubRegistry{
		platforms: []string{"instagram", "tiktok", "x", "youtube"},
		defaults:  []string{"youtube"},
	}
	ctx := context.Background()

	store, err := Open(dbPath)
	require.NoError(t, err)
	m := NewManager(store, registry)

	id, err := m.Add(ctx, writeVideo(t, "clip.mp4"))
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, id)
	require.NoError(t, err)
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err)
	defer reopened.Close()
	m = NewManager(reopened, registry)

	job, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	require.Len(t, job.Tasks, 1)
	assert.Equal(t, model.TaskFailed, job.Tasks[0].Status)
	assert.Equal(t, model.DetailInterrupted, job.Tasks[0].Detail)

	// the job is reachable again: retry resumes it, remove releases it
	require.NoError(t, m.Retry(ctx, id, "youtube"))
	job, err = m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobUploading, job.Status)

	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskUploading, ""))
	require.NoError(t, m.Transition(ctx, id, "youtube", model.TaskFailed, "network"))
	require.NoError(t, m.Remove(ctx, id))
}
