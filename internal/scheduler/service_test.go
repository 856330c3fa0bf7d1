package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialqueue/internal/logging"
	"socialqueue/internal/model"
	"socialqueue/internal/orchestrator"
	"socialqueue/internal/queue"
	"socialqueue/internal/uploaders"
)

type blockingUploader struct {
	started chan struct{}
}

func (b *blockingUploader) Platform() string     { return "youtube" }
func (b *blockingUploader) DefaultEnabled() bool { return true }

func (b *blockingUploader) Authenticate(ctx context.Context) error { return nil }

func (b *blockingUploader) Upload(ctx context.Context, req *uploaders.UploadRequest, progress uploaders.ProgressFunc) (*uploaders.UploadResult, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New("not a cron spec", nil, logging.NewDiscard())
	assert.Error(t, err)
}

func TestFlushStopsOnRunContextCancel(t *testing.T) {
	dir := t.TempDir()
	store, err := queue.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := &blockingUploader{started: make(chan struct{})}
	registry := uploaders.NewEmptyManager()
	registry.Register(fake)
	manager := queue.NewManager(store, registry)
	orch := orchestrator.New(manager, registry, logging.NewDiscard(), orchestrator.Options{})

	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video bytes"), 0o644))
	id, err := manager.Add(context.Background(), path)
	require.NoError(t, err)

	svc, err := New("@hourly", orch, logging.NewDiscard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc.ctx = ctx

	done := make(chan struct{})
	go func() {
		svc.flush()
		close(done)
	}()

	<-fake.started
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("flush did not return after cancellation")
	}

	job, err := manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	require.Len(t, job.Tasks, 1)
	assert.Equal(t, model.TaskFailed, job.Tasks[0].Status)
	assert.Equal(t, model.DetailCancelled, job.Tasks[0].Detail)
}
