package orchestrator

import (
	"context"
	"errors"
	"time"

	"socialqueue/internal/logging"
	"socialqueue/internal/model"
	"socialqueue/internal/queue"
	"socialqueue/internal/uploaders"
)

// Options bound the orchestrator's resource usage.
type Options struct {
	// MaxConcurrent caps in-flight platform tasks across the whole process.
	// Zero means unlimited.
	MaxConcurrent int
	// LaunchInterval paces job launches during UploadAll.
	LaunchInterval time.Duration
	// UploadTimeout bounds each platform upload attempt.
	UploadTimeout time.Duration
}

// Orchestrator schedules per-job, per-platform upload tasks. It never writes
// job or task state directly; every mutation goes through the queue manager.
type Orchestrator struct {
	queue    *queue.Manager
	registry *uploaders.Manager
	log      *logging.Logger

	sem            chan struct{}
	launchInterval time.Duration
	uploadTimeout  time.Duration
}

// New creates an orchestrator over the queue manager and adapter registry.
func New(q *queue.Manager, registry *uploaders.Manager, log *logging.Logger, opts Options) *Orchestrator {
	var sem chan struct{}
	if opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, opts.MaxConcurrent)
	}
	timeout := opts.UploadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Orchestrator{
		queue:          q,
		registry:       registry,
		log:            log,
		sem:            sem,
		launchInterval: opts.LaunchInterval,
		uploadTimeout:  timeout,
	}
}

// UploadOne dispatches every selected platform of a pending job concurrently
// and returns a handle for polling or cancellation. Validation errors are
// returned synchronously; upload failures settle the affected task only.
func (o *Orchestrator) UploadOne(ctx context.Context, jobID int64) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)

	tasks, err := o.queue.Dispatch(runCtx, jobID)
	if err != nil {
		cancel()
		return nil, err
	}
	job, err := o.queue.Get(runCtx, jobID)
	if err != nil {
		cancel()
		return nil, err
	}

	o.log.Infof("[job %d] dispatching %d platform task(s)", jobID, len(tasks))
	for _, task := range tasks {
		h.track(jobID, task.Platform)
		h.wg.Add(1)
		go o.runTask(runCtx, h, job, task.Platform)
	}
	go func() {
		h.wg.Wait()
		cancel()
		h.finish()
	}()
	return h, nil
}

// UploadAll dispatches every pending job in queue order, pacing launches by
// the configured interval. Jobs that fail validation are skipped and logged;
// they never abort the pass.
func (o *Orchestrator) UploadAll(ctx context.Context) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)

	jobs, err := o.queue.List(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	var pending []*model.Job
	for _, job := range jobs {
		if job.Status == model.JobPending {
			pending = append(pending, job)
		}
	}
	o.log.Infof("upload all: %d pending job(s)", len(pending))

	go func() {
		defer func() {
			h.wg.Wait()
			cancel()
			h.finish()
		}()
		for i, job := range pending {
			if i > 0 && o.launchInterval > 0 {
				select {
				case <-runCtx.Done():
					return
				case <-time.After(o.launchInterval):
				}
			}
			if runCtx.Err() != nil {
				return
			}

			tasks, err := o.queue.Dispatch(runCtx, job.ID)
			if err != nil {
				o.log.Errorf("[job %d] dispatch skipped: %v", job.ID, err)
				continue
			}
			for _, task := range tasks {
				h.track(job.ID, task.Platform)
				h.wg.Add(1)
				go o.runTask(runCtx, h, job, task.Platform)
			}
		}
	}()
	return h, nil
}

// Retry resets a failed platform task and dispatches it again.
func (o *Orchestrator) Retry(ctx context.Context, jobID int64, platform string) (*Handle, error) {
	if err := o.queue.Retry(ctx, jobID, platform); err != nil {
		return nil, err
	}
	job, err := o.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	h.track(jobID, platform)
	h.wg.Add(1)
	go o.runTask(runCtx, h, job, platform)
	go func() {
		h.wg.Wait()
		cancel()
		h.finish()
	}()
	o.log.Infof("[job %d] retrying %s", jobID, platform)
	return h, nil
}

// runTask drives one platform task through its state machine. Errors settle
// the task; nothing escapes to the dispatch loop, so sibling tasks are never
// affected.
func (o *Orchestrator) runTask(ctx context.Context, h *Handle, job *model.Job, platform string) {
	defer h.wg.Done()

	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			o.failTask(h, job.ID, platform, model.DetailCancelled)
			return
		}
	}
	if ctx.Err() != nil {
		o.failTask(h, job.ID, platform, model.DetailCancelled)
		return
	}

	adapter, err := o.registry.Get(platform)
	if err != nil {
		o.failTask(h, job.ID, platform, "UnsupportedPlatform")
		return
	}

	if err := adapter.Authenticate(ctx); err != nil {
		detail := model.DetailNotAuthenticated
		if errors.Is(err, uploaders.ErrUnsupported) {
			detail = "UnsupportedPlatform"
		}
		o.log.Errorf("[job %d] %s authentication: %v", job.ID, platform, err)
		o.failTask(h, job.ID, platform, detail)
		return
	}

	if err := o.transition(job.ID, platform, model.TaskUploading, ""); err != nil {
		o.log.Errorf("[job %d] %s start transition: %v", job.ID, platform, err)
		return
	}
	h.setStatus(job.ID, platform, model.TaskUploading, "")

	attemptCtx, cancelAttempt := context.WithTimeout(ctx, o.uploadTimeout)
	defer cancelAttempt()

	req := &uploaders.UploadRequest{
		VideoPath:   job.SourcePath,
		Title:       job.Title,
		Description: job.Description,
		Tags:        job.Tags,
		Privacy:     job.Privacy,
	}
	progress := func(fraction float64) {
		h.setProgress(job.ID, platform, fraction)
		if err := o.queue.Progress(context.Background(), job.ID, platform, fraction); err != nil {
			o.log.Errorf("[job %d] %s progress: %v", job.ID, platform, err)
		}
	}

	result, err := adapter.Upload(attemptCtx, req, progress)
	if err != nil {
		detail := o.classify(h, attemptCtx, err)
		o.log.Errorf("[job %d] %s upload failed: %v", job.ID, platform, err)
		if terr := o.transition(job.ID, platform, model.TaskFailed, detail); terr != nil {
			o.log.Errorf("[job %d] %s fail transition: %v", job.ID, platform, terr)
		}
		h.setStatus(job.ID, platform, model.TaskFailed, detail)
		return
	}

	progress(1)
	if err := o.transition(job.ID, platform, model.TaskSucceeded, ""); err != nil {
		o.log.Errorf("[job %d] %s success transition: %v", job.ID, platform, err)
		return
	}
	h.setStatus(job.ID, platform, model.TaskSucceeded, "")
	if result != nil && result.URL != "" {
		o.log.Infof("[job %d] %s uploaded: %s", job.ID, platform, result.URL)
	} else {
		o.log.Infof("[job %d] %s uploaded", job.ID, platform)
	}
}

// classify maps an upload error to the detail recorded on the failed task.
func (o *Orchestrator) classify(h *Handle, attemptCtx context.Context, err error) string {
	switch {
	case h.Cancelled() || errors.Is(err, context.Canceled):
		return model.DetailCancelled
	case errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded:
		return model.DetailTimeout
	case errors.Is(err, uploaders.ErrAuthentication):
		return model.DetailNotAuthenticated
	case errors.Is(err, uploaders.ErrUnsupported):
		return "UnsupportedPlatform"
	default:
		return err.Error()
	}
}

// failTask settles a task that never left queued.
func (o *Orchestrator) failTask(h *Handle, jobID int64, platform, detail string) {
	if err := o.transition(jobID, platform, model.TaskFailed, detail); err != nil {
		o.log.Errorf("[job %d] %s fail transition: %v", jobID, platform, err)
	}
	h.setStatus(jobID, platform, model.TaskFailed, detail)
}

// transition records a status change through the queue manager. A background
// context is used so settling still persists after cancellation.
func (o *Orchestrator) transition(jobID int64, platform string, status model.TaskStatus, detail string) error {
	return o.queue.Transition(context.Background(), jobID, platform, status, detail)
}
