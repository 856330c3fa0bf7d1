package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"socialqueue/internal/logging"
	"socialqueue/internal/orchestrator"
)

// Service periodically flushes the queue by dispatching every pending job on
// a cron schedule.
type Service struct {
	cron *cron.Cron
	orch *orchestrator.Orchestrator
	log  *logging.Logger

	// ctx is the run context; flushes derive from it so shutdown cancels
	// an in-flight pass. Assigned in Run before the cron starts.
	ctx context.Context
}

// New wires the flush job onto the given cron expression.
func New(spec string, orch *orchestrator.Orchestrator, log *logging.Logger) (*Service, error) {
	s := &Service{
		cron: cron.New(),
		orch: orch,
		log:  log,
	}
	if _, err := s.cron.AddFunc(spec, s.flush); err != nil {
		return nil, fmt.Errorf("invalid flush cron %q: %w", spec, err)
	}
	return s, nil
}

func (s *Service) flush() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := s.orch.UploadAll(ctx)
	if err != nil {
		s.log.Errorf("scheduled flush: %v", err)
		return
	}
	if err := h.Wait(ctx); err != nil {
		// shutdown mid-flush: cancelled tasks still need to settle
		grace, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Wait(grace)
		s.log.Errorf("scheduled flush interrupted: %v", err)
		return
	}
	if err := h.Err(); err != nil {
		s.log.Errorf("scheduled flush finished with failures: %v", err)
	} else {
		s.log.Infof("scheduled flush finished")
	}
}

// Run starts the cron loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()

	ctxStop := s.cron.Stop()
	select {
	case <-ctxStop.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("cron stop timeout")
	}
}
