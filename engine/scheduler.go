package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/meridianlabs/postvault/model"
	Logger "github.com/meridianlabs/postvault/utils/log"
)

// Scheduler periodically submits a collection job for the configured
// account. It is one possible trigger among several: the orchestrator is
// equally drivable by an HTTP call or a test harness, and a submission
// refused because a job is still running is skipped, not queued.
type Scheduler struct {
	orch     *Orchestrator
	every    time.Duration
	account  string
	maxPosts int
}

func NewScheduler(orch *Orchestrator, every time.Duration, account string, maxPosts int) *Scheduler {
	return &Scheduler{orch: orch, every: every, account: account, maxPosts: maxPosts}
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) RunModule(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.submitOnce()
		}
	}
}

func (s *Scheduler) submitOnce() {
	jobID, err := s.orch.Submit(model.JobTypeCollectPosts, map[string]interface{}{
		model.ParamUsername: s.account,
		model.ParamMaxPosts: s.maxPosts,
	})
	switch {
	case errors.Is(err, ErrJobConflict):
		Logger.Log.Infof("skip scheduled collection for %s: previous job still running", s.account)
	case err != nil:
		Logger.Log.Errorf("scheduled collection for %s failed to submit: %s", s.account, err)
	default:
		Logger.Log.Infof("scheduled collection job %s for %s", jobID, s.account)
	}
}
