package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"

	"github.com/meridianlabs/postvault/collector"
	"github.com/meridianlabs/postvault/model"
	"github.com/meridianlabs/postvault/storage"
	Logger "github.com/meridianlabs/postvault/utils/log"
)

var (
	// ErrJobConflict is returned by Submit when another job is already
	// running for the same account. Submissions are never queued silently.
	ErrJobConflict = errors.New("a collection job is already running for this account")

	ErrUnknownJobType = errors.New("unknown job type")
)

// A pending job older than this is assumed to have lost its bus message
// and is re-published by the redelivery sweep.
const pendingRedeliverAfter = time.Minute

// CancelResult is the outcome of a cancellation request.
type CancelResult string

const (
	CancelAccepted        CancelResult = "accepted"
	CancelAlreadyTerminal CancelResult = "already_terminal"
	CancelNotFound        CancelResult = "not_found"
)

// jobControl is the in-process state of one executing job: the cooperative
// cancellation flag and the watchdog's progress clock. Both are touched
// from multiple goroutines.
type jobControl struct {
	cancelled    int32
	lastProgress int64
}

func (c *jobControl) cancel()           { atomic.StoreInt32(&c.cancelled, 1) }
func (c *jobControl) isCancelled() bool { return atomic.LoadInt32(&c.cancelled) == 1 }
func (c *jobControl) touch()            { atomic.StoreInt64(&c.lastProgress, time.Now().UnixNano()) }
func (c *jobControl) lastProgressTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastProgress))
}

// Orchestrator is the top-level job state machine. It accepts collection
// requests, drives the fetch -> normalize -> dedup -> store loop on a
// fixed-size worker pool, and records outcome and metrics. All source and
// normalize errors are caught, classified, and folded into job metrics or
// job failure; nothing escapes to crash a worker.
type Orchestrator struct {
	cfg       Config
	gateway   *storage.Gateway
	bus       *gochannel.GoChannel
	newSource SourceFactory

	// controls holds a jobControl per in-flight job, keyed by job id.
	controls sync.Map

	// inflight marks jobs currently held by a worker. Redelivery makes
	// duplicate messages possible; this keeps a job on a single worker.
	inflight sync.Map
}

func NewOrchestrator(cfg Config, gateway *storage.Gateway, bus *gochannel.GoChannel, newSource SourceFactory) *Orchestrator {
	cfg = cfg.withDefaults()
	if newSource == nil {
		newSource = DefaultSourceFactory(cfg)
	}
	return &Orchestrator{
		cfg:       cfg,
		gateway:   gateway,
		bus:       bus,
		newSource: newSource,
	}
}

func (o *Orchestrator) Name() string { return "orchestrator" }

// Submit creates a pending job and enqueues it for asynchronous execution.
// It returns immediately; the optimistic same-account conflict check here
// is re-verified by the authoritative claim at job start. Unrecognized
// params keys are ignored, not rejected.
func (o *Orchestrator) Submit(jobType string, params map[string]interface{}) (string, error) {
	if jobType != model.JobTypeCollectPosts {
		return "", errors.Wrap(ErrUnknownJobType, jobType)
	}

	account := strParam(params, model.ParamUsername, o.cfg.Account)
	running, err := o.gateway.HasRunningJob(account)
	if err != nil {
		return "", err
	}
	if running {
		return "", ErrJobConflict
	}

	job := &model.Job{
		JobID:   uuid.NewString(),
		JobType: jobType,
		Status:  model.JobStatusPending,
		Account: account,
		Params:  datatypes.JSONMap(params),
	}
	if err := o.gateway.WriteJob(job); err != nil {
		return "", err
	}

	msg := message.NewMessage(watermill.NewUUID(), []byte(job.JobID))
	if err := o.bus.Publish(TopicPendingJob, msg); err != nil {
		return "", errors.Wrap(err, "enqueue job")
	}

	Logger.Log.Infof("submitted job %s for account %s", job.JobID, account)
	return job.JobID, nil
}

// Cancel requests cooperative cancellation. A pending job is cancelled on
// the spot; a running job has its flag set and is observed at the next
// loop iteration boundary, never mid network call. Posts already stored by
// the current iteration are retained.
func (o *Orchestrator) Cancel(jobID string) CancelResult {
	job, err := o.gateway.GetJob(jobID)
	if err != nil {
		return CancelNotFound
	}
	if job.IsTerminal() {
		return CancelAlreadyTerminal
	}

	o.control(jobID).cancel()

	if job.Status == model.JobStatusPending {
		job.MarkCancelled()
		if err := o.gateway.WriteJob(job); err != nil {
			Logger.Log.Errorf("fail to persist cancellation of job %s: %s", jobID, err)
		}
		o.emitTerminal(job)
	}
	return CancelAccepted
}

// GetStatus returns the latest persisted state of a job.
func (o *Orchestrator) GetStatus(jobID string) (*model.Job, error) {
	return o.gateway.GetJob(jobID)
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (o *Orchestrator) ListJobs(status *model.JobStatus) ([]model.Job, error) {
	return o.gateway.ListJobs(status)
}

// RunModule consumes pending jobs from the event bus and executes each to
// completion on one of WorkerPoolSize workers. A job never fans out across
// workers; pages are processed strictly in order.
func (o *Orchestrator) RunModule(ctx context.Context) error {
	msgs, err := o.bus.Subscribe(ctx, TopicPendingJob)
	if err != nil {
		return err
	}

	// The pending-job topic is in-memory and non-persistent: anything
	// published before this subscription existed is gone. Recover those
	// jobs from the store, then keep sweeping so a lost message can only
	// delay a job, never strand it.
	go o.requeuePending(time.Now())
	go func() {
		ticker := time.NewTicker(pendingRedeliverAfter)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.requeuePending(time.Now().Add(-pendingRedeliverAfter))
			}
		}
	}()

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.WorkerPoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobID := range jobs {
				o.executeJob(ctx, jobID)
				o.inflight.Delete(jobID)
			}
		}()
	}

	for msg := range msgs {
		msg.Ack()
		jobID := string(msg.Payload)
		if _, dup := o.inflight.LoadOrStore(jobID, struct{}{}); dup {
			continue
		}
		jobs <- jobID
	}
	close(jobs)
	wg.Wait()
	return nil
}

// requeuePending re-publishes pending jobs submitted before the cutoff.
// The cutoff keeps freshly submitted jobs, whose original message is still
// in flight, from being doubled.
func (o *Orchestrator) requeuePending(submittedBefore time.Time) {
	status := model.JobStatusPending
	pending, err := o.gateway.ListJobs(&status)
	if err != nil {
		Logger.Log.Errorf("fail to list pending jobs for redelivery: %s", err)
		return
	}
	for i := range pending {
		if !pending[i].CreatedAt.Before(submittedBefore) {
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), []byte(pending[i].JobID))
		if err := o.bus.Publish(TopicPendingJob, msg); err != nil {
			Logger.Log.Errorf("fail to re-enqueue pending job %s: %s", pending[i].JobID, err)
			continue
		}
		Logger.Log.Infof("re-enqueued pending job %s", pending[i].JobID)
	}
}

// executeJob runs the collection loop for one job. Exported-state rules:
// the job record is written on every page so status queries always see the
// latest known counters.
func (o *Orchestrator) executeJob(ctx context.Context, jobID string) {
	job, err := o.gateway.GetJob(jobID)
	if err != nil {
		Logger.Log.Errorf("fail to load job %s: %s", jobID, err)
		return
	}
	if job.Status != model.JobStatusPending {
		// Cancelled before start, or a duplicate delivery. A terminal job
		// will never consult its control again; drop the entry Cancel may
		// have created for it.
		if job.IsTerminal() {
			o.controls.Delete(jobID)
		}
		return
	}

	account := job.Account
	if err := o.gateway.ClaimAccount(account, jobID); err != nil {
		if errors.Is(err, storage.ErrAccountBusy) {
			job.MarkFailed("another collection job is already running for account " + account)
		} else {
			job.MarkFailed(err.Error())
		}
		o.finishJob(job)
		return
	}
	defer func() {
		if err := o.gateway.ReleaseAccount(account, jobID); err != nil {
			Logger.Log.Errorf("fail to release claim for account %s: %s", account, err)
		}
	}()

	// Re-verify under the claim: a cancellation may have landed between
	// the optimistic load above and claiming.
	if fresh, err := o.gateway.GetJob(jobID); err != nil || fresh.Status != model.JobStatusPending {
		o.controls.Delete(jobID)
		return
	}

	ctl := o.control(jobID)
	ctl.touch()
	defer o.controls.Delete(jobID)

	source := o.newSource(account)
	job.SourceUsed = source.Name()
	job.MarkStarted()
	if err := o.gateway.WriteJob(job); err != nil {
		Logger.Log.Errorf("fail to mark job %s running: %s", jobID, err)
		return
	}
	o.emit(LifecycleEvent{JobID: jobID, JobType: job.JobType, Account: account, Event: EventStarted})

	maxPosts := intParam(job.Params, model.ParamMaxPosts, o.cfg.MaxPostsDefault)
	cursor := strParam(job.Params, model.ParamSinceID, "")
	if cursor == "" {
		if cursor, err = o.gateway.ReadSyncCursor(account); err != nil {
			job.MarkFailed(err.Error())
			o.finishJob(job)
			return
		}
	}

	normalizer := collector.NewNormalizer(account)
	policy := collector.NewRetryPolicy(o.cfg.RetryMaxAttempts, o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay)

	for {
		if ctl.isCancelled() {
			job.MarkCancelled()
			break
		}

		var page *collector.Page
		err := policy.Execute(ctx, func() error {
			var ferr error
			page, ferr = source.FetchPage(ctx, cursor, o.cfg.PageSize)
			return ferr
		})
		if err != nil {
			job.MarkFailed(err.Error())
			break
		}

		o.emit(LifecycleEvent{
			JobID: jobID, JobType: job.JobType, Account: account,
			Event: EventPageFetched, PageCount: len(page.Records),
		})

		for _, rec := range page.Records {
			post, err := normalizer.Normalize(rec, source.Name())
			if err != nil {
				job.PostsFailed++
				Logger.Log.Warnf("job %s: %s", jobID, err)
				continue
			}
			outcome, err := o.gateway.UpsertPost(post)
			if err != nil {
				job.PostsFailed++
				Logger.Log.Errorf("job %s: fail to store post %s: %s", jobID, post.PostID, err)
				continue
			}
			switch outcome {
			case storage.UpsertUnchanged:
				job.PostsSkipped++
			default:
				job.PostsCollected++
			}
		}
		ctl.touch()
		if err := o.gateway.WriteJob(job); err != nil {
			Logger.Log.Errorf("fail to checkpoint job %s: %s", jobID, err)
		}

		if len(page.Records) == 0 || !page.HasMore {
			job.MarkCompleted()
			break
		}
		if job.PostsCollected+job.PostsSkipped >= maxPosts {
			job.MarkCompleted()
			break
		}
		cursor = page.NextCursor
	}

	o.finishJob(job)
}

// finishJob persists the terminal state unless somebody else (the
// watchdog) already recorded a terminal verdict for this job.
func (o *Orchestrator) finishJob(job *model.Job) {
	if fresh, err := o.gateway.GetJob(job.JobID); err == nil && fresh.IsTerminal() {
		return
	}
	if err := o.gateway.WriteJob(job); err != nil {
		Logger.Log.Errorf("fail to persist terminal state of job %s: %s", job.JobID, err)
		return
	}
	o.emitTerminal(job)
}

// failStuckJob is the watchdog's entry point: it flips the cooperative
// flag so the loop exits at its next boundary, records the failure and
// frees the account claim so the hung job cannot block future collection.
func (o *Orchestrator) failStuckJob(jobID string, stuckFor time.Duration) {
	ctl := o.control(jobID)
	ctl.cancel()

	job, err := o.gateway.GetJob(jobID)
	if err != nil {
		Logger.Log.Errorf("watchdog: fail to load job %s: %s", jobID, err)
		return
	}
	if job.Status != model.JobStatusRunning {
		return
	}

	job.MarkFailed("watchdog: no progress for " + stuckFor.Truncate(time.Second).String())
	if err := o.gateway.WriteJob(job); err != nil {
		Logger.Log.Errorf("watchdog: fail to persist job %s: %s", jobID, err)
		return
	}
	if err := o.gateway.ReleaseAccount(job.Account, jobID); err != nil {
		Logger.Log.Errorf("watchdog: fail to release claim for %s: %s", job.Account, err)
	}
	o.emitTerminal(job)
}

func (o *Orchestrator) control(jobID string) *jobControl {
	ctl := &jobControl{lastProgress: time.Now().UnixNano()}
	v, _ := o.controls.LoadOrStore(jobID, ctl)
	return v.(*jobControl)
}

func (o *Orchestrator) emitTerminal(job *model.Job) {
	event := LifecycleEvent{
		JobID:      job.JobID,
		JobType:    job.JobType,
		Account:    job.Account,
		Collected:  job.PostsCollected,
		Skipped:    job.PostsSkipped,
		Failed:     job.PostsFailed,
		DurationMs: job.Duration().Milliseconds(),
		Reason:     job.ErrorMessage,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		event.Event = EventCompleted
	case model.JobStatusCancelled:
		event.Event = EventCancelled
	default:
		event.Event = EventFailed
	}
	o.emit(event)
}

func (o *Orchestrator) emit(event LifecycleEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		Logger.Log.Errorf("fail to encode lifecycle event: %s", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := o.bus.Publish(TopicLifecycle, msg); err != nil {
		Logger.Log.Errorf("fail to publish lifecycle event: %s", err)
	}
}

func strParam(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// intParam tolerates both native ints and the float64 that JSON decoding
// produces.
func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}
