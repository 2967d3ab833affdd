package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	Logger "github.com/meridianlabs/postvault/utils/log"
)

const (
	statsdJobEventCounter = "postvault.job.event"
	statsdPostsCounter    = "postvault.job.posts"
	statsdJobDuration     = "postvault.job.duration"
)

// Reporter listens on the lifecycle topic, aggregates job results and
// forwards them to statsd for monitoring. A nil statsd client degrades to
// structured logs only, which is what local runs use.
type Reporter struct {
	Statsd *statsd.Client

	bus *gochannel.GoChannel
}

func NewReporter(client *statsd.Client, bus *gochannel.GoChannel) *Reporter {
	return &Reporter{Statsd: client, bus: bus}
}

func (r *Reporter) Name() string { return "reporter" }

func (r *Reporter) RunModule(ctx context.Context) error {
	messages, err := r.bus.Subscribe(ctx, TopicLifecycle)
	if err != nil {
		return err
	}

	for msg := range messages {
		msg.Ack()

		event := LifecycleEvent{}
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			Logger.Log.Errorf("fail to decode lifecycle event: %s", err)
			continue
		}
		r.report(event)
	}
	return nil
}

func (r *Reporter) report(event LifecycleEvent) {
	entry := Logger.Log.WithField("job_id", event.JobID).
		WithField("account", event.Account).
		WithField("event", event.Event)

	switch event.Event {
	case EventPageFetched:
		entry.WithField("page_count", event.PageCount).Info("page fetched")
	case EventCompleted, EventFailed, EventCancelled:
		entry.WithField("collected", event.Collected).
			WithField("skipped", event.Skipped).
			WithField("failed", event.Failed).
			WithField("duration_ms", event.DurationMs).
			WithField("reason", event.Reason).
			Info("job finished")
	default:
		entry.Info("job event")
	}

	if r.Statsd == nil {
		return
	}

	tags := []string{
		"job_type:" + event.JobType,
		"account:" + event.Account,
		"event:" + event.Event,
	}
	if err := r.Statsd.Incr(statsdJobEventCounter, tags, 1); err != nil {
		Logger.Log.Infoln("cannot report job event counter")
	}

	switch event.Event {
	case EventCompleted, EventFailed, EventCancelled:
		r.Statsd.Count(statsdPostsCounter, int64(event.Collected), append(tags, "outcome:collected"), 1)
		r.Statsd.Count(statsdPostsCounter, int64(event.Skipped), append(tags, "outcome:skipped"), 1)
		r.Statsd.Count(statsdPostsCounter, int64(event.Failed), append(tags, "outcome:failed"), 1)
		r.Statsd.Timing(statsdJobDuration, time.Duration(event.DurationMs)*time.Millisecond, tags, 1)
	}
}
