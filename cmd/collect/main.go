package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/meridianlabs/postvault/engine"
	"github.com/meridianlabs/postvault/model"
	"github.com/meridianlabs/postvault/storage"
	"github.com/meridianlabs/postvault/utils/dotenv"
	. "github.com/meridianlabs/postvault/utils/log"
)

// One-shot collection run: submit a single job, wait for it to finish and
// print the outcome. Useful for cron-style setups and manual backfills.
var (
	account  = flag.String("account", "", "target account handle, without the @")
	maxPosts = flag.Int("max_posts", 100, "upper bound of posts processed by this run")
	sinceID  = flag.String("since_id", "", "only collect posts newer than this post id")
	timeout  = flag.Duration("timeout", 30*time.Minute, "abort the run after this long")
)

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func main() {
	flag.Parse()
	if *account == "" {
		Log.Fatal("-account is required")
	}

	db, err := storage.GetDBConnection()
	if err != nil {
		panic(err)
	}
	if err := storage.Migrate(db); err != nil {
		panic(err)
	}
	gateway := storage.NewGateway(db)

	eventbus := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            100,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	orchestrator := engine.NewOrchestrator(engine.Config{Account: *account}, gateway, eventbus, nil)
	eng := engine.NewEngine(ctx, orchestrator)

	done := make(chan struct{})
	go func() {
		eng.Run()
		close(done)
	}()

	params := map[string]interface{}{
		model.ParamUsername: *account,
		model.ParamMaxPosts: *maxPosts,
	}
	if *sinceID != "" {
		params[model.ParamSinceID] = *sinceID
	}

	jobID, err := orchestrator.Submit(model.JobTypeCollectPosts, params)
	if err != nil {
		Log.Fatalf("fail to submit collection job: %s", err)
	}
	Log.Infof("submitted collection job %s for %s", jobID, *account)

	job := waitForJob(ctx, orchestrator, jobID)
	cancel()
	<-done

	if job == nil {
		Log.Fatal("timed out waiting for the job to finish")
	}
	fmt.Printf("job %s %s: collected=%d skipped=%d failed=%d source=%s\n",
		job.JobID, job.Status, job.PostsCollected, job.PostsSkipped, job.PostsFailed, job.SourceUsed)
	if job.ErrorMessage != "" {
		fmt.Printf("error: %s\n", job.ErrorMessage)
	}
}

func waitForJob(ctx context.Context, orchestrator *engine.Orchestrator, jobID string) *model.Job {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			job, err := orchestrator.GetStatus(jobID)
			if err != nil {
				Log.Errorf("fail to poll job %s: %s", jobID, err)
				continue
			}
			if job.IsTerminal() {
				return job
			}
		}
	}
}
