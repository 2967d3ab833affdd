package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/meridianlabs/postvault/app_config"
	"github.com/meridianlabs/postvault/engine"
	"github.com/meridianlabs/postvault/server"
	"github.com/meridianlabs/postvault/storage"
	"github.com/meridianlabs/postvault/utils/dotenv"
	. "github.com/meridianlabs/postvault/utils/log"
)

var (
	AppConfigPath *string
	// Configuration to customize binary startup.
	AppConfig app_config.CollectorAppConfig
)

// init() will always be called on before the execution of main function.
func init() {
	AppConfigPath = flag.String("app_config_path", "cmd/server/config.yaml", "path to collector app config")
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func NewDogStatsdClient() *statsd.Client {
	addr := os.Getenv("DD_AGENT_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8125"
	}
	client, err := statsd.New(addr)
	if err != nil {
		// Metrics are best-effort: without an agent the reporter still logs.
		Log.Warnf("statsd client unavailable, metrics disabled: %s", err)
		return nil
	}
	return client
}

func engineConfig() engine.Config {
	return engine.Config{
		Account:                   AppConfig.TARGET_USERNAME,
		MaxPostsDefault:           AppConfig.MAX_POSTS_PER_JOB,
		PageSize:                  AppConfig.PAGE_SIZE,
		WorkerPoolSize:            AppConfig.WORKER_POOL_SIZE,
		WatchdogTimeout:           time.Duration(AppConfig.WATCHDOG_TIMEOUT_SECOND) * time.Second,
		APIRateLimitPerSecond:     AppConfig.API_RATE_LIMIT_PER_SECOND,
		ScraperRateLimitPerSecond: AppConfig.SCRAPER_RATE_LIMIT_PER_SECOND,
		RetryMaxAttempts:          AppConfig.RETRY_MAX_ATTEMPTS,
		RetryBaseDelay:            time.Duration(AppConfig.RETRY_BASE_DELAY_MS) * time.Millisecond,
		RetryMaxDelay:             time.Duration(AppConfig.RETRY_MAX_DELAY_MS) * time.Millisecond,
	}
}

func main() {
	flag.Parse()
	AppConfig = app_config.ParseCollectorAppConfig(*AppConfigPath)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := engineConfig()
	orchestrator := engine.NewOrchestrator(cfg, gateway, eventbus, nil)

	// Initialize all engine modules here.
	modules := []engine.Module{
		orchestrator,
		// Watchdog fails jobs that stop making page progress.
		engine.NewWatchdog(orchestrator, cfg.WatchdogTimeout),
		// Reporter forwards job lifecycle events to datadog for monitoring.
		engine.NewReporter(NewDogStatsdClient(), eventbus),
	}
	if AppConfig.SCHEDULE_EVERY_SECOND > 0 {
		modules = append(modules, engine.NewScheduler(
			orchestrator,
			time.Duration(AppConfig.SCHEDULE_EVERY_SECOND)*time.Second,
			AppConfig.TARGET_USERNAME,
			AppConfig.MAX_POSTS_PER_JOB,
		))
	}

	router := server.NewRouter(&server.Handlers{Orchestrator: orchestrator, Gateway: gateway})
	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		Log.Info("api server starts up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Log.Errorf("api server exited: %s", err)
			stop()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Log.Errorf("api server shutdown: %s", err)
		}
	}()

	// blocking call.
	engine.NewEngine(ctx, modules...).Run()

	Log.Info("engine stopped execution")
}
