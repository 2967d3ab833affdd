package engine

import (
	"os"
	"time"

	"github.com/meridianlabs/postvault/collector"
	"github.com/meridianlabs/postvault/collector/clients"
)

// Config carries the engine tunables. Zero values are replaced by the
// defaults below.
type Config struct {
	// Account is the default target handle when a submission does not name
	// one.
	Account string

	MaxPostsDefault int
	PageSize        int
	WorkerPoolSize  int

	WatchdogTimeout time.Duration

	APIRateLimitPerSecond     float64
	ScraperRateLimitPerSecond float64

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPostsDefault <= 0 {
		c.MaxPostsDefault = 100
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 2
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 5 * time.Minute
	}
	if c.APIRateLimitPerSecond <= 0 {
		c.APIRateLimitPerSecond = 1
	}
	if c.ScraperRateLimitPerSecond <= 0 {
		// Polite default: one page fetch every two seconds.
		c.ScraperRateLimitPerSecond = 0.5
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	return c
}

// SourceFactory builds the collection backend for one job. The source is
// chosen once per job, not per page.
type SourceFactory func(account string) collector.Source

// DefaultSourceFactory selects the API backend when a bearer token is
// configured and falls back to the permission-checked scraper otherwise.
func DefaultSourceFactory(cfg Config) SourceFactory {
	cfg = cfg.withDefaults()
	return func(account string) collector.Source {
		if token := os.Getenv("X_API_BEARER_TOKEN"); token != "" {
			return collector.NewAPISource(
				clients.NewXClient(token),
				collector.NewRateLimiter(cfg.APIRateLimitPerSecond),
				account,
			)
		}
		return collector.NewScraperSource(
			account,
			collector.NewRateLimiter(cfg.ScraperRateLimitPerSecond),
		)
	}
}
