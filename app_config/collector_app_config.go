package app_config

import (
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"
)

// CollectorAppConfig carries the engine tunables. Secrets (DB credentials,
// the API bearer token) come from env instead; this file is safe to check
// in.
type CollectorAppConfig struct {
	// Default target account handle, without the @.
	TARGET_USERNAME string `yaml:"TARGET_USERNAME"`
	// Upper bound of posts processed by one job unless overridden per job.
	MAX_POSTS_PER_JOB int `yaml:"MAX_POSTS_PER_JOB"`
	// Requested page size per fetch, capped by the backend's own limits.
	PAGE_SIZE int `yaml:"PAGE_SIZE"`
	// Number of concurrent job workers.
	WORKER_POOL_SIZE int `yaml:"WORKER_POOL_SIZE"`
	// A running job with no page progress for this long is failed.
	WATCHDOG_TIMEOUT_SECOND int64 `yaml:"WATCHDOG_TIMEOUT_SECOND"`
	// Periodic collection interval. Zero disables the scheduler.
	SCHEDULE_EVERY_SECOND int64 `yaml:"SCHEDULE_EVERY_SECOND"`
	// Outbound request rates per backend.
	API_RATE_LIMIT_PER_SECOND     float64 `yaml:"API_RATE_LIMIT_PER_SECOND"`
	SCRAPER_RATE_LIMIT_PER_SECOND float64 `yaml:"SCRAPER_RATE_LIMIT_PER_SECOND"`
	// Retry policy for transient source failures.
	RETRY_MAX_ATTEMPTS  int   `yaml:"RETRY_MAX_ATTEMPTS"`
	RETRY_BASE_DELAY_MS int64 `yaml:"RETRY_BASE_DELAY_MS"`
	RETRY_MAX_DELAY_MS  int64 `yaml:"RETRY_MAX_DELAY_MS"`
}

func ParseCollectorAppConfig(path string) CollectorAppConfig {
	c := CollectorAppConfig{}
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		log.Fatal("yamlFile get err: ", err.Error())
	}
	err = yaml.Unmarshal(yamlFile, &c)
	if err != nil {
		log.Fatal("Unmarshal: ", err)
	}
	return c
}
