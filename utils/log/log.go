package log

import (
	"os"
	"time"

	ddhook "github.com/bin3377/logrus-datadog-hook"
	"github.com/meridianlabs/postvault/utils/dotenv"
	"github.com/sirupsen/logrus"
)

const (
	datadogUSHost    = "http-intake.logs.datadoghq.com"
	syncFrequencySec = 30
	syncRetry        = 3
)

// global accessible logger
var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// This init function is only for testing cases, where the entry point is not
// main function. Unit test will fail with nil pointer dereference if we don't
// init here.
func init() {
	InitLogger("postvault")
}

func InitLogger(serviceName string) {
	logger = logrus.New()

	// Ship logs to Datadog only when an intake key is configured and we run
	// in prod; local runs just log to stderr.
	if apiKey := os.Getenv("DD_API_KEY"); apiKey != "" && dotenv.IsProdEnv() {
		hook := ddhook.NewHook(
			datadogUSHost,
			apiKey,
			syncFrequencySec*time.Second,
			syncRetry,
			logrus.InfoLevel,
			&logrus.JSONFormatter{},
			ddhook.Options{},
		)
		logger.Hooks.Add(hook)
	}

	logger.SetOutput(os.Stderr)

	Log = logger.WithFields(
		logrus.Fields{"service": serviceName, "is_development": !dotenv.IsProdEnv()},
	)
}
