package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch level {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// supervisorTree groups services into layers that restart independently
type supervisorTree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
}

func newSupervisorTree(shutdownTimeout time.Duration) *supervisorTree {
	spec := suture.Spec{
		EventHook:        logSupervisorEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	}

	t := &supervisorTree{
		root:      suture.New("practice-insights", spec),
		data:      suture.New("data-layer", spec),
		messaging: suture.New("messaging-layer", spec),
		api:       suture.New("api-layer", spec),
	}
	t.root.Add(t.data)
	t.root.Add(t.messaging)
	t.root.Add(t.api)
	return t
}

func logSupervisorEvent(e suture.Event) {
	entry := logrus.WithFields(logrus.Fields(e.Map()))
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		entry.Error(e.String())
	case suture.EventTypeBackoff:
		entry.Warn(e.String())
	default:
		entry.Info(e.String())
	}
}
