package realtime

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Alert is raised by a change handler when a realtime threshold is crossed.
type Alert struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertSink receives realtime alerts.
type AlertSink interface {
	RaiseAlert(ctx context.Context, alert Alert)
}

// LogAlertSink writes alerts to the log.
type LogAlertSink struct{}

// RaiseAlert logs the alert at warn level.
func (LogAlertSink) RaiseAlert(_ context.Context, alert Alert) {
	logrus.WithFields(logrus.Fields{
		"alert":     alert.Name,
		"value":     alert.Value,
		"threshold": alert.Threshold,
	}).Warn(alert.Message)
}

// AlertSinks fans an alert out to every sink in order.
type AlertSinks []AlertSink

// RaiseAlert forwards the alert to each sink.
func (s AlertSinks) RaiseAlert(ctx context.Context, alert Alert) {
	for _, sink := range s {
		if sink != nil {
			sink.RaiseAlert(ctx, alert)
		}
	}
}
