// Package changefeed delivers operational row changes (appointments, billings,
// patients, operatory status) over watermill topics, one topic per table.
package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

// DefaultTopicPrefix is prepended to table names to form topics
const DefaultTopicPrefix = "practice.changes"

// Topic returns the topic carrying changes for table.
func Topic(prefix, table string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + table
}

// Source consumes row changes from a watermill subscriber.
type Source struct {
	subscriber  message.Subscriber
	topicPrefix string
	metrics     *telemetry.Metrics
	closeOnce   sync.Once
}

// NewSource wraps any watermill subscriber.
func NewSource(subscriber message.Subscriber, topicPrefix string, metrics *telemetry.Metrics) *Source {
	return &Source{
		subscriber:  subscriber,
		topicPrefix: topicPrefix,
		metrics:     metrics,
	}
}

// Subscribe starts delivering changes for table to handler on a dedicated
// goroutine. Messages are acked once the handler returns nil and nacked when
// it returns an error. The returned cancel func stops delivery and waits for
// the goroutine to exit.
func (s *Source) Subscribe(ctx context.Context, table string, handler model.ChangeHandler) (func(), error) {
	topic := Topic(s.topicPrefix, table)

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := s.subscriber.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				s.process(subCtx, table, msg, handler)
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"table": table,
		"topic": topic,
	}).Info("Subscribed to change topic")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *Source) process(ctx context.Context, table string, msg *message.Message, handler model.ChangeHandler) {
	var change model.Change
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		s.metrics.EventDropped("undecodable")
		logrus.WithFields(logrus.Fields{
			"table":        table,
			"message_uuid": msg.UUID,
			"error":        err,
		}).Warn("Dropping undecodable change")
		msg.Ack()
		return
	}
	if change.Table == "" {
		change.Table = table
	}

	if err := s.invoke(ctx, change, handler); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (s *Source) invoke(ctx context.Context, change model.Change, handler model.ChangeHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.CallbackPanic("change")
			logrus.WithFields(logrus.Fields{
				"table": change.Table,
				"panic": r,
			}).Error("Change handler panicked")
			err = nil
		}
	}()
	return handler(ctx, change)
}

// Close closes the underlying subscriber.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.subscriber.Close()
	})
	return err
}
