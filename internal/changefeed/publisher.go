package changefeed

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/yourorg/practice-insights/internal/model"
)

// Publisher emits row changes onto the per-table topics.
type Publisher struct {
	publisher   message.Publisher
	topicPrefix string
}

// NewPublisher wraps any watermill publisher.
func NewPublisher(publisher message.Publisher, topicPrefix string) *Publisher {
	return &Publisher{publisher: publisher, topicPrefix: topicPrefix}
}

// Publish sends one change to the topic of its table.
func (p *Publisher) Publish(change model.Change) error {
	if change.Table == "" {
		return fmt.Errorf("change has no table")
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("table", change.Table)
	msg.Metadata.Set("event_type", string(change.EventType))

	topic := Topic(p.topicPrefix, change.Table)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}
