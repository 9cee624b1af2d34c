package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/campaign-dialer/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunEventPublisher publishes run events keyed by campaign so one
// campaign's events stay ordered.
type RunEventPublisher struct {
	writer messageWriter
}

// NewRunEventPublisher constructs a publisher for the given topic.
func NewRunEventPublisher(k *Kafka, topic string) *RunEventPublisher {
	return &RunEventPublisher{writer: k.NewWriter(topic)}
}

// Publish emits ev to Kafka.
func (p *RunEventPublisher) Publish(ctx context.Context, ev domain.RunEvent) error {
	value, err := EncodeRunEvent(ev)
	if err != nil {
		return fmt.Errorf("run event publisher: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(ev.CampaignID),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("run event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *RunEventPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when Kafka is disabled.
type NopPublisher struct{}

// Publish implements the event sink.
func (NopPublisher) Publish(context.Context, domain.RunEvent) error { return nil }

// Close implements io.Closer.
func (NopPublisher) Close() error { return nil }
