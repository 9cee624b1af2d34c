package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByCampaign(t *testing.T) {
	w := &captureWriter{}
	p := &RunEventPublisher{writer: w}

	ev := domain.RunEvent{
		ID:         "e1",
		Type:       domain.RunEventAttempt,
		CampaignID: "c1",
		RunID:      "r1",
		Attempt:    &domain.CallAttempt{UniqueID: "u1", Success: true},
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "c1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(domain.RunEventAttempt), string(msg.Headers[0].Value))

	got, err := DecodeRunEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishWrapsWriterErrors(t *testing.T) {
	p := &RunEventPublisher{writer: &captureWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), domain.RunEvent{ID: "e1", CampaignID: "c1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	_, err := DecodeRunEvent([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeRunEvent([]byte(`{"version":2,"event":{"id":"e1","campaign_id":"c1"}}`))
	assert.ErrorContains(t, err, "version")

	_, err = DecodeRunEvent([]byte(`{"version":1,"event":{"campaign_id":"c1"}}`))
	assert.Error(t, err)
}
