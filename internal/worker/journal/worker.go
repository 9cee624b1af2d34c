package journal

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// MessageReader is the consumer side of a Kafka reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker copies run events from Kafka into the attempt journal.
type Worker struct {
	reader   MessageReader
	journal  repository.AttemptJournal
	logger   *logger.Logger
	attempts int
	backoff  time.Duration
}

// New creates a journal worker.
func New(reader MessageReader, journal repository.AttemptJournal, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		reader:   reader,
		journal:  journal,
		logger:   log.Named("journal_worker"),
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// Run processes run events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("journal worker: fetch", zap.Error(err))
			continue
		}

		w.handle(ctx, msg)

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("journal worker: commit", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) {
	ev, err := queue.DecodeRunEvent(msg.Value)
	if err != nil {
		w.logger.Error("journal worker: decode", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}

	tracer := otel.Tracer("dialer.journalworker")
	sctx, span := tracer.Start(ctx, "journal.append", trace.WithAttributes(
		attribute.String("campaign.id", ev.CampaignID),
		attribute.String("run.id", ev.RunID),
		attribute.String("event.type", string(ev.Type)),
	))
	defer span.End()

	for attempt := 1; attempt <= w.attempts; attempt++ {
		err = w.journal.AppendEvent(sctx, ev)
		if err == nil {
			return
		}
		w.logger.Warn("journal worker: append",
			zap.String("event_id", ev.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == w.attempts || sleep(sctx, time.Duration(attempt)*w.backoff) != nil {
			break
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "append failed")
	w.logger.Error("journal worker: event dropped", zap.String("event_id", ev.ID), zap.Error(err))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
