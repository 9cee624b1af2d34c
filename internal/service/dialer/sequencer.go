package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Step is reported after every contact the sequencer moves past.
type Step struct {
	// Index is the position of the contact in the deduplicated list.
	Index int
	// Next is where a resumed run continues.
	Next    int
	Contact domain.Contact
	// Attempt is nil for skipped contacts.
	Attempt *domain.CallAttempt
	Skipped bool
	Reason  string
}

// Input describes one pass of the sequencer over a contact list.
type Input struct {
	CampaignID string
	RunID      string
	AgentID    string
	Contacts   []domain.Contact
	StartIndex int
	// Prior holds attempts already made in this run, e.g. restored after a restart.
	Prior []domain.CallAttempt
	// Observed looks up the most recent backend-observed result for a dedup key.
	Observed func(key string) (time.Time, bool)
	// Report receives every step, in order, from the sequencer goroutine.
	Report func(Step)
}

// Result summarises a finished pass.
type Result struct {
	Attempts int
	Skipped  int
	Next     int
}

// Sequencer places calls one at a time with a fixed pause between them.
type Sequencer struct {
	calls  backend.CallInitiator
	cfg    config.DialerConfig
	logger *logger.Logger
	newID  func() string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises a Sequencer.
type Option func(*Sequencer)

// WithIDGenerator replaces the uniqueId generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Sequencer) { s.newID = fn }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// WithSleep replaces the delay implementation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequencer) { s.sleep = fn }
}

// NewSequencer constructs a sequencer.
func NewSequencer(calls backend.CallInitiator, cfg config.DialerConfig, log *logger.Logger, opts ...Option) *Sequencer {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Sequencer{
		calls:  calls,
		cfg:    cfg,
		logger: log.Named("dialer"),
		newID:  uuid.NewString,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Contacts returns the list the sequencer actually iterates: the input
// deduplicated by phone and name, first occurrence kept.
func Contacts(contacts []domain.Contact) []domain.Contact {
	return domain.UniqueContacts(contacts)
}

// Run dials every remaining contact in order. It returns nil once the list
// is exhausted, the context error when cancelled, and an error wrapping
// ErrInsufficientCredits when the dialer refuses for lack of credits; in
// that case the current contact is not consumed.
func (s *Sequencer) Run(ctx context.Context, in Input) (Result, error) {
	contacts := Contacts(in.Contacts)
	log := s.logger.With(zap.String("campaign_id", in.CampaignID), zap.String("run_id", in.RunID))

	attempted := make(map[string]bool, len(in.Prior))
	for _, a := range in.Prior {
		attempted[a.Contact.DedupKey()] = true
	}

	start := in.StartIndex
	if start < 0 {
		start = 0
	}
	res := Result{Next: start}
	report := in.Report
	if report == nil {
		report = func(Step) {}
	}

	tracer := otel.Tracer("dialer.sequencer")

	for i := start; i < len(contacts); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		contact := contacts[i]
		key := contact.DedupKey()

		if attempted[key] {
			log.Debug("duplicate contact skipped", zap.Int("index", i), zap.String("phone", contact.Phone))
			res.Skipped++
			res.Next = i + 1
			report(Step{Index: i, Next: i + 1, Contact: contact, Skipped: true, Reason: "already attempted in this run"})
			continue
		}
		if in.Observed != nil {
			if seen, ok := in.Observed(key); ok && s.now().Sub(seen) < s.cfg.RecencyWindow {
				log.Debug("recently called contact skipped", zap.Int("index", i), zap.String("phone", contact.Phone), zap.Time("seen_at", seen))
				res.Skipped++
				res.Next = i + 1
				report(Step{Index: i, Next: i + 1, Contact: contact, Skipped: true, Reason: "called within recency window"})
				continue
			}
		}

		attempt, err := s.call(ctx, tracer, in, contact)
		if apperrors.Is(err, apperrors.ErrInsufficientCredits) {
			log.Warn("dialer stopped: insufficient credits", zap.Int("index", i))
			return res, fmt.Errorf("dialer: %w", err)
		}

		attempted[key] = true
		res.Attempts++
		res.Next = i + 1
		report(Step{Index: i, Next: i + 1, Contact: contact, Attempt: &attempt})

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.sleep(ctx, s.cfg.InterCallDelay); err != nil {
			return res, err
		}
		if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
			return res, err
		}
	}

	return res, nil
}

func (s *Sequencer) call(ctx context.Context, tracer trace.Tracer, in Input, contact domain.Contact) (domain.CallAttempt, error) {
	uniqueID := s.newID()
	cctx, span := tracer.Start(ctx, "dialer.call", trace.WithAttributes(
		attribute.String("campaign.id", in.CampaignID),
		attribute.String("run.id", in.RunID),
		attribute.String("call.unique_id", uniqueID),
	))
	defer span.End()

	attempt := domain.CallAttempt{
		Contact:   contact,
		UniqueID:  uniqueID,
		Timestamp: s.now().UTC(),
	}

	res, err := s.calls.InitiateCall(cctx, backend.CallRequest{
		CampaignID: in.CampaignID,
		RunID:      in.RunID,
		AgentID:    in.AgentID,
		Contact:    contact,
		UniqueID:   uniqueID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperrors.Is(err, apperrors.ErrInsufficientCredits) {
			return attempt, err
		}
		s.logger.Warn("call initiation failed",
			zap.String("campaign_id", in.CampaignID),
			zap.String("unique_id", uniqueID),
			zap.Error(err),
		)
		attempt.ConnectionStatus = domain.ConnectionNotConnected
		attempt.Error = err.Error()
		if errors.Is(err, context.Canceled) {
			attempt.Error = "cancelled"
		}
		return attempt, nil
	}

	if res.UniqueID != "" {
		attempt.UniqueID = res.UniqueID
	}
	attempt.Success = res.Success
	if res.Success {
		attempt.ConnectionStatus = domain.ConnectionChecking
	} else {
		attempt.ConnectionStatus = domain.ConnectionNotConnected
		attempt.Error = res.Message
	}
	span.SetAttributes(attribute.Bool("call.accepted", res.Success))
	return attempt, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
