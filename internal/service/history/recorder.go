package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Outcome describes what Record did.
type Outcome int

const (
	// Saved means this call posted the run summary.
	Saved Outcome = iota + 1
	// AlreadySaved means a ledger shows the run was recorded earlier.
	AlreadySaved
	// InFlight means another caller is recording the run right now.
	InFlight
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case AlreadySaved:
		return "already_saved"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

// Done reports whether the run needs no further recording.
func (o Outcome) Done() bool {
	return o == Saved || o == AlreadySaved
}

// Input carries everything needed to summarize a finished run.
type Input struct {
	CampaignID    string
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	Status        domain.RunStatus
	TotalContacts int
	Attempts      []domain.CallAttempt
	Entries       []domain.MergedCallLogEntry
	// Totals, when present, cover every page rather than the loaded entries.
	Totals *backend.Totals
}

// Recorder posts a run summary at most once per run id. A process-local
// in-flight set guards concurrent triggers and the ledgers guard reloads.
type Recorder struct {
	store   backend.HistoryStore
	ledgers []repository.RunLedger
	logger  *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customises the recorder.
type Option func(*Recorder)

// WithLedger adds a ledger consulted before saving and updated after.
func WithLedger(l repository.RunLedger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.ledgers = append(r.ledgers, l)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder constructs a recorder saving through store.
func NewRecorder(store backend.HistoryStore, log *logger.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Recorder{
		store:    store,
		logger:   log.Named("history"),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record summarizes the run and saves it unless it was saved before or a
// save is already under way. A failed ledger lookup aborts the save so the
// caller retries instead of saving a run that may already be recorded.
func (r *Recorder) Record(ctx context.Context, in Input) (domain.RunRecord, Outcome, error) {
	if in.RunID == "" {
		return domain.RunRecord{}, 0, fmt.Errorf("%w: run id is required", apperrors.ErrValidation)
	}
	log := r.logger.With(zap.String("campaign_id", in.CampaignID), zap.String("run_id", in.RunID))

	if !r.acquire(in.RunID) {
		log.Debug("run save already in flight")
		return domain.RunRecord{}, InFlight, nil
	}
	defer r.release(in.RunID)

	for _, l := range r.ledgers {
		saved, err := l.IsSaved(ctx, in.CampaignID, in.RunID)
		if err != nil {
			return domain.RunRecord{}, 0, fmt.Errorf("history recorder: ledger lookup %s: %w", in.RunID, err)
		}
		if saved {
			log.Debug("run already saved")
			return domain.RunRecord{}, AlreadySaved, nil
		}
	}

	rec := Summarize(in)
	rec.SavedAt = r.now().UTC()

	if err := r.store.SaveRun(ctx, rec); err != nil {
		return domain.RunRecord{}, 0, fmt.Errorf("history recorder: save run %s: %w", in.RunID, err)
	}

	for _, l := range r.ledgers {
		if err := l.MarkSaved(ctx, rec); err != nil {
			log.Warn("ledger update failed", zap.Error(err))
		}
	}

	log.Info("run history saved",
		zap.Int("successful_calls", rec.Stats.SuccessfulCalls),
		zap.Int("failed_calls", rec.Stats.FailedCalls),
		zap.Duration("total_call_duration", rec.Stats.TotalCallDuration),
	)
	return rec, Saved, nil
}

func (r *Recorder) acquire(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[runID]; ok {
		return false
	}
	r.inFlight[runID] = struct{}{}
	return true
}

func (r *Recorder) release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, runID)
}

// Summarize builds the run record. Backend totals are preferred when they
// cover more calls than the loaded entries, then the entries, then the
// local attempts.
func Summarize(in Input) domain.RunRecord {
	status := in.Status
	if status == "" {
		status = domain.RunStatusCompleted
	}
	rec := domain.RunRecord{
		CampaignID: in.CampaignID,
		RunID:      in.RunID,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Status:     status,
	}

	total := in.TotalContacts
	switch {
	case in.Totals != nil && in.Totals.TotalCalls > len(in.Entries):
		rec.Stats.SuccessfulCalls = in.Totals.Connected
		rec.Stats.FailedCalls = in.Totals.Missed
		rec.Stats.TotalCallDuration = in.Totals.TotalDuration
		if total < in.Totals.TotalCalls {
			total = in.Totals.TotalCalls
		}
	case len(in.Entries) > 0:
		for _, e := range in.Entries {
			switch {
			case e.Status.IsConnected():
				rec.Stats.SuccessfulCalls++
			case e.Status.IsMissed():
				rec.Stats.FailedCalls++
			}
			rec.Stats.TotalCallDuration += e.Duration
		}
		if total < len(in.Entries) {
			total = len(in.Entries)
		}
	default:
		for _, a := range in.Attempts {
			switch {
			case !a.Success || a.ConnectionStatus == domain.ConnectionNotConnected:
				rec.Stats.FailedCalls++
			case a.ConnectionStatus == domain.ConnectionConnected:
				rec.Stats.SuccessfulCalls++
			}
		}
		if total < len(in.Attempts) {
			total = len(in.Attempts)
		}
	}
	rec.Stats.TotalContacts = total
	return rec
}
