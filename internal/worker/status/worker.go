package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/scheduler"
	"github.com/acme/campaign-dialer/internal/service/history"
	"github.com/acme/campaign-dialer/internal/service/results"
	"github.com/acme/campaign-dialer/internal/service/run"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Controller is the part of the run controller the poller drives.
type Controller interface {
	Snapshot() run.State
	Propose(ctx context.Context, p run.Proposal)
}

// Recorder saves run history.
type Recorder interface {
	Record(ctx context.Context, in history.Input) (domain.RunRecord, history.Outcome, error)
}

// Poller watches the backend's aggregate calling status for one campaign,
// finishes the run when the backend goes inactive and keeps the result
// views fresh.
type Poller struct {
	campaignID string
	source     backend.StatusSource
	ctrl       Controller
	recorder   Recorder
	views      []*results.Aggregator
	onSaved    func(runID string)
	interval   time.Duration
	logger     *logger.Logger

	mu         sync.Mutex
	primed     bool
	prevActive bool
	pending    string
	handle     *scheduler.Handle
}

// Option customises the poller.
type Option func(*Poller)

// WithViews registers result views refreshed on every tick. The first view
// also supplies the entries summarized into run history.
func WithViews(views ...*results.Aggregator) Option {
	return func(p *Poller) { p.views = append(p.views, views...) }
}

// WithOnSaved is called after a run's history is recorded.
func WithOnSaved(fn func(runID string)) Option {
	return func(p *Poller) { p.onSaved = fn }
}

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// New constructs a stopped poller.
func New(campaignID string, source backend.StatusSource, ctrl Controller, rec Recorder, log *logger.Logger, opts ...Option) *Poller {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Poller{
		campaignID: campaignID,
		source:     source,
		ctrl:       ctrl,
		recorder:   rec,
		interval:   3 * time.Second,
		logger:     log.Named("status_poller").With(zap.String("campaign_id", campaignID)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling; a running poller is left alone.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != nil {
		select {
		case <-p.handle.Done():
		default:
			return
		}
	}
	p.handle = scheduler.Every(ctx, "status.poll", p.interval, p.logger, p.Tick)
}

// Stop halts polling and waits for an in-progress tick.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Tick runs one polling cycle.
func (p *Poller) Tick(ctx context.Context) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("campaign.id", p.campaignID))

	snap := p.ctrl.Snapshot()
	p.refreshViews(ctx, snap.RunID)

	st, err := p.source.CallingStatus(ctx, p.campaignID)
	if err != nil {
		return fmt.Errorf("status poller: calling status: %w", err)
	}

	p.mu.Lock()
	if !p.primed {
		p.prevActive = snap.IsActive
		p.primed = true
	}
	wasActive := p.prevActive
	p.prevActive = st.IsActive
	pending := p.pending
	p.mu.Unlock()

	p.ctrl.Propose(ctx, run.Proposal{
		Kind:     run.ProposeProgressUpdate,
		RunID:    st.RunID,
		Active:   st.IsActive,
		Progress: st.Progress,
	})

	tracked := snap.RunID
	if tracked == "" || snap.Status == domain.CallingStatusIdle {
		return nil
	}
	if st.RunID != "" && st.RunID != tracked {
		return nil
	}

	finished := (wasActive && !st.IsActive) || st.AllCallsFinalized || pending == tracked
	if !finished {
		return nil
	}
	return p.finish(ctx, tracked)
}

func (p *Poller) finish(ctx context.Context, runID string) error {
	log := p.logger.With(zap.String("run_id", runID))

	p.mu.Lock()
	p.pending = runID
	p.mu.Unlock()

	p.ctrl.Propose(ctx, run.Proposal{Kind: run.ProposeBackendInactive, RunID: runID})

	snap := p.ctrl.Snapshot()
	if snap.RunID != runID {
		p.clearPending(runID)
		return nil
	}

	in := history.Input{
		CampaignID:    p.campaignID,
		RunID:         runID,
		StartTime:     snap.StartTime,
		EndTime:       snap.EndTime,
		Status:        snap.RunStatus,
		TotalContacts: snap.TotalContacts,
		Attempts:      snap.Attempts,
	}
	if in.EndTime.IsZero() {
		in.EndTime = time.Now().UTC()
	}
	if len(p.views) > 0 {
		v := p.views[0].View()
		in.Entries = v.Entries
		in.Totals = &v.Totals
	}

	_, outcome, err := p.recorder.Record(ctx, in)
	if err != nil {
		return fmt.Errorf("status poller: record run %s: %w", runID, err)
	}
	if !outcome.Done() {
		log.Debug("run history save skipped", zap.Stringer("outcome", outcome))
		return nil
	}

	p.clearPending(runID)
	p.ctrl.Propose(ctx, run.Proposal{Kind: run.ProposeRunSaved, RunID: runID})
	if p.onSaved != nil {
		p.onSaved(runID)
	}
	log.Info("run finished", zap.Stringer("outcome", outcome))
	return nil
}

func (p *Poller) clearPending(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == runID {
		p.pending = ""
	}
}

func (p *Poller) refreshViews(ctx context.Context, runID string) {
	for _, v := range p.views {
		v.SetRunID(runID)
		if _, err := v.Refresh(ctx); err != nil {
			p.logger.Debug("result view refresh failed", zap.String("view", v.Name()), zap.Error(err))
		}
	}
}
