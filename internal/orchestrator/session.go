package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/persistence"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/dialer"
	"github.com/acme/campaign-dialer/internal/service/history"
	"github.com/acme/campaign-dialer/internal/service/results"
	"github.com/acme/campaign-dialer/internal/service/run"
	"github.com/acme/campaign-dialer/internal/worker/live"
	"github.com/acme/campaign-dialer/internal/worker/status"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// View names for the two result aggregators of a session.
const (
	ViewMergedCalls = "merged-calls"
	ViewDashboard   = "call-logs-dashboard"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Backend backend.Backend
	Store   *persistence.Store
	Dialer  config.DialerConfig
	Poller  config.PollerConfig
	Results config.ResultsConfig
	Logger  *logger.Logger

	// Optional.
	Events           run.EventSink
	DurableLedger    repository.RunLedger
	SequencerOptions []dialer.Option
}

// Session hosts the orchestrator of one open campaign: its controller,
// pollers, trackers and result views.
type Session struct {
	campaignID string
	backend    backend.Backend
	store      *persistence.Store
	events     run.EventSink
	maxLive    int
	logger     *logger.Logger

	campaign  *campaign.Context
	ctrl      *run.Controller
	recency   *results.Recency
	merged    *results.Aggregator
	dashboard *results.Aggregator
	poller    *status.Poller
	tracker   *live.Tracker

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession wires a session; Open starts it.
func NewSession(deps Deps, campaignID string) *Session {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(zap.String("campaign_id", campaignID))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		campaignID: campaignID,
		backend:    deps.Backend,
		store:      deps.Store,
		events:     deps.Events,
		maxLive:    deps.Poller.MaxLiveTrackers,
		logger:     log.Named("session"),
		ctx:        ctx,
		cancel:     cancel,
	}

	pageSize := deps.Results.PageSize
	s.recency = results.NewRecency(deps.Dialer.RecencyWindow)
	s.merged = results.New(ViewMergedCalls, campaignID, pageSize, deps.Backend.MergedCalls, log, results.WithRecency(s.recency))
	s.dashboard = results.New(ViewDashboard, campaignID, pageSize, deps.Backend.CallLogsDashboard, log, results.WithRecency(s.recency))

	s.campaign = campaign.NewContext(deps.Backend, campaignID, log)
	seq := dialer.NewSequencer(deps.Backend, deps.Dialer, log, deps.SequencerOptions...)

	ctrlOpts := []run.Option{
		run.WithObserved(s.recency.LastSeen),
		run.WithAttemptHook(s.onAttempt),
	}
	if deps.Events != nil {
		ctrlOpts = append(ctrlOpts, run.WithEvents(deps.Events))
	}
	s.ctrl = run.NewController(s.campaign, deps.Backend, seq, deps.Store, log, ctrlOpts...)

	s.tracker = live.New(deps.Backend, log,
		live.WithInterval(deps.Poller.LiveInterval),
		live.WithTimeout(deps.Poller.LiveTimeout),
		live.WithUpdates(s.onCallUpdate),
	)

	recorder := history.NewRecorder(deps.Backend, log,
		history.WithLedger(deps.Store.Ledger()),
		history.WithLedger(deps.DurableLedger),
	)
	s.poller = status.New(campaignID, deps.Backend, s.ctrl, recorder, log,
		status.WithInterval(deps.Poller.StatusInterval),
		status.WithViews(s.merged, s.dashboard),
		status.WithOnSaved(s.onRunSaved),
	)
	return s
}

// CampaignID returns the campaign hosted by the session.
func (s *Session) CampaignID() string {
	return s.campaignID
}

// Open restores persisted state, refreshes the campaign, resumes an
// interrupted run and starts polling.
func (s *Session) Open(ctx context.Context) error {
	if err := s.ctrl.Restore(ctx); err != nil {
		return fmt.Errorf("session: open: %w", err)
	}
	if _, err := s.campaign.Refresh(ctx); err != nil {
		s.logger.Warn("campaign refresh failed", zap.Error(err))
	}
	s.ctrl.Reattach(ctx)

	st := s.ctrl.Snapshot()
	for _, a := range st.Attempts {
		if !a.Success {
			continue
		}
		s.recency.Observe(a.Contact.DedupKey(), a.Timestamp)
		if a.ConnectionStatus == domain.ConnectionChecking {
			s.track(a.UniqueID)
		}
	}

	s.poller.Start(s.ctx)
	s.logger.Info("session opened", zap.String("status", string(st.Status)), zap.String("run_id", st.RunID))
	return nil
}

// Close stops every loop without touching persisted state.
func (s *Session) Close() {
	s.poller.Stop()
	s.tracker.Stop()
	s.ctrl.Close()
	s.cancel()
	s.logger.Info("session closed")
}

// Snapshot returns the operator-facing state of the session.
func (s *Session) Snapshot() View {
	return newView(s.ctrl.Snapshot(), s.campaign.Snapshot(), s.tracker.Active())
}

// RefreshCampaign reloads the campaign, groups, agents and contacts.
func (s *Session) RefreshCampaign(ctx context.Context) error {
	_, err := s.campaign.Refresh(ctx)
	return err
}

// SelectAgent sets the agent the next run uses.
func (s *Session) SelectAgent(agentID string) error {
	return s.campaign.SelectAgent(agentID)
}

// Start starts or resumes the run.
func (s *Session) Start(ctx context.Context, agentID string) error {
	return s.ctrl.Start(ctx, agentID)
}

// Pause pauses the run.
func (s *Session) Pause(ctx context.Context) error {
	return s.ctrl.Pause(ctx)
}

// Resume resumes a paused run.
func (s *Session) Resume(ctx context.Context) error {
	return s.ctrl.Resume(ctx)
}

// Stop stops the run and its live call trackers. The status poller keeps
// running so the stopped run is still recorded.
func (s *Session) Stop(ctx context.Context) error {
	if err := s.ctrl.Stop(ctx); err != nil {
		return err
	}
	s.tracker.Stop()
	return nil
}

// Reset discards a paused or completed run.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.ctrl.Reset(ctx); err != nil {
		return err
	}
	s.tracker.Stop()
	s.merged.Reset()
	s.dashboard.Reset()
	return nil
}

// ClearNotice dismisses the operator notice.
func (s *Session) ClearNotice() {
	s.ctrl.ClearNotice()
}

// Results returns the named result view. Refresh discards loaded pages and
// fetches page one again.
func (s *Session) Results(ctx context.Context, name string, refresh bool) (results.View, error) {
	agg, err := s.view(name)
	if err != nil {
		return results.View{}, err
	}
	if refresh {
		return agg.Reload(ctx)
	}
	return agg.View(), nil
}

// LoadMore appends the next page of the named result view.
func (s *Session) LoadMore(ctx context.Context, name string) (results.View, error) {
	agg, err := s.view(name)
	if err != nil {
		return results.View{}, err
	}
	return agg.LoadMore(ctx)
}

// Transcript fetches a transcript and marks it viewed. Lookup failures
// degrade to an empty transcript.
func (s *Session) Transcript(ctx context.Context, documentID string) TranscriptView {
	out := TranscriptView{DocumentID: documentID, Lines: []domain.TranscriptLine{}}
	tr, err := s.backend.Transcript(ctx, documentID)
	if err != nil {
		s.logger.Debug("transcript lookup failed", zap.String("document_id", documentID), zap.Error(err))
	} else {
		out.Lines = domain.ParseTranscript(tr.Text)
	}
	if err := s.store.MarkTranscriptViewed(ctx, s.campaignID, documentID); err != nil {
		s.logger.Warn("mark transcript viewed", zap.Error(err))
	}
	out.Viewed = true
	return out
}

// ViewedTranscripts lists the transcripts opened in this campaign.
func (s *Session) ViewedTranscripts(ctx context.Context) (map[string]bool, error) {
	return s.store.ViewedTranscripts(ctx, s.campaignID)
}

// History lists saved runs from the backend.
func (s *Session) History(ctx context.Context) ([]domain.RunRecord, error) {
	return s.backend.RunHistory(ctx, s.campaignID)
}

// LiveTranscript returns the transcript captured by the live tracker.
func (s *Session) LiveTranscript(uniqueID string) ([]domain.TranscriptLine, bool) {
	return s.tracker.Transcript(uniqueID)
}

func (s *Session) view(name string) (*results.Aggregator, error) {
	switch name {
	case ViewMergedCalls, "":
		return s.merged, nil
	case ViewDashboard:
		return s.dashboard, nil
	}
	return nil, fmt.Errorf("%w: unknown result view %q", apperrors.ErrValidation, name)
}

func (s *Session) onAttempt(runID string, a domain.CallAttempt) {
	if !a.Success {
		return
	}
	s.recency.Observe(a.Contact.DedupKey(), a.Timestamp)
	s.track(a.UniqueID)
}

func (s *Session) track(uniqueID string) {
	if s.maxLive > 0 && s.tracker.Active() >= s.maxLive {
		s.logger.Debug("live tracker limit reached", zap.String("unique_id", uniqueID), zap.Int("limit", s.maxLive))
		return
	}
	s.tracker.Track(s.ctx, uniqueID)
}

func (s *Session) onCallUpdate(ctx context.Context, u live.Update) {
	s.ctrl.Propose(ctx, run.Proposal{
		Kind:          run.ProposeConnectionUpdate,
		UniqueID:      u.UniqueID,
		Connection:    u.Connection,
		TranscriptRef: u.DocumentID,
	})
}

func (s *Session) onRunSaved(runID string) {
	s.tracker.Stop()
	s.merged.Reset()
	s.dashboard.Reset()

	if s.events == nil {
		return
	}
	ev := domain.RunEvent{
		ID:         uuid.NewString(),
		Type:       domain.RunEventSaved,
		CampaignID: s.campaignID,
		RunID:      runID,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.Publish(s.ctx, ev); err != nil {
		s.logger.Warn("publish run saved event", zap.Error(err))
	}
}
