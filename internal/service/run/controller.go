package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/persistence"
	"github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/dialer"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// EventSink receives run lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev domain.RunEvent) error
}

// Controller owns the run state of one campaign. Operator actions and
// poller proposals are the only ways to change it.
type Controller struct {
	campaignID string
	campaign   *campaign.Context
	lifecycle  backend.RunLifecycle
	seq        *dialer.Sequencer
	store      *persistence.Store
	events     EventSink
	logger     *logger.Logger
	now        func() time.Time

	observed  func(key string) (time.Time, bool)
	onAttempt func(runID string, a domain.CallAttempt)

	// ops serializes operator actions; mu guards state.
	ops        sync.Mutex
	mu         sync.Mutex
	state      State
	gen        uint64
	cancelDial context.CancelFunc
	dialDone   chan struct{}
}

// Option customises a Controller.
type Option func(*Controller)

// WithEvents publishes lifecycle events to sink.
func WithEvents(sink EventSink) Option {
	return func(c *Controller) { c.events = sink }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithObserved sets the lookup the sequencer uses for its recency guard.
func WithObserved(fn func(key string) (time.Time, bool)) Option {
	return func(c *Controller) { c.observed = fn }
}

// WithAttemptHook is called, outside the controller lock, after each
// recorded call attempt.
func WithAttemptHook(fn func(runID string, a domain.CallAttempt)) Option {
	return func(c *Controller) { c.onAttempt = fn }
}

// NewController constructs an idle controller.
func NewController(
	cc *campaign.Context,
	lifecycle backend.RunLifecycle,
	seq *dialer.Sequencer,
	store *persistence.Store,
	log *logger.Logger,
	opts ...Option,
) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Controller{
		campaignID: cc.CampaignID(),
		campaign:   cc,
		lifecycle:  lifecycle,
		seq:        seq,
		store:      store,
		logger:     log.Named("run").With(zap.String("campaign_id", cc.CampaignID())),
		now:        time.Now,
		state:      idleState(cc.CampaignID()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Restore loads persisted state. It must run before any network call so
// a resumed run never shows up as idle.
func (c *Controller) Restore(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	st, ok, err := c.store.LoadRunState(ctx, c.campaignID)
	if err != nil {
		return fmt.Errorf("run controller: restore: %w", err)
	}
	ready, err := c.store.ReadyForNextRun(ctx, c.campaignID)
	if err != nil {
		c.logger.Warn("read ready-for-next-run flag", zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = idleState(c.campaignID)
	c.state.ReadyForNextRun = ready
	if !ok {
		return nil
	}
	c.state.Status = st.CallingStatus
	c.state.RunID = st.RunID
	c.state.AgentID = st.AgentID
	c.state.StartTime = st.StartTime
	c.state.CurrentIndex = st.CurrentIndex
	c.state.Attempts = st.Attempts
	c.state.Connection = st.Connection
	c.state.IsActive = st.IsActive
	if st.CallingStatus != domain.CallingStatusIdle {
		c.state.RunStatus = domain.RunStatusRunning
	}
	if st.CallingStatus == domain.CallingStatusCompleted {
		c.state.RunStatus = domain.RunStatusCompleted
	}
	c.campaign.SetActive(c.state.IsActive)

	c.logger.Info("run state restored",
		zap.String("status", string(st.CallingStatus)),
		zap.String("run_id", st.RunID),
		zap.Int("current_index", st.CurrentIndex),
		zap.Int("attempts", len(st.Attempts)),
	)
	return nil
}

// Reattach brings a restored controller up to date with the refreshed
// campaign: it sizes the run and restarts the sequencer of a run that was
// calling when the process stopped.
func (c *Controller) Reattach(ctx context.Context) {
	c.ops.Lock()
	defer c.ops.Unlock()

	contacts := dialer.Contacts(c.campaign.Snapshot().Contacts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != domain.CallingStatusIdle {
		c.state.TotalContacts = len(contacts)
	}
	if c.state.Status == domain.CallingStatusCalling && c.dialDone == nil {
		c.logger.Info("resuming interrupted run", zap.String("run_id", c.state.RunID), zap.Int("current_index", c.state.CurrentIndex))
		c.launchLocked(contacts)
	}
}

// Start begins a run with agentID, or the campaign's selected agent. It is
// a no-op while already calling and resumes a paused run.
func (c *Controller) Start(ctx context.Context, agentID string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	status := c.state.Status
	c.mu.Unlock()

	switch status {
	case domain.CallingStatusCalling:
		c.logger.Debug("start ignored: already calling")
		return nil
	case domain.CallingStatusPaused:
		return c.resume(ctx)
	case domain.CallingStatusCompleted:
		return fmt.Errorf("%w: run already completed, reset before starting a new one", apperrors.ErrConflict)
	}

	agent, err := c.campaign.ValidateStart(agentID)
	if err != nil {
		return err
	}
	contacts := dialer.Contacts(c.campaign.Snapshot().Contacts)

	c.mu.Lock()
	runID := ""
	if c.state.IsActive {
		runID = c.state.RunID
	}
	c.mu.Unlock()

	if runID == "" {
		runID, err = c.lifecycle.StartCalling(ctx, c.campaignID, agent)
		if err != nil {
			return fmt.Errorf("run controller: start: %w", err)
		}
		if runID == "" {
			runID = uuid.NewString()
		}
	}

	c.mu.Lock()
	c.state = idleState(c.campaignID)
	c.state.Status = domain.CallingStatusCalling
	c.state.RunStatus = domain.RunStatusRunning
	c.state.RunID = runID
	c.state.AgentID = agent
	c.state.StartTime = c.now().UTC()
	c.state.TotalContacts = len(contacts)
	c.state.IsActive = true
	c.campaign.SetActive(true)
	c.persistLocked(ctx)
	c.launchLocked(contacts)
	c.mu.Unlock()

	if err := c.store.SetReadyForNextRun(ctx, c.campaignID, false); err != nil {
		c.logger.Warn("clear ready-for-next-run flag", zap.Error(err))
	}

	c.logger.Info("run started", zap.String("run_id", runID), zap.String("agent_id", agent), zap.Int("contacts", len(contacts)))
	c.publish(ctx, domain.RunEvent{Type: domain.RunEventStarted, RunID: runID})
	return nil
}

// Pause stops dialing after the call in flight and keeps the position.
func (c *Controller) Pause(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	switch c.state.Status {
	case domain.CallingStatusPaused:
		c.mu.Unlock()
		return nil
	case domain.CallingStatusCalling:
	default:
		status := c.state.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot pause while %s", apperrors.ErrConflict, status)
	}
	done := c.haltLocked()
	c.state.Status = domain.CallingStatusPaused
	c.persistLocked(ctx)
	runID := c.state.RunID
	c.mu.Unlock()

	wait(done)
	c.logger.Info("run paused", zap.String("run_id", runID))
	c.publish(ctx, domain.RunEvent{Type: domain.RunEventPaused, RunID: runID})
	return nil
}

// Resume continues a paused run from its saved position.
func (c *Controller) Resume(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.resume(ctx)
}

func (c *Controller) resume(ctx context.Context) error {
	contacts := dialer.Contacts(c.campaign.Snapshot().Contacts)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Status {
	case domain.CallingStatusCalling:
		return nil
	case domain.CallingStatusPaused:
	default:
		return fmt.Errorf("%w: cannot resume while %s", apperrors.ErrConflict, c.state.Status)
	}
	if len(contacts) == 0 {
		return fmt.Errorf("%w: no contacts available", apperrors.ErrPrecondition)
	}

	c.state.Status = domain.CallingStatusCalling
	c.state.TotalContacts = len(contacts)
	c.state.Notice = nil
	c.persistLocked(ctx)
	c.launchLocked(contacts)
	c.logger.Info("run resumed", zap.String("run_id", c.state.RunID), zap.Int("current_index", c.state.CurrentIndex))
	return nil
}

// Stop ends the run on the backend and marks it completed with status
// stopped. When the backend refuses, the run stays paused.
func (c *Controller) Stop(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	if c.state.Status == domain.CallingStatusIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: no run to stop", apperrors.ErrConflict)
	}
	if c.state.Status == domain.CallingStatusCompleted && c.state.RunStatus == domain.RunStatusStopped {
		c.mu.Unlock()
		return nil
	}
	done := c.haltLocked()
	if c.state.Status == domain.CallingStatusCalling {
		c.state.Status = domain.CallingStatusPaused
		c.persistLocked(ctx)
	}
	runID := c.state.RunID
	c.mu.Unlock()

	wait(done)

	if err := c.lifecycle.StopCalling(ctx, c.campaignID, runID); err != nil {
		c.mu.Lock()
		c.state.Notice = &Notice{Kind: NoticeStopFailed, Message: err.Error(), At: c.now().UTC()}
		c.mu.Unlock()
		return fmt.Errorf("run controller: stop: %w", err)
	}

	c.mu.Lock()
	c.state.Status = domain.CallingStatusCompleted
	c.state.RunStatus = domain.RunStatusStopped
	c.state.EndTime = c.now().UTC()
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.logger.Info("run stopped", zap.String("run_id", runID))
	c.publish(ctx, domain.RunEvent{Type: domain.RunEventStopped, RunID: runID})
	return nil
}

// Reset returns a paused or completed controller to idle and clears its
// persisted state.
func (c *Controller) Reset(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	if c.state.Status == domain.CallingStatusCalling {
		c.mu.Unlock()
		return fmt.Errorf("%w: pause or stop the run before resetting", apperrors.ErrConflict)
	}
	done := c.resetLocked(ctx, false)
	c.mu.Unlock()

	wait(done)
	return nil
}

// Propose applies a poller's proposed transition atomically.
func (c *Controller) Propose(ctx context.Context, p Proposal) {
	c.mu.Lock()

	var (
		done   chan struct{}
		events []domain.RunEvent
	)

	switch p.Kind {
	case ProposeProgressUpdate:
		c.state.BackendProgress = p.Progress
		if c.state.RunID == "" || p.RunID == "" || p.RunID == c.state.RunID {
			if c.state.IsActive != p.Active {
				c.state.IsActive = p.Active
				c.campaign.SetActive(p.Active)
				c.persistLocked(ctx)
			}
		}

	case ProposeBackendInactive:
		if p.RunID != "" && c.state.RunID != "" && p.RunID != c.state.RunID {
			c.logger.Debug("inactive proposal for another run ignored", zap.String("run_id", p.RunID))
			break
		}
		c.state.IsActive = false
		c.campaign.SetActive(false)
		if c.state.Status == domain.CallingStatusCalling || c.state.Status == domain.CallingStatusPaused {
			done = c.haltLocked()
			c.state.Status = domain.CallingStatusCompleted
			c.state.RunStatus = domain.RunStatusCompleted
			c.state.EndTime = c.now().UTC()
			events = append(events, domain.RunEvent{Type: domain.RunEventCompleted, RunID: c.state.RunID, Message: "backend reported the run inactive"})
			c.logger.Info("run completed by backend", zap.String("run_id", c.state.RunID))
		}
		c.persistLocked(ctx)

	case ProposeConnectionUpdate:
		idx := -1
		for i, a := range c.state.Attempts {
			if a.UniqueID == p.UniqueID {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		a := &c.state.Attempts[idx]
		if a.ConnectionStatus == p.Connection && (p.TranscriptRef == "" || a.TranscriptRef == p.TranscriptRef) {
			break
		}
		a.ConnectionStatus = p.Connection
		if p.TranscriptRef != "" {
			a.TranscriptRef = p.TranscriptRef
		}
		c.state.Connection[p.UniqueID] = p.Connection
		c.persistLocked(ctx)
		attempt := *a
		events = append(events, domain.RunEvent{Type: domain.RunEventConnection, RunID: c.state.RunID, Attempt: &attempt})

	case ProposeRunSaved:
		if p.RunID != "" && c.state.RunID != "" && p.RunID != c.state.RunID {
			c.logger.Debug("saved proposal for another run ignored", zap.String("run_id", p.RunID))
			break
		}
		done = c.resetLocked(ctx, true)
		c.logger.Info("run saved, ready for next run", zap.String("run_id", p.RunID))
	}

	c.mu.Unlock()

	wait(done)
	for _, ev := range events {
		c.publish(ctx, ev)
	}
}

// ClearNotice dismisses the current notice.
func (c *Controller) ClearNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Notice = nil
}

// Close cancels the sequencer without changing persisted state, so a later
// session can resume the run.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	done := c.dialDone
	c.dialDone = nil
	c.mu.Unlock()

	wait(done)
}

func (c *Controller) resetLocked(ctx context.Context, ready bool) chan struct{} {
	done := c.haltLocked()
	c.state = idleState(c.campaignID)
	c.state.ReadyForNextRun = ready
	c.campaign.SetActive(false)
	if err := c.store.ClearRunState(ctx, c.campaignID); err != nil {
		c.logger.Warn("clear persisted run state", zap.Error(err))
	}
	if err := c.store.SetReadyForNextRun(ctx, c.campaignID, ready); err != nil {
		c.logger.Warn("write ready-for-next-run flag", zap.Error(err))
	}
	return done
}

// haltLocked cancels the running sequencer. The caller waits on the
// returned channel after releasing mu.
func (c *Controller) haltLocked() chan struct{} {
	c.gen++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	done := c.dialDone
	c.dialDone = nil
	return done
}

func (c *Controller) launchLocked(contacts []domain.Contact) {
	c.gen++
	gen := c.gen
	runID := c.state.RunID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancelDial = cancel
	c.dialDone = done

	in := dialer.Input{
		CampaignID: c.campaignID,
		RunID:      runID,
		AgentID:    c.state.AgentID,
		Contacts:   contacts,
		StartIndex: c.state.CurrentIndex,
		Prior:      append([]domain.CallAttempt(nil), c.state.Attempts...),
		Observed:   c.observed,
		Report:     func(s dialer.Step) { c.onStep(runID, s) },
	}

	go func() {
		defer close(done)
		defer cancel()
		res, err := c.seq.Run(ctx, in)
		c.onDialerExit(gen, res, err)
	}()
}

// onStep records progress. Attempts of the current run are kept even
// after a pause or stop raced with the call.
func (c *Controller) onStep(runID string, s dialer.Step) {
	ctx := context.Background()

	c.mu.Lock()
	if c.state.RunID != runID || c.state.Status == domain.CallingStatusIdle {
		c.mu.Unlock()
		return
	}
	if s.Next > c.state.CurrentIndex {
		c.state.CurrentIndex = s.Next
	}
	var attempt domain.CallAttempt
	if s.Attempt != nil {
		attempt = *s.Attempt
		c.state.Attempts = append(c.state.Attempts, attempt)
		c.state.Connection[attempt.UniqueID] = attempt.ConnectionStatus
	}
	c.persistLocked(ctx)
	c.mu.Unlock()

	if s.Attempt == nil {
		return
	}
	c.publish(ctx, domain.RunEvent{Type: domain.RunEventAttempt, RunID: runID, Attempt: &attempt})
	if c.onAttempt != nil {
		c.onAttempt(runID, attempt)
	}
}

func (c *Controller) onDialerExit(gen uint64, res dialer.Result, err error) {
	ctx := context.Background()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cancelDial = nil
	c.dialDone = nil

	var ev *domain.RunEvent
	switch {
	case err == nil:
		c.state.Status = domain.CallingStatusCompleted
		c.state.RunStatus = domain.RunStatusCompleted
		c.state.EndTime = c.now().UTC()
		ev = &domain.RunEvent{Type: domain.RunEventCompleted, RunID: c.state.RunID, Message: "contact list exhausted"}
		c.logger.Info("contact list exhausted", zap.String("run_id", c.state.RunID), zap.Int("attempts", res.Attempts), zap.Int("skipped", res.Skipped))
	case apperrors.Is(err, apperrors.ErrInsufficientCredits):
		c.state.Status = domain.CallingStatusPaused
		c.state.Notice = &Notice{Kind: NoticeInsufficientCredits, Message: "Insufficient credits: top up to continue calling.", At: c.now().UTC()}
		ev = &domain.RunEvent{Type: domain.RunEventCreditsExhausted, RunID: c.state.RunID, Message: err.Error()}
	case errors.Is(err, context.Canceled):
	default:
		c.state.Status = domain.CallingStatusPaused
		c.state.Notice = &Notice{Kind: NoticeDialerError, Message: err.Error(), At: c.now().UTC()}
		c.logger.Error("dialer stopped", zap.String("run_id", c.state.RunID), zap.Error(err))
	}
	c.persistLocked(ctx)
	c.mu.Unlock()

	if ev != nil {
		c.publish(ctx, *ev)
	}
}

func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.store.SaveRunState(ctx, c.campaignID, c.state.persisted()); err != nil {
		c.logger.Warn("persist run state", zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, ev domain.RunEvent) {
	if c.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.CampaignID = c.campaignID
	ev.OccurredAt = c.now().UTC()
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.Warn("publish run event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func wait(done chan struct{}) {
	if done != nil {
		<-done
	}
}
