package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acme/campaign-dialer/internal/backend/mock"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/persistence"
	"github.com/acme/campaign-dialer/internal/repository/memory"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/service/dialer"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (r *recordingSink) Publish(ctx context.Context, ev domain.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []domain.RunEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RunEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	clock   *clock
	backend *mock.Backend
	store   *persistence.Store
	events  *recordingSink
}

func newFixture() *fixture {
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := mock.New(mock.Options{AnswerRate: 1, RingDuration: 4 * time.Second, TalkDuration: 12 * time.Second, FinalizeGrace: 5 * time.Second, Credits: -1, Seed: 1})
	b.SetClock(clk.Now)
	b.Seed(
		domain.Campaign{ID: "c1", Name: "Demo"},
		map[domain.Group][]domain.Contact{
			{ID: "g1", Name: "Leads"}: {
				{ID: "1", Name: "Ann", Phone: "+15550001"},
				{ID: "2", Name: "Bob", Phone: "+15550002"},
				{ID: "3", Name: "Cy", Phone: "+15550003"},
			},
		},
		[]domain.Agent{{ID: "a1", Name: "Ava"}},
	)
	return &fixture{
		clock:   clk,
		backend: b,
		store:   persistence.NewStore(memory.NewStore(), "test", nil),
		events:  &recordingSink{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Backend: f.backend,
		Store:   f.store,
		Dialer:  config.DialerConfig{RecencyWindow: 30 * time.Second},
		Poller: config.PollerConfig{
			StatusInterval:  5 * time.Millisecond,
			LiveInterval:    5 * time.Millisecond,
			LiveTimeout:     time.Hour,
			MaxLiveTrackers: 10,
		},
		Results: config.ResultsConfig{PageSize: 20},
		Events:  f.events,
		SequencerOptions: []dialer.Option{
			dialer.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
			dialer.WithClock(f.clock.Now),
		},
	}
}

func waitStatus(t *testing.T, s *Session, want domain.CallingStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Snapshot().Status == want }, 2*time.Second, time.Millisecond)
}

func TestSessionRunsCampaignToSavedHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := NewSession(f.deps(), "c1")
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	view := s.Snapshot()
	assert.Equal(t, "Demo", view.CampaignName)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, 3, view.Groups[0].ContactCount)

	require.NoError(t, s.SelectAgent("a1"))
	require.NoError(t, s.Start(ctx, ""))
	waitStatus(t, s, domain.CallingStatusCompleted)

	runID := s.Snapshot().RunID
	require.NotEmpty(t, runID)
	assert.Len(t, s.Snapshot().Attempts, 3)

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		v := s.Snapshot()
		return v.Status == domain.CallingStatusIdle && v.ReadyForNextRun
	}, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		saved := false
		for _, typ := range f.events.types() {
			saved = saved || typ == domain.RunEventSaved
		}
		return saved
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, f.backend.SaveCount(runID))
	assert.Zero(t, s.Snapshot().LiveTrackers)

	runs, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
}

func TestSessionTranscriptMarksViewed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := NewSession(f.deps(), "c1")
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	require.NoError(t, s.Start(ctx, "a1"))
	waitStatus(t, s, domain.CallingStatusCompleted)
	f.clock.Advance(10 * time.Second)

	attempt := s.Snapshot().Attempts[0]
	tr := s.Transcript(ctx, "doc-"+attempt.UniqueID)
	assert.True(t, tr.Viewed)
	assert.NotEmpty(t, tr.Lines)

	missing := s.Transcript(ctx, "doc-missing")
	assert.Empty(t, missing.Lines)

	viewed, err := s.ViewedTranscripts(ctx)
	require.NoError(t, err)
	assert.True(t, viewed["doc-"+attempt.UniqueID])
	assert.True(t, viewed["doc-missing"])
}

func TestSessionRejectsUnknownView(t *testing.T) {
	f := newFixture()
	s := NewSession(f.deps(), "c1")
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	_, err := s.Results(context.Background(), "nope", false)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	v, err := s.Results(context.Background(), ViewDashboard, true)
	require.NoError(t, err)
	assert.Empty(t, v.Entries)
}

func TestManagerLeasesCampaigns(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	leases := concurrency.NewLocalLeases(time.Minute)

	first := NewManager(f.deps(), leases)
	second := NewManager(f.deps(), leases)

	s, err := first.Open(ctx, "c1")
	require.NoError(t, err)
	again, err := first.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Same(t, s, again)

	_, err = second.Open(ctx, "c1")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = second.Get("c1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, first.Close("c1"))
	require.ErrorIs(t, first.Close("c1"), apperrors.ErrNotFound)

	_, err = second.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, second.Sessions())
	require.NoError(t, second.CloseAll(ctx))
	assert.Empty(t, second.Sessions())

	_, err = first.Open(ctx, "")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestReopenedSessionFinishesInterruptedRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := NewManager(f.deps(), nil)

	s, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, "a1"))
	waitStatus(t, s, domain.CallingStatusCompleted)
	runID := s.Snapshot().RunID
	require.NoError(t, m.Close("c1"))

	f.clock.Advance(time.Minute)

	s, err = m.Open(ctx, "c1")
	require.NoError(t, err)
	defer func() { _ = m.CloseAll(ctx) }()

	require.Eventually(t, func() bool {
		return s.Snapshot().ReadyForNextRun
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, f.backend.SaveCount(runID))
}

func TestRecentlyCalledContactsSkippedInNextRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := NewSession(f.deps(), "c1")
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	require.NoError(t, s.Start(ctx, "a1"))
	waitStatus(t, s, domain.CallingStatusCompleted)
	first := s.Snapshot().RunID
	require.Len(t, f.backend.Calls(), 3)

	// Stopping closes the run without moving the clock past the window.
	require.NoError(t, s.Stop(ctx))
	require.Eventually(t, func() bool {
		v := s.Snapshot()
		return v.Status == domain.CallingStatusIdle && v.ReadyForNextRun
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Start(ctx, "a1"))
	require.Eventually(t, func() bool {
		v := s.Snapshot()
		return v.RunID != first && v.Status == domain.CallingStatusCompleted
	}, 2*time.Second, time.Millisecond)

	v := s.Snapshot()
	assert.Empty(t, v.Attempts)
	assert.Equal(t, 3, v.CurrentIndex)
	assert.Len(t, f.backend.Calls(), 3)
}
