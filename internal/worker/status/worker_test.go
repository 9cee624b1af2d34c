package status

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
	"github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/dialer"
	"github.com/acme/campaign-dialer/internal/service/history"
	"github.com/acme/campaign-dialer/internal/service/results"
	"github.com/acme/campaign-dialer/internal/service/run"
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

type harness struct {
	clock   *clock
	backend *mock.Backend
	store   *persistence.Store
}

func newHarness() *harness {
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := mock.New(mock.Options{AnswerRate: 1, RingDuration: 4 * time.Second, TalkDuration: 12 * time.Second, FinalizeGrace: 5 * time.Second, Credits: -1, Seed: 1})
	b.SetClock(clk.Now)
	b.Seed(
		domain.Campaign{ID: "c1", Name: "Demo"},
		map[domain.Group][]domain.Contact{
			{ID: "g1"}: {
				{ID: "1", Name: "Ann", Phone: "+15550001"},
				{ID: "2", Name: "Bob", Phone: "+15550002"},
				{ID: "3", Name: "Cy", Phone: "+15550003"},
			},
		},
		[]domain.Agent{{ID: "a1"}},
	)
	return &harness{
		clock:   clk,
		backend: b,
		store:   persistence.NewStore(memory.NewStore(), "test", nil),
	}
}

func (h *harness) controller(t *testing.T) *run.Controller {
	t.Helper()
	cc := campaign.NewContext(h.backend, "c1", nil)
	_, err := cc.Refresh(context.Background())
	require.NoError(t, err)

	seq := dialer.NewSequencer(h.backend, config.DialerConfig{RecencyWindow: 30 * time.Second}, nil,
		dialer.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		dialer.WithClock(h.clock.Now),
	)
	ctrl := run.NewController(cc, h.backend, seq, h.store, nil, run.WithClock(h.clock.Now))
	t.Cleanup(ctrl.Close)
	return ctrl
}

func (h *harness) poller(ctrl *run.Controller, views ...*results.Aggregator) *Poller {
	rec := history.NewRecorder(h.backend, nil, history.WithLedger(h.store.Ledger()))
	return New("c1", h.backend, ctrl, rec, nil, WithViews(views...))
}

func TestInactiveBackendSavesRunOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ctrl := h.controller(t)

	require.NoError(t, ctrl.Start(ctx, "a1"))
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Status == domain.CallingStatusCompleted
	}, 2*time.Second, time.Millisecond)
	runID := ctrl.Snapshot().RunID

	view := results.New("merged-calls", "c1", 20, h.backend.MergedCalls, nil)
	saved := 0
	p := h.poller(ctrl, view)
	p.onSaved = func(string) { saved++ }

	// Calls are still ringing.
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, 0, h.backend.SaveCount(runID))
	assert.Len(t, view.View().Entries, 3)

	h.clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Tick(ctx))
	}

	assert.Equal(t, 1, h.backend.SaveCount(runID))
	assert.Equal(t, 1, saved)

	st := ctrl.Snapshot()
	assert.Equal(t, domain.CallingStatusIdle, st.Status)
	assert.True(t, st.ReadyForNextRun)

	runs, err := h.backend.RunHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Stats.SuccessfulCalls)
	assert.Equal(t, 36*time.Second, runs[0].Stats.TotalCallDuration)
}

func TestReloadAfterSaveDoesNotSaveAgain(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := h.controller(t)
	require.NoError(t, first.Start(ctx, "a1"))
	require.Eventually(t, func() bool {
		return first.Snapshot().Status == domain.CallingStatusCompleted
	}, 2*time.Second, time.Millisecond)
	snap := first.Snapshot()
	h.clock.Advance(time.Minute)

	// History saved, then the process died before the controller reset.
	rec := history.NewRecorder(h.backend, nil, history.WithLedger(h.store.Ledger()))
	_, out, err := rec.Record(ctx, history.Input{CampaignID: "c1", RunID: snap.RunID, Attempts: snap.Attempts})
	require.NoError(t, err)
	require.Equal(t, history.Saved, out)
	first.Close()

	second := h.controller(t)
	require.NoError(t, second.Restore(ctx))
	require.Equal(t, domain.CallingStatusCompleted, second.Snapshot().Status)

	p := h.poller(second)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Tick(ctx))
	}
	assert.Equal(t, 1, h.backend.SaveCount(snap.RunID))
	assert.Equal(t, domain.CallingStatusIdle, second.Snapshot().Status)
}

func TestFailedSaveIsRetriedNextTick(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ctrl := h.controller(t)

	require.NoError(t, ctrl.Start(ctx, "a1"))
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Status == domain.CallingStatusCompleted
	}, 2*time.Second, time.Millisecond)
	runID := ctrl.Snapshot().RunID

	p := h.poller(ctrl)
	require.NoError(t, p.Tick(ctx))

	h.clock.Advance(time.Minute)
	h.backend.FailNext("SaveRun", apperrors.ErrUnavailable)
	require.ErrorIs(t, p.Tick(ctx), apperrors.ErrUnavailable)
	assert.Equal(t, domain.CallingStatusCompleted, ctrl.Snapshot().Status)

	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, 1, h.backend.SaveCount(runID))
	assert.Equal(t, domain.CallingStatusIdle, ctrl.Snapshot().Status)
}

func TestStatusErrorIsReturnedAndNothingChanges(t *testing.T) {
	h := newHarness()
	ctrl := h.controller(t)
	p := h.poller(ctrl)

	h.backend.FailNext("CallingStatus", apperrors.ErrUnavailable)
	require.ErrorIs(t, p.Tick(context.Background()), apperrors.ErrUnavailable)
	assert.Equal(t, domain.CallingStatusIdle, ctrl.Snapshot().Status)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	h := newHarness()
	ctrl := h.controller(t)
	p := h.poller(ctrl)
	p.interval = time.Millisecond

	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
