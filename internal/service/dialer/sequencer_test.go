package dialer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

type fakeInitiator struct {
	mu       sync.Mutex
	requests []backend.CallRequest
	errs     map[string]error
}

func (f *fakeInitiator) InitiateCall(ctx context.Context, req backend.CallRequest) (backend.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Contact.Phone]; err != nil {
		return backend.CallResult{}, err
	}
	return backend.CallResult{Success: true, UniqueID: req.UniqueID}, nil
}

func (f *fakeInitiator) InitiateBatch(ctx context.Context, req backend.BatchRequest) (backend.BatchResult, error) {
	return backend.BatchResult{}, nil
}

type recorder struct {
	sleeps []time.Duration
	steps  []Step
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func (r *recorder) report(s Step) {
	r.steps = append(r.steps, s)
}

var testCfg = config.DialerConfig{
	InterCallDelay: 2 * time.Second,
	SettleDelay:    time.Second,
	RecencyWindow:  30 * time.Second,
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("uid-%d", n)
	}
}

func newTestSequencer(calls backend.CallInitiator, rec *recorder) *Sequencer {
	return NewSequencer(calls, testCfg, nil, WithSleep(rec.sleep), WithIDGenerator(sequentialIDs()))
}

func contacts(phones ...string) []domain.Contact {
	out := make([]domain.Contact, 0, len(phones))
	for i, p := range phones {
		out = append(out, domain.Contact{ID: fmt.Sprint(i), Name: "C" + p, Phone: p})
	}
	return out
}

func TestThreeContactsProduceThreeUniqueAttempts(t *testing.T) {
	calls := &fakeInitiator{}
	rec := &recorder{}
	seq := newTestSequencer(calls, rec)

	res, err := seq.Run(context.Background(), Input{
		CampaignID: "c1",
		RunID:      "r1",
		AgentID:    "a1",
		Contacts:   contacts("+1", "+2", "+3"),
		Report:     rec.report,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, res.Next)

	ids := map[string]bool{}
	for _, req := range calls.requests {
		assert.Equal(t, "a1", req.AgentID)
		assert.Equal(t, "r1", req.RunID)
		ids[req.UniqueID] = true
	}
	assert.Len(t, ids, 3)

	var total time.Duration
	for _, d := range rec.sleeps {
		total += d
	}
	assert.Equal(t, 9*time.Second, total, "each attempt waits inter-call plus settle delay")

	require.Len(t, rec.steps, 3)
	for i, s := range rec.steps {
		require.NotNil(t, s.Attempt)
		assert.Equal(t, i+1, s.Next)
		assert.Equal(t, domain.ConnectionChecking, s.Attempt.ConnectionStatus)
	}
}

func TestDuplicateContactIsCalledOnce(t *testing.T) {
	calls := &fakeInitiator{}
	rec := &recorder{}
	seq := newTestSequencer(calls, rec)

	list := []domain.Contact{
		{Phone: "+911234567890", Name: "A"},
		{Phone: "+91 12345 67890", Name: " a "},
	}
	res, err := seq.Run(context.Background(), Input{CampaignID: "c1", Contacts: list})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, calls.requests, 1)
}

func TestPriorAttemptsAndRecentResultsAreSkipped(t *testing.T) {
	calls := &fakeInitiator{}
	rec := &recorder{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := NewSequencer(calls, testCfg, nil, WithSleep(rec.sleep), WithClock(func() time.Time { return now }))

	list := contacts("+1", "+2", "+3")
	res, err := seq.Run(context.Background(), Input{
		Contacts: list,
		Prior:    []domain.CallAttempt{{Contact: list[0], UniqueID: "old"}},
		Observed: func(key string) (time.Time, bool) {
			switch key {
			case list[1].DedupKey():
				return now.Add(-10 * time.Second), true
			case list[2].DedupKey():
				return now.Add(-31 * time.Second), true
			}
			return time.Time{}, false
		},
		Report: rec.report,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, calls.requests, 1)
	assert.Equal(t, "+3", calls.requests[0].Contact.Phone)
	assert.Len(t, rec.sleeps, 2, "skipped contacts do not wait")
}

func TestResumeFromIndex(t *testing.T) {
	calls := &fakeInitiator{}
	rec := &recorder{}
	seq := newTestSequencer(calls, rec)

	res, err := seq.Run(context.Background(), Input{Contacts: contacts("+1", "+2", "+3"), StartIndex: 2})
	require.NoError(t, err)
	require.Len(t, calls.requests, 1)
	assert.Equal(t, "+3", calls.requests[0].Contact.Phone)
	assert.Equal(t, 3, res.Next)
}

func TestCancelDuringDelayKeepsPosition(t *testing.T) {
	calls := &fakeInitiator{}
	ctx, cancel := context.WithCancel(context.Background())
	seq := NewSequencer(calls, testCfg, nil, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res, err := seq.Run(ctx, Input{Contacts: contacts("+1", "+2", "+3")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Next)
	assert.Len(t, calls.requests, 1)
}

func TestInsufficientCreditsAbortsWithoutConsumingContact(t *testing.T) {
	calls := &fakeInitiator{errs: map[string]error{"+2": fmt.Errorf("%w: top up", apperrors.ErrInsufficientCredits)}}
	rec := &recorder{}
	seq := newTestSequencer(calls, rec)

	res, err := seq.Run(context.Background(), Input{Contacts: contacts("+1", "+2", "+3"), Report: rec.report})
	require.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
	assert.Equal(t, 1, res.Next)
	assert.Len(t, rec.steps, 1)
}

func TestFailedInitiationIsRecordedAndLoopContinues(t *testing.T) {
	calls := &fakeInitiator{errs: map[string]error{"+1": apperrors.ErrUnavailable}}
	rec := &recorder{}
	seq := newTestSequencer(calls, rec)

	res, err := seq.Run(context.Background(), Input{Contacts: contacts("+1", "+2"), Report: rec.report})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, rec.steps, 2)
	assert.False(t, rec.steps[0].Attempt.Success)
	assert.Equal(t, domain.ConnectionNotConnected, rec.steps[0].Attempt.ConnectionStatus)
	assert.NotEmpty(t, rec.steps[0].Attempt.Error)
	assert.True(t, rec.steps[1].Attempt.Success)
}
