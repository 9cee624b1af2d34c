package live

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedLog struct {
	mu    sync.Mutex
	calls int
	next  func(n int) (backend.CallLog, error)
}

func (s *scriptedLog) CallLog(ctx context.Context, uniqueID string) (backend.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	rec, err := s.next(s.calls)
	rec.UniqueID = uniqueID
	return rec, err
}

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) add(ctx context.Context, up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, up)
}

func (u *updates) all() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update(nil), u.list...)
}

func (u *updates) final() (Update, bool) {
	for _, up := range u.all() {
		if up.Final {
			return up, true
		}
	}
	return Update{}, false
}

func newTracker(src backend.CallLogSource, ups *updates, timeout time.Duration) *Tracker {
	return New(src, nil, WithInterval(5*time.Millisecond), WithTimeout(timeout), WithUpdates(ups.add))
}

func TestSilentCallTimesOutAndStopsPolling(t *testing.T) {
	src := &scriptedLog{next: func(int) (backend.CallLog, error) {
		return backend.CallLog{IsActive: true, LeadStatus: "ringing"}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, 50*time.Millisecond)
	defer tr.Stop()

	tr.Track(context.Background(), "u1")
	require.Eventually(t, func() bool { return tr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	got, ok := ups.final()
	require.True(t, ok)
	assert.Equal(t, "u1", got.UniqueID)
	assert.Equal(t, domain.ConnectionNotConnected, got.Connection)
	assert.Len(t, ups.all(), 1)
}

func TestInactiveRecordEndsTrackingWithTranscript(t *testing.T) {
	src := &scriptedLog{next: func(int) (backend.CallLog, error) {
		return backend.CallLog{
			DocumentID: "doc-1",
			IsActive:   false,
			LeadStatus: "completed",
			Transcript: "AI: Hello\nAI: there\nUser: Hi",
		}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, time.Hour)
	defer tr.Stop()

	tr.Track(context.Background(), "u1")
	require.Eventually(t, func() bool { return tr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	got, ok := ups.final()
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionNotConnected, got.Connection)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, []domain.TranscriptLine{
		{Speaker: domain.SpeakerAgent, Text: "Hello there"},
		{Speaker: domain.SpeakerContact, Text: "Hi"},
	}, got.Transcript)

	lines, ok := tr.Transcript("u1")
	require.True(t, ok)
	assert.Len(t, lines, 2)
}

func TestActivityRearmsTimeout(t *testing.T) {
	src := &scriptedLog{next: func(n int) (backend.CallLog, error) {
		return backend.CallLog{
			IsActive:   true,
			LeadStatus: "ongoing",
			Transcript: "AI: " + strings.Repeat("a", n),
		}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, 100*time.Millisecond)

	tr.Track(context.Background(), "u1")
	time.Sleep(250 * time.Millisecond)

	_, final := ups.final()
	assert.False(t, final, "a call showing activity must not time out")
	assert.Equal(t, 1, tr.Active())

	tr.Stop()
	assert.Zero(t, tr.Active())

	list := ups.all()
	require.Len(t, list, 1)
	assert.Equal(t, domain.ConnectionConnected, list[0].Connection)
}

func TestTerminalLeadStatusStopsPolling(t *testing.T) {
	src := &scriptedLog{next: func(int) (backend.CallLog, error) {
		return backend.CallLog{IsActive: true, LeadStatus: "ended"}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, time.Hour)
	defer tr.Stop()

	tr.Track(context.Background(), "u1")
	require.Eventually(t, func() bool { return tr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Empty(t, ups.all())
}

func TestLookupErrorsKeepPolling(t *testing.T) {
	src := &scriptedLog{next: func(n int) (backend.CallLog, error) {
		if n < 3 {
			return backend.CallLog{}, apperrors.ErrUnavailable
		}
		return backend.CallLog{IsActive: false}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, time.Hour)
	defer tr.Stop()

	tr.Track(context.Background(), "u1")
	tr.Track(context.Background(), "u1")
	require.Eventually(t, func() bool { return tr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	got, ok := ups.final()
	require.True(t, ok)
	assert.Empty(t, got.Transcript)
}

func TestStopCancelsTimers(t *testing.T) {
	src := &scriptedLog{next: func(int) (backend.CallLog, error) {
		return backend.CallLog{IsActive: true, LeadStatus: "ringing"}, nil
	}}
	ups := &updates{}
	tr := newTracker(src, ups, time.Hour)

	tr.Track(context.Background(), "u1")
	tr.Track(context.Background(), "u2")
	require.Eventually(t, func() bool { return tr.Active() == 2 }, time.Second, time.Millisecond)

	tr.Stop()
	assert.Zero(t, tr.Active())
	_, ok := tr.Transcript("u1")
	assert.False(t, ok)
}
