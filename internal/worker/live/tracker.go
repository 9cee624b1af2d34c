package live

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
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Update reports a change in one tracked call.
type Update struct {
	UniqueID   string
	DocumentID string
	Connection domain.ConnectionStatus
	LeadStatus string
	Transcript []domain.TranscriptLine
	// Final is set on the last update of a call.
	Final bool
}

// Tracker polls the call log of in-flight calls and classifies them as
// connected or not connected.
type Tracker struct {
	source   backend.CallLogSource
	interval time.Duration
	timeout  time.Duration
	onUpdate func(ctx context.Context, u Update)
	logger   *logger.Logger

	polls  *scheduler.Group
	timers *scheduler.Group

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	id string

	mu          sync.Mutex
	fingerprint string
	armed       uint64
	expired     bool
	finished    bool
	connected   bool
	documentID  string
	lines       []domain.TranscriptLine
}

// Option customises the tracker.
type Option func(*Tracker)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithTimeout overrides how long a call may show no activity.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithUpdates sets the callback receiving connection changes.
func WithUpdates(fn func(ctx context.Context, u Update)) Option {
	return func(t *Tracker) { t.onUpdate = fn }
}

// New constructs a tracker with no calls.
func New(source backend.CallLogSource, log *logger.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	t := &Tracker{
		source:   source,
		interval: 2 * time.Second,
		timeout:  40 * time.Second,
		logger:   log.Named("live"),
		polls:    scheduler.NewGroup(),
		timers:   scheduler.NewGroup(),
		calls:    make(map[string]*call),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track starts polling uniqueID unless it is already tracked.
func (t *Tracker) Track(ctx context.Context, uniqueID string) {
	if uniqueID == "" || t.polls.Has(uniqueID) {
		return
	}
	c := &call{id: uniqueID}

	t.mu.Lock()
	t.calls[uniqueID] = c
	t.mu.Unlock()

	t.arm(ctx, c)
	t.polls.Add(uniqueID, scheduler.Every(ctx, "live.poll", t.interval, t.logger, t.poll(c)))
}

// Untrack stops polling uniqueID.
func (t *Tracker) Untrack(uniqueID string) {
	t.polls.Remove(uniqueID)
	t.timers.Remove(uniqueID)
}

// Active counts calls still being polled.
func (t *Tracker) Active() int {
	return t.polls.Len()
}

// Transcript returns the last parsed transcript of a tracked call.
func (t *Tracker) Transcript(uniqueID string) ([]domain.TranscriptLine, bool) {
	t.mu.Lock()
	c, ok := t.calls[uniqueID]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TranscriptLine(nil), c.lines...), true
}

// Stop cancels every poll loop and timeout timer and forgets all calls.
func (t *Tracker) Stop() {
	t.polls.StopAll()
	t.timers.StopAll()

	t.mu.Lock()
	t.calls = make(map[string]*call)
	t.mu.Unlock()
}

func (t *Tracker) arm(ctx context.Context, c *call) {
	c.mu.Lock()
	c.armed++
	gen := c.armed
	c.mu.Unlock()

	t.timers.Add(c.id, scheduler.After(ctx, "live.timeout", t.timeout, func(ctx context.Context) {
		t.expire(ctx, c, gen)
	}))
}

func (t *Tracker) expire(ctx context.Context, c *call, gen uint64) {
	c.mu.Lock()
	if c.armed != gen || c.finished {
		c.mu.Unlock()
		return
	}
	c.expired = true
	c.finished = true
	u := Update{UniqueID: c.id, DocumentID: c.documentID, Connection: domain.ConnectionNotConnected, Final: true}
	c.mu.Unlock()

	t.logger.Debug("call timed out without activity", zap.String("unique_id", c.id), zap.Duration("timeout", t.timeout))
	t.emit(ctx, u)
}

func (t *Tracker) poll(c *call) scheduler.Task {
	return func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("call.unique_id", c.id))

		c.mu.Lock()
		expired := c.expired
		c.mu.Unlock()
		if expired {
			t.timers.Remove(c.id)
			return scheduler.ErrStop
		}

		rec, err := t.source.CallLog(ctx, c.id)
		if err != nil {
			t.logger.Debug("call log lookup failed", zap.String("unique_id", c.id), zap.Error(err))
			return nil
		}

		lines := domain.ParseTranscript(rec.Transcript)

		if !rec.IsActive {
			c.mu.Lock()
			c.finished = true
			c.documentID = rec.DocumentID
			c.lines = lines
			c.mu.Unlock()

			t.timers.Remove(c.id)
			t.emit(ctx, Update{
				UniqueID:   c.id,
				DocumentID: rec.DocumentID,
				Connection: domain.ConnectionNotConnected,
				LeadStatus: rec.LeadStatus,
				Transcript: lines,
				Final:      true,
			})
			return scheduler.ErrStop
		}

		fp := fingerprint(rec)
		c.mu.Lock()
		changed := fp != c.fingerprint
		c.fingerprint = fp
		c.documentID = rec.DocumentID
		c.lines = lines
		connect := !c.connected && (rec.LeadStatus == string(domain.CallLogOngoing) || rec.LeadStatus == string(domain.CallLogConnected))
		if connect {
			c.connected = true
		}
		c.mu.Unlock()

		if changed {
			t.arm(ctx, c)
		}
		if connect {
			t.emit(ctx, Update{
				UniqueID:   c.id,
				DocumentID: rec.DocumentID,
				Connection: domain.ConnectionConnected,
				LeadStatus: rec.LeadStatus,
				Transcript: lines,
			})
		}

		if rec.Terminal() {
			c.mu.Lock()
			c.finished = true
			c.mu.Unlock()
			t.timers.Remove(c.id)
			return scheduler.ErrStop
		}
		return nil
	}
}

func (t *Tracker) emit(ctx context.Context, u Update) {
	if t.onUpdate != nil {
		t.onUpdate(ctx, u)
	}
}

func fingerprint(rec backend.CallLog) string {
	return fmt.Sprintf("%s|%d|%d", rec.LeadStatus, len(rec.Transcript), rec.Duration)
}
