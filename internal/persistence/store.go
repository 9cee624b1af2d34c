package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/pkg/logger"
)

const (
	fieldCallingStatus = "calling_status"
	fieldCurrentIndex  = "current_index"
	fieldCallResults   = "call_results"
	fieldConnection    = "connection_status"
	fieldIsActive      = "is_active"
	fieldRunID         = "current_run_id"
	fieldRunUI         = "run_ui"
	fieldViewed        = "viewed_transcripts"
	fieldReady         = "ready_for_next_run"
	fieldSavedRuns     = "saved_runs"
)

var runStateFields = []string{
	fieldCallingStatus,
	fieldCurrentIndex,
	fieldCallResults,
	fieldConnection,
	fieldIsActive,
	fieldRunID,
	fieldRunUI,
}

// DefaultTTL is how long persisted run state stays valid.
const DefaultTTL = 24 * time.Hour

const maxSavedRuns = 100

// RunState is everything needed to resume a campaign view after a restart.
type RunState struct {
	CallingStatus domain.CallingStatus
	CurrentIndex  int
	Attempts      []domain.CallAttempt
	Connection    map[string]domain.ConnectionStatus
	IsActive      bool
	RunID         string
	AgentID       string
	StartTime     time.Time
	SavedAt       time.Time
}

type envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Value   json.RawMessage `json:"value"`
}

type runUI struct {
	AgentID   string    `json:"agent_id"`
	StartTime time.Time `json:"start_time"`
}

// Store persists per-campaign orchestrator state in a KV store. Every value
// carries the time it was written; values older than the ttl, and values
// that fail to decode, are deleted and treated as absent.
type Store struct {
	kv     repository.KVStore
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger

	ledgerMu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore constructs a Store over kv. Keys are namespaced by prefix.
func NewStore(kv repository.KVStore, prefix string, log *logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{
		kv:     kv,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: log.Named("persistence"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(campaignID, field string) string {
	if s.prefix == "" {
		return campaignID + ":" + field
	}
	return s.prefix + ":" + campaignID + ":" + field
}

func (s *Store) put(ctx context.Context, campaignID, field string, value any, savedAt time.Time, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", field, err)
	}
	payload, err := json.Marshal(envelope{SavedAt: savedAt.UTC(), Value: raw})
	if err != nil {
		return fmt.Errorf("persistence: marshal envelope %s: %w", field, err)
	}
	if err := s.kv.Set(ctx, s.key(campaignID, field), payload, ttl); err != nil {
		return fmt.Errorf("persistence: write %s: %w", field, err)
	}
	return nil
}

// get decodes a field into out. It reports false when the field is
// missing, expired or corrupt; the latter two are deleted.
func (s *Store) get(ctx context.Context, campaignID, field string, maxAge time.Duration, out any) (time.Time, bool, error) {
	key := s.key(campaignID, field)
	payload, err := s.kv.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("persistence: read %s: %w", field, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.SavedAt.IsZero() {
		s.logger.Warn("discarding corrupt persisted value", zap.String("key", key))
		return time.Time{}, false, s.drop(ctx, key)
	}
	if maxAge > 0 && s.now().Sub(env.SavedAt) > maxAge {
		s.logger.Debug("discarding expired persisted value", zap.String("key", key), zap.Time("saved_at", env.SavedAt))
		return time.Time{}, false, s.drop(ctx, key)
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		s.logger.Warn("discarding undecodable persisted value", zap.String("key", key), zap.Error(err))
		return time.Time{}, false, s.drop(ctx, key)
	}
	return env.SavedAt, true, nil
}

func (s *Store) drop(ctx context.Context, keys ...string) error {
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("persistence: delete: %w", err)
	}
	return nil
}

// SaveRunState writes every run-state field with a shared timestamp.
func (s *Store) SaveRunState(ctx context.Context, campaignID string, st RunState) error {
	now := s.now()
	status := st.CallingStatus
	if status == "" {
		status = domain.CallingStatusIdle
	}
	attempts := st.Attempts
	if attempts == nil {
		attempts = []domain.CallAttempt{}
	}
	conn := st.Connection
	if conn == nil {
		conn = map[string]domain.ConnectionStatus{}
	}

	fields := []struct {
		name  string
		value any
	}{
		{fieldCallingStatus, status},
		{fieldCurrentIndex, st.CurrentIndex},
		{fieldCallResults, attempts},
		{fieldConnection, conn},
		{fieldIsActive, st.IsActive},
		{fieldRunID, st.RunID},
		{fieldRunUI, runUI{AgentID: st.AgentID, StartTime: st.StartTime}},
	}
	for _, f := range fields {
		if err := s.put(ctx, campaignID, f.name, f.value, now, s.ttl); err != nil {
			return err
		}
	}
	return nil
}

// LoadRunState reads the persisted run state. Without a valid calling
// status the whole state is treated as idle and cleared; ok is false then.
func (s *Store) LoadRunState(ctx context.Context, campaignID string) (RunState, bool, error) {
	idle := RunState{CallingStatus: domain.CallingStatusIdle, Connection: map[string]domain.ConnectionStatus{}}

	var status domain.CallingStatus
	savedAt, ok, err := s.get(ctx, campaignID, fieldCallingStatus, s.ttl, &status)
	if err != nil {
		return idle, false, err
	}
	if !ok || !status.Valid() {
		if err := s.ClearRunState(ctx, campaignID); err != nil {
			return idle, false, err
		}
		return idle, false, nil
	}

	st := RunState{CallingStatus: status, SavedAt: savedAt}
	if _, _, err := s.get(ctx, campaignID, fieldCurrentIndex, s.ttl, &st.CurrentIndex); err != nil {
		return idle, false, err
	}
	if _, _, err := s.get(ctx, campaignID, fieldCallResults, s.ttl, &st.Attempts); err != nil {
		return idle, false, err
	}
	if _, _, err := s.get(ctx, campaignID, fieldConnection, s.ttl, &st.Connection); err != nil {
		return idle, false, err
	}
	if _, _, err := s.get(ctx, campaignID, fieldIsActive, s.ttl, &st.IsActive); err != nil {
		return idle, false, err
	}
	if _, _, err := s.get(ctx, campaignID, fieldRunID, s.ttl, &st.RunID); err != nil {
		return idle, false, err
	}
	var ui runUI
	if _, _, err := s.get(ctx, campaignID, fieldRunUI, s.ttl, &ui); err != nil {
		return idle, false, err
	}
	st.AgentID = ui.AgentID
	st.StartTime = ui.StartTime

	if st.Connection == nil {
		st.Connection = map[string]domain.ConnectionStatus{}
	}
	if st.CurrentIndex < 0 {
		st.CurrentIndex = 0
	}
	return st, true, nil
}

// ClearRunState removes every run-state field of a campaign.
func (s *Store) ClearRunState(ctx context.Context, campaignID string) error {
	keys := make([]string, 0, len(runStateFields))
	for _, f := range runStateFields {
		keys = append(keys, s.key(campaignID, f))
	}
	return s.drop(ctx, keys...)
}

// MarkTranscriptViewed adds a document to the viewed set.
func (s *Store) MarkTranscriptViewed(ctx context.Context, campaignID, documentID string) error {
	viewed, err := s.ViewedTranscripts(ctx, campaignID)
	if err != nil {
		return err
	}
	if viewed[documentID] {
		return nil
	}
	viewed[documentID] = true
	return s.put(ctx, campaignID, fieldViewed, viewed, s.now(), s.ttl)
}

// ViewedTranscripts returns the viewed-document set.
func (s *Store) ViewedTranscripts(ctx context.Context, campaignID string) (map[string]bool, error) {
	viewed := map[string]bool{}
	if _, _, err := s.get(ctx, campaignID, fieldViewed, s.ttl, &viewed); err != nil {
		return map[string]bool{}, err
	}
	if viewed == nil {
		viewed = map[string]bool{}
	}
	return viewed, nil
}

// SetReadyForNextRun records whether the view was reset after a saved run.
func (s *Store) SetReadyForNextRun(ctx context.Context, campaignID string, ready bool) error {
	if !ready {
		return s.drop(ctx, s.key(campaignID, fieldReady))
	}
	return s.put(ctx, campaignID, fieldReady, true, s.now(), s.ttl)
}

// ReadyForNextRun reports the flag set by SetReadyForNextRun.
func (s *Store) ReadyForNextRun(ctx context.Context, campaignID string) (bool, error) {
	var ready bool
	_, _, err := s.get(ctx, campaignID, fieldReady, s.ttl, &ready)
	return ready, err
}

// Ledger returns a RunLedger backed by this store.
func (s *Store) Ledger() repository.RunLedger {
	return ledger{s}
}

type ledger struct{ s *Store }

// IsSaved reports whether runID is in the campaign's saved-run list.
func (l ledger) IsSaved(ctx context.Context, campaignID, runID string) (bool, error) {
	runs, err := l.s.savedRuns(ctx, campaignID)
	if err != nil {
		return false, err
	}
	for _, id := range runs {
		if id == runID {
			return true, nil
		}
	}
	return false, nil
}

// MarkSaved appends the run to the saved-run list, keeping the newest entries.
func (l ledger) MarkSaved(ctx context.Context, rec domain.RunRecord) error {
	l.s.ledgerMu.Lock()
	defer l.s.ledgerMu.Unlock()

	runs, err := l.s.savedRuns(ctx, rec.CampaignID)
	if err != nil {
		return err
	}
	for _, id := range runs {
		if id == rec.RunID {
			return nil
		}
	}
	runs = append(runs, rec.RunID)
	if len(runs) > maxSavedRuns {
		runs = runs[len(runs)-maxSavedRuns:]
	}
	return l.s.put(ctx, rec.CampaignID, fieldSavedRuns, runs, l.s.now(), 0)
}

func (s *Store) savedRuns(ctx context.Context, campaignID string) ([]string, error) {
	var runs []string
	if _, _, err := s.get(ctx, campaignID, fieldSavedRuns, 0, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
