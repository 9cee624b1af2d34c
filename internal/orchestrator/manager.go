package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/campaign-dialer/internal/scheduler"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Manager hosts one session per open campaign. A campaign lease keeps two
// processes from driving the same campaign.
type Manager struct {
	deps   Deps
	leases concurrency.Leases
	owner  string
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	renewals *scheduler.Group
}

// NewManager constructs a manager with no open sessions. Leases default to
// process-local ones.
func NewManager(deps Deps, leases concurrency.Leases) *Manager {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if leases == nil {
		leases = concurrency.NewLocalLeases(0)
	}
	return &Manager{
		deps:     deps,
		leases:   leases,
		owner:    uuid.NewString(),
		logger:   log.Named("orchestrator"),
		sessions: make(map[string]*Session),
		renewals: scheduler.NewGroup(),
	}
}

// Open returns the session of campaignID, opening it on first use.
func (m *Manager) Open(ctx context.Context, campaignID string) (*Session, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", apperrors.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[campaignID]; ok {
		return s, nil
	}

	ok, err := m.leases.Acquire(ctx, campaignID, m.owner)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s is open in another process", apperrors.ErrConflict, campaignID)
	}

	s := NewSession(m.deps, campaignID)
	if err := s.Open(ctx); err != nil {
		s.Close()
		m.release(campaignID)
		return nil, err
	}

	m.sessions[campaignID] = s
	m.renewals.Add(campaignID, scheduler.Every(s.ctx, "lease.refresh", m.leases.TTL()/3, m.logger, m.renew(campaignID)))
	m.logger.Info("campaign opened", zap.String("campaign_id", campaignID))
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(campaignID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s is not open", apperrors.ErrNotFound, campaignID)
	}
	return s, nil
}

// Sessions lists the open campaign ids.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close closes one session and releases its lease.
func (m *Manager) Close(campaignID string) error {
	m.mu.Lock()
	s, ok := m.sessions[campaignID]
	delete(m.sessions, campaignID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: campaign %s is not open", apperrors.ErrNotFound, campaignID)
	}

	m.renewals.Remove(campaignID)
	s.Close()
	m.release(campaignID)
	return nil
}

// CloseAll closes every session concurrently.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.renewals.StopAll()

	g, _ := errgroup.WithContext(ctx)
	for id, s := range sessions {
		id, s := id, s
		g.Go(func() error {
			s.Close()
			m.release(id)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) renew(campaignID string) scheduler.Task {
	return func(ctx context.Context) error {
		ok, err := m.leases.Refresh(ctx, campaignID, m.owner)
		if err != nil {
			return err
		}
		if !ok {
			m.logger.Warn("campaign lease lost", zap.String("campaign_id", campaignID))
		}
		return nil
	}
}

func (m *Manager) release(campaignID string) {
	if err := m.leases.Release(context.Background(), campaignID, m.owner); err != nil {
		m.logger.Warn("release campaign lease", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}
