package call

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/common"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// Service places ad-hoc calls outside a run and lists journaled attempts.
type Service struct {
	calls   backend.CallInitiator
	journal repository.AttemptJournal
}

// NewService builds the call service. journal may be nil when no journal
// is configured.
func NewService(calls backend.CallInitiator, journal repository.AttemptJournal) *Service {
	return &Service{calls: calls, journal: journal}
}

// TriggerCallInput encapsulates the arguments for a single call.
type TriggerCallInput struct {
	CampaignID string
	AgentID    string
	Name       string
	Phone      string
}

// TriggerCall places one call through the backend. Insufficient credits
// surface as apperrors.ErrInsufficientCredits.
func (s *Service) TriggerCall(ctx context.Context, input TriggerCallInput) (backend.CallResult, error) {
	if strings.TrimSpace(input.Phone) == "" {
		return backend.CallResult{}, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if input.AgentID == "" {
		return backend.CallResult{}, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}

	req := backend.CallRequest{
		CampaignID: input.CampaignID,
		AgentID:    input.AgentID,
		Contact:    domain.Contact{Name: input.Name, Phone: input.Phone},
		UniqueID:   uuid.NewString(),
	}
	res, err := s.calls.InitiateCall(ctx, req)
	if err != nil {
		return backend.CallResult{}, fmt.Errorf("call service: initiate call: %w", err)
	}
	if res.UniqueID == "" {
		res.UniqueID = req.UniqueID
	}
	return res, nil
}

// TriggerBatchInput starts server-side calling of a contact list.
type TriggerBatchInput struct {
	CampaignID string
	AgentID    string
	Contacts   []domain.Contact
}

// TriggerBatch hands a deduplicated contact list to the backend.
func (s *Service) TriggerBatch(ctx context.Context, input TriggerBatchInput) (backend.BatchResult, error) {
	if input.CampaignID == "" {
		return backend.BatchResult{}, fmt.Errorf("%w: campaign id is required", apperrors.ErrValidation)
	}
	if input.AgentID == "" {
		return backend.BatchResult{}, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}

	contacts := make([]domain.Contact, 0, len(input.Contacts))
	for _, c := range input.Contacts {
		if strings.TrimSpace(c.Phone) != "" {
			contacts = append(contacts, c)
		}
	}
	contacts = domain.UniqueContacts(contacts)
	if len(contacts) == 0 {
		return backend.BatchResult{}, fmt.Errorf("%w: no dialable contacts", apperrors.ErrValidation)
	}

	res, err := s.calls.InitiateBatch(ctx, backend.BatchRequest{
		CampaignID: input.CampaignID,
		AgentID:    input.AgentID,
		Contacts:   contacts,
	})
	if err != nil {
		return backend.BatchResult{}, fmt.Errorf("call service: initiate batch: %w", err)
	}
	return res, nil
}

// ListAttemptsResult is one page of journaled attempts.
type ListAttemptsResult struct {
	Attempts []domain.CallAttempt
	// NextPage is an opaque token; empty on the last page.
	NextPage string
}

// ListAttempts pages through the attempts journaled for a run.
func (s *Service) ListAttempts(ctx context.Context, campaignID, runID string, limit int, pageToken string) (ListAttemptsResult, error) {
	if s.journal == nil {
		return ListAttemptsResult{}, fmt.Errorf("%w: attempt journal is not configured", apperrors.ErrUnavailable)
	}
	if campaignID == "" || runID == "" {
		return ListAttemptsResult{}, fmt.Errorf("%w: campaign id and run id are required", apperrors.ErrValidation)
	}
	switch {
	case limit <= 0:
		limit = defaultAttemptLimit
	case limit > maxAttemptLimit:
		limit = maxAttemptLimit
	}

	state, err := common.DecodeCursor(pageToken)
	if err != nil {
		return ListAttemptsResult{}, err
	}
	attempts, next, err := s.journal.ListAttempts(ctx, campaignID, runID, limit, state)
	if err != nil {
		return ListAttemptsResult{}, fmt.Errorf("call service: list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []domain.CallAttempt{}
	}
	return ListAttemptsResult{Attempts: attempts, NextPage: common.EncodeCursor(next)}, nil
}
