package run

import (
	"time"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/persistence"
)

// NoticeKind classifies operator-facing notices.
type NoticeKind string

const (
	NoticeInsufficientCredits NoticeKind = "insufficient_credits"
	NoticeDialerError         NoticeKind = "dialer_error"
	NoticeStopFailed          NoticeKind = "stop_failed"
)

// Notice is a one-off message for the operator.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// State is the controller-owned view of a campaign's current run.
type State struct {
	CampaignID      string
	Status          domain.CallingStatus
	RunID           string
	RunStatus       domain.RunStatus
	AgentID         string
	StartTime       time.Time
	EndTime         time.Time
	CurrentIndex    int
	TotalContacts   int
	Attempts        []domain.CallAttempt
	Connection      map[string]domain.ConnectionStatus
	IsActive        bool
	BackendProgress backend.Progress
	Notice          *Notice
	ReadyForNextRun bool
}

// Progress is the share of contacts dialed so far, never above 1.
func (s State) Progress() float64 {
	return domain.Progress(s.TotalContacts, len(s.Attempts))
}

// Attempt returns the attempt with the given unique id.
func (s State) Attempt(uniqueID string) (domain.CallAttempt, bool) {
	for _, a := range s.Attempts {
		if a.UniqueID == uniqueID {
			return a, true
		}
	}
	return domain.CallAttempt{}, false
}

func (s State) clone() State {
	out := s
	out.Attempts = append([]domain.CallAttempt(nil), s.Attempts...)
	out.Connection = make(map[string]domain.ConnectionStatus, len(s.Connection))
	for k, v := range s.Connection {
		out.Connection[k] = v
	}
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	return out
}

func (s State) persisted() persistence.RunState {
	return persistence.RunState{
		CallingStatus: s.Status,
		CurrentIndex:  s.CurrentIndex,
		Attempts:      s.Attempts,
		Connection:    s.Connection,
		IsActive:      s.IsActive,
		RunID:         s.RunID,
		AgentID:       s.AgentID,
		StartTime:     s.StartTime,
	}
}

func idleState(campaignID string) State {
	return State{
		CampaignID: campaignID,
		Status:     domain.CallingStatusIdle,
		Connection: map[string]domain.ConnectionStatus{},
	}
}

// ProposalKind names a transition a poller may ask the controller to apply.
type ProposalKind string

const (
	// ProposeBackendInactive reports that the backend no longer runs RunID.
	ProposeBackendInactive ProposalKind = "backend_inactive"
	// ProposeConnectionUpdate reports a new connection status for UniqueID.
	ProposeConnectionUpdate ProposalKind = "connection_update"
	// ProposeProgressUpdate carries the backend's aggregate status.
	ProposeProgressUpdate ProposalKind = "progress_update"
	// ProposeRunSaved reports that RunID's history was recorded.
	ProposeRunSaved ProposalKind = "run_saved"
)

// Proposal is a transition submitted by a poller.
type Proposal struct {
	Kind          ProposalKind
	RunID         string
	UniqueID      string
	Connection    domain.ConnectionStatus
	TranscriptRef string
	Active        bool
	Progress      backend.Progress
}
