package backend

import (
	"context"
	"time"

	"github.com/acme/campaign-dialer/internal/domain"
)

// CallRequest asks the dialer to place one call. UniqueID is chosen by the
// caller and correlates the local attempt with the backend call record.
type CallRequest struct {
	CampaignID string
	RunID      string
	AgentID    string
	Contact    domain.Contact
	UniqueID   string
}

// CallResult is the dialer's answer to a call request.
type CallResult struct {
	Success  bool
	UniqueID string
	Message  string
}

// BatchRequest starts calling a whole contact list server side.
type BatchRequest struct {
	CampaignID string
	AgentID    string
	Contacts   []domain.Contact
}

// BatchResult reports how many calls the backend accepted.
type BatchResult struct {
	Success  bool
	Accepted int
	Message  string
}

// Progress counters reported by the calling-status endpoint.
type Progress struct {
	Total      int
	Completed  int
	InProgress int
}

// CallingStatus is the aggregate status of a campaign's current run.
type CallingStatus struct {
	IsActive          bool
	RunID             string
	Progress          Progress
	AllCallsFinalized bool
}

// CallLog is the backend's record of a single call, looked up by uniqueId.
type CallLog struct {
	UniqueID   string
	DocumentID string
	IsActive   bool
	LeadStatus string
	Transcript string
	Duration   time.Duration
	UpdatedAt  time.Time
}

// Terminal reports whether the lead status ends live tracking.
func (l CallLog) Terminal() bool {
	switch l.LeadStatus {
	case "completed", "ended", "failed":
		return true
	}
	return false
}

// PageQuery selects one page of call records.
type PageQuery struct {
	CampaignID string
	RunID      string
	Page       int
	Limit      int
}

// Totals are the running totals returned next to a page of call records.
type Totals struct {
	TotalCalls    int           `json:"total_calls"`
	Connected     int           `json:"connected"`
	Missed        int           `json:"missed"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// CallPage is one page of merged call log entries.
type CallPage struct {
	Entries    []domain.MergedCallLogEntry
	Totals     Totals
	Pagination Pagination
}

// Transcript is a stored conversation transcript.
type Transcript struct {
	DocumentID string
	Text       string
}

// CallInitiator places single calls and batch campaign calls.
type CallInitiator interface {
	InitiateCall(ctx context.Context, req CallRequest) (CallResult, error)
	InitiateBatch(ctx context.Context, req BatchRequest) (BatchResult, error)
}

// RunLifecycle opens and closes runs on the backend.
type RunLifecycle interface {
	StartCalling(ctx context.Context, campaignID, agentID string) (string, error)
	StopCalling(ctx context.Context, campaignID, runID string) error
}

// StatusSource reports aggregate run status.
type StatusSource interface {
	CallingStatus(ctx context.Context, campaignID string) (CallingStatus, error)
}

// CallLogSource looks up a single call.
type CallLogSource interface {
	CallLog(ctx context.Context, uniqueID string) (CallLog, error)
}

// MergedCallSource pages through call records.
type MergedCallSource interface {
	MergedCalls(ctx context.Context, q PageQuery) (CallPage, error)
	CallLogsDashboard(ctx context.Context, q PageQuery) (CallPage, error)
}

// TranscriptSource fetches transcripts by document id.
type TranscriptSource interface {
	Transcript(ctx context.Context, documentID string) (Transcript, error)
}

// HistoryStore saves and lists run summaries. SaveRun is idempotent per runId
// on the backend side.
type HistoryStore interface {
	SaveRun(ctx context.Context, rec domain.RunRecord) error
	RunHistory(ctx context.Context, campaignID string) ([]domain.RunRecord, error)
}

// Directory exposes the read-only campaign, group, contact and agent data.
type Directory interface {
	Campaign(ctx context.Context, campaignID string) (domain.Campaign, error)
	Groups(ctx context.Context, campaignID string) ([]domain.Group, error)
	GroupContacts(ctx context.Context, groupID string) ([]domain.Contact, error)
	Agents(ctx context.Context, campaignID string) ([]domain.Agent, error)
}

// Backend is the full collaborator surface the orchestrator consumes.
type Backend interface {
	CallInitiator
	RunLifecycle
	StatusSource
	CallLogSource
	MergedCallSource
	TranscriptSource
	HistoryStore
	Directory
}
