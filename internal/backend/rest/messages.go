package rest

import (
	"time"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
)

type contactPayload struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

func toContactPayload(c domain.Contact) contactPayload {
	return contactPayload{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
}

func (c contactPayload) toDomain() domain.Contact {
	return domain.Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
}

type initiateCallRequest struct {
	CampaignID string         `json:"campaignId"`
	RunID      string         `json:"runId,omitempty"`
	AgentID    string         `json:"agentId"`
	Contact    contactPayload `json:"contact"`
	Phone      string         `json:"phone"`
	UniqueID   string         `json:"uniqueid"`
}

type initiateCallResponse struct {
	Success  bool   `json:"success"`
	UniqueID string `json:"uniqueid"`
	Message  string `json:"message"`
}

type batchRequest struct {
	AgentID  string           `json:"agentId"`
	Contacts []contactPayload `json:"contacts"`
}

type batchResponse struct {
	Success  bool   `json:"success"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message"`
}

type startCallingRequest struct {
	AgentID string `json:"agentId"`
}

type startCallingResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId"`
}

type stopCallingRequest struct {
	RunID string `json:"runId,omitempty"`
}

type callingStatusResponse struct {
	IsActive bool   `json:"isActive"`
	RunID    string `json:"runId"`
	Progress struct {
		Total      int `json:"total"`
		Completed  int `json:"completed"`
		InProgress int `json:"inProgress"`
	} `json:"progress"`
	AllCallsFinalized bool `json:"allCallsFinalized"`
}

func (r callingStatusResponse) toBackend() backend.CallingStatus {
	return backend.CallingStatus{
		IsActive: r.IsActive,
		RunID:    r.RunID,
		Progress: backend.Progress{
			Total:      r.Progress.Total,
			Completed:  r.Progress.Completed,
			InProgress: r.Progress.InProgress,
		},
		AllCallsFinalized: r.AllCallsFinalized,
	}
}

type callLogResponse struct {
	UniqueID   string    `json:"uniqueid"`
	DocumentID string    `json:"documentId"`
	IsActive   bool      `json:"isActive"`
	LeadStatus string    `json:"leadStatus"`
	Transcript string    `json:"transcript"`
	Duration   float64   `json:"duration"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (r callLogResponse) toBackend() backend.CallLog {
	return backend.CallLog{
		UniqueID:   r.UniqueID,
		DocumentID: r.DocumentID,
		IsActive:   r.IsActive,
		LeadStatus: r.LeadStatus,
		Transcript: r.Transcript,
		Duration:   seconds(r.Duration),
		UpdatedAt:  r.UpdatedAt,
	}
}

type mergedCallPayload struct {
	DocumentID string    `json:"documentId"`
	ContactID  string    `json:"contactId"`
	UniqueID   string    `json:"uniqueid"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status"`
	Duration   float64   `json:"duration"`
	Transcript string    `json:"transcript"`
	LeadStatus string    `json:"leadStatus"`
	StartedAt  time.Time `json:"time"`
}

func (p mergedCallPayload) toDomain() domain.MergedCallLogEntry {
	return domain.MergedCallLogEntry{
		DocumentID:  p.DocumentID,
		ContactID:   p.ContactID,
		UniqueID:    p.UniqueID,
		Name:        p.Name,
		Phone:       p.Phone,
		Status:      domain.CallLogStatus(p.Status),
		Duration:    seconds(p.Duration),
		Transcript:  p.Transcript,
		Disposition: domain.ParseDisposition(p.LeadStatus),
		StartedAt:   p.StartedAt,
	}
}

type callPageResponse struct {
	Data   []mergedCallPayload `json:"data"`
	Totals struct {
		TotalCalls    int     `json:"totalCalls"`
		Connected     int     `json:"totalConnected"`
		Missed        int     `json:"totalNotConnected"`
		TotalDuration float64 `json:"totalDuration"`
	} `json:"totals"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
		TotalPages  int `json:"totalPages"`
		TotalItems  int `json:"totalItems"`
	} `json:"pagination"`
}

func (r callPageResponse) toBackend() backend.CallPage {
	page := backend.CallPage{
		Entries: make([]domain.MergedCallLogEntry, 0, len(r.Data)),
		Totals: backend.Totals{
			TotalCalls:    r.Totals.TotalCalls,
			Connected:     r.Totals.Connected,
			Missed:        r.Totals.Missed,
			TotalDuration: seconds(r.Totals.TotalDuration),
		},
		Pagination: backend.Pagination{
			Page:       r.Pagination.CurrentPage,
			TotalPages: r.Pagination.TotalPages,
			TotalItems: r.Pagination.TotalItems,
		},
	}
	for _, p := range r.Data {
		page.Entries = append(page.Entries, p.toDomain())
	}
	return page
}

type transcriptResponse struct {
	DocumentID string `json:"documentId"`
	Transcript string `json:"transcript"`
}

type runRecordPayload struct {
	RunID     string    `json:"runId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Status    string    `json:"status"`
	Stats     struct {
		TotalContacts     int     `json:"totalContacts"`
		SuccessfulCalls   int     `json:"successfulCalls"`
		FailedCalls       int     `json:"failedCalls"`
		TotalCallDuration float64 `json:"totalCallDuration"`
	} `json:"stats"`
}

func toRunRecordPayload(rec domain.RunRecord) runRecordPayload {
	p := runRecordPayload{
		RunID:     rec.RunID,
		StartTime: rec.StartTime,
		EndTime:   rec.EndTime,
		Status:    string(rec.Status),
	}
	p.Stats.TotalContacts = rec.Stats.TotalContacts
	p.Stats.SuccessfulCalls = rec.Stats.SuccessfulCalls
	p.Stats.FailedCalls = rec.Stats.FailedCalls
	p.Stats.TotalCallDuration = rec.Stats.TotalCallDuration.Seconds()
	return p
}

func (p runRecordPayload) toDomain(campaignID string) domain.RunRecord {
	return domain.RunRecord{
		CampaignID: campaignID,
		RunID:      p.RunID,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		Status:     domain.RunStatus(p.Status),
		Stats: domain.RunStats{
			TotalContacts:     p.Stats.TotalContacts,
			SuccessfulCalls:   p.Stats.SuccessfulCalls,
			FailedCalls:       p.Stats.FailedCalls,
			TotalCallDuration: seconds(p.Stats.TotalCallDuration),
		},
	}
}

type runHistoryResponse struct {
	Runs []runRecordPayload `json:"runs"`
}

type campaignResponse struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	GroupIDs []string `json:"groupIds"`
	AgentIDs []string `json:"agentIds"`
	IsActive bool     `json:"isRunning"`
}

type groupPayload struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	ContactCount int    `json:"contactsCount"`
}

type groupsResponse struct {
	Groups []groupPayload `json:"data"`
}

type contactsResponse struct {
	Contacts []contactPayload `json:"data"`
}

type agentPayload struct {
	ID   string `json:"_id"`
	Name string `json:"agentName"`
}

type agentsResponse struct {
	Agents []agentPayload `json:"data"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
