package domain

import (
	"strconv"
	"strings"
	"time"
)

// CallLogStatus is the backend-reported state of a merged call log entry.
type CallLogStatus string

const (
	CallLogRinging      CallLogStatus = "ringing"
	CallLogOngoing      CallLogStatus = "ongoing"
	CallLogConnected    CallLogStatus = "connected"
	CallLogCompleted    CallLogStatus = "completed"
	CallLogMissed       CallLogStatus = "missed"
	CallLogNotConnected CallLogStatus = "not_connected"
	CallLogFailed       CallLogStatus = "failed"
)

// IsConnected reports whether the call counts as answered.
func (s CallLogStatus) IsConnected() bool {
	return s == CallLogConnected || s == CallLogCompleted
}

// IsMissed reports whether the call counts as missed. not_connected and
// failed count as missed too.
func (s CallLogStatus) IsMissed() bool {
	return s == CallLogMissed || s == CallLogNotConnected || s == CallLogFailed
}

// InProgress reports whether the call has not reached an outcome yet.
func (s CallLogStatus) InProgress() bool {
	return s == CallLogRinging || s == CallLogOngoing
}

// Disposition is the lead tag assigned after a conversation.
type Disposition string

const (
	DispositionInterested    Disposition = "interested"
	DispositionNotInterested Disposition = "not interested"
	DispositionMaybe         Disposition = "maybe"
	DispositionDefault       Disposition = "default"
)

// ParseDisposition maps free-form backend tags onto the known dispositions.
func ParseDisposition(raw string) Disposition {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "_", " "))) {
	case "interested":
		return DispositionInterested
	case "not interested", "notinterested":
		return DispositionNotInterested
	case "maybe":
		return DispositionMaybe
	default:
		return DispositionDefault
	}
}

// MergedCallLogEntry is a call record combining local attempts with
// backend history.
type MergedCallLogEntry struct {
	DocumentID  string        `json:"document_id,omitempty"`
	ContactID   string        `json:"contact_id,omitempty"`
	UniqueID    string        `json:"unique_id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Phone       string        `json:"phone"`
	Status      CallLogStatus `json:"status"`
	Duration    time.Duration `json:"duration"`
	Transcript  string        `json:"transcript,omitempty"`
	Disposition Disposition   `json:"disposition"`
	StartedAt   time.Time     `json:"started_at"`
}

// IdentityKey is stable across paginated fetches: documentId, then
// contactId, then phone plus start time.
func (e MergedCallLogEntry) IdentityKey() string {
	if e.DocumentID != "" {
		return "doc:" + e.DocumentID
	}
	if e.ContactID != "" {
		return "contact:" + e.ContactID
	}
	return "phone:" + NormalizePhone(e.Phone) + "@" + strconv.FormatInt(e.StartedAt.UnixMilli(), 10)
}

// DedupKey is the contact dedup key this entry was dialed under.
func (e MergedCallLogEntry) DedupKey() string {
	return Contact{Name: e.Name, Phone: e.Phone}.DedupKey()
}
