package domain

import "time"

// CallingStatus enumerates the states of the run controller.
type CallingStatus string

const (
	CallingStatusIdle      CallingStatus = "idle"
	CallingStatusCalling   CallingStatus = "calling"
	CallingStatusPaused    CallingStatus = "paused"
	CallingStatusCompleted CallingStatus = "completed"
)

// Valid reports whether s is a known calling status.
func (s CallingStatus) Valid() bool {
	switch s {
	case CallingStatusIdle, CallingStatusCalling, CallingStatusPaused, CallingStatusCompleted:
		return true
	}
	return false
}

// RunStatus enumerates lifecycle states of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
)

// ConnectionStatus is the heuristic answered/not-answered classification
// of a dialed call.
type ConnectionStatus string

const (
	ConnectionChecking     ConnectionStatus = "checking"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionNotConnected ConnectionStatus = "not_connected"
)

// Run is one execution of the dialer over a campaign's contacts.
type Run struct {
	ID         string
	CampaignID string
	StartTime  time.Time
	EndTime    *time.Time
	Status     RunStatus
	Stats      RunStats
}

// RunStats aggregates the outcome of a run.
type RunStats struct {
	TotalContacts     int           `json:"total_contacts"`
	SuccessfulCalls   int           `json:"successful_calls"`
	FailedCalls       int           `json:"failed_calls"`
	TotalCallDuration time.Duration `json:"total_call_duration"`
}

// RunRecord is the summary persisted in run history.
type RunRecord struct {
	CampaignID string    `json:"campaign_id"`
	RunID      string    `json:"run_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     RunStatus `json:"status"`
	Stats      RunStats  `json:"stats"`
	SavedAt    time.Time `json:"saved_at"`
}

// CallAttempt is one locally initiated call.
type CallAttempt struct {
	Contact          Contact          `json:"contact"`
	UniqueID         string           `json:"unique_id"`
	Timestamp        time.Time        `json:"timestamp"`
	Success          bool             `json:"success"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	TranscriptRef    string           `json:"transcript_ref,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// Progress is the share of contacts dialed, capped at 1.
func Progress(totalContacts, callsMade int) float64 {
	if totalContacts <= 0 {
		return 0
	}
	made := callsMade
	if made > totalContacts {
		made = totalContacts
	}
	if made < 0 {
		made = 0
	}
	return float64(made) / float64(totalContacts)
}
