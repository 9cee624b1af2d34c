package domain

import "time"

// RunEventType names a lifecycle event emitted by a campaign session.
type RunEventType string

const (
	RunEventStarted          RunEventType = "run.started"
	RunEventAttempt          RunEventType = "run.attempt"
	RunEventConnection       RunEventType = "run.connection"
	RunEventPaused           RunEventType = "run.paused"
	RunEventCompleted        RunEventType = "run.completed"
	RunEventStopped          RunEventType = "run.stopped"
	RunEventSaved            RunEventType = "run.saved"
	RunEventCreditsExhausted RunEventType = "run.credits_exhausted"
)

// RunEvent is the journal representation of something that happened
// during a run. Attempt is set for attempt and connection events.
type RunEvent struct {
	ID         string       `json:"id"`
	Type       RunEventType `json:"type"`
	CampaignID string       `json:"campaign_id"`
	RunID      string       `json:"run_id"`
	Attempt    *CallAttempt `json:"attempt,omitempty"`
	Record     *RunRecord   `json:"record,omitempty"`
	Message    string       `json:"message,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
