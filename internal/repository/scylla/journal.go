package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// Journal persists run events and the latest state of each call attempt.
type Journal struct {
	session *gocql.Session
}

var _ repository.AttemptJournal = (*Journal)(nil)

// NewJournal creates a new journal.
func NewJournal(session *gocql.Session) *Journal {
	return &Journal{session: session}
}

// EnsureSchema creates the journal tables in the session keyspace.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_events (
			campaign_id text,
			run_id text,
			occurred_at timestamp,
			event_id text,
			type text,
			message text,
			payload text,
			PRIMARY KEY ((campaign_id, run_id), occurred_at, event_id)
		) WITH CLUSTERING ORDER BY (occurred_at ASC, event_id ASC)`,
		`CREATE TABLE IF NOT EXISTS attempts_by_run (
			campaign_id text,
			run_id text,
			unique_id text,
			contact_id text,
			name text,
			phone text,
			email text,
			success boolean,
			connection_status text,
			transcript_ref text,
			error text,
			attempted_at timestamp,
			PRIMARY KEY ((campaign_id, run_id), unique_id)
		)`,
	}
	for _, stmt := range stmts {
		if err := j.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("journal: ensure schema: %w", err)
		}
	}
	return nil
}

// AppendEvent stores an event and, for attempt-bearing events, upserts the attempt row.
func (j *Journal) AppendEvent(ctx context.Context, ev domain.RunEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("journal: marshal event: %w", err)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	if err := j.session.Query(`INSERT INTO run_events (campaign_id, run_id, occurred_at, event_id, type, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.CampaignID, ev.RunID, occurred, ev.ID, string(ev.Type), ev.Message, string(payload),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("journal: insert run_events: %w", err)
	}

	if ev.Attempt == nil {
		return nil
	}

	a := ev.Attempt
	if err := j.session.Query(`INSERT INTO attempts_by_run (campaign_id, run_id, unique_id, contact_id, name, phone, email,
		success, connection_status, transcript_ref, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CampaignID, ev.RunID, a.UniqueID, a.Contact.ID, a.Contact.Name, a.Contact.Phone, a.Contact.Email,
		a.Success, string(a.ConnectionStatus), a.TranscriptRef, a.Error, a.Timestamp,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("journal: upsert attempts_by_run: %w", err)
	}
	return nil
}

// ListAttempts pages through the attempts of a run.
func (j *Journal) ListAttempts(ctx context.Context, campaignID, runID string, limit int, pageState []byte) ([]domain.CallAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := j.session.Query(`SELECT unique_id, contact_id, name, phone, email, success, connection_status, transcript_ref, error, attempted_at
		FROM attempts_by_run WHERE campaign_id = ? AND run_id = ?`, campaignID, runID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pageState) > 0 {
		query = query.PageState(pageState)
	}

	iter := query.Iter()
	attempts := make([]domain.CallAttempt, 0, limit)

	var (
		uniqueID    string
		contactID   string
		name        string
		phone       string
		email       string
		success     bool
		connection  string
		transcript  string
		errText     string
		attemptedAt time.Time
	)

	for iter.Scan(&uniqueID, &contactID, &name, &phone, &email, &success, &connection, &transcript, &errText, &attemptedAt) {
		attempts = append(attempts, domain.CallAttempt{
			Contact:          domain.Contact{ID: contactID, Name: name, Phone: phone, Email: email},
			UniqueID:         uniqueID,
			Timestamp:        attemptedAt,
			Success:          success,
			ConnectionStatus: domain.ConnectionStatus(connection),
			TranscriptRef:    transcript,
			Error:            errText,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("journal: iter close: %w", err)
	}

	return attempts, nextState, nil
}
