package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// RunLedger records saved runs durably. It backs the saved-run guard and
// serves as a local archive of run summaries.
type RunLedger struct {
	db *sqlx.DB
}

var (
	_ repository.RunLedger  = (*RunLedger)(nil)
	_ repository.RunArchive = (*RunLedger)(nil)
)

// NewRunLedger constructs a ledger.
func NewRunLedger(db *sqlx.DB) *RunLedger {
	return &RunLedger{db: db}
}

// EnsureSchema creates the ledger table when missing.
func (r *RunLedger) EnsureSchema(ctx context.Context) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS saved_runs (
			campaign_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			total_contacts INT NOT NULL,
			successful_calls INT NOT NULL,
			failed_calls INT NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (campaign_id, run_id)
		)`); err != nil {
			return fmt.Errorf("run ledger: create table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS saved_runs_campaign_started_idx
			ON saved_runs (campaign_id, started_at DESC)`); err != nil {
			return fmt.Errorf("run ledger: create index: %w", err)
		}
		return nil
	})
}

// IsSaved reports whether a run has already been recorded.
func (r *RunLedger) IsSaved(ctx context.Context, campaignID, runID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM saved_runs WHERE campaign_id = $1 AND run_id = $2)`,
		campaignID, runID,
	); err != nil {
		return false, fmt.Errorf("run ledger: is saved: %w", err)
	}
	return exists, nil
}

// MarkSaved records a run. A second insert for the same run is ignored.
func (r *RunLedger) MarkSaved(ctx context.Context, rec domain.RunRecord) error {
	q := `INSERT INTO saved_runs (
		campaign_id, run_id, status, started_at, ended_at,
		total_contacts, successful_calls, failed_calls, total_duration_ms, saved_at
	) VALUES (
		:campaign_id, :run_id, :status, :started_at, :ended_at,
		:total_contacts, :successful_calls, :failed_calls, :total_duration_ms, :saved_at
	) ON CONFLICT (campaign_id, run_id) DO NOTHING`

	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	params := map[string]any{
		"campaign_id":       rec.CampaignID,
		"run_id":            rec.RunID,
		"status":            string(rec.Status),
		"started_at":        rec.StartTime,
		"ended_at":          rec.EndTime,
		"total_contacts":    rec.Stats.TotalContacts,
		"successful_calls":  rec.Stats.SuccessfulCalls,
		"failed_calls":      rec.Stats.FailedCalls,
		"total_duration_ms": rec.Stats.TotalCallDuration.Milliseconds(),
		"saved_at":          savedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("run ledger: insert: %w", err)
	}
	return nil
}

// ListRecent returns the newest saved runs of a campaign.
func (r *RunLedger) ListRecent(ctx context.Context, campaignID string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT campaign_id, run_id, status, started_at, ended_at,
		total_contacts, successful_calls, failed_calls, total_duration_ms, saved_at
		FROM saved_runs WHERE campaign_id = $1 ORDER BY started_at DESC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("run ledger: list: %w", err)
	}
	defer rows.Close()

	var results []domain.RunRecord
	for rows.Next() {
		var record savedRunRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("run ledger: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run ledger: rows err: %w", err)
	}
	return results, nil
}

type savedRunRecord struct {
	CampaignID      string    `db:"campaign_id"`
	RunID           string    `db:"run_id"`
	Status          string    `db:"status"`
	StartedAt       time.Time `db:"started_at"`
	EndedAt         time.Time `db:"ended_at"`
	TotalContacts   int       `db:"total_contacts"`
	SuccessfulCalls int       `db:"successful_calls"`
	FailedCalls     int       `db:"failed_calls"`
	TotalDurationMs int64     `db:"total_duration_ms"`
	SavedAt         time.Time `db:"saved_at"`
}

func (r savedRunRecord) toDomain() domain.RunRecord {
	return domain.RunRecord{
		CampaignID: r.CampaignID,
		RunID:      r.RunID,
		StartTime:  r.StartedAt,
		EndTime:    r.EndedAt,
		Status:     domain.RunStatus(r.Status),
		Stats: domain.RunStats{
			TotalContacts:     r.TotalContacts,
			SuccessfulCalls:   r.SuccessfulCalls,
			FailedCalls:       r.FailedCalls,
			TotalCallDuration: time.Duration(r.TotalDurationMs) * time.Millisecond,
		},
		SavedAt: r.SavedAt,
	}
}
