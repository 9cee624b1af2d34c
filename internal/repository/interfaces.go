package repository

import (
	"context"
	"time"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the key or entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// KVStore is a byte-oriented key/value store with optional expiry.
// Get returns ErrNotFound for missing or expired keys. A zero ttl keeps
// the value until it is deleted.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// RunLedger remembers which runs already have a saved history entry.
type RunLedger interface {
	IsSaved(ctx context.Context, campaignID, runID string) (bool, error)
	MarkSaved(ctx context.Context, rec domain.RunRecord) error
}

// RunArchive lists runs recorded by a durable ledger.
type RunArchive interface {
	ListRecent(ctx context.Context, campaignID string, limit int) ([]domain.RunRecord, error)
}

// AttemptJournal persists the run event stream.
type AttemptJournal interface {
	AppendEvent(ctx context.Context, ev domain.RunEvent) error
	ListAttempts(ctx context.Context, campaignID, runID string, limit int, pageState []byte) ([]domain.CallAttempt, []byte, error)
}
