package eventlog

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for event log persistence.
type Repository interface {
	// Create returns ErrDuplicate if (event_guid, sequence_number) already exists.
	Create(ctx context.Context, e *EventLog) error
	Exists(ctx context.Context, guid string, sequenceNumber int64) (bool, error)
	GetByID(ctx context.Context, eventLogID uuid.UUID) (*EventLog, error)

	// CompareAndSwap persists e only if the stored status still equals expected.
	CompareAndSwap(ctx context.Context, e *EventLog, expected Status) (bool, error)

	// ListRetryable returns FAILED rows with retry_count < max_retries,
	// oldest last_retry_at first (never retried first).
	ListRetryable(ctx context.Context, limit int) ([]*EventLog, error)
	// ListStalePending returns PENDING rows created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*EventLog, error)
	MaxBlockHeight(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
