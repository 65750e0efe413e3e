package transaction

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for transaction persistence.
type Repository interface {
	// Create returns ErrDuplicate if the transaction id or hash already exists.
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	GetByHash(ctx context.Context, hash string) (*Transaction, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Transaction, error)

	// CompareAndSwap persists t only if the stored status still equals expected.
	// It reports false when another writer moved the row first.
	CompareAndSwap(ctx context.Context, t *Transaction, expected Status) (bool, error)

	ListSubmitted(ctx context.Context, limit int) ([]*Transaction, error)
	// ListRetryable returns FAILED rows with retry_count < max_retries, oldest failure first.
	ListRetryable(ctx context.Context, limit int) ([]*Transaction, error)

	AggregateByStatus(ctx context.Context) ([]StatusAggregate, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)

	DeleteTerminalBefore(ctx context.Context, statuses []Status, before time.Time) (int64, error)
}
