package reward

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBatchConflict is returned by ClaimBatch when any row was no longer claimable.
var ErrBatchConflict = errors.New("reward batch changed concurrently")

// Repository defines the interface for reward persistence.
type Repository interface {
	// Create returns ErrDuplicate when (user, session, type) already has a reward.
	Create(ctx context.Context, r *Reward) error
	GetByID(ctx context.Context, rewardID uuid.UUID) (*Reward, error)
	GetByIDs(ctx context.Context, rewardIDs []uuid.UUID) ([]*Reward, error)
	Exists(ctx context.Context, userID, sessionID uuid.UUID, rewardType Type) (bool, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Reward, error)

	// CompareAndSwap persists r only if the stored status still equals expected.
	CompareAndSwap(ctx context.Context, r *Reward, expected Status) (bool, error)

	// ClaimBatch moves every reward from CLAIMABLE to CLAIMED in one database
	// transaction. If any row is missing, not claimable or expired at `at`,
	// nothing is written and ErrBatchConflict is returned.
	ClaimBatch(ctx context.Context, rewardIDs []uuid.UUID, claimTxID uuid.UUID, at time.Time) error
	// RevertBatch moves rewards claimed by claimTxID back to CLAIMABLE.
	RevertBatch(ctx context.Context, rewardIDs []uuid.UUID, claimTxID uuid.UUID, at time.Time) (int64, error)

	// ExpireClaimable moves CLAIMABLE rows with expires_at < now to EXPIRED.
	// Rows without expires_at are never touched.
	ExpireClaimable(ctx context.Context, now time.Time) (int64, error)
	CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error)
	AggregateByStatus(ctx context.Context) ([]StatusAggregate, error)
}
