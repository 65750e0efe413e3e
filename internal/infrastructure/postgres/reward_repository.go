package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/ledger-sync/internal/domain/reward"
)

const rewardColumns = `id, reward_id, type, status, amount, user_id, session_id, claim_transaction_id,
	calculated_at, claimed_at, expires_at, metadata, created_at, updated_at`

// RewardRepository implements reward.Repository.
type RewardRepository struct {
	pool *pgxpool.Pool
}

func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

func (r *RewardRepository) Create(ctx context.Context, rw *reward.Reward) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rewards
		(reward_id, type, status, amount, user_id, session_id, claim_transaction_id, calculated_at,
		 claimed_at, expires_at, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, rw.RewardID, rw.Type, rw.Status, rw.Amount, rw.UserID, rw.SessionID, rw.ClaimTransactionID, rw.CalculatedAt,
		rw.ClaimedAt, rw.ExpiresAt, nullJSON(rw.Metadata), rw.CreatedAt, rw.UpdatedAt).Scan(&rw.ID)
	if isUniqueViolation(err) {
		return reward.ErrDuplicate
	}
	return err
}

func (r *RewardRepository) GetByID(ctx context.Context, rewardID uuid.UUID) (*reward.Reward, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE reward_id=$1`, rewardID)
	return scanReward(row)
}

func (r *RewardRepository) GetByIDs(ctx context.Context, rewardIDs []uuid.UUID) ([]*reward.Reward, error) {
	if len(rewardIDs) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE reward_id = ANY($1)`, rewardIDs)
}

func (r *RewardRepository) Exists(ctx context.Context, userID, sessionID uuid.UUID, rewardType reward.Type) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM rewards WHERE user_id=$1 AND session_id=$2 AND type=$3)
	`, userID, sessionID, rewardType).Scan(&exists)
	return exists, err
}

func (r *RewardRepository) List(ctx context.Context, filter reward.Filter, limit, offset int) ([]*reward.Reward, error) {
	var w where
	if filter.UserID != nil {
		w.add("user_id=?", *filter.UserID)
	}
	if filter.SessionID != nil {
		w.add("session_id=?", *filter.SessionID)
	}
	if filter.Status != nil {
		w.add("status=?", *filter.Status)
	}
	if filter.Type != nil {
		w.add("type=?", *filter.Type)
	}
	query := `SELECT ` + rewardColumns + ` FROM rewards` + w.String() + ` ORDER BY calculated_at DESC` + w.page(limit, offset)
	return r.query(ctx, query, w.args...)
}

func (r *RewardRepository) CompareAndSwap(ctx context.Context, rw *reward.Reward, expected reward.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rewards SET status=$1, claim_transaction_id=$2, claimed_at=$3, expires_at=$4, metadata=$5, updated_at=$6
		WHERE reward_id=$7 AND status=$8
	`, rw.Status, rw.ClaimTransactionID, rw.ClaimedAt, rw.ExpiresAt, nullJSON(rw.Metadata), rw.UpdatedAt, rw.RewardID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RewardRepository) ClaimBatch(ctx context.Context, rewardIDs []uuid.UUID, claimTxID uuid.UUID, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin claim batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE rewards SET status=$1, claim_transaction_id=$2, claimed_at=$3, updated_at=$3
		WHERE reward_id = ANY($4) AND status=$5 AND (expires_at IS NULL OR expires_at > $3)
	`, reward.StatusClaimed, claimTxID, at, rewardIDs, reward.StatusClaimable)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(rewardIDs)) {
		return reward.ErrBatchConflict
	}
	return tx.Commit(ctx)
}

func (r *RewardRepository) RevertBatch(ctx context.Context, rewardIDs []uuid.UUID, claimTxID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rewards SET status=$1, claim_transaction_id=NULL, claimed_at=NULL, updated_at=$2
		WHERE reward_id = ANY($3) AND status=$4 AND claim_transaction_id=$5
	`, reward.StatusClaimable, at, rewardIDs, reward.StatusClaimed, claimTxID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RewardRepository) ExpireClaimable(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rewards SET status=$1, updated_at=$2
		WHERE status=$3 AND expires_at IS NOT NULL AND expires_at < $2
	`, reward.StatusExpired, now, reward.StatusClaimable)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RewardRepository) CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rewards
		WHERE status=$1 AND expires_at IS NOT NULL AND expires_at >= $2 AND expires_at <= $3
	`, reward.StatusClaimable, from, to).Scan(&n)
	return n, err
}

func (r *RewardRepository) AggregateByStatus(ctx context.Context) ([]reward.StatusAggregate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM rewards GROUP BY status ORDER BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reward.StatusAggregate
	for rows.Next() {
		var a reward.StatusAggregate
		if err := rows.Scan(&a.Status, &a.Count, &a.Amount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *RewardRepository) query(ctx context.Context, query string, args ...any) ([]*reward.Reward, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*reward.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

func scanReward(row pgx.Row) (*reward.Reward, error) {
	var rw reward.Reward
	if err := row.Scan(&rw.ID, &rw.RewardID, &rw.Type, &rw.Status, &rw.Amount, &rw.UserID, &rw.SessionID, &rw.ClaimTransactionID,
		&rw.CalculatedAt, &rw.ClaimedAt, &rw.ExpiresAt, &rw.Metadata, &rw.CreatedAt, &rw.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rw, nil
}
