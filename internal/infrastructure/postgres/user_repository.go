package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
)

// UserRepository implements user.Repository.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, username, wallet_address, created_at, updated_at
		FROM users WHERE user_id=$1
	`, userID)
	return scanUser(row)
}

func (r *UserRepository) GetByWalletAddress(ctx context.Context, address string) (*user.User, error) {
	addr := ledger.NormalizeAddress(address)
	if addr == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, username, wallet_address, created_at, updated_at
		FROM users WHERE lower(wallet_address)=$1
	`, addr)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.WalletAddress, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
