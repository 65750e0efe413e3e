package postgres

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseLocker hands out per-job leases stored in job_leases. Expiry is judged
// by the database clock so replicas with skewed clocks agree.
type LeaseLocker struct {
	pool   *pgxpool.Pool
	holder string
}

func NewLeaseLocker(pool *pgxpool.Pool) *LeaseLocker {
	host, _ := os.Hostname()
	return &LeaseLocker{pool: pool, holder: fmt.Sprintf("%s:%d", host, os.Getpid())}
}

func (l *LeaseLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO job_leases (job_name, holder, token, expires_at)
		VALUES ($1, $2, $3, now() + ($4 * interval '1 millisecond'))
		ON CONFLICT (job_name) DO UPDATE
			SET holder=EXCLUDED.holder, token=EXCLUDED.token, expires_at=EXCLUDED.expires_at
			WHERE job_leases.expires_at < now()
	`, name, l.holder, token, ttl.Milliseconds())
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the lease only if token still owns it.
func (l *LeaseLocker) Unlock(ctx context.Context, name, token string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM job_leases WHERE job_name=$1 AND token=$2`, name, token); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}
