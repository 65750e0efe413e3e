package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/ledger-sync/internal/domain/session"
)

const sessionColumns = `id, session_id, title, creator_id, status, reward_pool, participant_count,
	ends_at, completed_at, created_at, updated_at`

const participantColumns = `session_id, user_id, wallet_address, score, quality, time_spent_seconds,
	accuracy, efficiency, consistency, joined_at, updated_at`

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id=$1`, sessionID)
	return scanSession(row)
}

func (r *SessionRepository) CompareAndSetStatus(ctx context.Context, sessionID uuid.UUID, from, to session.Status, at time.Time) (bool, error) {
	var completedAt *time.Time
	if to == session.StatusCompleted {
		completedAt = &at
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status=$1, updated_at=$2, completed_at=COALESCE($3, completed_at)
		WHERE session_id=$4 AND status=$5
	`, to, at, completedAt, sessionID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) IncrementParticipantCount(ctx context.Context, sessionID uuid.UUID, delta int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET participant_count = participant_count + $1, updated_at = now()
		WHERE session_id=$2
	`, delta, sessionID)
	return err
}

func (r *SessionRepository) ListRunningEndedBefore(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	var w where
	w.add("status=?", session.StatusRunning)
	w.add("ends_at < ?", before)
	query := `SELECT ` + sessionColumns + ` FROM sessions` + w.String() + ` ORDER BY ends_at ASC` + w.page(limit, 0)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepository) AddParticipant(ctx context.Context, p *session.Participant) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO session_participants (session_id, user_id, wallet_address, joined_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (session_id, user_id) DO NOTHING
	`, p.SessionID, p.UserID, p.WalletAddress, p.JoinedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordContribution overwrites the participant's metrics with the latest submission.
func (r *SessionRepository) RecordContribution(ctx context.Context, p *session.Participant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_participants
		(session_id, user_id, wallet_address, score, quality, time_spent_seconds, accuracy, efficiency, consistency, joined_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			score=EXCLUDED.score, quality=EXCLUDED.quality, time_spent_seconds=EXCLUDED.time_spent_seconds,
			accuracy=EXCLUDED.accuracy, efficiency=EXCLUDED.efficiency, consistency=EXCLUDED.consistency,
			updated_at=EXCLUDED.updated_at
	`, p.SessionID, p.UserID, p.WalletAddress, p.Score, p.Quality, p.TimeSpentSeconds,
		p.Accuracy, p.Efficiency, p.Consistency, p.UpdatedAt)
	return err
}

func (r *SessionRepository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]*session.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+participantColumns+` FROM session_participants WHERE session_id=$1 ORDER BY joined_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*session.Participant
	for rows.Next() {
		var p session.Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.WalletAddress, &p.Score, &p.Quality, &p.TimeSpentSeconds,
			&p.Accuracy, &p.Efficiency, &p.Consistency, &p.JoinedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.Title, &s.CreatorID, &s.Status, &s.RewardPool, &s.ParticipantCount,
		&s.EndsAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
