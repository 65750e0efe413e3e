package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
)

const eventLogColumns = `id, event_log_id, event_type, status, transaction_hash, block_height, event_guid, sequence_number,
	event_data, processed_data, error_message, retry_count, max_retries, created_at, processed_at, last_retry_at`

// EventLogRepository implements eventlog.Repository.
type EventLogRepository struct {
	pool *pgxpool.Pool
}

func NewEventLogRepository(pool *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{pool: pool}
}

func (r *EventLogRepository) Create(ctx context.Context, e *eventlog.EventLog) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO event_logs
		(event_log_id, event_type, status, transaction_hash, block_height, event_guid, sequence_number,
		 event_data, processed_data, error_message, retry_count, max_retries, created_at, processed_at, last_retry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`, e.EventLogID, e.EventType, e.Status, e.TransactionHash, e.BlockHeight, e.EventGUID, e.SequenceNumber,
		[]byte(e.EventData), nullJSON(e.ProcessedData), e.ErrorMessage, e.RetryCount, e.MaxRetries, e.CreatedAt,
		e.ProcessedAt, e.LastRetryAt).Scan(&e.ID)
	if isUniqueViolation(err) {
		return eventlog.ErrDuplicate
	}
	return err
}

func (r *EventLogRepository) Exists(ctx context.Context, guid string, sequenceNumber int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_logs WHERE event_guid=$1 AND sequence_number=$2)
	`, guid, sequenceNumber).Scan(&exists)
	return exists, err
}

func (r *EventLogRepository) GetByID(ctx context.Context, eventLogID uuid.UUID) (*eventlog.EventLog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventLogColumns+` FROM event_logs WHERE event_log_id=$1`, eventLogID)
	return scanEventLog(row)
}

func (r *EventLogRepository) CompareAndSwap(ctx context.Context, e *eventlog.EventLog, expected eventlog.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_logs SET status=$1, processed_data=$2, error_message=$3, retry_count=$4,
			processed_at=$5, last_retry_at=$6
		WHERE event_log_id=$7 AND status=$8
	`, e.Status, nullJSON(e.ProcessedData), e.ErrorMessage, e.RetryCount, e.ProcessedAt, e.LastRetryAt, e.EventLogID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventLogRepository) ListRetryable(ctx context.Context, limit int) ([]*eventlog.EventLog, error) {
	var w where
	w.add("status=?", eventlog.StatusFailed)
	w.conds = append(w.conds, "retry_count < max_retries")
	return r.list(ctx, w, `last_retry_at ASC NULLS FIRST, block_height ASC`, limit)
}

func (r *EventLogRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*eventlog.EventLog, error) {
	var w where
	w.add("status=?", eventlog.StatusPending)
	w.add("created_at < ?", before)
	return r.list(ctx, w, `created_at ASC, block_height ASC`, limit)
}

func (r *EventLogRepository) list(ctx context.Context, w where, order string, limit int) ([]*eventlog.EventLog, error) {
	query := `SELECT ` + eventLogColumns + ` FROM event_logs` + w.String() + ` ORDER BY ` + order + w.page(limit, 0)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*eventlog.EventLog
	for rows.Next() {
		e, err := scanEventLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EventLogRepository) MaxBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(block_height), 0) FROM event_logs`).Scan(&height)
	return height, err
}

func (r *EventLogRepository) CountByStatus(ctx context.Context) ([]eventlog.StatusCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM event_logs GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []eventlog.StatusCount
	for rows.Next() {
		var c eventlog.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *EventLogRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM event_logs WHERE status IN ($1, $2) AND created_at < $3
	`, eventlog.StatusProcessed, eventlog.StatusIgnored, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEventLog(row pgx.Row) (*eventlog.EventLog, error) {
	var e eventlog.EventLog
	if err := row.Scan(&e.ID, &e.EventLogID, &e.EventType, &e.Status, &e.TransactionHash, &e.BlockHeight, &e.EventGUID,
		&e.SequenceNumber, &e.EventData, &e.ProcessedData, &e.ErrorMessage, &e.RetryCount, &e.MaxRetries,
		&e.CreatedAt, &e.ProcessedAt, &e.LastRetryAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
