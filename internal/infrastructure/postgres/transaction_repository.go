package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
)

const transactionColumns = `id, transaction_id, hash, type, status, payload, user_id, session_id, amount,
	from_address, to_address, block_height, gas_used, events, error_message, retry_count, max_retries,
	created_at, updated_at, submitted_at, confirmed_at, failed_at`

// TransactionRepository implements transaction.Repository.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) Create(ctx context.Context, t *domainTx.Transaction) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO transactions
		(transaction_id, hash, type, status, payload, user_id, session_id, amount, from_address, to_address,
		 block_height, gas_used, events, error_message, retry_count, max_retries, created_at, updated_at,
		 submitted_at, confirmed_at, failed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id
	`, t.TransactionID, t.Hash, t.Type, t.Status, payload, t.UserID, t.SessionID, nullDecimal(t.Amount), t.FromAddress, t.ToAddress,
		t.BlockHeight, t.GasUsed, nullJSON(t.Events), t.ErrorMessage, t.RetryCount, t.MaxRetries, t.CreatedAt, t.UpdatedAt,
		t.SubmittedAt, t.ConfirmedAt, t.FailedAt).Scan(&t.ID)
	if isUniqueViolation(err) {
		return domainTx.ErrDuplicate
	}
	return err
}

func (r *TransactionRepository) GetByID(ctx context.Context, transactionID uuid.UUID) (*domainTx.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE transaction_id=$1`, transactionID)
	return scanTransaction(row)
}

func (r *TransactionRepository) GetByHash(ctx context.Context, hash string) (*domainTx.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE hash=$1`, hash)
	return scanTransaction(row)
}

func (r *TransactionRepository) List(ctx context.Context, filter domainTx.Filter, limit, offset int) ([]*domainTx.Transaction, error) {
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
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() + ` ORDER BY created_at DESC` + w.page(limit, offset)
	return r.query(ctx, query, w.args...)
}

func (r *TransactionRepository) CompareAndSwap(ctx context.Context, t *domainTx.Transaction, expected domainTx.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET
			hash=$1, status=$2, from_address=$3, block_height=$4, gas_used=$5, events=$6, error_message=$7,
			retry_count=$8, updated_at=$9, submitted_at=$10, confirmed_at=$11, failed_at=$12
		WHERE transaction_id=$13 AND status=$14
	`, t.Hash, t.Status, t.FromAddress, t.BlockHeight, t.GasUsed, nullJSON(t.Events), t.ErrorMessage,
		t.RetryCount, t.UpdatedAt, t.SubmittedAt, t.ConfirmedAt, t.FailedAt, t.TransactionID, expected)
	if isUniqueViolation(err) {
		return false, domainTx.ErrDuplicate
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransactionRepository) ListSubmitted(ctx context.Context, limit int) ([]*domainTx.Transaction, error) {
	var w where
	w.add("status=?", domainTx.StatusSubmitted)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() + ` ORDER BY submitted_at ASC NULLS FIRST` + w.page(limit, 0)
	return r.query(ctx, query, w.args...)
}

func (r *TransactionRepository) ListRetryable(ctx context.Context, limit int) ([]*domainTx.Transaction, error) {
	var w where
	w.add("status=?", domainTx.StatusFailed)
	w.conds = append(w.conds, "retry_count < max_retries", "hash IS NOT NULL")
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() + ` ORDER BY failed_at ASC NULLS FIRST` + w.page(limit, 0)
	return r.query(ctx, query, w.args...)
}

func (r *TransactionRepository) AggregateByStatus(ctx context.Context) ([]domainTx.StatusAggregate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions GROUP BY status ORDER BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domainTx.StatusAggregate
	for rows.Next() {
		var a domainTx.StatusAggregate
		if err := rows.Scan(&a.Status, &a.Count, &a.Amount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) CountByStatus(ctx context.Context, status domainTx.Status) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status=$1`, status).Scan(&n)
	return n, err
}

func (r *TransactionRepository) DeleteTerminalBefore(ctx context.Context, statuses []domainTx.Status, before time.Time) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE status = ANY($1) AND updated_at < $2`, names, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domainTx.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domainTx.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domainTx.Transaction, error) {
	var t domainTx.Transaction
	var payload []byte
	var amount decimal.NullDecimal
	if err := row.Scan(&t.ID, &t.TransactionID, &t.Hash, &t.Type, &t.Status, &payload, &t.UserID, &t.SessionID, &amount,
		&t.FromAddress, &t.ToAddress, &t.BlockHeight, &t.GasUsed, &t.Events, &t.ErrorMessage, &t.RetryCount, &t.MaxRetries,
		&t.CreatedAt, &t.UpdatedAt, &t.SubmittedAt, &t.ConfirmedAt, &t.FailedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", t.TransactionID, err)
		}
	}
	if amount.Valid {
		t.Amount = &amount.Decimal
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
