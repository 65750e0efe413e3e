package transaction

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies the ledger entry function a transaction invokes.
type Type string

const (
	TypeCreateSession       Type = "CREATE_SESSION"
	TypeRegisterParticipant Type = "REGISTER_PARTICIPANT"
	TypeSubmitContribution  Type = "SUBMIT_CONTRIBUTION"
	TypeCompleteSession     Type = "COMPLETE_SESSION"
	TypeClaimReward         Type = "CLAIM_REWARD"
	TypeDistributeRewards   Type = "DISTRIBUTE_REWARDS"
)

// Types lists every transaction type. Hook tables are checked against it.
var Types = []Type{
	TypeCreateSession,
	TypeRegisterParticipant,
	TypeSubmitContribution,
	TypeCompleteSession,
	TypeClaimReward,
	TypeDistributeRewards,
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if known == t {
			return true
		}
	}
	return false
}

// Status represents the transaction lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// DefaultMaxRetries bounds the Failed -> Submitted retry path.
const DefaultMaxRetries = 3

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrHashRequired      = errors.New("ledger hash is required")
	ErrCannotRetry       = errors.New("transaction cannot be retried")
	ErrDuplicate         = errors.New("transaction already exists")
)

// Payload is the entry function call recorded with the transaction.
type Payload struct {
	Function      string            `json:"function"`
	TypeArguments []string          `json:"type_arguments"`
	Arguments     []json.RawMessage `json:"arguments"`
}

// Transaction tracks one write against the ledger.
type Transaction struct {
	ID            int64            `json:"id"`
	TransactionID uuid.UUID        `json:"transactionId"`
	Hash          *string          `json:"hash,omitempty"`
	Type          Type             `json:"type"`
	Status        Status           `json:"status"`
	Payload       Payload          `json:"payload"`
	UserID        uuid.UUID        `json:"userId"`
	SessionID     *uuid.UUID       `json:"sessionId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	FromAddress   *string          `json:"fromAddress,omitempty"`
	ToAddress     *string          `json:"toAddress,omitempty"`
	BlockHeight   *int64           `json:"blockHeight,omitempty"`
	GasUsed       *int64           `json:"gasUsed,omitempty"`
	Events        json.RawMessage  `json:"events,omitempty"`
	ErrorMessage  *string          `json:"errorMessage,omitempty"`
	RetryCount    int              `json:"retryCount"`
	MaxRetries    int              `json:"maxRetries"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	SubmittedAt   *time.Time       `json:"submittedAt,omitempty"`
	ConfirmedAt   *time.Time       `json:"confirmedAt,omitempty"`
	FailedAt      *time.Time       `json:"failedAt,omitempty"`
}

// NewTransaction creates a pending transaction.
func NewTransaction(txType Type, userID uuid.UUID, sessionID *uuid.UUID, payload Payload, at time.Time) *Transaction {
	return &Transaction{
		TransactionID: uuid.New(),
		Type:          txType,
		Status:        StatusPending,
		Payload:       payload,
		UserID:        userID,
		SessionID:     sessionID,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// Receipt is what the ledger reports for an executed transaction.
type Receipt struct {
	BlockHeight int64
	GasUsed     int64
	Events      json.RawMessage
}

// CanTransitionTo checks if a transition to the target status is valid.
func (t *Transaction) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusSubmitted, StatusCancelled},
		StatusSubmitted: {StatusConfirmed, StatusFailed, StatusCancelled},
		StatusConfirmed: {},
		StatusFailed:    {StatusSubmitted}, // retry
		StatusCancelled: {},
	}
	allowed, ok := transitions[t.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Submit records the ledger hash. The hash is only ever set here.
func (t *Transaction) Submit(hash string, at time.Time) error {
	if hash == "" {
		return ErrHashRequired
	}
	if t.Status != StatusPending || !t.CanTransitionTo(StatusSubmitted) {
		return ErrInvalidTransition
	}
	t.Hash = &hash
	t.Status = StatusSubmitted
	t.SubmittedAt = &at
	t.UpdatedAt = at
	return nil
}

// Confirm records a successful ledger execution.
func (t *Transaction) Confirm(receipt Receipt, at time.Time) error {
	if !t.CanTransitionTo(StatusConfirmed) {
		return ErrInvalidTransition
	}
	height := receipt.BlockHeight
	gas := receipt.GasUsed
	t.Status = StatusConfirmed
	t.BlockHeight = &height
	t.GasUsed = &gas
	t.Events = receipt.Events
	t.ErrorMessage = nil
	t.ConfirmedAt = &at
	t.UpdatedAt = at
	return nil
}

// Fail marks the transaction failed with a reason.
func (t *Transaction) Fail(reason string, at time.Time) error {
	if !t.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	t.Status = StatusFailed
	t.ErrorMessage = &reason
	t.FailedAt = &at
	t.UpdatedAt = at
	return nil
}

// Cancel abandons the transaction.
func (t *Transaction) Cancel(reason string, at time.Time) error {
	if !t.CanTransitionTo(StatusCancelled) {
		return ErrInvalidTransition
	}
	t.Status = StatusCancelled
	if reason != "" {
		t.ErrorMessage = &reason
	}
	t.UpdatedAt = at
	return nil
}

// CanRetry checks if the transaction may re-enter monitoring.
func (t *Transaction) CanRetry() bool {
	return t.Status == StatusFailed && t.RetryCount < t.MaxRetries && t.Hash != nil
}

// ResetForRetry moves a failed transaction back to submitted.
func (t *Transaction) ResetForRetry(at time.Time) error {
	if !t.CanRetry() {
		return ErrCannotRetry
	}
	t.RetryCount++
	t.Status = StatusSubmitted
	t.SubmittedAt = &at
	t.FailedAt = nil
	t.UpdatedAt = at
	return nil
}

// IsTerminal returns true if no further transition can happen.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusConfirmed ||
		t.Status == StatusCancelled ||
		(t.Status == StatusFailed && !t.CanRetry())
}

// Filter represents filters for listing transactions.
type Filter struct {
	UserID    *uuid.UUID
	SessionID *uuid.UUID
	Status    *Status
	Type      *Type
}

// StatusAggregate is a count and amount sum for one status.
type StatusAggregate struct {
	Status Status          `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}
