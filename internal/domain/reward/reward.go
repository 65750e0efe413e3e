package reward

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type represents how a reward was earned.
type Type string

const (
	TypeParticipation Type = "PARTICIPATION"
	TypePerformance   Type = "PERFORMANCE"
	TypeCompletion    Type = "COMPLETION"
	TypeBonus         Type = "BONUS"
)

// ParseType accepts both upper and lower case names.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case TypeParticipation, TypePerformance, TypeCompletion, TypeBonus:
		return t, nil
	default:
		return "", ErrInvalidType
	}
}

// Status represents the reward lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusClaimable Status = "CLAIMABLE"
	StatusClaimed   Status = "CLAIMED"
	StatusExpired   Status = "EXPIRED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidType       = errors.New("invalid reward type")
	ErrDuplicate         = errors.New("reward already exists for user, session and type")
	ErrNotClaimable      = errors.New("reward is not claimable")
	ErrExpired           = errors.New("reward has expired")
)

// Reward is an amount owed to a user for one session.
type Reward struct {
	ID                 int64           `json:"id"`
	RewardID           uuid.UUID       `json:"rewardId"`
	Type               Type            `json:"type"`
	Status             Status          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	UserID             uuid.UUID       `json:"userId"`
	SessionID          uuid.UUID       `json:"sessionId"`
	ClaimTransactionID *uuid.UUID      `json:"claimTransactionId,omitempty"`
	CalculatedAt       time.Time       `json:"calculatedAt"`
	ClaimedAt          *time.Time      `json:"claimedAt,omitempty"`
	ExpiresAt          *time.Time      `json:"expiresAt,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// NewClaimable creates a reward that can be claimed until expiresAt.
func NewClaimable(rewardType Type, userID, sessionID uuid.UUID, amount decimal.Decimal, metadata json.RawMessage, at time.Time, expiresAt *time.Time) *Reward {
	return &Reward{
		RewardID:     uuid.New(),
		Type:         rewardType,
		Status:       StatusClaimable,
		Amount:       amount,
		UserID:       userID,
		SessionID:    sessionID,
		CalculatedAt: at,
		ExpiresAt:    expiresAt,
		Metadata:     metadata,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

// IsExpiredAt reports whether the claim window has closed at the given time.
func (r *Reward) IsExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// IsClaimableAt is the claim invariant: CLAIMABLE and not past expires_at.
func (r *Reward) IsClaimableAt(now time.Time) bool {
	return r.Status == StatusClaimable && !r.IsExpiredAt(now)
}

// IsClaimable evaluates the claim invariant against the current time.
func (r *Reward) IsClaimable() bool {
	return r.IsClaimableAt(time.Now().UTC())
}

// CanTransitionTo checks if a transition to the target status is valid.
func (r *Reward) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusClaimable, StatusExpired},
		StatusClaimable: {StatusClaimed, StatusExpired},
		StatusClaimed:   {},
		StatusExpired:   {},
	}
	for _, s := range transitions[r.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// MarkClaimed records the claim transaction.
func (r *Reward) MarkClaimed(claimTxID uuid.UUID, at time.Time) error {
	if r.Status != StatusClaimable {
		return ErrNotClaimable
	}
	if r.IsExpiredAt(at) {
		return ErrExpired
	}
	r.Status = StatusClaimed
	r.ClaimTransactionID = &claimTxID
	r.ClaimedAt = &at
	r.UpdatedAt = at
	return nil
}

// RevertClaim undoes MarkClaimed when the claim transaction could not be submitted.
func (r *Reward) RevertClaim(at time.Time) error {
	if r.Status != StatusClaimed {
		return ErrInvalidTransition
	}
	r.Status = StatusClaimable
	r.ClaimTransactionID = nil
	r.ClaimedAt = nil
	r.UpdatedAt = at
	return nil
}

// RecordLedgerClaim marks the reward claimed because the ledger says so. The
// ledger is authoritative, so the claim window is not checked. claimTxID is
// nil when the claim was not submitted through this platform.
func (r *Reward) RecordLedgerClaim(claimTxID *uuid.UUID, at time.Time) error {
	if r.Status != StatusClaimable {
		return ErrNotClaimable
	}
	r.Status = StatusClaimed
	r.ClaimTransactionID = claimTxID
	r.ClaimedAt = &at
	r.UpdatedAt = at
	return nil
}

// MarkExpired closes the claim window.
func (r *Reward) MarkExpired(at time.Time) error {
	if !r.CanTransitionTo(StatusExpired) {
		return ErrInvalidTransition
	}
	r.Status = StatusExpired
	r.UpdatedAt = at
	return nil
}

// FilterClaimable keeps rewards that satisfy IsClaimableAt.
func FilterClaimable(rewards []*Reward, now time.Time) []*Reward {
	out := make([]*Reward, 0, len(rewards))
	for _, r := range rewards {
		if r.IsClaimableAt(now) {
			out = append(out, r)
		}
	}
	return out
}

// Total sums reward amounts.
func Total(rewards []*Reward) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rewards {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// Distribution is a calculated amount owed to one recipient. It becomes a
// Reward once persisted.
type Distribution struct {
	UserID   uuid.UUID       `json:"userId"`
	Address  string          `json:"address"`
	Type     Type            `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Filter represents filters for listing rewards.
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
