package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the contribution session lifecycle.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid session status transition")

// Session is a contribution session whose rewards are settled on the ledger.
type Session struct {
	ID               int64           `json:"id"`
	SessionID        uuid.UUID       `json:"sessionId"`
	Title            string          `json:"title"`
	CreatorID        uuid.UUID       `json:"creatorId"`
	Status           Status          `json:"status"`
	RewardPool       decimal.Decimal `json:"rewardPool"`
	ParticipantCount int             `json:"participantCount"`
	EndsAt           *time.Time      `json:"endsAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// HasEnded reports whether the scheduled end has passed.
func (s *Session) HasEnded(now time.Time) bool {
	return s.EndsAt != nil && now.After(*s.EndsAt)
}

// CanTransitionTo checks if a transition to the target status is valid.
func (s *Session) CanTransitionTo(target Status) bool {
	switch s.Status {
	case StatusCreated:
		return target == StatusRunning || target == StatusCancelled
	case StatusRunning:
		return target == StatusCompleted || target == StatusCancelled
	default:
		return false
	}
}

// Participant is one user's membership and contribution metrics in a session.
type Participant struct {
	SessionID        uuid.UUID `json:"sessionId"`
	UserID           uuid.UUID `json:"userId"`
	WalletAddress    string    `json:"walletAddress"`
	Score            float64   `json:"score"`
	Quality          float64   `json:"quality"`
	TimeSpentSeconds float64   `json:"timeSpentSeconds"`
	Accuracy         float64   `json:"accuracy"`
	Efficiency       float64   `json:"efficiency"`
	Consistency      float64   `json:"consistency"`
	JoinedAt         time.Time `json:"joinedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
