package session

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the narrow access the sync engine has to sessions it does not own.
type Repository interface {
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	// CompareAndSetStatus moves the session from one status to another and
	// reports false if the stored status was not `from`.
	CompareAndSetStatus(ctx context.Context, sessionID uuid.UUID, from, to Status, at time.Time) (bool, error)
	IncrementParticipantCount(ctx context.Context, sessionID uuid.UUID, delta int) error
	ListRunningEndedBefore(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// AddParticipant is idempotent on (session, user) and reports whether a row was inserted.
	AddParticipant(ctx context.Context, p *Participant) (bool, error)
	RecordContribution(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]*Participant, error)
}
