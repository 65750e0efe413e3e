package user

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the narrow read access the sync engine has to users.
type Repository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByWalletAddress(ctx context.Context, address string) (*User, error)
}
