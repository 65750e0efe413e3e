package ingestion

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_ports.go -package=mocks . RewardDistributor

import (
	"context"

	"github.com/google/uuid"

	"github.com/execution-hub/ledger-sync/internal/domain/reward"
)

// RewardDistributor is the part of the reward manager that event handlers drive.
type RewardDistributor interface {
	DistributeRewards(ctx context.Context, sessionID uuid.UUID, dists []reward.Distribution) (int, error)
	SettleSession(ctx context.Context, sessionID uuid.UUID) (int, error)
}
