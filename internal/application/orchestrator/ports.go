package orchestrator

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_ports.go -package=mocks . TransactionSync,EventSync,RewardSync

import (
	"context"
	"time"

	"github.com/google/uuid"

	appIngestion "github.com/execution-hub/ledger-sync/internal/application/ingestion"
	appTransaction "github.com/execution-hub/ledger-sync/internal/application/transaction"
)

// TransactionSync is the transaction lifecycle work the orchestrator schedules.
type TransactionSync interface {
	MonitorSubmitted(ctx context.Context) (appTransaction.MonitorReport, error)
	RetryFailed(ctx context.Context, limit int) (int, error)
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
	MonitoringCount() int
}

// EventSync is the ledger event ingestion work the orchestrator schedules.
type EventSync interface {
	PollOnce(ctx context.Context) (appIngestion.PollReport, error)
	RetryFailed(ctx context.Context, limit int) (appIngestion.RetryReport, error)
	PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
	Cursor() int64
}

// RewardSync is the reward work the orchestrator schedules.
type RewardSync interface {
	ExpireRewards(ctx context.Context) (int64, error)
	SettleSession(ctx context.Context, sessionID uuid.UUID) (int, error)
}
