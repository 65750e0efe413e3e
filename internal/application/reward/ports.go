package reward

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_ports.go -package=mocks . TransactionManager

import (
	"context"

	"github.com/google/uuid"

	appTransaction "github.com/execution-hub/ledger-sync/internal/application/transaction"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
)

// TransactionManager is the lifecycle surface reward flows use to reach the ledger.
type TransactionManager interface {
	Create(ctx context.Context, req appTransaction.CreateRequest) (*domainTx.Transaction, error)
	SignAndSubmit(ctx context.Context, transactionID uuid.UUID) (*domainTx.Transaction, error)
	Cancel(ctx context.Context, transactionID uuid.UUID, reason string) (*domainTx.Transaction, error)
	HasSigner() bool
}
