// Package ledger describes the capabilities the sync engine consumes from the
// external ledger: submitting signed entry-function calls and reading back
// transactions, events and account resources.
package ledger

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_client.go -package=mocks . Client,Signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
)

// ErrTxNotFound means the ledger has no record of the hash yet. It is a
// ledger-unavailable condition: the transaction may simply not be indexed.
var ErrTxNotFound = fmt.Errorf("%w: transaction not found", apperror.ErrLedgerUnavailable)

// ErrResourceNotFound means the account holds no resource of the requested type.
var ErrResourceNotFound = fmt.Errorf("%w: resource not found", apperror.ErrNotFound)

// Entry function names exposed by the contribution contract.
const (
	FnCreateSession       = "create_session"
	FnRegisterParticipant = "register_participant"
	FnSubmitContribution  = "submit_contribution"
	FnCompleteSession     = "complete_session"
	FnClaimReward         = "claim_reward"
	FnBatchClaimRewards   = "batch_claim_rewards"
	FnDistributeRewards   = "distribute_rewards"
)

// EntryFunction is a call to a published contract function.
type EntryFunction struct {
	Function      string            `json:"function"`
	TypeArguments []string          `json:"type_arguments"`
	Arguments     []json.RawMessage `json:"arguments"`
}

// Event is one ledger-emitted event.
type Event struct {
	GUID            string          `json:"guid"`
	SequenceNumber  int64           `json:"sequence_number"`
	Type            string          `json:"type"`
	Version         int64           `json:"version"`
	TransactionHash string          `json:"transaction_hash"`
	Data            json.RawMessage `json:"data"`
}

// TxResult is the executed state of a transaction.
type TxResult struct {
	Hash     string  `json:"hash"`
	Success  bool    `json:"success"`
	VMStatus string  `json:"vm_status"`
	Version  int64   `json:"version"`
	GasUsed  int64   `json:"gas_used"`
	Events   []Event `json:"events"`
}

// Signer is an identity that can authorise ledger writes.
type Signer interface {
	Address() string
	PublicKey() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
}

// Client is the ledger capability. Implementations classify failures with the
// apperror taxonomy: transport and indexing problems wrap ErrLedgerUnavailable,
// submissions the ledger refuses wrap ErrLedgerRejected.
type Client interface {
	SignAndSubmit(ctx context.Context, signer Signer, fn EntryFunction) (string, error)
	GetTransaction(ctx context.Context, hash string) (*TxResult, error)
	GetEvents(ctx context.Context, handle string, fromVersion int64, limit int) ([]Event, error)
	GetAccountResource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

// Contract locates the deployed contribution module.
type Contract struct {
	Address string
	Module  string
}

// Function returns the fully qualified descriptor for an entry function.
func (c Contract) Function(name string) string {
	return fmt.Sprintf("%s::%s::%s", NormalizeAddress(c.Address), c.Module, name)
}

// EventHandle is the handle the contract emits all of its events under.
func (c Contract) EventHandle() string {
	return fmt.Sprintf("%s::%s", NormalizeAddress(c.Address), c.Module)
}

// StoreResourceType is the resource holding contract-wide counters.
func (c Contract) StoreResourceType() string {
	return fmt.Sprintf("%s::%s::SessionStore", NormalizeAddress(c.Address), c.Module)
}

// SessionResourceType is the per-session resource published under the contract address.
func (c Contract) SessionResourceType(sessionID string) string {
	return fmt.Sprintf("%s::%s::Session<%s>", NormalizeAddress(c.Address), c.Module, sessionID)
}

// NormalizeAddress canonicalises an account address for comparison.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr != "" && !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}

// AddressFromPublicKey derives the account address owned by an ed25519 key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha3.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:])
}

// Args marshals entry function arguments.
func Args(values ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// SessionState is the ledger view of a session resource.
type SessionState struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant_count"`
	RewardPool       string `json:"reward_pool"`
}

// Session status values reported by the contract.
const (
	SessionStateActive    = "ACTIVE"
	SessionStateCompleted = "COMPLETED"
)
