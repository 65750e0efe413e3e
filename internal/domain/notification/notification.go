package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the sync engine.
const (
	EventTransactionCreated   = "transaction:created"
	EventTransactionSubmitted = "transaction:submitted"
	EventTransactionConfirmed = "transaction:confirmed"
	EventTransactionFailed    = "transaction:failed"

	EventSessionCreated        = "session:created"
	EventSessionCompleted      = "session:completed"
	EventParticipantRegistered = "session:participant_registered"
	EventContributionRecorded  = "session:contribution_recorded"

	EventRewardAvailable   = "reward:available"
	EventRewardClaimed     = "reward:claimed"
	EventRewardDistributed = "reward:distributed"

	EventRewardsExpired   = "system:rewards_expired"
	EventEventsCleaned    = "system:events_cleaned"
	EventAlert            = "system:alert"
	EventLedgerUnhealthy  = "system:ledger_unhealthy"
	EventLedgerRecovered  = "system:ledger_recovered"
	EventStatisticsReport = "system:statistics"
)

// GroupAll is the SSE group every client implicitly belongs to.
const GroupAll = "all"

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// Message is one notification on its way to subscribers.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	UserID    *uuid.UUID      `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a message. A nil userID addresses every subscriber.
func NewMessage(event string, userID *uuid.UUID, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      *string
	ConnectedAt time.Time
	MessageChan chan *Message
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}
