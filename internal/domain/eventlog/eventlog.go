package eventlog

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of platform-meaningful ledger events.
type Kind string

const (
	KindSessionCreated        Kind = "SESSION_CREATED"
	KindParticipantRegistered Kind = "PARTICIPANT_REGISTERED"
	KindContributionSubmitted Kind = "CONTRIBUTION_SUBMITTED"
	KindSessionCompleted      Kind = "SESSION_COMPLETED"
	KindRewardDistributed     Kind = "REWARD_DISTRIBUTED"
	KindRewardClaimed         Kind = "REWARD_CLAIMED"
	KindUnknown               Kind = "UNKNOWN"
)

// Kinds lists every dispatchable kind. KindUnknown is deliberately absent.
var Kinds = []Kind{
	KindSessionCreated,
	KindParticipantRegistered,
	KindContributionSubmitted,
	KindSessionCompleted,
	KindRewardDistributed,
	KindRewardClaimed,
}

// ledger struct names, without the module prefix and "Event" suffix
var kindByStructName = map[string]Kind{
	"SessionCreated":        KindSessionCreated,
	"ParticipantRegistered": KindParticipantRegistered,
	"ContributionSubmitted": KindContributionSubmitted,
	"SessionCompleted":      KindSessionCompleted,
	"RewardDistributed":     KindRewardDistributed,
	"RewardClaimed":         KindRewardClaimed,
}

// Classify maps a ledger event type descriptor such as
// "0xc0ffee::contribution::SessionCreatedEvent" to a Kind.
func Classify(descriptor string) Kind {
	name := strings.TrimSpace(descriptor)
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.Index(name, "<"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "Event")
	if kind, ok := kindByStructName[name]; ok {
		return kind
	}
	return KindUnknown
}

// Status represents the processing state of an ingested event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
	StatusIgnored   Status = "IGNORED"
)

const DefaultMaxRetries = 3

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("event already ingested")
	ErrCannotRetry       = errors.New("event cannot be retried")
)

// EventLog is the durable record of one ledger event.
// (EventGUID, SequenceNumber) is the idempotency key.
type EventLog struct {
	ID              int64           `json:"id"`
	EventLogID      uuid.UUID       `json:"eventLogId"`
	EventType       Kind            `json:"eventType"`
	Status          Status          `json:"status"`
	TransactionHash string          `json:"transactionHash"`
	BlockHeight     int64           `json:"blockHeight"`
	EventGUID       string          `json:"eventGuid"`
	SequenceNumber  int64           `json:"sequenceNumber"`
	EventData       json.RawMessage `json:"eventData"`
	ProcessedData   json.RawMessage `json:"processedData,omitempty"`
	ErrorMessage    *string         `json:"errorMessage,omitempty"`
	RetryCount      int             `json:"retryCount"`
	MaxRetries      int             `json:"maxRetries"`
	CreatedAt       time.Time       `json:"createdAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	LastRetryAt     *time.Time      `json:"lastRetryAt,omitempty"`
}

// NewEventLog creates a pending record for an event about to be dispatched.
func NewEventLog(kind Kind, txHash string, blockHeight int64, guid string, seq int64, data json.RawMessage, at time.Time) *EventLog {
	status := StatusPending
	if kind == KindUnknown {
		status = StatusIgnored
	}
	return &EventLog{
		EventLogID:      uuid.New(),
		EventType:       kind,
		Status:          status,
		TransactionHash: txHash,
		BlockHeight:     blockHeight,
		EventGUID:       guid,
		SequenceNumber:  seq,
		EventData:       data,
		MaxRetries:      DefaultMaxRetries,
		CreatedAt:       at,
	}
}

// CanTransitionTo checks if a transition to the target status is valid.
func (e *EventLog) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusProcessed, StatusFailed},
		StatusFailed:    {StatusProcessed, StatusFailed},
		StatusProcessed: {},
		StatusIgnored:   {},
	}
	for _, s := range transitions[e.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// MarkProcessed records the handler result.
func (e *EventLog) MarkProcessed(result json.RawMessage, at time.Time) error {
	if !e.CanTransitionTo(StatusProcessed) {
		return ErrInvalidTransition
	}
	e.Status = StatusProcessed
	e.ProcessedData = result
	e.ErrorMessage = nil
	e.ProcessedAt = &at
	return nil
}

// MarkFailed records a handler error and counts the attempt.
func (e *EventLog) MarkFailed(errMsg string, at time.Time) error {
	if !e.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	e.Status = StatusFailed
	e.ErrorMessage = &errMsg
	e.RetryCount++
	return nil
}

// CanRetry checks if the retry sweep may re-dispatch the event.
func (e *EventLog) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// TouchRetry stamps a retry attempt.
func (e *EventLog) TouchRetry(at time.Time) error {
	if !e.CanRetry() {
		return ErrCannotRetry
	}
	e.LastRetryAt = &at
	return nil
}

// StatusCount is a count for one status.
type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}
