// Package state is the deterministic devnet ledger: it executes the
// contribution contract's entry functions and keeps receipts, events and
// account resources.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

const (
	VMStatusExecuted = "Executed successfully"
	vmAbortPrefix    = "ABORTED: "

	baseGas     = 10
	gasPerEvent = 5
)

var ErrAlreadyApplied = errors.New("transaction already applied")

type Session struct {
	SessionID     string                  `json:"sessionId"`
	Creator       string                  `json:"creator"`
	Status        string                  `json:"status"`
	RewardPool    decimal.Decimal         `json:"rewardPool"`
	Participants  []string                `json:"participants"`
	Contributions map[string]Contribution `json:"contributions"`
	CreatedAt     time.Time               `json:"createdAt"`
	CompletedAt   *time.Time              `json:"completedAt,omitempty"`
}

type Contribution struct {
	Score       float64   `json:"score"`
	Quality     float64   `json:"quality"`
	TimeSpent   float64   `json:"timeSpent"`
	Accuracy    float64   `json:"accuracy"`
	Efficiency  float64   `json:"efficiency"`
	Consistency float64   `json:"consistency"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Store is the contract-wide resource.
type Store struct {
	SessionCount     int             `json:"session_count"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	TotalClaimed     decimal.Decimal `json:"total_claimed"`
}

type Stats struct {
	Version      int64 `json:"version"`
	Transactions int   `json:"transactions"`
	Events       int   `json:"events"`
	Sessions     int   `json:"sessions"`
	Claims       int   `json:"claims"`
}

type snapshot struct {
	Version   int64                      `json:"version"`
	Store     Store                      `json:"store"`
	Sessions  map[string]Session         `json:"sessions"`
	Receipts  map[string]ledger.TxResult `json:"receipts"`
	Events    []ledger.Event             `json:"events"`
	Sequences map[string]int64           `json:"sequences"`
	Claimed   map[string]string          `json:"claimed"`
}

// Machine is the deterministic contract state machine.
type Machine struct {
	contract ledger.Contract
	handle   string

	mu sync.RWMutex
	s  snapshot
}

func NewMachine(contract ledger.Contract) *Machine {
	return &Machine{
		contract: contract,
		handle:   contract.EventHandle(),
		s:        emptySnapshot(),
	}
}

func emptySnapshot() snapshot {
	return snapshot{
		Store:     Store{TotalDistributed: decimal.Zero, TotalClaimed: decimal.Zero},
		Sessions:  map[string]Session{},
		Receipts:  map[string]ledger.TxResult{},
		Sequences: map[string]int64{},
		Claimed:   map[string]string{},
	}
}

func (m *Machine) Contract() ledger.Contract { return m.contract }

// Marshal serializes current machine snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.s)
}

// Unmarshal restores machine state from snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	s := emptySnapshot()
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalizeSnapshot(&s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func normalizeSnapshot(s *snapshot) {
	if s.Sessions == nil {
		s.Sessions = map[string]Session{}
	}
	if s.Receipts == nil {
		s.Receipts = map[string]ledger.TxResult{}
	}
	if s.Sequences == nil {
		s.Sequences = map[string]int64{}
	}
	if s.Claimed == nil {
		s.Claimed = map[string]string{}
	}
	for id, sess := range s.Sessions {
		if sess.Contributions == nil {
			sess.Contributions = map[string]Contribution{}
			s.Sessions[id] = sess
		}
	}
}

// pendingEvent is buffered during execution and committed only on success.
type pendingEvent struct {
	name string
	data any
}

type execution struct {
	tx     protocol.Tx
	fn     string
	at     time.Time
	events []pendingEvent
}

func (e *execution) emit(name string, data any) {
	e.events = append(e.events, pendingEvent{name: name, data: data})
}

// ApplyTx verifies and executes one signed transaction. Signature and
// envelope problems are returned as errors and leave no trace. Contract
// aborts are recorded as a failed receipt.
func (m *Machine) ApplyTx(tx protocol.Tx) (ledger.TxResult, error) {
	if err := tx.Verify(); err != nil {
		return ledger.TxResult{}, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return ledger.TxResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt, ok := m.s.Receipts[hash]; ok {
		return receipt, ErrAlreadyApplied
	}

	m.s.Version++
	result := ledger.TxResult{Hash: hash, Version: m.s.Version, GasUsed: baseGas, Events: []ledger.Event{}}
	exec := &execution{tx: tx, at: tx.Timestamp.UTC()}
	if err := m.executeLocked(exec); err != nil {
		result.VMStatus = vmAbortPrefix + err.Error()
	} else {
		result.Success = true
		result.VMStatus = VMStatusExecuted
		for _, pe := range exec.events {
			ev, err := m.commitEventLocked(pe, result.Version, hash)
			if err != nil {
				return ledger.TxResult{}, err
			}
			result.Events = append(result.Events, ev)
		}
		result.GasUsed += int64(gasPerEvent * len(result.Events))
	}
	m.s.Receipts[hash] = result
	return result, nil
}

func (m *Machine) executeLocked(exec *execution) error {
	fn := exec.tx.Payload.Function
	prefix := m.contract.Function("")
	if !strings.HasPrefix(fn, prefix) {
		return fmt.Errorf("unknown module for %s", fn)
	}
	exec.fn = strings.TrimPrefix(fn, prefix)

	switch exec.fn {
	case ledger.FnCreateSession:
		return m.createSessionLocked(exec)
	case ledger.FnRegisterParticipant:
		return m.registerParticipantLocked(exec)
	case ledger.FnSubmitContribution:
		return m.submitContributionLocked(exec)
	case ledger.FnCompleteSession:
		return m.completeSessionLocked(exec)
	case ledger.FnDistributeRewards:
		return m.distributeRewardsLocked(exec)
	case ledger.FnClaimReward, ledger.FnBatchClaimRewards:
		return m.claimRewardsLocked(exec)
	default:
		return fmt.Errorf("unknown function %s", exec.fn)
	}
}

func (m *Machine) commitEventLocked(pe pendingEvent, version int64, hash string) (ledger.Event, error) {
	data, err := json.Marshal(pe.data)
	if err != nil {
		return ledger.Event{}, fmt.Errorf("encode event %s: %w", pe.name, err)
	}
	seq := m.s.Sequences[m.handle]
	m.s.Sequences[m.handle] = seq + 1
	ev := ledger.Event{
		GUID:            m.handle,
		SequenceNumber:  seq,
		Type:            m.handle + "::" + pe.name,
		Version:         version,
		TransactionHash: hash,
		Data:            data,
	}
	m.s.Events = append(m.s.Events, ev)
	return ev, nil
}

func (m *Machine) createSessionLocked(exec *execution) error {
	sessionID, err := protocol.Arg[string](exec.tx.Payload, 0)
	if err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session_id is required")
	}
	if _, ok := m.s.Sessions[sessionID]; ok {
		return fmt.Errorf("session already exists: %s", sessionID)
	}
	pool, err := amountArg(exec.tx.Payload, 1)
	if err != nil {
		return err
	}
	creator := ledger.NormalizeAddress(exec.tx.Sender)
	m.s.Sessions[sessionID] = Session{
		SessionID:     sessionID,
		Creator:       creator,
		Status:        ledger.SessionStateActive,
		RewardPool:    pool,
		Participants:  []string{},
		Contributions: map[string]Contribution{},
		CreatedAt:     exec.at,
	}
	m.s.Store.SessionCount++
	exec.emit(ledger.EventSessionCreated, ledger.SessionCreatedData{
		SessionID:  sessionID,
		Creator:    creator,
		RewardPool: pool.StringFixed(2),
	})
	return nil
}

func (m *Machine) registerParticipantLocked(exec *execution) error {
	sess, err := m.activeSessionLocked(exec.tx.Payload)
	if err != nil {
		return err
	}
	participant, err := addressArg(exec.tx.Payload, 1)
	if err != nil {
		return err
	}
	if containsString(sess.Participants, participant) {
		return fmt.Errorf("participant already registered: %s", participant)
	}
	sess.Participants = append(append([]string(nil), sess.Participants...), participant)
	m.s.Sessions[sess.SessionID] = sess
	exec.emit(ledger.EventParticipantRegistered, ledger.ParticipantRegisteredData{
		SessionID:   sess.SessionID,
		Participant: participant,
	})
	return nil
}

func (m *Machine) submitContributionLocked(exec *execution) error {
	sess, err := m.activeSessionLocked(exec.tx.Payload)
	if err != nil {
		return err
	}
	participant, err := addressArg(exec.tx.Payload, 1)
	if err != nil {
		return err
	}
	if !containsString(sess.Participants, participant) {
		return fmt.Errorf("participant not registered: %s", participant)
	}
	metrics := make([]float64, 6)
	for i := range metrics {
		if metrics[i], err = protocol.Arg[float64](exec.tx.Payload, i+2); err != nil {
			return err
		}
		if metrics[i] < 0 {
			return fmt.Errorf("argument %d must not be negative", i+2)
		}
	}
	c := Contribution{
		Score:       metrics[0],
		Quality:     metrics[1],
		TimeSpent:   metrics[2],
		Accuracy:    metrics[3],
		Efficiency:  metrics[4],
		Consistency: metrics[5],
		SubmittedAt: exec.at,
	}
	contributions := make(map[string]Contribution, len(sess.Contributions)+1)
	for k, v := range sess.Contributions {
		contributions[k] = v
	}
	contributions[participant] = c
	sess.Contributions = contributions
	m.s.Sessions[sess.SessionID] = sess
	exec.emit(ledger.EventContributionSubmitted, ledger.ContributionSubmittedData{
		SessionID:   sess.SessionID,
		Participant: participant,
		Score:       c.Score,
		Quality:     c.Quality,
		TimeSpent:   c.TimeSpent,
		Accuracy:    c.Accuracy,
		Efficiency:  c.Efficiency,
		Consistency: c.Consistency,
	})
	return nil
}

func (m *Machine) completeSessionLocked(exec *execution) error {
	sess, err := m.activeSessionLocked(exec.tx.Payload)
	if err != nil {
		return err
	}
	if ledger.NormalizeAddress(exec.tx.Sender) != sess.Creator {
		return errors.New("only the session creator can complete it")
	}
	at := exec.at
	sess.Status = ledger.SessionStateCompleted
	sess.CompletedAt = &at
	m.s.Sessions[sess.SessionID] = sess
	exec.emit(ledger.EventSessionCompleted, ledger.SessionCompletedData{
		SessionID:        sess.SessionID,
		ParticipantCount: len(sess.Participants),
	})
	return nil
}

func (m *Machine) distributeRewardsLocked(exec *execution) error {
	sessionID, err := protocol.Arg[string](exec.tx.Payload, 0)
	if err != nil {
		return err
	}
	if _, ok := m.s.Sessions[strings.TrimSpace(sessionID)]; !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	recipient, err := addressArg(exec.tx.Payload, 1)
	if err != nil {
		return err
	}
	amount, err := amountArg(exec.tx.Payload, 2)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	types, err := protocol.Arg[[]string](exec.tx.Payload, 3)
	if err != nil {
		return err
	}
	// A single-type distribution is reported with its type; aggregates
	// fall back to the contract default.
	rewardType := ""
	if len(types) == 1 {
		rewardType = types[0]
	}
	m.s.Store.TotalDistributed = m.s.Store.TotalDistributed.Add(amount)
	exec.emit(ledger.EventRewardDistributed, ledger.RewardDistributedData{
		SessionID:  strings.TrimSpace(sessionID),
		Recipient:  recipient,
		Amount:     amount.StringFixed(2),
		RewardType: rewardType,
	})
	return nil
}

func (m *Machine) claimRewardsLocked(exec *execution) error {
	ids, err := protocol.Arg[[]string](exec.tx.Payload, 0)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("reward_ids are required")
	}
	if exec.fn == ledger.FnClaimReward && len(ids) != 1 {
		return errors.New("claim_reward takes exactly one reward id")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate reward id: %s", id)
		}
		seen[id] = struct{}{}
		if _, claimed := m.s.Claimed[id]; claimed {
			return fmt.Errorf("reward already claimed: %s", id)
		}
	}
	claimant, err := addressArg(exec.tx.Payload, 1)
	if err != nil {
		return err
	}
	amount, err := amountArg(exec.tx.Payload, 2)
	if err != nil {
		return err
	}
	hash, err := exec.tx.Hash()
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.s.Claimed[id] = hash
	}
	m.s.Store.TotalClaimed = m.s.Store.TotalClaimed.Add(amount)
	exec.emit(ledger.EventRewardClaimed, ledger.RewardClaimedData{
		Claimant:  claimant,
		RewardIDs: append([]string(nil), ids...),
		Amount:    amount.StringFixed(2),
	})
	return nil
}

func (m *Machine) activeSessionLocked(fn ledger.EntryFunction) (Session, error) {
	sessionID, err := protocol.Arg[string](fn, 0)
	if err != nil {
		return Session{}, err
	}
	sess, ok := m.s.Sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return Session{}, fmt.Errorf("session not found: %s", sessionID)
	}
	if sess.Status != ledger.SessionStateActive {
		return Session{}, fmt.Errorf("session %s is %s", sess.SessionID, sess.Status)
	}
	return sess, nil
}

func addressArg(fn ledger.EntryFunction, i int) (string, error) {
	raw, err := protocol.Arg[string](fn, i)
	if err != nil {
		return "", err
	}
	addr := ledger.NormalizeAddress(raw)
	if addr == "" {
		return "", fmt.Errorf("argument %d: address is required", i)
	}
	return addr, nil
}

func amountArg(fn ledger.EntryFunction, i int) (decimal.Decimal, error) {
	raw, err := protocol.Arg[string](fn, i)
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("argument %d: %w", i, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("argument %d must not be negative", i)
	}
	return amount, nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// GetTransaction returns the receipt for hash.
func (m *Machine) GetTransaction(hash string) (ledger.TxResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.s.Receipts[strings.ToLower(strings.TrimSpace(hash))]
	return r, ok
}

// Events returns events under handle with version >= fromVersion, oldest first.
func (m *Machine) Events(handle string, fromVersion int64, limit int) []ledger.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if handle != m.handle {
		return []ledger.Event{}
	}
	// events are appended in version order
	start := sort.Search(len(m.s.Events), func(i int) bool {
		return m.s.Events[i].Version >= fromVersion
	})
	end := len(m.s.Events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ledger.Event, end-start)
	copy(out, m.s.Events[start:end])
	return out
}

// Resource returns the JSON view of an account resource.
func (m *Machine) Resource(address, resourceType string) (json.RawMessage, bool, error) {
	if ledger.NormalizeAddress(address) != ledger.NormalizeAddress(m.contract.Address) {
		return nil, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if resourceType == m.contract.StoreResourceType() {
		b, err := json.Marshal(m.s.Store)
		return b, err == nil, err
	}
	prefix := strings.TrimSuffix(m.contract.SessionResourceType(""), ">")
	if !strings.HasPrefix(resourceType, prefix) || !strings.HasSuffix(resourceType, ">") {
		return nil, false, nil
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(resourceType, prefix), ">")
	sess, ok := m.s.Sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	b, err := json.Marshal(ledger.SessionState{
		SessionID:        sess.SessionID,
		Status:           sess.Status,
		ParticipantCount: len(sess.Participants),
		RewardPool:       sess.RewardPool.StringFixed(2),
	})
	return b, err == nil, err
}

// GetSession returns one session.
func (m *Machine) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.s.Sessions[sessionID]
	return sess, ok
}

func (m *Machine) StateStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Version:      m.s.Version,
		Transactions: len(m.s.Receipts),
		Events:       len(m.s.Events),
		Sessions:     len(m.s.Sessions),
		Claims:       len(m.s.Claimed),
	}
}
