package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/keystore"
)

var testContract = ledger.Contract{Address: "0x1", Module: "contribution"}

type harness struct {
	t       *testing.T
	m       *Machine
	admin   *keystore.Signer
	nonce   int
	clock   time.Time
	alice   string
	bob     string
	session string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	admin, err := keystore.Generate()
	if err != nil {
		t.Fatalf("generate admin: %v", err)
	}
	return &harness{
		t:       t,
		m:       NewMachine(testContract),
		admin:   admin,
		clock:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		alice:   "0xa11ce",
		bob:     "0xb0b",
		session: "5c1e4d6a-0000-4000-8000-000000000001",
	}
}

func (h *harness) tx(signer *keystore.Signer, fn string, args ...any) protocol.Tx {
	h.t.Helper()
	raw, err := ledger.Args(args...)
	if err != nil {
		h.t.Fatalf("args: %v", err)
	}
	h.nonce++
	h.clock = h.clock.Add(time.Second)
	tx := protocol.Tx{
		Nonce:     fmt.Sprintf("n-%d", h.nonce),
		Timestamp: h.clock,
		Payload:   ledger.EntryFunction{Function: testContract.Function(fn), Arguments: raw},
	}
	if err := tx.Sign(signer); err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return tx
}

func (h *harness) apply(fn string, args ...any) ledger.TxResult {
	h.t.Helper()
	res, err := h.m.ApplyTx(h.tx(h.admin, fn, args...))
	if err != nil {
		h.t.Fatalf("apply %s: %v", fn, err)
	}
	return res
}

func (h *harness) mustSucceed(fn string, args ...any) ledger.TxResult {
	h.t.Helper()
	res := h.apply(fn, args...)
	if !res.Success {
		h.t.Fatalf("%s aborted: %s", fn, res.VMStatus)
	}
	return res
}

func TestSessionLifecycleEmitsEvents(t *testing.T) {
	h := newHarness(t)

	created := h.mustSucceed(ledger.FnCreateSession, h.session, "1000.00")
	h.mustSucceed(ledger.FnRegisterParticipant, h.session, h.alice)
	h.mustSucceed(ledger.FnRegisterParticipant, h.session, h.bob)
	h.mustSucceed(ledger.FnSubmitContribution, h.session, h.alice, 80.0, 0.9, 600.0, 0.8, 0.7, 0.9)
	completed := h.mustSucceed(ledger.FnCompleteSession, h.session)

	if len(created.Events) != 1 || eventlog.Classify(created.Events[0].Type) != eventlog.KindSessionCreated {
		t.Fatalf("unexpected create events: %+v", created.Events)
	}
	var done ledger.SessionCompletedData
	if err := json.Unmarshal(completed.Events[0].Data, &done); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if done.ParticipantCount != 2 || done.SessionID != h.session {
		t.Fatalf("unexpected completion payload: %+v", done)
	}

	events := h.m.Events(testContract.EventHandle(), 0, 0)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	wantKinds := []eventlog.Kind{
		eventlog.KindSessionCreated,
		eventlog.KindParticipantRegistered,
		eventlog.KindParticipantRegistered,
		eventlog.KindContributionSubmitted,
		eventlog.KindSessionCompleted,
	}
	for i, ev := range events {
		if ev.SequenceNumber != int64(i) {
			t.Fatalf("event %d has sequence %d", i, ev.SequenceNumber)
		}
		if ev.GUID != testContract.EventHandle() {
			t.Fatalf("event %d has guid %s", i, ev.GUID)
		}
		if i > 0 && ev.Version <= events[i-1].Version {
			t.Fatalf("versions not increasing at %d", i)
		}
		if got := eventlog.Classify(ev.Type); got != wantKinds[i] {
			t.Fatalf("event %d classified %s, want %s", i, got, wantKinds[i])
		}
	}

	raw, ok, err := h.m.Resource(testContract.Address, testContract.SessionResourceType(h.session))
	if err != nil || !ok {
		t.Fatalf("session resource: ok=%v err=%v", ok, err)
	}
	var state ledger.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode session state: %v", err)
	}
	if state.Status != ledger.SessionStateCompleted || state.ParticipantCount != 2 || state.RewardPool != "1000.00" {
		t.Fatalf("unexpected session state: %+v", state)
	}
}

func TestAbortedExecutionRecordsFailedReceipt(t *testing.T) {
	h := newHarness(t)

	res := h.apply(ledger.FnRegisterParticipant, "missing", h.alice)
	if res.Success {
		t.Fatal("expected abort for unknown session")
	}
	if len(res.Events) != 0 {
		t.Fatalf("aborted tx emitted events: %+v", res.Events)
	}
	stored, ok := h.m.GetTransaction(res.Hash)
	if !ok || stored.Success || stored.VMStatus != res.VMStatus {
		t.Fatalf("receipt not stored: %+v", stored)
	}
	if got := h.m.Events(testContract.EventHandle(), 0, 0); len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}

	h.mustSucceed(ledger.FnCreateSession, h.session, "10")
	next := h.m.Events(testContract.EventHandle(), 0, 0)
	if len(next) != 1 || next[0].SequenceNumber != 0 {
		t.Fatalf("abort must not consume sequence numbers: %+v", next)
	}
}

func TestCompleteSessionRequiresCreator(t *testing.T) {
	h := newHarness(t)
	h.mustSucceed(ledger.FnCreateSession, h.session, "10")

	stranger, _ := keystore.Generate()
	res, err := h.m.ApplyTx(h.tx(stranger, ledger.FnCompleteSession, h.session))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Success {
		t.Fatal("non-creator completed the session")
	}
}

func TestClaimsAreSingleUse(t *testing.T) {
	h := newHarness(t)
	h.mustSucceed(ledger.FnCreateSession, h.session, "10")
	h.mustSucceed(ledger.FnDistributeRewards, h.session, h.alice, "2.50", []string{"PARTICIPATION"})

	claim := h.mustSucceed(ledger.FnBatchClaimRewards, []string{"r-1", "r-2"}, h.alice, "2.50")
	var data ledger.RewardClaimedData
	if err := json.Unmarshal(claim.Events[0].Data, &data); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if len(data.RewardIDs) != 2 || data.Claimant != h.alice {
		t.Fatalf("unexpected claim payload: %+v", data)
	}

	again := h.apply(ledger.FnClaimReward, []string{"r-2"}, h.alice, "1.00")
	if again.Success {
		t.Fatal("reward claimed twice")
	}

	raw, ok, _ := h.m.Resource(testContract.Address, testContract.StoreResourceType())
	if !ok {
		t.Fatal("store resource missing")
	}
	var store Store
	if err := json.Unmarshal(raw, &store); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	if store.SessionCount != 1 || store.TotalClaimed.StringFixed(2) != "2.50" || store.TotalDistributed.StringFixed(2) != "2.50" {
		t.Fatalf("unexpected store: %+v", store)
	}
}

func TestDuplicateTxIsNotReapplied(t *testing.T) {
	h := newHarness(t)
	tx := h.tx(h.admin, ledger.FnCreateSession, h.session, "10")
	first, err := h.m.ApplyTx(tx)
	if err != nil || !first.Success {
		t.Fatalf("first apply: %+v %v", first, err)
	}
	second, err := h.m.ApplyTx(tx)
	if !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if second.Hash != first.Hash || h.m.StateStats().Events != 1 {
		t.Fatalf("duplicate tx changed state: %+v", h.m.StateStats())
	}
}

func TestRejectsTamperedTx(t *testing.T) {
	h := newHarness(t)
	tx := h.tx(h.admin, ledger.FnCreateSession, h.session, "10")
	tx.Nonce = "forged"
	if _, err := h.m.ApplyTx(tx); err == nil {
		t.Fatal("expected signature failure")
	}
	if h.m.StateStats().Transactions != 0 {
		t.Fatal("rejected tx left a receipt")
	}
}

func TestEventsPagingIsInclusive(t *testing.T) {
	h := newHarness(t)
	h.mustSucceed(ledger.FnCreateSession, h.session, "10")
	second := h.mustSucceed(ledger.FnRegisterParticipant, h.session, h.alice)
	h.mustSucceed(ledger.FnRegisterParticipant, h.session, h.bob)

	page := h.m.Events(testContract.EventHandle(), second.Version, 1)
	if len(page) != 1 || page[0].Version != second.Version {
		t.Fatalf("expected the event at version %d, got %+v", second.Version, page)
	}
	if got := h.m.Events("0x2::other", 0, 0); len(got) != 0 {
		t.Fatalf("foreign handle returned %d events", len(got))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.mustSucceed(ledger.FnCreateSession, h.session, "10")
	h.mustSucceed(ledger.FnRegisterParticipant, h.session, h.alice)

	data, err := h.m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewMachine(testContract)
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.StateStats() != h.m.StateStats() {
		t.Fatalf("stats differ: %+v vs %+v", restored.StateStats(), h.m.StateStats())
	}
	sess, ok := restored.GetSession(h.session)
	if !ok || len(sess.Participants) != 1 {
		t.Fatalf("session not restored: %+v", sess)
	}
}
