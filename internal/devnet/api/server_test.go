package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/devnet/state"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/keystore"
)

var testContract = ledger.Contract{Address: "0x1", Module: "contribution"}

// localNode applies transactions straight to a machine.
type localNode struct {
	machine *state.Machine
	leader  bool
}

func (n *localNode) ApplyTx(_ context.Context, tx protocol.Tx) (ledger.TxResult, error) {
	res, err := n.machine.ApplyTx(tx)
	if err == state.ErrAlreadyApplied {
		return res, nil
	}
	return res, err
}
func (n *localNode) AddVoter(context.Context, string, string) error { return nil }
func (n *localNode) ID() string                                     { return "node-1" }
func (n *localNode) State() string                                  { return "Leader" }
func (n *localNode) IsLeader() bool                                 { return n.leader }
func (n *localNode) LeaderAddr() string                             { return "127.0.0.1:17000" }
func (n *localNode) LeaderNodeID() string                           { return "node-1" }
func (n *localNode) Machine() *state.Machine                        { return n.machine }

func newTestServer(t *testing.T, leader bool) (*httptest.Server, *keystore.Signer) {
	t.Helper()
	node := &localNode{machine: state.NewMachine(testContract), leader: leader}
	srv := httptest.NewServer(NewServer(node, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	signer, err := keystore.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return srv, signer
}

func signedTx(t *testing.T, signer *keystore.Signer, nonce, fn string, args ...any) protocol.Tx {
	t.Helper()
	raw, err := ledger.Args(args...)
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	tx := protocol.Tx{
		Nonce:     nonce,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:   ledger.EntryFunction{Function: testContract.Function(fn), Arguments: raw},
	}
	if err := tx.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitAndReadBack(t *testing.T) {
	srv, signer := newTestServer(t, true)

	resp := post(t, srv.URL+"/v1/transactions", signedTx(t, signer, "n1", ledger.FnCreateSession, "s-1", "50"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d", resp.StatusCode)
	}
	var submitted protocol.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil || submitted.Hash == "" {
		t.Fatalf("decode submit: %v %+v", err, submitted)
	}

	txResp := get(t, srv.URL+"/v1/transactions/by_hash/"+submitted.Hash)
	if txResp.StatusCode != http.StatusOK {
		t.Fatalf("by_hash status %d", txResp.StatusCode)
	}
	var receipt ledger.TxResult
	if err := json.NewDecoder(txResp.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if !receipt.Success || len(receipt.Events) != 1 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	evResp := get(t, srv.URL+"/v1/events?handle="+url.QueryEscape(testContract.EventHandle())+"&start=0&limit=10")
	var events []ledger.Event
	if err := json.NewDecoder(evResp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].TransactionHash != submitted.Hash {
		t.Fatalf("unexpected events: %+v", events)
	}

	resType := url.PathEscape(testContract.SessionResourceType("s-1"))
	resResp := get(t, srv.URL+"/v1/accounts/0x1/resource/"+resType)
	if resResp.StatusCode != http.StatusOK {
		t.Fatalf("resource status %d", resResp.StatusCode)
	}
	var body struct {
		Data ledger.SessionState `json:"data"`
	}
	if err := json.NewDecoder(resResp.Body).Decode(&body); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if body.Data.Status != ledger.SessionStateActive {
		t.Fatalf("unexpected resource: %+v", body.Data)
	}
}

func TestNotFoundResponses(t *testing.T) {
	srv, _ := newTestServer(t, true)

	if resp := get(t, srv.URL+"/v1/transactions/by_hash/0xdead"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown hash status %d", resp.StatusCode)
	}
	resType := url.PathEscape(testContract.SessionResourceType("missing"))
	if resp := get(t, srv.URL+"/v1/accounts/0x1/resource/"+resType); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown resource status %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/v1/events"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing handle status %d", resp.StatusCode)
	}
}

func TestSubmitRejections(t *testing.T) {
	srv, signer := newTestServer(t, true)

	tx := signedTx(t, signer, "n1", ledger.FnCreateSession, "s-1", "50")
	tx.Nonce = "forged"
	if resp := post(t, srv.URL+"/v1/transactions", tx); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("forged tx status %d", resp.StatusCode)
	}

	follower, signer2 := newTestServer(t, false)
	resp := post(t, follower.URL+"/v1/transactions", signedTx(t, signer2, "n1", ledger.FnCreateSession, "s-1", "50"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("follower status %d", resp.StatusCode)
	}
}
