package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/ledger-sync/internal/devnet/api"
	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/devnet/state"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/keystore"
)

var contract = ledger.Contract{Address: "0x1", Module: "contribution"}

type machineNode struct {
	machine *state.Machine
}

func (n *machineNode) ApplyTx(_ context.Context, tx protocol.Tx) (ledger.TxResult, error) {
	res, err := n.machine.ApplyTx(tx)
	if errors.Is(err, state.ErrAlreadyApplied) {
		return res, nil
	}
	return res, err
}
func (n *machineNode) AddVoter(context.Context, string, string) error { return nil }
func (n *machineNode) ID() string                                     { return "devnet-1" }
func (n *machineNode) State() string                                  { return "Leader" }
func (n *machineNode) IsLeader() bool                                 { return true }
func (n *machineNode) LeaderAddr() string                             { return "" }
func (n *machineNode) LeaderNodeID() string                           { return "devnet-1" }
func (n *machineNode) Machine() *state.Machine                        { return n.machine }

func newDevnetClient(t *testing.T) *Client {
	t.Helper()
	node := &machineNode{machine: state.NewMachine(contract)}
	srv := httptest.NewServer(api.NewServer(node, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", RequestsPerSecond: 1000, Burst: 10}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func entry(t *testing.T, fn string, args ...any) ledger.EntryFunction {
	t.Helper()
	raw, err := ledger.Args(args...)
	require.NoError(t, err)
	return ledger.EntryFunction{Function: contract.Function(fn), Arguments: raw}
}

func TestRoundTripAgainstDevnet(t *testing.T) {
	c := newDevnetClient(t)
	signer, err := keystore.Generate()
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := c.SignAndSubmit(ctx, signer, entry(t, ledger.FnCreateSession, "s-1", "100.00"))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	res, err := c.GetTransaction(ctx, hash)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Events, 1)

	events, err := c.GetEvents(ctx, contract.EventHandle(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.KindSessionCreated, eventlog.Classify(events[0].Type))

	raw, err := c.GetAccountResource(ctx, contract.Address, contract.SessionResourceType("s-1"))
	require.NoError(t, err)
	var sess ledger.SessionState
	require.NoError(t, json.Unmarshal(raw, &sess))
	assert.Equal(t, ledger.SessionStateActive, sess.Status)
	assert.Equal(t, "100.00", sess.RewardPool)
}

func TestMissingRecordsMapToSentinels(t *testing.T) {
	c := newDevnetClient(t)
	ctx := context.Background()

	_, err := c.GetTransaction(ctx, "0xabc")
	assert.ErrorIs(t, err, ledger.ErrTxNotFound)
	assert.True(t, apperror.Retryable(err))

	_, err = c.GetAccountResource(ctx, contract.Address, contract.SessionResourceType("nope"))
	assert.ErrorIs(t, err, ledger.ErrResourceNotFound)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "bad request is rejected", status: http.StatusBadRequest, want: apperror.ErrLedgerRejected},
		{name: "server error is unavailable", status: http.StatusBadGateway, want: apperror.ErrLedgerUnavailable},
		{name: "not leader is unavailable", status: http.StatusConflict, want: apperror.ErrLedgerUnavailable},
		{name: "throttled is unavailable", status: http.StatusTooManyRequests, want: apperror.ErrLedgerUnavailable},
	}
	signer, err := keystore.Generate()
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()
			c, err := New(Config{BaseURL: srv.URL}, zerolog.Nop())
			require.NoError(t, err)

			_, err = c.SignAndSubmit(context.Background(), signer, entry(t, ledger.FnCompleteSession, "s-1"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base}, zerolog.Nop())
	require.NoError(t, err)
	_, err = c.GetEvents(context.Background(), contract.EventHandle(), 0, 10)
	assert.ErrorIs(t, err, apperror.ErrLedgerUnavailable)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
}

func TestSubmitWithoutSigner(t *testing.T) {
	c := newDevnetClient(t)
	_, err := c.SignAndSubmit(context.Background(), nil, entry(t, ledger.FnCompleteSession, "s-1"))
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
}
