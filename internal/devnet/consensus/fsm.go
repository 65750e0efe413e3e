package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/devnet/state"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

type applyResult struct {
	receipt ledger.TxResult
	err     error
}

// ledgerFSM feeds committed log entries to the contract state machine.
type ledgerFSM struct {
	machine *state.Machine
}

func (f *ledgerFSM) Apply(entry *raft.Log) interface{} {
	var tx protocol.Tx
	if err := json.Unmarshal(entry.Data, &tx); err != nil {
		return applyResult{err: fmt.Errorf("decode tx at index %d: %w", entry.Index, err)}
	}
	receipt, err := f.machine.ApplyTx(tx)
	if errors.Is(err, state.ErrAlreadyApplied) {
		err = nil
	}
	return applyResult{receipt: receipt, err: err}
}

func (f *ledgerFSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.machine.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal ledger state: %w", err)
	}
	return ledgerSnapshot(data), nil
}

func (f *ledgerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return f.machine.Unmarshal(data)
}

// ledgerSnapshot is the serialized machine state at snapshot time.
type ledgerSnapshot []byte

func (s ledgerSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s); err != nil {
		return errors.Join(err, sink.Cancel())
	}
	return sink.Close()
}

func (ledgerSnapshot) Release() {}
