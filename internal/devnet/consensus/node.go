// Package consensus replicates devnet ledger transactions through raft.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/devnet/state"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

const (
	membershipTimeout = 10 * time.Second
	transportPool     = 3
	transportTimeout  = 10 * time.Second
)

// Config describes one devnet ledger node.
type Config struct {
	NodeID   string
	RaftAddr string
	DataDir  string
	// Bootstrap forms a single-voter cluster when the data dir is empty.
	Bootstrap      bool
	SnapshotRetain int
	ApplyTimeout   time.Duration
	Contract       ledger.Contract
	Logger         zerolog.Logger
}

func (c Config) validate() (Config, error) {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.RaftAddr = strings.TrimSpace(c.RaftAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	for name, v := range map[string]string{
		"node id":          c.NodeID,
		"raft address":     c.RaftAddr,
		"data dir":         c.DataDir,
		"contract address": c.Contract.Address,
		"contract module":  c.Contract.Module,
	} {
		if v == "" {
			return c, fmt.Errorf("consensus: %s is required", name)
		}
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 2
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	return c, nil
}

type stores struct {
	log       *raftboltdb.BoltStore
	stable    *raftboltdb.BoltStore
	snapshots raft.SnapshotStore
}

func openStores(dir string, retain int, out io.Writer) (*stores, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-stable.bolt"))
	if err != nil {
		_ = logStore.Close()
		return nil, fmt.Errorf("open stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(dir, retain, out)
	if err != nil {
		_ = logStore.Close()
		_ = stableStore.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &stores{log: logStore, stable: stableStore, snapshots: snapshots}, nil
}

func (s *stores) close() error {
	return errors.Join(s.log.Close(), s.stable.Close())
}

// Node runs the contract state machine behind a raft log.
type Node struct {
	cfg       Config
	raft      *raft.Raft
	transport *raft.NetworkTransport
	stores    *stores
	machine   *state.Machine
	logger    zerolog.Logger
}

// NewNode opens the node's stores, starts raft and, when configured, bootstraps
// a fresh cluster.
func NewNode(cfg Config) (*Node, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger.With().Str("component", "raft").Str("node_id", cfg.NodeID).Logger()

	st, err := openStores(cfg.DataDir, cfg.SnapshotRetain, logger)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, nil, transportPool, transportTimeout, logger)
	if err != nil {
		_ = st.close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.RaftAddr, err)
	}

	machine := state.NewMachine(cfg.Contract)
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.LogOutput = logger
	raftCfg.LogLevel = "WARN"
	r, err := raft.NewRaft(raftCfg, &ledgerFSM{machine: machine}, st.log, st.stable, st.snapshots, transport)
	if err != nil {
		_ = transport.Close()
		_ = st.close()
		return nil, fmt.Errorf("start raft: %w", err)
	}

	n := &Node{cfg: cfg, raft: r, transport: transport, stores: st, machine: machine, logger: logger}
	if cfg.Bootstrap {
		if err := n.bootstrap(); err != nil {
			_ = n.Shutdown()
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) bootstrap() error {
	existing, err := raft.HasExistingState(n.stores.log, n.stores.stable, n.stores.snapshots)
	if err != nil {
		return fmt.Errorf("inspect raft state: %w", err)
	}
	if existing {
		return nil
	}
	self := raft.Server{ID: raft.ServerID(n.cfg.NodeID), Address: n.transport.LocalAddr()}
	err = n.raft.BootstrapCluster(raft.Configuration{Servers: []raft.Server{self}}).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	n.logger.Info().Str("raft_addr", string(self.Address)).Msg("bootstrapped devnet cluster")
	return nil
}

// budget caps def by the time left on ctx.
func budget(ctx context.Context, def time.Duration) (time.Duration, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return def, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(def, left), nil
}

// ApplyTx commits one signed transaction through the raft log and returns its
// receipt. Resubmitting an applied transaction returns the stored receipt.
func (n *Node) ApplyTx(ctx context.Context, tx protocol.Tx) (ledger.TxResult, error) {
	if err := tx.Verify(); err != nil {
		return ledger.TxResult{}, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return ledger.TxResult{}, err
	}
	if receipt, ok := n.machine.GetTransaction(hash); ok {
		return receipt, nil
	}
	entry, err := json.Marshal(tx)
	if err != nil {
		return ledger.TxResult{}, fmt.Errorf("encode tx: %w", err)
	}
	timeout, err := budget(ctx, n.cfg.ApplyTimeout)
	if err != nil {
		return ledger.TxResult{}, err
	}

	future := n.raft.Apply(entry, timeout)
	if err := future.Error(); err != nil {
		return ledger.TxResult{}, err
	}
	res, ok := future.Response().(applyResult)
	if !ok {
		return ledger.TxResult{}, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	return res.receipt, res.err
}

// AddVoter adds nodeID at raftAddr, first evicting any member that holds
// either the same id or the same address.
func (n *Node) AddVoter(ctx context.Context, nodeID, raftAddr string) error {
	id := raft.ServerID(strings.TrimSpace(nodeID))
	addr := raft.ServerAddress(strings.TrimSpace(raftAddr))
	if id == "" || addr == "" {
		return errors.New("node id and raft address are required")
	}
	timeout, err := budget(ctx, membershipTimeout)
	if err != nil {
		return err
	}
	current := n.raft.GetConfiguration()
	if err := current.Error(); err != nil {
		return err
	}
	for _, srv := range current.Configuration().Servers {
		switch {
		case srv.ID == id && srv.Address == addr:
			return nil
		case srv.ID == id, srv.Address == addr:
			if err := n.raft.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
				return fmt.Errorf("evict %s: %w", srv.ID, err)
			}
		}
	}
	if err := n.raft.AddVoter(id, addr, 0, timeout).Error(); err != nil {
		return err
	}
	n.logger.Info().Str("voter", string(id)).Str("raft_addr", string(addr)).Msg("voter added")
	return nil
}

// WaitForLeader blocks until the cluster has a leader and returns its address.
func (n *Node) WaitForLeader(ctx context.Context, pollInterval time.Duration) (string, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if addr := n.LeaderAddr(); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) ID() string              { return n.cfg.NodeID }
func (n *Node) RaftAddr() string        { return string(n.transport.LocalAddr()) }
func (n *Node) Machine() *state.Machine { return n.machine }
func (n *Node) IsLeader() bool          { return n.raft.State() == raft.Leader }
func (n *Node) State() string           { return n.raft.State().String() }

func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

func (n *Node) LeaderNodeID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// Shutdown stops raft, then releases the transport and stores.
func (n *Node) Shutdown() error {
	return errors.Join(
		n.raft.Shutdown().Error(),
		n.transport.Close(),
		n.stores.close(),
	)
}
