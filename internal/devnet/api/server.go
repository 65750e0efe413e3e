// Package api exposes the devnet ledger over HTTP in the shape the sync
// engine's ledger client expects.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/devnet/state"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Node is what the server needs from a consensus node.
type Node interface {
	ApplyTx(ctx context.Context, tx protocol.Tx) (ledger.TxResult, error)
	AddVoter(ctx context.Context, nodeID, raftAddr string) error
	ID() string
	State() string
	IsLeader() bool
	LeaderAddr() string
	LeaderNodeID() string
	Machine() *state.Machine
}

// Server provides the devnet ledger HTTP endpoints.
type Server struct {
	node   Node
	logger zerolog.Logger
}

func NewServer(node Node, logger zerolog.Logger) *Server {
	return &Server{
		node:   node,
		logger: logger.With().Str("component", "devnet-api").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/transactions", s.submitTx)
		r.Get("/transactions/by_hash/{hash}", s.getTransaction)
		r.Get("/events", s.listEvents)
		r.Get("/accounts/{address}/resource/*", s.getResource)
		r.Get("/stats", s.stats)
		r.Post("/raft/join", s.raftJoin)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"nodeId":   s.node.ID(),
		"state":    s.node.State(),
		"leader":   s.node.LeaderAddr(),
		"leaderId": s.node.LeaderNodeID(),
	})
}

func (s *Server) submitTx(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.notLeader(w, "submit to leader")
		return
	}
	var tx protocol.Tx
	if err := decodeBody(r, &tx); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	receipt, err := s.node.ApplyTx(r.Context(), tx)
	if err != nil {
		if isLeadershipErr(err) {
			s.notLeader(w, err.Error())
			return
		}
		s.logger.Warn().Err(err).Str("sender", tx.Sender).Msg("transaction rejected")
		respondError(w, http.StatusBadRequest, "TX_REJECTED", err.Error(), nil)
		return
	}
	s.logger.Debug().
		Str("hash", receipt.Hash).
		Bool("success", receipt.Success).
		Int64("version", receipt.Version).
		Msg("transaction applied")
	respondJSON(w, http.StatusAccepted, protocol.SubmitResponse{Hash: receipt.Hash})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(chi.URLParam(r, "hash"))
	receipt, ok := s.node.Machine().GetTransaction(hash)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "transaction not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	handle := strings.TrimSpace(q.Get("handle"))
	if handle == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "handle is required", nil)
		return
	}
	var start int64
	if raw := strings.TrimSpace(q.Get("start")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "start must be a non-negative integer", nil)
			return
		}
		start = parsed
	}
	limit := parseLimit(q.Get("limit"), defaultEventLimit, maxEventLimit)
	respondJSON(w, http.StatusOK, s.node.Machine().Events(handle, start, limit))
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	resourceType, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || resourceType == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "resource type is required", nil)
		return
	}
	raw, ok, err := s.node.Machine().Resource(address, resourceType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type": resourceType,
		"data": raw,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.node.Machine().StateStats())
}

type raftJoinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.notLeader(w, "submit to leader")
		return
	}
	var req raftJoinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.AddVoter(r.Context(), req.NodeID, req.RaftAddr); err != nil {
		if isLeadershipErr(err) {
			s.notLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "JOIN_FAILED", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

func (s *Server) notLeader(w http.ResponseWriter, message string) {
	respondError(w, http.StatusConflict, "NOT_LEADER", message, map[string]any{
		"leader":    s.node.LeaderAddr(),
		"leader_id": s.node.LeaderNodeID(),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimit(raw string, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		limit = parsed
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}

func isLeadershipErr(err error) bool {
	return errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress)
}
