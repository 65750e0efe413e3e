package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/execution-hub/ledger-sync/internal/devnet/api"
	"github.com/execution-hub/ledger-sync/internal/devnet/consensus"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/logging"
)

type runtimeConfig struct {
	NodeID            string
	RaftAddr          string
	HTTPAddr          string
	DataDir           string
	Bootstrap         bool
	ApplyTimeout      time.Duration
	JoinEndpoint      string
	JoinRetries       int
	JoinRetryDelay    time.Duration
	StartupWaitLeader time.Duration
	Contract          ledger.Contract
	LogLevel          string
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, closer := logging.New(logging.Config{Level: cfg.LogLevel, File: os.Getenv("LOG_FILE"), Service: "devnet"})
	defer closer.Close()

	node, err := consensus.NewNode(consensus.Config{
		NodeID:         cfg.NodeID,
		RaftAddr:       cfg.RaftAddr,
		DataDir:        cfg.DataDir,
		Bootstrap:      cfg.Bootstrap,
		SnapshotRetain: 2,
		ApplyTimeout:   cfg.ApplyTimeout,
		Contract:       cfg.Contract,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create raft node")
	}
	defer func() {
		_ = node.Shutdown()
	}()

	if !cfg.Bootstrap && cfg.JoinEndpoint != "" {
		if err := joinCluster(cfg); err != nil {
			logger.Warn().Err(err).Str("endpoint", cfg.JoinEndpoint).Msg("join cluster failed")
		} else {
			logger.Info().Str("endpoint", cfg.JoinEndpoint).Msg("joined cluster")
		}
	}

	if cfg.StartupWaitLeader > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupWaitLeader)
		_, _ = node.WaitForLeader(ctx, 150*time.Millisecond)
		cancel()
	}

	apiServer := api.NewServer(node, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("node_id", cfg.NodeID).
			Str("raft_addr", cfg.RaftAddr).
			Bool("bootstrap", cfg.Bootstrap).
			Str("event_handle", cfg.Contract.EventHandle()).
			Msg("devnet http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := node.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("raft shutdown")
	}
}

func loadConfig() (*runtimeConfig, error) {
	hostname, _ := os.Hostname()
	nodeID := getenv("DEVNET_NODE_ID", strings.TrimSpace(hostname))
	if nodeID == "" {
		nodeID = "node-1"
	}
	dataDir := strings.TrimSpace(getenv("DEVNET_DATA_DIR", ""))
	if dataDir == "" {
		dataDir = filepath.Join("tmp", "devnet", nodeID)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	return &runtimeConfig{
		NodeID:            nodeID,
		RaftAddr:          getenv("DEVNET_RAFT_ADDR", "127.0.0.1:17000"),
		HTTPAddr:          getenv("DEVNET_HTTP_ADDR", "0.0.0.0:8090"),
		DataDir:           dataDir,
		Bootstrap:         parseBool(getenv("DEVNET_BOOTSTRAP", "true"), true),
		ApplyTimeout:      parseDuration(getenv("DEVNET_APPLY_TIMEOUT", "5s"), 5*time.Second),
		JoinEndpoint:      strings.TrimSpace(getenv("DEVNET_JOIN_ENDPOINT", "")),
		JoinRetries:       parseInt(getenv("DEVNET_JOIN_RETRIES", "30"), 30),
		JoinRetryDelay:    parseDuration(getenv("DEVNET_JOIN_RETRY_DELAY", "1s"), time.Second),
		StartupWaitLeader: parseDuration(getenv("DEVNET_STARTUP_WAIT_LEADER", "4s"), 4*time.Second),
		Contract: ledger.Contract{
			Address: getenv("CONTRACT_ADDRESS", "0x1"),
			Module:  getenv("CONTRACT_MODULE", "contribution"),
		},
		LogLevel: getenv("LOG_LEVEL", "info"),
	}, nil
}

func joinCluster(cfg *runtimeConfig) error {
	endpoint := strings.TrimRight(cfg.JoinEndpoint, "/") + "/v1/raft/join"
	body, err := json.Marshal(map[string]string{
		"node_id":   cfg.NodeID,
		"raft_addr": cfg.RaftAddr,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for i := 0; i < cfg.JoinRetries; i++ {
		req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(cfg.JoinRetryDelay)
			continue
		}
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("join returned status %d", resp.StatusCode)
		time.Sleep(cfg.JoinRetryDelay)
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}

func getenv(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func parseBool(raw string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func parseInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func parseDuration(raw string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
