// Package ledgerclient talks to the ledger HTTP API.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

const maxErrorBody = 4 << 10

// Config controls the HTTP client.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client implements ledger.Client over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a client. A non-positive rate disables throttling.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, apperror.Configuration("ledger base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, apperror.Configuration("invalid ledger base url: %v", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "ledger-client").Logger(),
	}, nil
}

// SignAndSubmit wraps fn in a signed envelope and submits it.
func (c *Client) SignAndSubmit(ctx context.Context, signer ledger.Signer, fn ledger.EntryFunction) (string, error) {
	if signer == nil {
		return "", apperror.Configuration("signing identity is not configured")
	}
	tx := protocol.Tx{
		Nonce:     uuid.New().String(),
		Timestamp: c.now(),
		Payload:   fn,
	}
	if err := tx.Sign(signer); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	var out protocol.SubmitResponse
	status, body, err := c.do(ctx, http.MethodPost, "/v1/transactions", tx, &out)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusAccepted || status == http.StatusOK:
	case status >= 500 || status == http.StatusConflict || status == http.StatusTooManyRequests:
		return "", apperror.LedgerUnavailable("submit %s: status %d: %s", fn.Function, status, body)
	default:
		return "", apperror.LedgerRejected("submit %s: status %d: %s", fn.Function, status, body)
	}
	if out.Hash == "" {
		return "", apperror.LedgerUnavailable("submit %s: empty hash in response", fn.Function)
	}
	c.logger.Debug().Str("hash", out.Hash).Str("function", fn.Function).Msg("transaction submitted")
	return out.Hash, nil
}

// GetTransaction returns the executed transaction or ledger.ErrTxNotFound.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*ledger.TxResult, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, apperror.Validation("transaction hash is required")
	}
	var out ledger.TxResult
	status, body, err := c.do(ctx, http.MethodGet, "/v1/transactions/by_hash/"+url.PathEscape(hash), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTxNotFound, hash)
	}
	if err := classify("get transaction", status, body); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvents pages events of a handle starting at fromVersion inclusive.
func (c *Client) GetEvents(ctx context.Context, handle string, fromVersion int64, limit int) ([]ledger.Event, error) {
	q := url.Values{}
	q.Set("handle", handle)
	q.Set("start", strconv.FormatInt(fromVersion, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []ledger.Event
	status, body, err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	if err := classify("get events", status, body); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccountResource returns the data field of an account resource.
func (c *Client) GetAccountResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	path := fmt.Sprintf("/v1/accounts/%s/resource/%s",
		url.PathEscape(ledger.NormalizeAddress(address)), url.PathEscape(resourceType))
	var out struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	status, body, err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s at %s", ledger.ErrResourceNotFound, resourceType, address)
	}
	if err := classify("get resource", status, body); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func classify(op string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return apperror.LedgerUnavailable("%s: status %d: %s", op, status, body)
	default:
		return apperror.LedgerRejected("%s: status %d: %s", op, status, body)
	}
}

// do performs one throttled request. Non-2xx responses return their status and
// a truncated body with a nil error; out is decoded only on 2xx.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "", apperror.LedgerUnavailable("rate limiter: %v", err)
	}
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, "", err
		}
		return 0, "", apperror.LedgerUnavailable("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, strings.TrimSpace(string(raw)), nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", apperror.LedgerUnavailable("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode, "", nil
}
