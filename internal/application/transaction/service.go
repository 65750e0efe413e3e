package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
)

// Config tunes monitoring and retry behaviour.
type Config struct {
	Contract ledger.Contract
	// MonitorDelay is the wait between checks while the ledger has not indexed a hash.
	MonitorDelay time.Duration
	// MonitorMaxAttempts caps the async monitor loop.
	MonitorMaxAttempts int
	// MonitorMaxDuration caps how long a hash may stay unindexed after submission.
	MonitorMaxDuration time.Duration
	MonitorConcurrency int
	MonitorBatchSize   int
	RetryBatchSize     int
}

func (c Config) normalized() Config {
	if c.MonitorDelay <= 0 {
		c.MonitorDelay = 10 * time.Second
	}
	if c.MonitorMaxAttempts <= 0 {
		c.MonitorMaxAttempts = 30
	}
	if c.MonitorMaxDuration <= 0 {
		c.MonitorMaxDuration = 30 * time.Minute
	}
	if c.MonitorConcurrency <= 0 {
		c.MonitorConcurrency = 8
	}
	if c.MonitorBatchSize <= 0 {
		c.MonitorBatchSize = 500
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = 10
	}
	return c
}

var defaultFunctions = map[domainTx.Type]string{
	domainTx.TypeCreateSession:       ledger.FnCreateSession,
	domainTx.TypeRegisterParticipant: ledger.FnRegisterParticipant,
	domainTx.TypeSubmitContribution:  ledger.FnSubmitContribution,
	domainTx.TypeCompleteSession:     ledger.FnCompleteSession,
	domainTx.TypeClaimReward:         ledger.FnClaimReward,
	domainTx.TypeDistributeRewards:   ledger.FnDistributeRewards,
}

// confirmHook runs after a transaction of a given type is confirmed.
type confirmHook func(ctx context.Context, t *domainTx.Transaction) error

// Option customises a Service.
type Option func(*Service)

// WithSigner sets the admin signing identity used for platform-initiated writes.
func WithSigner(signer ledger.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service owns the transaction state machine.
type Service struct {
	txRepo      domainTx.Repository
	userRepo    user.Repository
	sessionRepo session.Repository
	ledger      ledger.Client
	notifier    notification.Sink
	signer      ledger.Signer
	metrics     *metrics.Metrics
	cfg         Config
	logger      zerolog.Logger
	now         func() time.Time
	hooks       map[domainTx.Type]confirmHook
	pool        pond.Pool

	mu         sync.Mutex
	monitoring map[uuid.UUID]struct{}
	closed     bool
	monitorCtx context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// NewService creates a transaction lifecycle service.
func NewService(
	txRepo domainTx.Repository,
	userRepo user.Repository,
	sessionRepo session.Repository,
	ledgerClient ledger.Client,
	notifier notification.Sink,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	cfg = cfg.normalized()
	monitorCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		txRepo:      txRepo,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		ledger:      ledgerClient,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With().Str("service", "transaction").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		pool:        pond.NewPool(cfg.MonitorConcurrency),
		monitoring:  make(map[uuid.UUID]struct{}),
		monitorCtx:  monitorCtx,
		stop:        stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hooks = s.confirmHooks()
	return s
}

func (s *Service) confirmHooks() map[domainTx.Type]confirmHook {
	noop := func(context.Context, *domainTx.Transaction) error { return nil }
	return map[domainTx.Type]confirmHook{
		domainTx.TypeCreateSession:       s.moveSession(session.StatusCreated, session.StatusRunning),
		domainTx.TypeCompleteSession:     s.moveSession(session.StatusRunning, session.StatusCompleted),
		domainTx.TypeRegisterParticipant: noop,
		domainTx.TypeSubmitContribution:  noop,
		// reward state is owned by the distribution manager
		domainTx.TypeClaimReward:       noop,
		domainTx.TypeDistributeRewards: noop,
	}
}

func (s *Service) moveSession(from, to session.Status) confirmHook {
	return func(ctx context.Context, t *domainTx.Transaction) error {
		if t.SessionID == nil {
			return nil
		}
		ok, err := s.sessionRepo.CompareAndSetStatus(ctx, *t.SessionID, from, to, s.now())
		if err != nil {
			return fmt.Errorf("failed to move session %s to %s: %w", *t.SessionID, to, err)
		}
		if !ok {
			s.logger.Debug().
				Str("session_id", t.SessionID.String()).
				Str("target_status", string(to)).
				Msg("session not in expected status, skipping")
		}
		return nil
	}
}

// HasSigner reports whether platform-initiated writes are possible.
func (s *Service) HasSigner() bool {
	return s.signer != nil
}

// CreateRequest describes a transaction to record.
type CreateRequest struct {
	Type          domainTx.Type
	UserID        uuid.UUID
	SessionID     *uuid.UUID
	Function      string
	TypeArguments []string
	Arguments     []json.RawMessage
	Amount        *decimal.Decimal
	FromAddress   *string
	ToAddress     *string
}

// Create validates references and persists a PENDING transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domainTx.Transaction, error) {
	if !req.Type.Valid() {
		return nil, apperror.Validation("unknown transaction type %q", req.Type)
	}
	if req.UserID == uuid.Nil {
		return nil, apperror.Validation("user id is required")
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, apperror.Validation("amount must not be negative")
	}

	u, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil {
		return nil, apperror.NotFound("user %s", req.UserID)
	}
	if req.SessionID != nil {
		sess, err := s.sessionRepo.GetByID(ctx, *req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if sess == nil {
			return nil, apperror.NotFound("session %s", *req.SessionID)
		}
	}

	fn := req.Function
	if fn == "" {
		fn = defaultFunctions[req.Type]
	}
	args := req.Arguments
	if args == nil {
		args = []json.RawMessage{}
	}
	typeArgs := req.TypeArguments
	if typeArgs == nil {
		typeArgs = []string{}
	}
	payload := domainTx.Payload{
		Function:      s.cfg.Contract.Function(fn),
		TypeArguments: typeArgs,
		Arguments:     args,
	}

	t := domainTx.NewTransaction(req.Type, req.UserID, req.SessionID, payload, s.now())
	t.Amount = req.Amount
	t.FromAddress = req.FromAddress
	t.ToAddress = req.ToAddress

	if err := s.txRepo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	s.metrics.RecordTransition(string(t.Type), string(t.Status))
	s.notifier.NotifyUser(ctx, t.UserID, notification.EventTransactionCreated, t)
	return t, nil
}

// Get returns a transaction or a NotFound error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domainTx.Transaction, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if t == nil {
		return nil, apperror.NotFound("transaction %s", id)
	}
	return t, nil
}

// Submit records the ledger hash of a PENDING transaction and starts monitoring it.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, hash string) (*domainTx.Transaction, error) {
	if hash == "" {
		return nil, apperror.Validation("ledger hash is required")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.submitLoaded(ctx, t, hash)
}

func (s *Service) submitLoaded(ctx context.Context, t *domainTx.Transaction, hash string) (*domainTx.Transaction, error) {
	if t.Status != domainTx.StatusPending {
		return nil, apperror.Conflict("transaction %s is %s, expected %s", t.TransactionID, t.Status, domainTx.StatusPending)
	}
	if err := t.Submit(hash, s.now()); err != nil {
		return nil, apperror.Conflict("transaction %s: %v", t.TransactionID, err)
	}
	ok, err := s.txRepo.CompareAndSwap(ctx, t, domainTx.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transaction: %w", err)
	}
	if !ok {
		return nil, apperror.Conflict("transaction %s changed concurrently", t.TransactionID)
	}
	s.metrics.RecordTransition(string(t.Type), string(t.Status))
	s.notifier.NotifyUser(ctx, t.UserID, notification.EventTransactionSubmitted, t)
	s.startMonitor(t.TransactionID)
	return t, nil
}

// SignAndSubmit signs a PENDING transaction with the admin identity, sends it
// to the ledger and records the returned hash. If the ledger refuses the
// submission the transaction is cancelled.
func (s *Service) SignAndSubmit(ctx context.Context, id uuid.UUID) (*domainTx.Transaction, error) {
	if s.signer == nil {
		return nil, apperror.Configuration("admin signing identity is not configured")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domainTx.StatusPending {
		return nil, apperror.Conflict("transaction %s is %s, expected %s", t.TransactionID, t.Status, domainTx.StatusPending)
	}

	hash, err := s.ledger.SignAndSubmit(ctx, s.signer, ledger.EntryFunction{
		Function:      t.Payload.Function,
		TypeArguments: t.Payload.TypeArguments,
		Arguments:     t.Payload.Arguments,
	})
	if err != nil {
		if cancelErr := s.cancelLoaded(ctx, t, err.Error()); cancelErr != nil {
			s.logger.Warn().Err(cancelErr).Str("transaction_id", t.TransactionID.String()).Msg("failed to cancel unsubmitted transaction")
		}
		return t, fmt.Errorf("failed to submit transaction %s: %w", t.TransactionID, err)
	}
	if t.FromAddress == nil {
		from := s.signer.Address()
		t.FromAddress = &from
	}
	return s.submitLoaded(ctx, t, hash)
}

// Cancel abandons a transaction that has not been confirmed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domainTx.Transaction, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cancelLoaded(ctx, t, reason); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) cancelLoaded(ctx context.Context, t *domainTx.Transaction, reason string) error {
	expected := t.Status
	if err := t.Cancel(reason, s.now()); err != nil {
		return apperror.Conflict("transaction %s is %s", t.TransactionID, t.Status)
	}
	ok, err := s.txRepo.CompareAndSwap(ctx, t, expected)
	if err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}
	if !ok {
		return apperror.Conflict("transaction %s changed concurrently", t.TransactionID)
	}
	s.metrics.RecordTransition(string(t.Type), string(t.Status))
	s.notifier.NotifyUser(ctx, t.UserID, notification.EventTransactionFailed, t)
	return nil
}

// Monitor checks a SUBMITTED transaction against the ledger once.
//
// It confirms or fails the transaction when the ledger has executed it. When
// the ledger has not indexed the hash yet it returns an error wrapping
// apperror.ErrLedgerUnavailable, unless the hash has been outstanding for
// longer than MonitorMaxDuration, in which case the transaction is failed.
// Transactions in any other status are returned unchanged.
func (s *Service) Monitor(ctx context.Context, id uuid.UUID) (*domainTx.Transaction, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.monitorLoaded(ctx, t)
}

func (s *Service) monitorLoaded(ctx context.Context, t *domainTx.Transaction) (*domainTx.Transaction, error) {
	if t.Status != domainTx.StatusSubmitted || t.Hash == nil {
		return t, nil
	}
	result, err := s.ledger.GetTransaction(ctx, *t.Hash)
	if err != nil {
		if !apperror.Retryable(err) {
			return t, fmt.Errorf("failed to query ledger for %s: %w", *t.Hash, err)
		}
		if s.outstandingTooLong(t) {
			reason := apperror.LedgerUnavailable("transaction %s not indexed after %s", *t.Hash, s.cfg.MonitorMaxDuration)
			return s.failLoaded(ctx, t, reason.Error())
		}
		return t, err
	}
	if result.Success {
		return s.confirmLoaded(ctx, t, result)
	}
	return s.failLoaded(ctx, t, apperror.LedgerRejected("%s", result.VMStatus).Error())
}

func (s *Service) outstandingTooLong(t *domainTx.Transaction) bool {
	return t.SubmittedAt != nil && s.now().Sub(*t.SubmittedAt) >= s.cfg.MonitorMaxDuration
}

func (s *Service) confirmLoaded(ctx context.Context, t *domainTx.Transaction, result *ledger.TxResult) (*domainTx.Transaction, error) {
	events, err := json.Marshal(result.Events)
	if err != nil {
		return t, fmt.Errorf("failed to encode events: %w", err)
	}
	receipt := domainTx.Receipt{BlockHeight: result.Version, GasUsed: result.GasUsed, Events: events}
	if err := t.Confirm(receipt, s.now()); err != nil {
		return t, apperror.Conflict("transaction %s: %v", t.TransactionID, err)
	}
	ok, err := s.txRepo.CompareAndSwap(ctx, t, domainTx.StatusSubmitted)
	if err != nil {
		return t, fmt.Errorf("failed to confirm transaction: %w", err)
	}
	if !ok {
		return t, apperror.Conflict("transaction %s changed concurrently", t.TransactionID)
	}
	s.metrics.RecordTransition(string(t.Type), string(t.Status))
	s.notifier.NotifyUser(ctx, t.UserID, notification.EventTransactionConfirmed, t)

	if hook, ok := s.hooks[t.Type]; ok {
		if err := hook(ctx, t); err != nil {
			s.logger.Warn().
				Err(err).
				Str("transaction_id", t.TransactionID.String()).
				Str("type", string(t.Type)).
				Msg("post-confirmation hook failed")
		}
	}
	return t, nil
}

func (s *Service) failLoaded(ctx context.Context, t *domainTx.Transaction, reason string) (*domainTx.Transaction, error) {
	if err := t.Fail(reason, s.now()); err != nil {
		return t, apperror.Conflict("transaction %s: %v", t.TransactionID, err)
	}
	ok, err := s.txRepo.CompareAndSwap(ctx, t, domainTx.StatusSubmitted)
	if err != nil {
		return t, fmt.Errorf("failed to fail transaction: %w", err)
	}
	if !ok {
		return t, apperror.Conflict("transaction %s changed concurrently", t.TransactionID)
	}
	s.metrics.RecordTransition(string(t.Type), string(t.Status))
	s.notifier.NotifyUser(ctx, t.UserID, notification.EventTransactionFailed, t)
	s.logger.Info().
		Str("transaction_id", t.TransactionID.String()).
		Str("reason", reason).
		Int("retry_count", t.RetryCount).
		Msg("transaction failed")
	return t, nil
}

// startMonitor runs the capped monitor loop in the background. At most one
// loop runs per transaction.
func (s *Service) startMonitor(id uuid.UUID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, running := s.monitoring[id]; running {
		s.mu.Unlock()
		return
	}
	s.monitoring[id] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.monitoring, id)
			s.mu.Unlock()
		}()
		s.monitorLoop(s.monitorCtx, id)
	}()
}

func (s *Service) monitorLoop(ctx context.Context, id uuid.UUID) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MonitorMaxAttempts; attempt++ {
		timer := time.NewTimer(s.cfg.MonitorDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		t, err := s.Monitor(ctx, id)
		if err == nil && t != nil && t.Status != domainTx.StatusSubmitted {
			return
		}
		if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
	}
	s.exhaustMonitor(ctx, id, lastErr)
}

// exhaustMonitor fails a transaction whose monitor attempts ran out.
func (s *Service) exhaustMonitor(ctx context.Context, id uuid.UUID, lastErr error) {
	t, err := s.Get(ctx, id)
	if err != nil || t.Status != domainTx.StatusSubmitted {
		return
	}
	reason := apperror.LedgerUnavailable("transaction not confirmed after %d monitor attempts", s.cfg.MonitorMaxAttempts)
	if lastErr != nil {
		reason = fmt.Errorf("%w: last error: %v", reason, lastErr)
	}
	if _, err := s.failLoaded(ctx, t, reason.Error()); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", id.String()).Msg("failed to fail exhausted transaction")
	}
}

// MonitorReport summarises one pass over submitted transactions.
type MonitorReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// MonitorSubmitted checks every SUBMITTED transaction once. Per-transaction
// errors are logged and counted; they never abort the pass.
func (s *Service) MonitorSubmitted(ctx context.Context) (MonitorReport, error) {
	items, err := s.txRepo.ListSubmitted(ctx, s.cfg.MonitorBatchSize)
	if err != nil {
		return MonitorReport{}, fmt.Errorf("failed to list submitted transactions: %w", err)
	}

	var confirmed, failed, pending, errCount atomic.Int64
	group := s.pool.NewGroup()
	for _, item := range items {
		t := item
		group.Submit(func() {
			res, err := s.monitorLoaded(ctx, t)
			switch {
			case err != nil && apperror.Retryable(err):
				pending.Add(1)
			case err != nil:
				errCount.Add(1)
				s.logger.Warn().Err(err).Str("transaction_id", t.TransactionID.String()).Msg("failed to monitor transaction")
			case res.Status == domainTx.StatusConfirmed:
				confirmed.Add(1)
			case res.Status == domainTx.StatusFailed:
				failed.Add(1)
			default:
				pending.Add(1)
			}
		})
	}
	if err := group.Wait(); err != nil {
		return MonitorReport{}, fmt.Errorf("monitor pass interrupted: %w", err)
	}
	return MonitorReport{
		Checked:   len(items),
		Confirmed: int(confirmed.Load()),
		Failed:    int(failed.Load()),
		Pending:   int(pending.Load()),
		Errors:    int(errCount.Load()),
	}, nil
}

// RetryFailed re-enters monitoring for FAILED transactions with retries left.
func (s *Service) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.RetryBatchSize
	}
	items, err := s.txRepo.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable transactions: %w", err)
	}
	retried := 0
	for _, t := range items {
		if err := t.ResetForRetry(s.now()); err != nil {
			s.logger.Debug().Err(err).Str("transaction_id", t.TransactionID.String()).Int("retry_count", t.RetryCount).Msg("transaction not retryable")
			continue
		}
		ok, err := s.txRepo.CompareAndSwap(ctx, t, domainTx.StatusFailed)
		if err != nil {
			s.logger.Warn().Err(err).Str("transaction_id", t.TransactionID.String()).Msg("failed to reset transaction for retry")
			continue
		}
		if !ok {
			continue
		}
		s.metrics.RecordTransition(string(t.Type), string(t.Status))
		s.startMonitor(t.TransactionID)
		retried++
	}
	return retried, nil
}

// ListByUser lists a user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domainTx.Transaction, error) {
	return s.txRepo.List(ctx, domainTx.Filter{UserID: &userID}, limit, offset)
}

// ListBySession lists a session's transactions, newest first.
func (s *Service) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domainTx.Transaction, error) {
	return s.txRepo.List(ctx, domainTx.Filter{SessionID: &sessionID}, limit, offset)
}

// ListByStatus lists transactions in one status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status domainTx.Status, limit, offset int) ([]*domainTx.Transaction, error) {
	return s.txRepo.List(ctx, domainTx.Filter{Status: &status}, limit, offset)
}

// PurgeTerminal deletes FAILED and CANCELLED transactions older than olderThan.
func (s *Service) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	before := s.now().Add(-olderThan)
	n, err := s.txRepo.DeleteTerminalBefore(ctx, []domainTx.Status{domainTx.StatusFailed, domainTx.StatusCancelled}, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge transactions: %w", err)
	}
	return n, nil
}

// MonitoringCount is the number of running monitor loops.
func (s *Service) MonitoringCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitoring)
}

// Shutdown cancels monitor loops and waits for them to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.StopAndWait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
