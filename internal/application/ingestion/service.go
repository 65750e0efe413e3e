package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	"github.com/execution-hub/ledger-sync/internal/domain/reward"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	"github.com/execution-hub/ledger-sync/internal/domain/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
)

// Config controls polling.
type Config struct {
	// Handle is the contract event handle to poll.
	Handle         string
	PollInterval   time.Duration
	BatchSize      int
	RetryBatchSize int
	// PendingGrace is how long a PENDING event log may sit before the retry
	// sweep treats its handler as interrupted and dispatches it again.
	PendingGrace time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = 10
	}
	if c.PendingGrace <= 0 {
		c.PendingGrace = 10 * time.Minute
	}
	return c
}

// Outcome is what happened to one ledger event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// PollReport summarises one poll.
type PollReport struct {
	Fetched   int   `json:"fetched"`
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	Duplicate int   `json:"duplicate"`
	Ignored   int   `json:"ignored"`
	Cursor    int64 `json:"cursor"`
}

// RetryReport summarises one retry sweep.
type RetryReport struct {
	Resumed   int `json:"resumed"`
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
}

type handler func(ctx context.Context, e *eventlog.EventLog) (any, error)

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records ingestion counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service polls the ledger and applies contract events to local state.
type Service struct {
	eventRepo   eventlog.Repository
	sessionRepo session.Repository
	userRepo    user.Repository
	rewardRepo  reward.Repository
	txRepo      transaction.Repository
	rewards     RewardDistributor
	ledger      ledger.Client
	notifier    notification.Sink
	metrics     *metrics.Metrics
	cfg         Config
	logger      zerolog.Logger
	now         func() time.Time
	handlers    map[eventlog.Kind]handler

	cursor atomic.Int64
}

// NewService creates an ingestion service. Call RecoverCursor before polling.
func NewService(
	eventRepo eventlog.Repository,
	sessionRepo session.Repository,
	userRepo user.Repository,
	rewardRepo reward.Repository,
	txRepo transaction.Repository,
	rewards RewardDistributor,
	ledgerClient ledger.Client,
	notifier notification.Sink,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		eventRepo:   eventRepo,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		rewardRepo:  rewardRepo,
		txRepo:      txRepo,
		rewards:     rewards,
		ledger:      ledgerClient,
		notifier:    notifier,
		cfg:         cfg.normalized(),
		logger:      logger.With().Str("service", "ingestion").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[eventlog.Kind]handler{
		eventlog.KindSessionCreated:        s.handleSessionCreated,
		eventlog.KindParticipantRegistered: s.handleParticipantRegistered,
		eventlog.KindContributionSubmitted: s.handleContributionSubmitted,
		eventlog.KindSessionCompleted:      s.handleSessionCompleted,
		eventlog.KindRewardDistributed:     s.handleRewardDistributed,
		eventlog.KindRewardClaimed:         s.handleRewardClaimed,
	}
	return s
}

// Cursor returns the last ledger version fetched.
func (s *Service) Cursor() int64 {
	return s.cursor.Load()
}

// RecoverCursor resumes from the highest block height already logged.
func (s *Service) RecoverCursor(ctx context.Context) (int64, error) {
	height, err := s.eventRepo.MaxBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recover cursor: %w", err)
	}
	s.cursor.Store(height)
	s.metrics.SetCursor(height)
	s.logger.Info().Int64("cursor", height).Msg("ingestion cursor recovered")
	return height, nil
}

// Run polls until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.PollOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("event poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one batch from the cursor and ingests it in version order.
// The cursor moves to the last fetched version even if handlers failed; the
// retry sweep owns failed events. An event that could not be logged at all
// pins the cursor at its version instead.
func (s *Service) PollOnce(ctx context.Context) (PollReport, error) {
	from := s.cursor.Load()
	events, err := s.fetch(ctx, from)
	if err != nil {
		return PollReport{Cursor: from}, fmt.Errorf("failed to fetch events from %d: %w", from, err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Version != events[j].Version {
			return events[i].Version < events[j].Version
		}
		return events[i].SequenceNumber < events[j].SequenceNumber
	})

	report := PollReport{Fetched: len(events)}
	next := from
	for _, ev := range events {
		outcome, err := s.Ingest(ctx, ev)
		if err != nil {
			// an unrecorded event pins the cursor so the next inclusive fetch sees it again
			s.logger.Error().Err(err).Str("guid", ev.GUID).Int64("sequence_number", ev.SequenceNumber).Msg("failed to ingest event")
			report.Failed++
			next = max(from, ev.Version)
			s.cursor.Store(next)
			report.Cursor = next
			s.metrics.SetCursor(next)
			return report, nil
		}
		switch outcome {
		case OutcomeProcessed:
			report.Processed++
		case OutcomeFailed:
			report.Failed++
		case OutcomeDuplicate:
			report.Duplicate++
		case OutcomeIgnored:
			report.Ignored++
		}
		next = max(next, ev.Version)
	}
	s.cursor.Store(next)
	report.Cursor = s.cursor.Load()
	s.metrics.SetCursor(report.Cursor)
	return report, nil
}

// maxFetchWidening bounds how many BatchSize multiples one poll may request.
const maxFetchWidening = 64

// fetch reads events from the cursor version inclusive. When a full batch
// holds nothing past that version the window is doubled, otherwise a version
// carrying more than BatchSize events would be re-read forever.
func (s *Service) fetch(ctx context.Context, from int64) ([]ledger.Event, error) {
	limit := s.cfg.BatchSize
	for {
		events, err := s.ledger.GetEvents(ctx, s.cfg.Handle, from, limit)
		if err != nil {
			return nil, err
		}
		if len(events) < limit || !allAtVersion(events, from) {
			return events, nil
		}
		if limit >= s.cfg.BatchSize*maxFetchWidening {
			s.logger.Error().
				Int64("version", from).
				Int("limit", limit).
				Msg("ledger version holds more events than the widest fetch window")
			return events, nil
		}
		limit *= 2
	}
}

func allAtVersion(events []ledger.Event, version int64) bool {
	for _, ev := range events {
		if ev.Version != version {
			return false
		}
	}
	return true
}

// Ingest logs one ledger event and dispatches it at most once.
//
// A returned error means the event could not be recorded at all. Handler
// failures are recorded on the event log and reported as OutcomeFailed.
func (s *Service) Ingest(ctx context.Context, ev ledger.Event) (Outcome, error) {
	kind := eventlog.Classify(ev.Type)

	exists, err := s.eventRepo.Exists(ctx, ev.GUID, ev.SequenceNumber)
	if err != nil {
		return "", fmt.Errorf("failed to check event: %w", err)
	}
	if exists {
		s.metrics.RecordEvent(string(kind), string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	e := eventlog.NewEventLog(kind, ev.TransactionHash, ev.Version, ev.GUID, ev.SequenceNumber, data, s.now())
	if err := s.eventRepo.Create(ctx, e); err != nil {
		if errors.Is(err, eventlog.ErrDuplicate) {
			s.metrics.RecordEvent(string(kind), string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("failed to log event: %w", err)
	}

	if kind == eventlog.KindUnknown {
		s.logger.Warn().
			Str("event_type", ev.Type).
			Str("guid", ev.GUID).
			Int64("sequence_number", ev.SequenceNumber).
			Msg("unrecognised ledger event recorded as ignored")
		s.metrics.RecordEvent(string(kind), string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	outcome := s.dispatch(ctx, e, eventlog.StatusPending)
	s.metrics.RecordEvent(string(kind), string(outcome))
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, e *eventlog.EventLog, expected eventlog.Status) Outcome {
	h, ok := s.handlers[e.EventType]
	var (
		result any
		err    error
	)
	if !ok {
		err = apperror.Validation("no handler for event type %s", e.EventType)
	} else {
		result, err = h(ctx, e)
	}

	outcome := OutcomeProcessed
	if err != nil {
		outcome = OutcomeFailed
		if markErr := e.MarkFailed(err.Error(), s.now()); markErr != nil {
			s.logger.Error().Err(markErr).Str("event_log_id", e.EventLogID.String()).Msg("failed to mark event failed")
			return OutcomeFailed
		}
		s.logger.Warn().
			Err(err).
			Str("event_log_id", e.EventLogID.String()).
			Str("event_type", string(e.EventType)).
			Int("retry_count", e.RetryCount).
			Msg("event handler failed")
	} else {
		processed, encErr := json.Marshal(result)
		if encErr != nil {
			processed = json.RawMessage(`{}`)
		}
		if markErr := e.MarkProcessed(processed, s.now()); markErr != nil {
			s.logger.Error().Err(markErr).Str("event_log_id", e.EventLogID.String()).Msg("failed to mark event processed")
			return OutcomeFailed
		}
	}

	swapped, err := s.eventRepo.CompareAndSwap(ctx, e, expected)
	if err != nil {
		s.logger.Error().Err(err).Str("event_log_id", e.EventLogID.String()).Msg("failed to persist event status")
		return OutcomeFailed
	}
	if !swapped {
		s.logger.Warn().Str("event_log_id", e.EventLogID.String()).Msg("event log changed concurrently")
	}
	return outcome
}

// RetryFailed first resumes event logs left PENDING longer than PendingGrace,
// then re-dispatches FAILED events that still have retries left.
func (s *Service) RetryFailed(ctx context.Context, limit int) (RetryReport, error) {
	if limit <= 0 {
		limit = s.cfg.RetryBatchSize
	}
	var report RetryReport

	stale, err := s.eventRepo.ListStalePending(ctx, s.now().Add(-s.cfg.PendingGrace), limit)
	if err != nil {
		return report, fmt.Errorf("failed to list stale pending events: %w", err)
	}
	for _, e := range stale {
		s.logger.Warn().
			Str("event_log_id", e.EventLogID.String()).
			Str("event_type", string(e.EventType)).
			Time("created_at", e.CreatedAt).
			Msg("resuming interrupted event")
		report.Resumed++
		if s.dispatch(ctx, e, eventlog.StatusPending) == OutcomeProcessed {
			report.Succeeded++
		}
	}

	items, err := s.eventRepo.ListRetryable(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("failed to list retryable events: %w", err)
	}
	for _, e := range items {
		if err := e.TouchRetry(s.now()); err != nil {
			continue
		}
		report.Retried++
		if s.dispatch(ctx, e, eventlog.StatusFailed) == OutcomeProcessed {
			report.Succeeded++
		}
	}
	return report, nil
}

// PurgeProcessed deletes PROCESSED event logs older than olderThan.
func (s *Service) PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.eventRepo.DeleteProcessedBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return n, nil
}

func decode[T any](e *eventlog.EventLog) (T, error) {
	var v T
	if err := json.Unmarshal(e.EventData, &v); err != nil {
		return v, apperror.Validation("malformed %s payload: %v", e.EventType, err)
	}
	return v, nil
}

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid session id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, apperror.Validation("negative amount %s", raw)
	}
	return amount, nil
}

func (s *Service) userByAddress(ctx context.Context, address string) (*user.User, error) {
	u, err := s.userRepo.GetByWalletAddress(ctx, ledger.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve wallet %s: %w", address, err)
	}
	if u == nil {
		return nil, apperror.NotFound("user with wallet %s", address)
	}
	return u, nil
}

// moveSession is an idempotent CAS: a session already at `to` is fine.
func (s *Service) moveSession(ctx context.Context, id uuid.UUID, from, to session.Status) (*session.Session, error) {
	ok, err := s.sessionRepo.CompareAndSetStatus(ctx, id, from, to, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	sess, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if sess == nil {
		return nil, apperror.NotFound("session %s", id)
	}
	if !ok && sess.Status != to {
		return nil, apperror.Conflict("session %s is %s, cannot move to %s", id, sess.Status, to)
	}
	return sess, nil
}

func (s *Service) handleSessionCreated(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.SessionCreatedData](e)
	if err != nil {
		return nil, err
	}
	id, err := parseSessionID(data.SessionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.moveSession(ctx, id, session.StatusCreated, session.StatusRunning)
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyGlobal(ctx, notification.EventSessionCreated, sess)
	return map[string]any{"session_id": id, "status": sess.Status}, nil
}

func (s *Service) handleParticipantRegistered(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.ParticipantRegisteredData](e)
	if err != nil {
		return nil, err
	}
	id, err := parseSessionID(data.SessionID)
	if err != nil {
		return nil, err
	}
	u, err := s.userByAddress(ctx, data.Participant)
	if err != nil {
		return nil, err
	}
	now := s.now()
	added, err := s.sessionRepo.AddParticipant(ctx, &session.Participant{
		SessionID:     id,
		UserID:        u.UserID,
		WalletAddress: ledger.NormalizeAddress(data.Participant),
		JoinedAt:      now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	if added {
		if err := s.sessionRepo.IncrementParticipantCount(ctx, id, 1); err != nil {
			return nil, fmt.Errorf("failed to increment participant count: %w", err)
		}
	}
	payload := map[string]any{"session_id": id, "user_id": u.UserID, "address": data.Participant}
	s.notifier.NotifyUser(ctx, u.UserID, notification.EventParticipantRegistered, payload)
	s.notifier.NotifyGlobal(ctx, notification.EventParticipantRegistered, payload)
	return map[string]any{"session_id": id, "user_id": u.UserID, "added": added}, nil
}

func (s *Service) handleContributionSubmitted(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.ContributionSubmittedData](e)
	if err != nil {
		return nil, err
	}
	id, err := parseSessionID(data.SessionID)
	if err != nil {
		return nil, err
	}
	u, err := s.userByAddress(ctx, data.Participant)
	if err != nil {
		return nil, err
	}
	p := &session.Participant{
		SessionID:        id,
		UserID:           u.UserID,
		WalletAddress:    ledger.NormalizeAddress(data.Participant),
		Score:            data.Score,
		Quality:          data.Quality,
		TimeSpentSeconds: data.TimeSpent,
		Accuracy:         data.Accuracy,
		Efficiency:       data.Efficiency,
		Consistency:      data.Consistency,
		UpdatedAt:        s.now(),
	}
	if err := s.sessionRepo.RecordContribution(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record contribution: %w", err)
	}
	s.notifier.NotifyUser(ctx, u.UserID, notification.EventContributionRecorded, p)
	return map[string]any{"session_id": id, "user_id": u.UserID, "score": data.Score}, nil
}

func (s *Service) handleSessionCompleted(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.SessionCompletedData](e)
	if err != nil {
		return nil, err
	}
	id, err := parseSessionID(data.SessionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.moveSession(ctx, id, session.StatusRunning, session.StatusCompleted)
	if err != nil {
		return nil, err
	}
	created, err := s.rewards.SettleSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to settle session %s: %w", id, err)
	}
	s.notifier.NotifyGlobal(ctx, notification.EventSessionCompleted, sess)
	return map[string]any{"session_id": id, "rewards_created": created}, nil
}

func (s *Service) handleRewardDistributed(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.RewardDistributedData](e)
	if err != nil {
		return nil, err
	}
	id, err := parseSessionID(data.SessionID)
	if err != nil {
		return nil, err
	}
	u, err := s.userByAddress(ctx, data.Recipient)
	if err != nil {
		return nil, err
	}
	rewardType := reward.TypeParticipation
	if data.RewardType != "" {
		if rewardType, err = reward.ParseType(data.RewardType); err != nil {
			return nil, apperror.Validation("reward type %q: %v", data.RewardType, err)
		}
	}
	amount, err := parseAmount(data.Amount)
	if err != nil {
		return nil, err
	}
	meta, _ := json.Marshal(map[string]any{"source": "ledger", "transaction_hash": e.TransactionHash})
	created, err := s.rewards.DistributeRewards(ctx, id, []reward.Distribution{{
		UserID:   u.UserID,
		Address:  ledger.NormalizeAddress(data.Recipient),
		Type:     rewardType,
		Amount:   amount,
		Metadata: meta,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to record distribution: %w", err)
	}
	return map[string]any{"session_id": id, "user_id": u.UserID, "created": created}, nil
}

func (s *Service) handleRewardClaimed(ctx context.Context, e *eventlog.EventLog) (any, error) {
	data, err := decode[ledger.RewardClaimedData](e)
	if err != nil {
		return nil, err
	}
	var claimTxID *uuid.UUID
	if e.TransactionHash != "" {
		tx, err := s.txRepo.GetByHash(ctx, e.TransactionHash)
		if err != nil {
			return nil, fmt.Errorf("failed to load claim transaction: %w", err)
		}
		if tx != nil {
			claimTxID = &tx.TransactionID
		}
	}

	claimed, skipped := 0, 0
	for _, raw := range data.RewardIDs {
		rewardID, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperror.Validation("invalid reward id %q", raw)
		}
		r, err := s.rewardRepo.GetByID(ctx, rewardID)
		if err != nil {
			return nil, fmt.Errorf("failed to load reward %s: %w", rewardID, err)
		}
		if r == nil || r.Status != reward.StatusClaimable {
			skipped++
			continue
		}
		if err := r.RecordLedgerClaim(claimTxID, s.now()); err != nil {
			skipped++
			continue
		}
		ok, err := s.rewardRepo.CompareAndSwap(ctx, r, reward.StatusClaimable)
		if err != nil {
			return nil, fmt.Errorf("failed to mark reward %s claimed: %w", rewardID, err)
		}
		if !ok {
			skipped++
			continue
		}
		claimed++
		s.notifier.NotifyUser(ctx, r.UserID, notification.EventRewardClaimed, r)
	}
	return map[string]any{"claimant": data.Claimant, "claimed": claimed, "skipped": skipped}, nil
}
