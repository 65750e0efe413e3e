package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appTransaction "github.com/execution-hub/ledger-sync/internal/application/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
)

// Config controls reward distribution.
type Config struct {
	Calculator CalculatorConfig
	// ClaimWindow is how long a reward stays claimable.
	ClaimWindow             time.Duration
	DistributionConcurrency int
}

func (c Config) normalized() Config {
	if c.Calculator.ParticipationShare.IsZero() && c.Calculator.PerformanceShare.IsZero() && c.Calculator.BonusShare.IsZero() {
		c.Calculator = DefaultCalculatorConfig()
	}
	if c.ClaimWindow <= 0 {
		c.ClaimWindow = 30 * 24 * time.Hour
	}
	if c.DistributionConcurrency <= 0 {
		c.DistributionConcurrency = 4
	}
	return c
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records reward counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service distributes calculated rewards and enforces the claim rules.
type Service struct {
	rewardRepo  domainReward.Repository
	sessionRepo session.Repository
	userRepo    user.Repository
	txs         TransactionManager
	calculator  *Calculator
	notifier    notification.Sink
	metrics     *metrics.Metrics
	cfg         Config
	logger      zerolog.Logger
	now         func() time.Time
	pool        pond.Pool
}

// NewService creates a reward service.
func NewService(
	rewardRepo domainReward.Repository,
	sessionRepo session.Repository,
	userRepo user.Repository,
	txs TransactionManager,
	notifier notification.Sink,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	cfg = cfg.normalized()
	s := &Service{
		rewardRepo:  rewardRepo,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		txs:         txs,
		calculator:  NewCalculator(cfg.Calculator),
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With().Str("service", "reward").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		pool:        pond.NewPool(cfg.DistributionConcurrency),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculator exposes the pure reward calculations.
func (s *Service) Calculator() *Calculator {
	return s.calculator
}

// Close waits for in-flight distribution submissions.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// DistributeRewards persists one CLAIMABLE reward per distribution. A
// (user, session, type) tuple that already has a reward is skipped. It
// returns how many rewards were created.
func (s *Service) DistributeRewards(ctx context.Context, sessionID uuid.UUID, dists []domainReward.Distribution) (int, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.ClaimWindow)
	created := 0
	for _, d := range dists {
		if d.UserID == uuid.Nil {
			return created, apperror.Validation("distribution without a user")
		}
		if _, err := domainReward.ParseType(string(d.Type)); err != nil {
			return created, apperror.Validation("distribution type %q", d.Type)
		}
		if d.Amount.IsNegative() {
			return created, apperror.Validation("negative distribution for %s", d.UserID)
		}

		exists, err := s.rewardRepo.Exists(ctx, d.UserID, sessionID, d.Type)
		if err != nil {
			return created, fmt.Errorf("failed to check reward: %w", err)
		}
		if exists {
			s.logger.Info().
				Str("user_id", d.UserID.String()).
				Str("session_id", sessionID.String()).
				Str("type", string(d.Type)).
				Msg("reward already distributed, skipping")
			continue
		}

		r := domainReward.NewClaimable(d.Type, d.UserID, sessionID, d.Amount, d.Metadata, now, &expiresAt)
		if err := s.rewardRepo.Create(ctx, r); err != nil {
			if errors.Is(err, domainReward.ErrDuplicate) {
				s.logger.Info().
					Str("user_id", d.UserID.String()).
					Str("session_id", sessionID.String()).
					Str("type", string(d.Type)).
					Msg("reward created concurrently, skipping")
				continue
			}
			return created, fmt.Errorf("failed to create reward: %w", err)
		}
		created++
		s.metrics.RecordReward(string(r.Type))
		s.notifier.NotifyUser(ctx, r.UserID, notification.EventRewardAvailable, r)
	}
	return created, nil
}

// Claims are relayed to the ledger by the platform account.
var errClaimsDisabled = apperror.Configuration("admin signing identity is required to relay claims")

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Rewards     []*domainReward.Reward `json:"rewards"`
	Transaction *domainTx.Transaction  `json:"transaction"`
	Total       decimal.Decimal        `json:"total"`
}

// ClaimReward claims one reward for the owner of claimantAddress.
//
// The reward is reserved (CLAIMABLE -> CLAIMED) before the claim transaction
// is submitted, and released again if the submission fails.
func (s *Service) ClaimReward(ctx context.Context, rewardID uuid.UUID, claimantAddress string) (*ClaimResult, error) {
	r, err := s.rewardRepo.GetByID(ctx, rewardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reward: %w", err)
	}
	if r == nil {
		return nil, apperror.NotFound("reward %s", rewardID)
	}
	now := s.now()
	if err := checkClaimable(r, now); err != nil {
		return nil, err
	}
	owner, err := s.owner(ctx, r.UserID, claimantAddress)
	if err != nil {
		return nil, err
	}

	if !s.txs.HasSigner() {
		return nil, errClaimsDisabled
	}
	tx, err := s.createClaimTx(ctx, owner, &r.SessionID, ledger.FnClaimReward, []uuid.UUID{r.RewardID}, claimantAddress, r.Amount)
	if err != nil {
		return nil, err
	}

	if err := r.MarkClaimed(tx.TransactionID, now); err != nil {
		s.abandon(ctx, tx, "reward no longer claimable")
		return nil, apperror.Conflict("reward %s: %v", r.RewardID, err)
	}
	ok, err := s.rewardRepo.CompareAndSwap(ctx, r, domainReward.StatusClaimable)
	if err != nil {
		s.abandon(ctx, tx, "failed to reserve reward")
		return nil, fmt.Errorf("failed to reserve reward: %w", err)
	}
	if !ok {
		s.abandon(ctx, tx, "reward claimed concurrently")
		return nil, apperror.Conflict("reward %s was claimed concurrently", r.RewardID)
	}

	submitted, err := s.txs.SignAndSubmit(ctx, tx.TransactionID)
	if err != nil {
		if revertErr := r.RevertClaim(s.now()); revertErr == nil {
			if _, casErr := s.rewardRepo.CompareAndSwap(ctx, r, domainReward.StatusClaimed); casErr != nil {
				s.logger.Error().Err(casErr).Str("reward_id", r.RewardID.String()).Msg("failed to release reward after submission failure")
			}
		}
		return nil, fmt.Errorf("failed to submit claim: %w", err)
	}

	s.notifier.NotifyUser(ctx, r.UserID, notification.EventRewardClaimed, r)
	return &ClaimResult{Rewards: []*domainReward.Reward{r}, Transaction: submitted, Total: r.Amount}, nil
}

// BatchClaimRewards claims every reward in rewardIDs with one aggregate
// transaction, or none of them.
func (s *Service) BatchClaimRewards(ctx context.Context, userID uuid.UUID, rewardIDs []uuid.UUID, address string) (*ClaimResult, error) {
	if len(rewardIDs) == 0 {
		return nil, apperror.Validation("no rewards to claim")
	}
	seen := make(map[uuid.UUID]struct{}, len(rewardIDs))
	for _, id := range rewardIDs {
		if _, dup := seen[id]; dup {
			return nil, apperror.Validation("reward %s listed twice", id)
		}
		seen[id] = struct{}{}
	}

	owner, err := s.owner(ctx, userID, address)
	if err != nil {
		return nil, err
	}
	rewards, err := s.rewardRepo.GetByIDs(ctx, rewardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load rewards: %w", err)
	}
	found := make(map[uuid.UUID]*domainReward.Reward, len(rewards))
	for _, r := range rewards {
		found[r.RewardID] = r
	}
	now := s.now()
	ordered := make([]*domainReward.Reward, 0, len(rewardIDs))
	for _, id := range rewardIDs {
		r, ok := found[id]
		if !ok {
			return nil, apperror.NotFound("reward %s", id)
		}
		if r.UserID != userID {
			return nil, apperror.Conflict("reward %s does not belong to user %s", id, userID)
		}
		if err := checkClaimable(r, now); err != nil {
			return nil, err
		}
		ordered = append(ordered, r)
	}
	total := domainReward.Total(ordered)

	if !s.txs.HasSigner() {
		return nil, errClaimsDisabled
	}
	tx, err := s.createClaimTx(ctx, owner, nil, ledger.FnBatchClaimRewards, rewardIDs, address, total)
	if err != nil {
		return nil, err
	}
	if err := s.rewardRepo.ClaimBatch(ctx, rewardIDs, tx.TransactionID, now); err != nil {
		s.abandon(ctx, tx, "reward batch could not be reserved")
		if errors.Is(err, domainReward.ErrBatchConflict) {
			return nil, apperror.Conflict("rewards changed while claiming: %v", err)
		}
		return nil, fmt.Errorf("failed to reserve rewards: %w", err)
	}

	submitted, err := s.txs.SignAndSubmit(ctx, tx.TransactionID)
	if err != nil {
		if _, revertErr := s.rewardRepo.RevertBatch(ctx, rewardIDs, tx.TransactionID, s.now()); revertErr != nil {
			s.logger.Error().Err(revertErr).Str("transaction_id", tx.TransactionID.String()).Msg("failed to release rewards after submission failure")
		}
		return nil, fmt.Errorf("failed to submit batch claim: %w", err)
	}

	for _, r := range ordered {
		_ = r.MarkClaimed(tx.TransactionID, now)
		s.notifier.NotifyUser(ctx, r.UserID, notification.EventRewardClaimed, r)
	}
	return &ClaimResult{Rewards: ordered, Transaction: submitted, Total: total}, nil
}

func checkClaimable(r *domainReward.Reward, now time.Time) error {
	if r.Status != domainReward.StatusClaimable {
		return apperror.Conflict("reward %s is %s", r.RewardID, r.Status)
	}
	if r.IsExpiredAt(now) {
		return apperror.Expired("reward %s expired at %s", r.RewardID, r.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) owner(ctx context.Context, userID uuid.UUID, address string) (*user.User, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil {
		return nil, apperror.NotFound("user %s", userID)
	}
	if !u.OwnsAddress(address) {
		return nil, apperror.Conflict("address %s is not the registered wallet of user %s", address, userID)
	}
	return u, nil
}

func (s *Service) createClaimTx(ctx context.Context, owner *user.User, sessionID *uuid.UUID, fn string, rewardIDs []uuid.UUID, address string, amount decimal.Decimal) (*domainTx.Transaction, error) {
	ids := make([]string, len(rewardIDs))
	for i, id := range rewardIDs {
		ids[i] = id.String()
	}
	args, err := ledger.Args(ids, ledger.NormalizeAddress(address), amount.StringFixed(2))
	if err != nil {
		return nil, err
	}
	to := ledger.NormalizeAddress(address)
	tx, err := s.txs.Create(ctx, appTransaction.CreateRequest{
		Type:      domainTx.TypeClaimReward,
		UserID:    owner.UserID,
		SessionID: sessionID,
		Function:  fn,
		Arguments: args,
		Amount:    &amount,
		ToAddress: &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create claim transaction: %w", err)
	}
	return tx, nil
}

func (s *Service) abandon(ctx context.Context, tx *domainTx.Transaction, reason string) {
	if _, err := s.txs.Cancel(ctx, tx.TransactionID, reason); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", tx.TransactionID.String()).Msg("failed to cancel abandoned claim transaction")
	}
}

// RecipientResult is the outcome for one recipient of a session distribution.
type RecipientResult struct {
	Address       string          `json:"address"`
	UserID        uuid.UUID       `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Rewards       int             `json:"rewards"`
	TransactionID *uuid.UUID      `json:"transactionId,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// DistributionReport summarises DistributeSessionRewards.
type DistributionReport struct {
	SessionID  uuid.UUID         `json:"sessionId"`
	Recipients []RecipientResult `json:"recipients"`
	Submitted  int               `json:"submitted"`
	Failed     int               `json:"failed"`
}

type recipientGroup struct {
	address string
	userID  uuid.UUID
	amount  decimal.Decimal
	types   []string
}

// DistributeSessionRewards sends each recipient one aggregate
// DISTRIBUTE_REWARDS transaction. A failure for one recipient does not stop
// the others.
func (s *Service) DistributeSessionRewards(ctx context.Context, sessionID uuid.UUID, dists []domainReward.Distribution) (*DistributionReport, error) {
	if !s.txs.HasSigner() {
		return nil, apperror.Configuration("admin signing identity is required to distribute rewards")
	}

	var groups []*recipientGroup
	byAddress := make(map[string]*recipientGroup)
	for _, d := range dists {
		addr := ledger.NormalizeAddress(d.Address)
		if addr == "" {
			return nil, apperror.Validation("distribution for %s has no address", d.UserID)
		}
		g, ok := byAddress[addr]
		if !ok {
			g = &recipientGroup{address: addr, userID: d.UserID, amount: decimal.Zero}
			byAddress[addr] = g
			groups = append(groups, g)
		}
		g.amount = g.amount.Add(d.Amount)
		g.types = append(g.types, string(d.Type))
	}

	report := &DistributionReport{SessionID: sessionID, Recipients: make([]RecipientResult, len(groups))}
	var mu sync.Mutex
	group := s.pool.NewGroup()
	for i, g := range groups {
		group.Submit(func() {
			res := RecipientResult{Address: g.address, UserID: g.userID, Amount: g.amount, Rewards: len(g.types)}
			txID, err := s.submitDistribution(ctx, sessionID, g)
			res.TransactionID = txID
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Error = err.Error()
				report.Failed++
				s.logger.Warn().
					Err(err).
					Str("session_id", sessionID.String()).
					Str("recipient", g.address).
					Msg("reward distribution failed for recipient")
			} else {
				report.Submitted++
			}
			report.Recipients[i] = res
		})
	}
	if err := group.Wait(); err != nil {
		return report, fmt.Errorf("distribution interrupted: %w", err)
	}
	if report.Submitted > 0 {
		s.notifier.NotifyGlobal(ctx, notification.EventRewardDistributed, report)
	}
	return report, nil
}

func (s *Service) submitDistribution(ctx context.Context, sessionID uuid.UUID, g *recipientGroup) (*uuid.UUID, error) {
	args, err := ledger.Args(sessionID.String(), g.address, g.amount.StringFixed(2), g.types)
	if err != nil {
		return nil, err
	}
	amount := g.amount
	to := g.address
	tx, err := s.txs.Create(ctx, appTransaction.CreateRequest{
		Type:      domainTx.TypeDistributeRewards,
		UserID:    g.userID,
		SessionID: &sessionID,
		Function:  ledger.FnDistributeRewards,
		Arguments: args,
		Amount:    &amount,
		ToAddress: &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution transaction: %w", err)
	}
	if _, err := s.txs.SignAndSubmit(ctx, tx.TransactionID); err != nil {
		return &tx.TransactionID, err
	}
	return &tx.TransactionID, nil
}

// GetClaimableRewards lists a user's rewards that can be claimed now.
func (s *Service) GetClaimableRewards(ctx context.Context, userID uuid.UUID) ([]*domainReward.Reward, error) {
	status := domainReward.StatusClaimable
	items, err := s.rewardRepo.List(ctx, domainReward.Filter{UserID: &userID, Status: &status}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return domainReward.FilterClaimable(items, s.now()), nil
}

// GetClaimableRewardsBySession lists a session's rewards that can be claimed now.
func (s *Service) GetClaimableRewardsBySession(ctx context.Context, sessionID uuid.UUID) ([]*domainReward.Reward, error) {
	status := domainReward.StatusClaimable
	items, err := s.rewardRepo.List(ctx, domainReward.Filter{SessionID: &sessionID, Status: &status}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return domainReward.FilterClaimable(items, s.now()), nil
}

// GetTotalClaimableAmount sums a user's claimable rewards.
func (s *Service) GetTotalClaimableAmount(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	items, err := s.GetClaimableRewards(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return domainReward.Total(items), nil
}

// ExpireRewards moves CLAIMABLE rewards past their window to EXPIRED.
func (s *Service) ExpireRewards(ctx context.Context) (int64, error) {
	n, err := s.rewardRepo.ExpireClaimable(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire rewards: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("rewards expired")
	}
	return n, nil
}

// SettleSession calculates a completed session's rewards from its recorded
// contributions and distributes them. Safe to repeat.
func (s *Service) SettleSession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	sess, participants, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	contributions := make([]Contribution, 0, len(participants))
	for _, p := range participants {
		contributions = append(contributions, Contribution{
			UserID:    p.UserID,
			Address:   p.WalletAddress,
			Score:     p.Score,
			Quality:   p.Quality,
			TimeSpent: p.TimeSpentSeconds,
		})
	}
	dists, err := s.calculator.CalculateSessionRewards(sessionID, sess.RewardPool, contributions)
	if err != nil {
		return 0, err
	}
	created, err := s.DistributeRewards(ctx, sessionID, dists)
	if err != nil {
		return created, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Int("participants", len(participants)).
		Int("created", created).
		Msg("session settled")
	return created, nil
}

// CompletionBonusForSession splits the completion share of a session's pool
// among its current participants.
func (s *Service) CompletionBonusForSession(ctx context.Context, sessionID uuid.UUID) ([]domainReward.Distribution, error) {
	sess, participants, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recipients := make([]Recipient, 0, len(participants))
	for _, p := range participants {
		recipients = append(recipients, Recipient{UserID: p.UserID, Address: p.WalletAddress})
	}
	return s.calculator.CalculateCompletionBonus(sessionID, sess.RewardPool, recipients)
}

func (s *Service) loadSession(ctx context.Context, sessionID uuid.UUID) (*session.Session, []*session.Participant, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, nil, apperror.NotFound("session %s", sessionID)
	}
	participants, err := s.sessionRepo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return sess, participants, nil
}
