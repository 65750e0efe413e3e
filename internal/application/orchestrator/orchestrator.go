package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
)

// Job names.
const (
	JobPollEvents            = "poll-events"
	JobMonitorPending        = "monitor-pending"
	JobRetryTransactions     = "retry-transactions"
	JobRetryEvents           = "retry-events"
	JobExpireRewards         = "expire-rewards"
	JobCleanupEvents         = "cleanup-events"
	JobStatistics            = "statistics"
	JobLedgerHealth          = "ledger-health"
	JobSessionReconciliation = "session-reconciliation"
	JobRetentionCleanup      = "retention-cleanup"
)

// DefaultIntervals is the cadence of every job.
func DefaultIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		JobPollEvents:            5 * time.Second,
		JobMonitorPending:        30 * time.Second,
		JobRetryTransactions:     5 * time.Minute,
		JobRetryEvents:           10 * time.Minute,
		JobExpireRewards:         24 * time.Hour,
		JobCleanupEvents:         7 * 24 * time.Hour,
		JobStatistics:            time.Hour,
		JobLedgerHealth:          2 * time.Minute,
		JobSessionReconciliation: 15 * time.Minute,
		JobRetentionCleanup:      6 * time.Hour,
	}
}

// Config controls job cadence, retention and health thresholds.
type Config struct {
	Contract ledger.Contract
	// Intervals overrides DefaultIntervals per job. A zero or negative value disables the job.
	Intervals  map[string]time.Duration
	AlertRules []AlertRule
	JobTimeout time.Duration

	RetryBatchSize       int
	ReconcileBatchSize   int
	EventRetention       time.Duration
	TransactionRetention time.Duration
	ExpiryHorizon        time.Duration

	MaxPendingTransactions int64
	MaxFailedEvents        int64
}

func (c Config) normalized() Config {
	intervals := DefaultIntervals()
	for name, d := range c.Intervals {
		intervals[name] = d
	}
	c.Intervals = intervals
	if c.AlertRules == nil {
		c.AlertRules = DefaultAlertRules()
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = 10
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = 50
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 30 * 24 * time.Hour
	}
	if c.TransactionRetention <= 0 {
		c.TransactionRetention = 30 * 24 * time.Hour
	}
	if c.ExpiryHorizon <= 0 {
		c.ExpiryHorizon = 7 * 24 * time.Hour
	}
	if c.MaxPendingTransactions <= 0 {
		c.MaxPendingTransactions = 50
	}
	if c.MaxFailedEvents <= 0 {
		c.MaxFailedEvents = 10
	}
	return c
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records job and health metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator drives every background sync job on its own schedule.
type Orchestrator struct {
	txs         TransactionSync
	events      EventSync
	rewards     RewardSync
	txRepo      domainTx.Repository
	rewardRepo  domainReward.Repository
	eventRepo   eventlog.Repository
	sessionRepo session.Repository
	ledger      ledger.Client
	notifier    notification.Sink
	locker      Locker
	metrics     *metrics.Metrics
	cfg         Config
	rules       map[string]*govaluate.EvaluableExpression
	logger      zerolog.Logger
	now         func() time.Time

	scheduler *Scheduler
	initOnce  sync.Once
	initErr   error

	ledgerHealthy atomic.Pointer[bool]
	lastStats     atomic.Pointer[Statistics]
}

// NewOrchestrator creates an orchestrator. It fails when an alert rule does not parse.
func NewOrchestrator(
	txs TransactionSync,
	events EventSync,
	rewards RewardSync,
	txRepo domainTx.Repository,
	rewardRepo domainReward.Repository,
	eventRepo eventlog.Repository,
	sessionRepo session.Repository,
	ledgerClient ledger.Client,
	notifier notification.Sink,
	locker Locker,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	cfg = cfg.normalized()
	rules, err := CompileRules(cfg.AlertRules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile alert rules: %w", err)
	}
	o := &Orchestrator{
		txs:         txs,
		events:      events,
		rewards:     rewards,
		txRepo:      txRepo,
		rewardRepo:  rewardRepo,
		eventRepo:   eventRepo,
		sessionRepo: sessionRepo,
		ledger:      ledgerClient,
		notifier:    notifier,
		locker:      locker,
		cfg:         cfg,
		rules:       rules,
		logger:      logger.With().Str("service", "orchestrator").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.scheduler = NewScheduler(locker, cfg.JobTimeout, o.metrics, logger)
	return o, nil
}

// Jobs returns every job with its configured interval, disabled jobs excluded.
func (o *Orchestrator) Jobs() []Job {
	all := []Job{
		{Name: JobPollEvents, RunOnStart: true, Run: o.pollEvents},
		{Name: JobMonitorPending, RunOnStart: true, Run: o.monitorPending},
		{Name: JobRetryTransactions, Run: o.retryTransactions},
		{Name: JobRetryEvents, Run: o.retryEvents},
		{Name: JobExpireRewards, Run: o.expireRewards},
		{Name: JobCleanupEvents, Run: o.cleanupEvents},
		{Name: JobStatistics, Run: func(ctx context.Context) error { _, err := o.GenerateStatistics(ctx); return err }},
		{Name: JobLedgerHealth, RunOnStart: true, Run: o.CheckLedgerHealth},
		{Name: JobSessionReconciliation, Run: func(ctx context.Context) error { _, err := o.ReconcileSessions(ctx); return err }},
		{Name: JobRetentionCleanup, Run: o.retentionCleanup},
	}
	out := make([]Job, 0, len(all))
	for _, j := range all {
		j.Interval = o.cfg.Intervals[j.Name]
		if j.Interval <= 0 {
			continue
		}
		out = append(out, j)
	}
	return out
}

func (o *Orchestrator) register() error {
	o.initOnce.Do(func() {
		for _, j := range o.Jobs() {
			if err := o.scheduler.Register(j); err != nil {
				o.initErr = err
				return
			}
		}
	})
	return o.initErr
}

// Start schedules every enabled job.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.register(); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	o.scheduler.Start(ctx)
	o.logger.Info().Strs("jobs", o.scheduler.Jobs()).Msg("sync orchestrator started")
	return nil
}

// Stop cancels all jobs and waits for in-flight runs.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.scheduler.Stop(ctx)
}

func (o *Orchestrator) pollEvents(ctx context.Context) error {
	report, err := o.events.PollOnce(ctx)
	if err != nil {
		return err
	}
	if report.Fetched > 0 {
		o.logger.Debug().
			Int("fetched", report.Fetched).
			Int("processed", report.Processed).
			Int("failed", report.Failed).
			Int64("cursor", report.Cursor).
			Msg("events polled")
	}
	return nil
}

func (o *Orchestrator) monitorPending(ctx context.Context) error {
	report, err := o.txs.MonitorSubmitted(ctx)
	if err != nil {
		return err
	}
	if report.Checked > 0 {
		o.logger.Info().
			Int("checked", report.Checked).
			Int("confirmed", report.Confirmed).
			Int("failed", report.Failed).
			Int("pending", report.Pending).
			Int("errors", report.Errors).
			Msg("pending transactions monitored")
	}
	return nil
}

func (o *Orchestrator) retryTransactions(ctx context.Context) error {
	n, err := o.txs.RetryFailed(ctx, o.cfg.RetryBatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info().Int("count", n).Msg("failed transactions retried")
	}
	return nil
}

func (o *Orchestrator) retryEvents(ctx context.Context) error {
	report, err := o.events.RetryFailed(ctx, o.cfg.RetryBatchSize)
	if err != nil {
		return err
	}
	if report.Retried > 0 || report.Resumed > 0 {
		o.logger.Info().
			Int("resumed", report.Resumed).
			Int("retried", report.Retried).
			Int("succeeded", report.Succeeded).
			Msg("failed events retried")
	}
	return nil
}

func (o *Orchestrator) expireRewards(ctx context.Context) error {
	n, err := o.rewards.ExpireRewards(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.notifier.NotifyGlobal(ctx, notification.EventRewardsExpired, map[string]any{"count": n})
	}
	return nil
}

func (o *Orchestrator) cleanupEvents(ctx context.Context) error {
	n, err := o.events.PurgeProcessed(ctx, o.cfg.EventRetention)
	if err != nil {
		return err
	}
	o.logger.Info().Int64("count", n).Msg("processed events cleaned up")
	o.notifier.NotifyGlobal(ctx, notification.EventEventsCleaned, map[string]any{"count": n})
	return nil
}

func (o *Orchestrator) retentionCleanup(ctx context.Context) error {
	n, err := o.txs.PurgeTerminal(ctx, o.cfg.TransactionRetention)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info().Int64("count", n).Msg("terminal transactions purged")
	}
	return nil
}

// CheckLedgerHealth reads the contract store resource. Subscribers are only
// notified when health changes.
func (o *Orchestrator) CheckLedgerHealth(ctx context.Context) error {
	_, err := o.ledger.GetAccountResource(ctx, o.cfg.Contract.Address, o.cfg.Contract.StoreResourceType())
	healthy := err == nil
	o.metrics.SetLedgerHealthy(healthy)

	prev := o.ledgerHealthy.Swap(&healthy)
	changed := (prev == nil && !healthy) || (prev != nil && *prev != healthy)
	if changed {
		if healthy {
			o.logger.Info().Msg("ledger recovered")
			o.notifier.NotifyGlobal(ctx, notification.EventLedgerRecovered, map[string]any{"checkedAt": o.now()})
		} else {
			o.logger.Warn().Err(err).Msg("ledger unhealthy")
			o.notifier.NotifyGlobal(ctx, notification.EventLedgerUnhealthy, map[string]any{"checkedAt": o.now(), "error": err.Error()})
		}
	}
	if err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

// ReconcileReport summarises ReconcileSessions.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Settled   int `json:"settled"`
	Errors    int `json:"errors"`
}

// ReconcileSessions completes RUNNING sessions past their end time that the
// ledger already reports completed, then settles their rewards.
func (o *Orchestrator) ReconcileSessions(ctx context.Context) (ReconcileReport, error) {
	sessions, err := o.sessionRepo.ListRunningEndedBefore(ctx, o.now(), o.cfg.ReconcileBatchSize)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to list ended sessions: %w", err)
	}
	var report ReconcileReport
	for _, s := range sessions {
		report.Checked++
		completed, err := o.reconcileSession(ctx, s)
		if err != nil {
			report.Errors++
			o.logger.Warn().Err(err).Str("session_id", s.SessionID.String()).Msg("session reconciliation failed")
			continue
		}
		if completed {
			report.Completed++
			report.Settled++
		}
	}
	if report.Completed > 0 {
		o.logger.Info().Int("completed", report.Completed).Int("checked", report.Checked).Msg("sessions reconciled")
	}
	return report, nil
}

func (o *Orchestrator) reconcileSession(ctx context.Context, s *session.Session) (bool, error) {
	raw, err := o.ledger.GetAccountResource(ctx, o.cfg.Contract.Address, o.cfg.Contract.SessionResourceType(s.SessionID.String()))
	if err != nil {
		if errors.Is(err, ledger.ErrResourceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read session resource: %w", err)
	}
	var state ledger.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("failed to decode session resource: %w", err)
	}
	if state.Status != ledger.SessionStateCompleted {
		return false, nil
	}
	ok, err := o.sessionRepo.CompareAndSetStatus(ctx, s.SessionID, session.StatusRunning, session.StatusCompleted, o.now())
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	if !ok {
		return false, nil
	}
	if _, err := o.rewards.SettleSession(ctx, s.SessionID); err != nil {
		return false, fmt.Errorf("failed to settle session: %w", err)
	}
	o.notifier.NotifyGlobal(ctx, notification.EventSessionCompleted, map[string]any{"sessionId": s.SessionID, "source": "reconciliation"})
	return true, nil
}

// ManualSyncReport lists which jobs ran and which were skipped as busy.
type ManualSyncReport struct {
	Ran     []string `json:"ran"`
	Skipped []string `json:"skipped"`
}

var manualSyncJobs = []string{JobMonitorPending, JobRetryTransactions, JobRetryEvents, JobStatistics}

// TriggerManualSync runs monitoring, both retry sweeps and statistics
// concurrently and returns the first error.
func (o *Orchestrator) TriggerManualSync(ctx context.Context) (ManualSyncReport, error) {
	if err := o.register(); err != nil {
		return ManualSyncReport{}, fmt.Errorf("failed to register jobs: %w", err)
	}
	var (
		mu     sync.Mutex
		report ManualSyncReport
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range manualSyncJobs {
		g.Go(func() error {
			ran, err := o.scheduler.RunNow(gctx, name)
			if errors.Is(err, ErrUnknownJob) {
				return nil
			}
			mu.Lock()
			if ran {
				report.Ran = append(report.Ran, name)
			} else if err == nil {
				report.Skipped = append(report.Skipped, name)
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	o.logger.Info().Strs("ran", report.Ran).Strs("skipped", report.Skipped).Err(err).Msg("manual sync finished")
	return report, err
}

// SyncStatus is the engine health summary.
type SyncStatus struct {
	Healthy             bool            `json:"healthy"`
	PendingTransactions int64           `json:"pendingTransactions"`
	FailedEvents        int64           `json:"failedEvents"`
	Monitoring          bool            `json:"monitoring"`
	ActiveMonitors      int             `json:"activeMonitors"`
	Cursor              int64           `json:"cursor"`
	LedgerHealthy       *bool           `json:"ledgerHealthy,omitempty"`
	Jobs                map[string]bool `json:"jobs"`
	LastStatistics      *Statistics     `json:"lastStatistics,omitempty"`
	CheckedAt           time.Time       `json:"checkedAt"`
}

// GetSyncStatus reports pending work and whether each job is running.
func (o *Orchestrator) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	if err := o.register(); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	pending, err := o.txRepo.CountByStatus(ctx, domainTx.StatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("failed to count submitted transactions: %w", err)
	}
	counts, err := o.eventRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	var failedEvents int64
	for _, c := range counts {
		if c.Status == eventlog.StatusFailed {
			failedEvents = c.Count
		}
	}
	return &SyncStatus{
		Healthy:             pending < o.cfg.MaxPendingTransactions && failedEvents < o.cfg.MaxFailedEvents,
		PendingTransactions: pending,
		FailedEvents:        failedEvents,
		Monitoring:          o.scheduler.Running(JobMonitorPending),
		ActiveMonitors:      o.txs.MonitoringCount(),
		Cursor:              o.events.Cursor(),
		LedgerHealthy:       o.ledgerHealthy.Load(),
		Jobs:                o.scheduler.Status(),
		LastStatistics:      o.lastStats.Load(),
		CheckedAt:           o.now(),
	}, nil
}
