package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appIngestion "github.com/execution-hub/ledger-sync/internal/application/ingestion"
	"github.com/execution-hub/ledger-sync/internal/application/orchestrator/mocks"
	appTransaction "github.com/execution-hub/ledger-sync/internal/application/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	eventMocks "github.com/execution-hub/ledger-sync/internal/domain/eventlog/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	ledgerMocks "github.com/execution-hub/ledger-sync/internal/domain/ledger/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
	notificationMocks "github.com/execution-hub/ledger-sync/internal/domain/notification/mocks"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
	rewardMocks "github.com/execution-hub/ledger-sync/internal/domain/reward/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	sessionMocks "github.com/execution-hub/ledger-sync/internal/domain/session/mocks"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
	txMocks "github.com/execution-hub/ledger-sync/internal/domain/transaction/mocks"
)

var testNow = time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)

var testContract = ledger.Contract{Address: "0x1", Module: "contribution"}

type fixture struct {
	txs         *mocks.MockTransactionSync
	events      *mocks.MockEventSync
	rewards     *mocks.MockRewardSync
	txRepo      *txMocks.MockRepository
	rewardRepo  *rewardMocks.MockRepository
	eventRepo   *eventMocks.MockRepository
	sessionRepo *sessionMocks.MockRepository
	ledger      *ledgerMocks.MockClient
	notifier    *notificationMocks.MockSink
	orch        *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		txs:         mocks.NewMockTransactionSync(ctrl),
		events:      mocks.NewMockEventSync(ctrl),
		rewards:     mocks.NewMockRewardSync(ctrl),
		txRepo:      txMocks.NewMockRepository(ctrl),
		rewardRepo:  rewardMocks.NewMockRepository(ctrl),
		eventRepo:   eventMocks.NewMockRepository(ctrl),
		sessionRepo: sessionMocks.NewMockRepository(ctrl),
		ledger:      ledgerMocks.NewMockClient(ctrl),
		notifier:    notificationMocks.NewMockSink(ctrl),
	}
	cfg.Contract = testContract
	orch, err := NewOrchestrator(f.txs, f.events, f.rewards, f.txRepo, f.rewardRepo, f.eventRepo, f.sessionRepo,
		f.ledger, f.notifier, NewMemoryLocker(), cfg, zerolog.Nop(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) expectStatistics(failedTx, failedEvents, expiring int64) {
	f.txRepo.EXPECT().AggregateByStatus(gomock.Any()).Return([]domainTx.StatusAggregate{
		{Status: domainTx.StatusConfirmed, Count: 40, Amount: decimal.NewFromInt(1200)},
		{Status: domainTx.StatusFailed, Count: failedTx, Amount: decimal.Zero},
	}, nil)
	f.rewardRepo.EXPECT().AggregateByStatus(gomock.Any()).Return([]domainReward.StatusAggregate{
		{Status: domainReward.StatusClaimable, Count: 3, Amount: decimal.RequireFromString("75.50")},
	}, nil)
	f.eventRepo.EXPECT().CountByStatus(gomock.Any()).Return([]eventlog.StatusCount{
		{Status: eventlog.StatusProcessed, Count: 200},
		{Status: eventlog.StatusFailed, Count: failedEvents},
	}, nil)
	f.rewardRepo.EXPECT().CountExpiringBetween(gomock.Any(), testNow, testNow.Add(7*24*time.Hour)).Return(expiring, nil)
}

func TestNewOrchestratorRejectsBadRule(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := NewOrchestrator(nil, nil, nil, nil, nil, nil, nil, nil, notificationMocks.NewMockSink(ctrl), NewMemoryLocker(),
		Config{AlertRules: []AlertRule{{Name: "broken", Expression: "failedEvents >"}}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestJobsHonourIntervals(t *testing.T) {
	f := newFixture(t, Config{Intervals: map[string]time.Duration{
		JobCleanupEvents: 0,
		JobPollEvents:    time.Second,
	}})

	jobs := f.orch.Jobs()

	names := map[string]time.Duration{}
	for _, j := range jobs {
		names[j.Name] = j.Interval
	}
	assert.Len(t, jobs, 9)
	assert.NotContains(t, names, JobCleanupEvents)
	assert.Equal(t, time.Second, names[JobPollEvents])
	assert.Equal(t, 30*time.Second, names[JobMonitorPending])
	assert.Equal(t, 6*time.Hour, names[JobRetentionCleanup])
}

func TestGenerateStatisticsRaisesAlerts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.expectStatistics(11, 2, 0)

	var alerts []Alert
	f.notifier.EXPECT().
		NotifyGlobal(ctx, notification.EventAlert, gomock.Any()).
		Do(func(_ context.Context, _ string, payload any) { alerts = append(alerts, payload.(Alert)) })
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventStatisticsReport, gomock.Any())

	stats, err := f.orch.GenerateStatistics(ctx)

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "failed-transactions", alerts[0].Rule)
	assert.Equal(t, 11.0, alerts[0].Values["failedTransactions"])
	assert.True(t, decimal.NewFromInt(1200).Equal(stats.TransactionVolume))
	assert.True(t, decimal.RequireFromString("75.50").Equal(stats.ClaimableRewards))
	assert.Equal(t, 7, stats.ExpiringWithinDays)

	params := stats.Params()
	assert.Equal(t, 0.0, params["pendingTransactions"])
	assert.Equal(t, 2.0, params["failedEvents"])
	assert.Equal(t, 51.0, params["totalTransactions"])
}

func TestGenerateStatisticsAllDefaultAlerts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.expectStatistics(12, 6, 4)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventAlert, gomock.Any()).Times(3)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventStatisticsReport, gomock.Any())

	stats, err := f.orch.GenerateStatistics(ctx)

	require.NoError(t, err)
	assert.Len(t, stats.Alerts, 3)
}

func TestCheckLedgerHealthNotifiesOnChange(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	resource := testContract.StoreResourceType()
	down := apperror.LedgerUnavailable("connection refused")

	gomock.InOrder(
		f.ledger.EXPECT().GetAccountResource(ctx, "0x1", resource).Return(json.RawMessage(`{}`), nil),
		f.ledger.EXPECT().GetAccountResource(ctx, "0x1", resource).Return(nil, down),
		f.ledger.EXPECT().GetAccountResource(ctx, "0x1", resource).Return(nil, down),
		f.ledger.EXPECT().GetAccountResource(ctx, "0x1", resource).Return(json.RawMessage(`{}`), nil),
	)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventLedgerUnhealthy, gomock.Any()).Times(1)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventLedgerRecovered, gomock.Any()).Times(1)

	require.NoError(t, f.orch.CheckLedgerHealth(ctx))
	assert.ErrorIs(t, f.orch.CheckLedgerHealth(ctx), apperror.ErrLedgerUnavailable)
	assert.Error(t, f.orch.CheckLedgerHealth(ctx))
	require.NoError(t, f.orch.CheckLedgerHealth(ctx))
}

func TestReconcileSessions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	done := &session.Session{SessionID: uuid.New(), Status: session.StatusRunning}
	active := &session.Session{SessionID: uuid.New(), Status: session.StatusRunning}
	unknown := &session.Session{SessionID: uuid.New(), Status: session.StatusRunning}

	f.sessionRepo.EXPECT().ListRunningEndedBefore(ctx, testNow, 50).Return([]*session.Session{done, active, unknown}, nil)
	f.ledger.EXPECT().
		GetAccountResource(ctx, "0x1", testContract.SessionResourceType(done.SessionID.String())).
		Return(json.RawMessage(`{"session_id":"x","status":"COMPLETED","participant_count":2,"reward_pool":"1000"}`), nil)
	f.ledger.EXPECT().
		GetAccountResource(ctx, "0x1", testContract.SessionResourceType(active.SessionID.String())).
		Return(json.RawMessage(`{"status":"ACTIVE"}`), nil)
	f.ledger.EXPECT().
		GetAccountResource(ctx, "0x1", testContract.SessionResourceType(unknown.SessionID.String())).
		Return(nil, ledger.ErrResourceNotFound)
	f.sessionRepo.EXPECT().CompareAndSetStatus(ctx, done.SessionID, session.StatusRunning, session.StatusCompleted, testNow).Return(true, nil)
	f.rewards.EXPECT().SettleSession(ctx, done.SessionID).Return(2, nil)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventSessionCompleted, gomock.Any())

	report, err := f.orch.ReconcileSessions(ctx)

	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 3, Completed: 1, Settled: 1}, report)
}

func TestReconcileSessionsIsolatesFailures(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := &session.Session{SessionID: uuid.New()}
	b := &session.Session{SessionID: uuid.New()}

	f.sessionRepo.EXPECT().ListRunningEndedBefore(ctx, testNow, 50).Return([]*session.Session{a, b}, nil)
	f.ledger.EXPECT().GetAccountResource(ctx, "0x1", testContract.SessionResourceType(a.SessionID.String())).
		Return(nil, apperror.LedgerUnavailable("timeout"))
	f.ledger.EXPECT().GetAccountResource(ctx, "0x1", testContract.SessionResourceType(b.SessionID.String())).
		Return(json.RawMessage(`{"status":"COMPLETED"}`), nil)
	f.sessionRepo.EXPECT().CompareAndSetStatus(ctx, b.SessionID, session.StatusRunning, session.StatusCompleted, testNow).Return(false, nil)

	report, err := f.orch.ReconcileSessions(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Completed)
}

func TestExpireRewardsNotifiesOnlyWhenSomethingExpired(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	gomock.InOrder(
		f.rewards.EXPECT().ExpireRewards(ctx).Return(int64(0), nil),
		f.rewards.EXPECT().ExpireRewards(ctx).Return(int64(4), nil),
	)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventRewardsExpired, map[string]any{"count": int64(4)})

	require.NoError(t, f.orch.expireRewards(ctx))
	require.NoError(t, f.orch.expireRewards(ctx))
}

func TestCleanupJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.events.EXPECT().PurgeProcessed(ctx, 30*24*time.Hour).Return(int64(12), nil)
	f.notifier.EXPECT().NotifyGlobal(ctx, notification.EventEventsCleaned, map[string]any{"count": int64(12)})
	f.txs.EXPECT().PurgeTerminal(ctx, 30*24*time.Hour).Return(int64(3), nil)

	require.NoError(t, f.orch.cleanupEvents(ctx))
	require.NoError(t, f.orch.retentionCleanup(ctx))
}

func TestTriggerManualSyncRunsAllJobs(t *testing.T) {
	f := newFixture(t, Config{})
	f.txs.EXPECT().MonitorSubmitted(gomock.Any()).Return(appTransaction.MonitorReport{Checked: 2, Confirmed: 2}, nil)
	f.txs.EXPECT().RetryFailed(gomock.Any(), 10).Return(1, nil)
	f.events.EXPECT().RetryFailed(gomock.Any(), 10).Return(appIngestion.RetryReport{Retried: 1, Succeeded: 1}, nil)
	f.expectStatistics(0, 0, 0)
	f.notifier.EXPECT().NotifyGlobal(gomock.Any(), notification.EventStatisticsReport, gomock.Any())

	report, err := f.orch.TriggerManualSync(context.Background())

	require.NoError(t, err)
	assert.ElementsMatch(t, manualSyncJobs, report.Ran)
	assert.Empty(t, report.Skipped)
}

func TestTriggerManualSyncPropagatesFailure(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("database unavailable")
	f.txs.EXPECT().MonitorSubmitted(gomock.Any()).Return(appTransaction.MonitorReport{}, nil).MaxTimes(1)
	f.txs.EXPECT().RetryFailed(gomock.Any(), 10).Return(0, boom)
	f.events.EXPECT().RetryFailed(gomock.Any(), 10).Return(appIngestion.RetryReport{}, nil).MaxTimes(1)
	f.txRepo.EXPECT().AggregateByStatus(gomock.Any()).Return(nil, nil).MaxTimes(1)
	f.rewardRepo.EXPECT().AggregateByStatus(gomock.Any()).Return(nil, nil).MaxTimes(1)
	f.eventRepo.EXPECT().CountByStatus(gomock.Any()).Return(nil, nil).MaxTimes(1)
	f.rewardRepo.EXPECT().CountExpiringBetween(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil).MaxTimes(1)
	f.notifier.EXPECT().NotifyGlobal(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	_, err := f.orch.TriggerManualSync(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobRetryTransactions)
}

func TestGetSyncStatus(t *testing.T) {
	cases := []struct {
		name         string
		pending      int64
		failedEvents int64
		healthy      bool
	}{
		{"healthy", 49, 9, true},
		{"too many pending", 50, 0, false},
		{"too many failed events", 0, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			ctx := context.Background()
			f.txRepo.EXPECT().CountByStatus(ctx, domainTx.StatusSubmitted).Return(tc.pending, nil)
			f.eventRepo.EXPECT().CountByStatus(ctx).Return([]eventlog.StatusCount{
				{Status: eventlog.StatusProcessed, Count: 500},
				{Status: eventlog.StatusFailed, Count: tc.failedEvents},
			}, nil)
			f.txs.EXPECT().MonitoringCount().Return(3)
			f.events.EXPECT().Cursor().Return(int64(120))

			status, err := f.orch.GetSyncStatus(ctx)

			require.NoError(t, err)
			assert.Equal(t, tc.healthy, status.Healthy)
			assert.Equal(t, tc.pending, status.PendingTransactions)
			assert.Equal(t, tc.failedEvents, status.FailedEvents)
			assert.False(t, status.Monitoring)
			assert.Equal(t, 3, status.ActiveMonitors)
			assert.Equal(t, int64(120), status.Cursor)
			assert.Len(t, status.Jobs, 10)
			assert.Equal(t, testNow, status.CheckedAt)
		})
	}
}
