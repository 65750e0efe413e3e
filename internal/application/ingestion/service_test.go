package ingestion

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

	ingestionMocks "github.com/execution-hub/ledger-sync/internal/application/ingestion/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/eventlog"
	eventMocks "github.com/execution-hub/ledger-sync/internal/domain/eventlog/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	ledgerMocks "github.com/execution-hub/ledger-sync/internal/domain/ledger/mocks"
	notificationMocks "github.com/execution-hub/ledger-sync/internal/domain/notification/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/reward"
	rewardMocks "github.com/execution-hub/ledger-sync/internal/domain/reward/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	sessionMocks "github.com/execution-hub/ledger-sync/internal/domain/session/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/transaction"
	txMocks "github.com/execution-hub/ledger-sync/internal/domain/transaction/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
	userMocks "github.com/execution-hub/ledger-sync/internal/domain/user/mocks"
)

const testHandle = "0x1::contribution"

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	eventRepo   *eventMocks.MockRepository
	sessionRepo *sessionMocks.MockRepository
	userRepo    *userMocks.MockRepository
	rewardRepo  *rewardMocks.MockRepository
	txRepo      *txMocks.MockRepository
	rewards     *ingestionMocks.MockRewardDistributor
	ledger      *ledgerMocks.MockClient
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		eventRepo:   eventMocks.NewMockRepository(ctrl),
		sessionRepo: sessionMocks.NewMockRepository(ctrl),
		userRepo:    userMocks.NewMockRepository(ctrl),
		rewardRepo:  rewardMocks.NewMockRepository(ctrl),
		txRepo:      txMocks.NewMockRepository(ctrl),
		rewards:     ingestionMocks.NewMockRewardDistributor(ctrl),
		ledger:      ledgerMocks.NewMockClient(ctrl),
	}
	notifier := notificationMocks.NewMockSink(ctrl)
	notifier.EXPECT().NotifyUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	notifier.EXPECT().NotifyGlobal(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	f.svc = NewService(
		f.eventRepo, f.sessionRepo, f.userRepo, f.rewardRepo, f.txRepo, f.rewards, f.ledger, notifier,
		Config{Handle: testHandle}, zerolog.Nop(),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func event(t *testing.T, structName string, version, seq int64, data any) ledger.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return ledger.Event{
		GUID:            "0x1::contribution::events",
		SequenceNumber:  seq,
		Type:            testHandle + "::" + structName,
		Version:         version,
		TransactionHash: "0xhash",
		Data:            raw,
	}
}

func TestHandlersCoverEveryKind(t *testing.T) {
	f := newFixture(t)
	for _, kind := range eventlog.Kinds {
		_, ok := f.svc.handlers[kind]
		assert.True(t, ok, "no handler for %s", kind)
	}
	_, ok := f.svc.handlers[eventlog.KindUnknown]
	assert.False(t, ok)
}

func TestService_RecoverCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.eventRepo.EXPECT().MaxBlockHeight(ctx).Return(int64(912), nil)

	cursor, err := f.svc.RecoverCursor(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(912), cursor)
	assert.Equal(t, int64(912), f.svc.Cursor())
}

func TestService_IngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	ev := event(t, ledger.EventSessionCreated, 10, 1, ledger.SessionCreatedData{SessionID: sessionID.String()})

	gomock.InOrder(
		f.eventRepo.EXPECT().Exists(ctx, ev.GUID, ev.SequenceNumber).Return(false, nil),
		f.eventRepo.EXPECT().Exists(ctx, ev.GUID, ev.SequenceNumber).Return(true, nil),
	)
	f.eventRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog) error {
			assert.Equal(t, eventlog.KindSessionCreated, e.EventType)
			assert.Equal(t, eventlog.StatusPending, e.Status)
			assert.Equal(t, int64(10), e.BlockHeight)
			return nil
		})
	f.sessionRepo.EXPECT().
		CompareAndSetStatus(ctx, sessionID, session.StatusCreated, session.StatusRunning, testNow).
		Return(true, nil).
		Times(1)
	f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, Status: session.StatusRunning}, nil)
	f.eventRepo.EXPECT().
		CompareAndSwap(ctx, gomock.Any(), eventlog.StatusPending).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog, _ eventlog.Status) (bool, error) {
			assert.Equal(t, eventlog.StatusProcessed, e.Status)
			assert.Contains(t, string(e.ProcessedData), "RUNNING")
			return true, nil
		})

	first, err := f.svc.Ingest(ctx, ev)
	require.NoError(t, err)
	second, err := f.svc.Ingest(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, first)
	assert.Equal(t, OutcomeDuplicate, second)
}

func TestService_IngestRacingInsertIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := event(t, ledger.EventSessionCreated, 10, 1, ledger.SessionCreatedData{SessionID: uuid.NewString()})

	f.eventRepo.EXPECT().Exists(ctx, ev.GUID, ev.SequenceNumber).Return(false, nil)
	f.eventRepo.EXPECT().Create(ctx, gomock.Any()).Return(eventlog.ErrDuplicate)

	outcome, err := f.svc.Ingest(ctx, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestService_IngestUnknownIsRecordedAsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := event(t, "CoinDepositEvent", 11, 4, map[string]string{"amount": "1"})

	f.eventRepo.EXPECT().Exists(ctx, ev.GUID, ev.SequenceNumber).Return(false, nil)
	f.eventRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog) error {
			assert.Equal(t, eventlog.KindUnknown, e.EventType)
			assert.Equal(t, eventlog.StatusIgnored, e.Status)
			return nil
		})

	outcome, err := f.svc.Ingest(ctx, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestService_IngestHandlerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := event(t, ledger.EventParticipantRegistered, 12, 2, ledger.ParticipantRegisteredData{
		SessionID:   uuid.NewString(),
		Participant: "0xUNKNOWN",
	})

	f.eventRepo.EXPECT().Exists(ctx, ev.GUID, ev.SequenceNumber).Return(false, nil)
	f.eventRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	f.userRepo.EXPECT().GetByWalletAddress(ctx, "0xunknown").Return(nil, nil)
	f.eventRepo.EXPECT().
		CompareAndSwap(ctx, gomock.Any(), eventlog.StatusPending).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog, _ eventlog.Status) (bool, error) {
			assert.Equal(t, eventlog.StatusFailed, e.Status)
			assert.Equal(t, 1, e.RetryCount)
			require.NotNil(t, e.ErrorMessage)
			assert.Contains(t, *e.ErrorMessage, "0xUNKNOWN")
			return true, nil
		})

	outcome, err := f.svc.Ingest(ctx, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestService_PollOnceAdvancesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cursor.Store(20)

	badSession := ledger.SessionCreatedData{SessionID: "not-a-uuid"}
	later := event(t, ledger.EventSessionCreated, 25, 6, badSession)
	earlier := event(t, ledger.EventSessionCreated, 21, 5, badSession)
	f.ledger.EXPECT().GetEvents(ctx, testHandle, int64(20), 100).Return([]ledger.Event{later, earlier}, nil)

	var seen []int64
	f.eventRepo.EXPECT().Exists(ctx, gomock.Any(), gomock.Any()).Return(false, nil).Times(2)
	f.eventRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog) error {
			seen = append(seen, e.BlockHeight)
			return nil
		}).
		Times(2)
	f.eventRepo.EXPECT().CompareAndSwap(ctx, gomock.Any(), eventlog.StatusPending).Return(true, nil).Times(2)

	report, err := f.svc.PollOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, []int64{21, 25}, seen)
	assert.Equal(t, PollReport{Fetched: 2, Failed: 2, Cursor: 25}, report)
	assert.Equal(t, int64(25), f.svc.Cursor())
}

func TestService_PollOncePinsCursorOnStorageError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cursor.Store(20)

	first := event(t, "CoinDepositEvent", 21, 1, map[string]string{})
	second := event(t, "CoinDepositEvent", 24, 2, map[string]string{})
	f.ledger.EXPECT().GetEvents(ctx, testHandle, int64(20), 100).Return([]ledger.Event{first, second}, nil)
	f.eventRepo.EXPECT().Exists(ctx, first.GUID, int64(1)).Return(false, nil)
	f.eventRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	f.eventRepo.EXPECT().Exists(ctx, second.GUID, int64(2)).Return(false, errors.New("connection refused"))

	report, err := f.svc.PollOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(24), report.Cursor)
	assert.Equal(t, 1, report.Ignored)
	assert.Equal(t, 1, report.Failed)
}

func TestService_PollOnceWidensPastCrowdedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.BatchSize = 2
	f.svc.cursor.Store(20)

	a := event(t, "CoinDepositEvent", 20, 1, map[string]string{})
	b := event(t, "CoinDepositEvent", 20, 2, map[string]string{})
	c := event(t, "CoinDepositEvent", 21, 3, map[string]string{})
	f.ledger.EXPECT().GetEvents(ctx, testHandle, int64(20), 2).Return([]ledger.Event{a, b}, nil)
	f.ledger.EXPECT().GetEvents(ctx, testHandle, int64(20), 4).Return([]ledger.Event{a, b, c}, nil)
	f.eventRepo.EXPECT().Exists(ctx, a.GUID, int64(1)).Return(true, nil)
	f.eventRepo.EXPECT().Exists(ctx, b.GUID, int64(2)).Return(true, nil)
	f.eventRepo.EXPECT().Exists(ctx, c.GUID, int64(3)).Return(false, nil)
	f.eventRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)

	report, err := f.svc.PollOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, PollReport{Fetched: 3, Duplicate: 2, Ignored: 1, Cursor: 21}, report)
}

func TestService_PollOnceLedgerError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.EXPECT().GetEvents(ctx, testHandle, int64(0), 100).Return(nil, errors.New("timeout"))

	_, err := f.svc.PollOnce(ctx)

	assert.Error(t, err)
	assert.Equal(t, int64(0), f.svc.Cursor())
}

func TestService_ParticipantRegistered(t *testing.T) {
	for _, added := range []bool{true, false} {
		f := newFixture(t)
		ctx := context.Background()
		sessionID := uuid.New()
		u := &user.User{UserID: uuid.New()}
		e := eventlog.NewEventLog(eventlog.KindParticipantRegistered, "0xhash", 3, "g", 1,
			json.RawMessage(`{"session_id":"`+sessionID.String()+`","participant":"0xABC"}`), testNow)

		f.userRepo.EXPECT().GetByWalletAddress(ctx, "0xabc").Return(u, nil)
		f.sessionRepo.EXPECT().
			AddParticipant(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, p *session.Participant) (bool, error) {
				assert.Equal(t, u.UserID, p.UserID)
				assert.Equal(t, "0xabc", p.WalletAddress)
				return added, nil
			})
		if added {
			f.sessionRepo.EXPECT().IncrementParticipantCount(ctx, sessionID, 1).Return(nil)
		}

		_, err := f.svc.handleParticipantRegistered(ctx, e)
		require.NoError(t, err)
	}
}

func TestService_ContributionSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	u := &user.User{UserID: uuid.New()}
	raw, _ := json.Marshal(ledger.ContributionSubmittedData{
		SessionID: sessionID.String(), Participant: "0xabc",
		Score: 80, Quality: 0.9, TimeSpent: 60, Accuracy: 0.8, Efficiency: 0.7, Consistency: 0.6,
	})
	e := eventlog.NewEventLog(eventlog.KindContributionSubmitted, "0xhash", 3, "g", 2, raw, testNow)

	f.userRepo.EXPECT().GetByWalletAddress(ctx, "0xabc").Return(u, nil)
	f.sessionRepo.EXPECT().
		RecordContribution(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, p *session.Participant) error {
			assert.Equal(t, 80.0, p.Score)
			assert.Equal(t, 0.9, p.Quality)
			assert.Equal(t, 60.0, p.TimeSpentSeconds)
			assert.Equal(t, 0.6, p.Consistency)
			return nil
		})

	_, err := f.svc.handleContributionSubmitted(ctx, e)
	require.NoError(t, err)
}

func TestService_SessionCompleted(t *testing.T) {
	t.Run("already completed still settles", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		sessionID := uuid.New()
		e := eventlog.NewEventLog(eventlog.KindSessionCompleted, "0xhash", 9, "g", 3,
			json.RawMessage(`{"session_id":"`+sessionID.String()+`"}`), testNow)

		f.sessionRepo.EXPECT().
			CompareAndSetStatus(ctx, sessionID, session.StatusRunning, session.StatusCompleted, testNow).
			Return(false, nil)
		f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, Status: session.StatusCompleted}, nil)
		f.rewards.EXPECT().SettleSession(ctx, sessionID).Return(0, nil)

		_, err := f.svc.handleSessionCompleted(ctx, e)
		require.NoError(t, err)
	})

	t.Run("cancelled session conflicts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		sessionID := uuid.New()
		e := eventlog.NewEventLog(eventlog.KindSessionCompleted, "0xhash", 9, "g", 3,
			json.RawMessage(`{"session_id":"`+sessionID.String()+`"}`), testNow)

		f.sessionRepo.EXPECT().
			CompareAndSetStatus(ctx, sessionID, session.StatusRunning, session.StatusCompleted, testNow).
			Return(false, nil)
		f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, Status: session.StatusCancelled}, nil)

		_, err := f.svc.handleSessionCompleted(ctx, e)
		assert.Error(t, err)
	})
}

func TestService_RewardDistributed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	u := &user.User{UserID: uuid.New()}
	raw, _ := json.Marshal(ledger.RewardDistributedData{
		SessionID: sessionID.String(), Recipient: "0xabc", Amount: "12.50", RewardType: "bonus",
	})
	e := eventlog.NewEventLog(eventlog.KindRewardDistributed, "0xhash", 3, "g", 4, raw, testNow)

	f.userRepo.EXPECT().GetByWalletAddress(ctx, "0xabc").Return(u, nil)
	f.rewards.EXPECT().
		DistributeRewards(ctx, sessionID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, dists []reward.Distribution) (int, error) {
			require.Len(t, dists, 1)
			assert.Equal(t, reward.TypeBonus, dists[0].Type)
			assert.True(t, decimal.RequireFromString("12.5").Equal(dists[0].Amount))
			assert.Equal(t, u.UserID, dists[0].UserID)
			return 1, nil
		})

	_, err := f.svc.handleRewardDistributed(ctx, e)
	require.NoError(t, err)
}

func TestService_RewardClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claimable := reward.NewClaimable(reward.TypeParticipation, uuid.New(), uuid.New(), decimal.NewFromInt(5), nil, testNow, nil)
	already := reward.NewClaimable(reward.TypeBonus, uuid.New(), uuid.New(), decimal.NewFromInt(5), nil, testNow, nil)
	already.Status = reward.StatusClaimed
	claimTx := &transaction.Transaction{TransactionID: uuid.New()}

	raw, _ := json.Marshal(ledger.RewardClaimedData{
		Claimant:  "0xabc",
		RewardIDs: []string{claimable.RewardID.String(), already.RewardID.String()},
	})
	e := eventlog.NewEventLog(eventlog.KindRewardClaimed, "0xhash", 3, "g", 5, raw, testNow)

	f.txRepo.EXPECT().GetByHash(ctx, "0xhash").Return(claimTx, nil)
	f.rewardRepo.EXPECT().GetByID(ctx, claimable.RewardID).Return(claimable, nil)
	f.rewardRepo.EXPECT().GetByID(ctx, already.RewardID).Return(already, nil)
	f.rewardRepo.EXPECT().CompareAndSwap(ctx, claimable, reward.StatusClaimable).Return(true, nil)

	result, err := f.svc.handleRewardClaimed(ctx, e)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"claimant": "0xabc", "claimed": 1, "skipped": 1}, result)
	assert.Equal(t, reward.StatusClaimed, claimable.Status)
	assert.Equal(t, claimTx.TransactionID, *claimable.ClaimTransactionID)
}

func TestService_RetryFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	e := eventlog.NewEventLog(eventlog.KindSessionCreated, "0xhash", 3, "g", 1,
		json.RawMessage(`{"session_id":"`+sessionID.String()+`"}`), testNow.Add(-time.Hour))
	require.NoError(t, e.MarkFailed("session not found", testNow.Add(-time.Hour)))

	f.eventRepo.EXPECT().ListStalePending(ctx, testNow.Add(-10*time.Minute), 10).Return(nil, nil)
	f.eventRepo.EXPECT().ListRetryable(ctx, 10).Return([]*eventlog.EventLog{e}, nil)
	f.sessionRepo.EXPECT().
		CompareAndSetStatus(ctx, sessionID, session.StatusCreated, session.StatusRunning, testNow).
		Return(true, nil)
	f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, Status: session.StatusRunning}, nil)
	f.eventRepo.EXPECT().
		CompareAndSwap(ctx, e, eventlog.StatusFailed).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog, _ eventlog.Status) (bool, error) {
			assert.Equal(t, eventlog.StatusProcessed, e.Status)
			assert.Equal(t, testNow, *e.LastRetryAt)
			return true, nil
		})

	report, err := f.svc.RetryFailed(ctx, 0)

	require.NoError(t, err)
	assert.Equal(t, RetryReport{Retried: 1, Succeeded: 1}, report)
}

func TestService_RetryFailedResumesInterruptedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	stuck := eventlog.NewEventLog(eventlog.KindSessionCreated, "0xhash", 7, "g", 4,
		json.RawMessage(`{"session_id":"`+sessionID.String()+`"}`), testNow.Add(-time.Hour))
	require.Equal(t, eventlog.StatusPending, stuck.Status)

	f.eventRepo.EXPECT().ListStalePending(ctx, testNow.Add(-10*time.Minute), 5).Return([]*eventlog.EventLog{stuck}, nil)
	f.sessionRepo.EXPECT().
		CompareAndSetStatus(ctx, sessionID, session.StatusCreated, session.StatusRunning, testNow).
		Return(false, nil)
	f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, Status: session.StatusRunning}, nil)
	f.eventRepo.EXPECT().
		CompareAndSwap(ctx, stuck, eventlog.StatusPending).
		DoAndReturn(func(_ context.Context, e *eventlog.EventLog, _ eventlog.Status) (bool, error) {
			assert.Equal(t, eventlog.StatusProcessed, e.Status)
			assert.Equal(t, 0, e.RetryCount)
			return true, nil
		})
	f.eventRepo.EXPECT().ListRetryable(ctx, 5).Return(nil, nil)

	report, err := f.svc.RetryFailed(ctx, 5)

	require.NoError(t, err)
	assert.Equal(t, RetryReport{Resumed: 1, Succeeded: 1}, report)
}

func TestService_RetryFailedStopsOnStaleListError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.eventRepo.EXPECT().ListStalePending(ctx, gomock.Any(), 10).Return(nil, errors.New("connection reset"))

	_, err := f.svc.RetryFailed(ctx, 0)
	assert.Error(t, err)
}

func TestService_PurgeProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.eventRepo.EXPECT().DeleteProcessedBefore(ctx, testNow.Add(-30*24*time.Hour)).Return(int64(12), nil)

	n, err := f.svc.PurgeProcessed(ctx, 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
