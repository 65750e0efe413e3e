package reward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	rewardAppMocks "github.com/execution-hub/ledger-sync/internal/application/reward/mocks"
	appTransaction "github.com/execution-hub/ledger-sync/internal/application/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	notificationMocks "github.com/execution-hub/ledger-sync/internal/domain/notification/mocks"
	domainReward "github.com/execution-hub/ledger-sync/internal/domain/reward"
	rewardMocks "github.com/execution-hub/ledger-sync/internal/domain/reward/mocks"
	"github.com/execution-hub/ledger-sync/internal/domain/session"
	sessionMocks "github.com/execution-hub/ledger-sync/internal/domain/session/mocks"
	domainTx "github.com/execution-hub/ledger-sync/internal/domain/transaction"
	"github.com/execution-hub/ledger-sync/internal/domain/user"
	userMocks "github.com/execution-hub/ledger-sync/internal/domain/user/mocks"
)

var testNow = time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	rewardRepo  *rewardMocks.MockRepository
	sessionRepo *sessionMocks.MockRepository
	userRepo    *userMocks.MockRepository
	txs         *rewardAppMocks.MockTransactionManager
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		rewardRepo:  rewardMocks.NewMockRepository(ctrl),
		sessionRepo: sessionMocks.NewMockRepository(ctrl),
		userRepo:    userMocks.NewMockRepository(ctrl),
		txs:         rewardAppMocks.NewMockTransactionManager(ctrl),
	}
	notifier := notificationMocks.NewMockSink(ctrl)
	notifier.EXPECT().NotifyUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	notifier.EXPECT().NotifyGlobal(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	f.svc = NewService(f.rewardRepo, f.sessionRepo, f.userRepo, f.txs, notifier, Config{}, zerolog.Nop(),
		WithClock(func() time.Time { return testNow }))
	t.Cleanup(f.svc.Close)
	return f
}

func walletUser(address string) *user.User {
	return &user.User{UserID: uuid.New(), Username: "contributor", WalletAddress: &address}
}

func claimable(owner uuid.UUID, amount string, expiresAt *time.Time) *domainReward.Reward {
	return domainReward.NewClaimable(domainReward.TypeParticipation, owner, uuid.New(),
		decimal.RequireFromString(amount), nil, testNow.Add(-time.Hour), expiresAt)
}

func pendingClaimTx(userID uuid.UUID) *domainTx.Transaction {
	return domainTx.NewTransaction(domainTx.TypeClaimReward, userID, nil, domainTx.Payload{}, testNow)
}

func TestService_DistributeRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	existing := domainReward.Distribution{UserID: uuid.New(), Type: domainReward.TypeParticipation, Amount: decimal.NewFromInt(5)}
	fresh := domainReward.Distribution{UserID: uuid.New(), Type: domainReward.TypeParticipation, Amount: decimal.NewFromInt(7)}
	raced := domainReward.Distribution{UserID: uuid.New(), Type: domainReward.TypeBonus, Amount: decimal.NewFromInt(1)}

	f.rewardRepo.EXPECT().Exists(ctx, existing.UserID, sessionID, existing.Type).Return(true, nil)
	f.rewardRepo.EXPECT().Exists(ctx, fresh.UserID, sessionID, fresh.Type).Return(false, nil)
	f.rewardRepo.EXPECT().Exists(ctx, raced.UserID, sessionID, raced.Type).Return(false, nil)
	f.rewardRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, r *domainReward.Reward) error {
			if r.UserID == raced.UserID {
				return domainReward.ErrDuplicate
			}
			assert.Equal(t, fresh.UserID, r.UserID)
			assert.Equal(t, domainReward.StatusClaimable, r.Status)
			require.NotNil(t, r.ExpiresAt)
			assert.Equal(t, testNow.Add(30*24*time.Hour), *r.ExpiresAt)
			return nil
		}).
		Times(2)

	created, err := f.svc.DistributeRewards(ctx, sessionID, []domainReward.Distribution{existing, fresh, raced})

	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestService_ClaimReward(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xAbC")
		r := claimable(owner.UserID, "12.5", nil)
		tx := pendingClaimTx(owner.UserID)

		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)
		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, req appTransaction.CreateRequest) (*domainTx.Transaction, error) {
				assert.Equal(t, domainTx.TypeClaimReward, req.Type)
				assert.Equal(t, ledger.FnClaimReward, req.Function)
				assert.Equal(t, "0xabc", *req.ToAddress)
				assert.True(t, decimal.RequireFromString("12.5").Equal(*req.Amount))
				return tx, nil
			})
		f.rewardRepo.EXPECT().
			CompareAndSwap(ctx, r, domainReward.StatusClaimable).
			DoAndReturn(func(_ context.Context, r *domainReward.Reward, _ domainReward.Status) (bool, error) {
				assert.Equal(t, domainReward.StatusClaimed, r.Status)
				assert.Equal(t, tx.TransactionID, *r.ClaimTransactionID)
				return true, nil
			})
		f.txs.EXPECT().SignAndSubmit(ctx, tx.TransactionID).Return(tx, nil)

		result, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")

		require.NoError(t, err)
		assert.Equal(t, tx, result.Transaction)
		assert.Equal(t, testNow, *r.ClaimedAt)
	})

	t.Run("missing reward", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		id := uuid.New()
		f.rewardRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

		_, err := f.svc.ClaimReward(ctx, id, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		past := testNow.Add(-time.Minute)
		r := claimable(uuid.New(), "3", &past)
		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")

		assert.ErrorIs(t, err, apperror.ErrExpired)
		assert.Equal(t, domainReward.StatusClaimable, r.Status)
	})

	t.Run("already claimed", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		r := claimable(uuid.New(), "3", nil)
		r.Status = domainReward.StatusClaimed
		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("address mismatch", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		r := claimable(owner.UserID, "3", nil)
		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)
		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xdef")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("submission failure releases the reward", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		r := claimable(owner.UserID, "3", nil)
		tx := pendingClaimTx(owner.UserID)

		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)
		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().Create(ctx, gomock.Any()).Return(tx, nil)
		f.rewardRepo.EXPECT().CompareAndSwap(ctx, r, domainReward.StatusClaimable).Return(true, nil)
		f.txs.EXPECT().SignAndSubmit(ctx, tx.TransactionID).Return(tx, apperror.LedgerUnavailable("connection refused"))
		f.rewardRepo.EXPECT().
			CompareAndSwap(ctx, r, domainReward.StatusClaimed).
			DoAndReturn(func(_ context.Context, r *domainReward.Reward, _ domainReward.Status) (bool, error) {
				assert.Equal(t, domainReward.StatusClaimable, r.Status)
				assert.Nil(t, r.ClaimTransactionID)
				return true, nil
			})

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")

		assert.ErrorIs(t, err, apperror.ErrLedgerUnavailable)
		assert.Equal(t, domainReward.StatusClaimable, r.Status)
	})

	t.Run("without a signer nothing is written", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		r := claimable(owner.UserID, "3", nil)

		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)
		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.txs.EXPECT().HasSigner().Return(false)

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")

		assert.ErrorIs(t, err, apperror.ErrConfiguration)
		assert.Equal(t, domainReward.StatusClaimable, r.Status)
		assert.Nil(t, r.ClaimTransactionID)
	})

	t.Run("lost reservation cancels the transaction", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		r := claimable(owner.UserID, "3", nil)
		tx := pendingClaimTx(owner.UserID)

		f.rewardRepo.EXPECT().GetByID(ctx, r.RewardID).Return(r, nil)
		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().Create(ctx, gomock.Any()).Return(tx, nil)
		f.rewardRepo.EXPECT().CompareAndSwap(ctx, r, domainReward.StatusClaimable).Return(false, nil)
		f.txs.EXPECT().Cancel(ctx, tx.TransactionID, gomock.Any()).Return(tx, nil)

		_, err := f.svc.ClaimReward(ctx, r.RewardID, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})
}

func TestService_BatchClaimRewards(t *testing.T) {
	t.Run("foreign reward rejects the whole batch", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1", nil)
		b := claimable(uuid.New(), "2", nil)

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, []uuid.UUID{a.RewardID, b.RewardID}).Return([]*domainReward.Reward{a, b}, nil)

		_, err := f.svc.BatchClaimRewards(ctx, owner.UserID, []uuid.UUID{a.RewardID, b.RewardID}, "0xabc")

		assert.ErrorIs(t, err, apperror.ErrConflict)
		assert.Equal(t, domainReward.StatusClaimable, a.Status)
		assert.Equal(t, domainReward.StatusClaimable, b.Status)
	})

	t.Run("missing reward", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1", nil)
		missing := uuid.New()

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, gomock.Any()).Return([]*domainReward.Reward{a}, nil)

		_, err := f.svc.BatchClaimRewards(ctx, owner.UserID, []uuid.UUID{a.RewardID, missing}, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("duplicate ids", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.New()
		_, err := f.svc.BatchClaimRewards(context.Background(), uuid.New(), []uuid.UUID{id, id}, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1.25", nil)
		b := claimable(owner.UserID, "2.50", nil)
		ids := []uuid.UUID{a.RewardID, b.RewardID}
		tx := pendingClaimTx(owner.UserID)

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, ids).Return([]*domainReward.Reward{b, a}, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, req appTransaction.CreateRequest) (*domainTx.Transaction, error) {
				assert.Equal(t, ledger.FnBatchClaimRewards, req.Function)
				assert.True(t, decimal.RequireFromString("3.75").Equal(*req.Amount))
				return tx, nil
			})
		f.rewardRepo.EXPECT().ClaimBatch(ctx, ids, tx.TransactionID, testNow).Return(nil)
		f.txs.EXPECT().SignAndSubmit(ctx, tx.TransactionID).Return(tx, nil)

		result, err := f.svc.BatchClaimRewards(ctx, owner.UserID, ids, "0xABC")

		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("3.75").Equal(result.Total))
		require.Len(t, result.Rewards, 2)
		assert.Equal(t, a.RewardID, result.Rewards[0].RewardID)
		assert.Equal(t, domainReward.StatusClaimed, a.Status)
		assert.Equal(t, domainReward.StatusClaimed, b.Status)
	})

	t.Run("without a signer nothing is written", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1", nil)
		ids := []uuid.UUID{a.RewardID}

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, ids).Return([]*domainReward.Reward{a}, nil)
		f.txs.EXPECT().HasSigner().Return(false)

		_, err := f.svc.BatchClaimRewards(ctx, owner.UserID, ids, "0xabc")

		assert.ErrorIs(t, err, apperror.ErrConfiguration)
		assert.Equal(t, domainReward.StatusClaimable, a.Status)
	})

	t.Run("concurrent change aborts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1", nil)
		ids := []uuid.UUID{a.RewardID}
		tx := pendingClaimTx(owner.UserID)

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, ids).Return([]*domainReward.Reward{a}, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().Create(ctx, gomock.Any()).Return(tx, nil)
		f.rewardRepo.EXPECT().ClaimBatch(ctx, ids, tx.TransactionID, testNow).Return(domainReward.ErrBatchConflict)
		f.txs.EXPECT().Cancel(ctx, tx.TransactionID, gomock.Any()).Return(tx, nil)

		_, err := f.svc.BatchClaimRewards(ctx, owner.UserID, ids, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("submission failure reverts the batch", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := walletUser("0xabc")
		a := claimable(owner.UserID, "1", nil)
		ids := []uuid.UUID{a.RewardID}
		tx := pendingClaimTx(owner.UserID)

		f.userRepo.EXPECT().GetByID(ctx, owner.UserID).Return(owner, nil)
		f.rewardRepo.EXPECT().GetByIDs(ctx, ids).Return([]*domainReward.Reward{a}, nil)
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().Create(ctx, gomock.Any()).Return(tx, nil)
		f.rewardRepo.EXPECT().ClaimBatch(ctx, ids, tx.TransactionID, testNow).Return(nil)
		f.txs.EXPECT().SignAndSubmit(ctx, tx.TransactionID).Return(tx, apperror.LedgerRejected("sequence number too old"))
		f.rewardRepo.EXPECT().RevertBatch(ctx, ids, tx.TransactionID, testNow).Return(int64(1), nil)

		_, err := f.svc.BatchClaimRewards(ctx, owner.UserID, ids, "0xabc")
		assert.ErrorIs(t, err, apperror.ErrLedgerRejected)
	})
}

func TestService_DistributeSessionRewards(t *testing.T) {
	t.Run("requires signer", func(t *testing.T) {
		f := newFixture(t)
		f.txs.EXPECT().HasSigner().Return(false)

		_, err := f.svc.DistributeSessionRewards(context.Background(), uuid.New(), nil)
		assert.ErrorIs(t, err, apperror.ErrConfiguration)
	})

	t.Run("isolates recipient failures", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		sessionID := uuid.New()
		alice, bob := uuid.New(), uuid.New()
		dists := []domainReward.Distribution{
			{UserID: alice, Address: "0xA11CE", Type: domainReward.TypeParticipation, Amount: decimal.NewFromInt(10)},
			{UserID: bob, Address: "0xb0b", Type: domainReward.TypeParticipation, Amount: decimal.NewFromInt(4)},
			{UserID: alice, Address: "0xa11ce", Type: domainReward.TypeBonus, Amount: decimal.NewFromInt(2)},
		}

		var mu sync.Mutex
		byUser := map[uuid.UUID]*domainTx.Transaction{}
		f.txs.EXPECT().HasSigner().Return(true)
		f.txs.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, req appTransaction.CreateRequest) (*domainTx.Transaction, error) {
				assert.Equal(t, domainTx.TypeDistributeRewards, req.Type)
				if req.UserID == alice {
					assert.True(t, decimal.NewFromInt(12).Equal(*req.Amount))
				}
				tx := domainTx.NewTransaction(req.Type, req.UserID, req.SessionID, domainTx.Payload{}, testNow)
				mu.Lock()
				byUser[req.UserID] = tx
				mu.Unlock()
				return tx, nil
			}).
			Times(2)
		f.txs.EXPECT().
			SignAndSubmit(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, id uuid.UUID) (*domainTx.Transaction, error) {
				mu.Lock()
				defer mu.Unlock()
				if byUser[bob] != nil && byUser[bob].TransactionID == id {
					return nil, errors.New("ledger rejected")
				}
				return byUser[alice], nil
			}).
			Times(2)

		report, err := f.svc.DistributeSessionRewards(ctx, sessionID, dists)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Submitted)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Recipients, 2)
		assert.Equal(t, "0xa11ce", report.Recipients[0].Address)
		assert.Equal(t, 2, report.Recipients[0].Rewards)
		assert.Empty(t, report.Recipients[0].Error)
		assert.Equal(t, "0xb0b", report.Recipients[1].Address)
		assert.NotEmpty(t, report.Recipients[1].Error)
		assert.NotNil(t, report.Recipients[1].TransactionID)
	})
}

func TestService_ReadHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	past := testNow.Add(-time.Second)
	future := testNow.Add(time.Hour)
	live := claimable(userID, "4.10", &future)
	stale := claimable(userID, "9", &past)
	open := claimable(userID, "0.90", nil)

	f.rewardRepo.EXPECT().
		List(ctx, gomock.Any(), 0, 0).
		DoAndReturn(func(_ context.Context, filter domainReward.Filter, _, _ int) ([]*domainReward.Reward, error) {
			assert.Equal(t, userID, *filter.UserID)
			assert.Equal(t, domainReward.StatusClaimable, *filter.Status)
			return []*domainReward.Reward{live, stale, open}, nil
		})

	total, err := f.svc.GetTotalClaimableAmount(ctx, userID)

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("5").Equal(total), "got %s", total)
}

func TestService_ExpireRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rewardRepo.EXPECT().ExpireClaimable(ctx, testNow).Return(int64(3), nil)

	n, err := f.svc.ExpireRewards(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestService_SettleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	p1 := &session.Participant{SessionID: sessionID, UserID: uuid.New(), WalletAddress: "0xa1", Score: 80, Quality: 1, TimeSpentSeconds: 60}
	p2 := &session.Participant{SessionID: sessionID, UserID: uuid.New(), WalletAddress: "0xa2", Score: 60, Quality: 1, TimeSpentSeconds: 120}

	f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{
		SessionID:  sessionID,
		Status:     session.StatusCompleted,
		RewardPool: decimal.NewFromInt(1000),
	}, nil)
	f.sessionRepo.EXPECT().ListParticipants(ctx, sessionID).Return([]*session.Participant{p1, p2}, nil)
	f.rewardRepo.EXPECT().Exists(ctx, gomock.Any(), sessionID, domainReward.TypeParticipation).Return(false, nil).Times(2)
	amounts := map[uuid.UUID]string{}
	f.rewardRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, r *domainReward.Reward) error {
			amounts[r.UserID] = r.Amount.StringFixed(2)
			return nil
		}).
		Times(2)

	created, err := f.svc.SettleSession(ctx, sessionID)

	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, "471.43", amounts[p1.UserID])
	assert.Equal(t, "478.57", amounts[p2.UserID])
}

func TestService_SettleSessionMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()
	f.sessionRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := f.svc.SettleSession(ctx, id)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestService_CompletionBonusForSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := uuid.New()
	f.sessionRepo.EXPECT().GetByID(ctx, sessionID).Return(&session.Session{SessionID: sessionID, RewardPool: decimal.NewFromInt(500)}, nil)
	f.sessionRepo.EXPECT().ListParticipants(ctx, sessionID).Return([]*session.Participant{
		{UserID: uuid.New(), WalletAddress: "0x1"},
		{UserID: uuid.New(), WalletAddress: "0x2"},
	}, nil)

	dists, err := f.svc.CompletionBonusForSession(ctx, sessionID)

	require.NoError(t, err)
	require.Len(t, dists, 2)
	assert.True(t, decimal.NewFromInt(25).Equal(dists[0].Amount))
}
