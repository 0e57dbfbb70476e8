package repository_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkcraft/wallet-service/internal/models"
	"github.com/inkcraft/wallet-service/internal/repository"
	"github.com/inkcraft/wallet-service/internal/testutil"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func pointsDelta(amount int64, ref *string, tp models.TransactionType) models.Delta {
	return models.Delta{
		Currency:  models.CurrencyPoints,
		Amount:    decimal.NewFromInt(amount),
		Type:      tp,
		Reference: ref,
		Reason:    "test",
	}
}

func itcDelta(amount string, ref *string, tp models.TransactionType) models.Delta {
	return models.Delta{
		Currency:  models.CurrencyITC,
		Amount:    decimal.RequireFromString(amount),
		Type:      tp,
		Reference: ref,
		Reason:    "test",
	}
}

func strPtr(s string) *string { return &s }

func TestApplyDeltas_LazyCreateAndCredit(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	res, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(100, nil, models.TypeEarn)})
	assert.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(100), res.Balances.Points)
	assert.True(t, res.Balances.ITC.Equal(decimal.Zero))

	w, err := repo.GetWallet(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), w.PointsBalance)
	assert.Equal(t, int64(100), w.LifetimePointsEarned)
	assert.Equal(t, models.StatusActive, w.Status)
}

func TestApplyDeltas_DebitOnEmptyWallet(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(-10, nil, models.TypeRedeem)})
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)
}

func TestApplyDeltas_ExactBalanceBoundary(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(50, nil, models.TypeEarn)})
	require.NoError(t, err)

	// balance+1 is rejected and changes nothing
	_, err = repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(-51, nil, models.TypeRedeem)})
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	w, err := repo.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.PointsBalance)

	// draining exactly the full balance succeeds and leaves zero
	res, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(-50, nil, models.TypeRedeem)})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), res.Balances.Points)
}

func TestApplyDeltas_AllOrNothing(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(100, nil, models.TypeEarn)})
	require.NoError(t, err)

	// the second delta overdraws ITC, so the points debit must not stick
	_, err = repo.ApplyDeltas(context.Background(), userID, []models.Delta{
		pointsDelta(-100, nil, models.TypeRedeem),
		itcDelta("-1.00", nil, models.TypeAdjustment),
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	w, err := repo.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.PointsBalance)
	assert.True(t, w.ITCBalance.Equal(decimal.Zero))

	var count int
	err = pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyDeltas_ReferenceReplay(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()
	ref := strPtr("pi_123")

	res, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{itcDelta("50.00", ref, models.TypePurchase)})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Balances.ITC.Equal(decimal.RequireFromString("50.00")))

	res, err = repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{itcDelta("50.00", ref, models.TypePurchase)})
	assert.NoError(t, err)
	assert.False(t, res.Applied)
	assert.True(t, res.Balances.ITC.Equal(decimal.RequireFromString("50.00")))

	var count int
	err = pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND reference = 'pi_123'",
		userID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyDeltas_SameReferenceDifferentCurrency(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()
	ref := strPtr("op_42")

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(500, nil, models.TypeEarn)})
	require.NoError(t, err)

	// a redemption writes one row per currency under the same operation id
	res, err := repo.ApplyDeltas(context.Background(), userID, []models.Delta{
		pointsDelta(-500, ref, models.TypeRedeem),
		itcDelta("1.25", ref, models.TypeReward),
	})
	assert.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(0), res.Balances.Points)
	assert.True(t, res.Balances.ITC.Equal(decimal.RequireFromString("1.25")))
}

func TestApplyDeltas_InvalidAmounts(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID, []models.Delta{
		{Currency: models.CurrencyPoints, Amount: decimal.Zero, Type: models.TypeEarn},
	})
	assert.ErrorIs(t, err, repository.ErrInvalidAmount)

	_, err = repo.ApplyDeltas(context.Background(), userID, []models.Delta{
		{Currency: models.CurrencyPoints, Amount: decimal.RequireFromString("1.5"), Type: models.TypeEarn},
	})
	assert.ErrorIs(t, err, repository.ErrInvalidAmount)

	_, err = repo.ApplyDeltas(context.Background(), userID, nil)
	assert.ErrorIs(t, err, repository.ErrEmptyMutation)
}

func TestApplyDeltas_SuspendedWallet(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(10, nil, models.TypeEarn)})
	require.NoError(t, err)

	require.NoError(t, repo.SetWalletStatus(context.Background(), userID, models.StatusSuspended))

	_, err = repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(10, nil, models.TypeEarn)})
	assert.ErrorIs(t, err, repository.ErrWalletSuspended)

	require.NoError(t, repo.SetWalletStatus(context.Background(), userID, models.StatusActive))
	_, err = repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(10, nil, models.TypeEarn)})
	assert.NoError(t, err)
}

func TestSetWalletStatus_NotFound(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)

	err := repo.SetWalletStatus(context.Background(), uuid.New(), models.StatusSuspended)
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)
}

func TestApplyDeltas_ConcurrentOverdraw(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ApplyDeltas(context.Background(), userID,
		[]models.Delta{pointsDelta(10, nil, models.TypeEarn)})
	require.NoError(t, err)

	var succeeded, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyDeltas(context.Background(), userID,
				[]models.Delta{pointsDelta(-1, nil, models.TypeRedeem)})
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, repository.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(40), insufficient.Load())

	w, err := repo.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.PointsBalance)
}

func TestApplyDeltas_ConcurrentCredits(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyDeltas(context.Background(), userID,
				[]models.Delta{itcDelta("0.01", nil, models.TypePurchase)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := repo.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, w.ITCBalance.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, w.LifetimeITCEarned.Equal(decimal.RequireFromString("5.00")))
}

// balance must equal the sum of ledger amounts per currency at all times
func TestLedgerReconciliation(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	ops := []models.Delta{
		pointsDelta(1000, nil, models.TypeEarn),
		pointsDelta(-300, nil, models.TypeRedeem),
		itcDelta("12.50", nil, models.TypePurchase),
		itcDelta("-2.25", nil, models.TypeAdjustment),
		pointsDelta(42, nil, models.TypeEarn),
	}
	for _, d := range ops {
		_, err := repo.ApplyDeltas(context.Background(), userID, []models.Delta{d})
		require.NoError(t, err)
	}

	w, err := repo.GetWallet(context.Background(), userID)
	require.NoError(t, err)

	var pointsSum, itcSum decimal.Decimal
	err = pool.QueryRow(context.Background(), `
		SELECT COALESCE(SUM(amount) FILTER (WHERE currency = 'points'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE currency = 'itc'), 0)
		FROM transactions WHERE user_id = $1`, userID).Scan(&pointsSum, &itcSum)
	require.NoError(t, err)

	assert.True(t, pointsSum.Equal(decimal.NewFromInt(w.PointsBalance)))
	assert.True(t, itcSum.Equal(w.ITCBalance))

	// newest transaction's balance_after matches the projection
	txs, err := repo.ListTransactions(context.Background(), userID, models.CurrencyPoints, 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].BalanceAfter.Equal(decimal.NewFromInt(w.PointsBalance)))
}

func TestListTransactions(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	_, err := repo.ListTransactions(context.Background(), userID, models.CurrencyPoints, 10, 0)
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)

	for i := int64(1); i <= 5; i++ {
		_, err := repo.ApplyDeltas(context.Background(), userID,
			[]models.Delta{pointsDelta(i, nil, models.TypeEarn)})
		require.NoError(t, err)
	}

	txs, err := repo.ListTransactions(context.Background(), userID, models.CurrencyPoints, 3, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	// newest first
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, txs[0].BalanceAfter.Equal(decimal.NewFromInt(15)))
	assert.True(t, txs[2].Amount.Equal(decimal.NewFromInt(3)))

	txs, err = repo.ListTransactions(context.Background(), userID, models.CurrencyPoints, 3, 3)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	txs, err = repo.ListTransactions(context.Background(), userID, models.CurrencyITC, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGetWallet_ZeroDefaults(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLedgerPGRepository(pool, testLogger)
	userID := uuid.New()

	w, err := repo.GetWallet(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), w.PointsBalance)
	assert.True(t, w.ITCBalance.Equal(decimal.Zero))
	assert.Equal(t, models.StatusActive, w.Status)

	// reading never creates the row
	var count int
	err = pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM wallets WHERE user_id = $1", userID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
