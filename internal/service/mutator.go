package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inkcraft/wallet-service/internal/models"
)

//go:generate mockgen -source=mutator.go -destination=../../test/mock_ledger_repository.go -package=test LedgerRepository

// ErrContention is returned after bounded retries on transient database
// conflicts are exhausted.
var ErrContention = errors.New("wallet contention, retries exhausted")

type LedgerRepository interface {
	ApplyDeltas(ctx context.Context, userID uuid.UUID, deltas []models.Delta) (models.MutationResult, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, currency models.Currency, limit, offset int) ([]models.Transaction, error)
}

// BalanceMutator is the only caller of the ledger's write path. It retries
// transient conflicts with jittered backoff; business errors pass through
// untouched. Once ApplyDeltas commits, the result is final: there is no
// client-visible cancel mid-commit.
type BalanceMutator struct {
	repo       LedgerRepository
	logger     *slog.Logger
	maxRetries int
}

func NewBalanceMutator(repo LedgerRepository, logger *slog.Logger) *BalanceMutator {
	return &BalanceMutator{
		repo:       repo,
		logger:     logger,
		maxRetries: 4,
	}
}

func (m *BalanceMutator) Mutate(
	ctx context.Context,
	userID uuid.UUID,
	deltas []models.Delta,
) (models.MutationResult, error) {
	var lastErr error
	for i := 0; i < m.maxRetries; i++ {
		res, err := m.repo.ApplyDeltas(ctx, userID, deltas)
		if err == nil {
			return res, nil
		}
		if !isRetryableError(err) {
			return models.MutationResult{}, err
		}

		m.logger.Warn("Retrying mutation",
			slog.String("user_id", userID.String()),
			slog.Int("attempt", i+1),
			slog.Any("err", err),
		)
		lastErr = err
		time.Sleep(backoff(i))
	}

	m.logger.Error("Mutation failed after retries",
		slog.String("user_id", userID.String()),
		slog.Any("err", lastErr),
	)
	return models.MutationResult{}, ErrContention
}

func backoff(attempt int) time.Duration {
	base := time.Duration(1<<attempt) * 10 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)))
	return base + jitter
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.ConnectionException,
			pgerrcode.ConnectionFailure,
			pgerrcode.CannotConnectNow:
			return true
		}
	}
	return false
}
