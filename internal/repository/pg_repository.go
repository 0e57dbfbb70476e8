package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/inkcraft/wallet-service/internal/models"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletSuspended     = errors.New("wallet is suspended")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyMutation       = errors.New("mutation must contain at least one delta")
)

// LedgerPGRepository owns all wallet and transaction storage. ApplyDeltas is
// the only write path for balances; nothing else touches the wallets or
// transactions tables.
type LedgerPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLedgerPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *LedgerPGRepository {
	return &LedgerPGRepository{
		pool:   pool,
		logger: logger,
	}
}

// ApplyDeltas appends one transaction per delta and updates the wallet
// projection, all inside a single database transaction holding a row lock on
// the wallet. Deltas are applied in order against a running balance; any
// delta that would drive a balance negative aborts the whole call. If any
// delta carries a reference that already exists for that (user, currency),
// the call is a replay: no rows are written and the current balances are
// returned with Applied=false.
func (r *LedgerPGRepository) ApplyDeltas(
	ctx context.Context,
	userID uuid.UUID,
	deltas []models.Delta,
) (models.MutationResult, error) {
	if len(deltas) == 0 {
		return models.MutationResult{}, ErrEmptyMutation
	}
	for _, d := range deltas {
		if d.Amount.IsZero() {
			return models.MutationResult{}, ErrInvalidAmount
		}
		if d.Currency == models.CurrencyPoints && !d.Amount.IsInteger() {
			return models.MutationResult{}, ErrInvalidAmount
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.MutationResult{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error("Failed to rollback transaction",
				slog.String("user_id", userID.String()),
				slog.Any("err", rbErr),
			)
		}
	}()

	w, err := r.lockWallet(ctx, tx, userID)
	if err != nil {
		return models.MutationResult{}, err
	}
	if w.Status == models.StatusSuspended {
		return models.MutationResult{}, ErrWalletSuspended
	}

	// Replay detection before any write: the row lock is already held, so a
	// concurrent mutation with the same reference cannot slip in between the
	// check and the insert.
	for _, d := range deltas {
		if d.Reference == nil {
			continue
		}
		var seen bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM transactions
				WHERE user_id = $1 AND currency = $2 AND reference = $3
			)`, userID, d.Currency, *d.Reference).Scan(&seen)
		if err != nil {
			r.logger.Error("Failed to check reference",
				slog.String("user_id", userID.String()),
				slog.String("reference", *d.Reference),
				slog.Any("err", err),
			)
			return models.MutationResult{}, fmt.Errorf("failed to check reference: %w", err)
		}
		if seen {
			return models.MutationResult{
				Balances: models.Balances{Points: w.PointsBalance, ITC: w.ITCBalance},
				Applied:  false,
			}, nil
		}
	}

	points := decimal.NewFromInt(w.PointsBalance)
	itc := w.ITCBalance
	lifetimePoints := w.LifetimePointsEarned
	lifetimeITC := w.LifetimeITCEarned

	for _, d := range deltas {
		var after decimal.Decimal
		switch d.Currency {
		case models.CurrencyPoints:
			points = points.Add(d.Amount)
			after = points
			if d.Amount.IsPositive() {
				lifetimePoints += d.Amount.IntPart()
			}
		case models.CurrencyITC:
			itc = itc.Add(d.Amount)
			after = itc
			if d.Amount.IsPositive() {
				lifetimeITC = lifetimeITC.Add(d.Amount)
			}
		default:
			return models.MutationResult{}, fmt.Errorf("%w: unknown currency %q", ErrInvalidAmount, d.Currency)
		}
		if after.IsNegative() {
			return models.MutationResult{}, ErrInsufficientBalance
		}

		if err := r.insertTransaction(ctx, tx, userID, d, after); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				// Backstop for a duplicate reference written outside the row
				// lock (e.g. an adjustment applied manually).
				return models.MutationResult{
					Balances: models.Balances{Points: w.PointsBalance, ITC: w.ITCBalance},
					Applied:  false,
				}, nil
			}
			return models.MutationResult{}, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET points_balance = $2,
		    itc_balance = $3,
		    lifetime_points_earned = $4,
		    lifetime_itc_earned = $5,
		    updated_at = NOW()
		WHERE user_id = $1`,
		userID, points.IntPart(), itc, lifetimePoints, lifetimeITC)
	if err != nil {
		r.logger.Error("Failed to update wallet balances",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.MutationResult{}, fmt.Errorf("failed to update wallet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.MutationResult{}, fmt.Errorf("failed to commit tx: %w", err)
	}

	return models.MutationResult{
		Balances: models.Balances{Points: points.IntPart(), ITC: itc},
		Applied:  true,
	}, nil
}

// lockWallet selects the wallet row FOR UPDATE, creating it lazily on first
// use. Concurrent first mutations for the same user serialize on the insert.
func (r *LedgerPGRepository) lockWallet(
	ctx context.Context,
	tx pgx.Tx,
	userID uuid.UUID,
) (models.Wallet, error) {
	w, err := scanWalletForUpdate(ctx, tx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to select wallet for update",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, fmt.Errorf("failed to lock wallet: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		r.logger.Error("Failed to create wallet",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, fmt.Errorf("failed to create wallet: %w", err)
	}

	w, err = scanWalletForUpdate(ctx, tx, userID)
	if err != nil {
		r.logger.Error("Failed to select wallet after create",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, fmt.Errorf("failed to lock wallet after create: %w", err)
	}
	return w, nil
}

func scanWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (models.Wallet, error) {
	w := models.Wallet{UserID: userID}
	err := tx.QueryRow(ctx, `
		SELECT points_balance, itc_balance, lifetime_points_earned, lifetime_itc_earned, status
		FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&w.PointsBalance, &w.ITCBalance, &w.LifetimePointsEarned, &w.LifetimeITCEarned, &w.Status)
	return w, err
}

func (r *LedgerPGRepository) insertTransaction(
	ctx context.Context,
	tx pgx.Tx,
	userID uuid.UUID,
	d models.Delta,
	after decimal.Decimal,
) error {
	var meta []byte
	if len(d.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (user_id, currency, type, amount, balance_after, reference, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, d.Currency, d.Type, d.Amount, after, d.Reference, d.Reason, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
			r.logger.Error("Failed to insert transaction",
				slog.String("user_id", userID.String()),
				slog.String("currency", string(d.Currency)),
				slog.Any("amount", d.Amount),
				slog.Any("err", err),
			)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetWallet returns the wallet projection, or zero-balance defaults when the
// user has no wallet row yet. It never creates the row.
func (r *LedgerPGRepository) GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	w := models.Wallet{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT points_balance, itc_balance, lifetime_points_earned, lifetime_itc_earned, status
		FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.PointsBalance, &w.ITCBalance, &w.LifetimePointsEarned, &w.LifetimeITCEarned, &w.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ZeroWallet(userID), nil
	}
	if err != nil {
		r.logger.Error("Failed to get wallet",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// ListTransactions returns the user's history for one currency, newest
// first. A user without a wallet row has no history: ErrWalletNotFound.
func (r *LedgerPGRepository) ListTransactions(
	ctx context.Context,
	userID uuid.UUID,
	currency models.Currency,
	limit, offset int,
) ([]models.Transaction, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check wallet: %w", err)
	}
	if !exists {
		return nil, ErrWalletNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, type, amount, balance_after, reference, reason, metadata, created_at
		FROM transactions
		WHERE user_id = $1 AND currency = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		userID, currency, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list transactions",
			slog.String("user_id", userID.String()),
			slog.String("currency", string(currency)),
			slog.Any("err", err),
		)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t := models.Transaction{UserID: userID, Currency: currency}
		var meta []byte
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.BalanceAfter,
			&t.Reference, &t.Reason, &meta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return txs, nil
}

// SetWalletStatus soft-suspends or reactivates a wallet. Wallets are never
// deleted.
func (r *LedgerPGRepository) SetWalletStatus(
	ctx context.Context,
	userID uuid.UUID,
	status models.WalletStatus,
) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE wallets SET status = $2, updated_at = NOW() WHERE user_id = $1",
		userID, status)
	if err != nil {
		r.logger.Error("Failed to set wallet status",
			slog.String("user_id", userID.String()),
			slog.String("status", string(status)),
			slog.Any("err", err),
		)
		return fmt.Errorf("failed to set wallet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}
