package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkcraft/wallet-service/internal/models"
)

// OrderPGRepository records token purchases tied to payment events. The
// payment_ref unique constraint makes Record safe to retry with the wallet
// credit keyed on the same reference.
type OrderPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOrderPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *OrderPGRepository {
	return &OrderPGRepository{
		pool:   pool,
		logger: logger,
	}
}

// Record inserts the order unless one already exists for the same
// payment_ref. Returns whether a row was written.
func (r *OrderPGRepository) Record(ctx context.Context, o models.TokenOrder) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO token_orders (user_id, payment_ref, itc_amount, usd_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_ref) DO NOTHING`,
		o.UserID, o.PaymentRef, o.ITCAmount, o.USDAmount, o.Status)
	if err != nil {
		r.logger.Error("Failed to record token order",
			slog.String("user_id", o.UserID.String()),
			slog.String("payment_ref", o.PaymentRef),
			slog.Any("err", err),
		)
		return false, fmt.Errorf("failed to record token order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByPaymentRef looks up the order created for a payment event.
func (r *OrderPGRepository) FindByPaymentRef(ctx context.Context, paymentRef string) (models.TokenOrder, error) {
	o := models.TokenOrder{PaymentRef: paymentRef}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, itc_amount, usd_amount, status, created_at
		FROM token_orders WHERE payment_ref = $1`, paymentRef).
		Scan(&o.ID, &o.UserID, &o.ITCAmount, &o.USDAmount, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TokenOrder{}, ErrOrderNotFound
	}
	if err != nil {
		r.logger.Error("Failed to find token order",
			slog.String("payment_ref", paymentRef),
			slog.Any("err", err),
		)
		return models.TokenOrder{}, fmt.Errorf("failed to find token order: %w", err)
	}
	return o, nil
}

var ErrOrderNotFound = errors.New("token order not found")
