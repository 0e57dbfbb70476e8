package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inkcraft/wallet-service/internal/exchange"
	"github.com/inkcraft/wallet-service/internal/models"
	"github.com/inkcraft/wallet-service/internal/repository"
)

//go:generate mockgen -source=redemption.go -destination=../../test/mock_mutator.go -package=test Mutator

type Mutator interface {
	Mutate(ctx context.Context, userID uuid.UUID, deltas []models.Delta) (models.MutationResult, error)
}

type RedemptionResult struct {
	ITCCredited   decimal.Decimal
	PointsBalance int64
	ITCBalance    decimal.Decimal
}

// RedemptionService converts loyalty points into ITC as one atomic
// two-currency mutation.
type RedemptionService struct {
	repo    LedgerRepository
	mutator Mutator
	logger  *slog.Logger
}

func NewRedemptionService(repo LedgerRepository, mutator Mutator, logger *slog.Logger) *RedemptionService {
	return &RedemptionService{
		repo:    repo,
		mutator: mutator,
		logger:  logger,
	}
}

// ConvertPoints computes the USD value of a points amount and the ITC it
// buys at the fixed rates. ITC is rounded half-up to the currency scale, so
// the same input always yields the same output.
func ConvertPoints(points int64) (usd, itc decimal.Decimal) {
	usd = decimal.NewFromInt(points).Mul(exchange.PointsToUSD)
	itc = usd.Mul(exchange.USDToITC).Round(models.ITCScale)
	return usd, itc
}

// RedeemPointsForITC debits points and credits ITC under a fresh operation
// id. The balance read here is only an advisory fast rejection; the
// authoritative check runs inside the mutation, under the row lock.
func (s *RedemptionService) RedeemPointsForITC(
	ctx context.Context,
	userID uuid.UUID,
	points int64,
) (RedemptionResult, error) {
	if points <= 0 {
		return RedemptionResult{}, repository.ErrInvalidAmount
	}

	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return RedemptionResult{}, err
	}
	if w.PointsBalance < points {
		s.logger.Warn("Redemption rejected: insufficient points",
			slog.String("user_id", userID.String()),
			slog.Int64("points", points),
			slog.Int64("balance", w.PointsBalance),
		)
		return RedemptionResult{}, repository.ErrInsufficientBalance
	}

	usd, itc := ConvertPoints(points)

	// Server-generated so a caller cannot force a duplicate-reference no-op
	// on a genuinely new redemption.
	opID := uuid.NewString()

	res, err := s.mutator.Mutate(ctx, userID, []models.Delta{
		{
			Currency:  models.CurrencyPoints,
			Amount:    decimal.NewFromInt(points).Neg(),
			Type:      models.TypeRedeem,
			Reference: &opID,
			Reason:    "redeemed",
		},
		{
			Currency:  models.CurrencyITC,
			Amount:    itc,
			Type:      models.TypeReward,
			Reference: &opID,
			Reason:    "points redemption",
			Metadata:  map[string]string{"usd_value": usd.StringFixed(models.ITCScale)},
		},
	})
	if err != nil {
		return RedemptionResult{}, err
	}
	if !res.Applied {
		// Fresh uuid per request, a collision means something rewrote the
		// ledger out of band.
		return RedemptionResult{}, fmt.Errorf("redemption operation id %s already applied", opID)
	}

	s.logger.Info("Points redeemed",
		slog.String("user_id", userID.String()),
		slog.Int64("points", points),
		slog.String("itc", itc.String()),
	)
	return RedemptionResult{
		ITCCredited:   itc,
		PointsBalance: res.Balances.Points,
		ITCBalance:    res.Balances.ITC,
	}, nil
}
