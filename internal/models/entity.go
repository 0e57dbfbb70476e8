package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyPoints Currency = "points"
	CurrencyITC    Currency = "itc"
)

// ITCScale is the fixed decimal scale of the ITC currency.
const ITCScale = 2

type TransactionType string

const (
	TypeEarn       TransactionType = "earn"
	TypeRedeem     TransactionType = "redeem"
	TypeReward     TransactionType = "reward"
	TypePurchase   TransactionType = "purchase"
	TypeAdjustment TransactionType = "adjustment"
)

type WalletStatus string

const (
	StatusActive    WalletStatus = "active"
	StatusSuspended WalletStatus = "suspended"
)

// Wallet is the materialized balance projection for one user. Rows are
// created lazily on the first applied delta and never deleted.
type Wallet struct {
	UserID               uuid.UUID       `db:"user_id" json:"userId"`
	PointsBalance        int64           `db:"points_balance" json:"pointsBalance"`
	ITCBalance           decimal.Decimal `db:"itc_balance" json:"itcBalance"`
	LifetimePointsEarned int64           `db:"lifetime_points_earned" json:"lifetimePointsEarned"`
	LifetimeITCEarned    decimal.Decimal `db:"lifetime_itc_earned" json:"lifetimeItcEarned"`
	Status               WalletStatus    `db:"status" json:"status"`
}

// ZeroWallet returns the defaults reported for a user without a wallet row.
func ZeroWallet(userID uuid.UUID) Wallet {
	return Wallet{
		UserID:            userID,
		ITCBalance:        decimal.Zero,
		LifetimeITCEarned: decimal.Zero,
		Status:            StatusActive,
	}
}

// Transaction is one append-only ledger entry. Amount is signed, negative
// for debits. Reference, when non-nil, must be unique per (user, currency).
type Transaction struct {
	ID           int64             `db:"id"`
	UserID       uuid.UUID         `db:"user_id"`
	Currency     Currency          `db:"currency"`
	Type         TransactionType   `db:"type"`
	Amount       decimal.Decimal   `db:"amount"`
	BalanceAfter decimal.Decimal   `db:"balance_after"`
	Reference    *string           `db:"reference"`
	Reason       string            `db:"reason"`
	Metadata     map[string]string `db:"metadata"`
	CreatedAt    time.Time         `db:"created_at"`
}

// Delta is one requested balance change. All deltas passed to the mutator in
// a single call commit together or not at all.
type Delta struct {
	Currency  Currency
	Amount    decimal.Decimal
	Type      TransactionType
	Reference *string
	Reason    string
	Metadata  map[string]string
}

// Balances is the per-currency snapshot returned by a mutation.
type Balances struct {
	Points int64
	ITC    decimal.Decimal
}

// MutationResult reports the balances after a mutator call. Applied is false
// when a delta's reference had already been recorded and the whole call was
// treated as a replay.
type MutationResult struct {
	Balances Balances
	Applied  bool
}

type OrderStatus string

const (
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// TokenOrder records the purchase side effect of a payment event, keyed by
// the provider's payment reference so retried deliveries cannot duplicate it.
type TokenOrder struct {
	ID         int64           `db:"id"`
	UserID     uuid.UUID       `db:"user_id"`
	PaymentRef string          `db:"payment_ref"`
	ITCAmount  decimal.Decimal `db:"itc_amount"`
	USDAmount  decimal.Decimal `db:"usd_amount"`
	Status     OrderStatus     `db:"status"`
	CreatedAt  time.Time       `db:"created_at"`
}
