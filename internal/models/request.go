package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RedeemRequest struct {
	Amount     int64  `json:"amount" binding:"required"`
	RedeemType string `json:"redeemType" binding:"required,oneof=itc"`
}

type RedeemResponse struct {
	ITCAmount     string `json:"itcAmount"`
	PointsBalance int64  `json:"pointsBalance"`
	ITCBalance    string `json:"itcBalance"`
}

type HistoryEntry struct {
	ID           int64   `json:"id"`
	Type         string  `json:"type"`
	Amount       string  `json:"amount"`
	BalanceAfter string  `json:"balanceAfter"`
	Reason       string  `json:"reason"`
	Reference    *string `json:"reference"`
	CreatedAt    string  `json:"createdAt"`
}

type WalletResponse struct {
	PointsBalance        int64          `json:"pointsBalance"`
	ITCBalance           string         `json:"itcBalance"`
	LifetimePointsEarned int64          `json:"lifetimePointsEarned"`
	LifetimeITCEarned    string         `json:"lifetimeItcEarned"`
	PointsHistory        []HistoryEntry `json:"pointsHistory"`
	ITCHistory           []HistoryEntry `json:"itcHistory"`
}

// PaymentEvent is the payload the payment provider posts to the webhook.
// PaymentIntentID doubles as the idempotency reference for both the wallet
// credit and the order record.
type PaymentEvent struct {
	Type            string          `json:"type"`
	PaymentIntentID string          `json:"paymentIntentId"`
	UserID          uuid.UUID       `json:"userId"`
	ITCAmount       decimal.Decimal `json:"itcAmount"`
	USDAmount       decimal.Decimal `json:"usdAmount"`
}

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)
