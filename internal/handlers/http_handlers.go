package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkcraft/wallet-service/internal/exchange"
	"github.com/inkcraft/wallet-service/internal/models"
	"github.com/inkcraft/wallet-service/internal/repository"
	"github.com/inkcraft/wallet-service/internal/service"
)

//go:generate mockgen -source=http_handlers.go -destination=../../test/mock_wallet_handlers.go -package=test

// SignatureHeader carries the payment provider's HMAC signature.
const SignatureHeader = "Payment-Signature"

type Redeemer interface {
	RedeemPointsForITC(ctx context.Context, userID uuid.UUID, points int64) (service.RedemptionResult, error)
}

type WalletReader interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, currency models.Currency, limit, offset int) ([]models.Transaction, error)
}

type WebhookProcessor interface {
	HandleEvent(ctx context.Context, payload []byte, sigHeader string) (service.WebhookOutcome, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type WalletHTTPHandler struct {
	redeemer     Redeemer
	reader       WalletReader
	webhooks     WebhookProcessor
	db           Pinger
	auth         Authenticator
	historyLimit int
}

func NewWalletHTTPHandler(
	redeemer Redeemer,
	reader WalletReader,
	webhooks WebhookProcessor,
	db Pinger,
	auth Authenticator,
	historyLimit int,
) *WalletHTTPHandler {
	return &WalletHTTPHandler{
		redeemer:     redeemer,
		reader:       reader,
		webhooks:     webhooks,
		db:           db,
		auth:         auth,
		historyLimit: historyLimit,
	}
}

func (h *WalletHTTPHandler) RegisterRoutes(r *gin.Engine) {
	wallet := r.Group("/wallet", Identity(h.auth))
	{
		wallet.GET("", h.HandleGetWallet)
		wallet.POST("/redeem", h.HandleRedeem)
	}
	r.GET("/wallet/packages", h.HandleGetPackages)
	r.POST("/webhooks/payment", h.HandlePaymentWebhook)
	r.GET("/ping", h.HandlePing)
}

func (h *WalletHTTPHandler) HandleRedeem(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	res, err := h.redeemer.RedeemPointsForITC(c.Request.Context(), UserID(c), req.Amount)
	if err != nil {
		status, msg := redeemErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, models.RedeemResponse{
		ITCAmount:     res.ITCCredited.StringFixed(models.ITCScale),
		PointsBalance: res.PointsBalance,
		ITCBalance:    res.ITCBalance.StringFixed(models.ITCScale),
	})
}

func redeemErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrInvalidAmount):
		return http.StatusBadRequest, "amount must be a positive integer"
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient points balance"
	case errors.Is(err, repository.ErrWalletSuspended):
		return http.StatusForbidden, "wallet is suspended"
	case errors.Is(err, service.ErrContention):
		return http.StatusServiceUnavailable, "wallet is busy, try again"
	default:
		return http.StatusInternalServerError, "redemption failed"
	}
}

func (h *WalletHTTPHandler) HandleGetWallet(c *gin.Context) {
	ctx := c.Request.Context()
	userID := UserID(c)

	w, err := h.reader.GetWallet(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
		return
	}

	points, err := h.history(ctx, userID, models.CurrencyPoints)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	itc, err := h.history(ctx, userID, models.CurrencyITC)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, models.WalletResponse{
		PointsBalance:        w.PointsBalance,
		ITCBalance:           w.ITCBalance.StringFixed(models.ITCScale),
		LifetimePointsEarned: w.LifetimePointsEarned,
		LifetimeITCEarned:    w.LifetimeITCEarned.StringFixed(models.ITCScale),
		PointsHistory:        points,
		ITCHistory:           itc,
	})
}

func (h *WalletHTTPHandler) history(
	ctx context.Context,
	userID uuid.UUID,
	currency models.Currency,
) ([]models.HistoryEntry, error) {
	txs, err := h.reader.ListTransactions(ctx, userID, currency, h.historyLimit, 0)
	if errors.Is(err, repository.ErrWalletNotFound) {
		return []models.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, len(txs))
	for i, t := range txs {
		entries[i] = models.HistoryEntry{
			ID:           t.ID,
			Type:         string(t.Type),
			Amount:       t.Amount.String(),
			BalanceAfter: t.BalanceAfter.String(),
			Reason:       t.Reason,
			Reference:    t.Reference,
			CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return entries, nil
}

func (h *WalletHTTPHandler) HandleGetPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": exchange.Packages()})
}

func (h *WalletHTTPHandler) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	outcome, err := h.webhooks.HandleEvent(
		c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) || errors.Is(err, service.ErrInvalidPayload) {
			// Final for this payload; the provider must not retry forever.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// 5xx tells the provider to redeliver; the credit is idempotent by
		// reference so the retry is safe.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

func (h *WalletHTTPHandler) HandlePing(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database unavailable"})
		return
	}
	c.Status(http.StatusOK)
}
