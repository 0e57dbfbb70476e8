package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkcraft/wallet-service/internal/models"
)

//go:generate mockgen -source=webhook.go -destination=../../test/mock_order_recorder.go -package=test OrderRecorder

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

type WebhookOutcome string

const (
	OutcomeApplied       WebhookOutcome = "applied"
	OutcomeReplayed      WebhookOutcome = "replayed"
	OutcomeRejected      WebhookOutcome = "rejected"
	OutcomeFailureLogged WebhookOutcome = "failure_logged"
)

type OrderRecorder interface {
	Record(ctx context.Context, o models.TokenOrder) (bool, error)
}

// PaymentWebhookService consumes payment-provider events. The provider
// delivers at least once; the payment intent id keys both the wallet credit
// and the order record, so every step is individually safe to retry.
type PaymentWebhookService struct {
	mutator   Mutator
	orders    OrderRecorder
	logger    *slog.Logger
	secret    []byte
	tolerance time.Duration
}

func NewPaymentWebhookService(
	mutator Mutator,
	orders OrderRecorder,
	logger *slog.Logger,
	secret string,
	tolerance time.Duration,
) *PaymentWebhookService {
	return &PaymentWebhookService{
		mutator:   mutator,
		orders:    orders,
		logger:    logger,
		secret:    []byte(secret),
		tolerance: tolerance,
	}
}

// VerifySignature checks the provider's signature header against the shared
// secret. The header format is "t={unix},v1={hex hmac}" where the hmac is
// HMAC-SHA256(secret, "{t}.{payload}").
func (s *PaymentWebhookService) VerifySignature(payload []byte, header string) error {
	var ts int64
	var sig []byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			decoded, err := hex.DecodeString(v)
			if err != nil {
				return ErrInvalidSignature
			}
			sig = decoded
		}
	}
	if ts == 0 || sig == nil {
		return ErrInvalidSignature
	}

	if s.tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > s.tolerance || age < -s.tolerance {
			return ErrInvalidSignature
		}
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// HandleEvent runs the Received -> Verified -> {Applied|Replayed|Rejected}
// state machine for one delivery. After verification the mutation always
// runs to completion: the provider's retry logic depends on an accurate
// acknowledgment, so a client disconnect must not abandon a half-done
// credit.
func (s *PaymentWebhookService) HandleEvent(
	ctx context.Context,
	payload []byte,
	sigHeader string,
) (WebhookOutcome, error) {
	if err := s.VerifySignature(payload, sigHeader); err != nil {
		s.logger.Warn("Webhook rejected: bad signature")
		return OutcomeRejected, err
	}

	var event models.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return OutcomeRejected, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.PaymentIntentID == "" || event.UserID == uuid.Nil {
		return OutcomeRejected, ErrInvalidPayload
	}

	ctx = context.WithoutCancel(ctx)

	if event.Type == models.EventPaymentFailed {
		// No balance mutation for failed payments; keep a durable record for
		// observability, idempotent on the same reference.
		if _, err := s.orders.Record(ctx, models.TokenOrder{
			UserID:     event.UserID,
			PaymentRef: event.PaymentIntentID,
			ITCAmount:  event.ITCAmount,
			USDAmount:  event.USDAmount,
			Status:     models.OrderFailed,
		}); err != nil {
			return OutcomeRejected, err
		}
		s.logger.Info("Payment failure recorded",
			slog.String("payment_ref", event.PaymentIntentID),
			slog.String("user_id", event.UserID.String()),
		)
		return OutcomeFailureLogged, nil
	}

	if event.Type != models.EventPaymentSucceeded {
		return OutcomeRejected, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, event.Type)
	}
	if !event.ITCAmount.IsPositive() {
		return OutcomeRejected, fmt.Errorf("%w: non-positive itc amount", ErrInvalidPayload)
	}

	ref := event.PaymentIntentID
	res, err := s.mutator.Mutate(ctx, event.UserID, []models.Delta{
		{
			Currency:  models.CurrencyITC,
			Amount:    event.ITCAmount.Round(models.ITCScale),
			Type:      models.TypePurchase,
			Reference: &ref,
			Reason:    "token purchase",
			Metadata:  map[string]string{"usd_value": event.USDAmount.StringFixed(models.ITCScale)},
		},
	})
	if err != nil {
		return OutcomeRejected, err
	}

	// The order record is a second, independently idempotent write keyed on
	// the same reference: a crash between credit and record is healed by the
	// provider's next retry without double-crediting.
	if _, err := s.orders.Record(ctx, models.TokenOrder{
		UserID:     event.UserID,
		PaymentRef: event.PaymentIntentID,
		ITCAmount:  event.ITCAmount.Round(models.ITCScale),
		USDAmount:  event.USDAmount,
		Status:     models.OrderCompleted,
	}); err != nil {
		return OutcomeRejected, err
	}

	if !res.Applied {
		s.logger.Info("Webhook replayed",
			slog.String("payment_ref", event.PaymentIntentID),
			slog.String("user_id", event.UserID.String()),
		)
		return OutcomeReplayed, nil
	}

	s.logger.Info("Payment credited",
		slog.String("payment_ref", event.PaymentIntentID),
		slog.String("user_id", event.UserID.String()),
		slog.String("itc", event.ITCAmount.String()),
	)
	return OutcomeApplied, nil
}
