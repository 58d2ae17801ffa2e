/**
 * @description
 * This file contains the WebhookReconciler. It authenticates inbound ledger
 * events and applies them to the local mirror and payment records,
 * concurrently with the orchestrator's synchronous writes.
 *
 * Processing states, logged per event:
 * RECEIVED -> VERIFIED -> APPLIED | REJECTED
 *
 * @notes
 * - A signature failure never mutates anything. It is a security signal, not
 *   a user-facing error.
 * - account.updated events are applied only if they are not older than the
 *   state already stored (event `created` time watermark).
 */
package app

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

	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/internal/store"
)

// SignatureHeader is the header carrying the ledger's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Reconciler handles ledger webhook deliveries.
type Reconciler struct {
	mirrors   store.MirrorStore
	payments  store.PaymentStore
	publisher EventPublisher
	secret    []byte
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a new Reconciler. A zero tolerance disables the
// timestamp freshness check. publisher may be nil.
func NewReconciler(mirrors store.MirrorStore, payments store.PaymentStore, publisher EventPublisher, secret string, tolerance time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		mirrors:   mirrors,
		payments:  payments,
		publisher: publisher,
		secret:    []byte(secret),
		tolerance: tolerance,
		logger:    logger.With("component", "webhook_reconciler"),
		now:       time.Now,
	}
}

// Handle verifies and applies one delivery. A *domain.Error of kind
// SignatureInvalid means nothing was applied and the ledger should retry.
// Other errors are transient store failures.
func (r *Reconciler) Handle(ctx context.Context, signatureHeader string, payload []byte) error {
	r.logger.Debug("webhook received", "state", "RECEIVED", "bytes", len(payload))

	if err := r.VerifySignature(signatureHeader, payload); err != nil {
		r.logger.Warn("webhook signature rejected", "state", "REJECTED", "security", true, "reason", err.Error())
		return err
	}

	var event domain.LedgerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Warn("webhook payload is not a valid event", "state", "REJECTED", "error", err)
		return domain.ValidationError("body", "webhook payload is not a valid event")
	}
	logger := r.logger.With("event_id", event.ID, "event_type", event.Type)
	logger.Info("webhook verified", "state", "VERIFIED")

	var err error
	switch event.Type {
	case domain.EventAccountUpdated:
		err = r.applyAccountUpdated(ctx, logger, event)
	case domain.EventPaymentSucceeded:
		err = r.applyPayment(ctx, logger, event, domain.PaymentSucceeded)
	case domain.EventPaymentFailed:
		err = r.applyPayment(ctx, logger, event, domain.PaymentFailed)
	default:
		logger.Info("ignoring unhandled event type", "state", "APPLIED")
		return nil
	}
	if err != nil {
		logger.Error("failed to apply webhook event", "error", err)
		return err
	}
	logger.Info("webhook applied", "state", "APPLIED")
	return nil
}

func (r *Reconciler) applyAccountUpdated(ctx context.Context, logger *slog.Logger, event domain.LedgerEvent) error {
	var obj domain.LedgerAccountObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return domain.ValidationError("data.object", "account payload is malformed")
	}
	if obj.ID == "" {
		obj.ID = event.Account
	}
	if obj.ID == "" {
		logger.Warn("account event without an account id")
		return nil
	}

	_, err := applyState(ctx, r.mirrors, r.publisher, logger, obj.State(event.Created))
	if errors.Is(err, store.ErrMirrorNotFound) {
		logger.Info("no mirror for account; acknowledging", "account_id", obj.ID)
		return nil
	}
	return err
}

func (r *Reconciler) applyPayment(ctx context.Context, logger *slog.Logger, event domain.LedgerEvent, status domain.PaymentStatus) error {
	var obj domain.LedgerPaymentObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return domain.ValidationError("data.object", "payment payload is malformed")
	}
	if obj.ID == "" {
		logger.Warn("payment event without a payment id")
		return nil
	}

	record := domain.PaymentRecord{
		ID:          obj.ID,
		AmountCents: obj.Amount,
		Currency:    strings.ToLower(obj.Currency),
		Status:      status,
		EventID:     event.ID,
		ReceivedAt:  r.now().UTC(),
	}
	if status == domain.PaymentSucceeded && obj.AmountReceived > 0 {
		record.AmountCents = obj.AmountReceived
	}
	if userID := strings.TrimSpace(obj.Metadata["user_id"]); userID != "" {
		record.UserID = &userID
	}
	if status == domain.PaymentFailed {
		msg := "payment failed"
		if obj.LastPaymentError != nil && obj.LastPaymentError.Message != "" {
			msg = obj.LastPaymentError.Message
		}
		record.FailureMessage = &msg
	}

	written, err := r.payments.RecordPayment(ctx, record)
	if err != nil {
		return err
	}
	if !written {
		logger.Info("duplicate payment delivery; no-op", "payment_id", obj.ID)
		return nil
	}
	logger.Info("recorded payment", "payment_id", obj.ID, "status", status, "amount_cents", record.AmountCents)

	if status == domain.PaymentSucceeded && r.publisher != nil {
		evt := domain.PaymentSucceededEvent{
			PaymentID:   record.ID,
			UserID:      record.UserID,
			AmountCents: record.AmountCents,
			Currency:    record.Currency,
		}
		if err := r.publisher.Publish(ctx, domain.OnboardingExchange, domain.RoutingKeyPaymentSucceeded, evt); err != nil {
			logger.Error("failed to publish payment succeeded event", "payment_id", record.ID, "error", err)
		}
	}
	return nil
}

// VerifySignature checks `t=<unix>,v1=<hex>` against HMAC-SHA256 of
// "<t>.<payload>". Any v1 entry may match.
func (r *Reconciler) VerifySignature(header string, payload []byte) error {
	invalid := func(format string, args ...any) error {
		return &domain.Error{Kind: domain.KindSignatureInvalid, Message: fmt.Sprintf(format, args...)}
	}
	if len(r.secret) == 0 {
		return invalid("webhook secret is not configured")
	}
	if strings.TrimSpace(header) == "" {
		return invalid("missing %s header", SignatureHeader)
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return invalid("signature header is malformed")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return invalid("signature timestamp is not a number")
	}
	if r.tolerance > 0 {
		skew := r.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > r.tolerance {
			return invalid("signature timestamp is outside the tolerance window")
		}
	}

	expected := ComputeSignature(r.secret, ts, payload)
	for _, candidate := range signatures {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return invalid("no signature matches the payload")
}

// ComputeSignature returns the raw HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeaderValue builds a header value for payload signed at t.
func SignatureHeaderValue(secret []byte, t time.Time, payload []byte) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(ComputeSignature(secret, ts, payload)))
}
