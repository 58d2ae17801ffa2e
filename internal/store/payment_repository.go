package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/piggybank/onboarding-service/internal/domain"
)

// ErrPaymentNotFound is returned when no payment record has the given id.
var ErrPaymentNotFound = errors.New("payment record not found")

// PostgresPaymentRepository is the PostgreSQL implementation of PaymentStore.
type PostgresPaymentRepository struct {
	db *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new instance of PostgresPaymentRepository.
func NewPostgresPaymentRepository(db *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// RecordPayment inserts the record. The conflict branch only fires to upgrade
// a failed record to succeeded; every other duplicate returns no row.
func (r *PostgresPaymentRepository) RecordPayment(ctx context.Context, record domain.PaymentRecord) (bool, error) {
	query := `
		INSERT INTO ledger_payments (id, user_id, amount_cents, currency, status, failure_message, event_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    failure_message = NULL,
		    amount_cents = EXCLUDED.amount_cents,
		    event_id = EXCLUDED.event_id,
		    received_at = EXCLUDED.received_at
		WHERE ledger_payments.status = 'failed' AND EXCLUDED.status = 'succeeded'
		RETURNING id
	`
	var receivedAt interface{}
	if !record.ReceivedAt.IsZero() {
		receivedAt = record.ReceivedAt
	}

	var id string
	err := r.db.QueryRow(ctx, query,
		record.ID,
		record.UserID,
		record.AmountCents,
		record.Currency,
		string(record.Status),
		record.FailureMessage,
		record.EventID,
		receivedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record payment %s: %w", record.ID, err)
	}
	return true, nil
}

// GetPayment loads one payment record.
func (r *PostgresPaymentRepository) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	query := `
		SELECT id, user_id, amount_cents, currency, status, failure_message, event_id, received_at
		FROM ledger_payments
		WHERE id = $1
	`
	var (
		rec    domain.PaymentRecord
		status string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.AmountCents,
		&rec.Currency,
		&status,
		&rec.FailureMessage,
		&rec.EventID,
		&rec.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	rec.Status = domain.PaymentStatus(status)
	return &rec, nil
}
