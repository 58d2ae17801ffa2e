/**
 * @description
 * This file implements the MirrorStore on PostgreSQL. Each setter is a single
 * UPDATE restricted to its own columns; the capability group is written inside
 * a transaction holding a row lock so the event-time watermark check and the
 * write are atomic. JSON columns are bound as text so the simple query
 * protocol used behind poolers casts them to jsonb.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 * - The service's internal domain package for the AccountMirror model.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/piggybank/onboarding-service/internal/domain"
)

const mirrorColumns = `user_id, external_account_id, cardholder_id, virtual_card_id, bank_account_id,
	capabilities, currently_due, disabled_reason, profile, state_event_at,
	last_synced_at, created_at, updated_at`

// PostgresMirrorRepository is the PostgreSQL implementation of MirrorStore.
type PostgresMirrorRepository struct {
	db *pgxpool.Pool
}

// NewPostgresMirrorRepository creates a new instance of PostgresMirrorRepository.
func NewPostgresMirrorRepository(db *pgxpool.Pool) *PostgresMirrorRepository {
	return &PostgresMirrorRepository{db: db}
}

// GetOrCreateMirror inserts the default mirror if none exists and returns it.
func (r *PostgresMirrorRepository) GetOrCreateMirror(ctx context.Context, userID string) (*domain.AccountMirror, error) {
	defaults := domain.NewAccountMirror(userID)
	capsJSON, err := json.Marshal(defaults.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default capabilities: %w", err)
	}

	query := `
		INSERT INTO account_mirrors (user_id, capabilities)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, userID, string(capsJSON)); err != nil {
		return nil, fmt.Errorf("failed to create account mirror: %w", err)
	}
	return r.GetMirror(ctx, userID)
}

// GetMirror loads the mirror for userID.
func (r *PostgresMirrorRepository) GetMirror(ctx context.Context, userID string) (*domain.AccountMirror, error) {
	query := `SELECT ` + mirrorColumns + ` FROM account_mirrors WHERE user_id = $1`
	mirror, err := scanMirror(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMirrorNotFound
		}
		return nil, fmt.Errorf("failed to load account mirror: %w", err)
	}
	return mirror, nil
}

// FindMirrorByAccountID loads the mirror owning an external account.
func (r *PostgresMirrorRepository) FindMirrorByAccountID(ctx context.Context, externalAccountID string) (*domain.AccountMirror, error) {
	query := `SELECT ` + mirrorColumns + ` FROM account_mirrors WHERE external_account_id = $1`
	mirror, err := scanMirror(r.db.QueryRow(ctx, query, externalAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMirrorNotFound
		}
		return nil, fmt.Errorf("failed to load account mirror by account id: %w", err)
	}
	return mirror, nil
}

// SetExternalAccount writes the {externalAccountId, profile} group. Writing
// the same account id twice is accepted.
func (r *PostgresMirrorRepository) SetExternalAccount(ctx context.Context, userID, externalAccountID string, profile domain.ProfileSnapshot) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile snapshot: %w", err)
	}

	query := `
		UPDATE account_mirrors
		SET external_account_id = $2, profile = $3, updated_at = NOW()
		WHERE user_id = $1 AND (external_account_id IS NULL OR external_account_id = $2)
	`
	tag, err := r.db.Exec(ctx, query, userID, externalAccountID, string(profileJSON))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("external account %s already linked to another user: %w", externalAccountID, ErrFieldGroupConflict)
		}
		return fmt.Errorf("failed to set external account: %w", err)
	}
	return r.checkWritten(ctx, tag, userID, "external account")
}

// ApplyAccountState overwrites the capability group of the mirror owning
// state.ExternalAccountID unless the stored state is newer.
func (r *PostgresMirrorRepository) ApplyAccountState(ctx context.Context, state domain.AccountState) (domain.AccountStateChange, error) {
	var change domain.AccountStateChange

	capsJSON, err := json.Marshal(state.Capabilities)
	if err != nil {
		return change, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	due := state.CurrentlyDue
	if due == nil {
		due = []string{}
	}
	dueJSON, err := json.Marshal(due)
	if err != nil {
		return change, fmt.Errorf("failed to marshal currently due: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return change, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		userID         string
		storedCaps     []byte
		disabledReason string
		storedAt       int64
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, capabilities, disabled_reason, state_event_at
		FROM account_mirrors
		WHERE external_account_id = $1
		FOR UPDATE
	`, state.ExternalAccountID).Scan(&userID, &storedCaps, &disabledReason, &storedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return change, ErrMirrorNotFound
		}
		return change, fmt.Errorf("failed to lock account mirror: %w", err)
	}

	prevCaps, err := decodeCapabilities(storedCaps)
	if err != nil {
		return change, err
	}
	accountID := state.ExternalAccountID
	change.UserID = userID
	change.Previous = domain.DeriveKYCStatus(&accountID, prevCaps, disabledReason)

	if !ShouldApplyState(storedAt, state.ObservedAt) {
		change.Current = change.Previous
		return change, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE account_mirrors
		SET capabilities = $2,
		    currently_due = $3,
		    disabled_reason = $4,
		    state_event_at = GREATEST(state_event_at, $5),
		    last_synced_at = NOW(),
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(capsJSON), string(dueJSON), state.DisabledReason, state.ObservedAt)
	if err != nil {
		return change, fmt.Errorf("failed to apply account state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return change, fmt.Errorf("failed to commit account state: %w", err)
	}

	change.Applied = true
	change.Current = domain.DeriveKYCStatus(&accountID, state.Capabilities, state.DisabledReason)
	return change, nil
}

// SetBankAccount writes the {bankAccountId} group. Linking a new bank account
// replaces the previous one.
func (r *PostgresMirrorRepository) SetBankAccount(ctx context.Context, userID, bankAccountID string) error {
	query := `
		UPDATE account_mirrors
		SET bank_account_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND external_account_id IS NOT NULL
	`
	tag, err := r.db.Exec(ctx, query, userID, bankAccountID)
	if err != nil {
		return fmt.Errorf("failed to set bank account: %w", err)
	}
	return r.checkWritten(ctx, tag, userID, "bank account")
}

// SetCardholder writes the {cardholderId} group once.
func (r *PostgresMirrorRepository) SetCardholder(ctx context.Context, userID, cardholderID string) error {
	query := `
		UPDATE account_mirrors
		SET cardholder_id = $2, updated_at = NOW()
		WHERE user_id = $1
		  AND external_account_id IS NOT NULL
		  AND (cardholder_id IS NULL OR cardholder_id = $2)
	`
	tag, err := r.db.Exec(ctx, query, userID, cardholderID)
	if err != nil {
		return fmt.Errorf("failed to set cardholder: %w", err)
	}
	return r.checkWritten(ctx, tag, userID, "cardholder")
}

// SetVirtualCard writes the {virtualCardId} group once.
func (r *PostgresMirrorRepository) SetVirtualCard(ctx context.Context, userID, cardID string) error {
	query := `
		UPDATE account_mirrors
		SET virtual_card_id = $2, updated_at = NOW()
		WHERE user_id = $1
		  AND cardholder_id IS NOT NULL
		  AND (virtual_card_id IS NULL OR virtual_card_id = $2)
	`
	tag, err := r.db.Exec(ctx, query, userID, cardID)
	if err != nil {
		return fmt.Errorf("failed to set virtual card: %w", err)
	}
	return r.checkWritten(ctx, tag, userID, "virtual card")
}

// ListPendingMirrors returns accounts still waiting on the ledger's review.
func (r *PostgresMirrorRepository) ListPendingMirrors(ctx context.Context, limit int) ([]*domain.AccountMirror, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + mirrorColumns + `
		FROM account_mirrors
		WHERE external_account_id IS NOT NULL
		  AND COALESCE(capabilities->>'transfers', 'inactive') <> 'active'
		  AND disabled_reason NOT LIKE 'rejected.%'
		ORDER BY last_synced_at NULLS FIRST
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []*domain.AccountMirror
	for rows.Next() {
		mirror, err := scanMirror(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending mirror: %w", err)
		}
		mirrors = append(mirrors, mirror)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending mirrors: %w", err)
	}
	return mirrors, nil
}

// checkWritten turns a zero-row update into the right sentinel.
func (r *PostgresMirrorRepository) checkWritten(ctx context.Context, tag pgconn.CommandTag, userID, group string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account_mirrors WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account mirror: %w", err)
	}
	if !exists {
		return ErrMirrorNotFound
	}
	return fmt.Errorf("%s for user %s: %w", group, userID, ErrFieldGroupConflict)
}

func scanMirror(row pgx.Row) (*domain.AccountMirror, error) {
	var (
		m           domain.AccountMirror
		capsJSON    []byte
		dueJSON     []byte
		profileJSON []byte
		lastSynced  *time.Time
	)
	err := row.Scan(
		&m.UserID,
		&m.ExternalAccountID,
		&m.CardholderID,
		&m.VirtualCardID,
		&m.BankAccountID,
		&capsJSON,
		&dueJSON,
		&m.DisabledReason,
		&profileJSON,
		&m.StateEventAt,
		&lastSynced,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.LastSyncedAt = lastSynced

	if m.Capabilities, err = decodeCapabilities(capsJSON); err != nil {
		return nil, err
	}
	if m.CurrentlyDue, err = decodeCurrentlyDue(dueJSON); err != nil {
		return nil, err
	}
	if m.Profile, err = decodeProfile(profileJSON); err != nil {
		return nil, err
	}
	return &m, nil
}

// decodeCapabilities reads the stored capability map, filling in every
// managed capability that is absent.
func decodeCapabilities(raw []byte) (map[string]domain.CapabilityStatus, error) {
	caps := domain.DefaultCapabilities()
	if len(raw) == 0 {
		return caps, nil
	}
	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities: %w", err)
	}
	for name, status := range stored {
		caps[name] = domain.NormalizeCapabilityStatus(status)
	}
	return caps, nil
}

func decodeCurrentlyDue(raw []byte) ([]string, error) {
	due := []string{}
	if len(raw) == 0 {
		return due, nil
	}
	if err := json.Unmarshal(raw, &due); err != nil {
		return nil, fmt.Errorf("failed to decode currently due: %w", err)
	}
	if due == nil {
		due = []string{}
	}
	return due, nil
}

func decodeProfile(raw []byte) (*domain.ProfileSnapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var profile domain.ProfileSnapshot
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}
