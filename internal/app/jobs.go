/**
 * @description
 * Scheduled job implementations: the pull-side reconciliation that catches
 * accounts whose webhooks were lost or delayed.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/piggybank/onboarding-service/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	mirrors      store.MirrorStore
	orchestrator *Orchestrator
	logger       *slog.Logger
	batchSize    int
	timeout      time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(mirrors store.MirrorStore, orchestrator *Orchestrator, logger *slog.Logger, batchSize int) *Jobs {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Jobs{
		mirrors:      mirrors,
		orchestrator: orchestrator,
		logger:       logger,
		batchSize:    batchSize,
		timeout:      5 * time.Minute,
	}
}

// ReconcilePendingAccounts polls the ledger for every pending mirror in one
// batch. A failure on one account does not stop the sweep.
func (j *Jobs) ReconcilePendingAccounts() {
	j.logger.Info("starting pending account reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	mirrors, err := j.mirrors.ListPendingMirrors(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to list pending mirrors", "error", err)
		return
	}

	var refreshed, failed int
	for _, mirror := range mirrors {
		if err := j.ReconcileUser(ctx, mirror.UserID); err != nil {
			failed++
			j.logger.Warn("failed to reconcile account", "user_id", mirror.UserID, "error", err)
			continue
		}
		refreshed++
	}

	j.logger.Info("pending account reconciliation job finished", "candidates", len(mirrors), "refreshed", refreshed, "failed", failed)
}

// ReconcileUser forces a pull reconciliation for one user.
func (j *Jobs) ReconcileUser(ctx context.Context, userID string) error {
	session, err := j.orchestrator.Open(ctx, userID)
	if err != nil {
		return err
	}
	defer session.Close()

	_, err = session.PollStatus(ctx)
	return err
}
