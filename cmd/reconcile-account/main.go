/**
 * @description
 * Operator tool that forces a pull reconciliation of one user's account mirror
 * against the ledger, or of every pending mirror at once. Use it when a
 * webhook was lost and the user is stuck in pending.
 *
 * Usage:
 *   reconcile-account <user-id>
 *   reconcile-account --pending
 *
 * @dependencies
 * - Environment variables: DATABASE_URL, LEDGER_SECRET_KEY (LEDGER_API_BASE_URL optional)
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/piggybank/onboarding-service/internal/app"
	"github.com/piggybank/onboarding-service/internal/config"
	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/internal/store"
	"github.com/piggybank/onboarding-service/pkg/ledgerclient"
)

func main() {
	if len(os.Args) != 2 || strings.TrimSpace(os.Args[1]) == "" {
		fmt.Println("Usage: reconcile-account <user-id>")
		fmt.Println("       reconcile-account --pending")
		os.Exit(1)
	}
	target := strings.TrimSpace(os.Args[1])

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.LoadOperatorConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	mirrors := store.NewPostgresMirrorRepository(dbpool)
	ledger := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerSecretKey, cfg.LedgerTimeout(), logger)
	orchestrator := app.NewOrchestrator(mirrors, ledger, nil, nil, logger, app.OrchestratorConfig{CardCurrency: cfg.CardCurrency})
	jobs := app.NewJobs(mirrors, orchestrator, logger, cfg.ReconcileBatchSize)

	if target == "--pending" {
		fmt.Println("Reconciling every pending account...")
		jobs.ReconcilePendingAccounts()
		fmt.Println("Done. See the log output for per-account failures.")
		return
	}

	before, err := mirrors.GetMirror(ctx, target)
	if errors.Is(err, store.ErrMirrorNotFound) {
		fmt.Fprintf(os.Stderr, "no onboarding record for user %s\n", target)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load account mirror: %v\n", err)
		os.Exit(1)
	}
	if !before.HasAccount() {
		fmt.Printf("User %s has no ledger account yet; nothing to reconcile.\n", target)
		return
	}

	fmt.Printf("Before:\n")
	printMirror(before)

	if err := jobs.ReconcileUser(ctx, target); err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed (%s): %v\n", domain.KindOf(err), err)
		os.Exit(1)
	}

	after, err := mirrors.GetMirror(ctx, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to reload account mirror: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("After:\n")
	printMirror(after)
}

func printMirror(m *domain.AccountMirror) {
	fmt.Printf("  Account: %s\n", deref(m.ExternalAccountID))
	fmt.Printf("  KYC status: %s\n", m.KYCStatus())
	for _, name := range domain.AllCapabilities {
		fmt.Printf("  %s: %s\n", name, m.Capability(name))
	}
	if len(m.CurrentlyDue) > 0 {
		fmt.Printf("  Currently due: %s\n", strings.Join(m.CurrentlyDue, ", "))
	}
	if m.DisabledReason != "" {
		fmt.Printf("  Disabled reason: %s\n", m.DisabledReason)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
