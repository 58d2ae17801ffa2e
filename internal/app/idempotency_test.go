package app

import (
	"context"
	"testing"
	"time"
)

func TestMemoryIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	keys := NewMemoryIdempotencyKeys(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	keys.now = func() time.Time { return now }

	first, err := keys.Reserve(ctx, scopeCreateAccount, "user-1")
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	second, _ := keys.Reserve(ctx, scopeCreateAccount, "user-1")
	if first != second {
		t.Fatalf("expected in-flight attempts to share a key, got %q and %q", first, second)
	}

	other, _ := keys.Reserve(ctx, scopeCreateAccount, "user-2")
	if other == first {
		t.Fatal("expected different users to get different keys")
	}

	if err := keys.Release(ctx, scopeCreateAccount, "user-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	third, _ := keys.Reserve(ctx, scopeCreateAccount, "user-1")
	if third == first {
		t.Fatal("expected a new key after release")
	}

	now = now.Add(2 * time.Minute)
	fourth, _ := keys.Reserve(ctx, scopeCreateAccount, "user-1")
	if fourth == third {
		t.Fatal("expected a new key after the reservation expired")
	}
}

func TestRedisIdempotencyKeys_KeyFormat(t *testing.T) {
	keys := NewRedisIdempotencyKeys(nil, "onboarding:", 0)
	if got := keys.key(scopeCreateAccount, "uid"); got != "onboarding:idempotency:create_account:uid" {
		t.Fatalf("unexpected redis key %q", got)
	}
	if keys.ttl != time.Hour {
		t.Fatalf("expected default ttl of one hour, got %v", keys.ttl)
	}
}
