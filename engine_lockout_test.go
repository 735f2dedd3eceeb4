package cafegate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failLogin(t *testing.T, engine *Engine, fingerprint string) error {
	t.Helper()
	_, err := engine.LoginStaff(context.Background(), StaffLoginRequest{
		Username:    "ana",
		Password:    "wrong",
		Fingerprint: fingerprint,
	})
	return err
}

func TestLockoutAfterThresholdFailures(t *testing.T) {
	engine, h := newTestEngine(t)
	h.seedStaff(t, engine, "ana", "correct-horse-battery", RoleCashier)
	ctx := context.Background()

	// Five failures within the window. Each still reports bad
	// credentials; the fifth arms the lock.
	for i := 0; i < 5; i++ {
		if err := failLogin(t, engine, "till-1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}

	// The sixth attempt is refused before credentials are even read,
	// correct password or not.
	_, err := engine.LoginStaff(ctx, StaffLoginRequest{
		Username: "ana", Password: "correct-horse-battery", Fingerprint: "till-1",
	})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if !rl.Locked {
		t.Fatal("expected a hard lock, got plain throttling")
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 15*time.Minute {
		t.Fatalf("retry after = %v", rl.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("RateLimitedError must match ErrRateLimited")
	}
}

func TestLockoutExpiresAfterDuration(t *testing.T) {
	engine, h := newTestEngine(t)
	h.seedStaff(t, engine, "ana", "correct-horse-battery", RoleCashier)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = failLogin(t, engine, "till-1")
	}
	if _, err := engine.LoginStaff(ctx, StaffLoginRequest{
		Username: "ana", Password: "correct-horse-battery", Fingerprint: "till-1",
	}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("during lock: %v", err)
	}

	h.advance(16 * time.Minute)

	// Lock and failure window both behind us now.
	if _, err := engine.LoginStaff(ctx, StaffLoginRequest{
		Username: "ana", Password: "correct-horse-battery", Fingerprint: "till-1",
	}); err != nil {
		t.Fatalf("after lock expiry: %v", err)
	}
}

func TestLockoutIsPerFingerprint(t *testing.T) {
	engine, h := newTestEngine(t)
	h.seedStaff(t, engine, "ana", "correct-horse-battery", RoleCashier)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = failLogin(t, engine, "till-1")
	}

	// A different terminal is unaffected.
	if _, err := engine.LoginStaff(ctx, StaffLoginRequest{
		Username: "ana", Password: "correct-horse-battery", Fingerprint: "till-2",
	}); err != nil {
		t.Fatalf("other fingerprint: %v", err)
	}
}

func TestLockoutWindowSlides(t *testing.T) {
	engine, h := newTestEngine(t)
	h.seedStaff(t, engine, "ana", "correct-horse-battery", RoleCashier)
	ctx := context.Background()

	// Four failures, then wait until they fall out of the window.
	for i := 0; i < 4; i++ {
		_ = failLogin(t, engine, "till-1")
	}
	h.advance(16 * time.Minute)

	// Four fresh failures do not lock; the old ones no longer count.
	for i := 0; i < 4; i++ {
		if err := failLogin(t, engine, "till-1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("fresh failure %d: %v", i+1, err)
		}
	}
	if _, err := engine.LoginStaff(ctx, StaffLoginRequest{
		Username: "ana", Password: "correct-horse-battery", Fingerprint: "till-1",
	}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLockoutAuditTrail(t *testing.T) {
	engine, h := newTestEngine(t)
	h.seedStaff(t, engine, "ana", "correct-horse-battery", RoleCashier)

	for i := 0; i < 5; i++ {
		_ = failLogin(t, engine, "till-1")
	}
	_ = failLogin(t, engine, "till-1")

	sawLock, sawRateLimited := false, false
	for i := 0; i < 6; i++ {
		event := h.waitAudit(t, AuditActionFailedLogin)
		if event.Details["locked"] == "true" && event.Details["reason"] == "invalid_password" {
			sawLock = true
		}
		if event.Details["reason"] == "rate_limited" {
			sawRateLimited = true
		}
	}
	if !sawLock {
		t.Fatal("the attempt that armed the lock was not marked locked")
	}
	if !sawRateLimited {
		t.Fatal("no rate_limited audit entry for the refused attempt")
	}
}
