package stepauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateTokenSuccess(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)

	auth, err := engine.ValidateToken(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if auth.UserID != "u-1" || auth.Username != "alice" || auth.Role != "admin" {
		t.Fatalf("unexpected claims projection %+v", auth)
	}
	if len(auth.Permissions) != 2 || auth.Team != "core" {
		t.Fatalf("unexpected claims projection %+v", auth)
	}
	if auth.TokenID == "" {
		t.Fatal("expected a token ID")
	}
	if !auth.ExpiresAt.After(auth.IssuedAt) {
		t.Fatalf("expiry %v must follow issuance %v", auth.ExpiresAt, auth.IssuedAt)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.ValidateToken(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateTokenForeignSignature(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	loginAndVerify(t, ctx, engine, notifier)

	// Same user, same flows, different signing key.
	otherCfg := testConfig()
	otherCfg.JWT.PrivateKey = []byte("ffffffffffffffffffffffffffffffff")
	other, _, otherNotifier, _ := newTestEngine(t, func(b *Builder) {
		b.WithConfig(otherCfg)
	})
	foreign := loginAndVerify(t, ctx, other, otherNotifier)

	_, err := engine.ValidateToken(ctx, foreign.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a foreign signature, got %v", err)
	}
}

func TestValidateTokenUnknownToStore(t *testing.T) {
	engine, _, notifier, mr := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	mr.FlushAll()

	_, err := engine.ValidateToken(ctx, login.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for an unknown token, got %v", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.AccessTTL = time.Second
	cfg.JWT.RefreshTTL = time.Hour
	cfg.JWT.Leeway = 0
	engine, _, notifier, _ := newTestEngine(t, func(b *Builder) {
		b.WithConfig(cfg)
	})
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	time.Sleep(1200 * time.Millisecond)

	_, err := engine.ValidateToken(ctx, login.AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateTokenExpiredByEngineClock(t *testing.T) {
	clock := newFakeClock()
	engine, _, notifier, _ := newTestEngine(t, func(b *Builder) {
		b.withTimeSource(clock.Now)
	})
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	if _, err := engine.ValidateToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate before expiry: %v", err)
	}

	// Signature checks and the stored record share the engine clock, so one
	// minute past the 30 minute access TTL the token is gone.
	clock.Advance(31 * time.Minute)
	_, err := engine.ValidateToken(ctx, login.AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateTokenTouchesSession(t *testing.T) {
	clock := newFakeClock()
	engine, _, notifier, _ := newTestEngine(t, func(b *Builder) {
		b.withTimeSource(clock.Now)
	})
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	before, err := engine.Sessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := engine.ValidateToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate: %v", err)
	}

	after, err := engine.Sessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !after[0].LastSeenAt.After(before[0].LastSeenAt) {
		t.Fatalf("last seen not refreshed: %v -> %v", before[0].LastSeenAt, after[0].LastSeenAt)
	}
}

func TestValidateMetrics(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	if _, err := engine.ValidateToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate: %v", err)
	}
	_, _ = engine.ValidateToken(ctx, "garbage")

	snap := engine.MetricsSnapshot()
	if snap.Counters["validate_success_total"] != 1 {
		t.Fatalf("expected 1 success, got %d", snap.Counters["validate_success_total"])
	}
	if snap.Counters["validate_failure_total"] != 1 {
		t.Fatalf("expected 1 failure, got %d", snap.Counters["validate_failure_total"])
	}

	var observations uint64
	for _, v := range snap.ValidateLatencyMs {
		observations += v
	}
	if observations != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observations)
	}
}
