package stepauth

import (
	"context"
	"errors"
	"testing"
)

func TestRefreshIssuesNewAccess(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)

	refreshed, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken == login.AccessToken {
		t.Fatal("refresh must mint a new access token")
	}
	if refreshed.RefreshToken != login.RefreshToken {
		t.Fatal("refresh must echo the presented refresh token, not rotate it")
	}

	if _, err := engine.ValidateToken(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("new access token must validate: %v", err)
	}
	// The old access token stays valid until it expires or is revoked.
	if _, err := engine.ValidateToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("old access token must still validate: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)

	_, err := engine.Refresh(ctx, login.AccessToken)
	if !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefreshGarbage(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Refresh(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefreshRevoked(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	if err := engine.LogoutAll(ctx, "u-1"); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	_, err := engine.Refresh(ctx, login.RefreshToken)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRefreshUnknownToStore(t *testing.T) {
	engine, _, notifier, mr := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	mr.FlushAll()

	// A well signed token the store never saw must not pass.
	_, err := engine.Refresh(ctx, login.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefreshDegradedWithoutGate(t *testing.T) {
	engine, gate, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	login := loginAndVerify(t, ctx, engine, notifier)
	gate.setLookupErr(errors.New("directory down"))

	refreshed, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh must degrade, not fail: %v", err)
	}

	auth, err := engine.ValidateToken(ctx, refreshed.AccessToken)
	if err != nil {
		t.Fatalf("validate degraded token: %v", err)
	}
	if auth.UserID != "u-1" || auth.Username != "alice" {
		t.Fatalf("degraded token must keep identity claims: %+v", auth)
	}
	if auth.Role != "" || len(auth.Permissions) != 0 {
		t.Fatalf("degraded token must not carry stale authority: %+v", auth)
	}
}
