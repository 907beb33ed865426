package stepauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTokenStore(t *testing.T) (*tokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newTokenStore(rdb, "tok", []byte("0123456789abcdef"), 24*time.Hour), mr
}

func seedToken(t *testing.T, store *tokenStore, jti, token string, kind byte) {
	t.Helper()
	now := time.Now()
	err := store.Save(context.Background(), jti, token, &tokenRecord{
		kind:      kind,
		issuedAt:  now.Unix(),
		expiresAt: now.Add(time.Hour).Unix(),
		userID:    "u-1",
	})
	if err != nil {
		t.Fatalf("save token: %v", err)
	}
}

func TestTokenCheck(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	rec, err := store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, time.Now().Unix())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rec.userID != "u-1" || rec.revoked {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTokenCheckWrongKind(t *testing.T) {
	store, _ := newTestTokenStore(t)
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	_, err := store.Check(context.Background(), "jti-1", "signed.jwt.value", tokenKindRefresh, time.Now().Unix())
	if !errors.Is(err, errTokenKind) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestTokenCheckVerifierMismatch(t *testing.T) {
	store, _ := newTestTokenStore(t)
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	// Same JTI, different token string: a forgery that guessed the ID.
	_, err := store.Check(context.Background(), "jti-1", "signed.jwt.forged", tokenKindAccess, time.Now().Unix())
	if !errors.Is(err, errTokenVerifier) {
		t.Fatalf("expected verifier mismatch, got %v", err)
	}
}

func TestTokenCheckMissing(t *testing.T) {
	store, _ := newTestTokenStore(t)

	_, err := store.Check(context.Background(), "ghost", "whatever", tokenKindAccess, time.Now().Unix())
	if !errors.Is(err, errTokenRecordMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
}

func TestTokenRevokeIsIdempotent(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	now := time.Now().Unix()
	if err := store.Revoke(ctx, "jti-1", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.Revoke(ctx, "jti-1", now+10); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := store.Revoke(ctx, "ghost", now); err != nil {
		t.Fatalf("revoking a missing token must be a no-op: %v", err)
	}

	rec, err := store.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.revoked || rec.revokedAt != now {
		t.Fatalf("expected first revocation timestamp kept, got %+v", rec)
	}

	_, err = store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, time.Now().Unix())
	if !errors.Is(err, errTokenRecordRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestTokenCheckStoredExpiry(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	rec, err := store.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// The record outlives the token by the retention TTL; once the stored
	// expiry passes, Check must report the lapse instead of accepting it.
	_, err = store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, rec.expiresAt+1)
	if !errors.Is(err, errTokenRecordLapsed) {
		t.Fatalf("expected lapsed, got %v", err)
	}
	_, err = store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, rec.expiresAt)
	if !errors.Is(err, errTokenRecordLapsed) {
		t.Fatalf("expected lapsed at the boundary, got %v", err)
	}

	_, err = store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, rec.expiresAt-1)
	if err != nil {
		t.Fatalf("token still inside its window: %v", err)
	}
}

func TestTokenCheckRevokedBeforeExpiryStaysRevoked(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()
	seedToken(t, store, "jti-1", "signed.jwt.value", tokenKindAccess)

	rec, err := store.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := store.Revoke(ctx, "jti-1", time.Now().Unix()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Revocation is the stronger answer and keeps winning after the lapse.
	_, err = store.Check(ctx, "jti-1", "signed.jwt.value", tokenKindAccess, rec.expiresAt+10)
	if !errors.Is(err, errTokenRecordRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestTokenRevokeAllForUser(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()
	seedToken(t, store, "jti-1", "token.one", tokenKindAccess)
	seedToken(t, store, "jti-2", "token.two", tokenKindRefresh)

	revoked, err := store.RevokeAllForUser(ctx, "u-1", time.Now().Unix())
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revocations, got %d", revoked)
	}

	for _, jti := range []string{"jti-1", "jti-2"} {
		rec, err := store.Get(ctx, jti)
		if err != nil {
			t.Fatalf("get %s: %v", jti, err)
		}
		if !rec.revoked {
			t.Fatalf("%s not revoked", jti)
		}
	}
}

func TestTokenRecordRoundTrip(t *testing.T) {
	store, _ := newTestTokenStore(t)
	rec := &tokenRecord{
		kind:         tokenKindRefresh,
		revoked:      true,
		issuedAt:     1700000000,
		expiresAt:    1700003600,
		revokedAt:    1700000100,
		userID:       "u-42",
		verifierHash: store.verifier("some.jwt.value"),
	}

	blob, err := encodeTokenRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeTokenRecord(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}
