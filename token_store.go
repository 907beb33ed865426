package stepauth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token kinds stored alongside each issued JWT ID.
const (
	tokenKindAccess  byte = 0
	tokenKindRefresh byte = 1
)

// Store-local errors. The engine maps these to the public sentinels.
var (
	errTokenRecordMissing = errors.New("token record missing")
	errTokenRecordRevoked = errors.New("token record revoked")
	errTokenRecordLapsed  = errors.New("token record past stored expiry")
	errTokenVerifier      = errors.New("token verifier mismatch")
	errTokenKind          = errors.New("token kind mismatch")
	errTokenBackend       = errors.New("token backend error")
)

// tokenRecord binary layout, version 1:
//
//	offset 0      version (1 byte)
//	offset 1      kind (1 byte)
//	offset 2      revoked flag (1 byte)
//	offset 3-10   issuedAt, int64 big-endian
//	offset 11-18  expiresAt, int64 big-endian
//	offset 19-26  revokedAt, int64 big-endian (zero until revoked)
//	then          userID: uint16 big-endian length + bytes
//	tail          verifierHash, exactly 32 bytes
const tokenRecordVersion = 1

type tokenRecord struct {
	kind         byte
	revoked      bool
	issuedAt     int64
	expiresAt    int64
	revokedAt    int64
	userID       string
	verifierHash [sha256.Size]byte
}

type tokenStore struct {
	rdb       redis.UniversalClient
	prefix    string
	salt      []byte
	retention time.Duration
}

func newTokenStore(rdb redis.UniversalClient, prefix string, salt []byte, retention time.Duration) *tokenStore {
	if prefix == "" {
		prefix = "tok"
	}
	return &tokenStore{rdb: rdb, prefix: prefix, salt: salt, retention: retention}
}

func (s *tokenStore) key(jti string) string     { return s.prefix + ":" + jti }
func (s *tokenStore) userKey(uid string) string { return s.prefix + ":u:" + uid }

// verifier digests the salt plus the full signed token. Storing this instead
// of the token means a Redis dump alone cannot replay anyone's credentials.
func (s *tokenStore) verifier(tokenString string) [sha256.Size]byte {
	h := sha256.New()
	h.Write(s.salt)
	h.Write([]byte(tokenString))
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Save records an issued token. The TTL extends past expiry by the retention
// period so a revoked-then-expired token keeps answering "revoked" rather
// than "unknown" for a while.
//
// Performance: 3 Redis commands in one pipeline.
func (s *tokenStore) Save(ctx context.Context, jti, tokenString string, rec *tokenRecord) error {
	rec.verifierHash = s.verifier(tokenString)
	blob, err := encodeTokenRecord(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.expiresAt, 0)) + s.retention
	if ttl <= 0 {
		return fmt.Errorf("token already expired at save: %d", rec.expiresAt)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(jti), blob, ttl)
		pipe.SAdd(ctx, s.userKey(rec.userID), jti)
		pipe.Expire(ctx, s.userKey(rec.userID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return nil
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
func (s *tokenStore) Get(ctx context.Context, jti string) (*tokenRecord, error) {
	blob, err := s.rdb.Get(ctx, s.key(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errTokenRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return decodeTokenRecord(blob)
}

// Check verifies that the presented token string matches the stored record of
// the expected kind, has not been revoked, and is not past its stored expiry
// at the given time. Signature checks belong to the JWT layer; this is the
// store-backed half of validation. Revocation wins over expiry so a
// revoked-then-expired token keeps answering revoked.
//
// Performance: 1 Redis command.
func (s *tokenStore) Check(ctx context.Context, jti, tokenString string, kind byte, now int64) (*tokenRecord, error) {
	rec, err := s.Get(ctx, jti)
	if err != nil {
		return nil, err
	}
	if rec.kind != kind {
		return nil, errTokenKind
	}
	want := s.verifier(tokenString)
	if subtle.ConstantTimeCompare(want[:], rec.verifierHash[:]) != 1 {
		return nil, errTokenVerifier
	}
	if rec.revoked {
		return rec, errTokenRecordRevoked
	}
	if now >= rec.expiresAt {
		return rec, errTokenRecordLapsed
	}
	return rec, nil
}

// Revoke marks the token revoked. Revoking an already-revoked or missing
// token is a no-op; revocation must be safe to repeat.
func (s *tokenStore) Revoke(ctx context.Context, jti string, now int64) error {
	const maxRetries = 4

	key := s.key(jti)
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			blob, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			rec, err := decodeTokenRecord(blob)
			if err != nil {
				return err
			}
			if rec.revoked {
				return nil
			}
			rec.revoked = true
			rec.revokedAt = now

			updated, err := encodeTokenRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return fmt.Errorf("%w: revoke retries exhausted", errTokenBackend)
}

// RevokeAllForUser revokes every live token of the user and reports how many
// records it touched.
//
// ATOMICITY NOTE: tokens are revoked one by one; a token issued concurrently
// with this call may survive it. Callers wanting a hard cut must also stop
// issuing for the user first.
func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string, now int64) (int, error) {
	jtis, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errTokenBackend, err)
	}

	revoked := 0
	for _, jti := range jtis {
		if err := s.Revoke(ctx, jti, now); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

func encodeTokenRecord(rec *tokenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersion)
	buf.WriteByte(rec.kind)
	if rec.revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var fixed [24]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(rec.issuedAt))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(rec.expiresAt))
	binary.BigEndian.PutUint64(fixed[16:24], uint64(rec.revokedAt))
	buf.Write(fixed[:])

	if len(rec.userID) > math.MaxUint16 {
		return nil, fmt.Errorf("token record user ID too long: %d bytes", len(rec.userID))
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(rec.userID)))
	buf.Write(l[:])
	buf.WriteString(rec.userID)

	buf.Write(rec.verifierHash[:])
	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*tokenRecord, error) {
	r := bytes.NewReader(data)

	var head [27]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errTokenBackend)
	}
	if head[0] != tokenRecordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", errTokenBackend, head[0])
	}

	rec := &tokenRecord{
		kind:      head[1],
		revoked:   head[2] == 1,
		issuedAt:  int64(binary.BigEndian.Uint64(head[3:11])),
		expiresAt: int64(binary.BigEndian.Uint64(head[11:19])),
		revokedAt: int64(binary.BigEndian.Uint64(head[19:27])),
	}

	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errTokenBackend)
	}
	b := make([]byte, binary.BigEndian.Uint16(l[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errTokenBackend)
	}
	rec.userID = string(b)

	if _, err := io.ReadFull(r, rec.verifierHash[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errTokenBackend)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", errTokenBackend)
	}
	return rec, nil
}
