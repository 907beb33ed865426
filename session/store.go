package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is an exported constant or variable used by the authentication engine.
	ErrNotFound = errors.New("session: not found")
	// ErrBackend is an exported constant or variable used by the authentication engine.
	ErrBackend = errors.New("session: backend unavailable")
)

// touchScript patches lastSeenAt (bytes 11-18, Lua is 1-indexed) in place and
// keeps the existing TTL. Returns 0 when missing, 2 when already ended.
var touchScript = redis.NewScript(`
local blob = redis.call('GET', KEYS[1])
if not blob then
  return 0
end
if string.byte(blob, 2) == 0 then
  return 2
end
local updated = string.sub(blob, 1, 10) .. ARGV[1] .. string.sub(blob, 19)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return 1
`)

// endScript clears the active flag (byte 2) and keeps the record and its TTL
// so the session still shows up, inactive, in device listings.
var endScript = redis.NewScript(`
local blob = redis.call('GET', KEYS[1])
if not blob then
  return 0
end
if string.byte(blob, 2) == 0 then
  return 2
end
local updated = string.sub(blob, 1, 1) .. string.char(0) .. string.sub(blob, 3)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return 1
`)

// deleteScript removes the record and its user-index entry in one round trip.
var deleteScript = redis.NewScript(`
local removed = redis.call('DEL', KEYS[1])
if removed == 1 then
  redis.call('SREM', KEYS[2], ARGV[1])
end
return removed
`)

// Store defines a public type used by stepauth APIs.
// Store instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore describes the newstore operation and its observable behavior.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(id string) string      { return s.prefix + ":" + id }
func (s *Store) userKey(uid string) string { return s.prefix + ":u:" + uid }

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
//
// Performance: 3 Redis commands in one pipeline (SET, SADD, EXPIRE).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %v", ttl)
	}
	blob, err := encodeSession(sess)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), blob, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		// The index must outlive its longest member; refreshing on every
		// save keeps it bounded without tracking per-member deadlines.
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	blob, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decodeSession(blob)
}

// ForUser returns every tracked session for the user, active or not.
// Index entries whose record already expired are pruned on the way.
//
// Performance: 1 SMEMBERS plus one pipelined GET per session.
func (s *Store) ForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	pipe := s.rdb.Pipeline()
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		blob, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		sess, err := decodeSession(blob)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if len(stale) > 0 {
		// Best effort. A failed prune only leaves dead IDs for next time.
		s.rdb.SRem(ctx, s.userKey(userID), stale...)
	}
	return sessions, nil
}

// ActiveForUser returns only sessions that are active and unexpired as of now.
func (s *Store) ActiveForUser(ctx context.Context, userID string, now int64) ([]*Session, error) {
	all, err := s.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sess := range all {
		if sess.Active && !sess.Expired(now) {
			active = append(active, sess)
		}
	}
	return active, nil
}

// Touch updates lastSeenAt without changing the TTL. Ended or missing
// sessions are left alone; neither case is an error for the caller's hot
// path, so Touch reports them via the bool.
//
// Performance: 1 Redis script call.
func (s *Store) Touch(ctx context.Context, sessionID string, now int64) (bool, error) {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))

	res, err := touchScript.Run(ctx, s.rdb, []string{s.key(sessionID)}, string(ts[:])).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res == 1, nil
}

// End marks the session inactive, keeping the record until its TTL expires.
// Ending an already-ended session is a no-op; a missing session returns
// [ErrNotFound].
//
// Performance: 1 Redis script call.
func (s *Store) End(ctx context.Context, sessionID string) error {
	res, err := endScript.Run(ctx, s.rdb, []string{s.key(sessionID)}).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// EndAllForUser ends every session of the user and reports how many flipped
// from active to ended.
//
// ATOMICITY NOTE: sessions are ended one by one; a session created
// concurrently with this call may survive it. Callers that need a hard cut
// must also revoke the user's tokens.
func (s *Store) EndAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	ended := 0
	for _, id := range ids {
		res, err := endScript.Run(ctx, s.rdb, []string{s.key(id)}).Int()
		if err != nil {
			return ended, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if res == 1 {
			ended++
		}
	}
	return ended, nil
}

// EndForAccessToken ends the user's sessions bound to the given access token
// ID and reports how many were ended.
func (s *Store) EndForAccessToken(ctx context.Context, userID, accessTokenID string) (int, error) {
	all, err := s.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, sess := range all {
		if sess.AccessTokenID != accessTokenID || !sess.Active {
			continue
		}
		if err := s.End(ctx, sess.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
			return ended, err
		}
		ended++
	}
	return ended, nil
}

// Delete removes the session record and its index entry immediately.
//
// Performance: 1 Redis script call.
func (s *Store) Delete(ctx context.Context, sessionID, userID string) error {
	res, err := deleteScript.Run(ctx, s.rdb,
		[]string{s.key(sessionID), s.userKey(userID)}, sessionID).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}
