package stepauth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// One-time-code record statuses.
const (
	otpStatusPending        byte = 0
	otpStatusSent           byte = 1
	otpStatusValidated      byte = 2
	otpStatusExpired        byte = 3
	otpStatusDeliveryFailed byte = 4
)

// Store-local errors. The engine maps these to the public sentinels.
var (
	errOTPRecordMissing = errors.New("otp record missing")
	errOTPConsumed      = errors.New("otp record already validated")
	errOTPLapsed        = errors.New("otp record lapsed")
	errOTPCapped        = errors.New("otp attempts capped")
	errOTPMismatch      = errors.New("otp code mismatch")
	errOTPBackend       = errors.New("otp backend error")
)

// otpMismatchError is the mismatch variant that carries how many submissions
// the challenge still accepts. It matches errOTPMismatch under errors.Is.
type otpMismatchError struct {
	remaining int
}

func (e *otpMismatchError) Error() string {
	return fmt.Sprintf("otp code mismatch, %d attempts remaining", e.remaining)
}

func (e *otpMismatchError) Is(target error) bool { return target == errOTPMismatch }

// otpRecord binary layout, version 1. Fixed-width fields come first so
// consumeOTPScript can read and patch them at known offsets:
//
//	offset 0      version (1 byte)
//	offset 1      status (1 byte)
//	offset 2      channel (1 byte)
//	offset 3-4    attempts, uint16 big-endian
//	offset 5-6    maxAttempts, uint16 big-endian
//	offset 7-14   createdAt, int64 big-endian
//	offset 15-22  expiresAt, int64 big-endian
//	then          userID, recipient: uint16 big-endian length + bytes
//	tail          codeHash, exactly 32 bytes
const otpRecordVersion = 1

type otpRecord struct {
	status      byte
	channel     Channel
	attempts    uint16
	maxAttempts uint16
	createdAt   int64
	expiresAt   int64
	userID      string
	recipient   string
	codeHash    [sha256.Size]byte
}

// consumeOTPScript is the whole validation state machine in one atomic round
// trip, so the attempt counter and the single-use guarantee hold under
// concurrent submissions of the same challenge.
//
// Replies are {code, attemptsRemaining} pairs: 0 missing, 1 already
// validated, 2 expired, 3 attempts capped, 4 validated, 5 mismatch with
// submissions left. A mismatch that lands exactly on the cap reports capped,
// the same answer every later submission will get. Expiry observed here also
// persists the expired status so later reads agree.
var consumeOTPScript = redis.NewScript(`
local blob = redis.call('GET', KEYS[1])
if not blob then
  return {0, 0}
end
local status = string.byte(blob, 2)
if status == 2 then
  return {1, 0}
end
local exp = 0
for i = 16, 23 do
  exp = exp * 256 + string.byte(blob, i)
end
if status == 3 or tonumber(ARGV[2]) >= exp then
  if status ~= 3 then
    local marked = string.sub(blob, 1, 1) .. string.char(3) .. string.sub(blob, 3)
    redis.call('SET', KEYS[1], marked, 'KEEPTTL')
  end
  return {2, 0}
end
local attempts = string.byte(blob, 4) * 256 + string.byte(blob, 5)
local max = string.byte(blob, 6) * 256 + string.byte(blob, 7)
if attempts >= max then
  return {3, 0}
end
attempts = attempts + 1
local counted = string.sub(blob, 1, 3)
  .. string.char(math.floor(attempts / 256), attempts % 256)
  .. string.sub(blob, 6)
if string.sub(blob, -32) == ARGV[1] then
  local validated = string.sub(counted, 1, 1) .. string.char(2) .. string.sub(counted, 3)
  redis.call('SET', KEYS[1], validated, 'KEEPTTL')
  return {4, 0}
end
redis.call('SET', KEYS[1], counted, 'KEEPTTL')
if attempts >= max then
  return {3, 0}
end
return {5, max - attempts}
`)

// markOTPStatusScript flips the status byte for delivery bookkeeping. It
// refuses to touch records that already reached a terminal validation state.
var markOTPStatusScript = redis.NewScript(`
local blob = redis.call('GET', KEYS[1])
if not blob then
  return 0
end
if string.byte(blob, 2) >= 2 then
  return 2
end
local updated = string.sub(blob, 1, 1) .. ARGV[1] .. string.sub(blob, 3)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return 1
`)

type otpStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

func newOTPStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *otpStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &otpStore{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *otpStore) key(id string) string { return s.prefix + ":" + id }

// hashOTPCode binds the digest to the challenge ID so equal codes on
// different challenges never share a stored hash.
func hashOTPCode(challengeID, code string) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(challengeID))
	h.Write([]byte{0})
	h.Write([]byte(code))
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Create stores a fresh challenge record. The Redis TTL covers the validity
// window plus the retention period, so expired and validated records remain
// readable for auditing until retention lapses.
//
// Performance: 1 Redis command.
func (s *otpStore) Create(ctx context.Context, id string, rec *otpRecord) error {
	blob, err := encodeOTPRecord(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.expiresAt, 0)) + s.retention
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired at creation: %d", rec.expiresAt)
	}
	if err := s.rdb.Set(ctx, s.key(id), blob, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPBackend, err)
	}
	return nil
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
func (s *otpStore) Get(ctx context.Context, id string) (*otpRecord, error) {
	blob, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errOTPRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errOTPBackend, err)
	}
	return decodeOTPRecord(blob)
}

// Consume runs the atomic validation script. On success the record is marked
// validated and retained; every failure path returns one of the store-local
// errors above.
//
// Performance: 1 Redis script call regardless of outcome.
func (s *otpStore) Consume(ctx context.Context, id, code string, now int64) error {
	hash := hashOTPCode(id, code)
	res, err := consumeOTPScript.Run(ctx, s.rdb,
		[]string{s.key(id)}, string(hash[:]), now).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", errOTPBackend, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: unexpected script reply %v", errOTPBackend, res)
	}

	switch res[0] {
	case 0:
		return errOTPRecordMissing
	case 1:
		return errOTPConsumed
	case 2:
		return errOTPLapsed
	case 3:
		return errOTPCapped
	case 4:
		return nil
	case 5:
		return &otpMismatchError{remaining: int(res[1])}
	default:
		return fmt.Errorf("%w: unexpected script reply %d", errOTPBackend, res[0])
	}
}

// MarkSent records successful delivery. No-op for missing or already
// validated records.
func (s *otpStore) MarkSent(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, otpStatusSent)
}

// MarkDeliveryFailed records a delivery failure. The code itself stays
// validatable; the status exists for observability, not gating.
func (s *otpStore) MarkDeliveryFailed(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, otpStatusDeliveryFailed)
}

func (s *otpStore) markStatus(ctx context.Context, id string, status byte) error {
	err := markOTPStatusScript.Run(ctx, s.rdb,
		[]string{s.key(id)}, string([]byte{status})).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", errOTPBackend, err)
	}
	return nil
}

func encodeOTPRecord(rec *otpRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpRecordVersion)
	buf.WriteByte(rec.status)
	buf.WriteByte(byte(rec.channel))

	var fixed [20]byte
	binary.BigEndian.PutUint16(fixed[0:2], rec.attempts)
	binary.BigEndian.PutUint16(fixed[2:4], rec.maxAttempts)
	binary.BigEndian.PutUint64(fixed[4:12], uint64(rec.createdAt))
	binary.BigEndian.PutUint64(fixed[12:20], uint64(rec.expiresAt))
	buf.Write(fixed[:])

	for _, field := range []string{rec.userID, rec.recipient} {
		if len(field) > math.MaxUint16 {
			return nil, fmt.Errorf("otp record field too long: %d bytes", len(field))
		}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(field)))
		buf.Write(l[:])
		buf.WriteString(field)
	}

	buf.Write(rec.codeHash[:])
	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	r := bytes.NewReader(data)

	var head [23]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errOTPBackend)
	}
	if head[0] != otpRecordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", errOTPBackend, head[0])
	}

	rec := &otpRecord{
		status:      head[1],
		channel:     Channel(head[2]),
		attempts:    binary.BigEndian.Uint16(head[3:5]),
		maxAttempts: binary.BigEndian.Uint16(head[5:7]),
		createdAt:   int64(binary.BigEndian.Uint64(head[7:15])),
		expiresAt:   int64(binary.BigEndian.Uint64(head[15:23])),
	}

	for _, dst := range []*string{&rec.userID, &rec.recipient} {
		var l [2]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated record", errOTPBackend)
		}
		b := make([]byte, binary.BigEndian.Uint16(l[:]))
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("%w: truncated record", errOTPBackend)
		}
		*dst = string(b)
	}

	if _, err := io.ReadFull(r, rec.codeHash[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record", errOTPBackend)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", errOTPBackend)
	}
	return rec, nil
}
