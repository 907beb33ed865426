package stepauth

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// AuditEvent defines a public type used by stepauth APIs.
// AuditEvent instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type AuditEvent struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	Success   bool              `json:"success"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events from the engine's dispatcher goroutine. Write is
// called from a single goroutine; implementations must not block for long or
// events will queue up and, with DropIfFull, be dropped.
type Sink interface {
	Write(event AuditEvent)
}

// NoOpSink defines a public type used by stepauth APIs.
// NoOpSink instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type NoOpSink struct{}

// Write describes the write operation and its observable behavior.
func (NoOpSink) Write(AuditEvent) {}

// ChannelSink forwards events to a channel, dropping when it is full. Useful
// for tests and for bridging to an external pipeline.
type ChannelSink struct {
	C chan AuditEvent
}

// NewChannelSink describes the newchannelsink operation and its observable behavior.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan AuditEvent, buffer)}
}

// Write describes the write operation and its observable behavior.
func (s *ChannelSink) Write(event AuditEvent) {
	select {
	case s.C <- event:
	default:
	}
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONWriterSink describes the newjsonwritersink operation and its observable behavior.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

// Write describes the write operation and its observable behavior.
func (s *JSONWriterSink) Write(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// auditErrorCode collapses the error taxonomy into stable audit codes so
// downstream consumers never parse error strings.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrOTPNotFound):
		return "otp_not_found"
	case errors.Is(err, ErrOTPExpired):
		return "otp_expired"
	case errors.Is(err, ErrOTPAlreadyUsed):
		return "otp_already_used"
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return "otp_attempts_exceeded"
	case errors.Is(err, ErrOTPInvalidCode):
		return "otp_invalid_code"
	case errors.Is(err, ErrOTPUnavailable):
		return "otp_unavailable"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrRefreshTokenInvalid):
		return "refresh_token_invalid"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
