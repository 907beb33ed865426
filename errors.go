package stepauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("too many login attempts")
	// ErrOTPNotFound is an exported constant or variable used by the authentication engine.
	ErrOTPNotFound = errors.New("one-time code not found")
	// ErrOTPExpired is an exported constant or variable used by the authentication engine.
	ErrOTPExpired = errors.New("one-time code expired")
	// ErrOTPAlreadyUsed is an exported constant or variable used by the authentication engine.
	ErrOTPAlreadyUsed = errors.New("one-time code already used")
	// ErrOTPAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrOTPAttemptsExceeded = errors.New("one-time code attempts exceeded")
	// ErrOTPInvalidCode is an exported constant or variable used by the authentication engine.
	ErrOTPInvalidCode = errors.New("one-time code mismatch")
	// ErrOTPUnavailable is an exported constant or variable used by the authentication engine.
	ErrOTPUnavailable = errors.New("one-time code backend unavailable")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUpstreamUnavailable is an exported constant or variable used by the authentication engine.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// InvalidCodeError defines a public type used by stepauth APIs.
// InvalidCodeError instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
//
// InvalidCodeError reports a one-time code mismatch together with how many
// submissions the challenge still accepts. It matches [ErrOTPInvalidCode]
// under errors.Is; callers wanting the count use errors.As.
type InvalidCodeError struct {
	AttemptsRemaining int
}

// Error describes the error operation and its observable behavior.
func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%v, %d attempts remaining", ErrOTPInvalidCode, e.AttemptsRemaining)
}

// Is describes the is operation and its observable behavior.
func (e *InvalidCodeError) Is(target error) bool { return target == ErrOTPInvalidCode }
