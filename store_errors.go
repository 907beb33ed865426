package stepauth

import (
	"errors"
	"fmt"

	"github.com/lfajardo/stepauth/session"
)

// mapOTPStoreError translates store-local one-time-code errors into the
// public sentinels.
func mapOTPStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errOTPRecordMissing):
		return ErrOTPNotFound
	case errors.Is(err, errOTPConsumed):
		return ErrOTPAlreadyUsed
	case errors.Is(err, errOTPLapsed):
		return ErrOTPExpired
	case errors.Is(err, errOTPCapped):
		return ErrOTPAttemptsExceeded
	case errors.Is(err, errOTPMismatch):
		var mismatch *otpMismatchError
		if errors.As(err, &mismatch) {
			return &InvalidCodeError{AttemptsRemaining: mismatch.remaining}
		}
		return ErrOTPInvalidCode
	default:
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
}

// mapAccessTokenStoreError translates store-local token errors for access
// token paths. Missing records and verifier mismatches collapse into the
// generic invalid-token sentinel so callers cannot probe the store.
func mapAccessTokenStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errTokenRecordRevoked):
		return ErrTokenRevoked
	case errors.Is(err, errTokenRecordLapsed):
		return ErrTokenExpired
	case errors.Is(err, errTokenRecordMissing),
		errors.Is(err, errTokenVerifier),
		errors.Is(err, errTokenKind):
		return ErrTokenInvalid
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// mapRefreshTokenStoreError is the refresh-path twin of
// mapAccessTokenStoreError.
func mapRefreshTokenStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errTokenRecordRevoked):
		return ErrTokenRevoked
	case errors.Is(err, errTokenRecordLapsed):
		return ErrTokenExpired
	case errors.Is(err, errTokenRecordMissing),
		errors.Is(err, errTokenVerifier),
		errors.Is(err, errTokenKind):
		return ErrRefreshTokenInvalid
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}
