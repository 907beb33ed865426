package stepauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/lfajardo/stepauth/internal"
)

// GenerateOTP issues a standalone one-time code challenge for an already
// identified user, outside the login flow. The caller names the channel and
// the recipient; delivery failures are non-fatal, as in [Engine.Login].
//
// GenerateOTP may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) GenerateOTP(ctx context.Context, userID string, channel Channel, recipient string) (*LoginChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.New("stepauth: a user ID is required")
	}
	if recipient == "" {
		return nil, errors.New("stepauth: a recipient is required")
	}

	masked := internal.MaskEmail(recipient)
	if channel == ChannelSMS {
		masked = internal.MaskPhone(recipient)
	}
	return e.issueChallenge(ctx, userID, channel, recipient, masked)
}

// OTPResult is returned by [Engine.ValidateOTP] and names the user the
// consumed challenge belonged to.
type OTPResult struct {
	UserID  string
	Channel string
}

// ValidateOTP consumes a standalone challenge. The error taxonomy matches the
// code phase of [Engine.VerifyLogin]; a mismatch is an [InvalidCodeError]
// carrying the submissions left.
//
// ValidateOTP may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ValidateOTP(ctx context.Context, challengeID, code string) (*OTPResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.consumeChallenge(ctx, challengeID, code)
	if err != nil {
		return nil, err
	}
	return &OTPResult{
		UserID:  rec.userID,
		Channel: rec.channel.String(),
	}, nil
}

// issueChallenge creates, persists, and delivers a one-time code challenge.
// Shared by Login and GenerateOTP.
func (e *Engine) issueChallenge(ctx context.Context, userID string, channel Channel, recipient, masked string) (*LoginChallenge, error) {
	code, err := internal.NumericCode(e.cfg.OTP.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	challengeID := uuid.NewString()
	now := e.now()
	rec := &otpRecord{
		status:      otpStatusPending,
		channel:     channel,
		maxAttempts: uint16(e.cfg.OTP.MaxAttempts),
		createdAt:   now.Unix(),
		expiresAt:   now.Add(e.cfg.OTP.TTL).Unix(),
		userID:      userID,
		recipient:   recipient,
		codeHash:    hashOTPCode(challengeID, code),
	}
	if err := e.otp.Create(ctx, challengeID, rec); err != nil {
		mapped := mapOTPStoreError(err)
		e.emitAudit(ctx, "otp_failure", false, userID, "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, "otp_issued", true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"challenge_id": challengeID,
			"channel":      channel.String(),
			"recipient":    masked,
		}
	})

	if e.notifier != nil {
		nctx, cancel := e.upstreamCtx(ctx)
		deliverErr := e.notifier.Deliver(nctx, channel, recipient, code)
		cancel()
		if deliverErr != nil {
			// The challenge stays valid; a flaky mail relay must not lock
			// users out. The status byte records the failure.
			_ = e.otp.MarkDeliveryFailed(ctx, challengeID)
			e.metricInc(MetricOTPDeliveryFailed)
			e.emitAudit(ctx, "otp_delivery_failed", false, userID, "", deliverErr, func() map[string]string {
				return map[string]string{"challenge_id": challengeID, "channel": channel.String()}
			})
		} else {
			_ = e.otp.MarkSent(ctx, challengeID)
		}
	}

	challenge := &LoginChallenge{
		ChallengeID:     challengeID,
		Channel:         channel.String(),
		MaskedRecipient: masked,
		ExpiresIn:       int64(e.cfg.OTP.TTL.Seconds()),
	}
	if e.cfg.Security.ExposeOTPCodes && !e.cfg.Security.ProductionMode {
		challenge.DebugCode = code
	}
	return challenge, nil
}

// consumeChallenge runs the atomic code validation with its metrics and audit
// trail and returns the stored record on success. Shared by VerifyLogin and
// ValidateOTP.
func (e *Engine) consumeChallenge(ctx context.Context, challengeID, code string) (*otpRecord, error) {
	if err := e.otp.Consume(ctx, challengeID, code, e.now().Unix()); err != nil {
		mapped := mapOTPStoreError(err)
		switch {
		case errors.Is(mapped, ErrOTPExpired):
			e.metricInc(MetricOTPExpired)
		case errors.Is(mapped, ErrOTPAttemptsExceeded):
			e.metricInc(MetricOTPAttemptsExceeded)
		case errors.Is(mapped, ErrOTPUnavailable):
		default:
			e.metricInc(MetricOTPInvalid)
		}
		e.emitAudit(ctx, "otp_failure", false, "", "", mapped, func() map[string]string {
			m := map[string]string{"challenge_id": challengeID}
			var mismatch *InvalidCodeError
			if errors.As(mapped, &mismatch) {
				m["attempts_remaining"] = strconv.Itoa(mismatch.AttemptsRemaining)
			}
			return m
		})
		return nil, mapped
	}

	rec, err := e.otp.Get(ctx, challengeID)
	if err != nil {
		return nil, mapOTPStoreError(err)
	}

	e.metricInc(MetricOTPValidated)
	e.emitAudit(ctx, "otp_validated", true, rec.userID, "", nil, func() map[string]string {
		return map[string]string{"challenge_id": challengeID, "channel": rec.channel.String()}
	})
	return rec, nil
}
