package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lfajardo/stepauth/internal"
	"github.com/lfajardo/stepauth/jwt"
	"github.com/lfajardo/stepauth/session"
)

// Login is the first phase of authentication: policy check, password
// verification through the [CredentialGate], then a one-time code challenge
// delivered through the [Notifier]. It never issues tokens; the caller must
// complete the flow with [Engine.VerifyLogin].
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// A policy engine failure degrades gracefully: the attempt is counted and
// audited but the login proceeds. A notifier failure marks the challenge and
// still returns it; the code stays valid.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip := clientIPFromContext(ctx)

	if e.policy != nil {
		pctx, cancel := e.upstreamCtx(ctx)
		decision, err := e.policy.CheckLogin(pctx, email, ip)
		cancel()
		switch {
		case err != nil:
			e.metricInc(MetricPolicyDegraded)
			e.emitAudit(ctx, "policy_degraded", false, "", "", err, func() map[string]string {
				return map[string]string{"identifier": internal.MaskEmail(email)}
			})
		case !decision.Allow:
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, "login_rate_limited", false, "", "", ErrRateLimited, func() map[string]string {
				m := map[string]string{"identifier": internal.MaskEmail(email)}
				if decision.Reason != "" {
					m["reason"] = decision.Reason
				}
				return m
			})
			if decision.RetryAfter > 0 {
				return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, decision.RetryAfter)
			}
			return nil, ErrRateLimited
		}
	}

	gctx, cancel := e.upstreamCtx(ctx)
	profile, err := e.gate.VerifyCredentials(gctx, email, password)
	cancel()
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, "login_failure", false, "", "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"identifier": internal.MaskEmail(email), "stage": "password"}
			})
			return nil, ErrInvalidCredentials
		}
		wrapped := fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login_failure", false, "", "", wrapped, func() map[string]string {
			return map[string]string{"identifier": internal.MaskEmail(email), "stage": "upstream"}
		})
		return nil, wrapped
	}

	channel, recipient, masked, err := e.chooseRecipient(profile)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login_failure", false, profile.UserID, "", err, func() map[string]string {
			return map[string]string{"stage": "recipient"}
		})
		return nil, err
	}

	return e.issueChallenge(ctx, profile.UserID, channel, recipient, masked)
}

// VerifyLogin is the second phase: it consumes the one-time code, re-reads
// the profile, issues an access/refresh token pair, and opens a session bound
// to the access token.
//
// VerifyLogin may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) VerifyLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.consumeChallenge(ctx, challengeID, code)
	if err != nil {
		return nil, err
	}

	// The profile is re-read so role or permission changes made between the
	// two phases land in the issued tokens.
	gctx, cancel := e.upstreamCtx(ctx)
	profile, err := e.gate.GetUserByID(gctx, rec.userID)
	cancel()
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login_failure", false, rec.userID, "", wrapped, func() map[string]string {
			return map[string]string{"stage": "profile"}
		})
		return nil, wrapped
	}

	now := e.now()
	sessionID := uuid.NewString()
	pair, err := e.issueTokenPair(ctx, profile, sessionID, now)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login_failure", false, profile.UserID, "", err, func() map[string]string {
			return map[string]string{"stage": "issue"}
		})
		return nil, err
	}

	sess := &session.Session{
		SessionID:     sessionID,
		UserID:        profile.UserID,
		AccessTokenID: pair.accessID,
		IP:            clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		Active:        true,
		CreatedAt:     now.Unix(),
		LastSeenAt:    now.Unix(),
		ExpiresAt:     now.Add(e.jwt.AccessTTL()).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, e.jwt.AccessTTL()+e.cfg.Token.RetentionTTL); err != nil {
		mapped := mapSessionError(err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login_failure", false, profile.UserID, sessionID, mapped, func() map[string]string {
			return map[string]string{"stage": "session"}
		})
		return nil, mapped
	}
	e.metricInc(MetricSessionCreated)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, "login_success", true, profile.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"challenge_id": challengeID, "access_token_id": pair.accessID}
	})

	return &LoginResult{
		AccessToken:  pair.access,
		RefreshToken: pair.refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.jwt.AccessTTL().Seconds()),
		User:         profile,
	}, nil
}

func (e *Engine) chooseRecipient(profile UserProfile) (Channel, string, string, error) {
	if e.cfg.OTP.DefaultChannel == ChannelSMS && profile.Phone != "" {
		return ChannelSMS, profile.Phone, internal.MaskPhone(profile.Phone), nil
	}
	if profile.Email != "" {
		return ChannelEmail, profile.Email, internal.MaskEmail(profile.Email), nil
	}
	if profile.Phone != "" {
		return ChannelSMS, profile.Phone, internal.MaskPhone(profile.Phone), nil
	}
	return ChannelEmail, "", "", fmt.Errorf("%w: profile has no deliverable recipient", ErrUpstreamUnavailable)
}

type tokenPair struct {
	access    string
	refresh   string
	accessID  string
	refreshID string
}

func (e *Engine) issueTokenPair(ctx context.Context, profile UserProfile, sessionID string, now time.Time) (*tokenPair, error) {
	accessID := uuid.NewString()
	refreshID := uuid.NewString()

	access, err := e.jwt.CreateAccess(jwt.AccessInput{
		UserID:      profile.UserID,
		Username:    profile.Username,
		Role:        profile.Role,
		Permissions: profile.Permissions,
		Team:        profile.Team,
		TokenID:     accessID,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", ErrBackendUnavailable, err)
	}
	refresh, err := e.jwt.CreateRefresh(profile.UserID, profile.Username, refreshID)
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", ErrBackendUnavailable, err)
	}

	err = e.tokens.Save(ctx, accessID, access, &tokenRecord{
		kind:      tokenKindAccess,
		issuedAt:  now.Unix(),
		expiresAt: now.Add(e.jwt.AccessTTL()).Unix(),
		userID:    profile.UserID,
	})
	if err != nil {
		return nil, mapAccessTokenStoreError(err)
	}
	e.metricInc(MetricTokenIssued)

	err = e.tokens.Save(ctx, refreshID, refresh, &tokenRecord{
		kind:      tokenKindRefresh,
		issuedAt:  now.Unix(),
		expiresAt: now.Add(e.jwt.RefreshTTL()).Unix(),
		userID:    profile.UserID,
	})
	if err != nil {
		return nil, mapRefreshTokenStoreError(err)
	}
	e.metricInc(MetricTokenIssued)

	return &tokenPair{
		access:    access,
		refresh:   refresh,
		accessID:  accessID,
		refreshID: refreshID,
	}, nil
}
