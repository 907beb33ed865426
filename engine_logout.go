package stepauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/lfajardo/stepauth/jwt"
)

// Logout revokes the presented access token and ends the sessions bound to
// it. Other sessions and the refresh token survive; a client that wants a
// full sign-out everywhere uses [Engine.LogoutAll].
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logging out twice with the same token succeeds both times; revocation is
// idempotent.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.jwt.Parse(accessToken)
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, jwt.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.emitAudit(ctx, "logout", false, "", "", mapped, nil)
		return mapped
	}
	if claims.TokenType != jwt.TypeAccess {
		e.emitAudit(ctx, "logout", false, claims.Subject, "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"token_type": claims.TokenType}
		})
		return ErrTokenInvalid
	}

	if err := e.tokens.Revoke(ctx, claims.ID, e.now().Unix()); err != nil {
		mapped := mapAccessTokenStoreError(err)
		e.emitAudit(ctx, "logout", false, claims.Subject, claims.SessionID, mapped, nil)
		return mapped
	}
	e.metricInc(MetricTokenRevoked)

	ended, err := e.sessions.EndForAccessToken(ctx, claims.Subject, claims.ID)
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, "logout", false, claims.Subject, claims.SessionID, mapped, nil)
		return mapped
	}
	for i := 0; i < ended; i++ {
		e.metricInc(MetricSessionEnded)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, "logout", true, claims.Subject, claims.SessionID, nil, func() map[string]string {
		return map[string]string{"access_token_id": claims.ID}
	})
	return nil
}

// LogoutAll revokes every outstanding token of the user and ends all of their
// sessions. Intended for password changes and compromise response.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	revoked, err := e.tokens.RevokeAllForUser(ctx, userID, e.now().Unix())
	if err != nil {
		mapped := mapAccessTokenStoreError(err)
		e.emitAudit(ctx, "logout_all", false, userID, "", mapped, nil)
		return mapped
	}
	e.metricInc(MetricTokensRevokedAll)

	ended, err := e.sessions.EndAllForUser(ctx, userID)
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, "logout_all", false, userID, "", mapped, nil)
		return mapped
	}
	for i := 0; i < ended; i++ {
		e.metricInc(MetricSessionEnded)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, "logout_all", true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"tokens_revoked": strconv.Itoa(revoked),
			"sessions_ended": strconv.Itoa(ended),
		}
	})
	return nil
}
