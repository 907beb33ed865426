package stepauth

import (
	"context"
	"errors"

	"github.com/lfajardo/stepauth/jwt"
)

// ValidateToken is the hot path: it verifies the access token's signature and
// claims, confirms against the store that the token was issued here and is
// not revoked, and returns the claims projection. The bound session's
// last-seen timestamp is refreshed best effort; a session store hiccup never
// fails an otherwise valid token.
//
// ValidateToken may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ValidateToken(ctx context.Context, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := e.now()
	defer func() {
		e.metrics.observeValidate(e.now().Sub(start))
	}()

	claims, err := e.jwt.Parse(accessToken)
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, jwt.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.metricInc(MetricValidateFailure)
		e.emitAudit(ctx, "validate_failure", false, "", "", mapped, nil)
		return nil, mapped
	}
	if claims.TokenType != jwt.TypeAccess {
		e.metricInc(MetricValidateFailure)
		e.emitAudit(ctx, "validate_failure", false, claims.Subject, "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"token_type": claims.TokenType}
		})
		return nil, ErrTokenInvalid
	}

	if _, err := e.tokens.Check(ctx, claims.ID, accessToken, tokenKindAccess, e.now().Unix()); err != nil {
		mapped := mapAccessTokenStoreError(err)
		e.metricInc(MetricValidateFailure)
		e.emitAudit(ctx, "validate_failure", false, claims.Subject, claims.SessionID, mapped, func() map[string]string {
			return map[string]string{"access_token_id": claims.ID}
		})
		return nil, mapped
	}

	if claims.SessionID != "" {
		// Best effort only. Validation stays correct even if the touch is
		// lost or the session is already gone.
		_, _ = e.sessions.Touch(ctx, claims.SessionID, e.now().Unix())
	}

	e.metricInc(MetricValidateSuccess)

	result := &AuthResult{
		UserID:      claims.Subject,
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		Team:        claims.Team,
		TokenID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
