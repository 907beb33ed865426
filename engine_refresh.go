package stepauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lfajardo/stepauth/jwt"
)

// Refresh exchanges a live refresh token for a new access token. The refresh
// token itself is returned unchanged and stays valid until it expires or is
// revoked; there is no rotation on exchange.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// If the [CredentialGate] is unreachable, the new access token is minted from
// the refresh claims instead: correct subject and username, but no role,
// permissions, or team until the gate is back.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.jwt.Parse(refreshToken)
	if err != nil {
		mapped := ErrRefreshTokenInvalid
		if errors.Is(err, jwt.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_invalid", false, "", "", mapped, nil)
		return nil, mapped
	}
	if claims.TokenType != jwt.TypeRefresh {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_invalid", false, claims.Subject, "", ErrRefreshTokenInvalid, func() map[string]string {
			return map[string]string{"token_type": claims.TokenType}
		})
		return nil, ErrRefreshTokenInvalid
	}

	if _, err := e.tokens.Check(ctx, claims.ID, refreshToken, tokenKindRefresh, e.now().Unix()); err != nil {
		mapped := mapRefreshTokenStoreError(err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_invalid", false, claims.Subject, "", mapped, func() map[string]string {
			return map[string]string{"refresh_token_id": claims.ID}
		})
		return nil, mapped
	}

	profile, degraded := e.refreshProfile(ctx, claims)

	now := e.now()
	accessID := uuid.NewString()
	access, err := e.jwt.CreateAccess(jwt.AccessInput{
		UserID:      profile.UserID,
		Username:    profile.Username,
		Role:        profile.Role,
		Permissions: profile.Permissions,
		Team:        profile.Team,
		TokenID:     accessID,
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: sign access token: %v", ErrBackendUnavailable, err)
	}

	err = e.tokens.Save(ctx, accessID, access, &tokenRecord{
		kind:      tokenKindAccess,
		issuedAt:  now.Unix(),
		expiresAt: now.Add(e.jwt.AccessTTL()).Unix(),
		userID:    profile.UserID,
	})
	if err != nil {
		mapped := mapAccessTokenStoreError(err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_invalid", false, profile.UserID, "", mapped, nil)
		return nil, mapped
	}
	e.metricInc(MetricTokenIssued)

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, "refresh_success", true, profile.UserID, "", nil, func() map[string]string {
		m := map[string]string{
			"refresh_token_id": claims.ID,
			"access_token_id":  accessID,
		}
		if degraded {
			m["degraded"] = "true"
		}
		return m
	})

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.jwt.AccessTTL().Seconds()),
	}, nil
}

// refreshProfile re-reads the profile for a refresh exchange, falling back to
// the refresh claims when the gate is down.
func (e *Engine) refreshProfile(ctx context.Context, claims *jwt.Claims) (UserProfile, bool) {
	gctx, cancel := e.upstreamCtx(ctx)
	profile, err := e.gate.GetUserByID(gctx, claims.Subject)
	cancel()
	if err == nil {
		return profile, false
	}
	return UserProfile{
		UserID:   claims.Subject,
		Username: claims.Username,
	}, true
}
