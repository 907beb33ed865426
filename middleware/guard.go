package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/lfajardo/stepauth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the validation result injected by
// [RequireAccessToken], if any.
func AuthResultFromContext(ctx context.Context) (*stepauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*stepauth.AuthResult)
	return res, ok
}

// RequireAccessToken wraps next with bearer-token validation. Requests
// without a valid access token get a 401 with a JSON error envelope; valid
// requests proceed with the [stepauth.AuthResult] in the context.
func RequireAccessToken(engine *stepauth.Engine, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "missing_token", "missing bearer token")
			return
		}

		ctx := stepauth.WithClientIP(r.Context(), clientIP(r))
		ctx = stepauth.WithUserAgent(ctx, r.UserAgent())

		result, err := engine.ValidateToken(ctx, token)
		if err != nil {
			unauthorized(w, errorCode(err), "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, authResultContextKey{}, result)))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, stepauth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, stepauth.ErrTokenRevoked):
		return "token_revoked"
	default:
		return "token_invalid"
	}
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="stepauth"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
