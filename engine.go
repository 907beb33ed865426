package stepauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lfajardo/stepauth/jwt"
	"github.com/lfajardo/stepauth/session"
)

// Engine defines a public type used by stepauth APIs.
// Engine instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
//
// Construct an Engine through [Builder.Build]; the zero value is not usable.
// All methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	rdb      redis.UniversalClient
	jwt      *jwt.Manager
	otp      *otpStore
	tokens   *tokenStore
	sessions *session.Store

	gate     CredentialGate
	notifier Notifier
	policy   PolicyEngine

	metrics *metricSet
	audit   *auditDispatcher

	timeSource func() time.Time
}

func (e *Engine) ready() error {
	if e == nil || e.rdb == nil || e.jwt == nil || e.gate == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.timeSource()
}

// upstreamCtx bounds calls into collaborators so a hung gate, notifier, or
// policy backend cannot stall the authentication path indefinitely.
func (e *Engine) upstreamCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.Security.UpstreamTimeout)
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.inc(id)
}

// Close flushes the audit dispatcher. Call it during shutdown; Engine methods
// called after Close still work but their audit events are dropped.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.close()
	}
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full or the engine was closed.
func (e *Engine) AuditDropped() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.droppedCount()
}

// Sessions lists the user's active, unexpired sessions.
//
// Sessions may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	active, err := e.sessions.ActiveForUser(ctx, userID, e.now().Unix())
	if err != nil {
		return nil, mapSessionError(err)
	}

	infos := make([]SessionInfo, 0, len(active))
	for _, s := range active {
		infos = append(infos, SessionInfo{
			SessionID:     s.SessionID,
			UserID:        s.UserID,
			AccessTokenID: s.AccessTokenID,
			IP:            s.IP,
			UserAgent:     s.UserAgent,
			Active:        s.Active,
			CreatedAt:     time.Unix(s.CreatedAt, 0),
			LastSeenAt:    time.Unix(s.LastSeenAt, 0),
			ExpiresAt:     time.Unix(s.ExpiresAt, 0),
		})
	}
	return infos, nil
}
