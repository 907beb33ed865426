package stepauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lfajardo/stepauth/jwt"
	"github.com/lfajardo/stepauth/session"
)

// Builder defines a public type used by stepauth APIs.
// Builder instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
//
// Builder assembles an [Engine]. Redis client and [CredentialGate] are
// required; everything else has a sensible default. Builder methods only
// record inputs; no I/O happens before Build.
type Builder struct {
	cfg        Config
	cfgSet     bool
	rdb        redis.UniversalClient
	gate       CredentialGate
	notifier   Notifier
	policy     PolicyEngine
	sink       Sink
	timeSource func() time.Time
}

// NewBuilder describes the newbuilder operation and its observable behavior.
func NewBuilder() *Builder {
	return &Builder{timeSource: time.Now}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

// WithCredentialGate describes the withcredentialgate operation and its observable behavior.
func (b *Builder) WithCredentialGate(gate CredentialGate) *Builder {
	b.gate = gate
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithPolicyEngine describes the withpolicyengine operation and its observable behavior.
func (b *Builder) WithPolicyEngine(p PolicyEngine) *Builder {
	b.policy = p
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(s Sink) *Builder {
	b.sink = s
	return b
}

// withTimeSource lets tests pin the clock.
func (b *Builder) withTimeSource(now func() time.Time) *Builder {
	b.timeSource = now
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Engine, error) {
	if b.rdb == nil {
		return nil, errors.New("stepauth: a Redis client is required")
	}
	if b.gate == nil {
		return nil, errors.New("stepauth: a CredentialGate is required")
	}

	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cloneConfig(cfg)

	manager, err := jwt.NewManager(jwt.Config{
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    cfg.JWT.RequireIAT,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		TimeSource:    b.timeSource,
	})
	if err != nil {
		return nil, fmt.Errorf("stepauth: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		rdb:        b.rdb,
		jwt:        manager,
		otp:        newOTPStore(b.rdb, cfg.OTP.KeyPrefix, cfg.OTP.RetentionTTL),
		tokens:     newTokenStore(b.rdb, cfg.Token.KeyPrefix, cfg.Token.VerifierSalt, cfg.Token.RetentionTTL),
		sessions:   session.NewStore(b.rdb, cfg.Session.KeyPrefix),
		gate:       b.gate,
		notifier:   b.notifier,
		policy:     b.policy,
		metrics:    &metricSet{enabled: cfg.Metrics.Enabled},
		timeSource: b.timeSource,
	}
	if e.timeSource == nil {
		e.timeSource = time.Now
	}

	if cfg.Audit.Enabled {
		sink := b.sink
		if sink == nil {
			sink = NoOpSink{}
		}
		e.audit = newAuditDispatcher(sink, cfg.Audit.BufferSize, cfg.Audit.DropIfFull)
	}

	return e, nil
}
