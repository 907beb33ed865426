package stepauth

import (
	"errors"
	"fmt"
	"time"
)

// JWTConfig defines a public type used by stepauth APIs.
// JWTConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type JWTConfig struct {
	// SigningMethod is "HS256" or "EdDSA". Production mode requires EdDSA.
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Issuer   string
	Audience string

	Leeway       time.Duration
	RequireIAT   bool
	MaxFutureIAT time.Duration
}

// OTPConfig defines a public type used by stepauth APIs.
// OTPConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type OTPConfig struct {
	// CodeLength is the number of decimal digits in a one-time code.
	CodeLength int

	// TTL is the validity window of a challenge.
	TTL time.Duration

	// MaxAttempts caps submissions per challenge, counting mismatches.
	MaxAttempts int

	// RetentionTTL keeps validated and expired challenge records readable
	// after the validity window, for auditing.
	RetentionTTL time.Duration

	// DefaultChannel is used when the profile offers both email and phone.
	DefaultChannel Channel

	KeyPrefix string
}

// TokenConfig defines a public type used by stepauth APIs.
// TokenConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type TokenConfig struct {
	// VerifierSalt is mixed into the stored token digest. Required, at
	// least 16 bytes. Rotating it invalidates all outstanding tokens.
	VerifierSalt []byte

	// RetentionTTL keeps revoked records past token expiry so they answer
	// "revoked" instead of "unknown".
	RetentionTTL time.Duration

	KeyPrefix string
}

// SessionConfig defines a public type used by stepauth APIs.
// SessionConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type SessionConfig struct {
	KeyPrefix string
}

// AuditConfig defines a public type used by stepauth APIs.
// AuditConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// DropIfFull drops events when the dispatch buffer is full instead of
	// blocking the authentication path. Dropped events are counted.
	DropIfFull bool
}

// MetricsConfig defines a public type used by stepauth APIs.
// MetricsConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

// SecurityConfig defines a public type used by stepauth APIs.
// SecurityConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type SecurityConfig struct {
	// ProductionMode tightens validation: EdDSA signing, audit enabled,
	// and no code exposure.
	ProductionMode bool

	// ExposeOTPCodes echoes the raw one-time code in LoginChallenge for
	// development setups without a real notifier. Rejected in production
	// mode.
	ExposeOTPCodes bool

	// UpstreamTimeout bounds every call into the CredentialGate, Notifier,
	// and PolicyEngine.
	UpstreamTimeout time.Duration
}

// Config defines a public type used by stepauth APIs.
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	JWT      JWTConfig
	OTP      OTPConfig
	Token    TokenConfig
	Session  SessionConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

// DefaultConfig describes the defaultconfig operation and its observable behavior.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "HS256",
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Leeway:        30 * time.Second,
		},
		OTP: OTPConfig{
			CodeLength:     6,
			TTL:            5 * time.Minute,
			MaxAttempts:    3,
			RetentionTTL:   24 * time.Hour,
			DefaultChannel: ChannelEmail,
			KeyPrefix:      "otp",
		},
		Token: TokenConfig{
			RetentionTTL: 24 * time.Hour,
			KeyPrefix:    "tok",
		},
		Session: SessionConfig{
			KeyPrefix: "sess",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			UpstreamTimeout: 5 * time.Second,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: JWT.RefreshTTL must exceed JWT.AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "HS256", "EdDSA", "":
	default:
		return fmt.Errorf("config: unsupported JWT.SigningMethod %q", c.JWT.SigningMethod)
	}

	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		return fmt.Errorf("config: OTP.CodeLength must be between 4 and 10, got %d", c.OTP.CodeLength)
	}
	if c.OTP.TTL <= 0 {
		return errors.New("config: OTP.TTL must be positive")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 100 {
		return fmt.Errorf("config: OTP.MaxAttempts must be between 1 and 100, got %d", c.OTP.MaxAttempts)
	}
	if c.OTP.RetentionTTL < 0 {
		return errors.New("config: OTP.RetentionTTL must not be negative")
	}

	if len(c.Token.VerifierSalt) < 16 {
		return errors.New("config: Token.VerifierSalt must be at least 16 bytes")
	}
	if c.Token.RetentionTTL < 0 {
		return errors.New("config: Token.RetentionTTL must not be negative")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("config: Audit.BufferSize must be positive when audit is enabled")
	}
	if c.Security.UpstreamTimeout <= 0 {
		return errors.New("config: Security.UpstreamTimeout must be positive")
	}

	if c.Security.ProductionMode {
		if c.JWT.SigningMethod != "EdDSA" {
			return errors.New("config: production mode requires EdDSA signing")
		}
		if c.Security.ExposeOTPCodes {
			return errors.New("config: production mode forbids Security.ExposeOTPCodes")
		}
		if !c.Audit.Enabled {
			return errors.New("config: production mode requires audit to be enabled")
		}
	}
	return nil
}

// cloneConfig deep-copies the mutable parts so callers cannot alter an
// engine's configuration after Build.
func cloneConfig(c Config) Config {
	out := c
	out.JWT.PrivateKey = cloneBytes(c.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(c.JWT.PublicKey)
	out.Token.VerifierSalt = cloneBytes(c.Token.VerifierSalt)
	if c.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(c.JWT.VerifyKeys))
		for kid, key := range c.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
