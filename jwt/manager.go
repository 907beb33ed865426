package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type values carried in the "token_type" claim.
const (
	// TypeAccess is an exported constant or variable used by the authentication engine.
	TypeAccess = "access"
	// TypeRefresh is an exported constant or variable used by the authentication engine.
	TypeRefresh = "refresh"
)

var (
	// ErrExpired is an exported constant or variable used by the authentication engine.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is an exported constant or variable used by the authentication engine.
	ErrInvalid = errors.New("token invalid")
)

// Claims defines a public type used by stepauth APIs.
// Claims instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Team        string   `json:"team,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// AccessInput carries the profile fields minted into an access token.
type AccessInput struct {
	UserID      string
	Username    string
	Role        string
	Permissions []string
	Team        string
	TokenID     string
	SessionID   string
}

// Config defines a public type used by stepauth APIs.
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	// SigningMethod selects the algorithm: "HS256" or "EdDSA".
	SigningMethod string

	// PrivateKey is the HMAC secret (HS256) or the Ed25519 private key
	// (EdDSA), raw 64-byte seed+public form or PEM.
	PrivateKey []byte

	// PublicKey is the Ed25519 verification key for EdDSA, raw 32 bytes or
	// PEM. Ignored for HS256.
	PublicKey []byte

	// KeyID, when set, is stamped into the "kid" header of issued tokens.
	KeyID string

	// VerifyKeys maps key IDs to additional verification keys so tokens
	// issued under rotated-out keys keep validating.
	VerifyKeys map[string][]byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Issuer   string
	Audience string

	// Leeway is applied to exp/nbf/iat comparisons.
	Leeway time.Duration

	// RequireIAT rejects tokens without an "iat" claim.
	RequireIAT bool

	// MaxFutureIAT rejects tokens whose "iat" lies further than this in the
	// future. Zero disables the check.
	MaxFutureIAT time.Duration

	// TimeSource supplies the clock for both issuing and validating tokens,
	// so signature expiry and any store-side expiry checks agree. Defaults
	// to time.Now.
	TimeSource func() time.Time
}

// Manager defines a public type used by stepauth APIs.
// Manager instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Manager struct {
	cfg        Config
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	extraKeys  map[string]any
	parser     *jwt.Parser
	timeSource func() time.Time
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: AccessTTL must be positive")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: RefreshTTL must be positive")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("jwt: Leeway must not be negative")
	}

	m := &Manager{cfg: cfg, timeSource: time.Now}
	if cfg.TimeSource != nil {
		m.timeSource = cfg.TimeSource
	}

	switch cfg.SigningMethod {
	case "HS256", "":
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("jwt: HS256 requires a secret of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
	case "EdDSA":
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("jwt: private key: %w", err)
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt: public key: %w", err)
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = pub
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.extraKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			key, err := m.parseVerifyKey(raw)
			if err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
			m.extraKeys[kid] = key
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return m.timeSource() }),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// AccessTTL describes the accessttl operation and its observable behavior.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL describes the refreshttl operation and its observable behavior.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// CreateAccess describes the createaccess operation and its observable behavior.
//
// CreateAccess may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) CreateAccess(in AccessInput) (string, error) {
	now := m.timeSource()
	claims := Claims{
		Username:    in.Username,
		Role:        in.Role,
		Permissions: in.Permissions,
		Team:        in.Team,
		SessionID:   in.SessionID,
		TokenType:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.UserID,
			ID:        in.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	return m.sign(claims)
}

// CreateRefresh describes the createrefresh operation and its observable behavior.
//
// CreateRefresh may return an error when input validation, dependency calls, or security checks fail.
// The refresh token intentionally carries no role or permission claims; a
// refresh exchange re-reads the profile before minting a new access token.
func (m *Manager) CreateRefresh(userID, username, tokenID string) (string, error) {
	now := m.timeSource()
	claims := Claims{
		Username:  username,
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.RefreshTTL)),
		},
	}
	return m.sign(claims)
}

func (m *Manager) sign(claims Claims) (string, error) {
	if m.cfg.Issuer != "" {
		claims.Issuer = m.cfg.Issuer
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	tok := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		tok.Header["kid"] = m.cfg.KeyID
	}

	signed, err := tok.SignedString(m.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse describes the parse operation and its observable behavior.
//
// Parse may return an error when input validation, dependency calls, or security checks fail.
// Expired tokens fail with [ErrExpired]; every other verification failure maps
// to [ErrInvalid].
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if m.cfg.MaxFutureIAT > 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(m.timeSource().Add(m.cfg.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
		}
	}

	return claims, nil
}

func (m *Manager) keyFunc(tok *jwt.Token) (any, error) {
	kid, _ := tok.Header["kid"].(string)
	if kid == "" || kid == m.cfg.KeyID {
		return m.verifyKey, nil
	}
	if key, ok := m.extraKeys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (m *Manager) parseVerifyKey(raw []byte) (any, error) {
	if m.method == jwt.SigningMethodHS256 {
		if len(raw) < 32 {
			return nil, errors.New("HS256 verify key shorter than 32 bytes")
		}
		return raw, nil
	}
	return parseEdPublicKey(raw)
}

func parseEdPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing key material")
	}
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	if len(raw) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(raw), nil
	}

	key, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("PEM block is not an Ed25519 private key")
	}
	return priv, nil
}

func parseEdPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing key material")
	}
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}

	key, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("PEM block is not an Ed25519 public key")
	}
	return pub, nil
}
