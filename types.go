package stepauth

import (
	"context"
	"time"
)

// Channel identifies the delivery channel for a one-time login code.
type Channel uint8

const (
	// ChannelEmail is an exported constant or variable used by the authentication engine.
	ChannelEmail Channel = iota
	// ChannelSMS is an exported constant or variable used by the authentication engine.
	ChannelSMS
)

// String describes the string operation and its observable behavior.
//
// String may return an error when input validation, dependency calls, or security checks fail.
// String does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Channel) String() string {
	switch c {
	case ChannelSMS:
		return "sms"
	default:
		return "email"
	}
}

// UserProfile is the account projection served by the [CredentialGate].
// The engine copies its fields into token claims verbatim; it never stores
// profiles itself.
type UserProfile struct {
	UserID      string
	Username    string
	Email       string
	Phone       string
	Role        string
	Permissions []string
	Team        string
}

// CredentialGate is the primary collaborator interface. Implementations own
// credential verification and profile lookup; password material never crosses
// into the engine.
//
// VerifyCredentials must return [ErrInvalidCredentials] (possibly wrapped) on
// identifier/password mismatch. Any other error is treated as upstream
// unavailability.
type CredentialGate interface {
	VerifyCredentials(ctx context.Context, email, password string) (UserProfile, error)
	GetUserByID(ctx context.Context, userID string) (UserProfile, error)
	GetUserByEmail(ctx context.Context, email string) (UserProfile, error)
}

// Notifier delivers one-time codes to the end user. A delivery failure marks
// the challenge record but never fails the login flow.
type Notifier interface {
	Deliver(ctx context.Context, channel Channel, recipient, code string) error
}

// PolicyDecision is the outcome of a [PolicyEngine] check. RetryAfter is
// advisory and may be zero.
type PolicyDecision struct {
	Allow      bool
	Reason     string
	RetryAfter time.Duration
}

// PolicyEngine is consulted before credential verification. A nil engine or a
// check that fails with an error degrades gracefully: the login proceeds and
// the degradation is logged, audited, and counted. Only an explicit
// Allow=false decision blocks the login.
type PolicyEngine interface {
	CheckLogin(ctx context.Context, email, ip string) (PolicyDecision, error)
}

// LoginChallenge is returned by [Engine.Login] after credentials pass. The
// caller completes the flow with [Engine.VerifyLogin].
type LoginChallenge struct {
	ChallengeID     string
	Channel         string
	MaskedRecipient string
	ExpiresIn       int64

	// DebugCode carries the raw one-time code only when
	// Security.ExposeOTPCodes is enabled outside production mode.
	DebugCode string
}

// LoginResult is returned by [Engine.VerifyLogin] and carries the issued
// token pair plus the profile snapshot the tokens were minted from.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	User         UserProfile
}

// RefreshResult is returned by [Engine.Refresh]. RefreshToken echoes the
// token that was presented; only the access token is new.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// AuthResult is the claims projection returned by [Engine.ValidateToken].
type AuthResult struct {
	UserID      string
	Username    string
	Role        string
	Permissions []string
	Team        string

	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionInfo is a read-only view of a tracked login session.
type SessionInfo struct {
	SessionID     string
	UserID        string
	AccessTokenID string
	IP            string
	UserAgent     string
	Active        bool
	CreatedAt     time.Time
	LastSeenAt    time.Time
	ExpiresAt     time.Time
}
