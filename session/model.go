package session

// Session defines a public type used by stepauth APIs.
// Session instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
//
// Timestamps are Unix seconds. AccessTokenID binds the session to the access
// token minted at login so a logout with that token ends exactly this session.
type Session struct {
	SessionID     string
	UserID        string
	AccessTokenID string
	IP            string
	UserAgent     string
	Active        bool
	CreatedAt     int64
	LastSeenAt    int64
	ExpiresAt     int64
}

// Expired reports whether the session's deadline has passed at the given Unix
// time.
func (s *Session) Expired(now int64) bool {
	return now >= s.ExpiresAt
}
