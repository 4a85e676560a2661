package domain

import "time"

// Session is a panel login session. ID is the opaque cookie value and is only populated on the
// value returned by Issue; stores hold IDHash.
type Session struct {
	ID        string
	IDHash    string
	Username  string
	ClientIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil when not revoked
}

// ActiveAt reports whether the session is neither revoked nor expired at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
