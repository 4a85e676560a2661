package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SessionIDPrefix marks panel session IDs so they are never mistaken for verification tokens.
const SessionIDPrefix = "ps_"

const sessionIDBytes = 32

// NewSessionID returns a fresh opaque session ID: SessionIDPrefix + base64url(32 random bytes).
func NewSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return SessionIDPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidSessionIDFormat reports whether id has the shape NewSessionID produces.
func ValidSessionIDFormat(id string) bool {
	raw, ok := strings.CutPrefix(id, SessionIDPrefix)
	if !ok {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil && len(b) == sessionIDBytes
}

// HashSessionID returns the hex SHA-256 of id. Stores key sessions by this hash so a leaked table
// or keyspace does not leak usable cookies.
func HashSessionID(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}

// SessionIDHashEqual performs constant-time comparison of the provided ID's hash with the stored hash.
func SessionIDHashEqual(providedID, storedHash string) bool {
	if providedID == "" || storedHash == "" {
		return false
	}
	providedHash := HashSessionID(providedID)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
