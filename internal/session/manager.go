// Package session issues, validates and revokes the opaque panel sessions minted after a successful
// login. The Manager is the only owner of session records.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/security"
	"webpanel-gate/internal/session/domain"
	"webpanel-gate/internal/session/repository"
	"webpanel-gate/internal/telemetry"
	teldomain "webpanel-gate/internal/telemetry/domain"
)

// ErrInvalidSession is returned by Validate for unknown, revoked or expired sessions.
var ErrInvalidSession = errors.New("invalid session")

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = time.Hour

// Manager issues fixed-lifetime sessions.
type Manager struct {
	repo   repository.Repository
	ttl    time.Duration
	events telemetry.EventEmitter
	nowF   func() time.Time
}

// NewManager returns a Manager. ttl <= 0 means DefaultTTL. events may be nil.
func NewManager(repo repository.Repository, ttl time.Duration, events telemetry.EventEmitter) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo:   repo,
		ttl:    ttl,
		events: events,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// TTL returns the session lifetime; the cookie Max-Age uses it.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue mints a new session for username. The returned Session carries the plaintext ID.
func (m *Manager) Issue(ctx context.Context, username, clientIP string) (*domain.Session, error) {
	id, err := security.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	now := m.nowF()
	s := &domain.Session{
		ID:        id,
		IDHash:    security.HashSessionID(id),
		Username:  username,
		ClientIP:  clientIP,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	logx.FromContext(ctx).Info("session: issued", "username", username, "expires_at", s.ExpiresAt)
	telemetry.EmitAsync(m.events, ctx, &teldomain.Event{
		Type:     teldomain.EventSessionIssued,
		Source:   "session",
		Outcome:  "issued",
		Username: username,
		ClientIP: clientIP,
	})
	return s, nil
}

// Revoke invalidates id. Unknown, malformed or already revoked IDs are not errors.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if !security.ValidSessionIDFormat(id) {
		return nil
	}
	return m.repo.Revoke(ctx, security.HashSessionID(id), m.nowF())
}

// Validate returns the username of an active session.
func (m *Manager) Validate(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if !security.ValidSessionIDFormat(id) {
		return "", ErrInvalidSession
	}
	s, err := m.repo.GetByHash(ctx, security.HashSessionID(id))
	if err != nil {
		return "", err
	}
	// The record must carry the hash of the presented ID.
	if s == nil || !security.SessionIDHashEqual(id, s.IDHash) || !s.ActiveAt(m.nowF()) {
		return "", ErrInvalidSession
	}
	return s.Username, nil
}

// ActiveSessions returns the user's sessions that are neither revoked nor expired, newest first.
func (m *Manager) ActiveSessions(ctx context.Context, username string) ([]*domain.Session, error) {
	all, err := m.repo.ListByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	now := m.nowF()
	out := make([]*domain.Session, 0, len(all))
	for _, s := range all {
		if s.ActiveAt(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
