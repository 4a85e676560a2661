// Package rbac decides which bot actors may resolve login verifications.
package rbac

import (
	"errors"
	"strconv"
)

// ErrNotAdmin is returned when the actor is not in the administrator allow-list.
var ErrNotAdmin = errors.New("actor is not an administrator")

// AdminSet is the allow-list of Telegram user IDs that may approve or deny logins.
type AdminSet struct {
	ids map[int64]struct{}
}

// NewAdminSet returns an AdminSet of ids. An empty set rejects everyone.
func NewAdminSet(ids []int64) *AdminSet {
	s := &AdminSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Len returns the number of administrators.
func (s *AdminSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the administrator IDs as strings, for use as notifier addresses.
func (s *AdminSet) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

// RequireAdmin returns nil if actorID is an administrator, ErrNotAdmin otherwise.
func RequireAdmin(s *AdminSet, actorID int64) error {
	if s == nil {
		return ErrNotAdmin
	}
	if _, ok := s.ids[actorID]; !ok {
		return ErrNotAdmin
	}
	return nil
}
