package domain

import "time"

// AuditLog represents an audit event in the login lifecycle.
type AuditLog struct {
	ID        string
	Actor     string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
