package domain

import "time"

// Event types emitted over a login attempt's lifecycle.
const (
	EventLogin               = "login"
	EventVerificationCreate  = "verification_created"
	EventVerificationResolve = "verification_resolved"
	EventNotify              = "notification"
	EventSessionIssued       = "session_issued"
	EventConsumeReplay       = "consume_replay"
	EventLogout              = "logout"
	EventHTTPRequest         = "http_request"
	EventGRPCRequest         = "grpc_request"
)

// Event is a telemetry event. TokenPrefix carries at most the first 8 characters of a verification
// token; codes and session IDs are never part of an event.
type Event struct {
	Type        string            `json:"type"`
	Source      string            `json:"source"`
	Outcome     string            `json:"outcome,omitempty"`
	Username    string            `json:"username,omitempty"`
	TokenPrefix string            `json:"token_prefix,omitempty"`
	ClientIP    string            `json:"client_ip,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
