package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webpanel-gate/internal/audit/domain"
	auditrepo "webpanel-gate/internal/audit/repository"
)

// Actions recorded over a login attempt's lifecycle.
const (
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionMFARequested     = "mfa_requested"
	ActionMFAApproved      = "mfa_approved"
	ActionMFADenied        = "mfa_denied"
	ActionMFALocked        = "mfa_locked"
	ActionNotifyFailed     = "mfa_notify_failed"
	ActionSessionIssued    = "session_issued"
	ActionSessionFailed    = "session_issue_failed"
	ActionConsumeReplay    = "session_consume_replay"
	ActionLogout           = "logout"
	ActionSettingsUpdated  = "settings_updated"
	ActionUnauthorizedChat = "bot_unauthorized"
)

// SystemActor is recorded when an event has no authenticated actor.
const SystemActor = "_system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do not
// affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, actor, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry.
func (l *Logger) LogEvent(ctx context.Context, actor, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if actor == "" {
		actor = SystemActor
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		slog.WarnContext(ctx, "audit: failed to log event", "action", action, "resource", resource, "error", err)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string) {}
