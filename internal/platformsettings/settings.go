// Package platformsettings holds the login settings an administrator can change at runtime from the
// panel, backed by the platform_settings table, with config values as defaults.
package platformsettings

import (
	"context"
	"strconv"
	"strings"
	"time"

	"webpanel-gate/internal/audit"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/platformsettings/domain"
	"webpanel-gate/internal/platformsettings/repository"
)

// Service reads and updates AuthSettings.
type Service struct {
	repo                repository.Repository
	defaultTelegramAuth bool
	audit               audit.AuditLogger
	nowF                func() time.Time
}

// NewService returns a Service. defaultTelegramAuth applies until the toggle is first written.
// auditLogger may be nil.
func NewService(repo repository.Repository, defaultTelegramAuth bool, auditLogger audit.AuditLogger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:                repo,
		defaultTelegramAuth: defaultTelegramAuth,
		audit:               auditLogger,
		nowF:                func() time.Time { return time.Now().UTC() },
	}
}

// AuthSettings returns the current settings. An unparsable stored value falls back to the default.
func (s *Service) AuthSettings(ctx context.Context) (*domain.AuthSettings, error) {
	out := &domain.AuthSettings{TelegramAuthEnabled: s.defaultTelegramAuth}
	raw, updatedAt, ok, err := s.repo.Get(ctx, domain.KeyTelegramAuthEnabled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}
	v, err := parseBool(raw)
	if err != nil {
		logx.FromContext(ctx).Warn("settings: ignoring invalid stored value", "key", domain.KeyTelegramAuthEnabled)
		return out, nil
	}
	out.TelegramAuthEnabled = v
	out.UpdatedAt = &updatedAt
	return out, nil
}

// TelegramAuthEnabled reports whether logins require bot approval.
func (s *Service) TelegramAuthEnabled(ctx context.Context) (bool, error) {
	st, err := s.AuthSettings(ctx)
	if err != nil {
		return false, err
	}
	return st.TelegramAuthEnabled, nil
}

// SetTelegramAuthEnabled stores the toggle and records actor in the audit log.
func (s *Service) SetTelegramAuthEnabled(ctx context.Context, enabled bool, actor string) error {
	if err := s.repo.Set(ctx, domain.KeyTelegramAuthEnabled, strconv.FormatBool(enabled), s.nowF()); err != nil {
		return err
	}
	logx.FromContext(ctx).Info("settings: telegram auth toggled", "enabled", enabled, "actor", actor)
	s.audit.LogEvent(ctx, actor, audit.ActionSettingsUpdated, "setting:"+domain.KeyTelegramAuthEnabled, strconv.FormatBool(enabled))
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}
