package domain

import "time"

// Keys in the platform_settings table.
const (
	KeyTelegramAuthEnabled = "telegram_auth_enabled"
)

// AuthSettings holds the runtime login settings (from platform_settings or config defaults).
type AuthSettings struct {
	TelegramAuthEnabled bool
	UpdatedAt           *time.Time // nil when the config default is in effect
}
