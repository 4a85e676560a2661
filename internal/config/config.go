// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend names accepted by VERIFY_STORE and SESSION_STORE.
const (
	StoreAuto     = "auto"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the web panel listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BotGRPCAddr is the address of the bot process gRPC health endpoint (e.g. :9090). Empty disables it.
	BotGRPCAddr string `mapstructure:"BOT_GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN. Used by the postgres stores and cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL (redis://host:6379/0). Used by the redis stores.
	RedisURL string `mapstructure:"REDIS_URL"`
	// VerifyStore selects the verification record backend: auto, redis, postgres or memory.
	// auto prefers redis, then postgres, then falls back to memory (degraded mode).
	VerifyStore string `mapstructure:"VERIFY_STORE"`
	// SessionStore selects the session backend with the same rules as VerifyStore.
	SessionStore string `mapstructure:"SESSION_STORE"`

	// VerificationTTLRaw is the approval window (e.g. "300s").
	VerificationTTLRaw string `mapstructure:"VERIFICATION_TTL"`
	// VerificationRetentionRaw is how long backends keep a record after creation. Defaults to 2x TTL.
	VerificationRetentionRaw string `mapstructure:"VERIFICATION_RETENTION"`
	// SessionTTLRaw is the panel session lifetime (e.g. "1h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// SessionCookieSecure sets the Secure attribute on the session cookie.
	SessionCookieSecure bool `mapstructure:"SESSION_COOKIE_SECURE"`
	// SweepIntervalRaw enables the periodic reclamation of old verification records. "0" disables it.
	SweepIntervalRaw string `mapstructure:"SWEEP_INTERVAL"`
	// LoginRatePerMinute limits /login and /verify-2fa per client IP.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	// TrustedProxies is a comma-separated list of proxy addresses or CIDRs whose forwarding headers
	// (X-Forwarded-For, X-Real-IP) are honoured. Empty means the TCP peer is always the client.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// MFAMaxAttempts is the number of wrong codes after which a pending verification is denied.
	MFAMaxAttempts int `mapstructure:"MFA_MAX_ATTEMPTS"`

	// AdminUsername is the panel administrator.
	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	// AdminPasswordHash is the bcrypt hash of the administrator password.
	AdminPasswordHash string `mapstructure:"ADMIN_PASSWORD_HASH"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// TelegramAuthEnabled is the initial value of the bot approval toggle; the panel can change it at runtime.
	TelegramAuthEnabled bool `mapstructure:"TELEGRAM_AUTH_ENABLED"`
	// TelegramBotToken is the Bot API token.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	// TelegramAdminIDs is a comma-separated list or JSON array of admin chat IDs.
	TelegramAdminIDs string `mapstructure:"TELEGRAM_ADMIN_IDS"`
	// TelegramAPIEndpoint overrides the Bot API endpoint format (e.g. for a local Bot API server).
	TelegramAPIEndpoint string `mapstructure:"TELEGRAM_API_ENDPOINT"`
	// BotEmbedded runs the bot runner inside the web process. Required for approvals in degraded mode.
	BotEmbedded bool `mapstructure:"BOT_EMBEDDED"`

	// NotifyTimeoutRaw bounds a single delivery attempt to one destination.
	NotifyTimeoutRaw string `mapstructure:"NOTIFY_TIMEOUT"`
	// NotifyMaxRetries is the number of retries per destination after the first attempt.
	NotifyMaxRetries int `mapstructure:"NOTIFY_MAX_RETRIES"`

	// SMSLocalAPIKey is the API key for SMS Local. Empty disables SMS delivery.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// SMSAdminNumbers is a comma-separated list of administrator phone numbers.
	SMSAdminNumbers string `mapstructure:"SMS_ADMIN_NUMBERS"`

	// OTPReturnToClient enables dev code capture: codes are kept in memory for GET /dev/verification/code.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// MFAPolicyFile is an optional Rego file replacing the default MFA decision policy.
	MFAPolicyFile string `mapstructure:"MFA_POLICY_FILE"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the otel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for lifecycle events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("BOT_GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("VERIFY_STORE", StoreAuto)
	v.SetDefault("SESSION_STORE", StoreAuto)
	v.SetDefault("VERIFICATION_TTL", "300s")
	v.SetDefault("VERIFICATION_RETENTION", "")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("SWEEP_INTERVAL", "0")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("MFA_MAX_ATTEMPTS", 5)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD_HASH", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("TELEGRAM_AUTH_ENABLED", false)
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_ADMIN_IDS", "")
	v.SetDefault("TELEGRAM_API_ENDPOINT", "")
	v.SetDefault("BOT_EMBEDDED", false)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_MAX_RETRIES", 2)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "")
	v.SetDefault("SMS_ADMIN_NUMBERS", "")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("MFA_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "webpanel-gate")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "webpanel-auth-events")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	cfg.VerifyStore = strings.ToLower(strings.TrimSpace(cfg.VerifyStore))
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if !validStore(cfg.VerifyStore) {
		return nil, errors.New("config: VERIFY_STORE must be one of auto, redis, postgres, memory")
	}
	if !validStore(cfg.SessionStore) {
		return nil, errors.New("config: SESSION_STORE must be one of auto, redis, postgres, memory")
	}
	if cfg.VerifyStore == StoreRedis && cfg.RedisURL == "" {
		return nil, errors.New("config: VERIFY_STORE=redis requires REDIS_URL")
	}
	if cfg.VerifyStore == StorePostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("config: VERIFY_STORE=postgres requires DATABASE_URL")
	}

	if _, err := cfg.TelegramAdminIDList(); err != nil {
		return nil, err
	}
	if _, err := cfg.TrustedProxyList(); err != nil {
		return nil, err
	}
	if cfg.MFAMaxAttempts <= 0 {
		cfg.MFAMaxAttempts = 5
	}
	if cfg.LoginRatePerMinute <= 0 {
		cfg.LoginRatePerMinute = 10
	}
	if cfg.NotifyMaxRetries < 0 {
		cfg.NotifyMaxRetries = 0
	}

	return &cfg, nil
}

func validStore(s string) bool {
	switch s {
	case StoreAuto, StoreRedis, StorePostgres, StoreMemory:
		return true
	}
	return false
}

// VerificationTTL parses VerificationTTLRaw. Returns 300s if unset or invalid.
func (c *Config) VerificationTTL() time.Duration {
	return parsePositive(c.VerificationTTLRaw, 300*time.Second)
}

// VerificationRetention parses VerificationRetentionRaw. Returns 2x VerificationTTL if unset, invalid
// or shorter than the TTL, so an expired record stays visible as expired for a while.
func (c *Config) VerificationRetention() time.Duration {
	ttl := c.VerificationTTL()
	d := parsePositive(c.VerificationRetentionRaw, 2*ttl)
	if d < ttl {
		return 2 * ttl
	}
	return d
}

// SessionTTL parses SessionTTLRaw. Returns 1h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parsePositive(c.SessionTTLRaw, time.Hour)
}

// NotifyTimeout parses NotifyTimeoutRaw. Returns 10s if unset or invalid.
func (c *Config) NotifyTimeout() time.Duration {
	return parsePositive(c.NotifyTimeoutRaw, 10*time.Second)
}

// SweepInterval parses SweepIntervalRaw. Returns 0 (disabled) if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parsePositive(c.SweepIntervalRaw, 0)
}

// TelegramConfigured reports whether the bot token and at least one admin ID are set.
func (c *Config) TelegramConfigured() bool {
	ids, err := c.TelegramAdminIDList()
	return err == nil && c.TelegramBotToken != "" && len(ids) > 0
}

// TelegramAdminIDList parses TelegramAdminIDs. Accepts "1,2", "[1, 2]" or a single ID.
func (c *Config) TelegramAdminIDList() ([]int64, error) {
	raw := strings.TrimSpace(c.TelegramAdminIDs)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, errors.New("config: TELEGRAM_ADMIN_IDS must be a JSON array of integers")
		}
		return ids, nil
	}
	out := make([]int64, 0, 2)
	for _, p := range splitList(raw) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.New("config: TELEGRAM_ADMIN_IDS must contain integer chat IDs")
		}
		out = append(out, id)
	}
	return out, nil
}

// TrustedProxyList parses TrustedProxies. Bare addresses become single-host prefixes.
func (c *Config) TrustedProxyList() ([]netip.Prefix, error) {
	parts := splitList(c.TrustedProxies)
	out := make([]netip.Prefix, 0, len(parts))
	for _, p := range parts {
		if strings.Contains(p, "/") {
			pfx, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("config: TRUSTED_PROXIES: invalid CIDR %q", p)
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES: invalid address %q", p)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// SMSAdminNumberList returns administrator phone numbers from the comma-separated config.
func (c *Config) SMSAdminNumberList() []string {
	return splitList(c.SMSAdminNumbers)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event stream is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parsePositive(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
