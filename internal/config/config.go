// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MFA enrollment policy modes for actions that require MFA when the
// principal has never enrolled. There is deliberately no default: the
// operator must choose one.
const (
	MFAOnUnenrolledAllow  = "allow"
	MFAOnUnenrolledEnroll = "enroll"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// IDPIssuer is the expected iss claim of identity tokens.
	IDPIssuer string `mapstructure:"IDP_ISSUER"`
	// IDPAudience is the expected aud claim of identity tokens.
	IDPAudience string `mapstructure:"IDP_AUDIENCE"`
	// IDPJWKSURL is the issuer's public key set endpoint.
	IDPJWKSURL string `mapstructure:"IDP_JWKS_URL"`
	// JWKSCacheTTL bounds how long fetched issuer keys are reused (e.g. "1h").
	JWKSCacheTTL string `mapstructure:"JWKS_CACHE_TTL"`
	// AllowedEmailDomain, when set, restricts sync to identities whose email
	// ends with @<domain> (e.g. "littio.co"). Empty disables the check.
	AllowedEmailDomain string `mapstructure:"ALLOWED_EMAIL_DOMAIN"`
	// DecisionCacheTTL is how long identical authorize decisions are reused
	// (seconds scale, e.g. "5s"). "0s" disables caching.
	DecisionCacheTTL string `mapstructure:"DECISION_CACHE_TTL"`
	// DecisionCacheBackend selects the decision cache: "memory" or "redis".
	DecisionCacheBackend string `mapstructure:"DECISION_CACHE_BACKEND"`
	// RedisAddr is the redis address, required when DECISION_CACHE_BACKEND=redis.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// MFASecretKey is a hex-encoded 32-byte key used to encrypt TOTP secrets at rest.
	MFASecretKey string `mapstructure:"MFA_SECRET_KEY"`
	// MFAAssertionSecret signs the short-lived verified-MFA marker (HS256).
	MFAAssertionSecret string `mapstructure:"MFA_ASSERTION_SECRET"`
	// MFAAssertionTTL is the verified-MFA marker lifetime (e.g. "5m").
	MFAAssertionTTL string `mapstructure:"MFA_ASSERTION_TTL"`
	// MFAOnUnenrolled is the policy for MFA-required actions when the
	// principal never enrolled: "allow" or "enroll". Required, no default.
	MFAOnUnenrolled string `mapstructure:"MFA_ON_UNENROLLED"`
	// MFAPolicyRego optionally overrides the built-in MFA-requirement policy
	// (inline rego or a file path).
	MFAPolicyRego string `mapstructure:"MFA_POLICY_REGO"`
	// PermissionOverrides remaps resource/action pairs to permission names,
	// comma separated (e.g. "users:deactivate=users:update_status").
	PermissionOverrides string `mapstructure:"PERMISSION_OVERRIDES"`
	// KafkaBrokers is a comma-separated broker list; empty disables decision events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// DecisionKafkaTopic is the topic decision events are published to.
	DecisionKafkaTopic string `mapstructure:"DECISION_KAFKA_TOPIC"`
	// OTLPEndpoint is the OTLP trace collector endpoint; empty disables tracing.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("IDP_ISSUER", "")
	v.SetDefault("IDP_AUDIENCE", "")
	v.SetDefault("IDP_JWKS_URL", "")
	v.SetDefault("JWKS_CACHE_TTL", "1h")
	v.SetDefault("ALLOWED_EMAIL_DOMAIN", "")
	v.SetDefault("DECISION_CACHE_TTL", "5s")
	v.SetDefault("DECISION_CACHE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("MFA_SECRET_KEY", "")
	v.SetDefault("MFA_ASSERTION_SECRET", "")
	v.SetDefault("MFA_ASSERTION_TTL", "5m")
	v.SetDefault("MFA_ON_UNENROLLED", "")
	v.SetDefault("MFA_POLICY_REGO", "")
	v.SetDefault("PERMISSION_OVERRIDES", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("DECISION_KAFKA_TOPIC", "azkaban-decisions")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field consistency. It does not require DATABASE_URL so that
// cmd/migrate can print a friendlier message, but it rejects values that
// would make the authorizer misbehave silently.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR must not be empty")
	}
	if _, err := c.JWKSCacheTTLDuration(); err != nil {
		return fmt.Errorf("JWKS_CACHE_TTL: %w", err)
	}
	if _, err := c.DecisionCacheTTLDuration(); err != nil {
		return fmt.Errorf("DECISION_CACHE_TTL: %w", err)
	}
	if _, err := c.MFAAssertionTTLDuration(); err != nil {
		return fmt.Errorf("MFA_ASSERTION_TTL: %w", err)
	}
	switch c.DecisionCacheBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when DECISION_CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("DECISION_CACHE_BACKEND must be memory or redis, got %q", c.DecisionCacheBackend)
	}
	switch c.MFAOnUnenrolled {
	case MFAOnUnenrolledAllow, MFAOnUnenrolledEnroll:
	case "":
		return errors.New("MFA_ON_UNENROLLED is required (allow or enroll); refusing to guess")
	default:
		return fmt.Errorf("MFA_ON_UNENROLLED must be allow or enroll, got %q", c.MFAOnUnenrolled)
	}
	if c.MFASecretKey != "" {
		key, err := hex.DecodeString(c.MFASecretKey)
		if err != nil {
			return fmt.Errorf("MFA_SECRET_KEY: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("MFA_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// JWKSCacheTTLDuration parses JWKS_CACHE_TTL.
func (c *Config) JWKSCacheTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.JWKSCacheTTL)
}

// DecisionCacheTTLDuration parses DECISION_CACHE_TTL.
func (c *Config) DecisionCacheTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.DecisionCacheTTL)
}

// MFAAssertionTTLDuration parses MFA_ASSERTION_TTL.
func (c *Config) MFAAssertionTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.MFAAssertionTTL)
}

// MFASecretKeyBytes returns the decoded 32-byte secret-encryption key, or nil
// when unset. Validate has already checked format and length.
func (c *Config) MFASecretKeyBytes() []byte {
	if c.MFASecretKey == "" {
		return nil
	}
	key, _ := hex.DecodeString(c.MFASecretKey)
	return key
}

// KafkaBrokerList splits KAFKA_BROKERS into addresses; nil when unset.
func (c *Config) KafkaBrokerList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PermissionOverrideMap parses PERMISSION_OVERRIDES into a
// "resource:action" → permission map. Malformed entries are reported.
func (c *Config) PermissionOverrideMap() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(c.PermissionOverrides) == "" {
		return out, nil
	}
	for _, entry := range strings.Split(c.PermissionOverrides, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, val, ok := strings.Cut(entry, "=")
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("PERMISSION_OVERRIDES entry %q is not resource:action=permission", entry)
		}
		out[key] = val
	}
	return out, nil
}
