// Package config loads IronLayer service configuration.
//
// Sources, in priority order: environment variables > config file > defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all ironlayerd configuration.
type Config struct {
	// ListenAddr is the HTTP listen address (default ":8443").
	ListenAddr string `json:"listen_addr"`
	// DataDir holds the SQLite database when Dialect is "sqlite".
	DataDir string `json:"data_dir"`

	// Dialect selects the repository backend: sqlite, postgres, mysql.
	Dialect string `json:"dialect"`
	// DSN is the connection string for postgres/mysql dialects.
	DSN string `json:"dsn,omitempty"`

	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`

	AuthEnabled bool `json:"auth_enabled"`
	// SigningKey is the HMAC key used for development-mode bearer tokens.
	SigningKey string `json:"signing_key,omitempty"`

	// Auth is the §6.8-documented authentication configuration, read from
	// its own fixed environment variable names rather than the
	// IRONLAYER_-prefixed ones above: these names are a stable external
	// contract shared with the token manager's production deployments.
	Auth AuthConfig `json:"auth,omitempty"`

	// LicensePath points at the Ed25519-signed license file. Empty means
	// run under the community tier.
	LicensePath string `json:"license_path,omitempty"`

	Quota QuotaOverrides `json:"quota,omitempty"`

	Reconcile ReconcileConfig `json:"reconcile,omitempty"`

	LogLevel string `json:"log_level"`

	ExternalURL string `json:"external_url,omitempty"`

	// WebhookSecretKey is the 32-byte AES-256 key (IRONLAYER_WEBHOOK_SECRET_KEY)
	// used to encrypt stored per-config webhook secrets. Empty disables the
	// §4.18 webhook receiver entirely.
	WebhookSecretKey string `json:"webhook_secret_key,omitempty"`
}

// QuotaOverrides holds explicit per-deployment quota overrides. A zero value
// means "use the tier default", matching the explicit > tier-default >
// unlimited resolution order.
type QuotaOverrides struct {
	PlanQuotaMonthly *int `json:"plan_quota_monthly,omitempty"`
	AIQuotaMonthly   *int `json:"ai_quota_monthly,omitempty"`
	APIQuotaMonthly  *int `json:"api_quota_monthly,omitempty"`
	MaxSeats         *int `json:"max_seats,omitempty"`
	MaxModels        *int `json:"max_models,omitempty"`
}

// ReconcileConfig controls the background reconciliation loop.
type ReconcileConfig struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

// AuthMode selects how bearer tokens are minted and verified.
type AuthMode string

const (
	AuthModeJWT         AuthMode = "jwt"
	AuthModeKMSExchange AuthMode = "kms_exchange"
	AuthModeOIDCOnPrem  AuthMode = "oidc_onprem"
	AuthModeDevelopment AuthMode = "development"
)

// AuthConfig holds the §6.8 authentication environment variables.
type AuthConfig struct {
	Mode                   AuthMode      `json:"mode"`
	JWTSecret              string        `json:"jwt_secret,omitempty"`
	TokenTTL               time.Duration `json:"token_ttl"`
	MaxTokenTTL            time.Duration `json:"max_token_ttl"`
	RefreshTokenTTL        time.Duration `json:"refresh_token_ttl"`
	KMSKeyARN              string        `json:"kms_key_arn,omitempty"`
	OIDCIssuerURL          string        `json:"oidc_issuer_url,omitempty"`
	OIDCAudience           string        `json:"oidc_audience,omitempty"`
}

// DefaultAuthConfig returns the §6.8-documented defaults.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:            AuthModeDevelopment,
		TokenTTL:        3600 * time.Second,
		MaxTokenTTL:     86400 * time.Second,
		RefreshTokenTTL: 86400 * time.Second,
	}
}

// loadAuthFromEnv overlays AUTH_MODE/JWT_SECRET/... onto cfg, matching the
// fixed, un-prefixed names §6.8 documents.
func loadAuthFromEnv(cfg AuthConfig) AuthConfig {
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.Mode = AuthMode(v)
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("TOKEN_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MAX_TOKEN_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTokenTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshTokenTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("KMS_KEY_ARN"); v != "" {
		cfg.KMSKeyARN = v
	}
	if v := os.Getenv("OIDC_ISSUER_URL"); v != "" {
		cfg.OIDCIssuerURL = v
	}
	if v := os.Getenv("OIDC_AUDIENCE"); v != "" {
		cfg.OIDCAudience = v
	}
	return cfg
}

// RequiresSecret reports whether the configured mode demands a non-empty
// JWTSecret — every mode except development, which runs with an
// auto-generated or empty secret for local convenience.
func (a AuthConfig) RequiresSecret() bool {
	return a.Mode != AuthModeDevelopment && a.Mode != ""
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8443",
		DataDir:    "/var/lib/ironlayer",
		Dialect:    "sqlite",
		LogLevel:   "info",
		Auth:       DefaultAuthConfig(),
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("IRONLAYER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("IRONLAYER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("IRONLAYER_DIALECT"); v != "" {
		cfg.Dialect = v
	}
	if v := os.Getenv("IRONLAYER_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("IRONLAYER_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("IRONLAYER_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("IRONLAYER_AUTH"); v != "" {
		cfg.AuthEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("IRONLAYER_SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v := os.Getenv("IRONLAYER_LICENSE_PATH"); v != "" {
		cfg.LicensePath = v
	}
	if v := os.Getenv("IRONLAYER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("IRONLAYER_EXTERNAL_URL"); v != "" {
		cfg.ExternalURL = v
	}
	if v := os.Getenv("IRONLAYER_RECONCILE_ENABLED"); v != "" {
		cfg.Reconcile.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("IRONLAYER_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconcile.Interval = d
		}
	}
	if v := os.Getenv("IRONLAYER_QUOTA_PLAN_MONTHLY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.PlanQuotaMonthly = &n
		}
	}
	if v := os.Getenv("IRONLAYER_QUOTA_AI_MONTHLY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.AIQuotaMonthly = &n
		}
	}
	if v := os.Getenv("IRONLAYER_QUOTA_API_MONTHLY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.APIQuotaMonthly = &n
		}
	}
	if v := os.Getenv("IRONLAYER_WEBHOOK_SECRET_KEY"); v != "" {
		cfg.WebhookSecretKey = v
	}

	cfg.Auth = loadAuthFromEnv(cfg.Auth)

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasTLS returns true if TLS is configured.
func (c Config) HasTLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// HasLicense returns true if a license file has been configured.
func (c Config) HasLicense() bool {
	return c.LicensePath != ""
}
