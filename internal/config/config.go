package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// IDストアドライバー
const (
	DriverGoTrue   = "gotrue"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// CallbackPath はこのサービスのコールバックルート。
const CallbackPath = "/auth/callback"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Provider
	ProviderName         string `env:"PROVIDER_NAME" envDefault:"consentkeys"`
	ProviderIssuerURL    string `env:"PROVIDER_ISSUER_URL"`
	ProviderTokenURL     string `env:"PROVIDER_TOKEN_URL"`
	ProviderUserInfoURL  string `env:"PROVIDER_USERINFO_URL"`
	ProviderClientID     string `env:"PROVIDER_CLIENT_ID"`
	ProviderClientSecret string `env:"PROVIDER_CLIENT_SECRET"`

	// Redirects
	BaseURL        string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	CallbackURL    string `env:"CALLBACK_URL"`
	AppRedirectURL string `env:"APP_REDIRECT_URL" envDefault:"http://localhost:5173"`

	// Identity store
	IdentityStoreDriver   string `env:"IDENTITY_STORE_DRIVER" envDefault:"gotrue"`
	IdentityStoreURL      string `env:"IDENTITY_STORE_URL"`
	IdentityStoreAdminKey string `env:"IDENTITY_STORE_ADMIN_KEY"`
	DatabaseURL           string `env:"DATABASE_URL"`

	// Upstream
	UpstreamTimeout      time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	UpstreamBlockPrivate bool          `env:"UPSTREAM_BLOCK_PRIVATE" envDefault:"false"`

	// Rate Limit
	RateLimitCallback int `env:"RATE_LIMIT_CALLBACK" envDefault:"60"`

	// Local store (postgres)
	SignInLinkTTL time.Duration `env:"SIGN_IN_LINK_TTL" envDefault:"1h"`
	SessionMaxAge int           `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	// X-Forwarded-For等を信頼するか。信頼できるリバースプロキシの背後でのみ有効にする
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieSecure bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if missing := cfg.missingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.IdentityStoreDriver {
	case DriverGoTrue, DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported IDENTITY_STORE_DRIVER: %q", cfg.IdentityStoreDriver)
	}

	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}

	// 派生値
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = strings.TrimSuffix(cfg.BaseURL, "/") + CallbackPath
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// missingRequired は未設定の必須環境変数名を返す。
// issuerを指定した場合はディスカバリで補完するためエンドポイントURLは任意になる。
func (c *Config) missingRequired() []string {
	var missing []string

	if c.ProviderIssuerURL == "" {
		if c.ProviderTokenURL == "" {
			missing = append(missing, "PROVIDER_TOKEN_URL")
		}
		if c.ProviderUserInfoURL == "" {
			missing = append(missing, "PROVIDER_USERINFO_URL")
		}
	}
	if c.ProviderClientID == "" {
		missing = append(missing, "PROVIDER_CLIENT_ID")
	}
	if c.ProviderClientSecret == "" {
		missing = append(missing, "PROVIDER_CLIENT_SECRET")
	}

	switch c.IdentityStoreDriver {
	case DriverGoTrue:
		if c.IdentityStoreURL == "" {
			missing = append(missing, "IDENTITY_STORE_URL")
		}
		if c.IdentityStoreAdminKey == "" {
			missing = append(missing, "IDENTITY_STORE_ADMIN_KEY")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	}

	return missing
}

// SlogLevel はLOG_LEVELをslog.Levelに変換する。不明な値はInfoとして扱う。
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
