// Package config loads service and client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalid reports a configuration value that parsed but cannot be used.
var ErrInvalid = errors.New("config: invalid")

// Log holds logger settings shared by every binary.
type Log struct {
	Level  string `env:"DWS_LOG_LEVEL"  envDefault:"info"`
	Format string `env:"DWS_LOG_FORMAT" envDefault:"json"`
}

// Server configures cmd/server.
type Server struct {
	Log

	Addr            string        `env:"DWS_HTTP_ADDR"        envDefault:":8080"`
	GRPCAddr        string        `env:"DWS_GRPC_ADDR"        envDefault:":9090"`
	DBDriver        string        `env:"DWS_DB_DRIVER"        envDefault:"postgres"`
	DBDSN           string        `env:"DWS_DB_DSN"`
	RedisURL        string        `env:"DWS_REDIS_URL"`
	TokenSecret     string        `env:"DWS_AUTH_SECRET"`
	TokenIssuer     string        `env:"DWS_AUTH_ISSUER"`
	TokenAudience   string        `env:"DWS_AUTH_AUDIENCE"`
	OIDCIssuer      string        `env:"DWS_AUTH_OIDC_ISSUER"`
	HealthInterval  time.Duration `env:"DWS_HEALTH_INTERVAL"  envDefault:"10s"`
	CapabilityFile  string        `env:"DWS_CAPABILITY_POLICY"`
	CORSOrigins     []string      `env:"DWS_CORS_ORIGINS"     envSeparator:","`
	MaxBodyBytes    int64         `env:"DWS_MAX_BODY_BYTES"   envDefault:"1048576"`
	RateLimitRPS    int           `env:"DWS_RATE_LIMIT_RPS"   envDefault:"20"`
	RateLimitBurst  int           `env:"DWS_RATE_LIMIT_BURST" envDefault:"40"`
	ShutdownTimeout time.Duration `env:"DWS_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Version         string        `env:"DWS_VERSION"          envDefault:"dev"`
	Commit          string        `env:"DWS_COMMIT"           envDefault:"unknown"`
}

// Client configures the view-model builder and the OIDC adapter used by dwsctl.
type Client struct {
	Log

	Issuer       string   `env:"DWS_OIDC_ISSUER"`
	ClientID     string   `env:"DWS_OIDC_CLIENT_ID"`
	ClientSecret string   `env:"DWS_OIDC_CLIENT_SECRET"`
	RedirectURL  string   `env:"DWS_OIDC_REDIRECT_URL" envDefault:"http://127.0.0.1:8765/callback"`
	LoginScopes  []string `env:"DWS_OIDC_SCOPES"       envSeparator:"," envDefault:"openid,profile,email,offline_access"`
	EmailScopes  []string `env:"DWS_EMAIL_SCOPES"      envSeparator:"," envDefault:"User.Read"`
	APIScopes    []string `env:"DWS_API_SCOPES"        envSeparator:","`
	TokenCache   string   `env:"DWS_TOKEN_CACHE"`

	AppURL         string `env:"DWS_APP_URL"          envDefault:"http://localhost:8080"`
	SignInRoute    string `env:"DWS_SIGNIN_ROUTE"     envDefault:"/signin"`
	APIBaseURL     string `env:"DWS_API_BASE_URL"`
	DirectoryURL   string `env:"DWS_DIRECTORY_URL"    envDefault:"https://graph.microsoft.com/v1.0"`
	DBDriver       string `env:"DWS_DB_DRIVER"        envDefault:"postgres"`
	DBDSN          string `env:"DWS_DB_DSN"`
	CapabilityFile string `env:"DWS_CAPABILITY_POLICY"`

	EmailFallback     bool `env:"DWS_ENABLE_EMAIL_FALLBACK"`
	ViteEmailFallback bool `env:"VITE_ENABLE_EMAIL_FALLBACK"`

	LoadingTimeout time.Duration `env:"DWS_LOADING_TIMEOUT" envDefault:"3s"`
}

// LoadServer parses Server from the environment.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return Server{}, fmt.Errorf("%w: DWS_DB_DRIVER %q", ErrInvalid, cfg.DBDriver)
	}
	if cfg.TokenSecret == "" && cfg.OIDCIssuer == "" {
		return Server{}, fmt.Errorf("%w: one of DWS_AUTH_SECRET or DWS_AUTH_OIDC_ISSUER is required", ErrInvalid)
	}
	return cfg, nil
}

// LoadClient parses Client from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := url.Parse(cfg.AppURL); err != nil {
		return Client{}, fmt.Errorf("%w: DWS_APP_URL: %v", ErrInvalid, err)
	}
	return cfg, nil
}

// EmailFallbackEnabled reports whether either spelling of the flag is set.
func (c Client) EmailFallbackEnabled() bool {
	return c.EmailFallback || c.ViteEmailFallback
}

// SignInURL resolves the sign-in route against the application URL.
func (c Client) SignInURL() string {
	route := strings.TrimSpace(c.SignInRoute)
	if route == "" {
		route = "/signin"
	}
	base, err := url.Parse(strings.TrimSpace(c.AppURL))
	if err != nil || base.Host == "" {
		return route
	}
	ref, err := url.Parse(route)
	if err != nil {
		return route
	}
	return base.ResolveReference(ref).String()
}
