/*
Package config loads server settings from the environment.

PURPOSE:
  One place that knows every setting the server reads. A .env file in the
  working directory is loaded first when present; real environment
  variables always win over it.

KEYS (environment variable = key upper-cased):
  port                   HTTP port (8080)
  database_path          SQLite file, ":memory:" for tests (portal.db)
  jwt_secret             HMAC secret for member tokens (required by serve)
  cors_origins           Comma-separated allowed origins (*)
  redis_addr             Token persistence; empty disables it
  amqp_url               Event broker; empty logs events instead
  amqp_exchange          Topic exchange name (portal.events)
  backstage_url / backstage_api_key
  zoom_url / zoom_account_id / zoom_client_id / zoom_client_secret
  xero_url / xero_tenant_id / xero_client_id / xero_client_secret /
  xero_refresh_token / xero_account_code
  stripe_secret_key
  invoicing_enabled      Raise Xero invoices for account payments (false)
  voucher_sweep_interval How often expired vouchers are flipped (1h)

SEE ALSO:
  - cmd/server/main.go: Wires these into the server
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port         int    `mapstructure:"port"`
	DatabasePath string `mapstructure:"database_path"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	CORSOrigins  string `mapstructure:"cors_origins"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	AMQPURL       string `mapstructure:"amqp_url"`
	AMQPExchange  string `mapstructure:"amqp_exchange"`

	BackstageURL    string `mapstructure:"backstage_url"`
	BackstageAPIKey string `mapstructure:"backstage_api_key"`

	ZoomURL          string `mapstructure:"zoom_url"`
	ZoomTokenURL     string `mapstructure:"zoom_token_url"`
	ZoomAccountID    string `mapstructure:"zoom_account_id"`
	ZoomClientID     string `mapstructure:"zoom_client_id"`
	ZoomClientSecret string `mapstructure:"zoom_client_secret"`

	XeroURL          string `mapstructure:"xero_url"`
	XeroTokenURL     string `mapstructure:"xero_token_url"`
	XeroTenantID     string `mapstructure:"xero_tenant_id"`
	XeroClientID     string `mapstructure:"xero_client_id"`
	XeroClientSecret string `mapstructure:"xero_client_secret"`
	XeroRefreshToken string `mapstructure:"xero_refresh_token"`
	XeroAccountCode  string `mapstructure:"xero_account_code"`

	StripeSecretKey string `mapstructure:"stripe_secret_key"`

	InvoicingEnabled     bool          `mapstructure:"invoicing_enabled"`
	VoucherSweepInterval time.Duration `mapstructure:"voucher_sweep_interval"`
}

var defaults = map[string]any{
	"port":                   8080,
	"database_path":          "portal.db",
	"jwt_secret":             "",
	"cors_origins":           "*",
	"redis_addr":             "",
	"redis_password":         "",
	"amqp_url":               "",
	"amqp_exchange":          "portal.events",
	"backstage_url":          "",
	"backstage_api_key":      "",
	"zoom_url":               "https://api.zoom.us/v2",
	"zoom_token_url":         "https://zoom.us/oauth/token",
	"zoom_account_id":        "",
	"zoom_client_id":         "",
	"zoom_client_secret":     "",
	"xero_url":               "https://api.xero.com/api.xro/2.0",
	"xero_token_url":         "https://identity.xero.com/connect/token",
	"xero_tenant_id":         "",
	"xero_client_id":         "",
	"xero_client_secret":     "",
	"xero_refresh_token":     "",
	"xero_account_code":      "200",
	"stripe_secret_key":      "",
	"invoicing_enabled":      false,
	"voucher_sweep_interval": time.Hour,
}

// Load reads envFiles (default ".env"), then the environment.
// Missing env files are skipped.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}

// Origins splits CORSOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ZoomConfigured reports whether Zoom credentials are present.
func (c *Config) ZoomConfigured() bool {
	return c.ZoomAccountID != "" && c.ZoomClientID != "" && c.ZoomClientSecret != ""
}

// XeroConfigured reports whether Xero credentials are present.
func (c *Config) XeroConfigured() bool {
	return c.XeroTenantID != "" && c.XeroClientID != "" && c.XeroRefreshToken != ""
}

// Validate checks settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.InvoicingEnabled && !c.XeroConfigured() {
		return errors.New("invoicing is enabled but Xero is not configured")
	}
	return nil
}
