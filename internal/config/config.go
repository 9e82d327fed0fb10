// Package config resolves Agent Door's process configuration. The gateway
// is configured entirely through environment variables (see EXTERNAL
// INTERFACES); an optional AGENTDOOR_CONFIG_FILE points at a YAML file
// read first, with every AGENTDOOR_-prefixed environment variable applied
// on top of it.
package config

import (
	"strings"
	"time"

	"github.com/agent-door/agentdoor/internal/adapter/inbound/gateway"
)

// AppConfig is the raw, validated configuration surface. Load returns one
// of these; callers derive a gateway.Config and a storage selection from
// it via ToGatewayConfig and Storage.
type AppConfig struct {
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	AdminAPIKey     string `mapstructure:"admin_api_key" yaml:"admin_api_key"`
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash" yaml:"admin_api_key_hash" validate:"omitempty,startswith=$argon2id$"`
	DevMode         bool   `mapstructure:"dev_mode" yaml:"dev_mode"`

	BaseURL      string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	TrustedProxy bool   `mapstructure:"trusted_proxy" yaml:"trusted_proxy"`
	CORSOrigins  string `mapstructure:"cors_origins" yaml:"cors_origins"`

	MaxRegistrations int   `mapstructure:"max_registrations" yaml:"max_registrations" validate:"omitempty,min=1"`
	FetchTimeoutMS   int   `mapstructure:"fetch_timeout_ms" yaml:"fetch_timeout_ms" validate:"omitempty,min=1"`
	MaxSpecBytes     int64 `mapstructure:"max_spec_bytes" yaml:"max_spec_bytes" validate:"omitempty,min=1"`
	MaxBodyBytes     int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"omitempty,min=1"`

	// DataDir selects the file-backed registry: registrations are stored
	// at <DataDir>/registrations.json. Mutually exclusive with DatabaseURL.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// DatabaseURL, when set, selects the SQLite-backed registry instead of
	// the file store. Expected form: "sqlite:///absolute/path/to.db" or a
	// bare filesystem path.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// SetDefaults applies the defaults documented for every environment
// variable. Called before validation so omitted fields still satisfy
// required invariants.
func (c *AppConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.CORSOrigins == "" {
		c.CORSOrigins = "*"
	}
	if c.MaxRegistrations == 0 {
		c.MaxRegistrations = 500
	}
	if c.FetchTimeoutMS == 0 {
		c.FetchTimeoutMS = 10000
	}
	if c.MaxSpecBytes == 0 {
		c.MaxSpecBytes = 5 << 20
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 100 << 10
	}
	if c.DataDir == "" && c.DatabaseURL == "" {
		c.DataDir = "."
	}
}

// corsOrigins parses CORSOrigins into the slice door.Door expects. "*"
// (the default) means no allowlist, for which door.Door sends
// Access-Control-Allow-Origin: *.
func (c *AppConfig) corsOrigins() []string {
	if c.CORSOrigins == "" || c.CORSOrigins == "*" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// ToGatewayConfig builds the gateway.Config the Gateway is constructed
// with.
func (c *AppConfig) ToGatewayConfig() gateway.Config {
	return gateway.Config{
		AdminAPIKey:      c.AdminAPIKey,
		AdminAPIKeyHash:  c.AdminAPIKeyHash,
		DevMode:          c.DevMode,
		BaseURL:          c.BaseURL,
		TrustedProxy:     c.TrustedProxy,
		CORSOrigins:      c.corsOrigins(),
		MaxRegistrations: c.MaxRegistrations,
		FetchTimeout:     time.Duration(c.FetchTimeoutMS) * time.Millisecond,
		MaxSpecBytes:     c.MaxSpecBytes,
		MaxBodyBytes:     c.MaxBodyBytes,
	}
}

// StorageBackend reports which registry.Registry implementation to
// construct and the path/DSN to open it with.
type StorageBackend struct {
	Kind string // "sqlite" or "file"
	Path string
}

// Storage resolves the configured registry backend. DatabaseURL, when
// set, always wins over DataDir.
func (c *AppConfig) Storage() StorageBackend {
	if c.DatabaseURL != "" {
		return StorageBackend{Kind: "sqlite", Path: strings.TrimPrefix(c.DatabaseURL, "sqlite://")}
	}
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return StorageBackend{Kind: "file", Path: dir + "/registrations.json"}
}
