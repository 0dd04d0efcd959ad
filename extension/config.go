package extension

import (
	"github.com/xraph/paystream"
)

// DefaultBasePath is where the HTTP API is mounted when BasePath is empty.
const DefaultBasePath = "/paystream"

// Config holds the paystream extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.paystream" or "paystream" keys).
type Config struct {
	// Engine settings: sweeper, escrow account, hook timeout and dispatcher.
	paystream.Config `mapstructure:",squash" yaml:",inline"`

	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for paystream routes (default: "/paystream").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:   paystream.DefaultConfig(),
		BasePath: DefaultBasePath,
	}
}
