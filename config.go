package paystream

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/paystream/settlement/httpdispatch"
)

// Defaults for the activation sweeper.
const (
	DefaultSweepInterval  = 5 * time.Second
	DefaultSweepBatchSize = 100
)

// Config is the file-loadable form of the ledger options.
type Config struct {
	// SweepInterval is how often due pending streams are activated.
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatchSize caps the streams activated per sweep.
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// EscrowAccount, when set, is the source of every transfer.
	EscrowAccount string `json:"escrow_account" mapstructure:"escrow_account" yaml:"escrow_account"`

	// HookTimeout bounds each plugin hook call.
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// Dispatcher configures the HTTP settlement dispatcher. Leave URL empty
	// to supply a dispatcher programmatically.
	Dispatcher DispatcherConfig `json:"dispatcher" mapstructure:"dispatcher" yaml:"dispatcher"`
}

// DispatcherConfig configures an httpdispatch.Dispatcher.
type DispatcherConfig struct {
	URL       string  `json:"url" mapstructure:"url" yaml:"url"`
	APIKey    string  `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	APISecret string  `json:"api_secret" mapstructure:"api_secret" yaml:"api_secret"`
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" mapstructure:"burst" yaml:"burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  DefaultSweepInterval,
		SweepBatchSize: DefaultSweepBatchSize,
	}
}

// LoadConfig decodes YAML from r over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("paystream: decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.EscrowAccount = strings.TrimSpace(c.EscrowAccount)
	c.Dispatcher.URL = strings.TrimSpace(c.Dispatcher.URL)
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = DefaultSweepBatchSize
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Dispatcher.RateLimit < 0 || c.Dispatcher.Burst < 0 {
		return ValidationError{Field: "dispatcher", Message: "rate limit and burst must not be negative"}
	}
	if c.Dispatcher.RateLimit > 0 && c.Dispatcher.Burst == 0 {
		return ValidationError{Field: "dispatcher.burst", Message: "required when rate_limit is set"}
	}
	if c.HookTimeout < 0 {
		return ValidationError{Field: "hook_timeout", Message: "must not be negative"}
	}
	return nil
}

// Options converts the config into ledger options. An HTTP dispatcher is
// built when Dispatcher.URL is set.
func (c Config) Options() ([]Option, error) {
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithSweepInterval(c.SweepInterval),
		WithSweepBatchSize(c.SweepBatchSize),
	}
	if c.EscrowAccount != "" {
		opts = append(opts, WithEscrowAccount(c.EscrowAccount))
	}
	if c.HookTimeout > 0 {
		timeout := c.HookTimeout
		opts = append(opts, func(l *Ledger) { l.plugins.WithTimeout(timeout) })
	}
	if c.Dispatcher.URL != "" {
		dopts := []httpdispatch.Option{
			httpdispatch.WithRateLimit(c.Dispatcher.RateLimit, c.Dispatcher.Burst),
		}
		if c.Dispatcher.APIKey != "" {
			dopts = append(dopts, httpdispatch.WithCredentials(c.Dispatcher.APIKey, c.Dispatcher.APISecret))
		}
		d, err := httpdispatch.New(c.Dispatcher.URL, dopts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDispatcher(d))
	}
	return opts, nil
}
