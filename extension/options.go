package extension

import (
	"time"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/plugin"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
)

// Option configures the paystream Forge extension.
type Option func(*Extension)

// WithStore sets the store for the paystream engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithDispatcher sets the settlement dispatcher. It takes precedence over a
// dispatcher URL in the configuration.
func WithDispatcher(d settlement.Dispatcher) Option {
	return func(e *Extension) {
		e.dispatcher = d
	}
}

// WithLedgerOption passes a paystream.Option through to the underlying engine.
func WithLedgerOption(opt paystream.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a paystream plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, paystream.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for paystream routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSweepInterval sets how often due pending streams are activated.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithSweepBatchSize caps the streams activated per sweep.
func WithSweepBatchSize(n int) Option {
	return func(e *Extension) { e.config.SweepBatchSize = n }
}

// WithEscrowAccount makes account the source of every transfer.
func WithEscrowAccount(account string) Option {
	return func(e *Extension) { e.config.EscrowAccount = account }
}
