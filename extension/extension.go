// Package extension provides the Forge extension adapter for paystream.
//
// It implements the forge.Extension interface to integrate the streaming
// ledger into a Forge application with DI registration, lifecycle
// management and an optional HTTP API.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.paystream" or
// "paystream" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/api"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
	"github.com/xraph/paystream/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "paystream"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Continuous payment streaming ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts paystream as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *paystream.Ledger
	store      store.Store
	dispatcher settlement.Dispatcher
	ledgerOpts []paystream.Option
	handler    http.Handler
}

// New creates a new paystream Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *paystream.Ledger { return e.engine }

// Handler returns the HTTP API mounted under BasePath, or nil when routes
// are disabled or Register has not run.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*paystream.Ledger, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if e.handler == nil {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (http.Handler, error) {
		return e.handler, nil
	})
}

// build constructs the engine and HTTP handler from the resolved config.
func (e *Extension) build() error {
	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}

	st := e.store
	if e.config.DisableMigrate {
		st = noMigrate{st}
	}
	e.engine = paystream.New(st, opts...)

	if !e.config.DisableRoutes {
		e.handler = mount(e.config.BasePath, api.New(e.engine).Handler())
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("paystream: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("paystream: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs paystream.Option values from the resolved config.
// A programmatic dispatcher replaces one built from Dispatcher.URL, and
// pass-through options are applied last.
func (e *Extension) buildLedgerOpts() ([]paystream.Option, error) {
	opts, err := e.config.Options()
	if err != nil {
		return nil, err
	}
	if e.dispatcher != nil {
		opts = append(opts, paystream.WithDispatcher(e.dispatcher))
	}
	return append(opts, e.ledgerOpts...), nil
}

// mount serves h under basePath.
func mount(basePath string, h http.Handler) http.Handler {
	basePath = "/" + strings.Trim(basePath, "/")
	if basePath == "/" {
		return h
	}
	r := chi.NewRouter()
	r.Mount(basePath, h)
	return r
}

// noMigrate skips schema migration for hosts that manage it themselves.
type noMigrate struct {
	store.Store
}

func (noMigrate) Migrate(context.Context) error { return nil }

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("paystream: configuration is required but not found in config files; " +
				"ensure 'extensions.paystream' or 'paystream' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("paystream: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("sweep_batch_size", e.config.SweepBatchSize),
		forge.F("escrow_account", e.config.EscrowAccount),
		forge.F("dispatcher_url", e.config.Dispatcher.URL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.paystream", "paystream"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("paystream: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("paystream: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.EscrowAccount == "" {
		yamlConfig.EscrowAccount = programmaticConfig.EscrowAccount
	}
	if yamlConfig.Dispatcher.URL == "" {
		yamlConfig.Dispatcher = programmaticConfig.Dispatcher
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.SweepBatchSize == 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
