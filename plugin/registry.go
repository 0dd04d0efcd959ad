package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// DefaultHookTimeout bounds how long a single hook may run.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches hooks to the ones
// that implement them. Hook lists are cached at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit             []OnInit
	onShutdown         []OnShutdown
	onStreamCreated    []OnStreamCreated
	onStreamActivated  []OnStreamActivated
	onStreamClaimed    []OnStreamClaimed
	onStreamPaused     []OnStreamPaused
	onStreamResumed    []OnStreamResumed
	onStreamCancelled  []OnStreamCancelled
	onStreamCompleted  []OnStreamCompleted
	onSettlementFailed []OnSettlementFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	for name, ok := range map[string]bool{
		"OnInit":             cache(p, &r.onInit),
		"OnShutdown":         cache(p, &r.onShutdown),
		"OnStreamCreated":    cache(p, &r.onStreamCreated),
		"OnStreamActivated":  cache(p, &r.onStreamActivated),
		"OnStreamClaimed":    cache(p, &r.onStreamClaimed),
		"OnStreamPaused":     cache(p, &r.onStreamPaused),
		"OnStreamResumed":    cache(p, &r.onStreamResumed),
		"OnStreamCancelled":  cache(p, &r.onStreamCancelled),
		"OnStreamCompleted":  cache(p, &r.onStreamCompleted),
		"OnSettlementFailed": cache(p, &r.onSettlementFailed),
	} {
		if ok {
			hooks = append(hooks, name)
		}
	}
	sort.Strings(hooks)

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitStreamCreated emits a stream created event.
func (r *Registry) EmitStreamCreated(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamCreated", snapshot(r, &r.onStreamCreated), func(p OnStreamCreated) error {
		return p.OnStreamCreated(ctx, s.Clone())
	})
}

// EmitStreamActivated emits a stream activated event.
func (r *Registry) EmitStreamActivated(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamActivated", snapshot(r, &r.onStreamActivated), func(p OnStreamActivated) error {
		return p.OnStreamActivated(ctx, s.Clone())
	})
}

// EmitStreamClaimed emits a claim settled event.
func (r *Registry) EmitStreamClaimed(ctx context.Context, s *stream.Stream, amount types.Money, txRef string) {
	emit(ctx, r, "OnStreamClaimed", snapshot(r, &r.onStreamClaimed), func(p OnStreamClaimed) error {
		return p.OnStreamClaimed(ctx, s.Clone(), amount, txRef)
	})
}

// EmitStreamPaused emits a stream paused event.
func (r *Registry) EmitStreamPaused(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamPaused", snapshot(r, &r.onStreamPaused), func(p OnStreamPaused) error {
		return p.OnStreamPaused(ctx, s.Clone())
	})
}

// EmitStreamResumed emits a stream resumed event.
func (r *Registry) EmitStreamResumed(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamResumed", snapshot(r, &r.onStreamResumed), func(p OnStreamResumed) error {
		return p.OnStreamResumed(ctx, s.Clone())
	})
}

// EmitStreamCancelled emits a stream cancelled event.
func (r *Registry) EmitStreamCancelled(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamCancelled", snapshot(r, &r.onStreamCancelled), func(p OnStreamCancelled) error {
		return p.OnStreamCancelled(ctx, s.Clone())
	})
}

// EmitStreamCompleted emits a stream completed event.
func (r *Registry) EmitStreamCompleted(ctx context.Context, s *stream.Stream) {
	emit(ctx, r, "OnStreamCompleted", snapshot(r, &r.onStreamCompleted), func(p OnStreamCompleted) error {
		return p.OnStreamCompleted(ctx, s.Clone())
	})
}

// EmitSettlementFailed emits a dispatcher failure event.
func (r *Registry) EmitSettlementFailed(ctx context.Context, s *stream.Stream, leg settlement.Kind, amount types.Money, cause error) {
	emit(ctx, r, "OnSettlementFailed", snapshot(r, &r.onSettlementFailed), func(p OnSettlementFailed) error {
		return p.OnSettlementFailed(ctx, s.Clone(), leg, amount, cause)
	})
}

// cache appends p to list when it implements the hook type T.
func cache[T any](p Plugin, list *[]T) bool {
	v, ok := p.(T)
	if ok {
		*list = append(*list, v)
	}
	return ok
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// emit calls fn for each plugin, logging failures. Hooks never fail the
// operation that triggered them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
