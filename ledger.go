package paystream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/paystream/clock"
	"github.com/xraph/paystream/plugin"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
)

// Ledger is the streaming payment engine. It owns all accrual, claim, pause
// and cancel arithmetic; persistence and fund movement are delegated to the
// store and the settlement dispatcher.
type Ledger struct {
	store      store.Store
	dispatcher settlement.Dispatcher
	clock      clock.Clock
	plugins    *plugin.Registry
	logger     *slog.Logger
	locks      *keyedMutex

	// Funds are moved out of this account when set, otherwise out of the
	// stream's sender.
	escrowAccount string

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	sweepInterval  time.Duration
	sweepBatchSize int
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:          s,
		clock:          clock.System{},
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		locks:          newKeyedMutex(),
		stopChan:       make(chan struct{}),
		sweepInterval:  DefaultSweepInterval,
		sweepBatchSize: DefaultSweepBatchSize,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithDispatcher sets the settlement dispatcher.
func WithDispatcher(d settlement.Dispatcher) Option {
	return func(l *Ledger) {
		l.dispatcher = d
	}
}

// WithEscrowAccount makes every transfer originate from account.
func WithEscrowAccount(account string) Option {
	return func(l *Ledger) {
		l.escrowAccount = account
	}
}

// WithSweepInterval sets how often due pending streams are activated.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithSweepBatchSize caps how many streams one sweep activates.
func WithSweepBatchSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepBatchSize = n
		}
	}
}

// Start migrates the store, initialises plugins and begins the activation
// sweeper.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.wg.Add(1)
	go l.activationWorker(context.WithoutCancel(ctx))

	l.logger.Info("paystream started",
		"sweep_interval", l.sweepInterval,
		"sweep_batch_size", l.sweepBatchSize,
		"dispatcher", l.dispatcher != nil,
	)

	return nil
}

// Stop shuts down the Ledger and closes the store.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// activationWorker persists pending -> active for streams whose start time
// has passed. Reads already treat them as active; this keeps stored state
// and listings in step.
func (l *Ledger) activationWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if _, err := l.SweepDue(ctx); err != nil {
				l.logger.Error("activation sweep failed", "error", err)
			}
		}
	}
}

// SweepDue activates up to one batch of due pending streams and returns how
// many were activated.
func (l *Ledger) SweepDue(ctx context.Context) (int, error) {
	start := time.Now()
	due, err := l.store.ListDueStreams(ctx, l.clock.Now(), l.sweepBatchSize)
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, s := range due {
		ok, err := l.activateDue(ctx, s.ID)
		if err != nil {
			l.logger.Warn("activate due stream failed",
				"stream_id", s.ID.String(),
				"error", err,
			)
			continue
		}
		if ok {
			activated++
		}
	}

	if activated > 0 {
		l.logger.Debug("activated due streams",
			"count", activated,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	return activated, nil
}

// Plugins exposes the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Store exposes the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.clock.Now() }
