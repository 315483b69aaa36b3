package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/corpus"
	"storyloom/internal/entities"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/runtimecfg"
	"storyloom/internal/store"
	"storyloom/internal/universe"
)

// Orchestrator owns the tick scheduler and all lifecycle state transitions.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	runtime  *runtimecfg.Manager
	gen      generation.Service
	notifier notifications.Service
	logger   *slog.Logger

	corpus    *corpus.Cache
	extractor *entities.Extractor
	universe  *universe.Builder

	// tickMu serializes the tick body and manual chapter generation.
	// backfillMu serializes cover backfill batches independently.
	tickMu     sync.Mutex
	backfillMu sync.Mutex

	now     func() time.Time
	sleeper func(time.Duration)

	// mu guards the scheduler bookkeeping below.
	mu              sync.Mutex
	dirty           map[string]struct{}
	fullRebuild     bool
	lastMetaAt      time.Time
	lastBackfillAt  time.Time
	lastSummary     *BackfillSummary
	backfillRunning bool
	lastTickAt      time.Time
	lastTickErr     error

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleeper overrides how backfill pauses are performed (used in tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleeper = sleeper
	}
}

// New constructs an orchestrator with its meta-analysis pipeline wired in.
func New(cfg *config.Config, st *store.Store, gen generation.Service, notifier notifications.Service, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		runtime:   runtimecfg.NewManager(st, cfg),
		gen:       gen,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "orchestrator"),
		corpus:    corpus.NewCache(st, logger, cfg.Meta.MaxCorpusChapters),
		extractor: entities.NewExtractor(st, logger, cfg.Meta.MinOccurrences),
		universe:  universe.NewBuilder(st, logger, cfg.Meta.MinLinkWeight),
		now:       time.Now,
		dirty:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins the periodic tick loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(runCtx)
	o.logger.Info("orchestrator started",
		logging.Int("tick_interval_seconds", o.cfg.Worker.TickInterval),
	)
	return nil
}

// Stop terminates the tick loop and waits for the current cycle to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Worker.TickInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// RuntimeConfig returns the current merged runtime configuration.
func (o *Orchestrator) RuntimeConfig(ctx context.Context) (runtimecfg.Config, error) {
	return o.runtime.Load(ctx)
}

// ApplyRuntimeConfig validates and persists runtime configuration updates.
func (o *Orchestrator) ApplyRuntimeConfig(ctx context.Context, updates map[string]any) (runtimecfg.Config, error) {
	return o.runtime.Apply(ctx, updates)
}

func (o *Orchestrator) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if o.sleeper != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.sleeper(delay)
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) markDirty(storyID string) {
	o.mu.Lock()
	o.dirty[storyID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) notifyError(ctx context.Context, err error, label string) {
	if o.notifier == nil {
		return
	}
	if notifyErr := o.notifier.NotifyError(ctx, err, label); notifyErr != nil {
		o.logger.Warn("error notification failed", logging.Error(notifyErr))
	}
}
