// Package orchestrator runs the strategy lab: research cycles that turn
// generated ideas into dispositioned candidates and trial bots, and failure
// scans that recycle underperforming bots through feedback loops.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/clock"
	"strategy-lab/internal/config"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
	"strategy-lab/internal/feedback"
	"strategy-lab/internal/generator"
	"strategy-lab/internal/promotion"
	"strategy-lab/internal/scheduler"
	"strategy-lab/internal/stage"
	"strategy-lab/internal/storage"
)

// Defaults.
const (
	DefaultTickInterval = time.Minute
	DefaultScanInterval = 15 * time.Minute
	DefaultScanWorkers  = 4
	DefaultQueueTTL     = 14 * 24 * time.Hour
)

// Options configures an Engine.
type Options struct {
	// Required stores
	Candidates  storage.CandidateStore
	Bots        storage.BotStore
	Generations storage.GenerationStore
	Jobs        storage.JobStore
	Loops       storage.FeedbackLoopStore
	Activity    storage.ActivityStore

	Generator generator.Generator
	Scheduler *scheduler.Scheduler
	Settings  *config.Store

	// Optional; built from the stores when nil
	Detector *failure.Detector

	TickInterval time.Duration
	ScanInterval time.Duration
	ScanWorkers  int
	QueueTTL     time.Duration

	// LoopTestingWindow bounds how long a replacement may stay under test.
	LoopTestingWindow time.Duration

	Logger *zap.Logger
	Clock  clock.Clock
}

// Engine is the control-flow glue between the components.
type Engine struct {
	candidates  storage.CandidateStore
	bots        storage.BotStore
	generations storage.GenerationStore

	generator generator.Generator
	scheduler *scheduler.Scheduler
	settings  *config.Store
	promoter  *promotion.Promoter
	loops     *feedback.Coordinator
	advancer  *stage.Advancer
	detector  *failure.Detector
	recorder  *activity.Recorder

	tickInterval time.Duration
	scanInterval time.Duration
	scanWorkers  int
	queueTTL     time.Duration

	regime    atomic.Value // domain.Regime
	lastCycle atomic.Pointer[CycleReport]
	lastScan  atomic.Pointer[ScanReport]

	// forced cycles run in the background; RunLoop waits for them on exit
	wg sync.WaitGroup

	logger *zap.Logger
	clock  clock.Clock
}

// New creates an Engine and the components it owns.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(scheduler.Options{Clock: clk, Logger: logger})
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.NewStore(config.Default())
	}
	detector := opts.Detector
	if detector == nil {
		detector = failure.NewDetector(failure.DefaultThresholds())
	}

	recorder := activity.NewRecorder(activity.Options{Store: opts.Activity, Logger: logger, Clock: clk})
	loops := feedback.New(feedback.Options{
		Store:         opts.Loops,
		Recorder:      recorder,
		Logger:        logger,
		Clock:         clk,
		TestingWindow: opts.LoopTestingWindow,
	})

	e := &Engine{
		candidates:  opts.Candidates,
		bots:        opts.Bots,
		generations: opts.Generations,
		generator:   opts.Generator,
		scheduler:   sched,
		settings:    settings,
		promoter: promotion.New(promotion.Options{
			Candidates:  opts.Candidates,
			Bots:        opts.Bots,
			Generations: opts.Generations,
			Jobs:        opts.Jobs,
			Recorder:    recorder,
			Logger:      logger,
			Clock:       clk,
		}),
		loops: loops,
		advancer: stage.New(stage.Options{
			Bots:     opts.Bots,
			Settings: settings,
			Loops:    loops,
			Recorder: recorder,
			Logger:   logger,
			Clock:    clk,
		}),
		detector:     detector,
		recorder:     recorder,
		tickInterval: durationOr(opts.TickInterval, DefaultTickInterval),
		scanInterval: durationOr(opts.ScanInterval, DefaultScanInterval),
		scanWorkers:  opts.ScanWorkers,
		queueTTL:     durationOr(opts.QueueTTL, DefaultQueueTTL),
		logger:       logger.Named("engine"),
		clock:        clk,
	}
	if e.scanWorkers <= 0 {
		e.scanWorkers = DefaultScanWorkers
	}
	e.regime.Store(domain.RegimeUnknown)
	return e
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Loops exposes the feedback coordinator.
func (e *Engine) Loops() *feedback.Coordinator { return e.loops }

// Scheduler exposes the scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Settings exposes the operator settings store.
func (e *Engine) Settings() *config.Store { return e.settings }

// Regime returns the current market regime.
func (e *Engine) Regime() domain.Regime {
	return e.regime.Load().(domain.Regime)
}

// SetRegime records the current regime without triggering a cycle.
func (e *Engine) SetRegime(r domain.Regime) {
	e.regime.Store(r)
}

// OnRegimeChange records a new regime and requests a forced REGIME cycle.
func (e *Engine) OnRegimeChange(ctx context.Context, r domain.Regime) bool {
	if r == e.Regime() {
		return false
	}
	e.SetRegime(r)
	return e.Trigger(ctx, CycleRequest{Trigger: scheduler.TriggerRegime, Force: true})
}

// Status is the engine state published to observers.
type Status struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Regime    domain.Regime    `json:"regime"`
	LastCycle *CycleReport     `json:"last_cycle,omitempty"`
	LastScan  *ScanReport      `json:"last_scan,omitempty"`
}

// Status returns a snapshot. It never waits on a running cycle.
func (e *Engine) Status() Status {
	return Status{
		Scheduler: e.scheduler.Status(),
		Regime:    e.Regime(),
		LastCycle: e.lastCycle.Load(),
		LastScan:  e.lastScan.Load(),
	}
}

// RunLoop drives scheduled cycles and failure scans until ctx is done.
func (e *Engine) RunLoop(ctx context.Context) error {
	cycleTicker := e.clock.NewTicker(e.tickInterval)
	defer cycleTicker.Stop()
	scanTicker := e.clock.NewTicker(e.scanInterval)
	defer scanTicker.Stop()

	e.logger.Info("engine started",
		zap.Duration("tick_interval", e.tickInterval),
		zap.Duration("scan_interval", e.scanInterval),
	)
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-cycleTicker.C:
			e.tick(ctx)
		case <-scanTicker.C:
			if _, err := e.ScanFailures(ctx); err != nil {
				e.logger.Error("failure scan failed", zap.Error(err))
			}
			if _, err := e.ExpireQueued(ctx); err != nil {
				e.logger.Error("expire queued failed", zap.Error(err))
			}
			if _, err := e.RefreshNovelty(ctx); err != nil {
				e.logger.Error("refresh novelty failed", zap.Error(err))
			}
		}
	}
}

// tick runs a scheduled cycle when one is due.
func (e *Engine) tick(ctx context.Context) {
	e.recompute(ctx)
	if !e.scheduler.ShouldRun(e.clock.Now()) {
		return
	}
	if _, err := e.RunCycle(ctx, CycleRequest{Trigger: scheduler.TriggerScheduled}); err != nil {
		e.logger.Warn("scheduled cycle abandoned", zap.Error(err))
	}
}

// Wait blocks until background forced cycles finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
