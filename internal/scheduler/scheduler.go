// Package scheduler decides when research cycles run. The mode and interval
// adapt to pipeline backlog, recent success and discovery drought.
//
// All decisions and the cycle-start commit happen under one mutex so two
// cycles never overlap. Observers read a published snapshot and never block
// on a running cycle.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-lab/internal/clock"
	"strategy-lab/internal/observability"
)

// Mode is the research cadence.
type Mode string

const (
	ModeScanning     Mode = "SCANNING"
	ModeBalanced     Mode = "BALANCED"
	ModeDeepResearch Mode = "DEEP_RESEARCH"
)

// Trigger identifies what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "SCHEDULED"
	TriggerRegime    Trigger = "REGIME"
	TriggerFeedback  Trigger = "FEEDBACK"
	TriggerManual    Trigger = "MANUAL"
)

// Interval bounds.
const (
	MinInterval      = time.Hour
	BaselineInterval = 2 * time.Hour
	MaxInterval      = 6 * time.Hour
)

// Mode selection thresholds.
const (
	BacklogPendingReview = 10
	BacklogInLab         = 5
	SuccessWindow        = 10
	MinSuccessSamples    = 3
	LowSuccessRate       = 0.20
	DiscoveryDrought     = 8 * time.Hour
)

// Mode reasons.
const (
	ReasonBacklog     = "pipeline backlog"
	ReasonLowSuccess  = "low success rate"
	ReasonDrought     = "no recent discovery"
	ReasonEmpty       = "empty pipeline"
	ReasonSteadyState = "steady state"
)

// Signals are the pipeline observations a mode decision is based on.
type Signals struct {
	PendingReview int
	InLab         int
}

// Outcome is the result of a finished cycle.
type Outcome struct {
	Err        error
	Discovered int // candidates that survived dedup and were not rejected
}

// Status is an immutable snapshot of the scheduler state.
type Status struct {
	Mode           Mode              `json:"mode"`
	Interval       time.Duration     `json:"interval"`
	Reason         string            `json:"reason"`
	Running        bool              `json:"running"`
	RunningTrigger Trigger           `json:"running_trigger,omitempty"`
	LastCycleStart map[Trigger]int64 `json:"last_cycle_start"` // unix ms
	LastDiscovery  int64             `json:"last_discovery"`   // unix ms, 0 = never
	SuccessRate    float64           `json:"success_rate"`
	Samples        int               `json:"samples"`
	Signals        Signals           `json:"signals"`
}

// Options configures a Scheduler.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
}

// Scheduler owns the adaptive research state. Create one per process and
// inject it; there is no package-level instance.
type Scheduler struct {
	mu             sync.Mutex
	clock          clock.Clock
	logger         *zap.Logger
	startedAt      time.Time
	mode           Mode
	interval       time.Duration
	reason         string
	signals        Signals
	running        bool
	runningTrigger Trigger
	lastStart      map[Trigger]time.Time
	lastAny        time.Time
	lastDiscovery  time.Time
	history        []bool // most recent last, capped at SuccessWindow

	status atomic.Pointer[Status]
}

// New creates a Scheduler in BALANCED mode at the baseline interval.
func New(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		clock:     clk,
		logger:    logger.Named("scheduler"),
		startedAt: clk.Now(),
		mode:      ModeBalanced,
		interval:  BaselineInterval,
		reason:    ReasonSteadyState,
		lastStart: make(map[Trigger]time.Time),
	}
	s.publishLocked()
	return s
}

// Decide is the pure mode rule. First match wins.
func Decide(sig Signals, history []bool, sinceDiscovery time.Duration) (Mode, time.Duration, string) {
	if sig.PendingReview >= BacklogPendingReview || sig.InLab >= BacklogInLab {
		return ModeDeepResearch, MaxInterval, ReasonBacklog
	}
	if rate, n := successRate(history); n >= MinSuccessSamples && rate < LowSuccessRate {
		return ModeDeepResearch, MaxInterval, ReasonLowSuccess
	}
	if sinceDiscovery > DiscoveryDrought {
		return ModeScanning, MinInterval, ReasonDrought
	}
	if sig.PendingReview == 0 && sig.InLab == 0 {
		return ModeScanning, MinInterval, ReasonEmpty
	}
	return ModeBalanced, BaselineInterval, ReasonSteadyState
}

// Recompute updates the mode from fresh pipeline signals.
func (s *Scheduler) Recompute(sig Signals) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	mode, interval, reason := Decide(sig, s.history, now.Sub(s.discoveryBaseline()))
	if mode != s.mode {
		s.logger.Info("mode changed",
			zap.String("from", string(s.mode)),
			zap.String("to", string(mode)),
			zap.Duration("interval", interval),
			zap.String("reason", reason),
		)
	}
	s.mode, s.interval, s.reason, s.signals = mode, interval, reason, sig
	observability.SetSchedulerMode(string(mode), interval)
	return *s.publishLocked()
}

// ShouldRun reports whether a scheduled cycle is due at now. It has no side effects.
func (s *Scheduler) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dueLocked(now)
}

// TryBegin atomically checks and claims the cycle slot. Forced requests skip
// the interval gate but never the running guard; a forced request that
// finds a cycle running is dropped. The start timestamp is committed before
// the cycle runs so a failing cycle cannot cause a retry storm.
func (s *Scheduler) TryBegin(trigger Trigger, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.running {
		if force {
			s.logger.Info("cycle running, forced request dropped", zap.String("trigger", string(trigger)))
			observability.RecordForcedDropped(string(trigger))
		}
		return false
	}
	if !force && !s.dueLocked(now) {
		return false
	}

	s.running = true
	s.runningTrigger = trigger
	s.lastStart[trigger] = now
	s.lastAny = now
	s.publishLocked()
	return true
}

// End releases the cycle slot and records its outcome.
func (s *Scheduler) End(out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.runningTrigger = ""

	success := out.Err == nil && out.Discovered > 0
	s.history = append(s.history, success)
	if len(s.history) > SuccessWindow {
		s.history = s.history[len(s.history)-SuccessWindow:]
	}
	if out.Discovered > 0 {
		s.lastDiscovery = s.clock.Now()
	}
	s.publishLocked()
}

// Status returns the latest snapshot without taking the scheduler lock.
func (s *Scheduler) Status() Status {
	return *s.status.Load()
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	return s.Status().Mode
}

func (s *Scheduler) dueLocked(now time.Time) bool {
	if s.running {
		return false
	}
	if s.lastAny.IsZero() {
		return true
	}
	return now.Sub(s.lastAny) >= s.interval
}

func (s *Scheduler) discoveryBaseline() time.Time {
	if s.lastDiscovery.IsZero() {
		return s.startedAt
	}
	return s.lastDiscovery
}

func (s *Scheduler) publishLocked() *Status {
	starts := make(map[Trigger]int64, len(s.lastStart))
	for k, v := range s.lastStart {
		starts[k] = v.UnixMilli()
	}
	var lastDiscovery int64
	if !s.lastDiscovery.IsZero() {
		lastDiscovery = s.lastDiscovery.UnixMilli()
	}
	rate, n := successRate(s.history)

	st := &Status{
		Mode:           s.mode,
		Interval:       s.interval,
		Reason:         s.reason,
		Running:        s.running,
		RunningTrigger: s.runningTrigger,
		LastCycleStart: starts,
		LastDiscovery:  lastDiscovery,
		SuccessRate:    rate,
		Samples:        n,
		Signals:        s.signals,
	}
	s.status.Store(st)
	return st
}

func successRate(history []bool) (float64, int) {
	if len(history) == 0 {
		return 0, 0
	}
	ok := 0
	for _, h := range history {
		if h {
			ok++
		}
	}
	return float64(ok) / float64(len(history)), len(history)
}
