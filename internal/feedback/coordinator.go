// Package feedback tracks the arc from a bot failure to its repair,
// replacement or abandonment.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/clock"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/storage"
)

// Coordinator errors.
var (
	// ErrInvalidTransition is returned when a loop cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid loop transition")

	// ErrLoopNotFound is returned when a tracking id matches no loop.
	ErrLoopNotFound = errors.New("feedback loop not found")

	// ErrMissingResolution is returned when resolving without a resolution code.
	ErrMissingResolution = errors.New("resolution code required")

	// ErrMissingNote is returned when abandoning without a note.
	ErrMissingNote = errors.New("abandon note required")
)

// Resolution codes.
const (
	ResolutionReplacementPromoted = "REPLACEMENT_PROMOTED"
	ResolutionRepaired            = "REPAIRED"
	ResolutionManual              = "MANUAL"
)

// Sweep limits. MaxLoopAge bounds the time to find a candidate; a loop under
// test gets the testing window instead, counted from when testing started.
// The default window outlasts the longest minimum evaluation period (60 days).
const (
	MaxResearchAttempts  = 3
	MaxLoopAge           = 72 * time.Hour
	DefaultTestingWindow = 75 * 24 * time.Hour
)

var transitions = map[domain.LoopState][]domain.LoopState{
	domain.LoopIdle:                   {domain.LoopFailureDetected},
	domain.LoopFailureDetected:        {domain.LoopResearchingReplacement, domain.LoopResearchingRepair, domain.LoopAbandoned},
	domain.LoopResearchingReplacement: {domain.LoopCandidateFound, domain.LoopAbandoned},
	domain.LoopResearchingRepair:      {domain.LoopCandidateFound, domain.LoopAbandoned},
	domain.LoopCandidateFound:         {domain.LoopCandidateFound, domain.LoopCandidateTesting, domain.LoopResolved, domain.LoopAbandoned},
	domain.LoopCandidateTesting:       {domain.LoopResolved, domain.LoopAbandoned},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to domain.LoopState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Branch picks the research path for a failure. A single STAGNATION or
// LOW_SHARPE signal is repairable; anything else needs a replacement.
func Branch(codes []domain.ReasonCode) domain.LoopState {
	if len(codes) == 1 && (codes[0] == domain.ReasonStagnation || codes[0] == domain.ReasonLowSharpe) {
		return domain.LoopResearchingRepair
	}
	return domain.LoopResearchingReplacement
}

// Options configures a Coordinator.
type Options struct {
	Store    storage.FeedbackLoopStore
	Recorder *activity.Recorder
	Logger   *zap.Logger
	Clock    clock.Clock

	// TestingWindow defaults to DefaultTestingWindow.
	TestingWindow time.Duration
}

// Coordinator drives feedback loops through their state machine. Transitions
// are serialized so a load-modify-store never interleaves within a process.
type Coordinator struct {
	mu       sync.Mutex
	store    storage.FeedbackLoopStore
	recorder *activity.Recorder
	logger   *zap.Logger
	clock    clock.Clock

	testingWindow time.Duration
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	window := opts.TestingWindow
	if window <= 0 {
		window = DefaultTestingWindow
	}
	return &Coordinator{
		store:         opts.Store,
		recorder:      opts.Recorder,
		logger:        logger.Named("feedback"),
		clock:         clk,
		testingWindow: window,
	}
}

// Open starts a loop for a failing bot. If the bot already has an active
// loop it is returned unchanged with opened=false.
func (c *Coordinator) Open(ctx context.Context, report failure.Report) (*domain.FeedbackLoop, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.GetActiveByBot(ctx, report.BotID)
	if err == nil {
		c.logger.Debug("loop already open",
			zap.String("bot_id", report.BotID),
			zap.String("tracking_id", existing.TrackingID),
		)
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup active loop: %w", err)
	}

	now := c.clock.Now().UnixMilli()
	loop := &domain.FeedbackLoop{
		TrackingID:         idhash.NewTrackingID(),
		SourceLabBotID:     report.BotID,
		State:              domain.LoopIdle,
		FailureReasonCodes: append([]domain.ReasonCode(nil), report.Codes...),
		Severity:           report.Severity,
		Regime:             report.Regime,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.advance(ctx, loop, domain.LoopFailureDetected); err != nil {
		return nil, false, err
	}
	if err := c.advance(ctx, loop, Branch(report.Codes)); err != nil {
		return nil, false, err
	}

	if err := c.store.Insert(ctx, loop); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Another writer won the race; hand back its loop.
			if winner, gerr := c.store.GetActiveByBot(ctx, report.BotID); gerr == nil {
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert loop: %w", err)
	}

	c.refreshGauge(ctx)
	return loop, true, nil
}

// RecordResearchAttempt counts one research cycle run for a loop.
func (c *Coordinator) RecordResearchAttempt(ctx context.Context, trackingID string) (*domain.FeedbackLoop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loop, err := c.get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if !loop.State.IsResearching() {
		return nil, fmt.Errorf("%w: research attempt in %s", ErrInvalidTransition, loop.State)
	}
	loop.ResearchAttempts++
	loop.UpdatedAt = c.clock.Now().UnixMilli()
	if err := c.store.Update(ctx, loop); err != nil {
		return nil, fmt.Errorf("update loop: %w", err)
	}
	return loop, nil
}

// CandidateFound links a promoted candidate to the loop. The candidate becomes
// the best candidate; later candidates overwrite it.
func (c *Coordinator) CandidateFound(ctx context.Context, trackingID, candidateID string) (*domain.FeedbackLoop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loop, err := c.get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if err := c.transition(ctx, loop, domain.LoopCandidateFound, func(l *domain.FeedbackLoop) {
		l.CandidateIDs = append(l.CandidateIDs, candidateID)
		best := candidateID
		l.BestCandidateID = &best
	}, "candidate_id", candidateID); err != nil {
		return nil, err
	}
	return loop, nil
}

// StartTesting marks the loop's replacement bot as under evaluation.
func (c *Coordinator) StartTesting(ctx context.Context, trackingID, replacementBotID string) (*domain.FeedbackLoop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loop, err := c.get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if err := c.transition(ctx, loop, domain.LoopCandidateTesting, func(l *domain.FeedbackLoop) {
		id := replacementBotID
		l.ReplacementBotID = &id
	}, "replacement_bot_id", replacementBotID); err != nil {
		return nil, err
	}
	return loop, nil
}

// Resolve closes the loop successfully.
func (c *Coordinator) Resolve(ctx context.Context, trackingID, code string, replacementBotID *string) (*domain.FeedbackLoop, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMissingResolution
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loop, err := c.get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if err := c.transition(ctx, loop, domain.LoopResolved, func(l *domain.FeedbackLoop) {
		l.ResolutionCode = &code
		if replacementBotID != nil {
			id := *replacementBotID
			l.ReplacementBotID = &id
		}
	}, "resolution", code); err != nil {
		return nil, err
	}
	c.refreshGauge(ctx)
	return loop, nil
}

// Abandon closes the loop without a fix.
func (c *Coordinator) Abandon(ctx context.Context, trackingID, note string) (*domain.FeedbackLoop, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrMissingNote
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loop, err := c.get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if err := c.abandonLocked(ctx, loop, note); err != nil {
		return nil, err
	}
	c.refreshGauge(ctx)
	return loop, nil
}

// Sweep abandons loops that ran out of research attempts without a
// candidate, loops older than MaxLoopAge that are not yet testing, and loops
// whose replacement stayed under test past the testing window.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loops, err := c.store.GetActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("get active loops: %w", err)
	}

	now := c.clock.Now()
	abandoned := 0
	for _, l := range loops {
		var note string
		switch {
		case l.State == domain.LoopCandidateTesting:
			if now.Sub(time.UnixMilli(l.UpdatedAt)) <= c.testingWindow {
				continue
			}
			note = "replacement not promoted within " + strconv.Itoa(int(c.testingWindow.Hours()/24)) + " days of testing"
		case l.State.IsResearching() && l.ResearchAttempts >= MaxResearchAttempts && len(l.CandidateIDs) == 0:
			note = "no candidate after " + strconv.Itoa(l.ResearchAttempts) + " research attempts"
		case now.Sub(time.UnixMilli(l.CreatedAt)) > MaxLoopAge:
			note = "open longer than " + MaxLoopAge.String()
		default:
			continue
		}
		if err := c.abandonLocked(ctx, l, note); err != nil {
			c.logger.Warn("sweep abandon failed", zap.String("tracking_id", l.TrackingID), zap.Error(err))
			continue
		}
		abandoned++
	}

	c.refreshGauge(ctx)
	return abandoned, nil
}

// Get returns a loop by tracking id.
func (c *Coordinator) Get(ctx context.Context, trackingID string) (*domain.FeedbackLoop, error) {
	return c.get(ctx, trackingID)
}

// ActiveForBot returns the active loop of a source bot, or ErrLoopNotFound.
func (c *Coordinator) ActiveForBot(ctx context.Context, botID string) (*domain.FeedbackLoop, error) {
	l, err := c.store.GetActiveByBot(ctx, botID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrLoopNotFound
	}
	return l, err
}

// ActiveForReplacement returns the active loop testing a replacement bot, or ErrLoopNotFound.
func (c *Coordinator) ActiveForReplacement(ctx context.Context, botID string) (*domain.FeedbackLoop, error) {
	l, err := c.store.GetActiveByReplacementBot(ctx, botID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrLoopNotFound
	}
	return l, err
}

// Active lists all open loops.
func (c *Coordinator) Active(ctx context.Context) ([]*domain.FeedbackLoop, error) {
	return c.store.GetActive(ctx)
}

func (c *Coordinator) get(ctx context.Context, trackingID string) (*domain.FeedbackLoop, error) {
	l, err := c.store.GetByID(ctx, trackingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLoopNotFound, trackingID)
	}
	if err != nil {
		return nil, fmt.Errorf("get loop: %w", err)
	}
	return l, nil
}

func (c *Coordinator) abandonLocked(ctx context.Context, loop *domain.FeedbackLoop, note string) error {
	return c.transition(ctx, loop, domain.LoopAbandoned, func(l *domain.FeedbackLoop) {
		n := note
		l.Note = &n
	}, "note", note)
}

// transition validates, mutates, persists and records a stored loop.
func (c *Coordinator) transition(ctx context.Context, loop *domain.FeedbackLoop, to domain.LoopState, mutate func(*domain.FeedbackLoop), attrKey, attrVal string) error {
	from := loop.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	next := *loop
	next.CandidateIDs = append([]string(nil), loop.CandidateIDs...)
	if mutate != nil {
		mutate(&next)
	}
	next.State = to
	next.UpdatedAt = c.clock.Now().UnixMilli()

	if err := c.store.Update(ctx, &next); err != nil {
		return fmt.Errorf("update loop: %w", err)
	}
	*loop = next
	c.recordTransition(ctx, loop, from, attrKey, attrVal)
	return nil
}

// advance moves a loop that has not been stored yet.
func (c *Coordinator) advance(ctx context.Context, loop *domain.FeedbackLoop, to domain.LoopState) error {
	from := loop.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	loop.State = to
	c.recordTransition(ctx, loop, from, "", "")
	return nil
}

func (c *Coordinator) recordTransition(ctx context.Context, loop *domain.FeedbackLoop, from domain.LoopState, attrKey, attrVal string) {
	observability.RecordLoopTransition(string(loop.State))
	if c.recorder == nil {
		return
	}
	attrs := map[string]string{
		"from":       string(from),
		"to":         string(loop.State),
		"source_bot": loop.SourceLabBotID,
	}
	if attrVal != "" {
		attrs[attrKey] = attrVal
	}
	c.recorder.Record(ctx, domain.ActivityLoopTransition, loop.TrackingID, "loop transition", attrs)
}

func (c *Coordinator) refreshGauge(ctx context.Context) {
	active, err := c.store.GetActive(ctx)
	if err != nil {
		return
	}
	observability.SetOpenLoops(len(active))
}
