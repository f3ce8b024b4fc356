// Package generator is the boundary to external candidate generators.
// Generators are black boxes; this package turns their output into typed
// drafts and never interprets strategy content.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/observability"
)

// ErrProviderUnavailable is returned when no provider produced a result.
var ErrProviderUnavailable = errors.New("candidate provider unavailable")

// FailureContext summarises a failing bot for a feedback research cycle.
type FailureContext struct {
	LoopID      string              `json:"loop_id"`
	BotID       string              `json:"bot_id"`
	BotName     string              `json:"bot_name,omitempty"`
	Archetype   string              `json:"archetype,omitempty"`
	ReasonCodes []domain.ReasonCode `json:"reason_codes"`
	Deltas      map[string]float64  `json:"performance_deltas,omitempty"`
	Regime      domain.Regime       `json:"regime,omitempty"`
	Lineage     []string            `json:"lineage,omitempty"`
}

// Context steers one generation request.
type Context struct {
	TraceID       string          `json:"trace_id"`
	Mode          string          `json:"mode"`
	Depth         int             `json:"depth"`
	RecencyHours  int             `json:"recency_hours"`
	Regime        domain.Regime   `json:"regime,omitempty"`
	RegimeTrigger bool            `json:"regime_trigger,omitempty"`
	SourceFailure *FailureContext `json:"source_failure,omitempty"`
}

// Draft is a generated candidate with boundary defaults applied but not yet
// validated against the archetype vocabulary.
type Draft struct {
	StrategyName        string
	Archetype           string
	Hypothesis          string
	Rules               domain.Rules
	RulesJSON           []byte // raw rules payload, may embed an archetype
	Timeframe           string
	Symbol              string
	Confidence          int
	ResearchConfidence  int
	StructuralSoundness int
	RiskParams          *domain.RiskParams
}

// Result is the output of one generation request.
type Result struct {
	Provider string
	Drafts   []Draft
	Parse    Kind   // how the raw output parsed
	Repair   string // repair strategy applied, empty when none
}

// Generator produces candidate drafts.
type Generator interface {
	Name() string
	Generate(ctx context.Context, gc Context) (Result, error)
}

// Cascade tries providers in order and returns the first success.
type Cascade struct {
	providers []Generator
	logger    *zap.Logger
}

// NewCascade creates a cascade over providers.
func NewCascade(logger *zap.Logger, providers ...Generator) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{providers: providers, logger: logger.Named("generator")}
}

// Name returns the cascade name.
func (c *Cascade) Name() string { return "cascade" }

// Generate calls each provider until one succeeds.
func (c *Cascade) Generate(ctx context.Context, gc Context) (Result, error) {
	var lastErr error
	for _, p := range c.providers {
		start := time.Now()
		res, err := p.Generate(ctx, gc)
		observability.RecordGeneratorCall(p.Name(), time.Since(start), err)
		if err == nil {
			if res.Provider == "" {
				res.Provider = p.Name()
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.String("trace_id", gc.TraceID),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr == nil {
		return Result{}, fmt.Errorf("%w: no providers configured", ErrProviderUnavailable)
	}
	return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// Stub returns fixed drafts. Used for offline runs and tests.
type Stub struct {
	Label  string
	Drafts []Draft
	Err    error

	mu    sync.Mutex
	calls []Context
}

// Name returns the stub label.
func (s *Stub) Name() string {
	if s.Label == "" {
		return "stub"
	}
	return s.Label
}

// Generate returns a copy of the fixed drafts or the configured error.
func (s *Stub) Generate(_ context.Context, gc Context) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, gc)
	s.mu.Unlock()
	if s.Err != nil {
		return Result{}, s.Err
	}
	drafts := make([]Draft, len(s.Drafts))
	copy(drafts, s.Drafts)
	return Result{Provider: s.Name(), Drafts: drafts, Parse: KindOK}, nil
}

// Calls returns every context the stub was asked to generate for.
func (s *Stub) Calls() []Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Context(nil), s.calls...)
}

// Fixtures returns a deterministic set of drafts spanning several archetypes.
func Fixtures() []Draft {
	return []Draft{
		{
			StrategyName: "BTC Breakout Retest 15m",
			Archetype:    "breakout_retest",
			Hypothesis:   "Breakouts above the prior session high that retest the level continue higher",
			Rules: domain.Rules{
				Entry:        []string{"close above prior session high", "retest holds within 0.2%"},
				Exit:         []string{"trail stop at 1.5 ATR"},
				Risk:         []string{"stop below retest low"},
				Filters:      []string{"volume above 20-bar average"},
				Invalidation: []string{"close back inside range"},
			},
			Timeframe:           "15m",
			Symbol:              "BTC-USD",
			Confidence:          72,
			ResearchConfidence:  18,
			StructuralSoundness: 20,
		},
		{
			StrategyName: "ETH Bollinger Squeeze",
			Archetype:    "volatility_squeeze",
			Hypothesis:   "Band width contraction precedes directional expansion",
			Rules: domain.Rules{
				Entry:   []string{"bandwidth at 120-bar low", "break of upper band"},
				Exit:    []string{"close below middle band"},
				Risk:    []string{"stop at opposite band"},
				Filters: []string{"adx rising"},
			},
			Timeframe:           "1h",
			Symbol:              "ETH-USD",
			Confidence:          58,
			ResearchConfidence:  14,
			StructuralSoundness: 17,
		},
		{
			StrategyName: "SPY VWAP Reversion",
			Hypothesis:   "Intraday extensions beyond two deviations from VWAP revert",
			Rules: domain.Rules{
				Entry: []string{"price two deviations below vwap", "rsi below 25"},
				Exit:  []string{"touch vwap"},
				Risk:  []string{"stop at three deviations"},
			},
			Timeframe:           "5m",
			Symbol:              "SPY",
			Confidence:          45,
			ResearchConfidence:  6,
			StructuralSoundness: 18,
		},
	}
}
