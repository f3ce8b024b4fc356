// Package archetype maps free-text strategy descriptions to canonical
// archetypes and the evaluation thresholds that apply to them.
//
// Resolution is fail-closed: when no archetype can be determined the caller
// receives ErrNoArchetype and must reject the candidate or bot.
package archetype

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoArchetype is returned when no archetype can be determined.
var ErrNoArchetype = errors.New("archetype undeterminable")

// Canonical archetype names.
const (
	BreakoutRetest       = "breakout_retest"
	VolatilitySqueeze    = "volatility_squeeze"
	OpeningRangeBreakout = "opening_range_breakout"
	LiquiditySweep       = "liquidity_sweep"
	VWAPReversion        = "vwap_reversion"
	GapFade              = "gap_fade"
	PullbackContinuation = "pullback_continuation"
	MeanReversion        = "mean_reversion"
	TrendFollowing       = "trend_following"
	Momentum             = "momentum"
	RangeFade            = "range_fade"
	VolatilityExpansion  = "volatility_expansion"
)

var vocabulary = map[string]bool{
	BreakoutRetest:       true,
	VolatilitySqueeze:    true,
	OpeningRangeBreakout: true,
	LiquiditySweep:       true,
	VWAPReversion:        true,
	GapFade:              true,
	PullbackContinuation: true,
	MeanReversion:        true,
	TrendFollowing:       true,
	Momentum:             true,
	RangeFade:            true,
	VolatilityExpansion:  true,
}

// keywordRule maps a name pattern to an archetype.
type keywordRule struct {
	pattern   *regexp.Regexp
	archetype string
}

// keywordTable is evaluated in order and the first match wins. Specific
// patterns must precede generic ones ("squeeze" before "vol", "retest"
// before "breakout").
var keywordTable = []keywordRule{
	{regexp.MustCompile(`squeeze`), VolatilitySqueeze},
	{regexp.MustCompile(`retest`), BreakoutRetest},
	{regexp.MustCompile(`opening[ _-]?range|\borb\b`), OpeningRangeBreakout},
	{regexp.MustCompile(`sweep|stop[ _-]?hunt`), LiquiditySweep},
	{regexp.MustCompile(`vwap`), VWAPReversion},
	{regexp.MustCompile(`\bgap`), GapFade},
	{regexp.MustCompile(`pullback|continuation`), PullbackContinuation},
	{regexp.MustCompile(`breakout`), BreakoutRetest},
	{regexp.MustCompile(`revers|revert|\bmean\b|bollinger`), MeanReversion},
	{regexp.MustCompile(`trend|ema[ _-]?cross|moving[ _-]?average`), TrendFollowing},
	{regexp.MustCompile(`momentum|\brsi\b|macd`), Momentum},
	{regexp.MustCompile(`range|fade`), RangeFade},
	{regexp.MustCompile(`vol`), VolatilityExpansion},
}

// Method records which resolution step produced the archetype.
type Method string

const (
	MethodExplicit Method = "EXPLICIT"
	MethodEmbedded Method = "EMBEDDED"
	MethodInferred Method = "INFERRED"
)

// Input describes what is known about a strategy.
type Input struct {
	Explicit     string // optional archetype name
	RulesJSON    []byte // optional rules payload that may embed {"archetype": "..."}
	StrategyName string
	Timeframe    string
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Archetype  string
	Method     Method
	Class      StrategyClass
	Thresholds Thresholds
}

// Resolve determines the canonical archetype and its thresholds.
// Order: explicit name, embedded archetype, keyword inference on the name.
// Returns ErrNoArchetype when none match.
func Resolve(in Input) (Resolution, error) {
	name, method, ok := resolveName(in)
	if !ok {
		return Resolution{}, ErrNoArchetype
	}

	return Resolution{
		Archetype:  name,
		Method:     method,
		Class:      ClassForTimeframe(in.Timeframe),
		Thresholds: ThresholdsFor(name, in.Timeframe),
	}, nil
}

func resolveName(in Input) (string, Method, bool) {
	if name := Normalize(in.Explicit); IsKnown(name) {
		return name, MethodExplicit, true
	}

	if name := embeddedArchetype(in.RulesJSON); IsKnown(name) {
		return name, MethodEmbedded, true
	}

	if name, ok := Infer(in.StrategyName); ok {
		return name, MethodInferred, true
	}

	return "", "", false
}

// Infer matches a strategy name against the ordered keyword table.
func Infer(strategyName string) (string, bool) {
	lower := strings.ToLower(strategyName)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, rule := range keywordTable {
		if rule.pattern.MatchString(lower) {
			return rule.archetype, true
		}
	}
	return "", false
}

// Normalize lower-cases an archetype name and folds spaces and dashes to
// underscores.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// IsKnown reports whether name is a canonical archetype.
func IsKnown(name string) bool {
	return vocabulary[name]
}

func embeddedArchetype(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		Archetype string `json:"archetype"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return Normalize(probe.Archetype)
}
