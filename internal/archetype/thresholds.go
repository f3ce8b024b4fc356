package archetype

import (
	"regexp"
	"strings"
)

// StrategyClass groups timeframes with similar evaluation needs.
type StrategyClass string

const (
	ClassScalping StrategyClass = "SCALPING"
	ClassIntraday StrategyClass = "INTRADAY"
	ClassSwing    StrategyClass = "SWING"
	ClassPosition StrategyClass = "POSITION"
)

// Thresholds is the minimum evaluation window before performance verdicts.
type Thresholds struct {
	MinTrades  int
	MinDays    int
	MinRegimes int
}

var archetypeThresholds = map[string]Thresholds{
	BreakoutRetest:       {MinTrades: 40, MinDays: 21, MinRegimes: 2},
	VolatilitySqueeze:    {MinTrades: 35, MinDays: 21, MinRegimes: 2},
	MeanReversion:        {MinTrades: 60, MinDays: 14, MinRegimes: 2},
	TrendFollowing:       {MinTrades: 25, MinDays: 45, MinRegimes: 2},
	OpeningRangeBreakout: {MinTrades: 50, MinDays: 20, MinRegimes: 1},
}

var classThresholds = map[StrategyClass]Thresholds{
	ClassScalping: {MinTrades: 75, MinDays: 10, MinRegimes: 2},
	ClassIntraday: {MinTrades: 50, MinDays: 14, MinRegimes: 2},
	ClassSwing:    {MinTrades: 30, MinDays: 30, MinRegimes: 2},
	ClassPosition: {MinTrades: 15, MinDays: 60, MinRegimes: 1},
}

var (
	scalpingTF = regexp.MustCompile(`^[1-3]\s*(m|min|mins|minute|minutes)$`)
	intradayTF = regexp.MustCompile(`^((5|10|15|30)\s*(m|min|mins|minute|minutes)|(1\s*(h|hr|hour)|60\s*m|hourly))$`)
	swingTF    = regexp.MustCompile(`^([2-4]\s*(h|hr|hrs|hour|hours)|1?\s*d|day|daily|1\s*day)$`)
	positionTF = regexp.MustCompile(`^(1?\s*w|week|weekly|1\s*week|1?\s*mo|month|monthly)$`)
)

// ClassForTimeframe derives the strategy class from a timeframe string.
// Unrecognized timeframes fall back to INTRADAY.
func ClassForTimeframe(timeframe string) StrategyClass {
	tf := strings.TrimSpace(timeframe)
	// "1M" is one month; every other match is case-insensitive.
	if tf == "1M" || tf == "M" {
		return ClassPosition
	}
	tf = strings.ToLower(tf)

	switch {
	case scalpingTF.MatchString(tf):
		return ClassScalping
	case intradayTF.MatchString(tf):
		return ClassIntraday
	case swingTF.MatchString(tf):
		return ClassSwing
	case positionTF.MatchString(tf):
		return ClassPosition
	}
	return ClassIntraday
}

// ThresholdsFor returns the archetype's explicit thresholds, or the class
// defaults derived from the timeframe.
func ThresholdsFor(archetypeName, timeframe string) Thresholds {
	if t, ok := archetypeThresholds[Normalize(archetypeName)]; ok {
		return t
	}
	return ClassThresholds(ClassForTimeframe(timeframe))
}

// ClassThresholds returns the defaults for a strategy class.
func ClassThresholds(class StrategyClass) Thresholds {
	if t, ok := classThresholds[class]; ok {
		return t
	}
	return classThresholds[ClassIntraday]
}
