package domain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors for bot creation.
var (
	// ErrUnsupportedSymbol is returned when a bot symbol is not tradable.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrInvalidSessionMode is returned for an unknown trading session mode.
	ErrInvalidSessionMode = errors.New("invalid session mode")
)

// Stage is a bot's position in the pipeline.
type Stage string

const (
	StageTrial   Stage = "TRIAL"
	StagePaper   Stage = "PAPER"
	StageLive    Stage = "LIVE"
	StageRetired Stage = "RETIRED"
)

// SessionMode restricts when a bot may trade.
type SessionMode string

const (
	SessionRegular    SessionMode = "REGULAR"
	SessionExtended   SessionMode = "EXTENDED"
	SessionContinuous SessionMode = "CONTINUOUS"
)

// Bot is a running strategy instance.
// Corresponds to bots table in PostgreSQL.
type Bot struct {
	ID                  string  // PRIMARY KEY, uuid
	UserID              string  // owner
	Name                string  // display name
	Slug                string  // normalized name, unique per user
	ArchetypeName       string
	Timeframe           string
	Symbol              string
	Stage               Stage
	Config              StrategyConfig
	CandidateID         *string // candidate that produced the bot (nullable)
	RecycledFromID      *string // bot this one replaces (nullable)
	ReworkAttempts      int
	CurrentGenerationID *string
	Metrics             BotMetrics
	CreatedAt           int64 // unix ms
	UpdatedAt           int64 // unix ms
}

// BotMetrics is the latest performance snapshot supplied by the backtest and
// trading engines.
type BotMetrics struct {
	Trades         int     `json:"trades"`
	Days           int     `json:"days"`
	Sharpe         float64 `json:"sharpe"`
	WinRate        float64 `json:"win_rate"`         // 0-1
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // 0-1
	MaxDrawdownR   float64 `json:"max_drawdown_r"`   // in risk units
	NetPnlR        float64 `json:"net_pnl_r"`
	ExpectancyR    float64 `json:"expectancy_r"` // per trade
	ProfitFactor   float64 `json:"profit_factor"`
	AvgLossR       float64 `json:"avg_loss_r"`
	RegimesSeen    int     `json:"regimes_seen"`
	LastTradeAt    int64   `json:"last_trade_at"` // unix ms, 0 = never traded
}

// StrategyConfig is the executable configuration of a bot.
type StrategyConfig struct {
	Archetype   string      `json:"archetype"`
	Timeframe   string      `json:"timeframe"`
	Symbol      string      `json:"symbol"`
	SessionMode SessionMode `json:"session_mode"`
	Rules       Rules       `json:"rules"`
	Risk        RiskConfig  `json:"risk"`
}

// RiskConfig holds the resolved risk limits of a bot.
type RiskConfig struct {
	RiskPerTradePct     float64         `json:"risk_per_trade_pct"`
	StopLossPct         float64         `json:"stop_loss_pct"`
	TakeProfitPct       float64         `json:"take_profit_pct"`
	MaxDailyLossPct     float64         `json:"max_daily_loss_pct"`
	MaxPositions        int             `json:"max_positions"`
	MaxPositionNotional decimal.Decimal `json:"max_position_notional"`
}

// Generation is one configuration revision of a bot.
type Generation struct {
	ID                 string
	BotID              string
	Number             int
	ParentGenerationID *string
	Config             StrategyConfig
	Sharpe             *float64 // backfilled by backtests (nullable)
	CreatedAt          int64
}

// JobKind identifies evaluation job types.
type JobKind string

const (
	JobKindBaseline JobKind = "BASELINE"
)

// JobStatus is the queue status of an evaluation job.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
)

// EvaluationJob is a backtest request handed to the external job queue.
type EvaluationJob struct {
	ID           string
	BotID        string
	GenerationID string
	Kind         JobKind
	Archetype    string
	Timeframe    string
	Symbol       string
	Status       JobStatus
	CreatedAt    int64
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,12}([/-][A-Z0-9]{2,8})?$`)

// ValidateSymbol checks that symbol is a supported instrument identifier.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(strings.TrimSpace(symbol)) {
		return ErrUnsupportedSymbol
	}
	return nil
}

// ParseSessionMode validates a session mode. Empty defaults to CONTINUOUS.
func ParseSessionMode(s string) (SessionMode, error) {
	switch SessionMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return SessionContinuous, nil
	case SessionRegular:
		return SessionRegular, nil
	case SessionExtended:
		return SessionExtended, nil
	case SessionContinuous:
		return SessionContinuous, nil
	}
	return "", ErrInvalidSessionMode
}
