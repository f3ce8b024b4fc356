// Package stage moves bots between pipeline stages.
package stage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/archetype"
	"strategy-lab/internal/clock"
	"strategy-lab/internal/config"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/feedback"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/storage"
)

// Advancement reasons.
const (
	ReasonTrialsAutoPromote = "TRIALS_AUTO_PROMOTE"
	ReasonFastTrack         = "FAST_TRACK"
)

// Options configures an Advancer.
type Options struct {
	Bots     storage.BotStore
	Settings *config.Store
	Loops    *feedback.Coordinator
	Recorder *activity.Recorder
	Logger   *zap.Logger
	Clock    clock.Clock
}

// Advancer promotes trial bots that pass the operator gates and retires
// killed bots. PAPER to LIVE is never automatic.
type Advancer struct {
	bots     storage.BotStore
	settings *config.Store
	loops    *feedback.Coordinator
	recorder *activity.Recorder
	logger   *zap.Logger
	clock    clock.Clock
}

// New creates an Advancer.
func New(opts Options) *Advancer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Advancer{
		bots:     opts.Bots,
		settings: opts.Settings,
		loops:    opts.Loops,
		recorder: opts.Recorder,
		logger:   logger.Named("stage"),
		clock:    clk,
	}
}

// Eligible reports whether a trial bot may move to PAPER and why.
// Trials auto-promotion needs the archetype's minimum evaluation window;
// fast-track does not.
func Eligible(b *domain.Bot, s config.Settings) (string, bool) {
	if b.Stage != domain.StageTrial {
		return "", false
	}
	m := b.Metrics
	if s.TrialsAutoPromote.Enabled {
		req := archetype.ThresholdsFor(b.ArchetypeName, b.Timeframe)
		if m.Trades >= req.MinTrades && m.Days >= req.MinDays && passes(s.TrialsAutoPromote.Gates, m) {
			return ReasonTrialsAutoPromote, true
		}
	}
	if s.FastTrack.Enabled && passes(s.FastTrack.Gates, m) {
		return ReasonFastTrack, true
	}
	return "", false
}

func passes(g config.Gates, m domain.BotMetrics) bool {
	return m.Trades >= g.MinTrades &&
		m.Sharpe >= g.MinSharpe &&
		m.WinRate >= g.MinWinRate &&
		m.MaxDrawdownPct <= g.MaxDrawdownPct
}

// AdvanceTrials promotes every eligible trial bot to PAPER and returns their ids.
func (a *Advancer) AdvanceTrials(ctx context.Context) ([]string, error) {
	bots, err := a.bots.GetByStage(ctx, domain.StageTrial)
	if err != nil {
		return nil, fmt.Errorf("get trial bots: %w", err)
	}

	settings := a.settings.Get()
	var promoted []string
	for _, b := range bots {
		reason, ok := Eligible(b, settings)
		if !ok {
			continue
		}
		if err := a.move(ctx, b, domain.StagePaper, reason); err != nil {
			a.logger.Warn("advance failed", zap.String("bot_id", b.ID), zap.Error(err))
			continue
		}
		promoted = append(promoted, b.ID)
		a.resolveReplacement(ctx, b.ID)
	}
	return promoted, nil
}

// Retire moves a bot to RETIRED. A loop testing the bot as a replacement is abandoned.
func (a *Advancer) Retire(ctx context.Context, botID, reason string) error {
	b, err := a.bots.GetByID(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if b.Stage == domain.StageRetired {
		return nil
	}
	if err := a.move(ctx, b, domain.StageRetired, reason); err != nil {
		return err
	}

	if a.loops == nil {
		return nil
	}
	loop, err := a.loops.ActiveForReplacement(ctx, botID)
	if errors.Is(err, feedback.ErrLoopNotFound) {
		return nil
	}
	if err != nil {
		a.logger.Warn("lookup replacement loop failed", zap.String("bot_id", botID), zap.Error(err))
		return nil
	}
	if _, err := a.loops.Abandon(ctx, loop.TrackingID, "replacement bot retired: "+reason); err != nil {
		a.logger.Warn("abandon loop failed", zap.String("tracking_id", loop.TrackingID), zap.Error(err))
	}
	return nil
}

func (a *Advancer) move(ctx context.Context, b *domain.Bot, to domain.Stage, reason string) error {
	if err := a.bots.UpdateStage(ctx, b.ID, to, a.clock.Now().UnixMilli()); err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	observability.RecordStageChange(string(to))
	if a.recorder != nil {
		a.recorder.Record(ctx, domain.ActivityStageChange, b.ID, "stage changed", map[string]string{
			"from":   string(b.Stage),
			"to":     string(to),
			"reason": reason,
		})
	}
	b.Stage = to
	return nil
}

func (a *Advancer) resolveReplacement(ctx context.Context, botID string) {
	if a.loops == nil {
		return
	}
	loop, err := a.loops.ActiveForReplacement(ctx, botID)
	if err != nil {
		return
	}
	id := botID
	if _, err := a.loops.Resolve(ctx, loop.TrackingID, feedback.ResolutionReplacementPromoted, &id); err != nil {
		a.logger.Warn("resolve loop failed", zap.String("tracking_id", loop.TrackingID), zap.Error(err))
	}
}
