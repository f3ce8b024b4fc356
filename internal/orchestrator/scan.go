package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
	"strategy-lab/internal/generator"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/lineage"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/recycle"
	"strategy-lab/internal/scheduler"
)

// ScanReport summarises one failure scan.
type ScanReport struct {
	TraceID   string                      `json:"trace_id"`
	Scanned   int                         `json:"scanned"`
	Failing   int                         `json:"failing"`
	Decisions map[recycle.Decision]int    `json:"decisions"`
	Opened    []string                    `json:"opened_loops,omitempty"`
	Retired   []string                    `json:"retired_bots,omitempty"`
	Advanced  []string                    `json:"advanced_bots,omitempty"`
	Swept     int                         `json:"swept_loops"`
	Forced    int                         `json:"forced_cycles"`
	Verdicts  map[string]recycle.Decision `json:"verdicts,omitempty"` // bot id -> decision
	StartedAt int64                       `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
}

type diagnosis struct {
	bot    *domain.Bot
	report failure.Report
}

// ScanFailures diagnoses every trial bot, acts on the recycle verdicts,
// sweeps stale loops and advances bots that passed their gates.
func (e *Engine) ScanFailures(ctx context.Context) (*ScanReport, error) {
	start := e.clock.Now()
	traceID := idhash.NewTraceID()
	ctx = activity.WithTraceID(ctx, traceID)
	log := e.logger.With(zap.String("trace_id", traceID))

	report := &ScanReport{
		TraceID:   traceID,
		Decisions: make(map[recycle.Decision]int),
		Verdicts:  make(map[string]recycle.Decision),
		StartedAt: start.UnixMilli(),
	}

	trials, err := e.bots.GetByStage(ctx, domain.StageTrial)
	if err != nil {
		return nil, fmt.Errorf("get trial bots: %w", err)
	}
	report.Scanned = len(trials)

	diagnoses, err := e.diagnose(ctx, trials)
	if err != nil {
		return nil, err
	}

	var idx lineage.Index
	for _, d := range diagnoses {
		if !d.report.IsFailure() && d.bot.Metrics.MaxDrawdownR <= recycle.CatastrophicDrawdownR {
			continue
		}
		if idx == nil {
			all, err := e.bots.GetAll(ctx)
			if err != nil {
				return nil, fmt.Errorf("load lineage: %w", err)
			}
			idx = lineage.NewIndex(all)
		}
		e.act(ctx, d, idx, report)
	}

	if n, err := e.loops.Sweep(ctx); err != nil {
		log.Warn("sweep loops failed", zap.Error(err))
	} else {
		report.Swept = n
	}
	if advanced, err := e.advancer.AdvanceTrials(ctx); err != nil {
		log.Warn("advance trials failed", zap.Error(err))
	} else {
		report.Advanced = advanced
	}

	report.Duration = e.clock.Now().Sub(start)
	e.lastScan.Store(report)
	log.Info("failure scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("failing", report.Failing),
		zap.Int("opened", len(report.Opened)),
		zap.Int("retired", len(report.Retired)),
		zap.Int("advanced", len(report.Advanced)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// diagnose runs the detector over bots with bounded concurrency. Results keep
// the input order.
func (e *Engine) diagnose(ctx context.Context, bots []*domain.Bot) ([]diagnosis, error) {
	out := make([]diagnosis, len(bots))
	regime := e.Regime()
	now := e.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.scanWorkers)
	for i, b := range bots {
		g.Go(func() error {
			gens, err := e.generations.GetByBot(gctx, b.ID)
			if err != nil {
				return fmt.Errorf("get generations of %s: %w", b.ID, err)
			}
			out[i] = diagnosis{
				bot: b,
				report: e.detector.Detect(failure.Input{
					Bot:               b,
					GenerationSharpes: failure.GenerationSharpes(gens),
					Regime:            regime,
					Now:               now,
				}),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// act records a diagnosis and carries out its recycle verdict.
func (e *Engine) act(ctx context.Context, d diagnosis, idx lineage.Index, report *ScanReport) {
	b := d.bot
	log := e.logger.With(zap.String("trace_id", activity.TraceID(ctx)), zap.String("bot_id", b.ID))

	ev := recycle.Evaluate(b, d.report)
	report.Decisions[ev.Decision]++
	report.Verdicts[b.ID] = ev.Decision
	observability.RecordRecycleDecision(string(ev.Decision))

	if d.report.IsFailure() {
		report.Failing++
		observability.RecordFailure(string(d.report.Severity))
		e.recorder.Record(ctx, domain.ActivityFailureDetected, b.ID, "failure signals detected", map[string]string{
			"codes":    joinCodes(d.report.Codes),
			"severity": string(d.report.Severity),
			"regime":   string(d.report.Regime),
		})
	}
	e.recorder.Record(ctx, domain.ActivityRecycleDecision, b.ID, "recycle verdict", map[string]string{
		"decision":   string(ev.Decision),
		"reasons":    fmt.Sprint(ev.Reasons),
		"iterations": fmt.Sprint(ev.IterationCount),
	})

	switch ev.Decision {
	case recycle.DecisionKill:
		if err := e.advancer.Retire(ctx, b.ID, "recycle kill"); err != nil {
			log.Error("retire bot failed", zap.Error(err))
			return
		}
		report.Retired = append(report.Retired, b.ID)
	case recycle.DecisionReplace, recycle.DecisionTweak:
	default:
		return
	}

	if !d.report.IsFailure() {
		// Catastrophic kill with no signal breached has nothing to research.
		return
	}

	loop, opened, err := e.loops.Open(ctx, d.report)
	if err != nil {
		log.Error("open feedback loop failed", zap.Error(err))
		return
	}
	if opened {
		report.Opened = append(report.Opened, loop.TrackingID)
		if ev.Decision == recycle.DecisionTweak {
			if _, err := e.bots.IncrementRework(ctx, b.ID, e.clock.Now().UnixMilli()); err != nil {
				log.Warn("increment rework failed", zap.Error(err))
			}
		}
	}

	if !loop.State.IsResearching() {
		return
	}
	fc := &generator.FailureContext{
		LoopID:      loop.TrackingID,
		BotID:       b.ID,
		BotName:     b.Name,
		Archetype:   b.ArchetypeName,
		ReasonCodes: d.report.Codes,
		Deltas:      d.report.Deltas,
		Regime:      d.report.Regime,
		Lineage:     lineage.Chain(idx, b.ID, lineage.MaxDepth),
	}
	if e.Trigger(context.WithoutCancel(ctx), CycleRequest{Trigger: scheduler.TriggerFeedback, Force: true, Failure: fc}) {
		report.Forced++
	} else {
		log.Info("feedback cycle dropped, loop stays researching", zap.String("tracking_id", loop.TrackingID))
	}
}

func joinCodes(codes []domain.ReasonCode) string {
	s := ""
	for i, c := range codes {
		if i > 0 {
			s += ","
		}
		s += string(c)
	}
	return s
}
