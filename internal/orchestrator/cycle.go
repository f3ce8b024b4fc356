package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/archetype"
	"strategy-lab/internal/config"
	"strategy-lab/internal/disposition"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/generator"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/novelty"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/promotion"
	"strategy-lab/internal/scheduler"
	"strategy-lab/internal/scoring"
	"strategy-lab/internal/storage"
)

// CycleRequest asks for one research cycle.
type CycleRequest struct {
	Trigger scheduler.Trigger
	Force   bool

	// Failure carries the source-bot context of a feedback cycle.
	Failure *generator.FailureContext
}

// CycleReport summarises one cycle.
type CycleReport struct {
	TraceID   string                     `json:"trace_id"`
	Trigger   scheduler.Trigger          `json:"trigger"`
	Mode      scheduler.Mode             `json:"mode"`
	Skipped   bool                       `json:"skipped"`
	Provider  string                     `json:"provider,omitempty"`
	Drafts    int                        `json:"drafts"`
	Outcomes  map[domain.Disposition]int `json:"outcomes"`
	Promoted  []string                   `json:"promoted_bots,omitempty"`
	LoopID    string                     `json:"loop_id,omitempty"`
	Error     string                     `json:"error,omitempty"`
	StartedAt int64                      `json:"started_at"`
	Duration  time.Duration              `json:"duration"`
}

// Discovered counts candidates that survived dedup and were not rejected.
func (r *CycleReport) Discovered() int {
	n := 0
	for d, c := range r.Outcomes {
		if d != domain.DispositionMerged && d != domain.DispositionRejected {
			n += c
		}
	}
	return n
}

// Trigger claims the cycle slot and runs the cycle in the background.
// It reports false when the request was dropped.
func (e *Engine) Trigger(ctx context.Context, req CycleRequest) bool {
	if !e.begin(ctx, &req) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.run(ctx, req); err != nil {
			e.logger.Warn("forced cycle abandoned", zap.String("trigger", string(req.Trigger)), zap.Error(err))
		}
	}()
	return true
}

// RunCycle runs one cycle synchronously. A request that cannot claim the
// cycle slot returns a skipped report and no error.
func (e *Engine) RunCycle(ctx context.Context, req CycleRequest) (*CycleReport, error) {
	if !e.begin(ctx, &req) {
		return &CycleReport{Trigger: req.Trigger, Skipped: true}, nil
	}
	return e.run(ctx, req)
}

// recompute refreshes the scheduler mode from pipeline counts.
func (e *Engine) recompute(ctx context.Context) scheduler.Status {
	var sig scheduler.Signals
	if counts, err := e.candidates.CountByDisposition(ctx); err != nil {
		e.logger.Warn("count candidates failed", zap.Error(err))
	} else {
		sig.PendingReview = counts[domain.DispositionPendingReview]
	}
	if trials, err := e.bots.GetByStage(ctx, domain.StageTrial); err != nil {
		e.logger.Warn("count trial bots failed", zap.Error(err))
	} else {
		sig.InLab = len(trials)
	}
	return e.scheduler.Recompute(sig)
}

func (e *Engine) begin(ctx context.Context, req *CycleRequest) bool {
	if req.Trigger == "" {
		req.Trigger = scheduler.TriggerManual
	}
	e.recompute(ctx)
	return e.scheduler.TryBegin(req.Trigger, req.Force)
}

// run executes a claimed cycle. The scheduler slot is released on return.
func (e *Engine) run(ctx context.Context, req CycleRequest) (report *CycleReport, err error) {
	start := e.clock.Now()
	traceID := idhash.NewTraceID()
	ctx = activity.WithTraceID(ctx, traceID)
	status := e.scheduler.Status()

	report = &CycleReport{
		TraceID:   traceID,
		Trigger:   req.Trigger,
		Mode:      status.Mode,
		Outcomes:  make(map[domain.Disposition]int),
		StartedAt: start.UnixMilli(),
	}
	if req.Failure != nil {
		report.LoopID = req.Failure.LoopID
	}
	log := e.logger.With(zap.String("trace_id", traceID), zap.String("trigger", string(req.Trigger)))

	defer func() {
		report.Duration = e.clock.Now().Sub(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			report.Error = err.Error()
		}
		observability.RecordCycle(string(req.Trigger), outcome, report.Duration)
		e.scheduler.End(scheduler.Outcome{Err: err, Discovered: report.Discovered()})
		e.lastCycle.Store(report)
		e.recorder.Record(ctx, domain.ActivityCycle, traceID, "cycle finished", map[string]string{
			"trigger":    string(req.Trigger),
			"mode":       string(report.Mode),
			"outcome":    outcome,
			"drafts":     fmt.Sprint(report.Drafts),
			"discovered": fmt.Sprint(report.Discovered()),
		})
	}()

	settings := e.settings.Get()
	hints, herr := settings.HintsFor(string(status.Mode))
	if herr != nil {
		hints = settings.Research.Balanced
	}

	gc := generator.Context{
		TraceID:       traceID,
		Mode:          string(status.Mode),
		Depth:         hints.Depth,
		RecencyHours:  hints.RecencyHours,
		Regime:        e.Regime(),
		RegimeTrigger: req.Trigger == scheduler.TriggerRegime,
		SourceFailure: req.Failure,
	}
	if req.Failure != nil && req.Failure.LoopID != "" {
		if _, aerr := e.loops.RecordResearchAttempt(ctx, req.Failure.LoopID); aerr != nil {
			log.Warn("record research attempt failed", zap.String("tracking_id", req.Failure.LoopID), zap.Error(aerr))
		}
	}

	res, err := e.generator.Generate(ctx, gc)
	if err != nil {
		log.Error("generator failed, cycle abandoned", zap.Error(err))
		return report, fmt.Errorf("generate: %w", err)
	}
	report.Provider = res.Provider
	report.Drafts = len(res.Drafts)
	log.Info("generated drafts",
		zap.String("provider", res.Provider),
		zap.Int("drafts", len(res.Drafts)),
		zap.String("parse", string(res.Parse)),
	)

	// Sequential: later dedup checks must see earlier inserts.
	var promoted []draftOutcome
	for _, d := range res.Drafts {
		if err = ctx.Err(); err != nil {
			break
		}
		out, perr := e.processDraft(ctx, d, req, settings)
		if perr != nil {
			log.Error("process draft failed", zap.String("strategy", d.StrategyName), zap.Error(perr))
			continue
		}
		report.Outcomes[out.disposition]++
		if out.botID != "" {
			report.Promoted = append(report.Promoted, out.botID)
			promoted = append(promoted, out)
		}
	}

	if req.Failure != nil && req.Failure.LoopID != "" {
		e.linkLoop(context.WithoutCancel(ctx), req.Failure.LoopID, promoted)
	}
	return report, err
}

type draftOutcome struct {
	disposition domain.Disposition
	candidateID string
	botID       string
	linked      bool // bot already existed under the same slug
}

func sourceFor(t scheduler.Trigger) domain.Source {
	switch t {
	case scheduler.TriggerRegime:
		return domain.SourceRegimeTrigger
	case scheduler.TriggerFeedback:
		return domain.SourceFeedbackLoop
	case scheduler.TriggerManual:
		return domain.SourceManual
	}
	return domain.SourceResearchCycle
}

// processDraft dedups, scores, gates, stores and (maybe) promotes one draft.
func (e *Engine) processDraft(ctx context.Context, d generator.Draft, req CycleRequest, settings config.Settings) (draftOutcome, error) {
	now := e.clock.Now()
	c := &domain.StrategyCandidate{
		ID:              idhash.NewID(),
		StrategyName:    d.StrategyName,
		Hypothesis:      d.Hypothesis,
		Rules:           d.Rules,
		Timeframe:       d.Timeframe,
		Symbol:          d.Symbol,
		ConfidenceScore: d.Confidence,
		Confidence: domain.ConfidenceBreakdown{
			ResearchConfidence:  d.ResearchConfidence,
			StructuralSoundness: d.StructuralSoundness,
		},
		RulesHash:  idhash.RulesHash(d.Rules),
		Source:     sourceFor(req.Trigger),
		RiskParams: d.RiskParams,
		CreatedAt:  now.UnixMilli(),
		UpdatedAt:  now.UnixMilli(),
	}
	if f := req.Failure; f != nil && f.BotID != "" {
		botID := f.BotID
		c.SourceLabBotID = &botID
		c.LineageChain = append(append([]string(nil), f.Lineage...), f.BotID)
	}

	match, err := novelty.FindDuplicate(ctx, e.candidates, c)
	if err != nil {
		return draftOutcome{}, err
	}
	if match.IsDuplicate() {
		return e.merge(ctx, c, match)
	}

	var population []*domain.StrategyCandidate
	if population, err = e.candidates.GetAll(ctx); err != nil {
		return draftOutcome{}, fmt.Errorf("load population: %w", err)
	}

	res, rerr := archetype.Resolve(archetype.Input{
		Explicit:     d.Archetype,
		RulesJSON:    d.RulesJSON,
		StrategyName: d.StrategyName,
		Timeframe:    d.Timeframe,
	})
	if rerr == nil {
		c.ArchetypeName = res.Archetype
	}
	c.NoveltyScore = novelty.Score(c, population)

	score := scoring.Apply(c.ArchetypeName, c.ConfidenceScore, e.Regime())
	c.RegimeBonus = score.Bonus
	c.AdjustedScore = score.Adjusted
	c.Tier = score.Tier

	decision, err := e.decide(ctx, c, settings, now)
	if err != nil {
		return draftOutcome{}, err
	}
	c.Disposition = decision.Disposition
	c.DispositionReason = decision.Reason
	c.DispositionAt = now.UnixMilli()

	if err := e.candidates.Insert(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost a hash race with another writer.
			existing, gerr := e.candidates.GetByRulesHash(ctx, c.RulesHash)
			if gerr == nil {
				return e.merge(ctx, c, novelty.Match{Kind: novelty.MatchRulesHash, Existing: existing})
			}
		}
		return draftOutcome{}, fmt.Errorf("insert candidate: %w", err)
	}

	observability.RecordCandidate(string(c.Disposition))
	e.recorder.Record(ctx, domain.ActivityDisposition, c.ID, "candidate dispositioned", map[string]string{
		"strategy":       c.StrategyName,
		"archetype":      c.ArchetypeName,
		"disposition":    string(c.Disposition),
		"reason":         c.DispositionReason,
		"adjusted_score": fmt.Sprint(c.AdjustedScore),
		"regime_bonus":   fmt.Sprint(c.RegimeBonus),
		"novelty":        fmt.Sprint(c.NoveltyScore),
	})

	out := draftOutcome{disposition: c.Disposition, candidateID: c.ID}
	if c.Disposition != domain.DispositionSentToLab {
		return out, nil
	}

	pres, err := e.promoter.Promote(ctx, c, settings.UserID)
	if err != nil {
		if errors.Is(err, promotion.ErrBotCreation) {
			out.disposition = domain.DispositionQueued
			return out, nil
		}
		return out, err
	}
	out.botID = pres.BotID
	out.linked = pres.Linked
	return out, nil
}

// decide validates the fail-closed prerequisites, then runs the gate.
func (e *Engine) decide(ctx context.Context, c *domain.StrategyCandidate, s config.Settings, now time.Time) (disposition.Decision, error) {
	if c.ArchetypeName != "" {
		if err := domain.ValidateSymbol(c.Symbol); err != nil {
			return disposition.Decision{Disposition: domain.DispositionRejected, Reason: disposition.ReasonUnsupportedSymbol}, nil
		}
		if _, err := promotion.ResolveRisk(c.ArchetypeName, c.RiskParams); err != nil {
			return disposition.Decision{Disposition: domain.DispositionRejected, Reason: disposition.ReasonUnresolvableRisk}, nil
		}
	}

	budget := true
	if c.AdjustedScore >= s.AutoPromoteThreshold && !s.RequireManualApproval {
		var err error
		budget, err = disposition.BudgetAvailable(ctx, e.candidates, now, s.QCDailyLimit, s.QCWeeklyLimit)
		if err != nil {
			return disposition.Decision{}, err
		}
	}

	return disposition.Decide(disposition.Input{
		Archetype:           c.ArchetypeName,
		ResearchConfidence:  c.Confidence.ResearchConfidence,
		StructuralSoundness: c.Confidence.StructuralSoundness,
		AdjustedScore:       c.AdjustedScore,
		Tier:                c.Tier,
	}, disposition.Policy{
		RequireManualApproval: s.RequireManualApproval,
		PromoteThreshold:      s.AutoPromoteThreshold,
		MinTier:               s.AutoPromoteTier,
		BudgetAvailable:       budget,
	}), nil
}

func (e *Engine) merge(ctx context.Context, c *domain.StrategyCandidate, m novelty.Match) (draftOutcome, error) {
	merged, err := e.candidates.Merge(ctx, m.Existing.ID, e.clock.Now().UnixMilli())
	if err != nil {
		return draftOutcome{}, fmt.Errorf("merge into %s: %w", m.Existing.ID, err)
	}

	reason := disposition.ReasonDuplicateRules
	if m.Kind == novelty.MatchActiveName {
		reason = disposition.ReasonDuplicateName
	}
	observability.RecordCandidate(string(domain.DispositionMerged))
	e.recorder.Record(ctx, domain.ActivityDisposition, merged.ID, "duplicate merged", map[string]string{
		"strategy":    c.StrategyName,
		"disposition": string(domain.DispositionMerged),
		"reason":      reason,
		"merge_count": fmt.Sprint(merged.MergeCount),
	})
	return draftOutcome{disposition: domain.DispositionMerged, candidateID: merged.ID}, nil
}

// linkLoop records every candidate a feedback cycle promoted on its loop,
// the last one becoming the best candidate, then puts the newest created bot
// under test. Bots linked by slug are already in the lab and start nothing.
func (e *Engine) linkLoop(ctx context.Context, loopID string, promoted []draftOutcome) {
	if len(promoted) == 0 {
		return
	}
	log := e.logger.With(zap.String("tracking_id", loopID))

	replacement := ""
	for _, out := range promoted {
		if _, err := e.loops.CandidateFound(ctx, loopID, out.candidateID); err != nil {
			log.Warn("link candidate to loop failed", zap.String("candidate_id", out.candidateID), zap.Error(err))
			continue
		}
		if !out.linked {
			replacement = out.botID
		}
	}
	if replacement == "" {
		return
	}
	if _, err := e.loops.StartTesting(ctx, loopID, replacement); err != nil {
		log.Warn("start testing replacement failed", zap.String("bot_id", replacement), zap.Error(err))
	}
}
