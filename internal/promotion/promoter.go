// Package promotion turns a SENT_TO_LAB candidate into a trial bot with its
// first generation and a baseline evaluation job.
package promotion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/clock"
	"strategy-lab/internal/disposition"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/storage"
)

// ErrBotCreation is returned when the bot could not be created and the
// candidate was reverted to QUEUED.
var ErrBotCreation = errors.New("bot creation failed")

// Reason codes written back to the candidate.
const (
	ReasonBotCreated  = "BOT_CREATED"
	ReasonLinkedToBot = "LINKED_EXISTING_BOT"
)

// Options configures a Promoter.
type Options struct {
	Candidates  storage.CandidateStore
	Bots        storage.BotStore
	Generations storage.GenerationStore
	Jobs        storage.JobStore
	Recorder    *activity.Recorder
	Logger      *zap.Logger
	Clock       clock.Clock
}

// Promoter creates bots for promoted candidates.
type Promoter struct {
	candidates  storage.CandidateStore
	bots        storage.BotStore
	generations storage.GenerationStore
	jobs        storage.JobStore
	recorder    *activity.Recorder
	logger      *zap.Logger
	clock       clock.Clock
}

// Result describes what a promotion produced.
type Result struct {
	BotID        string
	Linked       bool // candidate was linked to an existing bot with the same slug
	GenerationID string
	JobID        string
}

// New creates a Promoter.
func New(opts Options) *Promoter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = activity.NewRecorder(activity.Options{Logger: logger, Clock: clk})
	}
	return &Promoter{
		candidates:  opts.Candidates,
		bots:        opts.Bots,
		generations: opts.Generations,
		jobs:        opts.Jobs,
		recorder:    recorder,
		logger:      logger.Named("promoter"),
		clock:       clk,
	}
}

// Promote creates the trial bot for a stored SENT_TO_LAB candidate.
// Generation and job failures are logged and do not undo the bot. A bot
// creation failure reverts the candidate to QUEUED and returns ErrBotCreation.
func (p *Promoter) Promote(ctx context.Context, c *domain.StrategyCandidate, userID string) (Result, error) {
	traceID := activity.TraceID(ctx)
	log := p.logger.With(zap.String("trace_id", traceID), zap.String("candidate_id", c.ID))

	bot, err := p.buildBot(c, userID)
	if err != nil {
		return Result{}, p.revert(ctx, c, err)
	}

	stored, created, err := p.bots.CreateWithSlugGuard(ctx, bot)
	if err != nil {
		return Result{}, p.revert(ctx, c, err)
	}

	if !created {
		if err := p.candidates.UpdateDisposition(ctx, c.ID, domain.DispositionSentToLab, ReasonLinkedToBot, &stored.ID, p.now()); err != nil {
			return Result{}, fmt.Errorf("link candidate to bot: %w", err)
		}
		log.Info("slug matches existing bot, linked", zap.String("bot_id", stored.ID), zap.String("slug", stored.Slug))
		observability.RecordPromotion("linked")
		return Result{BotID: stored.ID, Linked: true}, nil
	}

	if err := p.candidates.UpdateDisposition(ctx, c.ID, domain.DispositionSentToLab, ReasonBotCreated, &stored.ID, p.now()); err != nil {
		// The bot exists; the candidate keeps SENT_TO_LAB without the back-link.
		log.Error("record created bot on candidate failed", zap.String("bot_id", stored.ID), zap.Error(err))
	}

	result := Result{BotID: stored.ID}

	gen := &domain.Generation{
		ID:        idhash.NewID(),
		BotID:     stored.ID,
		Number:    1,
		Config:    stored.Config,
		CreatedAt: p.now(),
	}
	if err := p.generations.Insert(ctx, gen); err != nil {
		log.Warn("create first generation failed", zap.String("bot_id", stored.ID), zap.Error(err))
	} else {
		result.GenerationID = gen.ID
		if err := p.bots.SetCurrentGeneration(ctx, stored.ID, gen.ID, p.now()); err != nil {
			log.Warn("link current generation failed", zap.String("bot_id", stored.ID), zap.Error(err))
		}
	}

	job := &domain.EvaluationJob{
		ID:           idhash.NewID(),
		BotID:        stored.ID,
		GenerationID: result.GenerationID,
		Kind:         domain.JobKindBaseline,
		Archetype:    stored.ArchetypeName,
		Timeframe:    stored.Timeframe,
		Symbol:       stored.Symbol,
		Status:       domain.JobStatusPending,
		CreatedAt:    p.now(),
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		log.Warn("enqueue baseline job failed", zap.String("bot_id", stored.ID), zap.Error(err))
	} else {
		result.JobID = job.ID
	}

	p.recorder.Record(ctx, domain.ActivityStageChange, stored.ID, "bot created in trial", map[string]string{
		"candidate_id": c.ID,
		"stage":        string(domain.StageTrial),
		"archetype":    stored.ArchetypeName,
		"symbol":       stored.Symbol,
	})
	observability.RecordPromotion("created")

	return result, nil
}

func (p *Promoter) buildBot(c *domain.StrategyCandidate, userID string) (*domain.Bot, error) {
	slug := idhash.Slug(c.StrategyName)
	if slug == "" {
		return nil, fmt.Errorf("strategy name %q has no alphanumerics", c.StrategyName)
	}
	if err := domain.ValidateSymbol(c.Symbol); err != nil {
		return nil, fmt.Errorf("symbol %q: %w", c.Symbol, err)
	}
	session, err := domain.ParseSessionMode("")
	if err != nil {
		return nil, err
	}
	risk, err := ResolveRisk(c.ArchetypeName, c.RiskParams)
	if err != nil {
		return nil, err
	}

	now := p.now()
	candidateID := c.ID
	return &domain.Bot{
		ID:            idhash.NewID(),
		UserID:        userID,
		Name:          c.StrategyName,
		Slug:          slug,
		ArchetypeName: c.ArchetypeName,
		Timeframe:     c.Timeframe,
		Symbol:        c.Symbol,
		Stage:         domain.StageTrial,
		Config: domain.StrategyConfig{
			Archetype:   c.ArchetypeName,
			Timeframe:   c.Timeframe,
			Symbol:      c.Symbol,
			SessionMode: session,
			Rules:       c.Rules,
			Risk:        risk,
		},
		CandidateID:    &candidateID,
		RecycledFromID: c.SourceLabBotID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (p *Promoter) revert(ctx context.Context, c *domain.StrategyCandidate, cause error) error {
	p.logger.Error("bot creation failed, reverting candidate to queued",
		zap.String("trace_id", activity.TraceID(ctx)),
		zap.String("candidate_id", c.ID),
		zap.Error(cause),
	)
	observability.RecordPromotion("failed")

	if err := p.candidates.UpdateDisposition(ctx, c.ID, domain.DispositionQueued, disposition.ReasonPromotionFailed, nil, p.now()); err != nil {
		return fmt.Errorf("%w: %v (revert failed: %v)", ErrBotCreation, cause, err)
	}
	p.recorder.Record(ctx, domain.ActivityDisposition, c.ID, "promotion reverted", map[string]string{
		"disposition": string(domain.DispositionQueued),
		"reason":      disposition.ReasonPromotionFailed,
		"error":       cause.Error(),
	})
	return fmt.Errorf("%w: %v", ErrBotCreation, cause)
}

func (p *Promoter) now() int64 {
	return p.clock.Now().UnixMilli()
}
