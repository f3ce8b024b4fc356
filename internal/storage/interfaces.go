package storage

import (
	"context"

	"strategy-lab/internal/domain"
)

// CandidateStore provides access to strategy_candidates storage.
type CandidateStore interface {
	// Insert adds a new candidate. Returns ErrDuplicateKey if id or rules_hash exists.
	Insert(ctx context.Context, c *domain.StrategyCandidate) error

	// Merge folds a duplicate into an existing candidate: increments merge_count
	// and bumps updated_at. Returns the updated record.
	Merge(ctx context.Context, candidateID string, updatedAt int64) (*domain.StrategyCandidate, error)

	// GetByID retrieves a candidate by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, candidateID string) (*domain.StrategyCandidate, error)

	// GetByRulesHash retrieves the candidate with the given rules hash. Returns ErrNotFound if not exists.
	GetByRulesHash(ctx context.Context, rulesHash string) (*domain.StrategyCandidate, error)

	// FindActiveByName retrieves the oldest non-terminal candidate with exactly this name.
	// Returns ErrNotFound if none.
	FindActiveByName(ctx context.Context, strategyName string) (*domain.StrategyCandidate, error)

	// GetAll retrieves every stored candidate, ordered by created_at ASC.
	GetAll(ctx context.Context) ([]*domain.StrategyCandidate, error)

	// GetByDisposition retrieves candidates in a disposition, ordered by created_at ASC.
	GetByDisposition(ctx context.Context, d domain.Disposition) ([]*domain.StrategyCandidate, error)

	// CountByDisposition returns candidate counts keyed by disposition.
	CountByDisposition(ctx context.Context) (map[domain.Disposition]int, error)

	// CountSentToLabSince counts SENT_TO_LAB candidates whose disposition was set at or after since (ms).
	CountSentToLabSince(ctx context.Context, since int64) (int, error)

	// UpdateDisposition transitions a candidate. Returns ErrInvalidInput when a
	// REJECTED candidate would carry a created bot, ErrNotFound if missing.
	UpdateDisposition(ctx context.Context, candidateID string, d domain.Disposition, reason string, createdBotID *string, updatedAt int64) error

	// UpdateNovelty backfills the novelty score.
	UpdateNovelty(ctx context.Context, candidateID string, score int, updatedAt int64) error
}

// BotStore provides access to bots storage.
type BotStore interface {
	// CreateWithSlugGuard creates a bot unless the user already owns a bot with the
	// same slug. The check and insert happen under a per-user lock. Returns the
	// stored bot and whether it was created.
	CreateWithSlugGuard(ctx context.Context, b *domain.Bot) (*domain.Bot, bool, error)

	// GetByID retrieves a bot by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, botID string) (*domain.Bot, error)

	// GetByUser retrieves all bots owned by a user, ordered by created_at ASC.
	GetByUser(ctx context.Context, userID string) ([]*domain.Bot, error)

	// GetByStage retrieves all bots in a stage, ordered by created_at ASC.
	GetByStage(ctx context.Context, stage domain.Stage) ([]*domain.Bot, error)

	// GetAll retrieves every bot, ordered by created_at ASC.
	GetAll(ctx context.Context) ([]*domain.Bot, error)

	// UpdateStage moves a bot to a new stage.
	UpdateStage(ctx context.Context, botID string, stage domain.Stage, updatedAt int64) error

	// SetCurrentGeneration links the bot's active generation.
	SetCurrentGeneration(ctx context.Context, botID, generationID string, updatedAt int64) error

	// IncrementRework bumps rework_attempts and returns the new value.
	IncrementRework(ctx context.Context, botID string, updatedAt int64) (int, error)

	// UpdateMetrics replaces the performance snapshot.
	UpdateMetrics(ctx context.Context, botID string, m domain.BotMetrics, updatedAt int64) error
}

// GenerationStore provides access to bot_generations storage.
type GenerationStore interface {
	// Insert adds a new generation. Returns ErrDuplicateKey if (bot_id, number) exists.
	Insert(ctx context.Context, g *domain.Generation) error

	// GetByBot retrieves all generations of a bot, ordered by number ASC.
	GetByBot(ctx context.Context, botID string) ([]*domain.Generation, error)

	// UpdateSharpe backfills the generation's backtest Sharpe.
	UpdateSharpe(ctx context.Context, generationID string, sharpe float64) error
}

// JobStore provides access to the evaluation_jobs queue.
type JobStore interface {
	// Enqueue adds a job. Returns ErrDuplicateKey if job id exists.
	Enqueue(ctx context.Context, j *domain.EvaluationJob) error

	// GetByBot retrieves all jobs of a bot, ordered by created_at ASC.
	GetByBot(ctx context.Context, botID string) ([]*domain.EvaluationJob, error)

	// GetPending retrieves pending jobs, ordered by created_at ASC.
	GetPending(ctx context.Context) ([]*domain.EvaluationJob, error)
}

// FeedbackLoopStore provides access to feedback_loops storage.
type FeedbackLoopStore interface {
	// Insert adds a new loop. Returns ErrDuplicateKey if the source bot already
	// has a non-terminal loop.
	Insert(ctx context.Context, l *domain.FeedbackLoop) error

	// Update replaces a stored loop. Returns ErrNotFound if not exists.
	Update(ctx context.Context, l *domain.FeedbackLoop) error

	// GetByID retrieves a loop by tracking id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, trackingID string) (*domain.FeedbackLoop, error)

	// GetActiveByBot retrieves the non-terminal loop of a source bot. Returns ErrNotFound if none.
	GetActiveByBot(ctx context.Context, botID string) (*domain.FeedbackLoop, error)

	// GetActiveByReplacementBot retrieves the non-terminal loop testing a replacement bot.
	// Returns ErrNotFound if none.
	GetActiveByReplacementBot(ctx context.Context, botID string) (*domain.FeedbackLoop, error)

	// GetActive retrieves all non-terminal loops, ordered by created_at ASC.
	GetActive(ctx context.Context) ([]*domain.FeedbackLoop, error)
}

// ActivityStore provides access to the activity_events audit log.
type ActivityStore interface {
	// Append adds an event.
	Append(ctx context.Context, e *domain.ActivityEvent) error

	// GetByTrace retrieves events with a trace id, ordered by created_at ASC.
	GetByTrace(ctx context.Context, traceID string) ([]*domain.ActivityEvent, error)

	// GetByEntity retrieves events for an entity, ordered by created_at ASC.
	GetByEntity(ctx context.Context, entityID string) ([]*domain.ActivityEvent, error)
}
