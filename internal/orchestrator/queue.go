package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"strategy-lab/internal/disposition"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/novelty"
)

// ExpireQueued expires candidates that have been QUEUED longer than the
// queue TTL. Merges into a queued candidate do not extend its stay.
func (e *Engine) ExpireQueued(ctx context.Context) (int, error) {
	queued, err := e.candidates.GetByDisposition(ctx, domain.DispositionQueued)
	if err != nil {
		return 0, fmt.Errorf("get queued: %w", err)
	}

	now := e.clock.Now()
	cutoff := now.Add(-e.queueTTL).UnixMilli()
	expired := 0
	for _, c := range queued {
		if c.DispositionAt >= cutoff {
			continue
		}
		if err := e.candidates.UpdateDisposition(ctx, c.ID, domain.DispositionExpired, disposition.ReasonExpired, nil, now.UnixMilli()); err != nil {
			e.logger.Warn("expire candidate failed", zap.String("candidate_id", c.ID), zap.Error(err))
			continue
		}
		expired++
		e.recorder.Record(ctx, domain.ActivityDisposition, c.ID, "candidate expired", map[string]string{
			"disposition": string(domain.DispositionExpired),
			"reason":      disposition.ReasonExpired,
		})
	}
	return expired, nil
}

// RefreshNovelty rescores the novelty of candidates still awaiting a decision
// (QUEUED or PENDING_REVIEW) against the current population, so a queued idea
// that later arrivals resemble no longer reads as new. Returns how many
// scores changed.
func (e *Engine) RefreshNovelty(ctx context.Context) (int, error) {
	population, err := e.candidates.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load population: %w", err)
	}

	now := e.clock.Now().UnixMilli()
	changed := 0
	for _, c := range population {
		if c.Disposition != domain.DispositionQueued && c.Disposition != domain.DispositionPendingReview {
			continue
		}
		score := novelty.Score(c, population)
		if score == c.NoveltyScore {
			continue
		}
		if err := e.candidates.UpdateNovelty(ctx, c.ID, score, now); err != nil {
			e.logger.Warn("update novelty failed", zap.String("candidate_id", c.ID), zap.Error(err))
			continue
		}
		e.logger.Debug("novelty rescored",
			zap.String("candidate_id", c.ID),
			zap.Int("from", c.NoveltyScore),
			zap.Int("to", score),
		)
		changed++
	}
	return changed, nil
}
