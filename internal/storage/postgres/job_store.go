package postgres

import (
	"context"
	"fmt"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// JobStore implements storage.JobStore using PostgreSQL.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JobStore = (*JobStore)(nil)

// Enqueue adds a job. Returns ErrDuplicateKey if job id exists.
func (s *JobStore) Enqueue(ctx context.Context, j *domain.EvaluationJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluation_jobs (
			id, bot_id, generation_id, kind, archetype, timeframe, symbol, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.ID, j.BotID, j.GenerationID, string(j.Kind), j.Archetype, j.Timeframe, j.Symbol, string(j.Status), j.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// GetByBot retrieves all jobs of a bot, ordered by created_at ASC.
func (s *JobStore) GetByBot(ctx context.Context, botID string) ([]*domain.EvaluationJob, error) {
	return s.query(ctx, `WHERE bot_id = $1`, botID)
}

// GetPending retrieves pending jobs, ordered by created_at ASC.
func (s *JobStore) GetPending(ctx context.Context) ([]*domain.EvaluationJob, error) {
	return s.query(ctx, `WHERE status = $1`, string(domain.JobStatusPending))
}

func (s *JobStore) query(ctx context.Context, where string, args ...any) ([]*domain.EvaluationJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, bot_id, generation_id, kind, archetype, timeframe, symbol, status, created_at
		FROM evaluation_jobs `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.EvaluationJob
	for rows.Next() {
		var j domain.EvaluationJob
		var kind, status string
		if err := rows.Scan(&j.ID, &j.BotID, &j.GenerationID, &kind, &j.Archetype, &j.Timeframe, &j.Symbol, &status, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Kind = domain.JobKind(kind)
		j.Status = domain.JobStatus(status)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}
