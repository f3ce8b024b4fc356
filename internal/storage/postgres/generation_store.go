package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// GenerationStore implements storage.GenerationStore using PostgreSQL.
type GenerationStore struct {
	pool *Pool
}

// NewGenerationStore creates a new GenerationStore.
func NewGenerationStore(pool *Pool) *GenerationStore {
	return &GenerationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.GenerationStore = (*GenerationStore)(nil)

// Insert adds a new generation. Returns ErrDuplicateKey if id or (bot_id, number) exists.
func (s *GenerationStore) Insert(ctx context.Context, g *domain.Generation) error {
	config, err := json.Marshal(g.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bot_generations (
			id, bot_id, number, parent_generation_id, config, sharpe, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.BotID, g.Number, g.ParentGenerationID, config, g.Sharpe, g.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetByBot retrieves all generations of a bot, ordered by number ASC.
func (s *GenerationStore) GetByBot(ctx context.Context, botID string) ([]*domain.Generation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, bot_id, number, parent_generation_id, config, sharpe, created_at
		FROM bot_generations
		WHERE bot_id = $1
		ORDER BY number ASC
	`, botID)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var gens []*domain.Generation
	for rows.Next() {
		var g domain.Generation
		var config []byte
		if err := rows.Scan(&g.ID, &g.BotID, &g.Number, &g.ParentGenerationID, &config, &g.Sharpe, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		if err := json.Unmarshal(config, &g.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		gens = append(gens, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return gens, nil
}

// UpdateSharpe backfills the generation's backtest Sharpe.
func (s *GenerationStore) UpdateSharpe(ctx context.Context, generationID string, sharpe float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bot_generations SET sharpe = $2 WHERE id = $1`, generationID, sharpe)
	if err != nil {
		return fmt.Errorf("update sharpe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
