package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// BotStore implements storage.BotStore using PostgreSQL.
type BotStore struct {
	pool *Pool
}

// NewBotStore creates a new BotStore.
func NewBotStore(pool *Pool) *BotStore {
	return &BotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BotStore = (*BotStore)(nil)

const botColumns = `
	id, user_id, name, slug, archetype_name, timeframe, symbol, stage, config,
	candidate_id, recycled_from_id, rework_attempts, current_generation_id,
	metrics, created_at, updated_at
`

// CreateWithSlugGuard creates a bot unless the user already owns one with the same slug.
// The check and insert run in one transaction holding a per-user advisory lock.
func (s *BotStore) CreateWithSlugGuard(ctx context.Context, b *domain.Bot) (*domain.Bot, bool, error) {
	if b == nil || b.ID == "" || b.UserID == "" || b.Slug == "" {
		return nil, false, storage.ErrInvalidInput
	}

	config, err := json.Marshal(b.Config)
	if err != nil {
		return nil, false, fmt.Errorf("marshal config: %w", err)
	}
	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return nil, false, fmt.Errorf("marshal metrics: %w", err)
	}

	var existing *domain.Bot
	err = s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := LockXact(ctx, tx, "bots:"+b.UserID); err != nil {
			return err
		}

		found, err := scanBot(tx.QueryRow(ctx,
			`SELECT `+botColumns+` FROM bots WHERE user_id = $1 AND slug = $2`, b.UserID, b.Slug))
		if err == nil {
			existing = found
			return nil
		}
		if !isNotFoundError(err) {
			return fmt.Errorf("check slug: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO bots (`+botColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			b.ID, b.UserID, b.Name, b.Slug, b.ArchetypeName, b.Timeframe, b.Symbol, string(b.Stage), config,
			b.CandidateID, b.RecycledFromID, b.ReworkAttempts, b.CurrentGenerationID,
			metrics, b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert bot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	cp := *b
	return &cp, true, nil
}

// GetByID retrieves a bot by its ID. Returns ErrNotFound if not exists.
func (s *BotStore) GetByID(ctx context.Context, botID string) (*domain.Bot, error) {
	b, err := scanBot(s.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, botID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bot by id: %w", err)
	}
	return b, nil
}

// GetByUser retrieves all bots owned by a user, ordered by created_at ASC.
func (s *BotStore) GetByUser(ctx context.Context, userID string) ([]*domain.Bot, error) {
	return s.query(ctx, `WHERE user_id = $1`, userID)
}

// GetByStage retrieves all bots in a stage, ordered by created_at ASC.
func (s *BotStore) GetByStage(ctx context.Context, stage domain.Stage) ([]*domain.Bot, error) {
	return s.query(ctx, `WHERE stage = $1`, string(stage))
}

// GetAll retrieves every bot, ordered by created_at ASC.
func (s *BotStore) GetAll(ctx context.Context) ([]*domain.Bot, error) {
	return s.query(ctx, ``)
}

// UpdateStage moves a bot to a new stage.
func (s *BotStore) UpdateStage(ctx context.Context, botID string, stage domain.Stage, updatedAt int64) error {
	return s.exec(ctx, "update stage",
		`UPDATE bots SET stage = $2, updated_at = $3 WHERE id = $1`, botID, string(stage), updatedAt)
}

// SetCurrentGeneration links the bot's active generation.
func (s *BotStore) SetCurrentGeneration(ctx context.Context, botID, generationID string, updatedAt int64) error {
	return s.exec(ctx, "set current generation",
		`UPDATE bots SET current_generation_id = $2, updated_at = $3 WHERE id = $1`, botID, generationID, updatedAt)
}

// IncrementRework bumps rework_attempts and returns the new value.
func (s *BotStore) IncrementRework(ctx context.Context, botID string, updatedAt int64) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE bots SET rework_attempts = rework_attempts + 1, updated_at = $2
		WHERE id = $1
		RETURNING rework_attempts
	`, botID, updatedAt).Scan(&attempts)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("increment rework: %w", err)
	}
	return attempts, nil
}

// UpdateMetrics replaces the performance snapshot.
func (s *BotStore) UpdateMetrics(ctx context.Context, botID string, m domain.BotMetrics, updatedAt int64) error {
	metrics, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	return s.exec(ctx, "update metrics",
		`UPDATE bots SET metrics = $2, updated_at = $3 WHERE id = $1`, botID, metrics, updatedAt)
}

func (s *BotStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *BotStore) query(ctx context.Context, where string, args ...any) ([]*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots ` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return bots, nil
}

// scanBot scans a single row into Bot.
func scanBot(row pgx.Row) (*domain.Bot, error) {
	var b domain.Bot
	var stage string
	var config, metrics []byte

	err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.Slug, &b.ArchetypeName, &b.Timeframe, &b.Symbol, &stage, &config,
		&b.CandidateID, &b.RecycledFromID, &b.ReworkAttempts, &b.CurrentGenerationID,
		&metrics, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Stage = domain.Stage(stage)
	if err := json.Unmarshal(config, &b.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(metrics, &b.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return &b, nil
}
