package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// CandidateStore implements storage.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *Pool
}

// NewCandidateStore creates a new CandidateStore.
func NewCandidateStore(pool *Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

const candidateColumns = `
	id, strategy_name, archetype_name, hypothesis, rules, timeframe, symbol,
	confidence_score, research_confidence, structural_soundness,
	adjusted_score, regime_bonus, novelty_score, tier, rules_hash,
	disposition, disposition_reason, merge_count, source, source_lab_bot_id,
	lineage_chain, created_bot_id, risk_params, created_at, updated_at,
	disposition_at
`

// Insert adds a new candidate. Returns ErrDuplicateKey if id or rules_hash exists.
func (s *CandidateStore) Insert(ctx context.Context, c *domain.StrategyCandidate) error {
	if c == nil || c.ID == "" || c.RulesHash == "" {
		return storage.ErrInvalidInput
	}
	if c.Disposition == domain.DispositionRejected && c.CreatedBotID != nil {
		return storage.ErrInvalidInput
	}

	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	lineage, err := json.Marshal(nonNil(c.LineageChain))
	if err != nil {
		return fmt.Errorf("marshal lineage: %w", err)
	}
	var risk []byte
	if c.RiskParams != nil {
		if risk, err = json.Marshal(c.RiskParams); err != nil {
			return fmt.Errorf("marshal risk params: %w", err)
		}
	}

	query := `
		INSERT INTO strategy_candidates (` + candidateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.StrategyName, c.ArchetypeName, c.Hypothesis, rules, c.Timeframe, c.Symbol,
		c.ConfidenceScore, c.Confidence.ResearchConfidence, c.Confidence.StructuralSoundness,
		c.AdjustedScore, c.RegimeBonus, c.NoveltyScore, string(c.Tier), c.RulesHash,
		string(c.Disposition), c.DispositionReason, c.MergeCount, string(c.Source), c.SourceLabBotID,
		lineage, c.CreatedBotID, risk, c.CreatedAt, c.UpdatedAt,
		c.DispositionAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrInvalidInput
		}
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// Merge increments merge_count and bumps updated_at.
func (s *CandidateStore) Merge(ctx context.Context, candidateID string, updatedAt int64) (*domain.StrategyCandidate, error) {
	query := `
		UPDATE strategy_candidates
		SET merge_count = merge_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING ` + candidateColumns

	c, err := scanCandidate(s.pool.QueryRow(ctx, query, candidateID, updatedAt))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("merge candidate: %w", err)
	}
	return c, nil
}

// GetByID retrieves a candidate by its ID. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(ctx context.Context, candidateID string) (*domain.StrategyCandidate, error) {
	return s.getOne(ctx, "id = $1", candidateID)
}

// GetByRulesHash retrieves the candidate with the given rules hash.
func (s *CandidateStore) GetByRulesHash(ctx context.Context, rulesHash string) (*domain.StrategyCandidate, error) {
	return s.getOne(ctx, "rules_hash = $1", rulesHash)
}

// FindActiveByName retrieves the oldest non-terminal candidate with exactly this name.
func (s *CandidateStore) FindActiveByName(ctx context.Context, strategyName string) (*domain.StrategyCandidate, error) {
	return s.getOne(ctx, `strategy_name = $1
		AND disposition NOT IN ('MERGED', 'REJECTED', 'EXPIRED')
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, strategyName)
}

// GetAll retrieves every stored candidate, ordered by created_at ASC.
func (s *CandidateStore) GetAll(ctx context.Context) ([]*domain.StrategyCandidate, error) {
	query := `SELECT ` + candidateColumns + `
		FROM strategy_candidates
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// GetByDisposition retrieves candidates in a disposition, ordered by created_at ASC.
func (s *CandidateStore) GetByDisposition(ctx context.Context, d domain.Disposition) ([]*domain.StrategyCandidate, error) {
	query := `SELECT ` + candidateColumns + `
		FROM strategy_candidates
		WHERE disposition = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, string(d))
	if err != nil {
		return nil, fmt.Errorf("query candidates by disposition: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// CountByDisposition returns candidate counts keyed by disposition.
func (s *CandidateStore) CountByDisposition(ctx context.Context) (map[domain.Disposition]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT disposition, count(*) FROM strategy_candidates GROUP BY disposition
	`)
	if err != nil {
		return nil, fmt.Errorf("count candidates: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Disposition]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.Disposition(d)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// CountSentToLabSince counts SENT_TO_LAB candidates dispositioned at or after since.
func (s *CandidateStore) CountSentToLabSince(ctx context.Context, since int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM strategy_candidates
		WHERE disposition = 'SENT_TO_LAB' AND disposition_at >= $1
	`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent to lab: %w", err)
	}
	return n, nil
}

// UpdateDisposition transitions a candidate.
func (s *CandidateStore) UpdateDisposition(ctx context.Context, candidateID string, d domain.Disposition, reason string, createdBotID *string, updatedAt int64) error {
	if d == domain.DispositionRejected && createdBotID != nil {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE strategy_candidates
		SET disposition = $2,
			disposition_reason = $3,
			created_bot_id = COALESCE($4, created_bot_id),
			disposition_at = $5,
			updated_at = $5
		WHERE id = $1
	`, candidateID, string(d), reason, createdBotID, updatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("update disposition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateNovelty backfills the novelty score.
func (s *CandidateStore) UpdateNovelty(ctx context.Context, candidateID string, score int, updatedAt int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategy_candidates SET novelty_score = $2, updated_at = $3 WHERE id = $1
	`, candidateID, score, updatedAt)
	if err != nil {
		return fmt.Errorf("update novelty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *CandidateStore) getOne(ctx context.Context, where string, arg any) (*domain.StrategyCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM strategy_candidates WHERE ` + where

	c, err := scanCandidate(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// scanCandidate scans a single row into StrategyCandidate.
func scanCandidate(row pgx.Row) (*domain.StrategyCandidate, error) {
	var c domain.StrategyCandidate
	var tier, disposition, source string
	var rules, lineage, risk []byte

	err := row.Scan(
		&c.ID, &c.StrategyName, &c.ArchetypeName, &c.Hypothesis, &rules, &c.Timeframe, &c.Symbol,
		&c.ConfidenceScore, &c.Confidence.ResearchConfidence, &c.Confidence.StructuralSoundness,
		&c.AdjustedScore, &c.RegimeBonus, &c.NoveltyScore, &tier, &c.RulesHash,
		&disposition, &c.DispositionReason, &c.MergeCount, &source, &c.SourceLabBotID,
		&lineage, &c.CreatedBotID, &risk, &c.CreatedAt, &c.UpdatedAt,
		&c.DispositionAt,
	)
	if err != nil {
		return nil, err
	}

	c.Tier = domain.Tier(tier)
	c.Disposition = domain.Disposition(disposition)
	c.Source = domain.Source(source)

	if err := json.Unmarshal(rules, &c.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if err := json.Unmarshal(lineage, &c.LineageChain); err != nil {
		return nil, fmt.Errorf("unmarshal lineage: %w", err)
	}
	if len(risk) > 0 {
		c.RiskParams = &domain.RiskParams{}
		if err := json.Unmarshal(risk, c.RiskParams); err != nil {
			return nil, fmt.Errorf("unmarshal risk params: %w", err)
		}
	}
	return &c, nil
}

// scanCandidates scans multiple rows into StrategyCandidate slice.
func scanCandidates(rows pgx.Rows) ([]*domain.StrategyCandidate, error) {
	var candidates []*domain.StrategyCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return candidates, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
