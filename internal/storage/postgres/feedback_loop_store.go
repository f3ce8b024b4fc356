package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// FeedbackLoopStore implements storage.FeedbackLoopStore using PostgreSQL.
// The partial unique index on source_lab_bot_id enforces one active loop per bot.
type FeedbackLoopStore struct {
	pool *Pool
}

// NewFeedbackLoopStore creates a new FeedbackLoopStore.
func NewFeedbackLoopStore(pool *Pool) *FeedbackLoopStore {
	return &FeedbackLoopStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeedbackLoopStore = (*FeedbackLoopStore)(nil)

const loopColumns = `
	tracking_id, source_lab_bot_id, state, failure_reason_codes, severity, regime,
	candidate_ids, best_candidate_id, resolution_code, replacement_bot_id, note,
	research_attempts, created_at, updated_at
`

const activeLoopFilter = `state NOT IN ('RESOLVED', 'ABANDONED')`

// Insert adds a new loop. Returns ErrDuplicateKey if the source bot already has an active loop.
func (s *FeedbackLoopStore) Insert(ctx context.Context, l *domain.FeedbackLoop) error {
	codes, candidates, err := marshalLoopLists(l)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feedback_loops (`+loopColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		l.TrackingID, l.SourceLabBotID, string(l.State), codes, string(l.Severity), string(l.Regime),
		candidates, l.BestCandidateID, l.ResolutionCode, l.ReplacementBotID, l.Note,
		l.ResearchAttempts, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert feedback loop: %w", err)
	}
	return nil
}

// Update replaces a stored loop. Returns ErrNotFound if not exists.
func (s *FeedbackLoopStore) Update(ctx context.Context, l *domain.FeedbackLoop) error {
	codes, candidates, err := marshalLoopLists(l)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE feedback_loops SET
			state = $2, failure_reason_codes = $3, severity = $4, regime = $5,
			candidate_ids = $6, best_candidate_id = $7, resolution_code = $8,
			replacement_bot_id = $9, note = $10, research_attempts = $11, updated_at = $12
		WHERE tracking_id = $1
	`,
		l.TrackingID, string(l.State), codes, string(l.Severity), string(l.Regime),
		candidates, l.BestCandidateID, l.ResolutionCode,
		l.ReplacementBotID, l.Note, l.ResearchAttempts, l.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("update feedback loop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a loop by tracking id. Returns ErrNotFound if not exists.
func (s *FeedbackLoopStore) GetByID(ctx context.Context, trackingID string) (*domain.FeedbackLoop, error) {
	return s.getOne(ctx, `tracking_id = $1`, trackingID)
}

// GetActiveByBot retrieves the non-terminal loop of a source bot.
func (s *FeedbackLoopStore) GetActiveByBot(ctx context.Context, botID string) (*domain.FeedbackLoop, error) {
	return s.getOne(ctx, `source_lab_bot_id = $1 AND `+activeLoopFilter, botID)
}

// GetActiveByReplacementBot retrieves the non-terminal loop testing a replacement bot.
func (s *FeedbackLoopStore) GetActiveByReplacementBot(ctx context.Context, botID string) (*domain.FeedbackLoop, error) {
	return s.getOne(ctx, `replacement_bot_id = $1 AND `+activeLoopFilter+` ORDER BY created_at ASC LIMIT 1`, botID)
}

// GetActive retrieves all non-terminal loops, ordered by created_at ASC.
func (s *FeedbackLoopStore) GetActive(ctx context.Context) ([]*domain.FeedbackLoop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+loopColumns+` FROM feedback_loops
		WHERE `+activeLoopFilter+`
		ORDER BY created_at ASC, tracking_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active loops: %w", err)
	}
	defer rows.Close()

	var loops []*domain.FeedbackLoop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback loop: %w", err)
		}
		loops = append(loops, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return loops, nil
}

func (s *FeedbackLoopStore) getOne(ctx context.Context, where string, arg any) (*domain.FeedbackLoop, error) {
	l, err := scanLoop(s.pool.QueryRow(ctx, `SELECT `+loopColumns+` FROM feedback_loops WHERE `+where, arg))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get feedback loop: %w", err)
	}
	return l, nil
}

func marshalLoopLists(l *domain.FeedbackLoop) ([]byte, []byte, error) {
	codes, err := json.Marshal(nonNil(l.FailureReasonCodes))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal reason codes: %w", err)
	}
	candidates, err := json.Marshal(nonNil(l.CandidateIDs))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal candidate ids: %w", err)
	}
	return codes, candidates, nil
}

// scanLoop scans a single row into FeedbackLoop.
func scanLoop(row pgx.Row) (*domain.FeedbackLoop, error) {
	var l domain.FeedbackLoop
	var state, severity, regime string
	var codes, candidates []byte

	err := row.Scan(
		&l.TrackingID, &l.SourceLabBotID, &state, &codes, &severity, &regime,
		&candidates, &l.BestCandidateID, &l.ResolutionCode, &l.ReplacementBotID, &l.Note,
		&l.ResearchAttempts, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.State = domain.LoopState(state)
	l.Severity = domain.Severity(severity)
	l.Regime = domain.Regime(regime)
	if err := json.Unmarshal(codes, &l.FailureReasonCodes); err != nil {
		return nil, fmt.Errorf("unmarshal reason codes: %w", err)
	}
	if err := json.Unmarshal(candidates, &l.CandidateIDs); err != nil {
		return nil, fmt.Errorf("unmarshal candidate ids: %w", err)
	}
	return &l, nil
}
