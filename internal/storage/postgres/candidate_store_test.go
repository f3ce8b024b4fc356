package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

func testCandidate(id, name, hash string, createdAt int64) *domain.StrategyCandidate {
	return &domain.StrategyCandidate{
		ID:              id,
		StrategyName:    name,
		ArchetypeName:   "vwap_reversion",
		Hypothesis:      "price reverts to session vwap",
		Rules:           domain.Rules{Entry: []string{"2 sd below vwap"}, Exit: []string{"touch vwap"}},
		Timeframe:       "5m",
		Symbol:          "SPY",
		ConfidenceScore: 72,
		Confidence:      domain.ConfidenceBreakdown{ResearchConfidence: 18, StructuralSoundness: 20},
		AdjustedScore:   80,
		RegimeBonus:     8,
		NoveltyScore:    100,
		Tier:            domain.TierB,
		RulesHash:       hash,
		Disposition:     domain.DispositionQueued,
		DispositionAt:   createdAt,
		Source:          domain.SourceFeedbackLoop,
		SourceLabBotID:  ptr("bot-src"),
		LineageChain:    []string{"bot-root", "bot-src"},
		RiskParams:      &domain.RiskParams{StopLossPct: ptr(1.5)},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestCandidateStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	c := testCandidate("c1", "VWAP Snap", "hash-1", 1700000000000)
	require.NoError(t, store.Insert(ctx, c))

	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, c.StrategyName, got.StrategyName)
	assert.Equal(t, c.Rules, got.Rules)
	assert.Equal(t, c.Confidence, got.Confidence)
	assert.Equal(t, c.Tier, got.Tier)
	assert.Equal(t, c.Source, got.Source)
	assert.Equal(t, "bot-src", *got.SourceLabBotID)
	assert.Equal(t, c.LineageChain, got.LineageChain)
	require.NotNil(t, got.RiskParams)
	assert.Equal(t, 1.5, *got.RiskParams.StopLossPct)
	assert.Nil(t, got.CreatedBotID)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCandidateStore_DuplicateRulesHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c1", "A", "hash-1", 1)))
	err := store.Insert(ctx, testCandidate("c2", "B", "hash-1", 2))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByRulesHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	merged, err := store.Merge(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, merged.MergeCount)
	assert.Equal(t, int64(10), merged.UpdatedAt)
}

func TestCandidateStore_DispositionFlow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c1", "Same Name", "h1", 1)))
	require.NoError(t, store.Insert(ctx, testCandidate("c2", "Same Name", "h2", 2)))

	active, err := store.FindActiveByName(ctx, "Same Name")
	require.NoError(t, err)
	assert.Equal(t, "c1", active.ID)

	err = store.UpdateDisposition(ctx, "c1", domain.DispositionRejected, "LOW_SCORE", ptr("bot-x"), 5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	require.NoError(t, store.UpdateDisposition(ctx, "c1", domain.DispositionRejected, "LOW_SCORE", nil, 5))
	active, err = store.FindActiveByName(ctx, "Same Name")
	require.NoError(t, err)
	assert.Equal(t, "c2", active.ID)

	require.NoError(t, store.UpdateDisposition(ctx, "c2", domain.DispositionSentToLab, "PROMOTED", ptr("bot-1"), 6))
	n, err := store.CountSentToLabSince(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := store.CountByDisposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.DispositionRejected])
	assert.Equal(t, 1, counts[domain.DispositionSentToLab])

	queued, err := store.GetByDisposition(ctx, domain.DispositionQueued)
	require.NoError(t, err)
	assert.Empty(t, queued)

	require.NoError(t, store.UpdateNovelty(ctx, "c2", 42, 7))
	got, err := store.GetByID(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 42, got.NoveltyScore)
	assert.Equal(t, "bot-1", *got.CreatedBotID)

	// merges and novelty backfills do not re-date the promotion
	_, err = store.Merge(ctx, "c2", 8)
	require.NoError(t, err)
	got, err = store.GetByID(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.DispositionAt)
	assert.Equal(t, int64(8), got.UpdatedAt)
	n, err = store.CountSentToLabSince(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	err = store.UpdateNovelty(ctx, "missing", 1, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
