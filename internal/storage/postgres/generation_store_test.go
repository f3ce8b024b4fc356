package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

func TestGenerationAndJobStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	bots := NewBotStore(pool)
	gens := NewGenerationStore(pool)
	jobs := NewJobStore(pool)

	_, _, err := bots.CreateWithSlugGuard(ctx, testBot("b1", "u1", "one"))
	require.NoError(t, err)

	require.NoError(t, gens.Insert(ctx, &domain.Generation{ID: "g1", BotID: "b1", Number: 1, CreatedAt: 1}))
	err = gens.Insert(ctx, &domain.Generation{ID: "g2", BotID: "b1", Number: 1, CreatedAt: 2})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, gens.UpdateSharpe(ctx, "g1", 0.9))
	list, err := gens.GetByBot(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Sharpe)
	assert.Equal(t, 0.9, *list[0].Sharpe)

	require.NoError(t, jobs.Enqueue(ctx, &domain.EvaluationJob{
		ID: "j1", BotID: "b1", GenerationID: "g1", Kind: domain.JobKindBaseline,
		Archetype: "gap_fade", Timeframe: "15m", Symbol: "QQQ", Status: domain.JobStatusPending, CreatedAt: 3,
	}))
	pending, err := jobs.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.JobKindBaseline, pending[0].Kind)
}
