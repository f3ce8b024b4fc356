package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

func TestFeedbackLoopStore_ActiveUniqueness(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFeedbackLoopStore(pool)
	ctx := context.Background()

	first := &domain.FeedbackLoop{
		TrackingID:         "FL-a",
		SourceLabBotID:     "b1",
		State:              domain.LoopFailureDetected,
		FailureReasonCodes: []domain.ReasonCode{domain.ReasonLowSharpe},
		Severity:           domain.SeverityMajor,
		Regime:             domain.RegimeChoppy,
		CreatedAt:          1,
		UpdatedAt:          1,
	}
	require.NoError(t, store.Insert(ctx, first))

	err := store.Insert(ctx, &domain.FeedbackLoop{
		TrackingID: "FL-b", SourceLabBotID: "b1", State: domain.LoopFailureDetected, Severity: domain.SeverityMinor,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	first.State = domain.LoopCandidateTesting
	first.CandidateIDs = []string{"c1"}
	first.ReplacementBotID = ptr("b9")
	first.ResearchAttempts = 1
	require.NoError(t, store.Update(ctx, first))

	got, err := store.GetActiveByReplacementBot(ctx, "b9")
	require.NoError(t, err)
	assert.Equal(t, "FL-a", got.TrackingID)
	assert.Equal(t, []string{"c1"}, got.CandidateIDs)
	assert.Equal(t, []domain.ReasonCode{domain.ReasonLowSharpe}, got.FailureReasonCodes)

	first.State = domain.LoopResolved
	first.ResolutionCode = ptr("REPLACEMENT_PROMOTED")
	require.NoError(t, store.Update(ctx, first))

	_, err = store.GetActiveByBot(ctx, "b1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Slot is free again
	require.NoError(t, store.Insert(ctx, &domain.FeedbackLoop{
		TrackingID: "FL-c", SourceLabBotID: "b1", State: domain.LoopFailureDetected, Severity: domain.SeverityMinor,
	}))
}
