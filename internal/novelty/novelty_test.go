package novelty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/storage/memory"
)

func candidate(id, name, arch, hypothesis string, entry ...string) *domain.StrategyCandidate {
	c := &domain.StrategyCandidate{
		ID:            id,
		StrategyName:  name,
		ArchetypeName: arch,
		Hypothesis:    hypothesis,
		Rules:         domain.Rules{Entry: entry, Exit: []string{"trail stop"}},
		Disposition:   domain.DispositionQueued,
	}
	c.RulesHash = idhash.RulesHash(c.Rules)
	return c
}

func TestScore_EmptyPopulation(t *testing.T) {
	c := candidate("a", "A", "breakout_retest", "breakouts continue", "close above high")
	assert.Equal(t, 100, Score(c, nil))
	assert.Equal(t, 100, Score(c, []*domain.StrategyCandidate{c}), "self is ignored")
}

func TestScore_IdenticalNeighbour(t *testing.T) {
	a := candidate("a", "A", "breakout_retest", "breakouts above resistance continue", "close above resistance")
	b := candidate("b", "B", "breakout_retest", "breakouts above resistance continue", "close above resistance")
	assert.Equal(t, 0, Score(b, []*domain.StrategyCandidate{a}))
}

func TestScore_ClosestNeighbourWins(t *testing.T) {
	c := candidate("c", "C", "mean_reversion", "extensions from vwap revert", "price below lower band")
	far := candidate("far", "Far", "trend_following", "momentum persists for weeks", "ema crossover")
	near := candidate("near", "Near", "mean_reversion", "extensions from vwap revert quickly", "price below lower band")

	onlyFar := Score(c, []*domain.StrategyCandidate{far})
	both := Score(c, []*domain.StrategyCandidate{far, near})
	assert.Greater(t, onlyFar, both)
	assert.GreaterOrEqual(t, both, 0)
	assert.LessOrEqual(t, onlyFar, 100)
}

func TestSimilarity_UnknownArchetypeIsHalf(t *testing.T) {
	a := candidate("a", "A", "", "", "")
	b := candidate("b", "B", "momentum", "", "")
	// identical exit rules, no hypotheses
	assert.InDelta(t, weightArchetype*0.5+weightRules, Similarity(a, b), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard(Words(""), Words("")))
	assert.InDelta(t, 1.0/3.0, Jaccard(Words("alpha beta"), Words("beta gamma")), 1e-9)
	assert.Equal(t, 1.0, Jaccard(Words("Alpha, BETA"), Words("beta alpha")))
}

func TestRuleKeywords_SkipsStopwordsAndInvalidation(t *testing.T) {
	kw := RuleKeywords(domain.Rules{
		Entry:        []string{"enter when the rsi crosses"},
		Invalidation: []string{"ignored entirely"},
	})
	assert.Contains(t, kw, "rsi")
	assert.Contains(t, kw, "crosses")
	assert.NotContains(t, kw, "the")
	assert.NotContains(t, kw, "when")
	assert.NotContains(t, kw, "ignored")
}

func TestFindDuplicate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCandidateStore()

	existing := candidate("e1", "Breakout A", "breakout_retest", "h", "close above high")
	require.NoError(t, store.Insert(ctx, existing))

	t.Run("rules hash", func(t *testing.T) {
		c := candidate("n1", "Other Name", "breakout_retest", "h", "close above high")
		m, err := FindDuplicate(ctx, store, c)
		require.NoError(t, err)
		assert.Equal(t, MatchRulesHash, m.Kind)
		assert.Equal(t, "e1", m.Existing.ID)
	})

	t.Run("active name", func(t *testing.T) {
		c := candidate("n2", "Breakout A", "breakout_retest", "h", "different entry")
		m, err := FindDuplicate(ctx, store, c)
		require.NoError(t, err)
		assert.Equal(t, MatchActiveName, m.Kind)
	})

	t.Run("none", func(t *testing.T) {
		c := candidate("n3", "Fresh", "breakout_retest", "h", "something new")
		m, err := FindDuplicate(ctx, store, c)
		require.NoError(t, err)
		assert.False(t, m.IsDuplicate())
	})

	t.Run("terminal name does not match", func(t *testing.T) {
		rejected := candidate("e2", "Dead Idea", "momentum", "h", "dead entry")
		rejected.Disposition = domain.DispositionRejected
		require.NoError(t, store.Insert(ctx, rejected))

		c := candidate("n4", "Dead Idea", "momentum", "h", "revived entry")
		m, err := FindDuplicate(ctx, store, c)
		require.NoError(t, err)
		assert.False(t, m.IsDuplicate())
	})
}
