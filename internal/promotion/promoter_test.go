package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/activity"
	"strategy-lab/internal/clock"
	"strategy-lab/internal/disposition"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
	"strategy-lab/internal/storage/memory"
)

type fixture struct {
	candidates *memory.CandidateStore
	bots       *memory.BotStore
	gens       *memory.GenerationStore
	jobs       *memory.JobStore
	activity   *memory.ActivityStore
}

func newFixture() fixture {
	return fixture{
		candidates: memory.NewCandidateStore(),
		bots:       memory.NewBotStore(),
		gens:       memory.NewGenerationStore(),
		jobs:       memory.NewJobStore(),
		activity:   memory.NewActivityStore(),
	}
}

func (f fixture) promoter(bots storage.BotStore, gens storage.GenerationStore) *Promoter {
	clk := clock.NewFake(time.UnixMilli(1700000000000))
	return New(Options{
		Candidates:  f.candidates,
		Bots:        bots,
		Generations: gens,
		Jobs:        f.jobs,
		Recorder:    activity.NewRecorder(activity.Options{Store: f.activity, Clock: clk}),
		Clock:       clk,
	})
}

func sentCandidate(id, name string) *domain.StrategyCandidate {
	return &domain.StrategyCandidate{
		ID:            id,
		StrategyName:  name,
		ArchetypeName: "breakout_retest",
		Rules:         domain.Rules{Entry: []string{"close above range"}, Exit: []string{"target hit"}},
		Timeframe:     "1h",
		Symbol:        "BTC/USD",
		RulesHash:     "hash-" + id,
		Disposition:   domain.DispositionSentToLab,
		AdjustedScore: 90,
		Tier:          domain.TierA,
	}
}

func TestPromote_CreatesBotGenerationAndJob(t *testing.T) {
	f := newFixture()
	p := f.promoter(f.bots, f.gens)
	ctx := context.Background()

	c := sentCandidate("c1", "Breakout Retest v2")
	require.NoError(t, f.candidates.Insert(ctx, c))

	res, err := p.Promote(ctx, c, "u1")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.NotEmpty(t, res.GenerationID)
	assert.NotEmpty(t, res.JobID)

	bot, err := f.bots.GetByID(ctx, res.BotID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageTrial, bot.Stage)
	assert.Equal(t, "breakoutretestv2", bot.Slug)
	assert.Equal(t, domain.SessionContinuous, bot.Config.SessionMode)
	assert.Equal(t, res.GenerationID, *bot.CurrentGenerationID)
	assert.True(t, bot.Config.Risk.MaxPositionNotional.IsPositive())

	jobs, _ := f.jobs.GetByBot(ctx, res.BotID)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobKindBaseline, jobs[0].Kind)
	assert.Equal(t, "BTC/USD", jobs[0].Symbol)

	stored, _ := f.candidates.GetByID(ctx, "c1")
	assert.Equal(t, res.BotID, *stored.CreatedBotID)

	events, _ := f.activity.GetByEntity(ctx, res.BotID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActivityStageChange, events[0].Kind)
	assert.Equal(t, "c1", events[0].Attributes["candidate_id"])
}

func TestPromote_SlugGuardLinksExistingBot(t *testing.T) {
	f := newFixture()
	p := f.promoter(f.bots, f.gens)
	ctx := context.Background()

	first := sentCandidate("c1", "Gap-Fade Alpha")
	require.NoError(t, f.candidates.Insert(ctx, first))
	res1, err := p.Promote(ctx, first, "u1")
	require.NoError(t, err)

	second := sentCandidate("c2", "gap fade alpha")
	require.NoError(t, f.candidates.Insert(ctx, second))
	res2, err := p.Promote(ctx, second, "u1")
	require.NoError(t, err)

	assert.True(t, res2.Linked)
	assert.Equal(t, res1.BotID, res2.BotID)

	bots, _ := f.bots.GetByUser(ctx, "u1")
	assert.Len(t, bots, 1)
	jobs, _ := f.jobs.GetPending(ctx)
	assert.Len(t, jobs, 1, "linking must not enqueue another job")
}

type failingBots struct {
	*memory.BotStore
}

func (failingBots) CreateWithSlugGuard(context.Context, *domain.Bot) (*domain.Bot, bool, error) {
	return nil, false, errors.New("connection reset")
}

func TestPromote_BotFailureRevertsToQueued(t *testing.T) {
	f := newFixture()
	p := f.promoter(failingBots{f.bots}, f.gens)
	ctx := context.Background()

	c := sentCandidate("c1", "Momentum Burst")
	require.NoError(t, f.candidates.Insert(ctx, c))

	_, err := p.Promote(ctx, c, "u1")
	require.ErrorIs(t, err, ErrBotCreation)

	stored, _ := f.candidates.GetByID(ctx, "c1")
	assert.Equal(t, domain.DispositionQueued, stored.Disposition)
	assert.Equal(t, disposition.ReasonPromotionFailed, stored.DispositionReason)
	assert.Nil(t, stored.CreatedBotID)
}

func TestPromote_UnsupportedSymbolReverts(t *testing.T) {
	f := newFixture()
	p := f.promoter(f.bots, f.gens)
	ctx := context.Background()

	c := sentCandidate("c1", "Odd Symbol")
	c.Symbol = "not a symbol"
	require.NoError(t, f.candidates.Insert(ctx, c))

	_, err := p.Promote(ctx, c, "u1")
	require.ErrorIs(t, err, ErrBotCreation)

	bots, _ := f.bots.GetAll(ctx)
	assert.Empty(t, bots)
}

type failingGenerations struct {
	*memory.GenerationStore
}

func (failingGenerations) Insert(context.Context, *domain.Generation) error {
	return errors.New("disk full")
}

func TestPromote_GenerationFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	p := f.promoter(f.bots, failingGenerations{f.gens})
	ctx := context.Background()

	c := sentCandidate("c1", "Trend Rider")
	require.NoError(t, f.candidates.Insert(ctx, c))

	res, err := p.Promote(ctx, c, "u1")
	require.NoError(t, err)
	assert.Empty(t, res.GenerationID)
	assert.NotEmpty(t, res.JobID)

	stored, _ := f.candidates.GetByID(ctx, "c1")
	assert.Equal(t, domain.DispositionSentToLab, stored.Disposition)
}
