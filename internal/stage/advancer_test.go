package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/clock"
	"strategy-lab/internal/config"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
	"strategy-lab/internal/feedback"
	"strategy-lab/internal/storage/memory"
)

func trialBot(id string, m domain.BotMetrics) *domain.Bot {
	return &domain.Bot{
		ID:            id,
		UserID:        "lab",
		Name:          id,
		Slug:          id,
		ArchetypeName: "breakout_retest", // 40 trades / 21 days
		Timeframe:     "15m",
		Symbol:        "BTC-USD",
		Stage:         domain.StageTrial,
		Metrics:       m,
	}
}

func TestEligible(t *testing.T) {
	s := config.Default()

	tests := []struct {
		name   string
		m      domain.BotMetrics
		reason string
		ok     bool
	}{
		{"trials gates after window", domain.BotMetrics{Trades: 45, Days: 25, Sharpe: 1.2, WinRate: 0.5, MaxDrawdownPct: 0.1}, ReasonTrialsAutoPromote, true},
		{"trials gates before window", domain.BotMetrics{Trades: 35, Days: 25, Sharpe: 1.2, WinRate: 0.5, MaxDrawdownPct: 0.1}, "", false},
		{"fast track early", domain.BotMetrics{Trades: 22, Days: 5, Sharpe: 2.5, WinRate: 0.65, MaxDrawdownPct: 0.05}, ReasonFastTrack, true},
		{"drawdown too deep", domain.BotMetrics{Trades: 45, Days: 25, Sharpe: 1.2, WinRate: 0.5, MaxDrawdownPct: 0.3}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := Eligible(trialBot("b", tt.m), s)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	paper := trialBot("p", domain.BotMetrics{Trades: 45, Days: 25, Sharpe: 3, WinRate: 0.7})
	paper.Stage = domain.StagePaper
	_, ok := Eligible(paper, s)
	assert.False(t, ok, "PAPER to LIVE is manual")

	s.FastTrack.Enabled = false
	s.TrialsAutoPromote.Enabled = false
	_, ok = Eligible(trialBot("b", domain.BotMetrics{Trades: 45, Days: 25, Sharpe: 3, WinRate: 0.7}), s)
	assert.False(t, ok)
}

func TestAdvanceTrials_ResolvesReplacementLoop(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	bots := memory.NewBotStore()
	loops := feedback.New(feedback.Options{Store: memory.NewFeedbackLoopStore(), Clock: clk})

	_, _, err := bots.CreateWithSlugGuard(ctx, trialBot("old", domain.BotMetrics{}))
	require.NoError(t, err)
	_, _, err = bots.CreateWithSlugGuard(ctx, trialBot("new", domain.BotMetrics{Trades: 22, Days: 5, Sharpe: 2.5, WinRate: 0.65, MaxDrawdownPct: 0.05}))
	require.NoError(t, err)

	loop, _, err := loops.Open(ctx, failure.Report{BotID: "old", Codes: []domain.ReasonCode{domain.ReasonHighDrawdown}, Severity: domain.SeverityCritical})
	require.NoError(t, err)
	_, err = loops.CandidateFound(ctx, loop.TrackingID, "cand-1")
	require.NoError(t, err)
	_, err = loops.StartTesting(ctx, loop.TrackingID, "new")
	require.NoError(t, err)

	adv := New(Options{Bots: bots, Settings: config.NewStore(config.Default()), Loops: loops, Clock: clk})
	promoted, err := adv.AdvanceTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, promoted)

	b, err := bots.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePaper, b.Stage)

	got, err := loops.Get(ctx, loop.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopResolved, got.State)
	require.NotNil(t, got.ResolutionCode)
	assert.Equal(t, feedback.ResolutionReplacementPromoted, *got.ResolutionCode)
}

func TestRetire_AbandonsReplacementLoop(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	bots := memory.NewBotStore()
	loops := feedback.New(feedback.Options{Store: memory.NewFeedbackLoopStore(), Clock: clk})

	_, _, err := bots.CreateWithSlugGuard(ctx, trialBot("new", domain.BotMetrics{}))
	require.NoError(t, err)
	loop, _, err := loops.Open(ctx, failure.Report{BotID: "old", Codes: []domain.ReasonCode{domain.ReasonLowSharpe}})
	require.NoError(t, err)
	_, err = loops.CandidateFound(ctx, loop.TrackingID, "cand-1")
	require.NoError(t, err)
	_, err = loops.StartTesting(ctx, loop.TrackingID, "new")
	require.NoError(t, err)

	adv := New(Options{Bots: bots, Settings: config.NewStore(config.Default()), Loops: loops, Clock: clk})
	require.NoError(t, adv.Retire(ctx, "new", "KILL"))
	require.NoError(t, adv.Retire(ctx, "new", "KILL"), "retiring twice is a no-op")

	b, err := bots.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, domain.StageRetired, b.Stage)

	got, err := loops.Get(ctx, loop.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopAbandoned, got.State)
}
