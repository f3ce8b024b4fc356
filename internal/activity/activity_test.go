package activity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/clock"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage/memory"
)

func TestRecorder_Record(t *testing.T) {
	store := memory.NewActivityStore()
	clk := clock.NewFake(time.UnixMilli(1700000000000))
	r := NewRecorder(Options{Store: store, Clock: clk})

	ctx := WithTraceID(context.Background(), "tr-abc")
	e := r.Record(ctx, domain.ActivityDisposition, "c1", "candidate queued", map[string]string{"reason": "BELOW_THRESHOLD"})

	assert.Equal(t, "tr-abc", e.TraceID)
	assert.Equal(t, int64(1700000000000), e.CreatedAt)

	events, err := store.GetByTrace(context.Background(), "tr-abc")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].EntityID)
	assert.Equal(t, "BELOW_THRESHOLD", events[0].Attributes["reason"])
}

func TestTraceID_Generated(t *testing.T) {
	id := TraceID(context.Background())
	assert.True(t, strings.HasPrefix(id, "tr-"))
}
