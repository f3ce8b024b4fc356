package memory

import (
	"context"
	"errors"
	"testing"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

func TestGenerationStore_InsertAndOrder(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Generation{ID: "g2", BotID: "b1", Number: 2})
	_ = store.Insert(ctx, &domain.Generation{ID: "g1", BotID: "b1", Number: 1})
	_ = store.Insert(ctx, &domain.Generation{ID: "g3", BotID: "b2", Number: 1})

	gens, err := store.GetByBot(ctx, "b1")
	if err != nil {
		t.Fatalf("GetByBot failed: %v", err)
	}
	if len(gens) != 2 || gens[0].Number != 1 || gens[1].Number != 2 {
		t.Errorf("unexpected generations: %+v", gens)
	}

	err = store.Insert(ctx, &domain.Generation{ID: "g4", BotID: "b1", Number: 2})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if err := store.UpdateSharpe(ctx, "g1", 1.4); err != nil {
		t.Fatalf("UpdateSharpe failed: %v", err)
	}
	gens, _ = store.GetByBot(ctx, "b1")
	if gens[0].Sharpe == nil || *gens[0].Sharpe != 1.4 {
		t.Errorf("Sharpe not backfilled")
	}
}

func TestJobStore_Pending(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	_ = store.Enqueue(ctx, &domain.EvaluationJob{ID: "j2", BotID: "b1", Status: domain.JobStatusPending, CreatedAt: 2})
	_ = store.Enqueue(ctx, &domain.EvaluationJob{ID: "j1", BotID: "b1", Status: domain.JobStatusPending, CreatedAt: 1})

	if err := store.Enqueue(ctx, &domain.EvaluationJob{ID: "j1", BotID: "b1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	pending, _ := store.GetPending(ctx)
	if len(pending) != 2 || pending[0].ID != "j1" {
		t.Errorf("unexpected pending order: %+v", pending)
	}
}

func TestActivityStore_Queries(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	_ = store.Append(ctx, &domain.ActivityEvent{ID: "e1", TraceID: "tr-1", EntityID: "c1", CreatedAt: 2, Attributes: map[string]string{"k": "v"}})
	_ = store.Append(ctx, &domain.ActivityEvent{ID: "e2", TraceID: "tr-1", EntityID: "b1", CreatedAt: 1})
	_ = store.Append(ctx, &domain.ActivityEvent{ID: "e3", TraceID: "tr-2", EntityID: "c1", CreatedAt: 3})

	byTrace, _ := store.GetByTrace(ctx, "tr-1")
	if len(byTrace) != 2 || byTrace[0].ID != "e2" {
		t.Errorf("unexpected trace events: %+v", byTrace)
	}
	byEntity, _ := store.GetByEntity(ctx, "c1")
	if len(byEntity) != 2 {
		t.Errorf("expected 2 entity events, got %d", len(byEntity))
	}
	byEntity[0].Attributes["k"] = "mutated"
	again, _ := store.GetByEntity(ctx, "c1")
	if again[0].Attributes["k"] != "v" {
		t.Errorf("store shares attribute maps with callers")
	}
}
