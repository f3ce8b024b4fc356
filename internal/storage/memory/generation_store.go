package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// GenerationStore is an in-memory implementation of storage.GenerationStore.
type GenerationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Generation // keyed by id
}

// NewGenerationStore creates a new in-memory generation store.
func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		data: make(map[string]*domain.Generation),
	}
}

// Insert adds a new generation. Returns ErrDuplicateKey if id or (bot_id, number) exists.
func (s *GenerationStore) Insert(_ context.Context, g *domain.Generation) error {
	if g == nil || g.ID == "" || g.BotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[g.ID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, existing := range s.data {
		if existing.BotID == g.BotID && existing.Number == g.Number {
			return storage.ErrDuplicateKey
		}
	}

	s.data[g.ID] = copyGeneration(g)
	return nil
}

// GetByBot retrieves all generations of a bot, ordered by number ASC.
func (s *GenerationStore) GetByBot(_ context.Context, botID string) ([]*domain.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Generation
	for _, g := range s.data {
		if g.BotID == botID {
			result = append(result, copyGeneration(g))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}

// UpdateSharpe backfills the generation's backtest Sharpe.
func (s *GenerationStore) UpdateSharpe(_ context.Context, generationID string, sharpe float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.data[generationID]
	if !exists {
		return storage.ErrNotFound
	}
	v := sharpe
	g.Sharpe = &v
	return nil
}

func copyGeneration(g *domain.Generation) *domain.Generation {
	cp := *g
	cp.Config = copyConfig(g.Config)
	cp.ParentGenerationID = copyString(g.ParentGenerationID)
	if g.Sharpe != nil {
		v := *g.Sharpe
		cp.Sharpe = &v
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.GenerationStore = (*GenerationStore)(nil)
