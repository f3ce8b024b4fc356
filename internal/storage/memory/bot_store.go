package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// BotStore is an in-memory implementation of storage.BotStore.
type BotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Bot // keyed by id
}

// NewBotStore creates a new in-memory bot store.
func NewBotStore() *BotStore {
	return &BotStore{
		data: make(map[string]*domain.Bot),
	}
}

// CreateWithSlugGuard creates a bot unless the user already owns one with the same slug.
// The store-wide write lock stands in for the per-user lock.
func (s *BotStore) CreateWithSlugGuard(_ context.Context, b *domain.Bot) (*domain.Bot, bool, error) {
	if b == nil || b.ID == "" || b.UserID == "" || b.Slug == "" {
		return nil, false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data {
		if existing.UserID == b.UserID && existing.Slug == b.Slug {
			return copyBot(existing), false, nil
		}
	}
	if _, exists := s.data[b.ID]; exists {
		return nil, false, storage.ErrDuplicateKey
	}

	s.data[b.ID] = copyBot(b)
	return copyBot(b), true, nil
}

// GetByID retrieves a bot by its ID. Returns ErrNotFound if not exists.
func (s *BotStore) GetByID(_ context.Context, botID string) (*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.data[botID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyBot(b), nil
}

// GetByUser retrieves all bots owned by a user, ordered by created_at ASC.
func (s *BotStore) GetByUser(_ context.Context, userID string) ([]*domain.Bot, error) {
	return s.filter(func(b *domain.Bot) bool { return b.UserID == userID }), nil
}

// GetByStage retrieves all bots in a stage, ordered by created_at ASC.
func (s *BotStore) GetByStage(_ context.Context, stage domain.Stage) ([]*domain.Bot, error) {
	return s.filter(func(b *domain.Bot) bool { return b.Stage == stage }), nil
}

// GetAll retrieves every bot, ordered by created_at ASC.
func (s *BotStore) GetAll(_ context.Context) ([]*domain.Bot, error) {
	return s.filter(func(*domain.Bot) bool { return true }), nil
}

// UpdateStage moves a bot to a new stage.
func (s *BotStore) UpdateStage(_ context.Context, botID string, stage domain.Stage, updatedAt int64) error {
	return s.mutate(botID, func(b *domain.Bot) {
		b.Stage = stage
		b.UpdatedAt = updatedAt
	})
}

// SetCurrentGeneration links the bot's active generation.
func (s *BotStore) SetCurrentGeneration(_ context.Context, botID, generationID string, updatedAt int64) error {
	return s.mutate(botID, func(b *domain.Bot) {
		id := generationID
		b.CurrentGenerationID = &id
		b.UpdatedAt = updatedAt
	})
}

// IncrementRework bumps rework_attempts and returns the new value.
func (s *BotStore) IncrementRework(_ context.Context, botID string, updatedAt int64) (int, error) {
	var attempts int
	err := s.mutate(botID, func(b *domain.Bot) {
		b.ReworkAttempts++
		b.UpdatedAt = updatedAt
		attempts = b.ReworkAttempts
	})
	return attempts, err
}

// UpdateMetrics replaces the performance snapshot.
func (s *BotStore) UpdateMetrics(_ context.Context, botID string, m domain.BotMetrics, updatedAt int64) error {
	return s.mutate(botID, func(b *domain.Bot) {
		b.Metrics = m
		b.UpdatedAt = updatedAt
	})
}

func (s *BotStore) mutate(botID string, fn func(*domain.Bot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.data[botID]
	if !exists {
		return storage.ErrNotFound
	}
	fn(b)
	return nil
}

func (s *BotStore) filter(keep func(*domain.Bot) bool) []*domain.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bot
	for _, b := range s.data {
		if keep(b) {
			result = append(result, copyBot(b))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func copyBot(b *domain.Bot) *domain.Bot {
	cp := *b
	cp.Config = copyConfig(b.Config)
	cp.CandidateID = copyString(b.CandidateID)
	cp.RecycledFromID = copyString(b.RecycledFromID)
	cp.CurrentGenerationID = copyString(b.CurrentGenerationID)
	return &cp
}

func copyConfig(c domain.StrategyConfig) domain.StrategyConfig {
	c.Rules = copyRules(c.Rules)
	return c
}

// Verify interface compliance at compile time.
var _ storage.BotStore = (*BotStore)(nil)
