package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// CandidateStore is an in-memory implementation of storage.CandidateStore.
type CandidateStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.StrategyCandidate // keyed by id
	byHash map[string]string                    // rules_hash -> id
}

// NewCandidateStore creates a new in-memory candidate store.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		data:   make(map[string]*domain.StrategyCandidate),
		byHash: make(map[string]string),
	}
}

// Insert adds a new candidate. Returns ErrDuplicateKey if id or rules_hash exists.
func (s *CandidateStore) Insert(_ context.Context, c *domain.StrategyCandidate) error {
	if c == nil || c.ID == "" || c.RulesHash == "" {
		return storage.ErrInvalidInput
	}
	if c.Disposition == domain.DispositionRejected && c.CreatedBotID != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byHash[c.RulesHash]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[c.ID] = copyCandidate(c)
	s.byHash[c.RulesHash] = c.ID
	return nil
}

// Merge increments merge_count and bumps updated_at.
func (s *CandidateStore) Merge(_ context.Context, candidateID string, updatedAt int64) (*domain.StrategyCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[candidateID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	c.MergeCount++
	c.UpdatedAt = updatedAt
	return copyCandidate(c), nil
}

// GetByID retrieves a candidate by its ID. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(_ context.Context, candidateID string) (*domain.StrategyCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[candidateID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyCandidate(c), nil
}

// GetByRulesHash retrieves the candidate with the given rules hash.
func (s *CandidateStore) GetByRulesHash(_ context.Context, rulesHash string) (*domain.StrategyCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byHash[rulesHash]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyCandidate(s.data[id]), nil
}

// FindActiveByName retrieves the oldest non-terminal candidate with exactly this name.
func (s *CandidateStore) FindActiveByName(_ context.Context, strategyName string) (*domain.StrategyCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.StrategyCandidate
	for _, c := range s.data {
		if c.StrategyName != strategyName || c.Disposition.IsTerminal() {
			continue
		}
		if found == nil || c.CreatedAt < found.CreatedAt ||
			(c.CreatedAt == found.CreatedAt && c.ID < found.ID) {
			found = c
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return copyCandidate(found), nil
}

// GetAll retrieves every stored candidate, ordered by created_at ASC.
func (s *CandidateStore) GetAll(_ context.Context) ([]*domain.StrategyCandidate, error) {
	return s.filter(func(*domain.StrategyCandidate) bool { return true }), nil
}

// GetByDisposition retrieves candidates in a disposition, ordered by created_at ASC.
func (s *CandidateStore) GetByDisposition(_ context.Context, d domain.Disposition) ([]*domain.StrategyCandidate, error) {
	return s.filter(func(c *domain.StrategyCandidate) bool { return c.Disposition == d }), nil
}

// CountByDisposition returns candidate counts keyed by disposition.
func (s *CandidateStore) CountByDisposition(_ context.Context) (map[domain.Disposition]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.Disposition]int)
	for _, c := range s.data {
		counts[c.Disposition]++
	}
	return counts, nil
}

// CountSentToLabSince counts SENT_TO_LAB candidates dispositioned at or after since.
func (s *CandidateStore) CountSentToLabSince(_ context.Context, since int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.data {
		if c.Disposition == domain.DispositionSentToLab && c.DispositionAt >= since {
			n++
		}
	}
	return n, nil
}

// UpdateDisposition transitions a candidate.
func (s *CandidateStore) UpdateDisposition(_ context.Context, candidateID string, d domain.Disposition, reason string, createdBotID *string, updatedAt int64) error {
	if d == domain.DispositionRejected && createdBotID != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[candidateID]
	if !exists {
		return storage.ErrNotFound
	}
	c.Disposition = d
	c.DispositionReason = reason
	c.DispositionAt = updatedAt
	if createdBotID != nil {
		id := *createdBotID
		c.CreatedBotID = &id
	}
	c.UpdatedAt = updatedAt
	return nil
}

// UpdateNovelty backfills the novelty score.
func (s *CandidateStore) UpdateNovelty(_ context.Context, candidateID string, score int, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[candidateID]
	if !exists {
		return storage.ErrNotFound
	}
	c.NoveltyScore = score
	c.UpdatedAt = updatedAt
	return nil
}

func (s *CandidateStore) filter(keep func(*domain.StrategyCandidate) bool) []*domain.StrategyCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyCandidate
	for _, c := range s.data {
		if keep(c) {
			result = append(result, copyCandidate(c))
		}
	}

	// Sort by created_at ASC, id as tie-breaker
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result
}

func copyCandidate(c *domain.StrategyCandidate) *domain.StrategyCandidate {
	cp := *c
	cp.Rules = copyRules(c.Rules)
	cp.LineageChain = append([]string(nil), c.LineageChain...)
	cp.SourceLabBotID = copyString(c.SourceLabBotID)
	cp.CreatedBotID = copyString(c.CreatedBotID)
	if c.RiskParams != nil {
		rp := *c.RiskParams
		cp.RiskParams = &rp
	}
	return &cp
}

func copyRules(r domain.Rules) domain.Rules {
	return domain.Rules{
		Entry:        append([]string(nil), r.Entry...),
		Exit:         append([]string(nil), r.Exit...),
		Risk:         append([]string(nil), r.Risk...),
		Filters:      append([]string(nil), r.Filters...),
		Invalidation: append([]string(nil), r.Invalidation...),
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Verify interface compliance at compile time.
var _ storage.CandidateStore = (*CandidateStore)(nil)
