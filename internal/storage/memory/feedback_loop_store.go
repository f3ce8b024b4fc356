package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// FeedbackLoopStore is an in-memory implementation of storage.FeedbackLoopStore.
type FeedbackLoopStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeedbackLoop // keyed by tracking id
}

// NewFeedbackLoopStore creates a new in-memory feedback loop store.
func NewFeedbackLoopStore() *FeedbackLoopStore {
	return &FeedbackLoopStore{
		data: make(map[string]*domain.FeedbackLoop),
	}
}

// Insert adds a new loop. Returns ErrDuplicateKey if the source bot already has an active loop.
func (s *FeedbackLoopStore) Insert(_ context.Context, l *domain.FeedbackLoop) error {
	if l == nil || l.TrackingID == "" || l.SourceLabBotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.TrackingID]; exists {
		return storage.ErrDuplicateKey
	}
	if !l.State.IsTerminal() {
		for _, existing := range s.data {
			if existing.SourceLabBotID == l.SourceLabBotID && !existing.State.IsTerminal() {
				return storage.ErrDuplicateKey
			}
		}
	}

	s.data[l.TrackingID] = copyLoop(l)
	return nil
}

// Update replaces a stored loop. Returns ErrNotFound if not exists.
func (s *FeedbackLoopStore) Update(_ context.Context, l *domain.FeedbackLoop) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.TrackingID]; !exists {
		return storage.ErrNotFound
	}
	s.data[l.TrackingID] = copyLoop(l)
	return nil
}

// GetByID retrieves a loop by tracking id. Returns ErrNotFound if not exists.
func (s *FeedbackLoopStore) GetByID(_ context.Context, trackingID string) (*domain.FeedbackLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.data[trackingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyLoop(l), nil
}

// GetActiveByBot retrieves the non-terminal loop of a source bot.
func (s *FeedbackLoopStore) GetActiveByBot(_ context.Context, botID string) (*domain.FeedbackLoop, error) {
	return s.findActive(func(l *domain.FeedbackLoop) bool { return l.SourceLabBotID == botID })
}

// GetActiveByReplacementBot retrieves the non-terminal loop testing a replacement bot.
func (s *FeedbackLoopStore) GetActiveByReplacementBot(_ context.Context, botID string) (*domain.FeedbackLoop, error) {
	return s.findActive(func(l *domain.FeedbackLoop) bool {
		return l.ReplacementBotID != nil && *l.ReplacementBotID == botID
	})
}

// GetActive retrieves all non-terminal loops, ordered by created_at ASC.
func (s *FeedbackLoopStore) GetActive(_ context.Context) ([]*domain.FeedbackLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeedbackLoop
	for _, l := range s.data {
		if !l.State.IsTerminal() {
			result = append(result, copyLoop(l))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].TrackingID < result[j].TrackingID
	})
	return result, nil
}

func (s *FeedbackLoopStore) findActive(match func(*domain.FeedbackLoop) bool) (*domain.FeedbackLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.data {
		if !l.State.IsTerminal() && match(l) {
			return copyLoop(l), nil
		}
	}
	return nil, storage.ErrNotFound
}

func copyLoop(l *domain.FeedbackLoop) *domain.FeedbackLoop {
	cp := *l
	cp.FailureReasonCodes = append([]domain.ReasonCode(nil), l.FailureReasonCodes...)
	cp.CandidateIDs = append([]string(nil), l.CandidateIDs...)
	cp.BestCandidateID = copyString(l.BestCandidateID)
	cp.ResolutionCode = copyString(l.ResolutionCode)
	cp.ReplacementBotID = copyString(l.ReplacementBotID)
	cp.Note = copyString(l.Note)
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.FeedbackLoopStore = (*FeedbackLoopStore)(nil)
