package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EvaluationJob
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		data: make(map[string]*domain.EvaluationJob),
	}
}

// Enqueue adds a job. Returns ErrDuplicateKey if job id exists.
func (s *JobStore) Enqueue(_ context.Context, j *domain.EvaluationJob) error {
	if j == nil || j.ID == "" || j.BotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[j.ID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *j
	s.data[j.ID] = &cp
	return nil
}

// GetByBot retrieves all jobs of a bot, ordered by created_at ASC.
func (s *JobStore) GetByBot(_ context.Context, botID string) ([]*domain.EvaluationJob, error) {
	return s.filter(func(j *domain.EvaluationJob) bool { return j.BotID == botID }), nil
}

// GetPending retrieves pending jobs, ordered by created_at ASC.
func (s *JobStore) GetPending(_ context.Context) ([]*domain.EvaluationJob, error) {
	return s.filter(func(j *domain.EvaluationJob) bool { return j.Status == domain.JobStatusPending }), nil
}

func (s *JobStore) filter(keep func(*domain.EvaluationJob) bool) []*domain.EvaluationJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EvaluationJob
	for _, j := range s.data {
		if keep(j) {
			cp := *j
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt != result[k].CreatedAt {
			return result[i].CreatedAt < result[k].CreatedAt
		}
		return result[i].ID < result[k].ID
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.JobStore = (*JobStore)(nil)
