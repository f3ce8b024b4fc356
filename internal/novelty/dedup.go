package novelty

import (
	"context"
	"errors"
	"fmt"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// MatchKind tells which duplicate check matched.
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchRulesHash  MatchKind = "RULES_HASH"
	MatchActiveName MatchKind = "ACTIVE_NAME"
)

// Lookup is the read side of the candidate store used for duplicate checks.
type Lookup interface {
	GetByRulesHash(ctx context.Context, rulesHash string) (*domain.StrategyCandidate, error)
	FindActiveByName(ctx context.Context, strategyName string) (*domain.StrategyCandidate, error)
}

// Match is the result of a duplicate check.
type Match struct {
	Kind     MatchKind
	Existing *domain.StrategyCandidate
}

// IsDuplicate reports whether a duplicate was found.
func (m Match) IsDuplicate() bool {
	return m.Kind != MatchNone
}

// FindDuplicate runs the exact-structure check, then the same-name active check.
// c.RulesHash must already be set.
func FindDuplicate(ctx context.Context, lookup Lookup, c *domain.StrategyCandidate) (Match, error) {
	existing, err := lookup.GetByRulesHash(ctx, c.RulesHash)
	switch {
	case err == nil:
		return Match{Kind: MatchRulesHash, Existing: existing}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Match{}, fmt.Errorf("lookup rules hash: %w", err)
	}

	existing, err = lookup.FindActiveByName(ctx, c.StrategyName)
	switch {
	case err == nil:
		return Match{Kind: MatchActiveName, Existing: existing}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Match{}, fmt.Errorf("lookup active name: %w", err)
	}

	return Match{}, nil
}
