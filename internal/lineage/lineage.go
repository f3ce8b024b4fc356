// Package lineage walks bot replacement chains.
package lineage

import "strategy-lab/internal/domain"

// MaxDepth bounds every chain walk.
const MaxDepth = 16

// Index maps bot id to its parent bot id (RecycledFromID).
type Index map[string]string

// NewIndex builds a parent index from a set of bots.
func NewIndex(bots []*domain.Bot) Index {
	idx := make(Index, len(bots))
	for _, b := range bots {
		if b.RecycledFromID != nil && *b.RecycledFromID != "" {
			idx[b.ID] = *b.RecycledFromID
		}
	}
	return idx
}

// Chain returns the ancestors of botID, oldest first, excluding botID itself.
// The walk stops at maxDepth ancestors or on a cycle.
func Chain(idx Index, botID string, maxDepth int) []string {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}

	seen := map[string]bool{botID: true}
	var rev []string
	for cur := botID; len(rev) < maxDepth; {
		parent, ok := idx[cur]
		if !ok || seen[parent] {
			break
		}
		seen[parent] = true
		rev = append(rev, parent)
		cur = parent
	}

	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// Depth returns the number of ancestors of botID.
func Depth(idx Index, botID string) int {
	return len(Chain(idx, botID, MaxDepth))
}
