package idhash

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"strategy-lab/internal/domain"
)

// RulesHash computes a deterministic content digest of a rule set using BLAKE3.
// Each list is trimmed, lower-cased, stripped of empty items and sorted so that
// rule order and casing do not produce distinct hashes.
// Formula: BLAKE3(entry|exit|risk|filters|invalidation), lists joined by "\x1f".
// Returns hex-encoded hash (64 characters).
func RulesHash(rules domain.Rules) string {
	sections := [][]string{
		rules.Entry,
		rules.Exit,
		rules.Risk,
		rules.Filters,
		rules.Invalidation,
	}

	parts := make([]string, len(sections))
	for i, section := range sections {
		parts[i] = strings.Join(normalizeList(section), "\x1f")
	}

	hash := blake3.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.Join(strings.Fields(item), " "))
		if item != "" {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
