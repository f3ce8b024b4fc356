package idhash

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewID returns a random record identifier.
func NewID() string {
	return uuid.NewString()
}

// NewTraceID returns an identifier that ties related activity events together.
func NewTraceID() string {
	return "tr-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTrackingID returns a short identifier for a feedback loop: "FL-" followed
// by the base58 encoding of a random uuid.
func NewTrackingID() string {
	id := uuid.New()
	return "FL-" + base58.Encode(id[:])
}

// Slug normalizes a bot or strategy name for duplicate detection:
// lower-cased with every non-alphanumeric rune removed.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
