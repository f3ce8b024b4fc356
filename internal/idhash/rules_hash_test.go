package idhash

import (
	"strings"
	"testing"

	"strategy-lab/internal/domain"
)

func TestRulesHash(t *testing.T) {
	base := domain.Rules{
		Entry:        []string{"Close above 20 EMA", "RSI crosses 50"},
		Exit:         []string{"Close below 20 EMA"},
		Risk:         []string{"Stop at swing low"},
		Filters:      []string{"ADX > 25"},
		Invalidation: []string{"Gap down open"},
	}

	got := RulesHash(base)
	if len(got) != 64 {
		t.Fatalf("RulesHash() length = %d, want 64", len(got))
	}

	// Verify determinism: same inputs should produce same output
	if got2 := RulesHash(base); got != got2 {
		t.Errorf("RulesHash() not deterministic: %s != %s", got, got2)
	}
}

func TestRulesHash_OrderAndCaseInsensitive(t *testing.T) {
	a := domain.Rules{
		Entry: []string{"Close above 20 EMA", "RSI crosses 50"},
		Exit:  []string{"Close below 20 EMA"},
	}
	b := domain.Rules{
		Entry: []string{"  rsi crosses   50 ", "close above 20 ema", ""},
		Exit:  []string{"CLOSE BELOW 20 EMA"},
	}

	if RulesHash(a) != RulesHash(b) {
		t.Error("reordered and re-cased rules should hash identically")
	}
}

func TestRulesHash_DifferentInputs(t *testing.T) {
	base := RulesHash(domain.Rules{Entry: []string{"a"}, Exit: []string{"b"}})

	// Same item moved to a different section must not collide
	moved := RulesHash(domain.Rules{Entry: []string{"a", "b"}})
	if base == moved {
		t.Error("moving a rule between sections should change the hash")
	}

	diffExit := RulesHash(domain.Rules{Entry: []string{"a"}, Exit: []string{"c"}})
	if base == diffExit {
		t.Error("different exit rule should produce different hash")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mixed case and spaces", "Breakout Retest v2", "breakoutretestv2"},
		{"punctuation", "ORB-15m_(NQ)", "orb15mnq"},
		{"already slug", "meanrev", "meanrev"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewTrackingID(t *testing.T) {
	a := NewTrackingID()
	b := NewTrackingID()

	if !strings.HasPrefix(a, "FL-") {
		t.Errorf("tracking id %q missing FL- prefix", a)
	}
	if a == b {
		t.Error("tracking ids should be unique")
	}
}
