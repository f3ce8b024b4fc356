package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"strategy-lab/internal/domain"
)

// Kind tags a ParseResult.
type Kind string

const (
	KindOK          Kind = "OK"
	KindParseError  Kind = "PARSE_ERROR"
	KindSchemaError Kind = "SCHEMA_ERROR"
)

// Repair strategy names.
const (
	RepairNone     = ""
	RepairClose    = "close_and_balance"
	RepairTruncate = "truncate_to_last_element"
)

// Defaults applied to drafts that omit a field.
const (
	DefaultTimeframe = "1h"
	maxConfidence    = 100
	maxComponent     = 25
)

// ParseResult is the typed outcome of parsing generator output.
type ParseResult struct {
	Kind   Kind
	Drafts []Draft
	Repair string
	Err    error

	// Dropped counts elements that failed schema validation.
	Dropped int
}

type wireOutput struct {
	Candidates []json.RawMessage `json:"candidates"`
	Strategies []json.RawMessage `json:"strategies"`
}

type wireCandidate struct {
	StrategyName string          `json:"strategy_name"`
	Name         string          `json:"name"`
	Archetype    string          `json:"archetype"`
	Hypothesis   string          `json:"hypothesis"`
	Rules        json.RawMessage `json:"rules"`
	Timeframe    string          `json:"timeframe"`
	Symbol       string          `json:"symbol"`
	Confidence   *int            `json:"confidence"`
	Breakdown    *struct {
		ResearchConfidence  *int `json:"research_confidence"`
		StructuralSoundness *int `json:"structural_soundness"`
	} `json:"confidence_breakdown"`
	RiskParams *domain.RiskParams `json:"risk_params"`
}

// Parse turns raw model output into drafts. Comments and trailing commas are
// stripped first; if the text still does not parse, unterminated strings and
// brackets are closed, then the text is truncated to its last complete
// element. Elements missing a name, symbol or entry rule are dropped.
func Parse(raw []byte) ParseResult {
	text := extractJSON(raw)
	if len(text) == 0 {
		return ParseResult{Kind: KindParseError, Err: fmt.Errorf("empty output")}
	}

	doc, repair, ok := repairJSON(text)
	if !ok {
		return ParseResult{Kind: KindParseError, Err: fmt.Errorf("unparseable output (%d bytes)", len(text))}
	}

	elems, err := elements(doc)
	if err != nil {
		return ParseResult{Kind: KindSchemaError, Repair: repair, Err: err}
	}

	res := ParseResult{Kind: KindOK, Repair: repair}
	var firstErr error
	for i, el := range elems {
		d, err := toDraft(el)
		if err != nil {
			res.Dropped++
			if firstErr == nil {
				firstErr = fmt.Errorf("element %d: %w", i, err)
			}
			continue
		}
		res.Drafts = append(res.Drafts, d)
	}
	if len(res.Drafts) == 0 && res.Dropped > 0 {
		res.Kind = KindSchemaError
		res.Err = firstErr
	}
	return res
}

// extractJSON strips markdown fences and prose around the JSON payload.
func extractJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil
	}
	return []byte(strings.TrimSpace(s[start:]))
}

func repairJSON(text []byte) ([]byte, string, bool) {
	if doc := jsonc.ToJSON(text); json.Valid(doc) {
		return doc, RepairNone, true
	}
	if doc := jsonc.ToJSON(balance(text)); json.Valid(doc) {
		return doc, RepairClose, true
	}
	// Cut after each closing brace from the end and rebalance.
	for end := len(text) - 1; end > 0; end-- {
		if text[end] != '}' {
			continue
		}
		if doc := jsonc.ToJSON(balance(text[:end+1])); json.Valid(doc) {
			return doc, RepairTruncate, true
		}
	}
	return nil, "", false
}

// balance closes an unterminated string and any open brackets.
func balance(text []byte) []byte {
	var stack []byte
	inString, escaped := false, false
	for _, c := range text {
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := bytes.TrimRight(append([]byte(nil), text...), " \t\r\n")
	if inString {
		out = append(out, '"')
	}
	out = bytes.TrimRight(out, ",:")
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}

func elements(doc []byte) ([]json.RawMessage, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) > 0 && doc[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(doc, &arr); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return arr, nil
	}

	var out wireOutput
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	switch {
	case out.Candidates != nil:
		return out.Candidates, nil
	case out.Strategies != nil:
		return out.Strategies, nil
	}
	// A single bare candidate object.
	return []json.RawMessage{doc}, nil
}

func toDraft(el json.RawMessage) (Draft, error) {
	var w wireCandidate
	if err := json.Unmarshal(el, &w); err != nil {
		return Draft{}, fmt.Errorf("decode candidate: %w", err)
	}

	name := strings.TrimSpace(w.StrategyName)
	if name == "" {
		name = strings.TrimSpace(w.Name)
	}
	if name == "" {
		return Draft{}, fmt.Errorf("missing strategy_name")
	}
	symbol := strings.ToUpper(strings.TrimSpace(w.Symbol))
	if symbol == "" {
		return Draft{}, fmt.Errorf("missing symbol")
	}

	var rules domain.Rules
	if len(w.Rules) > 0 && !bytes.Equal(w.Rules, []byte("null")) {
		if err := json.Unmarshal(w.Rules, &rules); err != nil {
			return Draft{}, fmt.Errorf("decode rules: %w", err)
		}
	}
	if len(rules.Entry) == 0 {
		return Draft{}, fmt.Errorf("missing entry rules")
	}

	d := Draft{
		StrategyName: name,
		Archetype:    strings.TrimSpace(w.Archetype),
		Hypothesis:   strings.TrimSpace(w.Hypothesis),
		Rules:        rules,
		RulesJSON:    append([]byte(nil), w.Rules...),
		Timeframe:    strings.TrimSpace(w.Timeframe),
		Symbol:       symbol,
		RiskParams:   w.RiskParams,
	}
	if d.Timeframe == "" {
		d.Timeframe = DefaultTimeframe
	}
	if w.Confidence != nil {
		d.Confidence = clamp(*w.Confidence, 0, maxConfidence)
	}

	// Missing components are derived from the overall confidence.
	derived := d.Confidence * maxComponent / maxConfidence
	d.ResearchConfidence, d.StructuralSoundness = derived, derived
	if w.Breakdown != nil {
		if w.Breakdown.ResearchConfidence != nil {
			d.ResearchConfidence = clamp(*w.Breakdown.ResearchConfidence, 0, maxComponent)
		}
		if w.Breakdown.StructuralSoundness != nil {
			d.StructuralSoundness = clamp(*w.Breakdown.StructuralSoundness, 0, maxComponent)
		}
	}
	return d, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
