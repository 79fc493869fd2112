package graph

import (
	"strings"

	"github.com/hrygo/mindgraph/ai/internal/strutil"
)

// Relation is the classification of a topic pair.
type Relation string

const (
	RelationContains   Relation = "contains"
	RelationReferences Relation = "references"
	RelationApplies    Relation = "applies"
	RelationSimilar    Relation = "similar"
	RelationUnrelated  Relation = "unrelated"
)

// relationScanOrder matters: "unrelated" must be matched before anything
// containing "related" as a substring.
var relationScanOrder = []Relation{
	RelationUnrelated,
	RelationContains,
	RelationReferences,
	RelationApplies,
	RelationSimilar,
}

// errorMarkers flag completions that are apologies or failure notices rather
// than answers.
var errorMarkers = []string{
	"error",
	"sorry",
	"cannot",
	"can't",
	"unable",
	"i don't",
	"as an ai",
}

const (
	labelMinLen = 2
	labelMaxLen = 50
)

// parseLabel extracts a usable topic label from free-form model output.
// The model output is untyped text; every parse here must fail soft.
func parseLabel(raw string) (string, bool) {
	line := firstLine(raw)
	line = strings.Trim(line, " \t\"'`*#.:")
	for _, prefix := range []string{"label:", "topic:", "name:"} {
		if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			line = strings.TrimSpace(line[len(prefix):])
		}
	}
	line = strings.Trim(line, " \"'`")

	if n := len([]rune(line)); n < labelMinLen || n > labelMaxLen {
		return "", false
	}

	lower := strings.ToLower(line)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return "", false
		}
	}
	return line, true
}

// parseRelation extracts a relation classification and a one-line reason from
// free-form model output. Returns ok=false when no enum word is found; the
// caller then falls back to a generic "related" edge rather than dropping the
// pair.
func parseRelation(raw string) (Relation, string, bool) {
	lower := strings.ToLower(raw)

	for _, relation := range relationScanOrder {
		if !strings.Contains(lower, string(relation)) {
			continue
		}
		return relation, parseReason(raw), true
	}
	return "", "", false
}

// parseReason pulls a short human-readable reason out of the completion.
func parseReason(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		for _, prefix := range []string{"reason:", "because:", "explanation:"} {
			if strings.HasPrefix(lower, prefix) {
				if reason := strings.TrimSpace(line[len(prefix):]); reason != "" {
					return strutil.Truncate(reason, 200)
				}
			}
		}
	}

	// No labeled reason; fall back to text after the first colon, if any.
	if idx := strings.Index(raw, ":"); idx >= 0 && idx < len(raw)-1 {
		if reason := strings.TrimSpace(firstLine(raw[idx+1:])); reason != "" {
			return strutil.Truncate(reason, 200)
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

