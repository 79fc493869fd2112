// Package filter scores raw text for long-term value before the pipeline
// spends an embedding call on it.
package filter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/mindgraph/ai"
	"github.com/hrygo/mindgraph/ai/cache"
	"github.com/hrygo/mindgraph/ai/internal/strutil"
)

const (
	// DefaultThreshold is the minimum score for content to be embedded.
	DefaultThreshold = 0.4
	// DefaultMinLength is the minimum rune count considered at all.
	DefaultMinLength = 10

	cacheTTL      = 24 * time.Hour
	cacheCapacity = 4096
)

const scoringSystemPrompt = `You rate short user texts for long-term memory value.
Reply with a single decimal number between 0 and 1. Nothing else.
0 means throwaway chatter, 1 means durable personal knowledge.`

// Assessment is the outcome of scoring one piece of content.
type Assessment struct {
	IsValuable bool    `json:"isValuable"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

// ContentValueFilter decides whether raw text is worth embedding. External
// scoring failures never block the pipeline: the filter fails open and treats
// the content as valuable.
type ContentValueFilter struct {
	relation  ai.RelationService
	cache     *cache.LRUCache[string, Assessment]
	threshold float64
	minLength int
}

// Option configures a ContentValueFilter.
type Option func(*ContentValueFilter)

// WithThreshold overrides the default score threshold.
func WithThreshold(threshold float64) Option {
	return func(f *ContentValueFilter) {
		f.threshold = threshold
	}
}

// WithMinLength overrides the default minimum rune count.
func WithMinLength(n int) Option {
	return func(f *ContentValueFilter) {
		f.minLength = n
	}
}

// New creates a ContentValueFilter. A nil relation service is allowed; the
// filter then passes everything above the minimum length.
func New(relation ai.RelationService, opts ...Option) *ContentValueFilter {
	f := &ContentValueFilter{
		relation:  relation,
		cache:     cache.NewLRUCache[string, Assessment](cacheCapacity, cacheTTL),
		threshold: DefaultThreshold,
		minLength: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Assess scores the text. Identical content within the cache TTL is served
// from cache without an external call.
func (f *ContentValueFilter) Assess(ctx context.Context, text string) Assessment {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < f.minLength {
		return Assessment{
			IsValuable: false,
			Score:      0,
			Reason:     "content too short",
		}
	}

	key := hashKey(trimmed)
	if cached, ok := f.cache.Get(key); ok {
		return cached
	}

	assessment := f.score(ctx, trimmed)
	f.cache.SetWithDefaultTTL(key, assessment)
	return assessment
}

// ShouldEmbed reports whether the text clears the configured threshold.
func (f *ContentValueFilter) ShouldEmbed(ctx context.Context, text string) bool {
	return f.Assess(ctx, text).Score >= f.threshold
}

func (f *ContentValueFilter) score(ctx context.Context, text string) Assessment {
	if f.relation == nil {
		return Assessment{
			IsValuable: true,
			Score:      1,
			Reason:     "scoring disabled",
		}
	}

	raw, err := f.relation.Complete(ctx, scoringSystemPrompt, text)
	if err != nil {
		slog.Warn("content scoring failed, passing content through", "error", err)
		return Assessment{
			IsValuable: true,
			Score:      1,
			Reason:     "scoring unavailable",
		}
	}

	score, ok := parseScore(raw)
	if !ok {
		slog.Warn("unparseable content score, passing content through", "raw", strutil.Truncate(raw, 80))
		return Assessment{
			IsValuable: true,
			Score:      1,
			Reason:     "unparseable score",
		}
	}

	return Assessment{
		IsValuable: score >= f.threshold,
		Score:      score,
		Reason:     "scored by model",
	}
}

// parseScore extracts the first decimal in [0, 1] from free-form model
// output.
func parseScore(raw string) (float64, bool) {
	for _, field := range strings.Fields(raw) {
		field = strings.Trim(field, ".,;:!?\"'`()[]")
		score, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if score >= 0 && score <= 1 {
			return score, true
		}
	}
	return 0, false
}

func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
