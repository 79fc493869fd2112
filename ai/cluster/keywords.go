package cluster

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from keyword extraction. Mixed set: English function
// words plus tokens that show up constantly in chat transcripts.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "his": true, "how": true, "its": true,
	"that": true, "this": true, "with": true, "from": true, "they": true,
	"will": true, "would": true, "there": true, "their": true, "what": true,
	"which": true, "when": true, "were": true, "been": true, "than": true,
	"then": true, "them": true, "these": true, "some": true, "could": true,
	"into": true, "just": true, "like": true, "also": true, "about": true,
	"because": true, "over": true, "only": true, "very": true, "your": true,
	"want": true, "need": true, "should": true, "really": true, "think": true,
	"know": true, "make": true, "made": true, "much": true, "more": true,
	"here": true, "does": true, "did": true, "don": true, "doesn": true,
}

// ExtractKeywords returns the most frequent non-stopword terms across the
// given texts, most frequent first. Ties are broken alphabetically so the
// result is deterministic.
func ExtractKeywords(texts []string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	freq := make(map[string]int)
	for _, text := range texts {
		for _, token := range tokenize(text) {
			if len(token) < 3 || stopwords[token] {
				continue
			}
			freq[token]++
		}
	}

	if len(freq) == 0 {
		return nil
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > topN {
		terms = terms[:topN]
	}
	return terms
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
