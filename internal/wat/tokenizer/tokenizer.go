// Package tokenizer normalizes free-text expressions and tag strings into
// comparable tokens. The same rule is applied on catalog ingest and on the
// query side; if the two ever diverged, an expression could never match a
// tag containing mixed case or punctuation.
package tokenizer

import (
	"strings"
	"unicode"
)

// Normalize lower-cases text, splits it on non-alphanumeric boundaries, and
// returns the distinct tokens in first-seen order. Empty tokens are dropped,
// so the result is empty for text made entirely of punctuation or whitespace.
func Normalize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, word)
	}
	return tokens
}

// NormalizeAll normalizes every string in tags and merges the results into
// one deduplicated token set, preserving first-seen order across inputs.
// Used on ingest, where a record's tags may arrive as multi-word phrases.
func NormalizeAll(tags []string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, tag := range tags {
		for _, token := range Normalize(tag) {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens
}
