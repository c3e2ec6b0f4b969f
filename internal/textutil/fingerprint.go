// Package textutil provides the text helpers shared by template matching and
// artifact naming: token fingerprints for fuzzy title comparison and
// filesystem-safe name sanitization.
package textutil

import (
	"math"
	"regexp"
	"strings"
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Fingerprint is a term-frequency vector built from a title. Two titles that
// share most of their words score close to 1 under CosineSimilarity even when
// punctuation, casing, or word order differ.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint builds a fingerprint from text. Returns nil when the text
// yields no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{tokens: counts, norm: math.Sqrt(norm)}
}

// Tokenize lowercases text, splits on non-alphanumeric runs, and drops tokens
// shorter than three characters.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	parts := tokenSplit.Split(lowered, -1)
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) >= 3 {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

// CosineSimilarity scores two fingerprints in [0, 1]. Nil or empty
// fingerprints score 0.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}
