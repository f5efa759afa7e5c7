// Package similarity computes cosine similarity between embedding vectors and
// classifies scores into human-readable bands.
package similarity

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// Band is a human-readable similarity classification.
type Band string

// Bands, from most to least similar.
const (
	VeryHigh Band = "Very High"
	High     Band = "High"
	Moderate Band = "Moderate"
	Low      Band = "Low"
	VeryLow  Band = "Very Low"
)

var descriptions = map[Band]string{
	VeryHigh: "Nearly identical meaning",
	High:     "Very similar meaning",
	Moderate: "Related concepts",
	Low:      "Somewhat related",
	VeryLow:  "Different concepts",
}

// Description returns the long-form interpretation, e.g.
// "Very High - Nearly identical meaning".
func (b Band) Description() string {
	return string(b) + " - " + descriptions[b]
}

// Cosine returns dot(a,b) / (|a|·|b|).
//
// Vectors of different length fail with DimensionMismatch. A zero-magnitude
// vector has no direction, so it fails with InvalidInput rather than returning
// a sentinel score.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, apperr.DimensionMismatch("similarity.Cosine", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, apperr.InvalidInput("similarity.Cosine", "cosine similarity is undefined for a zero-magnitude vector")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push |score| a hair past 1.
	return math.Max(-1, math.Min(1, score)), nil
}

// Interpret maps a score in [0,1] to its band. Callers clamp out-of-range
// scores themselves.
func Interpret(score float64) Band {
	switch {
	case score >= 0.95:
		return VeryHigh
	case score >= 0.85:
		return High
	case score >= 0.70:
		return Moderate
	case score >= 0.50:
		return Low
	default:
		return VeryLow
	}
}

// Percentage formats score as a percentage with two decimals, e.g. "87.25%".
func Percentage(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}
