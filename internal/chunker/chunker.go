// Package chunker splits long documents into overlapping chunks for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// Size bounds accepted by Chunk.
const (
	MinChunkSize = 50
	MaxChunkSize = 1000
)

// Strategy names.
const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

// Segment is a substring of a source document.
type Segment struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
	// Start is the rune offset of the chunk in the source text.
	Start int `json:"start"`
}

// Validate checks size and overlap against the accepted bounds.
func Validate(size, overlap int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return apperr.InvalidParameter("chunker.Chunk", "chunk size must be between %d and %d, got %d", MinChunkSize, MaxChunkSize, size)
	}
	if overlap < 0 || overlap >= size {
		return apperr.InvalidParameter("chunker.Chunk", "chunk overlap must be between 0 and less than chunk size %d, got %d", size, overlap)
	}
	return nil
}

// Chunk splits text into chunks of at most size runes whose starts advance by
// exactly size-overlap runes. Each chunk ends at the largest structural
// boundary (paragraph, sentence, word) between the next chunk's start and the
// size cap, so consecutive chunks never leave a gap other than whitespace.
// Windows holding only whitespace are skipped without shifting later starts.
// Blank input yields nil.
func Chunk(text string, size, overlap int) ([]Segment, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	stride := size - overlap

	chunks := make([]Segment, 0, n/stride+1)
	for start := 0; start < n; start += stride {
		end := start + size
		last := end >= n
		if last {
			end = n
		} else {
			end = boundary(runes, start+stride, end)
		}
		if content := string(runes[start:end]); strings.TrimSpace(content) != "" {
			chunks = append(chunks, Segment{Content: content, Index: len(chunks), Start: start})
		}
		if last {
			break
		}
	}
	return chunks, nil
}

// boundary returns the preferred end position in [lo, hi]. Larger structures
// win over position: any paragraph break beats any sentence end.
func boundary(runes []rune, lo, hi int) int {
	for _, match := range []func([]rune, int) bool{isParagraphEnd, isSentenceEnd, isWordEnd} {
		for p := hi; p >= lo; p-- {
			if match(runes, p) {
				return p
			}
		}
	}
	return hi
}

func isParagraphEnd(r []rune, p int) bool {
	return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n'
}

func isSentenceEnd(r []rune, p int) bool {
	if p < 1 || p >= len(r) {
		return false
	}
	switch r[p-1] {
	case '.', '!', '?':
		return unicode.IsSpace(r[p])
	}
	return false
}

func isWordEnd(r []rune, p int) bool {
	return p < len(r) && unicode.IsSpace(r[p]) && p >= 1 && !unicode.IsSpace(r[p-1])
}

// Splitter chunks documents with a configured strategy.
type Splitter struct {
	strategy string
}

// NewSplitter returns a Splitter for strategy ("window" or "recursive").
func NewSplitter(strategy string) (*Splitter, error) {
	switch strategy {
	case "", StrategyWindow:
		return &Splitter{strategy: StrategyWindow}, nil
	case StrategyRecursive:
		return &Splitter{strategy: StrategyRecursive}, nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

// Strategy returns the configured strategy name.
func (s *Splitter) Strategy() string { return s.strategy }

// Split chunks text with the configured strategy.
func (s *Splitter) Split(text string, size, overlap int) ([]Segment, error) {
	if s.strategy == StrategyRecursive {
		return splitRecursive(text, size, overlap)
	}
	return Chunk(text, size, overlap)
}

// splitRecursive uses langchaingo's recursive character splitter, measuring
// length in runes so the size bound matches the window strategy.
func splitRecursive(text string, size, overlap int) ([]Segment, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("recursive split: %w", err)
	}

	chunks := make([]Segment, 0, len(parts))
	searchFrom := 0
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		start := -1
		if i := strings.Index(text[searchFrom:], part); i >= 0 {
			start = utf8.RuneCountInString(text[:searchFrom+i])
			searchFrom += i
		}
		chunks = append(chunks, Segment{Content: part, Index: len(chunks), Start: start})
	}
	return chunks, nil
}
