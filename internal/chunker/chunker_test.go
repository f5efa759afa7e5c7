package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

func TestChunkFixedStride(t *testing.T) {
	text := strings.Repeat("a", 1000)

	chunks, err := Chunk(text, 200, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 7)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 200)
		assert.NotEmpty(t, c.Content)
		assert.Equal(t, i, c.Index)
		if i > 0 {
			assert.Equal(t, 150, c.Start-chunks[i-1].Start, "chunk %d start", i)
		}
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 900, chunks[6].Start)
	assert.Equal(t, strings.Repeat("a", 100), chunks[6].Content)
}

func TestChunkOverlapIsExactAtHardCap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 30)

	chunks, err := Chunk(text, 100, 20)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		cur := chunks[i].Content
		assert.Equal(t, prev[len(prev)-20:], cur[:20])
	}
}

func TestChunkEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := Chunk(text, 200, 50)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunkInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 200, 200},
		{"overlap above size", 200, 300},
		{"negative overlap", 200, -1},
		{"size below minimum", 49, 0},
		{"size above maximum", 1001, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrInvalidParameter)
		})
	}
}

func TestChunkPrefersSentenceBoundary(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 10)

	// The 50-rune boundary window always contains one of the 45-rune sentences' ends.
	chunks, err := Chunk(text, 100, 50)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Content, "."), "chunk %q should end at a sentence", c.Content)
	}
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, 50, chunks[i].Start-chunks[i-1].Start)
	}
}

func TestChunkPrefersParagraphOverSentence(t *testing.T) {
	first := strings.Repeat("x", 60) + ".\n\n"
	second := strings.Repeat("y", 20) + ". " + strings.Repeat("z", 100)
	text := first + second

	chunks, err := Chunk(text, 100, 50)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, first, chunks[0].Content)
}

func TestChunkCoversWholeText(t *testing.T) {
	text := "Inception is a 2010 science fiction film. A thief who steals corporate secrets through dream-sharing technology is given the inverse task.\n\nInterstellar follows a group of astronauts who travel through a wormhole near Saturn in search of a new home for mankind."

	chunks, err := Chunk(text, 60, 10)
	require.NoError(t, err)

	covered := 0
	runes := []rune(text)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Start, covered, "gap before chunk %d", c.Index)
		assert.Equal(t, string(runes[c.Start:c.Start+utf8.RuneCountInString(c.Content)]), c.Content)
		if end := c.Start + utf8.RuneCountInString(c.Content); end > covered {
			covered = end
		}
	}
	assert.Equal(t, len(runes), covered)
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("Podcasts cover science, history and culture. ", 40)

	a, err := Chunk(text, 120, 30)
	require.NoError(t, err)
	b, err := Chunk(text, 120, 30)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 120)

	chunks, err := Chunk(text, 50, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 20, utf8.RuneCountInString(chunks[2].Content))
}

func TestChunkSkipsWhitespaceWindows(t *testing.T) {
	text := "alpha" + strings.Repeat(" ", 200) + "omega"

	chunks, err := Chunk(text, 50, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
		assert.Equal(t, i, c.Index)
		assert.Zero(t, c.Start%40, "starts stay on the stride")
	}
	assert.True(t, strings.HasPrefix(chunks[0].Content, "alpha"))
	assert.True(t, strings.HasSuffix(chunks[1].Content, "omega"))
}

func TestNewSplitter(t *testing.T) {
	s, err := NewSplitter("")
	require.NoError(t, err)
	assert.Equal(t, StrategyWindow, s.Strategy())

	s, err = NewSplitter(StrategyRecursive)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecursive, s.Strategy())

	_, err = NewSplitter("semantic")
	assert.Error(t, err)
}

func TestSplitterRecursive(t *testing.T) {
	s, err := NewSplitter(StrategyRecursive)
	require.NoError(t, err)

	text := strings.Repeat("Movies are stories told with light. ", 30)
	chunks, err := s.Split(text, 100, 20)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 100)
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
	}

	_, err = s.Split(text, 100, 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidParameter)
}
