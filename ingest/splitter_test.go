package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)

	assert.Equal(t, []string{"a short note"}, s.Split("a short note"))
}

func TestSplit_RespectsSizeAndOverlaps(t *testing.T) {
	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	text := numberedWords(1000)

	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), DefaultChunkSize, "chunk %d", i)
	}
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, strings.Fields(chunks[i-1]), first, "chunk %d starts inside the previous one", i)
	}
	last := strings.Fields(chunks[len(chunks)-1])
	assert.Equal(t, "w999", last[len(last)-1])
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s := NewSplitter(60, 0)
	text := "First paragraph about rent.\n\nSecond paragraph about repairs.\n\nThird one."

	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph about rent.\n\nSecond paragraph about repairs.", chunks[0])
	assert.Equal(t, "Third one.", chunks[1])
}

func TestSplit_FallsBackToCharacters(t *testing.T) {
	s := NewSplitter(10, 0)

	chunks := s.Split(strings.Repeat("é", 25))

	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 10), chunks[0])
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(0, 5000)

	assert.Equal(t, DefaultChunkSize, s.Size)
	assert.Zero(t, s.Overlap)
}
