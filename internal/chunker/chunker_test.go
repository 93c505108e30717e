package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestSplit_Empty(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\n  "))
}

func TestSplit_ShortTextSinglePassage(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	text := "The company faces intense competition in the smartphone market and across services."
	chunks := c.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_PacksParagraphsUpToBudget(t *testing.T) {
	c := newTestChunker(t, Config{MaxTokens: 40, OverlapTokens: 8, MinChars: 10})

	var paras []string
	for i := 0; i < 6; i++ {
		paras = append(paras, fmt.Sprintf("Paragraph number %d discusses a distinct operational risk in detail.", i))
	}
	chunks := c.Split(strings.Join(paras, "\n\n"))

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, c.TokenCount(chunk), 40+8)
	}
	// Every paragraph's content must appear somewhere.
	joined := strings.Join(chunks, " ")
	for i := 0; i < 6; i++ {
		assert.Contains(t, joined, fmt.Sprintf("Paragraph number %d", i))
	}
}

func TestSplit_OversizedParagraphFallsBackToSentences(t *testing.T) {
	c := newTestChunker(t, Config{MaxTokens: 30, OverlapTokens: 5, MinChars: 10})

	var sentences []string
	for i := 0; i < 8; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence %d covers supply chain concentration and component sourcing. ", i))
	}
	chunks := c.Split(strings.Join(sentences, ""))

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, c.TokenCount(chunk), 35)
	}
}

func TestSplit_SlidingWindowOverlap(t *testing.T) {
	c := newTestChunker(t, Config{MaxTokens: 20, OverlapTokens: 8, MinChars: 5})

	// One long "sentence" with no boundaries forces the window path.
	words := make([]string, 120)
	for i := range words {
		words[i] = fmt.Sprintf("token%d", i)
	}
	chunks := c.Split(strings.Join(words, " "))

	require.Greater(t, len(chunks), 2)
	// Adjacent windows share overlapping content.
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])/2:]
		shared := false
		for _, w := range strings.Fields(prevTail) {
			if strings.Contains(chunks[i], w) {
				shared = true
				break
			}
		}
		assert.True(t, shared, "window %d shares no content with its predecessor", i)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := newTestChunker(t, Config{MaxTokens: 50, OverlapTokens: 10, MinChars: 10})

	text := strings.Repeat("Risk factors include competition, regulation, and litigation. ", 40)

	first := c.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Split(text), "run %d differed", i)
	}
}

func TestSplit_DropsTinyFragments(t *testing.T) {
	c := newTestChunker(t, Config{MaxTokens: 100, OverlapTokens: 10, MinChars: 50})

	chunks := c.Split("Short.")

	assert.Empty(t, chunks)
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First sentence here. Second one follows! Third asks a question? Done.")

	require.Len(t, sentences, 4)
	assert.Equal(t, "First sentence here.", sentences[0])
	assert.Equal(t, "Second one follows!", sentences[1])
	assert.Equal(t, "Third asks a question?", sentences[2])
	assert.Equal(t, "Done.", sentences[3])
}

func TestSplitSentences_DoesNotBreakOnDecimals(t *testing.T) {
	sentences := splitSentences("Revenue grew 3.5 percent year over year. Margins held steady.")

	require.Len(t, sentences, 2)
	assert.Equal(t, "Revenue grew 3.5 percent year over year.", sentences[0])
}
