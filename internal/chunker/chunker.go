// Package chunker splits normalized filing text into overlapping passages
// sized for embedding and retrieval.
package chunker

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Config controls passage sizing. Token counts are measured with the
// cl100k_base encoding used by the embedding models.
type Config struct {
	// MaxTokens is the upper bound for one passage.
	MaxTokens int
	// OverlapTokens is carried from the end of one window into the next
	// when a unit has to be split, so a fact spanning the cut is not lost
	// to either side exclusively.
	OverlapTokens int
	// MinChars drops fragments too short to be retrievable on their own.
	MinChars int
}

// DefaultConfig mirrors the chunk sizing the retrieval pipeline was tuned
// with: ~1000-token passages with 200 tokens of overlap.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     1000,
		OverlapTokens: 200,
		MinChars:      50,
	}
}

// Chunker is a deterministic text splitter: identical input always yields
// identical ordinal-indexed passages. It holds no state besides its
// configuration and tokenizer, so it is safe for concurrent use.
type Chunker struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

// New creates a Chunker. It fails only if the token encoding cannot be
// loaded.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 4
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg, enc: enc}, nil
}

// Split divides text into passages. Paragraphs are the preferred unit;
// paragraphs small enough to embed are greedily packed together, and a
// paragraph exceeding the token budget falls back to sentence packing,
// then to a fixed sliding window with overlap.
func (c *Chunker) Split(text string) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	var out []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, "\n\n"))
		if len(chunk) >= c.cfg.MinChars {
			out = append(out, chunk)
		}
		current = current[:0]
		currentTokens = 0
	}

	for _, para := range splitParagraphs(clean) {
		tokens := c.countTokens(para)

		if tokens > c.cfg.MaxTokens {
			flush()
			out = append(out, c.splitOversized(para)...)
			continue
		}

		if currentTokens+tokens > c.cfg.MaxTokens {
			flush()
		}
		current = append(current, para)
		currentTokens += tokens
	}
	flush()

	return out
}

// TokenCount returns the token length of a passage under the embedding
// encoding.
func (c *Chunker) TokenCount(text string) int {
	return c.countTokens(text)
}

func (c *Chunker) countTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// splitOversized packs sentences up to the budget; a single sentence that
// still exceeds it is cut by a token sliding window.
func (c *Chunker) splitOversized(para string) []string {
	var out []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, " "))
		if len(chunk) >= c.cfg.MinChars {
			out = append(out, chunk)
		}
		current = current[:0]
		currentTokens = 0
	}

	for _, sentence := range splitSentences(para) {
		tokens := c.countTokens(sentence)

		if tokens > c.cfg.MaxTokens {
			flush()
			out = append(out, c.slidingWindow(sentence)...)
			continue
		}

		if currentTokens+tokens > c.cfg.MaxTokens {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	flush()

	return out
}

// slidingWindow cuts text into fixed token windows with overlap.
func (c *Chunker) slidingWindow(text string) []string {
	ids := c.enc.Encode(text, nil, nil)
	step := c.cfg.MaxTokens - c.cfg.OverlapTokens
	if step <= 0 {
		step = c.cfg.MaxTokens
	}

	var out []string
	for start := 0; start < len(ids); start += step {
		end := start + c.cfg.MaxTokens
		if end > len(ids) {
			end = len(ids)
		}
		chunk := strings.TrimSpace(c.enc.Decode(ids[start:end]))
		if len(chunk) >= c.cfg.MinChars {
			out = append(out, chunk)
		}
		if end == len(ids) {
			break
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

// splitSentences breaks a paragraph at sentence-ending punctuation
// followed by whitespace and an upper-case letter. It is intentionally
// simple; a wrong split only shifts a window boundary.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start:j]))
		if sentence != "" {
			out = append(out, sentence)
		}
		start = j
		i = j - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
