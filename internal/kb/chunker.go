// Package kb implements the knowledge-base manager: document ingestion,
// chunking, term-overlap search, and chunk editing.
package kb

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits document text into chunks of roughly targetTokens
// tokens with overlapTokens of trailing context carried between
// neighbours.
type Chunker struct {
	targetTokens  int
	overlapTokens int
	enc           *tiktoken.Tiktoken
}

// NewChunker creates a chunker. Token counts use the cl100k_base
// encoding; when the encoding cannot be loaded (offline environments)
// a rune-window approximation is used instead.
func NewChunker(targetTokens, overlapTokens int) *Chunker {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, falling back to rune approximation", "error", err)
		enc = nil
	}
	return &Chunker{
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		enc:           enc,
	}
}

// newRuneChunker is the deterministic fallback used in tests.
func newRuneChunker(targetTokens, overlapTokens int) *Chunker {
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}
}

// CountTokens returns the token count of a text fragment.
func (c *Chunker) CountTokens(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	// Rough approximation: 4 runes per token, minimum 1 for non-empty text.
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Split divides text into chunks. Paragraphs (blank-line separated) are
// packed greedily up to the target size; oversized paragraphs are cut
// at the token budget. The tail of each chunk, up to the overlap
// budget, is repeated at the head of the next.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pieces = append(pieces, c.cutOversized(para)...)
	}

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n\n"))

		// Seed the next chunk with trailing overlap.
		var carry []string
		carryTokens := 0
		for i := len(current) - 1; i >= 0 && carryTokens < c.overlapTokens; i-- {
			carry = append([]string{current[i]}, carry...)
			carryTokens += c.CountTokens(current[i])
		}
		if carryTokens >= c.targetTokens {
			carry = nil
			carryTokens = 0
		}
		current = carry
		currentTokens = carryTokens
	}

	for _, piece := range pieces {
		tokens := c.CountTokens(piece)
		if currentTokens > 0 && currentTokens+tokens > c.targetTokens {
			flush()
		}
		current = append(current, piece)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	return chunks
}

// cutOversized splits a single paragraph that alone exceeds the target
// budget into budget-sized slices on rune boundaries.
func (c *Chunker) cutOversized(para string) []string {
	if c.CountTokens(para) <= c.targetTokens {
		return []string{para}
	}

	runes := []rune(para)
	// Scale the rune window to the measured token density of the paragraph.
	window := len(runes) * c.targetTokens / c.CountTokens(para)
	if window < 1 {
		window = 1
	}

	var out []string
	for start := 0; start < len(runes); start += window {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// Terms tokenizes text for search: latin/digit runs become lowercase
// words, CJK runs become character bigrams.
func Terms(text string) []string {
	var terms []string
	var word []rune
	var cjk []rune

	flushWord := func() {
		if len(word) > 0 {
			terms = append(terms, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			terms = append(terms, string(cjk))
		}
		for i := 0; i+1 < len(cjk); i++ {
			terms = append(terms, string(cjk[i:i+2]))
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) && unicode.Is(unicode.Han, r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return terms
}
