package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target number of characters per chunk.
	DefaultChunkSize = 1500
	// DefaultOverlap is the number of characters shared between neighbours.
	DefaultOverlap = 200
)

// defaultSeparators is the split cascade, coarsest first: paragraph breaks,
// line breaks, word breaks, then a hard rune cut.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits raw extracted text into overlapping fixed-size segments.
// It prefers natural boundaries, recursively narrowing the separator
// granularity only for pieces that are still too large.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// NewChunker creates a Chunker with the given size and overlap. Non-positive
// arguments fall back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Chunker{size: size, overlap: overlap, separators: defaultSeparators}
}

// Split breaks text into chunks in document order. Whitespace-only input
// yields nil, not an error: an empty document is a normal state.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := splitRecursive(text, c.separators, c.size)
	return c.merge(pieces)
}

// splitRecursive cuts text into pieces no longer than size, trying each
// separator in order. The empty separator is a hard cut on rune boundaries,
// so only a text with no separators at all ever yields an oversized piece.
func splitRecursive(text string, separators []string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	if len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" {
		return hardCut(text, size)
	}
	if !strings.Contains(text, sep) {
		return splitRecursive(text, rest, size)
	}

	// SplitAfter keeps the separator attached, so concatenating the pieces
	// reproduces the input exactly.
	parts := strings.SplitAfter(text, sep)
	var pieces []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len(p) > size {
			pieces = append(pieces, splitRecursive(p, rest, size)...)
			continue
		}
		pieces = append(pieces, p)
	}
	return pieces
}

// hardCut slices text into size-length segments on rune boundaries.
func hardCut(text string, size int) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for start < len(runes) {
		end := start
		length := 0
		for end < len(runes) {
			rl := len(string(runes[end]))
			if length+rl > size && length > 0 {
				break
			}
			length += rl
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
	}
	return out
}

// merge packs pieces into chunks of at most size characters, seeding each
// chunk after the first with the tail of its predecessor for context
// continuity. A chunk is emitted only once it holds content beyond its seed,
// so no chunk is just a repeat of the previous one's tail.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var cur strings.Builder
	seedLen := 0

	for _, p := range pieces {
		if cur.Len() > seedLen && cur.Len()+len(p) > c.size {
			chunk := cur.String()
			chunks = append(chunks, chunk)

			overlap := c.overlap
			if room := c.size - len(p); room < overlap {
				// Shrink the seed so seed+piece still fits the budget.
				overlap = max(room, 0)
			}
			tail := overlapTail(chunk, overlap)
			cur.Reset()
			cur.WriteString(tail)
			seedLen = len(tail)
		}
		cur.WriteString(p)
	}
	if cur.Len() > seedLen {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// overlapTail returns the last overlap bytes of s, extended forward to the
// next rune boundary so the seed is always valid UTF-8.
func overlapTail(s string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	if len(s) <= overlap {
		return s
	}
	cut := len(s) - overlap
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
