package ingest

import (
	"strings"
	"testing"
)

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(0, 0)
	if got := c.Split(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := c.Split("   \n\t  "); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}
}

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := NewChunker(100, 20)
	text := "a short paragraph that fits in one chunk"
	got := c.Split(text)
	if len(got) != 1 || got[0] != text {
		t.Fatalf("expected single chunk %q, got %v", text, got)
	}
}

func TestChunkerSizeBound(t *testing.T) {
	c := NewChunker(50, 10)
	text := strings.Repeat("some words in a sentence that keeps going. ", 30)
	for i, chunk := range c.Split(text) {
		if len(chunk) > 50 {
			t.Errorf("chunk %d exceeds size: %d bytes", i, len(chunk))
		}
	}
}

func TestChunkerPrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(40, 0)
	text := "first paragraph here.\n\nsecond paragraph here."
	got := c.Split(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks split on paragraph break, got %v", got)
	}
	if !strings.Contains(got[0], "first") || !strings.Contains(got[1], "second") {
		t.Fatalf("paragraphs not kept whole: %v", got)
	}
}

func TestChunkerOverlapCarriesTail(t *testing.T) {
	c := NewChunker(30, 10)
	text := strings.Repeat("alpha beta gamma delta ", 10)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-10:]
		// Each chunk after the first starts with its predecessor's tail
		// so context spans the boundary.
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not overlap predecessor: prev tail %q, next %q", i, tail, chunks[i])
		}
	}
}

func TestChunkerNoContentLost(t *testing.T) {
	c := NewChunker(60, 15)
	words := []string{"zebra", "quartz", "fjord", "sphinx", "waltz", "nymph", "vex", "glyph"}
	text := strings.Join(words, " the quick brown fox jumps over the lazy dog ")
	joined := strings.Join(c.Split(text), " ")
	for _, w := range words {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q missing from chunk output", w)
		}
	}
}

func TestChunkerHardCutUnbrokenText(t *testing.T) {
	c := NewChunker(20, 0)
	text := strings.Repeat("x", 55)
	got := c.Split(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 hard-cut chunks, got %d", len(got))
	}
	total := 0
	for _, chunk := range got {
		if len(chunk) > 20 {
			t.Errorf("hard cut exceeds size: %d", len(chunk))
		}
		total += len(chunk)
	}
	if total != 55 {
		t.Fatalf("hard cut lost bytes: got %d, want 55", total)
	}
}

func TestChunkerHardCutRuneSafe(t *testing.T) {
	c := NewChunker(5, 0)
	text := strings.Repeat("héllo", 4)
	for i, chunk := range c.Split(text) {
		if !isValidUTF8(chunk) {
			t.Errorf("chunk %d splits a rune: %q", i, chunk)
		}
	}
}

func isValidUTF8(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

func TestChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1)
	if c.size != DefaultChunkSize {
		t.Errorf("size = %d, want %d", c.size, DefaultChunkSize)
	}
	if c.overlap != DefaultOverlap {
		t.Errorf("overlap = %d, want %d", c.overlap, DefaultOverlap)
	}
}
