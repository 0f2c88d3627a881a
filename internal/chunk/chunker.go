// Package chunk splits document text into overlapping fixed-size passages
// suitable for embedding and retrieval.
package chunk

import (
	"fmt"
)

// Chunk represents a retrievable unit of document text.
type Chunk struct {
	// DocVersion identifies the document this chunk was produced from.
	DocVersion string
	// Seq is the order-preserving sequence index within the document.
	Seq int
	// Text is the chunk's text span.
	Text string
	// Length is the text length in runes.
	Length int
}

// Chunker produces overlapping fixed-size chunks.
//
// Splitting happens on raw rune offsets: chunk boundaries do not snap to
// word or sentence boundaries. The overlap between consecutive chunks is
// what preserves phrases that straddle a split point.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker with the given maximum chunk size and
// overlap, both in runes. Requires size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < size, got %d (size %d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text into overlapping spans. Each chunk's start offset
// advances by size−overlap from the previous chunk's start; the last chunk
// may be shorter than size. Text no longer than size yields exactly one
// chunk. Empty text yields zero chunks — callers treat that as the
// empty-document condition.
func (c *Chunker) Split(docVersion, text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)

	for start, seq := 0, 0; start < len(runes); start, seq = start+stride, seq+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		span := string(runes[start:end])
		chunks = append(chunks, Chunk{
			DocVersion: docVersion,
			Seq:        seq,
			Text:       span,
			Length:     end - start,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// Texts returns the chunk texts in sequence order.
func Texts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	return texts
}

// Join reconstructs the original text from chunks by removing the overlap
// between consecutive spans. Used to verify the chunker round-trips.
func Join(chunks []Chunk, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}

	out := []rune(chunks[0].Text)
	for _, ch := range chunks[1:] {
		runes := []rune(ch.Text)
		if overlap < len(runes) {
			out = append(out, runes[overlap:]...)
		}
	}
	return string(out)
}
