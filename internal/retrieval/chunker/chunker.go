// Package chunker splits document text into bounded, overlapping passages.
//
// Sizes are measured in runes. A cut prefers, in order, the last paragraph
// break, the last sentence end and the last whitespace inside the window;
// only when none exists is the window cut hard. The next passage starts at
// most Overlap runes before the cut, moved forward to a word start.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Chunker is safe for concurrent use.
type Chunker struct {
	maxChars int
	overlap  int
}

// New returns a Chunker producing passages of at most maxChars runes whose
// neighbours share at most overlap runes.
func New(maxChars, overlap int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("chunker: maxChars must be positive, got %d", maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", maxChars, overlap)
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}, nil
}

// MaxChars returns the passage size bound.
func (c *Chunker) MaxChars() int { return c.maxChars }

// Overlap returns the overlap bound.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the passages of text in document order. Blank passages are
// dropped, so empty or whitespace-only text yields nil.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start := 0
	for start < n {
		end := min(start+c.maxChars, n)
		if end < n {
			end = c.cutPoint(runes, start, end)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			break
		}
		start = c.nextStart(runes, start, end)
	}
	return chunks
}

// cutPoint picks the exclusive end of the passage starting at start whose
// hard limit is limit.
func (c *Chunker) cutPoint(runes []rune, start, limit int) int {
	// Paragraph and sentence breaks only count in the back half of the
	// window so a stray early break does not produce a sliver.
	floor := start + c.maxChars/2
	if i := lastParagraphBreak(runes, floor, limit); i > start {
		return i
	}
	if i := lastSentenceEnd(runes, floor, limit); i > start {
		return i
	}
	for i := limit; i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

// nextStart steps back at most overlap runes from end, then forward to the
// start of a word. It always makes progress.
func (c *Chunker) nextStart(runes []rune, start, end int) int {
	// The cut may land closer to start than overlap, so the step back is
	// clamped to keep next inside (start, end].
	next := max(end-c.overlap, start+1)
	for next < end && !unicode.IsSpace(runes[next-1]) {
		next++
	}
	for next < end && unicode.IsSpace(runes[next]) {
		next++
	}
	return next
}

// lastParagraphBreak returns the index just past the last blank line in
// runes[floor:limit], or -1.
func lastParagraphBreak(runes []rune, floor, limit int) int {
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return -1
}

// lastSentenceEnd returns the index just past the last sentence terminator
// followed by whitespace in runes[floor:limit], or -1.
func lastSentenceEnd(runes []rune, floor, limit int) int {
	for i := limit - 1; i > floor; i-- {
		if !unicode.IsSpace(runes[i]) {
			continue
		}
		switch runes[i-1] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
