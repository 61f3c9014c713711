package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func numberedWords(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			if i%17 == 0 {
				b.WriteString(". ")
			} else if i%60 == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "w%d", i)
	}
	return b.String()
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		max, overlap int
		ok           bool
	}{
		{100, 10, true},
		{100, 0, true},
		{0, 0, false},
		{100, 100, false},
		{100, -1, false},
	}
	for _, tt := range tests {
		_, err := New(tt.max, tt.overlap)
		if (err == nil) != tt.ok {
			t.Errorf("New(%d, %d) error = %v, want ok=%v", tt.max, tt.overlap, err, tt.ok)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	c, _ := New(100, 10)
	for _, in := range []string{"", " ", "\n\n\t  \n"} {
		if got := c.Split(in); got != nil {
			t.Errorf("Split(%q) = %v, want nil", in, got)
		}
	}
}

func TestShortTextIsOneChunk(t *testing.T) {
	c, _ := New(100, 10)
	got := c.Split("  the quick brown fox  ")
	if !reflect.DeepEqual(got, []string{"the quick brown fox"}) {
		t.Errorf("Split() = %q", got)
	}
}

func TestChunksRespectMaxChars(t *testing.T) {
	c, _ := New(120, 30)
	for _, chunk := range c.Split(numberedWords(800)) {
		if n := utf8.RuneCountInString(chunk); n > 120 {
			t.Fatalf("chunk of %d runes exceeds bound: %q", n, chunk)
		}
	}
}

func TestChunksCoverEveryWord(t *testing.T) {
	doc := numberedWords(800)
	c, _ := New(120, 30)
	seen := make(map[string]bool)
	for _, chunk := range c.Split(doc) {
		for _, w := range strings.Fields(chunk) {
			seen[strings.TrimSuffix(w, ".")] = true
		}
	}
	for _, w := range strings.Fields(doc) {
		if w = strings.TrimSuffix(w, "."); !seen[w] {
			t.Fatalf("word %q lost by chunking", w)
		}
	}
}

func TestOverlapIsBounded(t *testing.T) {
	c, _ := New(80, 20)
	chunks := c.Split(numberedWords(300))
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		shared := 0
		for k := 1; k <= min(len(prev), len(cur)); k++ {
			if strings.HasSuffix(prev, cur[:k]) {
				shared = k
			}
		}
		if shared > 20 {
			t.Errorf("chunks %d and %d share %d runes", i-1, i, shared)
		}
	}
}

func TestHardCutWithoutWhitespace(t *testing.T) {
	c, _ := New(10, 3)
	chunks := c.Split(strings.Repeat("x", 35))
	if len(chunks) < 4 {
		t.Fatalf("expected forward progress through unbroken text, got %d chunks", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > 10 {
			t.Errorf("chunk %q exceeds bound", chunk)
		}
	}
}

func TestPrefersParagraphBreak(t *testing.T) {
	c, _ := New(60, 0)
	text := strings.Repeat("alpha ", 7) + "\n\n" + strings.Repeat("beta ", 10)
	chunks := c.Split(text)
	if !strings.HasSuffix(chunks[0], "alpha") {
		t.Errorf("first chunk should end at the paragraph break, got %q", chunks[0])
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c, _ := New(90, 25)
	doc := numberedWords(500)
	first := c.Split(doc)
	for i := 0; i < 5; i++ {
		if got := c.Split(doc); !reflect.DeepEqual(got, first) {
			t.Fatal("Split is not deterministic")
		}
	}
}

func BenchmarkSplit(b *testing.B) {
	c, _ := New(1000, 150)
	doc := numberedWords(20000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Split(doc)
	}
}

func TestShortLeadWordBeforeUnbrokenText(t *testing.T) {
	c, _ := New(1000, 150)
	chunks := c.Split("a " + strings.Repeat("x", 2000))
	want := []string{"a", strings.Repeat("x", 1000), strings.Repeat("x", 1000)}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("got %d chunks with lengths %v", len(chunks), runeLens(chunks))
	}
}

func TestCJKWithoutSpaces(t *testing.T) {
	c, _ := New(100, 30)
	doc := "第一章 " + strings.Repeat("中文文本", 100)
	chunks := c.Split(doc)
	if len(chunks) < 5 {
		t.Fatalf("expected the body to be hard cut, got %d chunks", len(chunks))
	}
	if chunks[0] != "第一章" {
		t.Errorf("first chunk = %q", chunks[0])
	}
	total := 0
	for _, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		if n > 100 {
			t.Errorf("chunk of %d runes exceeds bound", n)
		}
		total += n
	}
	if total < utf8.RuneCountInString(doc)-1 {
		t.Errorf("chunks cover %d runes, document has %d", total, utf8.RuneCountInString(doc))
	}
	if !strings.HasSuffix(chunks[len(chunks)-1], "文本") {
		t.Errorf("last chunk = %q", chunks[len(chunks)-1])
	}
}

func runeLens(chunks []string) []int {
	lens := make([]int, len(chunks))
	for i, c := range chunks {
		lens[i] = utf8.RuneCountInString(c)
	}
	return lens
}
