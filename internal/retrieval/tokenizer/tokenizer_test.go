package tokenizer

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The Quick, brown FOX! a 7 42")
	want := []Token{{"quick"}, {"brown"}, {"fox"}, {"42"}}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Tokenize() = %v, want %v", tokens, want)
	}
}

func TestTermsEmitsUnigramsThenBigrams(t *testing.T) {
	got := Terms("the quick brown fox")
	want := []string{"quick", "brown", "fox", "quick brown", "brown fox"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
}

func TestBigramsSpanRemovedStopWords(t *testing.T) {
	got := Terms("lazy and dog")
	want := []string{"lazy", "dog", "lazy dog"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
}

func TestTermsEmpty(t *testing.T) {
	for _, in := range []string{"", "   \n\t", "the and of", "a b c"} {
		if got := Terms(in); len(got) != 0 {
			t.Errorf("Terms(%q) = %v, want none", in, got)
		}
	}
}

func TestUnicodeRuneLength(t *testing.T) {
	got := Terms("é ça Übung")
	want := []string{"ça", "übung", "ça übung"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
}

func TestCombiningMarksStayInWord(t *testing.T) {
	// Devanagari vowel signs are spacing or non-spacing marks.
	got := Terms("हिन्दी भाषा")
	want := []string{"हिन्दी", "भाषा", "हिन्दी भाषा"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %q, want %q", got, want)
	}

	decomposed := "cafe\u0301 noir"
	if got := Terms(decomposed); len(got) != 3 || got[0] != "cafe\u0301" {
		t.Errorf("Terms(%q) = %q", decomposed, got)
	}
}

func TestCounts(t *testing.T) {
	counts, order := Counts("fox fox dog")
	if counts["fox"] != 2 || counts["dog"] != 1 || counts["fox fox"] != 1 || counts["fox dog"] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
	want := []string{"fox", "dog", "fox fox", "fox dog"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func BenchmarkTerms(b *testing.B) {
	text := "Retrieval augmented generation combines a sparse lexical index with a local language model " +
		"so that answers stay grounded in the documents that were ingested from the corpus directory."
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Terms(text)
	}
}
