// Package tokenizer turns text into the terms the retrieval index is built
// from. It lower-cases input and splits it into words of letters, digits and
// combining marks. One-rune words and English stop-words are dropped, then
// unigrams are emitted followed by bigrams of adjacent surviving words.
// Indexing and querying must share it.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a surviving word.
type Token struct {
	Term string
}

// Tokenize returns the lower-cased, stop-word filtered words of text.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	tokens := make([]Token, 0, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if IsStopWord(word) {
			continue
		}
		tokens = append(tokens, Token{Term: word})
	}
	return tokens
}

// isWordRune reports whether r belongs to a word. Combining marks count so
// scripts such as Devanagari are not split inside a word.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.M, r)
}

// Terms returns every unigram of text in order, then every bigram.
// Bigrams join adjacent surviving words with a single space, so words
// separated only by a stop-word become adjacent.
func Terms(text string) []string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, 0, 2*len(tokens)-1)
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	for i := 1; i < len(tokens); i++ {
		terms = append(terms, tokens[i-1].Term+" "+tokens[i].Term)
	}
	return terms
}

// Counts returns the term frequencies of text. The second result lists the
// distinct terms in first-seen order.
func Counts(text string) (map[string]int, []string) {
	terms := Terms(text)
	counts := make(map[string]int, len(terms))
	order := make([]string, 0, len(terms))
	for _, term := range terms {
		if counts[term] == 0 {
			order = append(order, term)
		}
		counts[term]++
	}
	return counts, order
}

// IsStopWord reports whether the lower-cased word is ignored.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}
