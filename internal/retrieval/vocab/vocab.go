// Package vocab learns the term vocabulary and idf weights of a chunk corpus
// and produces its L2-normalised TF-IDF matrix.
package vocab

import (
	"fmt"
	"math"
	"sort"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/tokenizer"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

// DefaultMaxTerms caps the vocabulary when no limit is configured.
const DefaultMaxTerms = 50000

// Builder fits a vocabulary in one batch. It holds no state between calls.
type Builder struct {
	maxTerms int
}

// NewBuilder returns a Builder retaining at most maxTerms terms.
func NewBuilder(maxTerms int) *Builder {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}
	return &Builder{maxTerms: maxTerms}
}

type termStats struct {
	total     int
	docFreq   int
	firstSeen int
}

// Fit tokenizes texts, retains the most frequent terms, assigns columns in
// lexicographic order and weights every row as raw count times
// ln((1+N)/(1+df))+1, normalised to unit length. Row i of the matrix is
// texts[i]. Fit fails with ErrEmptyCorpus when texts is empty.
func (b *Builder) Fit(texts []string) (*index.Vocabulary, *index.Matrix, error) {
	if len(texts) == 0 {
		return nil, nil, apperrors.ErrEmptyCorpus
	}

	docs := make([]map[string]int, len(texts))
	stats := make(map[string]*termStats)
	var seen []string
	for i, text := range texts {
		counts, order := tokenizer.Counts(text)
		docs[i] = counts
		for _, term := range order {
			st, ok := stats[term]
			if !ok {
				st = &termStats{firstSeen: len(seen)}
				stats[term] = st
				seen = append(seen, term)
			}
			st.total += counts[term]
			st.docFreq++
		}
	}

	terms := b.retain(seen, stats)
	sort.Strings(terms)

	n := float64(len(texts))
	idf := make([]float64, len(terms))
	for col, term := range terms {
		idf[col] = math.Log((1+n)/(1+float64(stats[term].docFreq))) + 1
	}
	v, err := index.NewVocabulary(terms, idf)
	if err != nil {
		return nil, nil, fmt.Errorf("building vocabulary: %w", err)
	}

	m := &index.Matrix{
		Rows:   len(texts),
		Cols:   len(terms),
		Indptr: make([]int, 1, len(texts)+1),
	}
	for _, counts := range docs {
		cols, weights := Weigh(v, counts)
		m.Indices = append(m.Indices, cols...)
		m.Data = append(m.Data, weights...)
		m.Indptr = append(m.Indptr, len(m.Data))
	}
	return v, m, nil
}

// retain returns the terms kept under the cap: highest total count first,
// earlier first appearance on ties.
func (b *Builder) retain(seen []string, stats map[string]*termStats) []string {
	if len(seen) <= b.maxTerms {
		return append([]string(nil), seen...)
	}
	ranked := append([]string(nil), seen...)
	sort.Slice(ranked, func(i, j int) bool {
		a, c := stats[ranked[i]], stats[ranked[j]]
		if a.total != c.total {
			return a.total > c.total
		}
		return a.firstSeen < c.firstSeen
	})
	return ranked[:b.maxTerms]
}

// Weigh turns raw term counts into a unit-length sparse vector over v. Terms
// outside v are dropped. The result is sorted by column; a vector with no
// known terms is empty.
func Weigh(v *index.Vocabulary, counts map[string]int) ([]int32, []float64) {
	type cell struct {
		col    int32
		weight float64
	}
	cells := make([]cell, 0, len(counts))
	for term, count := range counts {
		col, ok := v.Column(term)
		if !ok || count <= 0 {
			continue
		}
		cells = append(cells, cell{int32(col), float64(count) * v.IDF[col]})
	}
	if len(cells) == 0 {
		return nil, nil
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].col < cells[j].col })

	var norm float64
	for _, c := range cells {
		norm += c.weight * c.weight
	}
	norm = math.Sqrt(norm)

	cols := make([]int32, len(cells))
	weights := make([]float64, len(cells))
	for i, c := range cells {
		cols[i] = c.col
		weights[i] = c.weight / norm
	}
	return cols, weights
}
