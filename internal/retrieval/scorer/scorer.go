// Package scorer ranks the chunks of a loaded index against free-text
// queries by cosine similarity of TF-IDF vectors.
package scorer

import (
	"container/heap"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/tokenizer"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/vocab"
)

// Result is a ranked chunk.
type Result struct {
	Source  string  `json:"source"`
	ChunkID int     `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// ScoredRow is a matrix row and its similarity to a query.
type ScoredRow struct {
	Row   int
	Score float64
}

// Scorer is immutable after construction and safe for concurrent use.
type Scorer struct {
	ix       *index.Index
	postings *index.Postings
}

// New prepares ix for scoring. ix must already be validated.
func New(ix *index.Index) *Scorer {
	return &Scorer{ix: ix, postings: index.BuildPostings(ix.Matrix)}
}

// Index returns the index being scored.
func (s *Scorer) Index() *index.Index { return s.ix }

// Vectorize tokenizes query like a chunk and weights it with the build-time
// idf. Out-of-vocabulary terms are dropped.
func (s *Scorer) Vectorize(query string) ([]int32, []float64) {
	counts, _ := tokenizer.Counts(query)
	return vocab.Weigh(s.ix.Vocabulary, counts)
}

// Rank returns at most k rows with strictly positive similarity to query,
// highest first, lower row first on equal scores.
func (s *Scorer) Rank(query string, k int) []ScoredRow {
	if k <= 0 {
		return nil
	}
	cols, weights := s.Vectorize(query)
	if len(cols) == 0 {
		return nil
	}

	scores := make([]float64, s.postings.Rows)
	touched := make([]int32, 0, 64)
	for i, col := range cols {
		qw := weights[i]
		for _, p := range s.postings.Columns[col] {
			if scores[p.Row] == 0 {
				touched = append(touched, p.Row)
			}
			scores[p.Row] += qw * p.Weight
		}
	}

	h := make(rowHeap, 0, k+1)
	for _, row := range touched {
		score := scores[row]
		if score <= 0 {
			continue
		}
		heap.Push(&h, ScoredRow{Row: int(row), Score: score})
		if h.Len() > k {
			heap.Pop(&h)
		}
	}
	ranked := make([]ScoredRow, h.Len())
	for i := len(ranked) - 1; i >= 0; i-- {
		ranked[i] = heap.Pop(&h).(ScoredRow)
	}
	return ranked
}

// Search is Rank with each row resolved to its chunk.
func (s *Scorer) Search(query string, k int) []Result {
	ranked := s.Rank(query, k)
	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		c := s.ix.Chunks[r.Row]
		results = append(results, Result{
			Source:  c.Source,
			ChunkID: c.ChunkID,
			Text:    c.Text,
			Score:   r.Score,
		})
	}
	return results
}

// rowHeap is a min-heap whose root is the weakest kept row.
type rowHeap []ScoredRow

func (h rowHeap) Len() int { return len(h) }

func (h rowHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Row > h[j].Row
}

func (h rowHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rowHeap) Push(x any) {
	*h = append(*h, x.(ScoredRow))
}

func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
