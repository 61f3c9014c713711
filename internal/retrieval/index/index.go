package index

import "fmt"

// Index is the unit of persistence: a vocabulary, a matrix whose columns are
// its terms and whose rows are Chunks, in the same order.
type Index struct {
	BuildID    string
	Vocabulary *Vocabulary
	Matrix     *Matrix
	Chunks     []Chunk
}

// Validate checks that the three parts agree with each other.
func (ix *Index) Validate() error {
	if ix.Vocabulary == nil || ix.Matrix == nil {
		return fmt.Errorf("index %s is incomplete", ix.BuildID)
	}
	if ix.Matrix.Rows != len(ix.Chunks) {
		return fmt.Errorf("matrix has %d rows but metadata has %d chunks", ix.Matrix.Rows, len(ix.Chunks))
	}
	if ix.Matrix.Cols != ix.Vocabulary.Len() {
		return fmt.Errorf("matrix has %d columns but vocabulary has %d terms", ix.Matrix.Cols, ix.Vocabulary.Len())
	}
	if err := ix.Matrix.Validate(); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	type key struct {
		source string
		id     int
	}
	seen := make(map[key]struct{}, len(ix.Chunks))
	for i, c := range ix.Chunks {
		k := key{c.Source, c.ChunkID}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("chunk %d duplicates %s#%d", i, c.Source, c.ChunkID)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Len returns the number of chunks.
func (ix *Index) Len() int { return len(ix.Chunks) }
