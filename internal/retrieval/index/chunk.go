// Package index holds the in-memory form of the retrieval index: the
// vocabulary, the CSR term-weight matrix and the row-aligned chunk metadata.
package index

// Chunk is one retrievable passage. Source is relative to the corpus root
// with forward slashes; ChunkID is 1-based within its source.
type Chunk struct {
	Source  string `json:"source"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
}
