package index

// Posting is one non-zero cell of a matrix column.
type Posting struct {
	Row    int32
	Weight float64
}

// PostingList holds the postings of one column in ascending row order.
type PostingList []Posting

// Postings is the column-oriented view of a Matrix used for scoring: only
// the columns a query touches are visited.
type Postings struct {
	Rows    int
	Columns []PostingList
}

// BuildPostings transposes m. Rows are visited in order, so each list is
// sorted by row.
func BuildPostings(m *Matrix) *Postings {
	counts := make([]int, m.Cols)
	for _, col := range m.Indices {
		counts[col]++
	}
	columns := make([]PostingList, m.Cols)
	for c, n := range counts {
		if n > 0 {
			columns[c] = make(PostingList, 0, n)
		}
	}
	for r := 0; r < m.Rows; r++ {
		cols, weights := m.Row(r)
		for k, col := range cols {
			columns[col] = append(columns[col], Posting{Row: int32(r), Weight: weights[k]})
		}
	}
	return &Postings{Rows: m.Rows, Columns: columns}
}
