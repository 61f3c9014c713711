package index

import (
	"fmt"
	"math"
)

// Vocabulary maps each retained term to its column and idf weight. Terms
// are stored in column order.
type Vocabulary struct {
	Terms   []string
	IDF     []float64
	columns map[string]int
}

// NewVocabulary validates terms and idf and builds the lookup table. Terms
// must be unique; idf must be finite and positive.
func NewVocabulary(terms []string, idf []float64) (*Vocabulary, error) {
	if len(terms) != len(idf) {
		return nil, fmt.Errorf("vocabulary has %d terms but %d idf weights", len(terms), len(idf))
	}
	columns := make(map[string]int, len(terms))
	for i, term := range terms {
		if _, dup := columns[term]; dup {
			return nil, fmt.Errorf("vocabulary term %q repeated at column %d", term, i)
		}
		if w := idf[i]; math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return nil, fmt.Errorf("vocabulary term %q has invalid idf %v", term, w)
		}
		columns[term] = i
	}
	return &Vocabulary{Terms: terms, IDF: idf, columns: columns}, nil
}

// Column returns the column of term.
func (v *Vocabulary) Column(term string) (int, bool) {
	col, ok := v.columns[term]
	return col, ok
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.Terms) }
