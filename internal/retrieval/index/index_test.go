package index

import (
	"strings"
	"testing"
)

func sampleMatrix() *Matrix {
	// [0.6 0   0.8]
	// [0   0   0  ]
	// [0   1   0  ]
	return &Matrix{
		Rows:    3,
		Cols:    3,
		Indptr:  []int{0, 2, 2, 3},
		Indices: []int32{0, 2, 1},
		Data:    []float64{0.6, 0.8, 1},
	}
}

func TestMatrixRow(t *testing.T) {
	m := sampleMatrix()
	cols, weights := m.Row(0)
	if len(cols) != 2 || cols[1] != 2 || weights[1] != 0.8 {
		t.Errorf("Row(0) = %v %v", cols, weights)
	}
	if cols, _ := m.Row(1); len(cols) != 0 {
		t.Errorf("Row(1) should be empty, got %v", cols)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMatrixValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Matrix)
		want   string
	}{
		{"short indptr", func(m *Matrix) { m.Indptr = m.Indptr[:3] }, "indptr has"},
		{"decreasing indptr", func(m *Matrix) { m.Indptr = []int{0, 2, 1, 3} }, "decreases"},
		{"column out of range", func(m *Matrix) { m.Indices[2] = 9 }, "out-of-range"},
		{"unsorted row", func(m *Matrix) { m.Indices[0], m.Indices[1] = 2, 0 }, "out-of-order"},
		{"length mismatch", func(m *Matrix) { m.Data = m.Data[:2] }, "indices has"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleMatrix()
			tt.mutate(m)
			err := m.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestBuildPostings(t *testing.T) {
	p := BuildPostings(sampleMatrix())
	if p.Rows != 3 || len(p.Columns) != 3 {
		t.Fatalf("unexpected shape %+v", p)
	}
	if got := p.Columns[2]; len(got) != 1 || got[0].Row != 0 || got[0].Weight != 0.8 {
		t.Errorf("column 2 = %v", got)
	}
	if got := p.Columns[1]; len(got) != 1 || got[0].Row != 2 {
		t.Errorf("column 1 = %v", got)
	}
}

func TestVocabulary(t *testing.T) {
	v, err := NewVocabulary([]string{"brown", "fox"}, []float64{1.4, 1.2})
	if err != nil {
		t.Fatal(err)
	}
	if col, ok := v.Column("fox"); !ok || col != 1 {
		t.Errorf("Column(fox) = %d, %v", col, ok)
	}
	if _, ok := v.Column("zebra"); ok {
		t.Error("unexpected zebra column")
	}
	if _, err := NewVocabulary([]string{"a", "a"}, []float64{1, 1}); err == nil {
		t.Error("expected duplicate term error")
	}
	if _, err := NewVocabulary([]string{"a"}, []float64{0}); err == nil {
		t.Error("expected invalid idf error")
	}
}

func TestIndexValidate(t *testing.T) {
	v, _ := NewVocabulary([]string{"a", "b", "c"}, []float64{1, 1, 1})
	ix := &Index{
		BuildID:    "b1",
		Vocabulary: v,
		Matrix:     sampleMatrix(),
		Chunks:     []Chunk{{"a.txt", 1, "x"}, {"a.txt", 2, "y"}, {"b.txt", 1, "z"}},
	}
	if err := ix.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	ix.Chunks[2] = Chunk{"a.txt", 2, "z"}
	if err := ix.Validate(); err == nil {
		t.Error("expected duplicate chunk error")
	}
	ix.Chunks = ix.Chunks[:2]
	if err := ix.Validate(); err == nil || !strings.Contains(err.Error(), "rows") {
		t.Errorf("expected row mismatch, got %v", err)
	}
}
