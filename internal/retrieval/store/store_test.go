package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/vocab"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

func sampleIndex(t *testing.T, texts ...string) *index.Index {
	t.Helper()
	v, m, err := vocab.NewBuilder(100).Fit(texts)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	chunks := make([]index.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = index.Chunk{Source: "notes.md", ChunkID: i + 1, Text: text}
	}
	return &index.Index{Vocabulary: v, Matrix: m, Chunks: chunks}
}

func TestLoadWithoutSaveIsAbsent(t *testing.T) {
	s := New(t.TempDir(), 2)
	if s.Exists() {
		t.Error("Exists() = true on empty store")
	}
	if _, err := s.Load(); !errors.Is(err, apperrors.ErrIndexAbsent) {
		t.Errorf("Load() error = %v, want ErrIndexAbsent", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir(), 2)
	ix := sampleIndex(t, "antenna tuning guide", "power budget for the field kit", "the and of")
	id, err := s.Save(ix)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists() {
		t.Fatal("Exists() = false after Save")
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BuildID != id {
		t.Errorf("BuildID = %q, want %q", got.BuildID, id)
	}
	if !reflect.DeepEqual(got.Vocabulary.Terms, ix.Vocabulary.Terms) || !reflect.DeepEqual(got.Vocabulary.IDF, ix.Vocabulary.IDF) {
		t.Error("vocabulary changed across round trip")
	}
	if !reflect.DeepEqual(got.Matrix, ix.Matrix) {
		t.Errorf("matrix changed across round trip:\n got %+v\nwant %+v", got.Matrix, ix.Matrix)
	}
	if !reflect.DeepEqual(got.Chunks, ix.Chunks) {
		t.Error("metadata changed across round trip")
	}
}

func TestSaveSwapsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	var ids []string
	for i := 0; i < 4; i++ {
		ix := sampleIndex(t, "alpha beta", "gamma delta")
		ix.BuildID = NewBuildID()
		id, err := s.Save(ix)
		if err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
		ids = append(ids, id)
	}
	current, err := s.Current()
	if err != nil || current != ids[3] {
		t.Fatalf("Current() = %q, %v; want %q", current, err, ids[3])
	}
	builds, err := s.Builds()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(builds, ids[2:]) {
		t.Errorf("Builds() = %v, want %v", builds, ids[2:])
	}
}

func TestAbandonedTempBuildIsIgnoredAndCleaned(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	if _, err := s.Save(sampleIndex(t, "alpha beta")); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, BuildsDir, "build_9999999999999999999"+tmpSuffix)
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err != nil {
		t.Fatalf("Load with stale temp dir: %v", err)
	}
	if _, err := s.Save(sampleIndex(t, "gamma delta")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp build still present: %v", err)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, buildDir string)
	}{
		{"missing metadata", func(t *testing.T, d string) {
			os.Remove(filepath.Join(d, MetadataFile))
		}},
		{"flipped matrix byte", func(t *testing.T, d string) {
			path := filepath.Join(d, MatrixFile)
			raw, _ := os.ReadFile(path)
			raw[MatrixHeaderSize+len(filepath.Base(d))+3] ^= 0xFF
			os.WriteFile(path, raw, 0o644)
		}},
		{"truncated matrix", func(t *testing.T, d string) {
			path := filepath.Join(d, MatrixFile)
			raw, _ := os.ReadFile(path)
			os.WriteFile(path, raw[:len(raw)-5], 0o644)
		}},
		{"row count mismatch", func(t *testing.T, d string) {
			path := filepath.Join(d, MetadataFile)
			var meta metadataDoc
			if err := readJSON(path, &meta); err != nil {
				t.Fatal(err)
			}
			meta.Chunks = meta.Chunks[:1]
			if err := writeJSON(path, meta); err != nil {
				t.Fatal(err)
			}
		}},
		{"foreign vocabulary", func(t *testing.T, d string) {
			path := filepath.Join(d, VocabularyFile)
			var doc vocabularyDoc
			if err := readJSON(path, &doc); err != nil {
				t.Fatal(err)
			}
			doc.BuildID = "someone-else"
			if err := writeJSON(path, doc); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := New(dir, 2)
			id, err := s.Save(sampleIndex(t, "alpha beta", "gamma delta"))
			if err != nil {
				t.Fatal(err)
			}
			tt.damage(t, filepath.Join(dir, BuildsDir, id))
			if _, err := s.Load(); !errors.Is(err, apperrors.ErrIndexCorrupt) {
				t.Errorf("Load() error = %v, want ErrIndexCorrupt", err)
			}
		})
	}
}

func TestExistsChecksMatrixHeader(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	id, err := s.Save(sampleIndex(t, "alpha beta"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, BuildsDir, id, MatrixFile)
	if err := os.WriteFile(path, []byte("not a matrix"), 0o644); err != nil {
		t.Fatal(err)
	}
	if s.Exists() {
		t.Error("Exists() = true with garbage matrix")
	}
}

func TestSaveRejectsInvalidIndex(t *testing.T) {
	s := New(t.TempDir(), 2)
	ix := sampleIndex(t, "alpha beta", "gamma delta")
	ix.Chunks = ix.Chunks[:1]
	if _, err := s.Save(ix); err == nil {
		t.Fatal("expected Save to reject mismatched index")
	}
	if s.Exists() {
		t.Error("invalid index must not be published")
	}
}
