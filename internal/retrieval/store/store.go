// Package store persists retrieval indexes on disk. Each build is written to
// its own directory and published by atomically replacing a CURRENT pointer
// file, so readers observe either the previous build or the new one, never a
// mixture of the two.
//
//	<dir>/CURRENT                   name of the active build
//	<dir>/builds/<id>/vocabulary.json
//	<dir>/builds/<id>/matrix.spmx
//	<dir>/builds/<id>/metadata.json
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

const (
	CurrentFile    = "CURRENT"
	BuildsDir      = "builds"
	VocabularyFile = "vocabulary.json"
	MatrixFile     = "matrix.spmx"
	MetadataFile   = "metadata.json"

	// FormatVersion is written to both JSON artifacts.
	FormatVersion = 1

	tmpSuffix = ".tmp"
)

type vocabularyDoc struct {
	FormatVersion int       `json:"format_version"`
	BuildID       string    `json:"build_id"`
	Terms         []string  `json:"terms"`
	IDF           []float64 `json:"idf"`
}

type metadataDoc struct {
	FormatVersion int           `json:"format_version"`
	BuildID       string        `json:"build_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Chunks        []index.Chunk `json:"chunks"`
}

// Store reads and writes indexes under one directory. Save calls must not
// run concurrently with each other; Load and Exists may run at any time.
type Store struct {
	dir        string
	keepBuilds int
	logger     *slog.Logger
}

// New returns a Store rooted at dir that retains keepBuilds published
// builds, the active one included. Values below 1 keep only the active
// build.
func New(dir string, keepBuilds int) *Store {
	if keepBuilds < 1 {
		keepBuilds = 1
	}
	return &Store{
		dir:        dir,
		keepBuilds: keepBuilds,
		logger:     slog.Default().With("component", "index-store"),
	}
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// NewBuildID returns an id that sorts after every earlier one.
func NewBuildID() string {
	return fmt.Sprintf("build_%019d", time.Now().UnixNano())
}

// Save writes ix as a new build and makes it current. An empty BuildID is
// replaced with a fresh one. The returned id names the published build.
func (s *Store) Save(ix *index.Index) (string, error) {
	if ix.BuildID == "" {
		ix.BuildID = NewBuildID()
	}
	if err := ix.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save invalid index: %w", err)
	}

	buildsDir := filepath.Join(s.dir, BuildsDir)
	if err := os.MkdirAll(buildsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating builds directory: %w", err)
	}
	finalDir := filepath.Join(buildsDir, ix.BuildID)
	tmpDir := finalDir + tmpSuffix
	if err := os.RemoveAll(tmpDir); err != nil {
		return "", fmt.Errorf("clearing temp build directory: %w", err)
	}
	if err := os.Mkdir(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp build directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmpDir)
		}
	}()

	vocab := vocabularyDoc{
		FormatVersion: FormatVersion,
		BuildID:       ix.BuildID,
		Terms:         ix.Vocabulary.Terms,
		IDF:           ix.Vocabulary.IDF,
	}
	if err := writeJSON(filepath.Join(tmpDir, VocabularyFile), vocab); err != nil {
		return "", fmt.Errorf("writing vocabulary: %w", err)
	}
	if err := writeMatrix(filepath.Join(tmpDir, MatrixFile), ix.BuildID, ix.Matrix); err != nil {
		return "", fmt.Errorf("writing matrix: %w", err)
	}
	meta := metadataDoc{
		FormatVersion: FormatVersion,
		BuildID:       ix.BuildID,
		CreatedAt:     time.Now().UTC(),
		Chunks:        ix.Chunks,
	}
	if err := writeJSON(filepath.Join(tmpDir, MetadataFile), meta); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}
	if err := syncDir(tmpDir); err != nil {
		return "", err
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return "", fmt.Errorf("publishing build directory: %w", err)
	}
	committed = true
	if err := syncDir(buildsDir); err != nil {
		return "", err
	}
	if err := s.setCurrent(ix.BuildID); err != nil {
		return "", err
	}

	s.logger.Info("index build published",
		"build_id", ix.BuildID,
		"chunks", len(ix.Chunks),
		"terms", ix.Vocabulary.Len(),
		"nnz", ix.Matrix.NNZ(),
	)
	s.prune(ix.BuildID)
	return ix.BuildID, nil
}

// Current returns the active build id, or ErrIndexAbsent.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CurrentFile))
	if os.IsNotExist(err) {
		return "", apperrors.ErrIndexAbsent
	}
	if err != nil {
		return "", fmt.Errorf("reading current pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: current pointer names invalid build %q", apperrors.ErrIndexCorrupt, id)
	}
	return id, nil
}

// Exists reports whether the current build has all three artifacts and a
// structurally valid matrix header. It does not verify checksums.
func (s *Store) Exists() bool {
	id, err := s.Current()
	if err != nil {
		return false
	}
	dir := filepath.Join(s.dir, BuildsDir, id)
	for _, name := range []string{VocabularyFile, MetadataFile} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.IsDir() {
			return false
		}
	}
	_, err = readMatrixHeader(filepath.Join(dir, MatrixFile))
	return err == nil
}

// Load reads and cross-checks the current build. It fails with
// ErrIndexAbsent when nothing was ever saved and ErrIndexCorrupt when the
// artifacts are missing, unreadable or disagree with each other.
func (s *Store) Load() (*index.Index, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.LoadBuild(id)
}

// LoadBuild reads a specific published build.
func (s *Store) LoadBuild(id string) (*index.Index, error) {
	dir := filepath.Join(s.dir, BuildsDir, id)

	var vocab vocabularyDoc
	if err := readJSON(filepath.Join(dir, VocabularyFile), &vocab); err != nil {
		return nil, corrupt(id, "vocabulary: %v", err)
	}
	m, matrixID, err := readMatrix(filepath.Join(dir, MatrixFile))
	if err != nil {
		return nil, corrupt(id, "matrix: %v", err)
	}
	var meta metadataDoc
	if err := readJSON(filepath.Join(dir, MetadataFile), &meta); err != nil {
		return nil, corrupt(id, "metadata: %v", err)
	}

	if vocab.FormatVersion != FormatVersion || meta.FormatVersion != FormatVersion {
		return nil, corrupt(id, "unsupported format versions %d/%d", vocab.FormatVersion, meta.FormatVersion)
	}
	if vocab.BuildID != id || matrixID != id || meta.BuildID != id {
		return nil, corrupt(id, "artifacts belong to builds %q, %q, %q", vocab.BuildID, matrixID, meta.BuildID)
	}
	v, err := index.NewVocabulary(vocab.Terms, vocab.IDF)
	if err != nil {
		return nil, corrupt(id, "vocabulary: %v", err)
	}
	ix := &index.Index{BuildID: id, Vocabulary: v, Matrix: m, Chunks: meta.Chunks}
	if ix.Chunks == nil {
		ix.Chunks = []index.Chunk{}
	}
	if err := ix.Validate(); err != nil {
		return nil, corrupt(id, "%v", err)
	}
	return ix, nil
}

// Builds lists published build ids, oldest first.
func (s *Store) Builds() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, BuildsDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasSuffix(e.Name(), tmpSuffix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) setCurrent(id string) error {
	path := filepath.Join(s.dir, CurrentFile)
	tmp := path + tmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating current pointer: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing current pointer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing current pointer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing current pointer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("swapping current pointer: %w", err)
	}
	return syncDir(s.dir)
}

// prune removes published builds beyond the retention count and abandoned
// temp directories. Failures are logged, never returned.
func (s *Store) prune(current string) {
	buildsDir := filepath.Join(s.dir, BuildsDir)
	entries, err := os.ReadDir(buildsDir)
	if err != nil {
		s.logger.Warn("listing builds for pruning failed", "error", err)
		return
	}
	var published []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, tmpSuffix):
			if err := os.RemoveAll(filepath.Join(buildsDir, name)); err != nil {
				s.logger.Warn("removing abandoned build failed", "build", name, "error", err)
			}
		case e.IsDir() && name != current:
			published = append(published, name)
		}
	}
	sort.Strings(published)
	excess := len(published) - (s.keepBuilds - 1)
	for i := 0; i < excess; i++ {
		if err := os.RemoveAll(filepath.Join(buildsDir, published[i])); err != nil {
			s.logger.Warn("removing old build failed", "build", published[i], "error", err)
			continue
		}
		s.logger.Debug("old build removed", "build", published[i])
	}
}

func corrupt(id, format string, args ...any) error {
	return fmt.Errorf("%w: build %s: %s", apperrors.ErrIndexCorrupt, id, fmt.Sprintf(format, args...))
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}
