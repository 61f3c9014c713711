package corpus

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

// StoredFile describes an uploaded document. StoredAs is relative to the
// corpus root.
type StoredFile struct {
	Filename  string `json:"filename"`
	StoredAs  string `json:"stored_as"`
	SizeBytes int64  `json:"size_bytes"`
}

// Uploads stores user-supplied documents in one directory of the corpus.
type Uploads struct {
	root      string
	dirName   string
	supported func(name string) bool
}

// NewUploads keeps uploads in root/dirName.
func NewUploads(root, dirName string, supported func(name string) bool) *Uploads {
	if dirName == "" {
		dirName = "uploads"
	}
	return &Uploads{root: root, dirName: dirName, supported: supported}
}

// Dir returns the absolute uploads directory.
func (u *Uploads) Dir() string {
	return filepath.Join(u.root, u.dirName)
}

func (u *Uploads) ensureDir() (string, error) {
	dir := u.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating uploads directory: %w", err)
	}
	return dir, nil
}

// Supported reports whether filename may be uploaded.
func (u *Uploads) Supported(filename string) bool {
	return u.supported(filename)
}

// Save writes r under a collision-free name derived from filename. The name
// gets an 8 hex digit random prefix; unsupported extensions are refused with
// ErrUnsupported.
func (u *Uploads) Save(filename string, r io.Reader) (StoredFile, error) {
	if filename == "" {
		filename = "document"
	}
	if !u.supported(filename) {
		return StoredFile{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupported, filename)
	}
	dir, err := u.ensureDir()
	if err != nil {
		return StoredFile{}, err
	}
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := prefix + "_" + SafeFilename(filename)
	target := filepath.Join(dir, name)

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("creating upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return StoredFile{}, fmt.Errorf("writing upload: %w", err)
	}
	return StoredFile{
		Filename:  filename,
		StoredAs:  u.dirName + "/" + name,
		SizeBytes: n,
	}, nil
}

// List returns the uploaded files sorted by name.
func (u *Uploads) List() ([]StoredFile, error) {
	dir, err := u.ensureDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	docs := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docs = append(docs, StoredFile{
			Filename:  e.Name(),
			StoredAs:  u.dirName + "/" + e.Name(),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

// Delete removes one upload. storedAs must resolve inside the uploads
// directory (ErrInvalidInput otherwise) and name an existing regular file
// (ErrNotFound otherwise).
func (u *Uploads) Delete(storedAs string) error {
	dir, err := u.ensureDir()
	if err != nil {
		return err
	}
	target := filepath.Clean(filepath.Join(u.root, filepath.FromSlash(storedAs)))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Only files under uploads/ can be deleted.")
	}
	info, err := os.Lstat(target)
	if err != nil || !info.Mode().IsRegular() {
		return apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Document not found.")
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("deleting upload: %w", err)
	}
	return nil
}

// DeleteAll removes every regular file in the uploads directory and returns
// how many were removed.
func (u *Uploads) DeleteAll() (int, error) {
	dir, err := u.ensureDir()
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("listing uploads: %w", err)
	}
	deleted := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return deleted, fmt.Errorf("deleting upload %s: %w", e.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}

// SafeFilename keeps letters, digits, '-', '_' and '.', then trims leading
// and trailing dots. An empty result becomes "document".
func SafeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "document"
	}
	return cleaned
}
