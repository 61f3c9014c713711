// Package extract turns supported corpus files into plain text.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

// Extractor returns the plain text of one file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry dispatches on lower-cased file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a Registry handling .txt, .md, .rst and .pdf.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	text := ExtractorFunc(ReadText)
	r.Register(".txt", text)
	r.Register(".md", text)
	r.Register(".rst", text)
	r.Register(".pdf", ExtractorFunc(ReadPDF))
	return r
}

// Register sets the extractor for ext, which includes the leading dot.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Supported reports whether name has a registered extension.
func (r *Registry) Supported(name string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract runs the extractor registered for path.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupported, filepath.Base(path))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.Extract(ctx, path)
}

// ReadText reads a UTF-8 text file. Invalid byte sequences become U+FFFD.
func ReadText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}
