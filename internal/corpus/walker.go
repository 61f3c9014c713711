// Package corpus manages the document tree that indexes are built from:
// enumerating it, accepting uploads into it and watching it for changes.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// File is a corpus document. Rel uses forward slashes.
type File struct {
	Path string
	Rel  string
	Size int64
}

// Walker enumerates supported files under a root.
type Walker struct {
	root      string
	supported func(name string) bool
	exclude   []string
}

// NewWalker returns a Walker over root. Files whose root-relative path
// matches any exclude glob (doublestar syntax, e.g. "**/drafts/**") are
// skipped.
func NewWalker(root string, supported func(name string) bool, exclude []string) (*Walker, error) {
	for _, pattern := range exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid corpus exclude pattern %q", pattern)
		}
	}
	return &Walker{root: root, supported: supported, exclude: exclude}, nil
}

// Root returns the corpus root.
func (w *Walker) Root() string { return w.root }

// Walk creates the root when missing and returns every supported regular
// file beneath it sorted by relative path. Unreadable subtrees are skipped.
func (w *Walker) Walk(ctx context.Context) ([]File, error) {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating corpus root: %w", err)
	}
	var files []File
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !w.supported(d.Name()) || w.excluded(rel) {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, File{Path: path, Rel: rel, Size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", w.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
