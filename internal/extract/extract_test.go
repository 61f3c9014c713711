package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

func TestSupported(t *testing.T) {
	r := NewRegistry()
	for name, want := range map[string]bool{
		"notes.txt":   true,
		"README.MD":   true,
		"guide.rst":   true,
		"manual.PDF":  true,
		"image.png":   false,
		"archive.tgz": false,
		"noext":       false,
	} {
		if got := r.Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
	if got := r.Extensions(); !reflect.DeepEqual(got, []string{".md", ".pdf", ".rst", ".txt"}) {
		t.Errorf("Extensions() = %v", got)
	}
}

func TestReadTextReplacesInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("ok \xff done"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := NewRegistry().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok � done" {
		t.Errorf("Extract() = %q", got)
	}
}

func TestExtractUnsupported(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "/tmp/x.docx")
	if !errors.Is(err, apperrors.ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

func TestReadPDFRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("definitely not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPDF(context.Background(), path); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestCustomExtractor(t *testing.T) {
	r := NewRegistry()
	r.Register(".LOG", ExtractorFunc(func(context.Context, string) (string, error) {
		return "custom", nil
	}))
	got, err := r.Extract(context.Background(), "server.log")
	if err != nil || got != "custom" {
		t.Errorf("Extract() = %q, %v", got, err)
	}
}
