package compressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path string
		want MediaKind
	}{
		{"doc.pdf", KindPDF},
		{"DOC.PDF", KindPDF},
		{"photo.jpg", KindImage},
		{"photo.JPEG", KindImage},
		{"icon.png", KindImage},
		{"scan.tiff", KindImage},
		{"clip.mp4", KindVideo},
		{"clip.mov", KindVideo},
		{"clip.mkv", KindVideo},
		{"notes.txt", ""},
		{"archive.zip", ""},
		{"noext", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectKind(tt.path); got != tt.want {
				t.Errorf("DetectKind(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.pdf", "a_compressed.pdf"},
		{"/tmp/photo.jpg", "/tmp/photo_compressed.jpg"},
		{"clip.old.mp4", "clip.old_compressed.mp4"},
		{"noext", "noext_compressed"},
	}

	for _, tt := range tests {
		if got := DefaultOutputPath(tt.in); got != tt.want {
			t.Errorf("DefaultOutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampQuality(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 5},
		{0, 5},
		{5, 5},
		{60, 60},
		{95, 95},
		{100, 95},
	}

	for _, tt := range tests {
		if got := clampQuality(tt.in); got != tt.want {
			t.Errorf("clampQuality(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSetDispatch(t *testing.T) {
	set := NewSet(
		NewPDFCompressor(testLogger(), "gs"),
		NewImageCompressor(testLogger(), false),
		NewVideoCompressor(testLogger(), "", "", ""),
	)

	if len(set.Kinds()) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(set.Kinds()))
	}

	if _, ok := set.ForKind(KindPDF); !ok {
		t.Error("expected a PDF backend")
	}

	// Unknown extension cannot be routed.
	_, err := set.Compress(context.Background(), Request{InputPath: "file.txt"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for unroutable file, got %v", err)
	}

	// Missing input surfaces before any backend work.
	_, err = set.Compress(context.Background(), Request{InputPath: "missing.jpg", Kind: KindImage})
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got %v", err)
	}
}

func TestSetCompressKindMismatch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "actually.jpg")
	if err := os.WriteFile(input, []byte("not a real image"), 0644); err != nil {
		t.Fatal(err)
	}

	set := NewSet(NewPDFCompressor(testLogger(), "gs"))

	// A .jpg handed to the PDF backend is an extension/kind mismatch.
	_, err := set.Compress(context.Background(), Request{InputPath: input, Kind: KindPDF})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSupportsFile(t *testing.T) {
	set := NewSet(NewImageCompressor(testLogger(), false))

	if !set.SupportsFile("photo.png") {
		t.Error("expected png to be supported")
	}
	if set.SupportsFile("doc.pdf") {
		t.Error("pdf should not be supported by an image-only set")
	}
}
