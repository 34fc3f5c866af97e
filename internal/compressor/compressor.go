package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MediaKind identifies which compression backend handles a file.
type MediaKind string

const (
	KindPDF   MediaKind = "pdf"
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Sentinel errors for the failure taxonomy. Callers match them with errors.Is.
var (
	ErrInputNotFound     = errors.New("input file not found")
	ErrUnsupportedFormat = errors.New("unsupported format for media kind")
	ErrBackendExecution  = errors.New("backend execution failed")
)

// Request describes a single compression invocation.
type Request struct {
	InputPath  string
	OutputPath string
	Kind       MediaKind
	Quality    int // 0-100, higher means higher fidelity

	// TargetReduction, when > 0, asks the backend to search for the
	// quality that achieves roughly this size reduction (0.0-1.0).
	// Only the image backend honors it; others derive everything
	// from Quality.
	TargetReduction float64
}

// Result describes the outcome of compressing a single file.
type Result struct {
	InputPath       string
	OutputPath      string
	OriginalSize    int64
	CompressedSize  int64
	PercentageSaved float64
	Action          string // "compressed", "original", "skipped"
	Message         string
	Success         bool
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Compressor is implemented by each media backend.
type Compressor interface {
	// Compress runs a single synchronous compression attempt.
	Compress(ctx context.Context, req Request) (Result, error)

	// Supports reports whether the backend handles the given extension.
	Supports(ext string) bool

	// Kind returns the media kind this backend serves.
	Kind() MediaKind
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".gif"}

var videoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".mpg", ".webm"}

// DetectKind guesses the media kind from the file extension.
// Returns an empty kind when the extension is not recognized.
func DetectKind(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return KindPDF
	case containsExt(imageExtensions, ext):
		return KindImage
	case containsExt(videoExtensions, ext):
		return KindVideo
	}
	return ""
}

// DefaultOutputPath returns "<name>_compressed<ext>" next to the input.
func DefaultOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + "_compressed" + ext
}

// clampQuality bounds the quality knob to the encoder-safe 5-95 range.
func clampQuality(q int) int {
	if q < 5 {
		return 5
	}
	if q > 95 {
		return 95
	}
	return q
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// finishResult fills the derived fields of a result and stamps the finish time.
func finishResult(res *Result) {
	if res.OriginalSize > 0 && res.Action == "compressed" {
		res.PercentageSaved = float64(res.OriginalSize-res.CompressedSize) * 100 / float64(res.OriginalSize)
	}
	res.Success = res.Action == "compressed" || res.Action == "original" || res.Action == "skipped"
	res.FinishedAt = time.Now()
}

// validateInput performs the shared existence and extension checks.
func validateInput(req Request, supports func(string) bool) (int64, error) {
	info, err := os.Stat(req.InputPath)
	if err != nil || info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrInputNotFound, req.InputPath)
	}
	ext := strings.ToLower(filepath.Ext(req.InputPath))
	if !supports(ext) {
		return 0, fmt.Errorf("%w: %s is not a %s file", ErrUnsupportedFormat, req.InputPath, req.Kind)
	}
	return info.Size(), nil
}
