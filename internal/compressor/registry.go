package compressor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Set bundles one backend per media kind and routes requests to them.
type Set struct {
	backends map[MediaKind]Compressor
}

// NewSet builds a Set from the given backends. Later backends of the same
// kind replace earlier ones.
func NewSet(backends ...Compressor) *Set {
	s := &Set{backends: make(map[MediaKind]Compressor, len(backends))}
	for _, b := range backends {
		s.backends[b.Kind()] = b
	}
	return s
}

// ForKind returns the backend serving the given kind.
func (s *Set) ForKind(kind MediaKind) (Compressor, bool) {
	b, ok := s.backends[kind]
	return b, ok
}

// Compress validates the request kind and dispatches it to the right backend.
// When req.Kind is empty, the kind is detected from the input extension.
func (s *Set) Compress(ctx context.Context, req Request) (Result, error) {
	if req.Kind == "" {
		req.Kind = DetectKind(req.InputPath)
	}
	if req.Kind == "" {
		return Result{InputPath: req.InputPath}, fmt.Errorf("%w: cannot detect media kind of %s",
			ErrUnsupportedFormat, req.InputPath)
	}
	b, ok := s.backends[req.Kind]
	if !ok {
		return Result{InputPath: req.InputPath}, fmt.Errorf("%w: no backend for kind %s",
			ErrUnsupportedFormat, req.Kind)
	}
	return b.Compress(ctx, req)
}

// SupportsFile reports whether any backend handles the file's extension.
func (s *Set) SupportsFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, b := range s.backends {
		if b.Supports(ext) {
			return true
		}
	}
	return false
}

// Kinds returns the media kinds the set can serve.
func (s *Set) Kinds() []MediaKind {
	kinds := make([]MediaKind, 0, len(s.backends))
	for k := range s.backends {
		kinds = append(kinds, k)
	}
	return kinds
}
