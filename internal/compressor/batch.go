package compressor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"media-shrink-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// BatchParams configures a recursive directory compression run.
type BatchParams struct {
	InputPaths      []string
	OutputDir       string // empty: outputs land next to their inputs
	Quality         int
	TargetReduction float64
	Kinds           []MediaKind // empty: all kinds the set serves
	Workers         int
	DryRun          bool
}

// ProgressFunc receives each finished result as the batch runs.
type ProgressFunc func(Result)

// Batch runs a Set over a file tree with a bounded worker pool.
type Batch struct {
	set    *Set
	logger *logrus.Logger
	stats  *statistics.Statistics
}

// NewBatch returns a batch runner over the given backend set.
func NewBatch(set *Set, logger *logrus.Logger, stats *statistics.Statistics) *Batch {
	return &Batch{set: set, logger: logger, stats: stats}
}

// Run collects matching files under params.InputPaths and compresses them
// concurrently. Results are returned in collection order; progress, when not
// nil, is called as each file finishes.
func (b *Batch) Run(ctx context.Context, params BatchParams, progress ProgressFunc) ([]Result, error) {
	files, err := b.collectFiles(params)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	for range files {
		b.stats.IncrementFilesFound()
	}
	if len(files) == 0 {
		return nil, nil
	}

	files = b.filterCompressed(files)

	if params.DryRun {
		for _, f := range files {
			b.logger.WithField("file", f).Info("dry-run: would compress")
			b.stats.IncrementFilesSkipped()
		}
		return nil, nil
	}

	if params.OutputDir != "" {
		if err := os.MkdirAll(params.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	workers := params.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}

	type job struct {
		index int
		path  string
	}
	type indexed struct {
		index int
		res   Result
		err   error
	}

	jobs := make(chan job, len(files))
	results := make(chan indexed, len(files))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res, err := b.compressOne(ctx, j.path, params)
				results <- indexed{index: j.index, res: res, err: err}
			}
		}()
	}

	for i, path := range files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()
	close(results)

	// Cancelled workers drop their queued jobs, so only indices that
	// actually produced a result make it into the output.
	byIndex := make([]*Result, len(files))
	for r := range results {
		res := r.res
		byIndex[r.index] = &res
		b.record(r.res, r.err)
		if progress != nil {
			progress(r.res)
		}
	}
	out := make([]Result, 0, len(files))
	for _, res := range byIndex {
		if res != nil {
			out = append(out, *res)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// compressOne builds the per-file request and dispatches it to the set.
func (b *Batch) compressOne(ctx context.Context, path string, params BatchParams) (Result, error) {
	outPath := ""
	if params.OutputDir != "" {
		outPath = filepath.Join(params.OutputDir, filepath.Base(path))
	}
	res, err := b.set.Compress(ctx, Request{
		InputPath:       path,
		OutputPath:      outPath,
		Quality:         params.Quality,
		TargetReduction: params.TargetReduction,
	})
	if err != nil {
		res.Message = err.Error()
		b.logger.WithField("file", path).Errorf("compression failed: %v", err)
	}
	return res, err
}

// record updates statistics for one finished file.
func (b *Batch) record(res Result, err error) {
	b.stats.IncrementFilesProcessed()
	b.stats.IncrementKind(string(DetectKind(res.InputPath)))
	switch {
	case err != nil:
		b.stats.IncrementFilesWithErrors()
		b.stats.AddError(res.InputPath, "compress", err.Error())
	case res.Action == "compressed":
		b.stats.IncrementFilesCompressed()
		b.stats.AddBytes(res.OriginalSize, res.CompressedSize)
	case res.Action == "original":
		b.stats.IncrementFilesKept()
		b.stats.AddBytes(res.OriginalSize, res.CompressedSize)
	default:
		b.stats.IncrementFilesSkipped()
	}
}

// collectFiles walks the input paths and returns files the set can serve,
// filtered to the requested kinds. Already produced "_compressed" outputs are
// never picked up again.
func (b *Batch) collectFiles(params BatchParams) ([]string, error) {
	kindSet := make(map[MediaKind]struct{}, len(params.Kinds))
	for _, k := range params.Kinds {
		kindSet[k] = struct{}{}
	}

	wanted := func(path string) bool {
		if !b.set.SupportsFile(path) {
			return false
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if strings.HasSuffix(base, "_compressed") {
			return false
		}
		if len(kindSet) == 0 {
			return true
		}
		_, ok := kindSet[DetectKind(path)]
		return ok
	}

	var files []string
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if wanted(path) {
			files = append(files, path)
		}
		return nil
	}

	for _, in := range params.InputPaths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, in)
		}
		if info.IsDir() {
			if err := filepath.WalkDir(in, visit); err != nil {
				return nil, err
			}
		} else if wanted(in) {
			files = append(files, in)
		}
	}
	return files, nil
}

// filterCompressed drops JPEGs that already carry the Software mark, checked
// with exiftool in parallel. Files stay in when the check itself fails.
func (b *Batch) filterCompressed(files []string) []string {
	type verdict struct {
		path string
		keep bool
	}
	workers := max(runtime.NumCPU(), 2)
	jobs := make(chan string, len(files))
	verdicts := make(chan verdict, len(files))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for path := range jobs {
				keep := true
				ext := strings.ToLower(filepath.Ext(path))
				if ext == ".jpg" || ext == ".jpeg" {
					if sw, err := readSoftwareTag(path); err == nil && strings.Contains(sw, softwareMark) {
						keep = false
					}
				}
				verdicts <- verdict{path: path, keep: keep}
			}
		}()
	}
	for _, path := range files {
		jobs <- path
	}
	close(jobs)

	wg.Wait()
	close(verdicts)

	kept := make(map[string]bool, len(files))
	for v := range verdicts {
		kept[v.path] = v.keep
	}

	var filtered []string
	for _, path := range files {
		if kept[path] {
			filtered = append(filtered, path)
		} else {
			b.stats.IncrementFilesSkipped()
		}
	}
	return filtered
}
