package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics aggregates counters for a compression run.
type Statistics struct {
	FilesFound      int64
	FilesProcessed  int64
	FilesCompressed int64
	FilesKept       int64
	FilesSkipped    int64
	FilesWithErrors int64

	BytesIn    int64
	BytesOut   int64
	BytesSaved int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []RunError

	mutex sync.RWMutex

	KindStats map[string]int64
}

// RunError records a per-file failure during a run.
type RunError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a fresh Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		KindStats: make(map[string]int64),
		Errors:    make([]RunError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.FilesProcessed, 1)
}

// IncrementFilesCompressed increases the count of compressed files by 1.
func (s *Statistics) IncrementFilesCompressed() {
	atomic.AddInt64(&s.FilesCompressed, 1)
}

// IncrementFilesKept increases the count of files kept as originals by 1.
func (s *Statistics) IncrementFilesKept() {
	atomic.AddInt64(&s.FilesKept, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// AddBytes records the input and output sizes of one file.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
	if in > out {
		atomic.AddInt64(&s.BytesSaved, in-out)
	}
}

// IncrementKind increases the counter for a media kind by 1.
func (s *Statistics) IncrementKind(kind string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.KindStats[kind]++
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, RunError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize computes the derived duration and throughput fields.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.FilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(processed) / s.Duration.Seconds()
	}
}

// GetSummary returns a formatted summary of the run.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Compression Summary:

Files:
		Found: %d
		Processed: %d
		Compressed: %d
		Kept Original: %d
		Skipped: %d
		Errors: %d

Sizes:
		Bytes In: %s
		Bytes Out: %s
		Bytes Saved: %s

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesKept),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		formatBytes(atomic.LoadInt64(&s.BytesSaved)),
		s.Duration,
		s.FilesPerSecond)
}

// GetKindBreakdown returns a formatted per-kind file count breakdown.
func (s *Statistics) GetKindBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.KindStats) == 0 {
		return "No media kind statistics available"
	}

	result := "Media Kind Breakdown:\n"
	for kind, count := range s.KindStats {
		result += fmt.Sprintf("  %s: %d\n", kind, count)
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during the run.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// GetFilesProcessed returns the number of processed files.
func (s *Statistics) GetFilesProcessed() int64 {
	return atomic.LoadInt64(&s.FilesProcessed)
}

// GetBytesSaved returns the number of bytes saved.
func (s *Statistics) GetBytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesSaved)
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
