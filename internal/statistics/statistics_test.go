package statistics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounters(t *testing.T) {
	s := NewStatistics()

	s.IncrementFilesFound()
	s.IncrementFilesFound()
	s.IncrementFilesProcessed()
	s.IncrementFilesCompressed()
	s.IncrementFilesKept()
	s.IncrementFilesSkipped()
	s.IncrementFilesWithErrors()

	if s.FilesFound != 2 {
		t.Errorf("FilesFound = %d, want 2", s.FilesFound)
	}
	if s.GetFilesProcessed() != 1 {
		t.Errorf("FilesProcessed = %d, want 1", s.GetFilesProcessed())
	}
}

func TestAddBytes(t *testing.T) {
	s := NewStatistics()

	s.AddBytes(1000, 400)
	s.AddBytes(500, 600) // output grew, nothing saved

	if s.BytesIn != 1500 {
		t.Errorf("BytesIn = %d, want 1500", s.BytesIn)
	}
	if s.BytesOut != 1000 {
		t.Errorf("BytesOut = %d, want 1000", s.BytesOut)
	}
	if s.GetBytesSaved() != 600 {
		t.Errorf("BytesSaved = %d, want 600", s.GetBytesSaved())
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesProcessed()
			s.IncrementKind("image")
			s.AddBytes(100, 50)
		}()
	}
	wg.Wait()

	if s.GetFilesProcessed() != 50 {
		t.Errorf("FilesProcessed = %d, want 50", s.GetFilesProcessed())
	}
	if s.KindStats["image"] != 50 {
		t.Errorf("KindStats[image] = %d, want 50", s.KindStats["image"])
	}
	if s.GetBytesSaved() != 2500 {
		t.Errorf("BytesSaved = %d, want 2500", s.GetBytesSaved())
	}
}

func TestFinalizeAndSummary(t *testing.T) {
	s := NewStatistics()
	s.IncrementFilesFound()
	s.IncrementFilesProcessed()
	s.IncrementFilesCompressed()
	s.AddBytes(2048, 1024)
	s.Finalize()

	if s.Duration <= 0 {
		t.Error("Finalize should set a positive duration")
	}

	summary := s.GetSummary()
	for _, want := range []string{"Found: 1", "Compressed: 1", "1.0 KB"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestErrorSummary(t *testing.T) {
	s := NewStatistics()

	if !strings.Contains(s.GetErrorSummary(), "No errors") {
		t.Error("empty error summary should say so")
	}

	s.AddError("/tmp/a.pdf", "compress", "backend exploded")
	out := s.GetErrorSummary()
	if !strings.Contains(out, "/tmp/a.pdf") || !strings.Contains(out, "backend exploded") {
		t.Errorf("error summary missing details:\n%s", out)
	}
}

func TestKindBreakdown(t *testing.T) {
	s := NewStatistics()

	if !strings.Contains(s.GetKindBreakdown(), "No media kind") {
		t.Error("empty breakdown should say so")
	}

	s.IncrementKind("pdf")
	s.IncrementKind("pdf")
	s.IncrementKind("video")
	out := s.GetKindBreakdown()
	if !strings.Contains(out, "pdf: 2") || !strings.Contains(out, "video: 1") {
		t.Errorf("unexpected breakdown:\n%s", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
