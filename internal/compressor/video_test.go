package compressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTargetBitrate(t *testing.T) {
	tests := []struct {
		name     string
		original int64
		quality  int
		want     int64
	}{
		{"half", 2_000_000, 50, 1_000_000},
		{"full", 2_000_000, 100, 2_000_000},
		{"floor", 2_000_000, 10, minBitrate},
		{"zero quality floors", 2_000_000, 0, minBitrate},
		{"clamped above 100", 2_000_000, 150, 2_000_000},
		{"negative clamps to floor", 2_000_000, -5, minBitrate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetBitrate(tt.original, tt.quality); got != tt.want {
				t.Errorf("targetBitrate(%d, %d) = %d, want %d", tt.original, tt.quality, got, tt.want)
			}
		})
	}
}

const stubFFprobeWithBitrate = `printf '{"streams":[{"bit_rate":"1000000"}],"format":{"duration":"10.000000","size":"1250000"}}'
`

const stubFFprobeNoStreamBitrate = `printf '{"streams":[{}],"format":{"duration":"10.000000","size":"1250000"}}'
`

const stubFFprobeEmpty = `printf '{}'
`

// stubFFmpeg logs its argv and writes a short output file on the second pass.
const stubFFmpeg = `echo "$@" >> "$FFMPEG_ARGS_LOG"
last=""
for a in "$@"; do last="$a"; done
if [ "$last" != "/dev/null" ]; then printf 'tinyvideo' > "$last"; fi
`

func TestVideoProbeBitrate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		script string
		want   int64
	}{
		{"stream bitrate", stubFFprobeWithBitrate, 1_000_000},
		{"size over duration fallback", stubFFprobeNoStreamBitrate, 1_000_000},
		{"default when undeterminable", stubFFprobeEmpty, defaultBitrate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := writeStubTool(t, t.TempDir(), "ffprobe", tt.script)
			c := NewVideoCompressor(testLogger(), "ffmpeg", probe, "")
			got, err := c.probeBitrate(context.Background(), filepath.Join(dir, "a.mp4"))
			if err != nil {
				t.Fatalf("probeBitrate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("probeBitrate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVideoCompressTwoPass(t *testing.T) {
	dir := t.TempDir()
	argsLog := filepath.Join(dir, "ffmpeg-args.log")
	t.Setenv("FFMPEG_ARGS_LOG", argsLog)

	ffmpeg := writeStubTool(t, dir, "ffmpeg", stubFFmpeg)
	ffprobe := writeStubTool(t, dir, "ffprobe", stubFFprobeWithBitrate)

	input := filepath.Join(dir, "clip.mp4")
	payload := make([]byte, 2048)
	if err := os.WriteFile(input, payload, 0644); err != nil {
		t.Fatal(err)
	}

	c := NewVideoCompressor(testLogger(), ffmpeg, ffprobe, "fast")
	res, err := c.Compress(context.Background(), Request{
		InputPath: input,
		Kind:      KindVideo,
		Quality:   50,
	})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if res.OutputPath != filepath.Join(dir, "clip_compressed.mp4") {
		t.Errorf("unexpected output path %q", res.OutputPath)
	}
	if res.CompressedSize >= res.OriginalSize {
		t.Errorf("compressed size %d not smaller than original %d", res.CompressedSize, res.OriginalSize)
	}
	if !res.Success {
		t.Error("expected success")
	}

	logData, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatalf("ffmpeg was never invoked: %v", err)
	}
	invocations := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(invocations) != 2 {
		t.Fatalf("expected 2 ffmpeg passes, got %d", len(invocations))
	}
	if !strings.Contains(invocations[0], "-pass 1") {
		t.Errorf("first invocation should be pass 1: %q", invocations[0])
	}
	if !strings.Contains(invocations[1], "-pass 2") {
		t.Errorf("second invocation should be pass 2: %q", invocations[1])
	}
	// quality 50 of a 1 Mbps source is 500 kbps, exactly the floor.
	for _, inv := range invocations {
		if !strings.Contains(inv, "-b:v 500000") {
			t.Errorf("expected target bitrate 500000 in %q", inv)
		}
		if !strings.Contains(inv, "-preset fast") {
			t.Errorf("expected preset fast in %q", inv)
		}
	}
	if !strings.Contains(invocations[0], "-an") {
		t.Errorf("first pass should drop audio: %q", invocations[0])
	}
	if !strings.Contains(invocations[1], "-c:a aac") {
		t.Errorf("second pass should encode audio: %q", invocations[1])
	}
}

func TestVideoCompressBackendFailure(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStubTool(t, dir, "ffmpeg", `echo "encode failed" >&2
exit 1
`)
	ffprobe := writeStubTool(t, dir, "ffprobe", stubFFprobeWithBitrate)

	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("video data"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewVideoCompressor(testLogger(), ffmpeg, ffprobe, "")
	_, err := c.Compress(context.Background(), Request{InputPath: input, Kind: KindVideo, Quality: 50})
	if !errors.Is(err, ErrBackendExecution) {
		t.Fatalf("expected ErrBackendExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "encode failed") {
		t.Errorf("ffmpeg stderr should surface in the error, got %q", err.Error())
	}
}

func TestVideoCompressProbeFailure(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeStubTool(t, dir, "ffprobe", `echo "no such stream" >&2
exit 1
`)

	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("video data"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewVideoCompressor(testLogger(), "ffmpeg", ffprobe, "")
	_, err := c.Compress(context.Background(), Request{InputPath: input, Kind: KindVideo, Quality: 50})
	if !errors.Is(err, ErrBackendExecution) {
		t.Fatalf("expected ErrBackendExecution, got %v", err)
	}
}

func TestVideoCompressInputNotFound(t *testing.T) {
	c := NewVideoCompressor(testLogger(), "", "", "")
	_, err := c.Compress(context.Background(), Request{
		InputPath: filepath.Join(t.TempDir(), "missing.mp4"),
		Kind:      KindVideo,
	})
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got %v", err)
	}
}
