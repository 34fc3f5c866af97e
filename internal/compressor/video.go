package compressor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultBitrate is assumed when ffprobe cannot determine one.
	defaultBitrate = 2_000_000
	// minBitrate is the floor below which video quality degrades too far.
	minBitrate = 500_000
)

// VideoCompressor compresses video files with a two-pass ffmpeg encode at a
// bitrate derived from the source bitrate and the quality knob.
type VideoCompressor struct {
	logger  *logrus.Logger
	ffmpeg  string
	ffprobe string
	preset  string
}

// NewVideoCompressor returns an ffmpeg-backed video compressor. Empty paths
// resolve "ffmpeg" and "ffprobe" from PATH.
func NewVideoCompressor(logger *logrus.Logger, ffmpegPath, ffprobePath, preset string) *VideoCompressor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if preset == "" {
		preset = "medium"
	}
	return &VideoCompressor{
		logger:  logger,
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		preset:  preset,
	}
}

// Kind returns KindVideo.
func (c *VideoCompressor) Kind() MediaKind { return KindVideo }

// Supports reports whether ext is a supported video extension.
func (c *VideoCompressor) Supports(ext string) bool {
	return containsExt(videoExtensions, strings.ToLower(ext))
}

// probeInfo mirrors the subset of ffprobe JSON output we consume.
type probeInfo struct {
	Streams []struct {
		BitRate string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// probeBitrate returns the source video bitrate in bits per second. It reads
// the first video stream's bit_rate, falls back to size*8/duration, and
// finally to defaultBitrate.
func (c *VideoCompressor) probeBitrate(ctx context.Context, input string) (int64, error) {
	cmd := exec.CommandContext(ctx, c.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=bit_rate",
		"-show_entries", "format=duration,size",
		"-of", "json",
		input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return 0, fmt.Errorf("ffprobe: %s", msg)
	}

	var info probeInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return 0, fmt.Errorf("ffprobe output: %w", err)
	}

	if len(info.Streams) > 0 {
		if br, err := strconv.ParseInt(info.Streams[0].BitRate, 10, 64); err == nil && br > 0 {
			return br, nil
		}
	}

	size, sizeErr := strconv.ParseInt(info.Format.Size, 10, 64)
	duration, durErr := strconv.ParseFloat(info.Format.Duration, 64)
	if sizeErr == nil && durErr == nil && duration > 0 {
		return int64(float64(size*8) / duration), nil
	}

	c.logger.WithField("file", input).Warn("could not determine video bitrate, using default")
	return defaultBitrate, nil
}

// targetBitrate derives the encode bitrate from the source bitrate and the
// quality knob, honoring the minimum bitrate floor.
func targetBitrate(original int64, quality int) int64 {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	target := original * int64(quality) / 100
	if target < minBitrate {
		return minBitrate
	}
	return target
}

// Compress probes the source bitrate and runs a two-pass libx264 encode.
func (c *VideoCompressor) Compress(ctx context.Context, req Request) (Result, error) {
	res := Result{
		InputPath: req.InputPath,
		StartedAt: time.Now(),
	}

	origSize, err := validateInput(req, c.Supports)
	if err != nil {
		return res, err
	}
	res.OriginalSize = origSize

	outPath := req.OutputPath
	if outPath == "" {
		outPath = DefaultOutputPath(req.InputPath)
	}
	res.OutputPath = outPath

	origBitrate, err := c.probeBitrate(ctx, req.InputPath)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrBackendExecution, err)
	}
	target := targetBitrate(origBitrate, req.Quality)
	if target == minBitrate && target < origBitrate {
		c.logger.WithField("file", req.InputPath).
			Warnf("target bitrate clamped to minimum %d kbps", minBitrate/1000)
	}

	c.logger.WithFields(logrus.Fields{
		"file":     req.InputPath,
		"original": origBitrate / 1000,
		"target":   target / 1000,
	}).Info("starting two-pass video encode")

	// Two-pass log files land next to the output so parallel runs in
	// different directories do not clash.
	passLog := filepath.Join(filepath.Dir(outPath), "ffmpeg2pass")
	defer removePassLogs(passLog)

	bitrate := strconv.FormatInt(target, 10)
	firstPass := []string{
		"-y",
		"-i", req.InputPath,
		"-c:v", "libx264",
		"-preset", c.preset,
		"-b:v", bitrate,
		"-pass", "1",
		"-passlogfile", passLog,
		"-an",
		"-f", "null",
		os.DevNull,
	}
	secondPass := []string{
		"-y",
		"-i", req.InputPath,
		"-c:v", "libx264",
		"-preset", c.preset,
		"-b:v", bitrate,
		"-pass", "2",
		"-passlogfile", passLog,
		"-c:a", "aac",
		"-b:a", "128k",
		outPath,
	}

	if err := c.runFFmpeg(ctx, firstPass); err != nil {
		return res, fmt.Errorf("%w: first pass: %v", ErrBackendExecution, err)
	}
	if err := c.runFFmpeg(ctx, secondPass); err != nil {
		return res, fmt.Errorf("%w: second pass: %v", ErrBackendExecution, err)
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		return res, fmt.Errorf("%w: ffmpeg produced no output: %v", ErrBackendExecution, err)
	}
	res.CompressedSize = outInfo.Size()
	res.Action = "compressed"
	res.Message = fmt.Sprintf("video encoded at %d kbps", target/1000)
	finishResult(&res)
	return res, nil
}

// runFFmpeg executes ffmpeg with the given args, folding stderr into the error.
func (c *VideoCompressor) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		// Keep only the tail, ffmpeg banners are long.
		lines := strings.Split(msg, "\n")
		if len(lines) > 5 {
			lines = lines[len(lines)-5:]
		}
		return fmt.Errorf("%s", strings.Join(lines, "\n"))
	}
	return nil
}

// removePassLogs cleans up the ffmpeg two-pass state files.
func removePassLogs(prefix string) {
	matches, _ := filepath.Glob(prefix + "*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
