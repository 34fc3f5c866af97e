package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// softwareMark is written into the EXIF Software tag of compressed JPEGs so
// repeated runs can skip files that have already been through the tool.
const softwareMark = "MediaShrink Compressed"

// ImageCompressor re-encodes images in process. JPEG and PNG are the primary
// formats; GIF, BMP and TIFF re-encode in place in their own format.
type ImageCompressor struct {
	logger       *logrus.Logger
	keepMetadata bool
}

// NewImageCompressor returns an in-process image compressor. When keepMetadata
// is true, EXIF data is carried over to the output with exiftool.
func NewImageCompressor(logger *logrus.Logger, keepMetadata bool) *ImageCompressor {
	return &ImageCompressor{logger: logger, keepMetadata: keepMetadata}
}

// Kind returns KindImage.
func (c *ImageCompressor) Kind() MediaKind { return KindImage }

// Supports reports whether ext is a supported image extension.
func (c *ImageCompressor) Supports(ext string) bool {
	return containsExt(imageExtensions, strings.ToLower(ext))
}

// Compress re-encodes a single image. Opaque PNGs are converted to JPEG and
// the output extension switches to .jpg; PNGs with transparency stay PNG.
// When req.TargetReduction is set, the JPEG quality is binary-searched until
// the size reduction is close to the target or the search range collapses.
func (c *ImageCompressor) Compress(ctx context.Context, req Request) (Result, error) {
	res := Result{
		InputPath: req.InputPath,
		StartedAt: time.Now(),
	}

	origSize, err := validateInput(req, c.Supports)
	if err != nil {
		return res, err
	}
	res.OriginalSize = origSize

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	default:
	}

	ext := strings.ToLower(filepath.Ext(req.InputPath))
	if ext == ".jpg" || ext == ".jpeg" {
		if hasSoftwareMark(req.InputPath) {
			res.Action = "skipped"
			res.Message = "already compressed, EXIF Software mark present"
			res.OutputPath = req.InputPath
			res.CompressedSize = origSize
			finishResult(&res)
			return res, nil
		}
	}

	img, err := imaging.Open(req.InputPath)
	if err != nil {
		return res, fmt.Errorf("%w: open image: %v", ErrBackendExecution, err)
	}

	outPath := req.OutputPath
	if outPath == "" {
		outPath = DefaultOutputPath(req.InputPath)
	}

	format := imaging.JPEG
	switch ext {
	case ".jpg", ".jpeg":
	case ".png":
		if hasTransparency(img) {
			format = imaging.PNG
		} else {
			// Opaque PNG re-encodes better as JPEG.
			outPath = strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".jpg"
			c.logger.WithField("file", req.InputPath).Debug("opaque PNG, converting to JPEG")
		}
	default:
		// GIF, BMP and TIFF re-encode in their own format so the output
		// bytes keep matching the extension.
		format, err = imaging.FormatFromExtension(ext)
		if err != nil {
			return res, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
	}
	res.OutputPath = outPath

	encoded, err := c.encode(img, format, req, origSize)
	if err != nil {
		return res, fmt.Errorf("%w: encode: %v", ErrBackendExecution, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return res, fmt.Errorf("%w: create output dir: %v", ErrBackendExecution, err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0644); err != nil {
		return res, fmt.Errorf("%w: write output: %v", ErrBackendExecution, err)
	}

	if c.keepMetadata && format == imaging.JPEG && (ext == ".jpg" || ext == ".jpeg") {
		if err := copyExifWithMark(req.InputPath, tmpPath); err != nil {
			res.Message = fmt.Sprintf("warning: exif not carried over: %v", err)
			c.logger.WithField("file", req.InputPath).Warnf("exif carry-over failed: %v", err)
		}
	}

	compInfo, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return res, fmt.Errorf("%w: stat output: %v", ErrBackendExecution, err)
	}
	res.CompressedSize = compInfo.Size()

	// Re-encoding can grow small or already-optimized files. Keep the
	// original in that case rather than shipping a bigger "compressed" file.
	if res.CompressedSize >= res.OriginalSize && req.InputPath != outPath {
		_ = os.Remove(tmpPath)
		if err := copyFile(req.InputPath, outPath); err != nil {
			return res, fmt.Errorf("%w: keep original: %v", ErrBackendExecution, err)
		}
		res.CompressedSize = res.OriginalSize
		res.Action = "original"
		res.Message = "re-encoded file not smaller, kept original"
		finishResult(&res)
		return res, nil
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return res, fmt.Errorf("%w: rename output: %v", ErrBackendExecution, err)
	}
	res.Action = "compressed"
	if res.Message == "" {
		res.Message = "image compressed"
	}
	finishResult(&res)
	return res, nil
}

// encode serializes the image, binary-searching the JPEG quality when a
// target reduction was requested.
func (c *ImageCompressor) encode(img image.Image, format imaging.Format, req Request, origSize int64) ([]byte, error) {
	quality := clampQuality(req.Quality)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}

	if format != imaging.JPEG || req.TargetReduction <= 0 {
		return buf.Bytes(), nil
	}

	reduction := func(size int) float64 {
		return float64(origSize-int64(size)) / float64(origSize)
	}
	if reduction(buf.Len()) >= req.TargetReduction {
		return buf.Bytes(), nil
	}

	best := buf.Bytes()
	minQ, maxQ := 5, quality
	for maxQ-minQ > 2 {
		q := (minQ + maxQ) / 2
		var attempt bytes.Buffer
		if err := imaging.Encode(&attempt, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, err
		}
		if reduction(attempt.Len()) < req.TargetReduction {
			maxQ = q
		} else {
			minQ = q
		}
		if attempt.Len() < len(best) {
			best = append(best[:0], attempt.Bytes()...)
		}
	}
	c.logger.Debugf("target reduction search settled at quality %d", minQ)
	return best, nil
}

// hasTransparency reports whether any pixel of the image is not fully opaque.
func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

// hasSoftwareMark checks the EXIF Software tag with goexif.
func hasSoftwareMark(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	if err != nil {
		return false
	}
	return strings.Contains(val, softwareMark)
}

// copyExifWithMark copies EXIF from src to dst and sets the Software mark
// using the exiftool binary.
func copyExifWithMark(src, dst string) error {
	cmdCopy := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst)
	if err := cmdCopy.Run(); err != nil {
		return fmt.Errorf("exiftool copy failed: %v", err)
	}
	cmdSet := exec.Command("exiftool", "-overwrite_original", "-Software="+softwareMark, dst)
	if err := cmdSet.Run(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %v", err)
	}
	return nil
}

// readSoftwareTag reads the Software tag with exiftool, used by batch mode to
// pre-filter already-compressed files.
func readSoftwareTag(path string) (string, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return "", err
	}
	defer et.Close()
	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return "", fmt.Errorf("no metadata for %s", path)
	}
	if files[0].Err != nil {
		return "", files[0].Err
	}
	if sw, ok := files[0].Fields["Software"].(string); ok {
		return sw, nil
	}
	return "", nil
}

// copyFile copies src to dst, fsyncing the destination.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
