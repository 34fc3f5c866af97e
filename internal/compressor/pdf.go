package compressor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PDFCompressor compresses PDF files by invoking Ghostscript.
type PDFCompressor struct {
	logger        *logrus.Logger
	ghostscript   string
	compatibility string
}

// NewPDFCompressor returns a Ghostscript-backed PDF compressor.
// gsPath may be empty, in which case "gs" is resolved from PATH.
func NewPDFCompressor(logger *logrus.Logger, gsPath string) *PDFCompressor {
	if gsPath == "" {
		gsPath = "gs"
	}
	return &PDFCompressor{
		logger:        logger,
		ghostscript:   gsPath,
		compatibility: "1.4",
	}
}

// Kind returns KindPDF.
func (c *PDFCompressor) Kind() MediaKind { return KindPDF }

// Supports reports whether ext is a PDF extension.
func (c *PDFCompressor) Supports(ext string) bool {
	return strings.ToLower(ext) == ".pdf"
}

// pdfSettingForQuality maps the 0-100 quality knob onto the Ghostscript
// PDFSETTINGS preset ladder. Higher quality selects a higher-fidelity preset.
func pdfSettingForQuality(quality int) string {
	switch {
	case quality >= 80:
		return "/default"
	case quality >= 60:
		return "/prepress"
	case quality >= 40:
		return "/printer"
	case quality >= 20:
		return "/ebook"
	default:
		return "/screen"
	}
}

// Compress runs a single Ghostscript pass over the input PDF.
func (c *PDFCompressor) Compress(ctx context.Context, req Request) (Result, error) {
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

	setting := pdfSettingForQuality(req.Quality)
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=" + c.compatibility,
		"-dPDFSETTINGS=" + setting,
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + outPath,
		req.InputPath,
	}

	c.logger.WithFields(logrus.Fields{
		"file":    req.InputPath,
		"setting": setting,
	}).Debug("invoking ghostscript")

	cmd := exec.CommandContext(ctx, c.ghostscript, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return res, fmt.Errorf("%w: ghostscript: %s", ErrBackendExecution, msg)
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		return res, fmt.Errorf("%w: ghostscript produced no output: %v", ErrBackendExecution, err)
	}
	res.CompressedSize = outInfo.Size()
	res.Action = "compressed"
	res.Message = fmt.Sprintf("PDF compressed with PDFSETTINGS=%s", setting)
	finishResult(&res)
	return res, nil
}
