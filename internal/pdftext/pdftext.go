// Package pdftext reads per-page text from statement PDFs.
package pdftext

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Extractor returns the text of every page of a document, in page order.
type Extractor interface {
	Pages(ctx context.Context, path string) ([]string, error)
}

// New returns an Extractor for path: plain text files (pages separated by form
// feeds) are read directly, anything else goes through pdftotext.
func New(path, binPath string, timeout time.Duration) Extractor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		return TextFile{}
	default:
		return NewPdfToText(binPath, timeout)
	}
}

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
	timeout time.Duration
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string, timeout time.Duration) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, timeout: timeout}
}

// Pages runs pdftotext -layout on the given PDF and splits stdout on form feeds.
func (p *PdfToText) Pages(ctx context.Context, pdfPath string) ([]string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "pdftext: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	pages := SplitPages(stdout.String())
	zap.L().Debug("pdftext: extracted pages",
		zap.String("path", pdfPath),
		zap.Int("pages", len(pages)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pages, nil
}

// TextFile reads pre-extracted text with pages separated by form feeds.
type TextFile struct{}

// Pages reads the file at path.
func (TextFile) Pages(_ context.Context, path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pdftext: read %s", path)
	}
	return SplitPages(string(b)), nil
}

// SplitPages splits on form feeds. The trailing separator pdftotext writes
// after the last page does not produce an extra page.
func SplitPages(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pages := strings.Split(text, "\f")
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}
