package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPages(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"trailing form feed", "one\ftwo\f", []string{"one", "two"}},
		{"no trailing", "one\ftwo", []string{"one", "two"}},
		{"blank middle page kept", "one\f\ftwo\f", []string{"one", "", "two"}},
		{"crlf", "a\r\nb\f", []string{"a\nb"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitPages(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_ByExtension(t *testing.T) {
	assert.IsType(t, TextFile{}, New("pages.TXT", "", 0))
	assert.IsType(t, &PdfToText{}, New("statements.pdf", "", 0))
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("", 0)
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext", time.Second)
	assert.Equal(t, "/custom/pdftotext", p.binPath)
	assert.Equal(t, time.Second, p.timeout)
}

func TestTextFile_Pages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.txt")
	require.NoError(t, os.WriteFile(path, []byte("Acme Corp\nPage 1 of 1\fBeta Foods\f"), 0o600))

	pages, err := TextFile{}.Pages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp\nPage 1 of 1", "Beta Foods"}, pages)

	_, err = TextFile{}.Pages(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestPdfToText_Pages(t *testing.T) {
	bin := fakeBinary(t, `printf 'Acme Corp\nTotal Due $1.00\fBeta Foods\f'`)

	pages, err := NewPdfToText(bin, time.Minute).Pages(context.Background(), "in.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp\nTotal Due $1.00", "Beta Foods"}, pages)
}

func TestPdfToText_Failure(t *testing.T) {
	bin := fakeBinary(t, `echo "Syntax Error: Couldn't find trailer dictionary" >&2; exit 1`)

	_, err := NewPdfToText(bin, 0).Pages(context.Background(), "broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailer dictionary")
}
