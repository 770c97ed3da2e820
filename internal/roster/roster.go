// Package roster loads the do-not-mail roster from a workbook, CSV or text file.
package roster

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options selects where names live in a tabular roster.
type Options struct {
	Sheet    string // xlsx sheet name; first sheet when empty
	Column   int    // zero-based column holding the name
	SkipRows int    // header rows to skip (xlsx and csv)
}

// Load reads roster names from path, in file order. Blank names are dropped.
// The format is chosen by extension: .xlsx, .csv, anything else is one name
// per line.
func Load(ctx context.Context, path string, opts Options) ([]string, error) {
	var (
		names []string
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		names, err = loadXLSX(path, opts)
	case ".csv":
		names, err = loadCSV(ctx, path, opts)
	default:
		names, err = loadText(path)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("roster: loaded",
		zap.String("path", path),
		zap.Int("names", len(names)),
	)
	return names, nil
}

func loadXLSX(path string, opts Options) ([]string, error) {
	rows, err := ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet, SkipRows: opts.SkipRows})
	if err != nil {
		return nil, eris.Wrapf(err, "roster: read %s", path)
	}
	return column(rows, opts.Column), nil
}

func loadCSV(ctx context.Context, path string, opts Options) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "roster: context cancelled")
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "roster: read %s", path)
		}
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rec)
	}
	return column(rows, opts.Column), nil
}

func loadText(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "roster: read %s", path)
	}
	return names, nil
}

func column(rows [][]string, col int) []string {
	var names []string
	for _, row := range rows {
		if col < 0 || col >= len(row) {
			continue
		}
		if name := strings.TrimSpace(row[col]); name != "" {
			names = append(names, name)
		}
	}
	return names
}
