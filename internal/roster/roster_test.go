package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadXLSX_SkipRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Company", "Notes"},
			{"Acme Corp", "x"},
			{"Beta Foods", ""},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme Corp", rows[0][0])
	assert.Equal(t, "Beta Foods", rows[1][0])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_BadFile(t *testing.T) {
	_, err := ReadXLSX(writeFile(t, "bad.xlsx", "not a zip"), XLSXOptions{})
	assert.Error(t, err)
}

func TestLoad_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"DNM": {
			{"ID", "Company"},
			{"1", "Acme Corp"},
			{"2", "  "},
			{"3", "Beta Foods, Inc."},
			{"4"},
		},
	})

	names, err := Load(context.Background(), path, Options{Sheet: "DNM", Column: 1, SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "Beta Foods, Inc."}, names)
}

func TestLoad_CSV(t *testing.T) {
	path := writeFile(t, "roster.csv", "company\n\"Acme, Corp\"\n\nBeta Foods\n")

	names, err := Load(context.Background(), path, Options{SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme, Corp", "Beta Foods"}, names)
}

func TestLoad_Text(t *testing.T) {
	path := writeFile(t, "roster.txt", "Acme Corp\r\n\n  Beta Foods  \n")

	names, err := Load(context.Background(), path, Options{SkipRows: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "Beta Foods"}, names)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), Options{})
	assert.Error(t, err)
}

func TestLoad_CSVCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, writeFile(t, "roster.csv", "a\nb\n"), Options{})
	assert.Error(t, err)
}
