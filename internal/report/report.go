// Package report writes routed statements for downstream mailing.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/pipeline"
)

// statementColumns defines the ordered statement sheet and CSV columns.
var statementColumns = []string{
	"Statement ID",
	"Pages",
	"Company Name",
	"Normalized Name",
	"Extraction Method",
	"Fallback Reason",
	"Alternate Name",
	"Location",
	"Has Email",
	"Exact Match",
	"Candidates",
	"Destination",
	"Requires Review",
}

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}

// WriteCSV writes one row per statement.
func WriteCSV(w io.Writer, res *pipeline.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statementColumns); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for _, st := range res.Statements {
		if err := cw.Write(statementRow(st)); err != nil {
			return eris.Wrap(err, "report: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "report: flush csv")
	}
	return nil
}

// WriteXLSX saves a workbook with statement, equivalence, extraction log and
// summary sheets.
func WriteXLSX(path string, res *pipeline.Result) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Statements")
	if err != nil {
		return eris.Wrap(err, "report: add statements sheet")
	}
	addRow(sheet, statementColumns...)
	for _, st := range res.Statements {
		addRow(sheet, statementRow(st)...)
	}

	sheet, err = f.AddSheet("Equivalences")
	if err != nil {
		return eris.Wrap(err, "report: add equivalences sheet")
	}
	addRow(sheet, "Statement ID", "Company Name", "Roster Name", "Score", "Status", "From Memory")
	for _, st := range res.Statements {
		for _, eq := range st.Equivalences {
			row := sheet.AddRow()
			row.AddCell().SetString(st.ID)
			row.AddCell().SetString(st.CompanyName)
			row.AddCell().SetString(eq.RosterName)
			row.AddCell().SetFloat(eq.Score)
			row.AddCell().SetString(string(eq.Status))
			row.AddCell().SetBool(eq.FromMemory)
		}
	}

	sheet, err = f.AddSheet("Extraction Log")
	if err != nil {
		return eris.Wrap(err, "report: add log sheet")
	}
	addRow(sheet, "Page", "Method", "Fallback", "Match", "Extracted", "First Line")
	for _, e := range res.Log {
		row := sheet.AddRow()
		row.AddCell().SetInt(e.PageIndex + 1)
		row.AddCell().SetString(string(e.Method))
		row.AddCell().SetBool(e.FallbackUsed)
		row.AddCell().SetBool(e.Match)
		row.AddCell().SetString(e.Extracted)
		row.AddCell().SetString(e.FirstLine)
	}

	sheet, err = f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addRow(sheet, "Metric", "Value")
	for _, kv := range summaryRows(res) {
		addRow(sheet, kv[0], kv[1])
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "report: create output dir")
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func statementRow(st *model.Statement) []string {
	cands := make([]string, len(st.Candidates))
	for i, c := range st.Candidates {
		cands[i] = fmt.Sprintf("%s (%.1f)", c.RosterName, c.Score)
	}
	return []string{
		st.ID,
		st.PageRange,
		st.CompanyName,
		st.NormalizedName,
		string(st.ExtractionMethod),
		st.FallbackReason,
		st.AlternateCandidateName,
		string(st.Location),
		strconv.FormatBool(st.HasEmail),
		st.ExactMatch,
		strings.Join(cands, "; "),
		string(st.Destination),
		strconv.FormatBool(st.RequiresReview),
	}
}

func summaryRows(res *pipeline.Result) [][2]string {
	s := res.Summary
	rows := [][2]string{
		{"Session", res.SessionID},
		{"Statements", strconv.Itoa(s.Statements)},
	}

	dests := make([]string, 0, len(s.Destinations))
	for d := range s.Destinations {
		dests = append(dests, string(d))
	}
	sort.Strings(dests)
	for _, d := range dests {
		rows = append(rows, [2]string{"Destination " + d, strconv.Itoa(s.Destinations[model.Destination(d)])})
	}

	rows = append(rows,
		[2]string{"Questions", strconv.Itoa(s.Review.Total)},
		[2]string{"Answered", strconv.Itoa(s.Review.Answered)},
		[2]string{"Skipped", strconv.Itoa(s.Review.Skipped)},
		[2]string{"From Memory", strconv.Itoa(s.Review.FromMemory)},
		[2]string{"Auto DNM", strconv.Itoa(s.Review.AutoDNM)},
		[2]string{"Extraction Fallbacks", strconv.Itoa(s.Extraction.Fallbacks)},
		[2]string{"Extraction Disagreements", strconv.Itoa(s.Extraction.Disagreements)},
	)
	return rows
}
