package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dnm-router/internal/extract"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/pipeline"
	"github.com/sells-group/dnm-router/internal/review"
)

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		SessionID: "sess-1",
		Statements: []*model.Statement{
			{
				ID:               "stmt-0001",
				PageRange:        "1",
				CompanyName:      "Beta Freight",
				NormalizedName:   "beta freight",
				ExtractionMethod: model.MethodLine,
				Location:         model.LocationNational,
				Candidates:       []model.Candidate{{RosterName: "Beta Foods", Score: 54.5}},
				Destination:      model.DestinationDNM,
				Equivalences: []model.Equivalence{
					{RosterName: "Beta Foods", Score: 54.5, Status: model.EquivalenceConfirmed},
				},
			},
			{
				ID:               "stmt-0002",
				PageRange:        "2-3",
				CompanyName:      "Zeta Logistics",
				NormalizedName:   "zeta logistics",
				ExtractionMethod: model.MethodFallback,
				FallbackReason:   "no pattern matched",
				Location:         model.LocationForeign,
				Destination:      model.DestinationForeign,
			},
		},
		Log: []model.ExtractionLogEntry{
			{PageIndex: 0, Method: model.MethodLine, Match: true, Extracted: "Beta Freight", FirstLine: "Beta Freight"},
		},
		Summary: pipeline.Summary{
			Statements: 2,
			Destinations: map[model.Destination]int{
				model.DestinationDNM:     1,
				model.DestinationForeign: 1,
			},
			Review:     review.Progress{Total: 1, Answered: 1},
			Extraction: extract.LogSummary{Total: 1},
		},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "sess-1", got["session_id"])
	assert.Len(t, got["statements"], 2)
	assert.Contains(t, buf.String(), `"company_equivalences"`)
	assert.Contains(t, buf.String(), `"destination": "DNM"`)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, statementColumns, records[0])
	assert.Equal(t, "Beta Foods (54.5)", records[1][10])
	assert.Equal(t, "DNM", records[1][11])
	assert.Equal(t, "2-3", records[2][1])
	assert.Equal(t, "no pattern matched", records[2][5])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	require.NoError(t, WriteXLSX(path, sampleResult()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)

	st := f.Sheet["Statements"]
	require.NotNil(t, st)
	require.Len(t, st.Rows, 3)
	assert.Equal(t, "Beta Freight", st.Rows[1].Cells[2].String())

	eq := f.Sheet["Equivalences"]
	require.NotNil(t, eq)
	require.Len(t, eq.Rows, 2)
	assert.Equal(t, "confirmed", eq.Rows[1].Cells[4].String())

	sum := f.Sheet["Summary"]
	require.NotNil(t, sum)
	assert.Equal(t, "Session", sum.Rows[1].Cells[0].String())
	assert.Equal(t, "sess-1", sum.Rows[1].Cells[1].String())
	assert.Equal(t, "Destination DNM", sum.Rows[3].Cells[0].String())
}
