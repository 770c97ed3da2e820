package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/pdftext"
	"github.com/sells-group/dnm-router/internal/pipeline"
	"github.com/sells-group/dnm-router/internal/report"
	"github.com/sells-group/dnm-router/internal/resolve"
	"github.com/sells-group/dnm-router/internal/roster"
)

var (
	processRosterPath string
	processOutPath    string
	processFormat     string
)

var processCmd = &cobra.Command{
	Use:   "process <statements.pdf|statements.txt>",
	Short: "Route a statement document, asking about uncertain roster matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("process"); err != nil {
			return err
		}

		format, err := reportFormat(processFormat, processOutPath)
		if err != nil {
			return err
		}

		rosterPath := processRosterPath
		if rosterPath == "" {
			rosterPath = cfg.Roster.Path
		}
		if rosterPath == "" {
			return eris.New("roster path is required (--roster or DNM_ROSTER_PATH)")
		}

		docPath := args[0]
		src := pdftext.New(docPath, cfg.PDF.PdfToTextPath, time.Duration(cfg.PDF.TimeoutSecs)*time.Second)
		pages, err := src.Pages(ctx, docPath)
		if err != nil {
			return eris.Wrap(err, "read statements")
		}

		names, err := roster.Load(ctx, rosterPath, roster.Options{
			Sheet:    cfg.Roster.Sheet,
			Column:   cfg.Roster.Column,
			SkipRows: cfg.Roster.SkipRows,
		})
		if err != nil {
			return eris.Wrap(err, "load roster")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("processing statements",
			zap.String("document", docPath),
			zap.Int("pages", len(pages)),
			zap.Int("roster", len(names)),
		)

		p := newPipeline(st)
		res, err := p.Run(ctx, pages, resolve.NewRoster(names), newPromptAnswerer(cmd.InOrStdin(), cmd.ErrOrStderr()))
		if err != nil {
			return eris.Wrap(err, "process")
		}

		if err := writeReport(cmd, res, format, processOutPath); err != nil {
			return err
		}
		printSummary(cmd, res)
		return nil
	},
}

// reportFormat resolves --format, falling back to the output extension.
func reportFormat(flag, out string) (string, error) {
	f := strings.ToLower(flag)
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
	}
	switch f {
	case "", "json":
		return "json", nil
	case "csv", "xlsx":
		if f == "xlsx" && out == "" {
			return "", eris.New("--out is required for xlsx reports")
		}
		return f, nil
	default:
		return "", eris.Errorf("unsupported report format %q", f)
	}
}

func writeReport(cmd *cobra.Command, res *pipeline.Result, format, out string) error {
	if format == "xlsx" {
		return report.WriteXLSX(out, res)
	}

	w := cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create report")
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	if format == "csv" {
		return report.WriteCSV(w, res)
	}
	return report.WriteJSON(w, res)
}

var destinationOrder = []model.Destination{
	model.DestinationDNM,
	model.DestinationForeign,
	model.DestinationDomesticSingle,
	model.DestinationDomesticMulti,
	model.DestinationRequiresReview,
}

func printSummary(cmd *cobra.Command, res *pipeline.Result) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "\n%d statements routed (%d answered, %d skipped, %d from memory)\n",
		res.Summary.Statements,
		res.Summary.Review.Answered,
		res.Summary.Review.Skipped,
		res.Summary.Review.FromMemory,
	)
	for _, d := range destinationOrder {
		if n := res.Summary.Destinations[d]; n > 0 {
			fmt.Fprintf(w, "  %-16s %d\n", d, n)
		}
	}
}

func init() {
	processCmd.Flags().StringVar(&processRosterPath, "roster", "", "roster workbook, CSV or text file (default from config)")
	processCmd.Flags().StringVarP(&processOutPath, "out", "o", "", "report path (default stdout)")
	processCmd.Flags().StringVar(&processFormat, "format", "", "report format: json, csv or xlsx (default from --out extension)")
	rootCmd.AddCommand(processCmd)
}
