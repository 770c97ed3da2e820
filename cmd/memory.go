package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resolve"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the decision memory",
	Long:  "Commands for looking up, deleting, exporting and importing remembered reviewer decisions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("memory")
	},
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(memory.Store) error) error {
	st, err := initStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

// nameKey normalizes a command-line name into a memory key.
func nameKey(name string) (string, error) {
	key := resolve.NormalizeName(name)
	if key == "" {
		return "", eris.Errorf("name %q normalizes to nothing", name)
	}
	return key, nil
}

// -- memory lookup --

var memoryLookupCmd = &cobra.Command{
	Use:   "lookup <extracted-name> [roster-name]",
	Short: "Show remembered decisions for an extracted name",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ek, err := nameKey(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(st memory.Store) error {
			var ds []model.Decision
			if len(args) == 2 {
				rk, err := nameKey(args[1])
				if err != nil {
					return err
				}
				d, err := st.Lookup(cmd.Context(), ek, rk)
				if err != nil {
					return eris.Wrap(err, "memory lookup")
				}
				if d != nil {
					ds = append(ds, *d)
				}
			} else {
				ds, err = st.LookupAll(cmd.Context(), ek)
				if err != nil {
					return eris.Wrap(err, "memory lookup")
				}
			}

			if len(ds) == 0 {
				fmt.Fprintln(os.Stderr, "No decisions found.")
				return nil
			}
			printDecisions(cmd.OutOrStdout(), ds)
			return nil
		})
	},
}

func printDecisions(out io.Writer, ds []model.Decision) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXTRACTED\tROSTER\tDECISION\tSCORE\tUPDATED\tSESSION")
	for _, d := range ds {
		decision := "rejected"
		if d.Confirmed {
			decision = "confirmed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\t%s\n",
			d.ExtractedKey,
			d.RosterKey,
			decision,
			d.Score,
			d.UpdatedAt.Format(time.RFC3339),
			d.Provenance.SessionID,
		)
	}
	_ = w.Flush()
}

// -- memory delete --

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <extracted-name>",
	Short: "Forget every decision for an extracted name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := nameKey(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(st memory.Store) error {
			n, err := st.Delete(cmd.Context(), key)
			if err != nil {
				return eris.Wrap(err, "memory delete")
			}
			zap.L().Info("decisions deleted", zap.String("extracted_name_key", key), zap.Int("deleted", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d decision(s) for %q.\n", n, key)
			return nil
		})
	},
}

// -- memory stats --

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the decision memory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(st memory.Store) error {
			s, err := st.Stats(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "memory stats")
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Unique names:\t%d\n", s.UniqueNames)
			fmt.Fprintf(w, "Decisions:\t%d\n", s.TotalDecisions)
			fmt.Fprintf(w, "Confirmed:\t%d\n", s.ConfirmedCount)
			fmt.Fprintf(w, "Rejected:\t%d\n", s.RejectedCount)
			fmt.Fprintf(w, "Average score:\t%.1f\n", s.AvgScore)
			return w.Flush()
		})
	},
}

// -- memory export --

var memoryExportOut string

var memoryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every decision to a JSON or YAML snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(st memory.Store) error {
			snap, err := st.Export(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "memory export")
			}

			w := cmd.OutOrStdout()
			if memoryExportOut != "" {
				f, err := os.Create(memoryExportOut)
				if err != nil {
					return eris.Wrap(err, "create snapshot")
				}
				defer f.Close() //nolint:errcheck
				w = f
			}
			if err := memory.WriteSnapshot(w, snap, memory.FormatFromPath(memoryExportOut)); err != nil {
				return err
			}
			zap.L().Info("memory exported", zap.Int("decisions", len(snap.Decisions)), zap.String("out", memoryExportOut))
			return nil
		})
	},
}

// -- memory import --

var memoryImportIn string

var memoryImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Merge a snapshot into the decision memory; imported decisions overwrite stored ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := os.Open(memoryImportIn)
		if err != nil {
			return eris.Wrap(err, "open snapshot")
		}
		defer f.Close() //nolint:errcheck

		snap, err := memory.ReadSnapshot(f, memory.FormatFromPath(memoryImportIn))
		if err != nil {
			return err
		}
		return withStore(cmd, func(st memory.Store) error {
			n, err := st.Import(cmd.Context(), snap)
			if err != nil {
				return eris.Wrap(err, "memory import")
			}
			zap.L().Info("memory imported", zap.Int("applied", n), zap.Int("received", len(snap.Decisions)))
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d decision(s).\n", n, len(snap.Decisions))
			return nil
		})
	},
}

func init() {
	memoryExportCmd.Flags().StringVarP(&memoryExportOut, "out", "o", "", "snapshot path; .yaml/.yml selects YAML (default JSON to stdout)")
	memoryImportCmd.Flags().StringVar(&memoryImportIn, "in", "", "snapshot path (required)")
	_ = memoryImportCmd.MarkFlagRequired("in")

	memoryCmd.AddCommand(memoryLookupCmd, memoryDeleteCmd, memoryStatsCmd, memoryExportCmd, memoryImportCmd)
	rootCmd.AddCommand(memoryCmd)
}
