package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roysummy-dev/BPRecorder/internal/domain/labtest"
)

// appFS is the filesystem CLI commands read inputs from and write outputs to.
var appFS = afero.NewOsFs()

func loadApp(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), cmd.ErrOrStderr())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func metricArg(arg string) (labtest.MetricDefinition, error) {
	if def, ok := labtest.LookupByKey(labtest.MetricKey(arg)); ok {
		return def, nil
	}
	if def, ok := labtest.LookupByDisplayName(arg); ok {
		return def, nil
	}
	return labtest.MetricDefinition{}, fmt.Errorf("%w: %s", labtest.ErrUnknownMetric, arg)
}

// -- Import --

func importCmd() *cobra.Command {
	var (
		policy string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import records from a JSON export or an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mergePolicy, err := labtest.ParseMergePolicy(policy)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(appFS, args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var plan *labtest.ImportResult
			if strings.EqualFold(filepath.Ext(args[0]), ".xlsx") {
				rows, err := labtest.ReadWorkbook(data)
				if err != nil {
					return err
				}
				plan, err = a.labs.PlanImportFields(ctx, rows)
				if err != nil {
					return err
				}
			} else {
				plan, err = a.labs.PlanImport(ctx, data)
				if err != nil {
					return err
				}
			}

			if dryRun {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			summary, err := a.labs.Apply(ctx, plan, mergePolicy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&policy, "policy", string(labtest.PolicySkip), "duplicate handling: replace, skip or auto")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the import plan without writing")
	return cmd
}

// -- Records --

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and manage stored records",
	}

	var (
		days   int
		scheme string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List records, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			var records []*labtest.Record
			if scheme != "" {
				records = a.labs.RecordsByScheme(scheme)
			} else {
				records = a.labs.RecordsWithin(days)
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				line := r.Date.Format(labtest.DateLayout)
				if ev := r.Event(); ev != "" {
					line += "  " + ev
				}
				if summary := r.KeyMetricsSummary(); summary != "" {
					line += "  " + summary
				}
				fmt.Fprintf(out, "%s  %s\n", r.ID, line)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&days, "days", 0, "only records from the last N days (0 for all)")
	listCmd.Flags().StringVar(&scheme, "scheme", "", "only records of a treatment scheme")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			r, err := a.labs.Get(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if _, err := a.labs.Get(id); err != nil {
				return err
			}
			return a.labs.Delete(cmd.Context(), id)
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

// -- Catalog and trends --

func metricsCmd() *cobra.Command {
	var category, query string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List the metric catalog by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cat *labtest.Category
			if category != "" {
				c := labtest.Category(category)
				if !c.Valid() {
					return fmt.Errorf("invalid category %q", category)
				}
				cat = &c
			}
			out := cmd.OutOrStdout()
			for _, g := range labtest.SearchDefinitions(cat, query) {
				fmt.Fprintf(out, "%s\n", g.DisplayName)
				for _, d := range g.Metrics {
					fmt.Fprintf(out, "  %-10s %-12s %s (%s)\n", d.Key, d.ShortName, d.DisplayName, d.Unit)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive name filter")
	return cmd
}

func historyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history <metric>",
		Short: "Print dated values of one metric, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := metricArg(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			points, err := a.labs.History(def.Key, days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range points {
				fmt.Fprintf(out, "%s  %s %s\n", p.Date.Format(labtest.DateLayout), labtest.FormatValue(p.Value), def.Unit)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "only the last N days (0 for all)")
	return cmd
}

func statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats <metric>",
		Short: "Print count, average, min, max and latest change of a metric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := metricArg(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			stats, err := a.labs.Stats(def.Key, days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "only the last N days (0 for all)")
	return cmd
}

func schemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List the treatment schemes seen in record events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			for _, s := range a.labs.AllSchemes() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

// -- Output files --

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.xlsx|file.json>",
		Short: "Write all records to a workbook or a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			var data []byte
			if strings.EqualFold(filepath.Ext(args[0]), ".json") {
				data, err = labtest.EncodeRecords(a.labs.Records())
			} else {
				data, err = labtest.ExportWorkbook(a.labs.Records())
			}
			if err != nil {
				return err
			}
			if err := afero.WriteFile(appFS, args[0], data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			a.logger.Info().Str("path", args[0]).Int("records", len(a.labs.Records())).Msg("export written")
			return nil
		},
	}
}

func chartCmd() *cobra.Command {
	var (
		days   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "chart <metric>",
		Short: "Render a trend chart of one metric as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := metricArg(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			points, err := a.labs.History(def.Key, days)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := labtest.RenderTrendChart(&buf, def, points); err != nil {
				return err
			}
			if output == "" {
				output = string(def.Key) + ".html"
			}
			return afero.WriteFile(appFS, output, buf.Bytes(), 0o644)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "only the last N days (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <metric>.html)")
	return cmd
}
