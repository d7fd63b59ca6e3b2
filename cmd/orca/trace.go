package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/orca/internal/state"
	"github.com/ShayCichocki/orca/internal/tui"
	"github.com/ShayCichocki/orca/pkg/models"
)

var (
	traceFormat     string
	traceHideEvents bool
	traceLimit      int
	traceOlderThan  time.Duration
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect stored execution traces",
}

var traceShowCmd = &cobra.Command{
	Use:   "show <trace-or-result-id>",
	Short: "Show one trace",
	Long: `Show a stored trace as a span tree, JSON or YAML.

The ID may be a trace ID or the ID of a stored result, in which case the
result's trace is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: showTrace,
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent traces",
	Args:  cobra.NoArgs,
	RunE:  listTraces,
}

var tracePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete traces and results older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  purgeTraces,
}

func init() {
	traceShowCmd.Flags().StringVarP(&traceFormat, "format", "f", "tree", "Output format: tree, json or yaml")
	traceShowCmd.Flags().BoolVar(&traceHideEvents, "no-events", false, "Hide span events in tree output")
	traceListCmd.Flags().IntVarP(&traceLimit, "limit", "n", 20, "Maximum number of traces")
	tracePurgeCmd.Flags().DurationVar(&traceOlderThan, "older-than", 30*24*time.Hour, "Age cutoff")

	traceCmd.AddCommand(traceShowCmd, traceListCmd, tracePurgeCmd)
}

func openStore() (*state.DB, error) {
	db, err := state.OpenAndMigrate(cfg.Trace.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	return db, nil
}

func showTrace(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	id := args[0]
	tr, err := db.Load(ctx, id)
	if err != nil {
		return err
	}
	if tr == nil {
		run, err := db.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if run != nil && run.TraceID != "" {
			tr, err = db.Load(ctx, run.TraceID)
			if err != nil {
				return err
			}
		}
	}
	if tr == nil {
		return fmt.Errorf("trace %s not found", id)
	}

	out, err := formatTrace(tr, traceFormat, tui.TreeOptions{HideEvents: traceHideEvents})
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// formatTrace renders tr in one of the supported output formats.
func formatTrace(tr *models.ExecutionTrace, format string, opts tui.TreeOptions) (string, error) {
	switch format {
	case "tree", "":
		return tui.RenderTrace(tr, opts), nil
	case "json":
		data, err := json.MarshalIndent(tr, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case "yaml":
		// Round-trip through JSON so YAML keys match the JSON field names.
		data, err := json.Marshal(tr)
		if err != nil {
			return "", err
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown format %q (want tree, json or yaml)", format)
	}
}

func listTraces(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	traces, err := db.ListTraces(cmd.Context(), traceLimit)
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Println("No traces recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, color.New(color.Bold).Sprint("TRACE\tTASK\tSTARTED\tDURATION\tSPANS"))
	for _, t := range traces {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			t.ID,
			t.TaskID,
			t.StartedAt.Local().Format("2006-01-02 15:04:05"),
			time.Duration(t.DurationMs)*time.Millisecond,
			t.SpanCount)
	}
	return w.Flush()
}

func purgeTraces(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PurgeOlderThan(traceOlderThan)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("purged %d traces older than %s", n, traceOlderThan), color.FgGreen)
	return nil
}
