package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"adversary/internal/report"
	advapi "adversary/pkg/adversary"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "analyze":
		return runAnalyze(ctx, args[1:])
	case "self-attack":
		return runSelfAttack(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "vulns":
		return runVulns(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "targets":
		return runTargets(ctx, args[1:])
	case "operators":
		return runOperators(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	opts := bindCommonFlags(fs)
	bindEngineFlags(fs, opts)
	targets := fs.String("targets", "", "comma-separated demo target names (default: all)")
	jsonOut := fs.Bool("json", false, "emit run summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := opts.client(fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if stop, err := opts.serveMetrics(client); err != nil {
		return err
	} else if stop != nil {
		defer stop()
	}

	summary, err := client.Analyze(ctx, advapi.AnalyzeRequest{Targets: splitList(*targets)})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(summary)
	}
	for _, r := range summary.Runs {
		fmt.Fprintf(stdout, "run_id=%s target=%s status=%s vulnerabilities=%d duration=%s\n",
			r.RunID, r.Target, r.Status, len(r.Vulnerabilities), r.Duration.Round(time.Millisecond))
	}
	report.RenderSummary(stdout, summary.Summary)
	if summary.ReportPath != "" {
		fmt.Fprintf(stdout, "report=%s\n", summary.ReportPath)
	}
	return nil
}

func runSelfAttack(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("self-attack", flag.ContinueOnError)
	opts := bindCommonFlags(fs)
	bindEngineFlags(fs, opts)
	jsonOut := fs.Bool("json", false, "emit the self-attack run as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := opts.client(fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if stop, err := opts.serveMetrics(client); err != nil {
		return err
	} else if stop != nil {
		defer stop()
	}

	run, err := client.SelfAttack(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(run)
	}
	fmt.Fprintf(stdout, "run_id=%s meta_vulnerabilities=%d duration=%s\n",
		run.RunID, len(run.Vulnerabilities), run.Duration.Round(time.Millisecond))
	if len(run.Vulnerabilities) > 0 {
		report.RenderVulnerabilities(stdout, run.Vulnerabilities)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	opts := bindCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := opts.client(fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, advapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	if *jsonOut {
		return encodeJSON(entries)
	}
	report.RenderRuns(stdout, entries, time.Now())
	return nil
}

func runVulns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vulns", flag.ContinueOnError)
	opts := bindCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show vulnerabilities of the most recent run")
	minSeverity := fs.Float64("min-severity", 0, "only show findings at or above this severity")
	limit := fs.Int("limit", 0, "max findings to show (0 = all)")
	jsonOut := fs.Bool("json", false, "emit vulnerabilities as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *minSeverity < 0 || *minSeverity > 1 {
		return errors.New("min-severity must be within [0,1]")
	}

	client, err := opts.client(fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	vulns, err := client.Vulnerabilities(ctx, advapi.VulnerabilitiesRequest{
		RunID:       *runID,
		Latest:      *latest,
		MinSeverity: *minSeverity,
		Limit:       *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(vulns)
	}
	if len(vulns) == 0 {
		fmt.Fprintln(stdout, "no vulnerabilities found")
		return nil
	}
	report.RenderVulnerabilities(stdout, vulns)
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	opts := bindCommonFlags(fs)
	out := fs.String("out", "", "directory to write report.json into (default: print summary only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := opts.client(fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	rep, err := client.Report(ctx)
	if err != nil {
		return err
	}
	report.RenderSummary(stdout, rep.Summary)
	if *out != "" {
		path, err := report.WriteReport(*out, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "report=%s\n", path)
	}
	return nil
}

func runTargets(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("targets", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit targets as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	items := advapi.Targets()
	if *jsonOut {
		return encodeJSON(items)
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "name=%s kind=%s params=%s description=%q\n",
			item.Name, item.Kind, strings.Join(item.Params, ","), item.Description)
	}
	return nil
}

func runOperators(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("operators", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit operator names as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := advapi.Operators()
	if *jsonOut {
		return encodeJSON(names)
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: adversaryctl <analyze|self-attack|runs|vulns|report|targets|operators> [flags]", msg)
}
