package adversary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"adversary/internal/config"
	"adversary/internal/demo"
	"adversary/internal/evo"
	"adversary/internal/metrics"
	"adversary/internal/model"
	"adversary/internal/payload"
	"adversary/internal/platform"
	"adversary/internal/predict"
	"adversary/internal/probfuzz"
	"adversary/internal/report"
	"adversary/internal/storage"
	"adversary/internal/target"
)

type Options struct {
	// Config supplies engine and storage settings. The zero value selects
	// config.Default().
	Config    *config.Config
	Logger    *slog.Logger
	Predictor predict.Predictor
}

type Client struct {
	cfg     config.Config
	store   storage.Store
	engine  *platform.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type AnalyzeRequest struct {
	// Targets are demo target names. Empty means every demo target.
	Targets []string
	// Jobs are caller-supplied targets analyzed after Targets.
	Jobs []platform.Job
}

type RunSummary struct {
	RunID           string
	Target          string
	Status          model.Status
	Error           string
	Duration        time.Duration
	Vulnerabilities []model.Vulnerability
	ArtifactsDir    string
}

type AnalyzeSummary struct {
	Runs       []RunSummary
	Summary    report.Summary
	ReportPath string
}

type RunsRequest struct {
	Limit int
}

type VulnerabilitiesRequest struct {
	RunID       string
	Latest      bool
	MinSeverity float64
	Limit       int
}

type TargetItem struct {
	Name        string
	Params      []string
	Kind        target.Kind
	Description string
}

func New(opts Options) (*Client, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	selector, err := evo.SelectorFromName(cfg.Selection)
	if err != nil {
		return nil, err
	}
	weights, err := sweepWeights(cfg.SweepKinds)
	if err != nil {
		return nil, err
	}
	storeKind := cfg.Store
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	store, err := storage.NewStore(storeKind, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	engine, err := platform.NewEngine(platform.Config{
		Store: store,
		Fuzzer: evo.Config{
			PopulationSize: cfg.PopulationSize,
			MutationRate:   cfg.MutationRate,
			MaxEvaluations: cfg.MaxEvaluations,
			Seed:           cfg.Seed,
			Timeout:        cfg.Timeout,
			Selector:       selector,
			Logger:         logger,
		},
		Generations:          cfg.Generations,
		ConcolicSeedAttempts: cfg.ConcolicSeedAttempts,
		FuzzIterations:       cfg.FuzzIterations,
		SweepWeights:         weights,
		Predictor:            opts.Predictor,
		Metrics:              m,
		Logger:               logger,
	})
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	return &Client{cfg: cfg, store: store, engine: engine, metrics: m, logger: logger}, nil
}

// sweepWeights weights the named payload kinds equally. No names keeps the
// engine default.
func sweepWeights(kinds []string) ([]probfuzz.Weight, error) {
	weights := make([]probfuzz.Weight, 0, len(kinds))
	for _, name := range kinds {
		kind, err := payload.ParseKind(name)
		if err != nil {
			return nil, err
		}
		weights = append(weights, probfuzz.Weight{Kind: kind, Weight: 1})
	}
	return weights, nil
}

// Operators lists the registered mutation operator names.
func Operators() []string {
	return evo.ListOperators()
}

func (c *Client) Init(ctx context.Context) error {
	return c.engine.Init(ctx)
}

func (c *Client) Close() error {
	if c.engine.Started() {
		return c.engine.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Analyze runs the engine over the requested targets, writes per-run
// artifacts and an aggregate report under the reports directory.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeSummary, error) {
	jobs, err := resolveJobs(req)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	if err := c.engine.Init(ctx); err != nil {
		return AnalyzeSummary{}, err
	}

	var out AnalyzeSummary
	var results []model.AnalysisResult
	var vulns []model.Vulnerability
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		result, found, err := c.engine.AnalyzeTarget(ctx, job.Target, job.Context)
		if err != nil {
			return out, fmt.Errorf("analyze %s: %w", job.Target.Name, err)
		}
		run, err := c.writeRun(result, found)
		if err != nil {
			return out, err
		}
		out.Runs = append(out.Runs, run)
		results = append(results, result)
		vulns = append(vulns, found...)
	}

	out.Summary = report.Summarize(results, vulns)
	if c.cfg.ReportsDir != "" {
		path, err := report.WriteReport(c.cfg.ReportsDir, report.Build(results, vulns, time.Now()))
		if err != nil {
			return out, err
		}
		out.ReportPath = path
	}
	return out, c.flushMetrics()
}

// SelfAttack runs the engine against its own components.
func (c *Client) SelfAttack(ctx context.Context) (RunSummary, error) {
	if err := c.engine.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	result, vulns, err := c.engine.SelfAttack(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	run, err := c.writeRun(result, vulns)
	if err != nil {
		return run, err
	}
	return run, c.flushMetrics()
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]report.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := report.ListRunIndex(c.cfg.ReportsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// Vulnerabilities returns findings for one run, or for every stored run when
// neither RunID nor Latest is set. Run artifacts back up stores that do not
// outlive the process.
func (c *Client) Vulnerabilities(ctx context.Context, req VulnerabilitiesRequest) ([]model.Vulnerability, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest, not both")
	}
	if err := c.engine.Init(ctx); err != nil {
		return nil, err
	}
	runID := req.RunID
	if req.Latest {
		entries, err := report.ListRunIndex(c.cfg.ReportsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs recorded")
		}
		runID = entries[0].RunID
	}

	var vulns []model.Vulnerability
	if runID == "" {
		all, err := c.store.ListVulnerabilities(ctx)
		if err != nil {
			return nil, err
		}
		vulns = all
	} else {
		stored, ok, err := c.store.GetVulnerabilities(ctx, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			rr, found, err := report.ReadRunReport(c.cfg.ReportsDir, runID)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("run not found: %s", runID)
			}
			stored = rr.Vulnerabilities
		}
		vulns = stored
	}

	filtered := vulns[:0:0]
	for _, v := range vulns {
		if v.Severity() >= req.MinSeverity {
			filtered = append(filtered, v)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Severity() > filtered[j].Severity()
	})
	if req.Limit > 0 && len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered, nil
}

// Report builds the aggregate report from the store.
func (c *Client) Report(ctx context.Context) (report.Report, error) {
	if err := c.engine.Init(ctx); err != nil {
		return report.Report{}, err
	}
	results, err := c.store.ListAnalyses(ctx)
	if err != nil {
		return report.Report{}, err
	}
	vulns, err := c.store.ListVulnerabilities(ctx)
	if err != nil {
		return report.Report{}, err
	}
	return report.Build(results, vulns, time.Now()), nil
}

func Targets() []TargetItem {
	entries := demo.All()
	out := make([]TargetItem, 0, len(entries))
	for _, e := range entries {
		kind := e.Target.Kind
		if kind == "" {
			kind = target.KindFunction
		}
		out = append(out, TargetItem{
			Name:        e.Target.Name,
			Params:      append([]string(nil), e.Target.Params...),
			Kind:        kind,
			Description: e.Description,
		})
	}
	return out
}

func (c *Client) writeRun(result model.AnalysisResult, vulns []model.Vulnerability) (RunSummary, error) {
	run := RunSummary{
		RunID:           result.RunID,
		Target:          result.Target,
		Status:          result.Status,
		Error:           result.Error,
		Duration:        result.Duration,
		Vulnerabilities: vulns,
	}
	if c.cfg.ReportsDir == "" {
		return run, nil
	}
	dir, err := report.WriteRunReport(c.cfg.ReportsDir, result, vulns)
	if err != nil {
		return run, fmt.Errorf("write run report %s: %w", result.RunID, err)
	}
	run.ArtifactsDir = dir
	return run, nil
}

func (c *Client) flushMetrics() error {
	if c.cfg.MetricsFile == "" {
		return nil
	}
	if err := c.metrics.WriteTextfile(c.cfg.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func resolveJobs(req AnalyzeRequest) ([]platform.Job, error) {
	names := req.Targets
	if len(names) == 0 && len(req.Jobs) == 0 {
		names = demo.Names()
	}
	jobs := make([]platform.Job, 0, len(names)+len(req.Jobs))
	for _, name := range names {
		entry, err := demo.Lookup(name)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, platform.Job{Target: entry.Target, Context: entry.Context})
	}
	return append(jobs, req.Jobs...), nil
}
