package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"adversary/internal/advisor"
	"adversary/internal/concolic"
	"adversary/internal/evo"
	"adversary/internal/metrics"
	"adversary/internal/model"
	"adversary/internal/payload"
	"adversary/internal/predict"
	"adversary/internal/probfuzz"
	"adversary/internal/selfattack"
	"adversary/internal/storage"
	"adversary/internal/sym"
	"adversary/internal/target"
)

const (
	DefaultGenerations          = 3
	DefaultConcolicSeedAttempts = 5

	// ReportThreshold is the survivor fitness above which a finding is emitted.
	ReportThreshold = 40.0
	// CodeInjectionTier and OverflowTier classify survivors by fitness.
	CodeInjectionTier = 90.0
	OverflowTier      = 60.0

	// MaxFindingSeverity caps severity for target findings.
	MaxFindingSeverity = 0.95
	// MaxTypeConfusionSeverity caps severity for sweep findings.
	MaxTypeConfusionSeverity = 0.8

	// SelfAttackTarget names the pseudo-target meta-vulnerabilities are
	// recorded under.
	SelfAttackTarget = "self_attack"

	evidencePayloadLen = 60
)

var ErrNotStarted = errors.New("engine is not started")

// SweepWeights are the kind weights of the type-confusion sweep.
var SweepWeights = []probfuzz.Weight{
	{Kind: payload.KindInteger, Weight: 1},
	{Kind: payload.KindText, Weight: 1},
	{Kind: payload.KindNull, Weight: 1},
}

type Config struct {
	Store storage.Store
	// Fuzzer is the template for the per-target fuzzer. Advisor and
	// Observer are set by the engine.
	Fuzzer               evo.Config
	Generations          int
	ConcolicSeedAttempts int
	FuzzIterations       int
	// SweepWeights overrides the kind weights of the type-confusion sweep.
	SweepWeights []probfuzz.Weight
	Predictor    predict.Predictor
	// Strategies supplies mutation hints per target. Defaults to the
	// predictor's strategy output.
	Strategies advisor.StrategyProvider
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Job is one batch entry for AnalyzeAll.
type Job struct {
	Target  target.Target
	Context *target.Context
}

// Engine sequences the discovery components over one target at a time and
// keeps the process-lifetime vulnerability collection. It is safe for
// concurrent readers; analyses are serialized.
type Engine struct {
	store      storage.Store
	config     Config
	predictor  predict.Predictor
	strategies advisor.StrategyProvider
	metrics    *metrics.Metrics
	logger    *slog.Logger
	explorer  *concolic.Explorer
	sweep     *probfuzz.Fuzzer

	run sync.Mutex

	mu      sync.RWMutex
	started bool
	fuzzer  *evo.GeneticFuzzer
	results []model.AnalysisResult
	vulns   []model.Vulnerability
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("generations must be non-negative: %d", cfg.Generations)
	}
	if cfg.ConcolicSeedAttempts < 0 {
		return nil, fmt.Errorf("concolic seed attempts must be non-negative: %d", cfg.ConcolicSeedAttempts)
	}
	if cfg.Generations == 0 {
		cfg.Generations = DefaultGenerations
	}
	if cfg.ConcolicSeedAttempts == 0 {
		cfg.ConcolicSeedAttempts = DefaultConcolicSeedAttempts
	}
	if cfg.Predictor == nil {
		cfg.Predictor = predict.NewLinear()
	}
	if cfg.Strategies == nil {
		cfg.Strategies = predict.StrategyProvider(cfg.Predictor)
	}
	if len(cfg.SweepWeights) == 0 {
		cfg.SweepWeights = SweepWeights
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fuzzer.Logger == nil {
		cfg.Fuzzer.Logger = cfg.Logger
	}
	cfg.Fuzzer.Advisor = nil
	cfg.Fuzzer.Observer = nil
	if cfg.Metrics != nil {
		cfg.Fuzzer.Observer = cfg.Metrics
	}

	fuzzer, err := evo.NewGeneticFuzzer(cfg.Fuzzer)
	if err != nil {
		return nil, fmt.Errorf("build fuzzer: %w", err)
	}
	return &Engine{
		store:      cfg.Store,
		config:     cfg,
		predictor:  cfg.Predictor,
		strategies: cfg.Strategies,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		explorer: concolic.NewExplorer(concolic.Config{
			Timeout: fuzzer.Timeout(),
			Seed:    cfg.Fuzzer.Seed,
			Logger:  cfg.Logger,
		}),
		sweep: probfuzz.New(probfuzz.Config{
			Iterations: cfg.FuzzIterations,
			Seed:       cfg.Fuzzer.Seed,
			Timeout:    fuzzer.Timeout(),
			Logger:     cfg.Logger,
		}),
		fuzzer: fuzzer,
	}, nil
}

// Init initializes the store and replays stored training samples into the
// predictor.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.store.Init(ctx); err != nil {
		return err
	}
	samples, err := e.store.ListTrainingSamples(ctx)
	if err != nil {
		return fmt.Errorf("load training samples: %w", err)
	}
	for _, sample := range samples {
		e.predictor.Train(predict.FeatureVector{Target: sample.Target, Values: sample.Features}, sample.Outcomes)
	}
	if len(samples) > 0 {
		e.logger.Info("predictor warmed from stored samples", "samples", len(samples))
	}
	e.started = true
	return nil
}

func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Stop closes the store when it supports closing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	return storage.CloseIfSupported(e.store)
}

func (e *Engine) Store() storage.Store {
	return e.store
}

func (e *Engine) Predictor() predict.Predictor {
	return e.predictor
}

// Fuzzer returns the live fuzzer of the most recent analysis.
func (e *Engine) Fuzzer() *evo.GeneticFuzzer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fuzzer
}

// Vulnerabilities returns every finding recorded since the engine was built.
func (e *Engine) Vulnerabilities() []model.Vulnerability {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Vulnerability(nil), e.vulns...)
}

func (e *Engine) Results() []model.AnalysisResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.AnalysisResult(nil), e.results...)
}

// AnalyzeTarget runs the full discovery pipeline against t. Pipeline
// failures are recorded as StatusError with no vulnerabilities; the returned
// error reports only engine or persistence failures.
func (e *Engine) AnalyzeTarget(ctx context.Context, t target.Target, tctx *target.Context) (model.AnalysisResult, []model.Vulnerability, error) {
	if !e.Started() {
		return model.AnalysisResult{}, nil, ErrNotStarted
	}
	e.run.Lock()
	defer e.run.Unlock()

	start := time.Now()
	result := model.AnalysisResult{
		VersionedRecord: model.CurrentVersion(),
		RunID:           uuid.NewString(),
		Target:          t.Name,
		StartedAt:       start.UTC(),
		Status:          model.StatusOK,
	}
	logger := e.logger.With("target", t.Name, "run_id", result.RunID)
	logger.Info("analysis started")

	out, err := e.runPipeline(ctx, t, tctx, logger)
	vulns := out.vulns
	switch {
	case err != nil:
		logger.Error("analysis failed", "stage", out.stage, "err", err)
		result.Status = model.StatusError
		result.Error = fmt.Sprintf("%s: %v", out.stage, err)
		vulns = nil
	case len(out.degraded) > 0:
		result.Status = model.StatusPartial
		result.Error = fmt.Sprintf("degraded stages: %v", out.degraded)
	}
	for i := range vulns {
		vulns[i].RunID = result.RunID
	}
	result.Duration = time.Since(start)
	result.VulnerabilityCount = len(vulns)
	result.Stats = out.stats

	if err := e.record(ctx, result, vulns); err != nil {
		return result, vulns, err
	}
	logger.Info("analysis finished",
		"status", result.Status,
		"vulnerabilities", result.VulnerabilityCount,
		"duration", result.Duration,
	)
	return result, vulns, nil
}

// AnalyzeAll analyzes jobs sequentially. A failing target never aborts the
// batch; cancellation does.
func (e *Engine) AnalyzeAll(ctx context.Context, jobs []Job) ([]model.AnalysisResult, error) {
	results := make([]model.AnalysisResult, 0, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, _, err := e.AnalyzeTarget(ctx, job.Target, job.Context)
		if err != nil {
			return results, fmt.Errorf("analyze %s: %w", job.Target.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// SelfAttack points the engine at its own components and records the
// meta-vulnerabilities found as one run.
func (e *Engine) SelfAttack(ctx context.Context) (model.AnalysisResult, []model.Vulnerability, error) {
	if !e.Started() {
		return model.AnalysisResult{}, nil, ErrNotStarted
	}
	e.run.Lock()
	defer e.run.Unlock()

	start := time.Now()
	module, err := selfattack.New(selfattack.Config{
		Fuzzer: e.config.Fuzzer,
		Live:   e.Fuzzer(),
		Logger: e.logger,
	})
	if err != nil {
		return model.AnalysisResult{}, nil, fmt.Errorf("build self-attack module: %w", err)
	}
	vulns := module.RunFullSelfAttack(ctx)

	result := model.AnalysisResult{
		VersionedRecord:    model.CurrentVersion(),
		RunID:              uuid.NewString(),
		Target:             SelfAttackTarget,
		StartedAt:          start.UTC(),
		Duration:           time.Since(start),
		VulnerabilityCount: len(vulns),
		Status:             model.StatusOK,
	}
	for i := range vulns {
		vulns[i].RunID = result.RunID
	}
	if e.metrics != nil {
		e.metrics.ObserveSelfAttack(len(vulns))
	}
	if err := e.record(ctx, result, vulns); err != nil {
		return result, vulns, err
	}
	return result, vulns, nil
}

func (e *Engine) record(ctx context.Context, result model.AnalysisResult, vulns []model.Vulnerability) error {
	e.mu.Lock()
	e.results = append(e.results, result)
	e.vulns = append(e.vulns, vulns...)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveAnalysis(string(result.Status), result.Duration)
		for _, v := range vulns {
			e.metrics.ObserveVulnerability(string(v.AttackVector))
		}
	}
	if err := e.store.SaveAnalysis(ctx, result); err != nil {
		return fmt.Errorf("save analysis %s: %w", result.RunID, err)
	}
	if err := e.store.SaveVulnerabilities(ctx, result.RunID, vulns); err != nil {
		return fmt.Errorf("save vulnerabilities %s: %w", result.RunID, err)
	}
	return nil
}

type pipelineOutput struct {
	vulns    []model.Vulnerability
	stats    map[string]float64
	stage    string
	degraded []string
}

func (e *Engine) runPipeline(ctx context.Context, t target.Target, tctx *target.Context, logger *slog.Logger) (out pipelineOutput, err error) {
	out.stats = make(map[string]float64)
	defer func() {
		if r := recover(); r != nil {
			err = &payload.PanicError{Value: r}
		}
	}()

	out.stage = "validate"
	if err := t.Validate(); err != nil {
		return out, err
	}

	out.stage = "predict"
	fv := e.predictor.ExtractFeatures(t)
	risk := e.predictor.PredictScore(fv)
	strategies := e.strategies.Strategies(t)
	out.stats["predicted_risk"] = finite(risk)
	out.stats["strategies"] = float64(len(strategies))

	fuzzerCfg := e.config.Fuzzer
	if len(strategies) > 0 {
		fuzzerCfg.Advisor = advisor.New(strategies)
	}
	fuzzer, err := evo.NewGeneticFuzzer(fuzzerCfg)
	if err != nil {
		return out, err
	}
	fuzzer.Reset()
	e.mu.Lock()
	e.fuzzer = fuzzer
	e.mu.Unlock()
	logger.Debug("fuzzer prepared", "risk", risk, "strategies", strategies)

	out.stage = "concolic"
	injected, err := e.seedFromConcolic(ctx, fuzzer, t)
	if err != nil {
		logger.Warn("concolic assist failed", "stage", out.stage, "err", err)
		out.degraded = append(out.degraded, out.stage)
	}
	out.stats["concolic_injected"] = float64(injected)

	out.stage = "evolve"
	survivors := fuzzer.Evolve(ctx, t, e.config.Generations, tctx)
	for _, ind := range survivors {
		if ind.Fitness > ReportThreshold {
			out.vulns = append(out.vulns, survivorVulnerability(t.Name, ind))
		}
	}
	out.stats["survivors"] = float64(len(survivors))
	out.stats["evaluations"] = float64(fuzzer.TotalEvaluations())
	out.stats["generations"] = float64(fuzzer.Generation())
	if len(survivors) > 0 {
		out.stats["best_fitness"] = survivors[0].Fitness
	}

	out.stage = "sweep"
	counts, err := e.sweep.Fuzz(ctx, t, e.config.SweepWeights, tctx)
	if err != nil {
		logger.Warn("probabilistic sweep failed", "stage", out.stage, "err", err)
		out.degraded = append(out.degraded, out.stage)
	} else {
		confusions := typeConfusionVulnerabilities(t.Name, counts)
		out.vulns = append(out.vulns, confusions...)
		out.stats["type_confusions"] = float64(len(confusions))
	}

	out.stage = "train"
	e.predictor.Train(fv, len(out.vulns))
	sample := model.TrainingSample{
		VersionedRecord: model.CurrentVersion(),
		Target:          t.Name,
		Features:        append([]float64(nil), fv.Values...),
		Outcomes:        len(out.vulns),
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.AppendTrainingSample(ctx, sample); err != nil {
		logger.Warn("training sample not stored", "err", err)
		out.degraded = append(out.degraded, out.stage)
	}
	return out, nil
}

// seedFromConcolic tries seed candidates in corpus order and injects the
// first synthesized input. Incompatible seeds are skipped. When no branch can
// be flipped, boundary values around the compared constants are injected
// instead.
func (e *Engine) seedFromConcolic(ctx context.Context, fuzzer *evo.GeneticFuzzer, t target.Target) (int, error) {
	if t.Arity() == 0 {
		return 0, nil
	}
	seeds := evo.SeedCorpus()
	attempts := min(e.config.ConcolicSeedAttempts, len(seeds))
	var observed []sym.Expr
	for _, seed := range seeds[:attempts] {
		next, ok, err := e.explorer.ExplorePath(ctx, t, t.Broadcast(seed))
		if errors.Is(err, concolic.ErrSignatureMismatch) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if len(observed) == 0 {
			observed = e.explorer.LastConstraints()
		}
		if !ok {
			continue
		}
		for _, v := range next {
			fuzzer.AddToPopulation(v)
		}
		e.logger.Debug("concolic input injected", "target", t.Name, "seed", seed.String(), "inputs", len(next))
		return len(next), nil
	}
	if len(observed) == 0 {
		return 0, nil
	}
	boundary := concolic.BoundaryInputs(observed)
	for _, v := range boundary {
		fuzzer.AddToPopulation(v)
	}
	e.logger.Debug("boundary inputs injected", "target", t.Name, "inputs", len(boundary))
	return len(boundary), nil
}

// VectorForFitness maps a survivor fitness onto its attack vector tier.
func VectorForFitness(fitness float64) model.AttackVector {
	switch {
	case fitness > CodeInjectionTier:
		return model.AttackCodeInjection
	case fitness > OverflowTier:
		return model.AttackOverflow
	default:
		return model.AttackLogicBypass
	}
}

var patchSuggestions = map[model.AttackVector][]string{
	model.AttackCodeInjection: {"Add validation", "Reject inputs that reach dynamic evaluation"},
	model.AttackOverflow:      {"Add validation", "Bound numeric inputs before arithmetic"},
	model.AttackLogicBypass:   {"Add validation", "Compare credentials against stored secrets"},
}

func survivorVulnerability(targetName string, ind evo.Individual) model.Vulnerability {
	vector := VectorForFitness(ind.Fitness)
	return model.NewVulnerability(
		targetName,
		vector,
		math.Min(ind.Fitness/100, MaxFindingSeverity),
		"Payload: "+payload.Truncate(ind.Payload.Repr(), evidencePayloadLen),
		[]string{fmt.Sprintf("Fitness: %.1f", ind.Fitness), "Type: " + ind.Payload.TypeName()},
		append([]string(nil), patchSuggestions[vector]...),
	)
}

// TypeConfusionSeverity scales with the failure ratio of one kind.
func TypeConfusionSeverity(ratio float64) float64 {
	return math.Min(0.4+0.4*ratio, MaxTypeConfusionSeverity)
}

func typeConfusionVulnerabilities(targetName string, counts map[string]probfuzz.Counts) []model.Vulnerability {
	var out []model.Vulnerability
	for _, kind := range probfuzz.FailingKinds(counts) {
		c := counts[kind]
		out = append(out, model.NewVulnerability(
			targetName,
			model.AttackTypeConfusion,
			TypeConfusionSeverity(c.FailureRatio()),
			fmt.Sprintf("Type %s failed %d/%d times", kind, c.Failure, c.Total()),
			[]string{fmt.Sprintf("Failure ratio: %.2f", c.FailureRatio())},
			[]string{"Add type checking"},
		))
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
