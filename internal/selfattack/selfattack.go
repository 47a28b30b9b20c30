// Package selfattack turns the engine's own components into targets and
// reports out-of-contract behaviour as meta-vulnerabilities.
package selfattack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"adversary/internal/concolic"
	"adversary/internal/evo"
	"adversary/internal/model"
	"adversary/internal/payload"
	"adversary/internal/sym"
	"adversary/internal/target"
)

const (
	// MaxMetaSeverity caps meta-vulnerability severity below the ceiling used
	// for ordinary target findings.
	MaxMetaSeverity = 0.75

	fuzzerBaseSeverity   = 0.6
	mutationBaseSeverity = 0.5
	fitnessBaseSeverity  = 0.4
	explorerBaseSeverity = 0.5

	// MaxGrowthFactor is the largest magnitude growth one mutation may cause.
	MaxGrowthFactor = 100
	mutationTrials  = 20

	// timeoutSlack absorbs scheduler jitter on top of twice the timeout.
	timeoutSlack = 100 * time.Millisecond
)

// Evolver is the subset of the live fuzzer reused in situ.
type Evolver interface {
	Reset()
	Evolve(ctx context.Context, t target.Target, generations int, tctx *target.Context) []evo.Individual
}

// PathExplorer is the subset of the concolic explorer under attack.
type PathExplorer interface {
	ExplorePath(ctx context.Context, t target.Target, seed []payload.Value) ([]payload.Value, bool, error)
}

type Config struct {
	// Fuzzer is the template for freshly constructed fuzzer instances.
	Fuzzer      evo.Config
	Live        Evolver
	Explorer    PathExplorer
	Concurrency int
	Logger      *slog.Logger
}

type Module struct {
	fuzzerCfg   evo.Config
	live        Evolver
	explorer    PathExplorer
	concurrency int
	logger      *slog.Logger
}

func New(cfg Config) (*Module, error) {
	fuzzerCfg := cfg.Fuzzer
	fuzzerCfg.Advisor = nil
	fuzzerCfg.Observer = nil
	if fuzzerCfg.PopulationSize == 0 && fuzzerCfg.MutationRate == 0 {
		defaults := evo.DefaultConfig()
		defaults.Logger = fuzzerCfg.Logger
		defaults.Timeout = fuzzerCfg.Timeout
		fuzzerCfg = defaults
	}
	live := cfg.Live
	if live == nil {
		f, err := evo.NewGeneticFuzzer(fuzzerCfg)
		if err != nil {
			return nil, fmt.Errorf("build live fuzzer: %w", err)
		}
		live = f
	}
	explorer := cfg.Explorer
	if explorer == nil {
		explorer = concolic.NewExplorer(concolic.Config{Timeout: fuzzerCfg.Timeout, Seed: fuzzerCfg.Seed})
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		fuzzerCfg:   fuzzerCfg,
		live:        live,
		explorer:    explorer,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// RunFullSelfAttack runs every attack and returns the meta-vulnerabilities
// found. Faults are data: no attack aborts the run.
func (m *Module) RunFullSelfAttack(ctx context.Context) []model.Vulnerability {
	var all []model.Vulnerability
	all = append(all, m.AttackGeneticFuzzer(ctx)...)
	all = append(all, m.AttackMutation(ctx)...)
	all = append(all, m.AttackFitness(ctx)...)
	all = append(all, m.AttackSymbolicExplorer(ctx)...)
	m.logger.Info("self-attack complete", "meta_vulnerabilities", len(all))
	return all
}

// ExtremeInputs are the known-hard results fed back through the fuzzer.
func ExtremeInputs() []payload.Value {
	return []payload.Value{
		payload.Null(),
		payload.Float(math.Inf(1)),
		payload.Float(math.Inf(-1)),
		payload.Float(math.NaN()),
		payload.Seq(),
		payload.Map(nil),
		payload.Int(math.MaxInt64),
		payload.Int(math.MinInt64),
	}
}

func metaSeverity(base float64, faults, trials int) float64 {
	if trials <= 0 {
		return 0
	}
	ease := float64(faults) / float64(trials)
	return math.Min(base*ease, MaxMetaSeverity)
}

func constantTarget(name string, v payload.Value) target.Target {
	return target.Target{
		Name:   name,
		Params: []string{"x"},
		Fn: func(*target.Call, []payload.Value) (payload.Value, error) {
			return v, nil
		},
	}
}

func (m *Module) freshFuzzer() (*evo.GeneticFuzzer, error) {
	return evo.NewGeneticFuzzer(m.fuzzerCfg)
}

// AttackGeneticFuzzer evolves a fresh fuzzer against targets that return
// each extreme input, counting panics and out-of-range fitness values.
func (m *Module) AttackGeneticFuzzer(ctx context.Context) []model.Vulnerability {
	inputs := ExtremeInputs()
	var (
		mu      sync.Mutex
		crashes []string
	)
	p := pool.New().WithMaxGoroutines(m.concurrency)
	for _, input := range inputs {
		p.Go(func() {
			if err := m.attackFreshFuzzer(ctx, input); err != nil {
				mu.Lock()
				crashes = append(crashes, fmt.Sprintf("%s: %v", input.TypeName(), err))
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(crashes) == 0 {
		m.logger.Debug("genetic fuzzer robust against extreme inputs")
		return nil
	}
	trace := append([]string{fmt.Sprintf("Tested %d inputs, %d caused crashes", len(inputs), len(crashes))}, crashes...)
	return []model.Vulnerability{model.NewVulnerability(
		"genetic_fuzzer",
		model.AttackMetaVulnerability,
		metaSeverity(fuzzerBaseSeverity, len(crashes), len(inputs)),
		fmt.Sprintf("Genetic fuzzer crashes with %d extreme inputs", len(crashes)),
		trace,
		[]string{"Add input type validation in Evolve", "Recover panics during population initialization"},
	)}
}

func (m *Module) attackFreshFuzzer(ctx context.Context, input payload.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &payload.PanicError{Value: r}
		}
	}()
	f, err := m.freshFuzzer()
	if err != nil {
		return err
	}
	for _, ind := range f.Evolve(ctx, constantTarget("extreme_"+input.TypeName(), input), 1, nil) {
		if ind.Fitness < evo.MinFitness || ind.Fitness > evo.MaxFitness || math.IsNaN(ind.Fitness) {
			return fmt.Errorf("fitness out of range: %v", ind.Fitness)
		}
	}
	return nil
}

// AttackMutation checks that mutation never grows large integers by more
// than MaxGrowthFactor.
func (m *Module) AttackMutation(_ context.Context) []model.Vulnerability {
	cfg := m.fuzzerCfg
	cfg.MutationRate = 1
	f, err := evo.NewGeneticFuzzer(cfg)
	if err != nil {
		m.logger.Warn("mutation attack skipped", "err", err)
		return nil
	}

	values := []int64{1_000_000_000_000_000, 1_000_000_000_000_000_000, math.MaxInt64}
	trials := 0
	var grown []string
	for _, num := range values {
		for i := 0; i < mutationTrials; i++ {
			trials++
			got, ok := f.Mutate(payload.Int(num)).Numeric()
			if !ok {
				continue
			}
			if math.Abs(got) > math.Abs(float64(num))*MaxGrowthFactor {
				grown = append(grown, fmt.Sprintf("%d -> %s", num, payload.Float(got)))
			}
		}
	}
	if len(grown) == 0 {
		m.logger.Debug("mutation is bounded")
		return nil
	}
	return []model.Vulnerability{model.NewVulnerability(
		"mutation",
		model.AttackMetaVulnerability,
		metaSeverity(mutationBaseSeverity, len(grown), trials),
		"Mutation can cause value growth",
		append([]string{fmt.Sprintf("%d mutations grew values significantly", len(grown))}, grown...),
		[]string{"Add bounds checking in Mutate"},
	)}
}

type fitnessCase struct {
	name    string
	payload payload.Value
	target  target.Target
}

// AttackFitness evaluates edge payload/target pairs on a fresh fuzzer,
// flagging out-of-range scores and evaluations that outlive the timeout.
func (m *Module) AttackFitness(ctx context.Context) []model.Vulnerability {
	f, err := m.freshFuzzer()
	if err != nil {
		m.logger.Warn("fitness attack skipped", "err", err)
		return nil
	}
	timeout := f.Timeout()
	cases := []fitnessCase{
		{"null", payload.Null(), constantTarget("null", payload.Null())},
		{"empty_sequence", payload.Seq(), constantTarget("empty_sequence", payload.Seq())},
		{"empty_mapping", payload.Map(nil), constantTarget("empty_mapping", payload.Map(nil))},
		{"empty_text", payload.Text(""), constantTarget("empty_text", payload.Text(""))},
		{"nan", payload.Float(math.NaN()), constantTarget("nan", payload.Float(math.NaN()))},
		{"panic", payload.Int(1), target.Target{
			Name:   "panic",
			Params: []string{"x"},
			Fn: func(*target.Call, []payload.Value) (payload.Value, error) {
				panic("self-attack edge case")
			},
		}},
		{"hang", payload.Int(1), target.Target{
			Name:   "hang",
			Params: []string{"x"},
			Fn: func(call *target.Call, _ []payload.Value) (payload.Value, error) {
				select {
				case <-time.After(3 * timeout):
				case <-call.Context().Done():
				}
				return payload.Null(), nil
			},
		}},
	}

	var problems []string
	for _, tc := range cases {
		start := time.Now()
		fitness, err := safeEvaluate(ctx, f, tc.payload, tc.target)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("%s: evaluation crashed: %v", tc.name, err))
		case fitness < evo.MinFitness || fitness > evo.MaxFitness || math.IsNaN(fitness):
			problems = append(problems, fmt.Sprintf("%s: invalid fitness score %v", tc.name, fitness))
		case elapsed > 2*timeout+timeoutSlack:
			problems = append(problems, fmt.Sprintf("%s: evaluation escaped its %s timeout (%s)", tc.name, timeout, elapsed))
		}
	}
	if len(problems) == 0 {
		m.logger.Debug("fitness function robust")
		return nil
	}
	return []model.Vulnerability{model.NewVulnerability(
		"fitness",
		model.AttackMetaVulnerability,
		metaSeverity(fitnessBaseSeverity, len(problems), len(cases)),
		"Fitness function has edge case issues",
		append([]string{fmt.Sprintf("%d edge cases caused problems", len(problems))}, problems...),
		[]string{"Add edge case handling in EvaluateFitness"},
	)}
}

func safeEvaluate(ctx context.Context, f *evo.GeneticFuzzer, v payload.Value, t target.Target) (fitness float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &payload.PanicError{Value: r}
		}
	}()
	return f.EvaluateFitness(ctx, v, t), nil
}

// explorerTarget is the branchy integer target the explorer is driven at.
func explorerTarget() target.Target {
	return target.Target{
		Name:   "explorer_branches",
		Params: []string{"a"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			if call.Branch(sym.Lt(sym.Param("a"), sym.Int(10))) {
				return args[0], nil
			}
			return payload.Int(-1), nil
		},
	}
}

// ExplorerAdapter exposes the explorer as a one-argument target. Retryable
// signature mismatches are a sanctioned outcome and return null.
func (m *Module) ExplorerAdapter() target.Target {
	branches := explorerTarget()
	return target.Target{
		Name:   "symbolic_explorer",
		Params: []string{"seed"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			next, ok, err := m.explorer.ExplorePath(call.Context(), branches, args)
			if err != nil {
				if errors.Is(err, concolic.ErrSignatureMismatch) {
					return payload.Null(), nil
				}
				return payload.Null(), err
			}
			if !ok {
				return payload.Null(), nil
			}
			return payload.Seq(next...), nil
		},
	}
}

// AttackSymbolicExplorer fuzzes the explorer through the live fuzzer, which
// is reset before and after, and confirms each archived payload directly.
func (m *Module) AttackSymbolicExplorer(ctx context.Context) []model.Vulnerability {
	m.live.Reset()
	defer m.live.Reset()

	adapter := m.ExplorerAdapter()
	results := m.live.Evolve(ctx, adapter, 1, nil)
	if len(results) == 0 {
		return nil
	}

	var crashing []payload.Value
	for _, ind := range results {
		if err := m.confirmExplorerCrash(ctx, ind.Payload); err != nil {
			m.logger.Debug("explorer crash confirmed", "payload", ind.Payload.String(), "err", err)
			crashing = append(crashing, ind.Payload)
		}
	}

	var vulns []model.Vulnerability
	for _, p := range crashing {
		vulns = append(vulns, model.NewVulnerability(
			"symbolic_explorer",
			model.AttackMetaVulnerability,
			metaSeverity(explorerBaseSeverity, len(crashing), len(results)),
			fmt.Sprintf("Symbolic explorer crashed with payload: '%s'", p.String()),
			[]string{fmt.Sprintf("%d of %d archived payloads crash the explorer", len(crashing), len(results))},
			[]string{"Validate seeds before exploration", "Recover solver failures as no new input"},
		))
	}
	return vulns
}

func (m *Module) confirmExplorerCrash(ctx context.Context, p payload.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &payload.PanicError{Value: r}
		}
	}()
	_, _, err = m.explorer.ExplorePath(ctx, explorerTarget(), []payload.Value{p})
	if errors.Is(err, concolic.ErrSignatureMismatch) {
		return nil
	}
	return err
}
