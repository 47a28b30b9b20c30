// Package evo implements the genetic fuzzer: a bounded evolutionary search
// over payloads scored by how badly they hurt the target.
package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"adversary/internal/payload"
	"adversary/internal/target"
)

const (
	DefaultPopulationSize = 30
	MinPopulationSize     = 5
	MaxPopulationSize     = 100
	DefaultMutationRate   = 0.3
	DefaultMaxEvaluations = 10000
	MaxGenerations        = 10

	// ArchiveThreshold is the fitness a generation's best must exceed to be
	// archived.
	ArchiveThreshold = 35.0
	minEliteCount    = 2
	maxFillAttempts  = 100
)

// Observer receives evaluation and generation events.
type Observer interface {
	ObserveEvaluation(fitness float64, duration time.Duration, timedOut bool)
	ObserveGeneration(generation int, best float64)
}

type Config struct {
	// PopulationSize is clamped to [5,100]; zero selects the default of 30.
	PopulationSize int
	// MutationRate is clamped to [0,1]. Use DefaultConfig to get 0.3.
	MutationRate   float64
	MaxEvaluations int64
	Seed           int64
	Timeout        time.Duration
	Selector       Selector
	Advisor        OperatorSelector
	Observer       Observer
	Logger         *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		PopulationSize: DefaultPopulationSize,
		MutationRate:   DefaultMutationRate,
		MaxEvaluations: DefaultMaxEvaluations,
		Seed:           1,
		Timeout:        target.DefaultTimeout,
	}
}

// GeneticFuzzer evolves payload populations against a target. Evaluation
// counting is safe for concurrent use; Evolve itself is not.
type GeneticFuzzer struct {
	populationSize int
	mutationRate   float64
	maxEvaluations int64
	timeout        time.Duration
	rng            *rand.Rand
	selector       Selector
	advisor        OperatorSelector
	observer       Observer
	invoker        *target.Invoker
	logger         *slog.Logger

	generation  int
	evaluations atomic.Int64
	archive     []Individual
	pending     []payload.Value
}

func NewGeneticFuzzer(cfg Config) (*GeneticFuzzer, error) {
	if cfg.PopulationSize < 0 {
		return nil, fmt.Errorf("population size must be non-negative: %d", cfg.PopulationSize)
	}
	if cfg.MaxEvaluations < 0 {
		return nil, fmt.Errorf("max evaluations must be non-negative: %d", cfg.MaxEvaluations)
	}
	size := cfg.PopulationSize
	if size == 0 {
		size = DefaultPopulationSize
	}
	size = max(MinPopulationSize, min(size, MaxPopulationSize))

	rate := max(0, min(cfg.MutationRate, 1))
	maxEvals := cfg.MaxEvaluations
	if maxEvals == 0 {
		maxEvals = DefaultMaxEvaluations
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = target.DefaultTimeout
	}
	selector := cfg.Selector
	if selector == nil {
		selector = UniformSelector{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GeneticFuzzer{
		populationSize: size,
		mutationRate:   rate,
		maxEvaluations: maxEvals,
		timeout:        timeout,
		rng:            rand.New(rand.NewSource(cfg.Seed)),
		selector:       selector,
		advisor:        cfg.Advisor,
		observer:       cfg.Observer,
		invoker:        target.NewInvoker(timeout),
		logger:         logger,
	}, nil
}

func (f *GeneticFuzzer) PopulationSize() int { return f.populationSize }
func (f *GeneticFuzzer) MutationRate() float64 { return f.mutationRate }
func (f *GeneticFuzzer) Timeout() time.Duration { return f.timeout }
func (f *GeneticFuzzer) Generation() int { return f.generation }
func (f *GeneticFuzzer) TotalEvaluations() int64 { return f.evaluations.Load() }
func (f *GeneticFuzzer) HasAdvisor() bool { return f.advisor != nil }

// Advisor returns the injected operator selector, or nil.
func (f *GeneticFuzzer) Advisor() OperatorSelector { return f.advisor }

// Archive returns a copy of the best-attack archive accumulated since the
// last Reset.
func (f *GeneticFuzzer) Archive() []Individual {
	return append([]Individual(nil), f.archive...)
}

// Reset clears the generation counter, archive, evaluation counter and any
// injected candidates.
func (f *GeneticFuzzer) Reset() {
	f.generation = 0
	f.archive = nil
	f.pending = nil
	f.evaluations.Store(0)
}

// AddToPopulation queues an externally synthesized candidate for the next
// Evolve call.
func (f *GeneticFuzzer) AddToPopulation(v payload.Value) {
	f.pending = append(f.pending, v.Clone())
}

// InitializePopulation builds a population from the seed corpus, padding by
// mutating uniformly chosen seeds.
func (f *GeneticFuzzer) InitializePopulation() []payload.Value {
	seeds := SeedCorpus()
	population := make([]payload.Value, 0, f.populationSize)
	for i := 0; i < len(seeds) && i < f.populationSize; i++ {
		population = append(population, seeds[i])
	}
	for len(population) < f.populationSize {
		base := seeds[f.rng.Intn(len(seeds))]
		population = append(population, f.Mutate(base))
	}
	return population
}

// Mutate applies one mutation with probability MutationRate. It never fails:
// operator errors and panics return v unchanged.
func (f *GeneticFuzzer) Mutate(v payload.Value) payload.Value {
	if f.rng.Float64() >= f.mutationRate {
		return v
	}
	if f.advisor != nil {
		if op := f.advisor.SelectOperator(f.rng); op != nil {
			return f.apply(op, v)
		}
	}
	ops := defaultOperators(v)
	if len(ops) == 0 {
		return v
	}
	return f.apply(ops[f.rng.Intn(len(ops))], v)
}

func (f *GeneticFuzzer) apply(op Operator, v payload.Value) (out payload.Value) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Debug("mutation panicked", "operator", op.Name(), "err", r)
			out = v
		}
	}()
	if ctxOp, ok := op.(ContextualOperator); ok && !ctxOp.Applicable(v) {
		return v
	}
	if _, err := ResolveOperator(op.Name(), v); errors.Is(err, ErrOperatorIncompatible) {
		return v
	}
	mutated, err := op.Apply(f.rng, v)
	if err != nil {
		return v
	}
	return mutated
}

// EvaluateFitness invokes t with v under the fuzzer's deadline and scores the
// outcome. Once the evaluation budget is spent it returns 0 without calling t.
func (f *GeneticFuzzer) EvaluateFitness(ctx context.Context, v payload.Value, t target.Target) float64 {
	if !f.reserveEvaluation() {
		return 0
	}
	out := f.invoker.InvokePayload(ctx, t, v)
	fitness := Score(out, t.Kind, f.timeout)
	if f.observer != nil {
		f.observer.ObserveEvaluation(fitness, out.Duration, out.TimedOut)
	}
	return fitness
}

func (f *GeneticFuzzer) reserveEvaluation() bool {
	for {
		n := f.evaluations.Load()
		if n >= f.maxEvaluations {
			return false
		}
		if f.evaluations.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Evolve runs at most generations (capped at 10) rounds of evaluation,
// elitism and mutation, returning the deduplicated archive sorted by fitness.
// The analysis context is accepted for symmetry with the probabilistic sweep;
// sanctioned errors still score here.
func (f *GeneticFuzzer) Evolve(ctx context.Context, t target.Target, generations int, tctx *target.Context) []Individual {
	if generations > MaxGenerations {
		generations = MaxGenerations
	}
	population := f.InitializePopulation()
	if len(f.pending) > 0 {
		population = append(f.pending, population...)
		population = population[:max(f.populationSize, len(f.pending))]
		f.pending = nil
	}
	if tctx != nil && len(tctx.ExpectedErrors) > 0 {
		f.logger.Debug("evolving with sanctioned errors", "target", t.Name, "expected_errors", len(tctx.ExpectedErrors))
	}

	for gen := 0; gen < generations; gen++ {
		if ctx.Err() != nil {
			break
		}
		scored := make([]Individual, 0, len(population))
		for _, p := range population {
			scored = append(scored, Individual{Payload: p, Fitness: f.EvaluateFitness(ctx, p, t)})
		}
		if len(scored) == 0 {
			break
		}
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Fitness > scored[j].Fitness
		})

		best := scored[0]
		if best.Fitness > ArchiveThreshold {
			f.archive = append(f.archive, best)
		}
		if f.observer != nil {
			f.observer.ObserveGeneration(gen+1, best.Fitness)
		}
		f.logger.Debug("generation evaluated",
			"target", t.Name,
			"generation", gen+1,
			"best_fitness", best.Fitness,
			"evaluations", f.evaluations.Load(),
		)

		eliteCount := min(max(minEliteCount, min(f.populationSize/5, len(scored))), len(scored))
		survivors := scored[:max(1, len(scored)/2)]
		if len(survivors) == 0 {
			break
		}

		next := make([]payload.Value, 0, f.populationSize)
		for _, elite := range scored[:eliteCount] {
			next = append(next, elite.Payload)
		}
		for attempts := 0; len(next) < f.populationSize && attempts < maxFillAttempts; attempts++ {
			parent, err := f.selector.PickParent(f.rng, survivors)
			if err != nil {
				next = append(next, payload.Null())
				continue
			}
			next = append(next, f.Mutate(parent))
		}
		population = next
		f.generation = gen + 1
	}

	return Dedupe(f.archive)
}

// Dedupe keeps the first individual per payload key and sorts the result by
// descending fitness.
func Dedupe(archive []Individual) []Individual {
	seen := make(map[string]struct{}, len(archive))
	unique := make([]Individual, 0, len(archive))
	for _, ind := range archive {
		key := ind.Payload.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, ind)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Fitness > unique[j].Fitness
	})
	return unique
}
