package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"adversary/internal/payload"
	"adversary/internal/target"
)

func newTestFuzzer(t *testing.T, mutate func(*Config)) *GeneticFuzzer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewGeneticFuzzer(cfg)
	if err != nil {
		t.Fatalf("new fuzzer: %v", err)
	}
	return f
}

func fnTarget(name string, fn func(payload.Value) (payload.Value, error)) target.Target {
	return target.Target{
		Name:   name,
		Params: []string{"x"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			return fn(args[0])
		},
	}
}

func multiplyTarget() target.Target {
	return fnTarget("multiply", func(v payload.Value) (payload.Value, error) {
		x, ok := v.AsInt()
		if !ok {
			return payload.Null(), payload.TypeErrorf("expected integer, got %s", v.TypeName())
		}
		product, err := payload.MulInt(x, 999999999)
		if err != nil {
			return payload.Null(), err
		}
		return payload.Int(product), nil
	})
}

func TestNewGeneticFuzzerClampsConfig(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) {
		c.PopulationSize = 1000
		c.MutationRate = 4
	})
	if f.PopulationSize() != MaxPopulationSize || f.MutationRate() != 1 {
		t.Fatalf("unexpected clamp: size=%d rate=%f", f.PopulationSize(), f.MutationRate())
	}
	f = newTestFuzzer(t, func(c *Config) {
		c.PopulationSize = 2
		c.MutationRate = -1
	})
	if f.PopulationSize() != MinPopulationSize || f.MutationRate() != 0 {
		t.Fatalf("unexpected clamp: size=%d rate=%f", f.PopulationSize(), f.MutationRate())
	}
	if f.Timeout() != target.DefaultTimeout {
		t.Fatalf("unexpected default timeout: %s", f.Timeout())
	}
	if _, err := NewGeneticFuzzer(Config{PopulationSize: -1}); err == nil {
		t.Fatal("expected validation error for negative population size")
	}
}

func TestInitializePopulationStartsFromSeeds(t *testing.T) {
	f := newTestFuzzer(t, nil)
	population := f.InitializePopulation()
	if len(population) != DefaultPopulationSize {
		t.Fatalf("unexpected population size: got=%d want=%d", len(population), DefaultPopulationSize)
	}
	seeds := SeedCorpus()
	for i, seed := range seeds {
		if !population[i].Equal(seed) {
			t.Fatalf("population[%d]=%s want seed %s", i, population[i], seed)
		}
	}

	small := newTestFuzzer(t, func(c *Config) { c.PopulationSize = 5 })
	if got := len(small.InitializePopulation()); got != 5 {
		t.Fatalf("unexpected truncated population: %d", got)
	}
}

func TestMutateGrowthGuards(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.MutationRate = 1 })
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		x := MaxMutableInteger + 1 + rng.Int63n(math.MaxInt64-MaxMutableInteger-1)
		if rng.Intn(2) == 0 {
			x = -x
		}
		got := f.Mutate(payload.Int(x))
		if !got.Equal(payload.Int(x)) {
			t.Fatalf("mutate(%d) changed to %s", x, got)
		}
	}
	for _, x := range []int64{math.MaxInt64, math.MinInt64} {
		if got := f.Mutate(payload.Int(x)); !got.Equal(payload.Int(x)) {
			t.Fatalf("mutate(%d) changed to %s", x, got)
		}
	}
	long := payload.Text(strings.Repeat("a", MaxMutableTextLen+1))
	for i := 0; i < 50; i++ {
		if got := f.Mutate(long); !got.Equal(long) {
			t.Fatal("long text was mutated")
		}
	}
	longSeq := make([]payload.Value, MaxMutableSeqLen+1)
	seq := payload.Seq(longSeq...)
	if got := f.Mutate(seq); !got.Equal(seq) {
		t.Fatal("long sequence was mutated")
	}
}

func TestMutateRateZeroIsIdentity(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.MutationRate = 0 })
	for _, seed := range SeedCorpus() {
		if got := f.Mutate(seed); !got.Equal(seed) {
			t.Fatalf("mutate(%s) changed to %s with rate 0", seed, got)
		}
	}
}

func TestMutateIntegerChoices(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.MutationRate = 1 })
	allowed := map[int64]bool{10: true, 6: true, -5: true}
	for i := 0; i < 100; i++ {
		got, ok := f.Mutate(payload.Int(5)).AsInt()
		if !ok || !allowed[got] {
			t.Fatalf("unexpected integer mutation: %d", got)
		}
	}
	// Doubling is suppressed near the guard.
	big := MaxDoublingInteger + 5
	for i := 0; i < 100; i++ {
		got, _ := f.Mutate(payload.Int(big)).AsInt()
		if got != big && got != big+1 && got != -big {
			t.Fatalf("unexpected mutation of %d: %d", big, got)
		}
	}
}

type fixedSelector struct{ op Operator }

func (s fixedSelector) SelectOperator(*rand.Rand) Operator { return s.op }

func TestMutateAdvisorTakesPrecedence(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) {
		c.MutationRate = 1
		c.Advisor = fixedSelector{op: ClearText{}}
	})
	if !f.HasAdvisor() {
		t.Fatal("expected advisor to be attached")
	}
	for i := 0; i < 20; i++ {
		if got, _ := f.Mutate(payload.Text("abc")).AsText(); got != "" {
			t.Fatalf("expected advisor operator, got %q", got)
		}
	}
	if got := f.Mutate(payload.Int(3)); !got.Equal(payload.Int(3)) {
		t.Fatalf("inapplicable advisor operator changed payload: %s", got)
	}
}

type cappedDouble struct{ DoubleInteger }

func (cappedDouble) Name() string { return "capped_double" }

func TestMutateHonoursRegisteredCompatibility(t *testing.T) {
	err := RegisterOperatorWithSpec(OperatorSpec{
		Name:     "capped_double",
		Operator: cappedDouble{},
		Compatible: func(v payload.Value) error {
			if n, ok := v.AsInt(); ok && n > 100 {
				return fmt.Errorf("%d exceeds cap", n)
			}
			return nil
		},
	})
	if err != nil && !errors.Is(err, ErrOperatorExists) {
		t.Fatalf("register: %v", err)
	}
	f := newTestFuzzer(t, func(c *Config) {
		c.MutationRate = 1
		c.Advisor = fixedSelector{op: cappedDouble{}}
	})
	if got, _ := f.Mutate(payload.Int(5)).AsInt(); got != 10 {
		t.Fatalf("compatible payload: got=%d want=10", got)
	}
	if got, _ := f.Mutate(payload.Int(1000)).AsInt(); got != 1000 {
		t.Fatalf("incompatible payload mutated: got=%d want=1000", got)
	}
}

type panickingOperator struct{}

func (panickingOperator) Name() string { return "panics" }

func (panickingOperator) Apply(*rand.Rand, payload.Value) (payload.Value, error) {
	panic("operator bug")
}

func TestMutateFailsOpen(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) {
		c.MutationRate = 1
		c.Advisor = fixedSelector{op: panickingOperator{}}
	})
	if got := f.Mutate(payload.Int(9)); !got.Equal(payload.Int(9)) {
		t.Fatalf("expected unchanged payload, got %s", got)
	}
}

func TestEvaluateFitnessScores(t *testing.T) {
	cases := []struct {
		name string
		tgt  target.Target
		want float64
	}{
		{
			name: "value error",
			tgt:  fnTarget("value", func(payload.Value) (payload.Value, error) { return payload.Null(), payload.ValueErrorf("bad") }),
			want: 50,
		},
		{
			name: "overflow",
			tgt:  multiplyTarget(),
			want: 70,
		},
		{
			name: "infinite float",
			tgt:  fnTarget("inf", func(payload.Value) (payload.Value, error) { return payload.Float(math.Inf(1)), nil }),
			want: 100,
		},
		{
			name: "nan float",
			tgt:  fnTarget("nan", func(payload.Value) (payload.Value, error) { return payload.Float(math.NaN()), nil }),
			want: 70,
		},
		{
			name: "large text",
			tgt: fnTarget("text", func(payload.Value) (payload.Value, error) {
				return payload.Text(strings.Repeat("x", 20_000)), nil
			}),
			want: 50,
		},
		{
			name: "panic",
			tgt: fnTarget("panic", func(payload.Value) (payload.Value, error) {
				panic("boom")
			}),
			want: 35,
		},
		{
			name: "divide by zero",
			tgt: fnTarget("div", func(v payload.Value) (payload.Value, error) {
				x, _ := v.AsInt()
				return payload.Int(10 / x), nil
			}),
			want: 60,
		},
		{
			name: "out of memory",
			tgt: fnTarget("oom", func(payload.Value) (payload.Value, error) {
				return payload.Null(), payload.ErrOutOfMemory
			}),
			want: 100,
		},
		{
			name: "null result",
			tgt:  fnTarget("null", func(payload.Value) (payload.Value, error) { return payload.Null(), nil }),
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFuzzer(t, nil)
			got := f.EvaluateFitness(context.Background(), payload.Int(0), tc.tgt)
			if tc.name == "overflow" {
				got = f.EvaluateFitness(context.Background(), payload.Int(1_000_000_000), tc.tgt)
			}
			if got != tc.want {
				t.Fatalf("unexpected fitness: got=%f want=%f", got, tc.want)
			}
		})
	}
}

func TestEvaluateFitnessGuardGrant(t *testing.T) {
	f := newTestFuzzer(t, nil)
	guard := target.Target{
		Name:   "auth",
		Params: []string{"user", "password"},
		Kind:   target.KindGuard,
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			u, _ := args[0].AsText()
			p, _ := args[1].AsText()
			return payload.Bool(p != "" && (u == "admin" || u == p)), nil
		},
	}
	if got := f.EvaluateFitness(context.Background(), payload.Text("admin"), guard); got != 45 {
		t.Fatalf("unexpected guard fitness: got=%f want=45", got)
	}
	if got := f.EvaluateFitness(context.Background(), payload.Text(""), guard); got != 0 {
		t.Fatalf("unexpected denied fitness: got=%f want=0", got)
	}
}

func TestEvaluateFitnessAlwaysBounded(t *testing.T) {
	f := newTestFuzzer(t, nil)
	targets := []target.Target{
		multiplyTarget(),
		fnTarget("echo", func(v payload.Value) (payload.Value, error) { return v, nil }),
		fnTarget("inf", func(payload.Value) (payload.Value, error) { return payload.Float(math.Inf(-1)), nil }),
		fnTarget("panic", func(payload.Value) (payload.Value, error) { panic(errors.New("boom")) }),
		fnTarget("type", func(v payload.Value) (payload.Value, error) {
			return payload.Null(), payload.TypeErrorf("%s", v.TypeName())
		}),
	}
	for _, tgt := range targets {
		for _, seed := range SeedCorpus() {
			got := f.EvaluateFitness(context.Background(), seed, tgt)
			if got < MinFitness || got > MaxFitness {
				t.Fatalf("fitness out of range for %s(%s): %f", tgt.Name, seed, got)
			}
		}
	}
}

func TestEvaluateFitnessTimeout(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.Timeout = 10 * time.Millisecond })
	slow := fnTarget("slow", func(payload.Value) (payload.Value, error) {
		time.Sleep(100 * time.Millisecond)
		return payload.Null(), payload.ErrOutOfMemory
	})
	if got := f.EvaluateFitness(context.Background(), payload.Int(1), slow); got != 0 {
		t.Fatalf("expected timeout to score 0, got %f", got)
	}
}

func TestEvaluateFitnessBudget(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.MaxEvaluations = 2 })
	var calls atomic.Int64
	tgt := fnTarget("count", func(payload.Value) (payload.Value, error) {
		calls.Add(1)
		return payload.Null(), payload.ErrOverflow
	})
	for i := 0; i < 2; i++ {
		if got := f.EvaluateFitness(context.Background(), payload.Int(1), tgt); got != 95 {
			t.Fatalf("unexpected fitness: %f", got)
		}
	}
	if got := f.EvaluateFitness(context.Background(), payload.Int(1), tgt); got != 0 {
		t.Fatalf("expected exhausted budget to score 0, got %f", got)
	}
	if calls.Load() != 2 || f.TotalEvaluations() != 2 {
		t.Fatalf("unexpected call accounting: calls=%d evals=%d", calls.Load(), f.TotalEvaluations())
	}
	f.Reset()
	if f.TotalEvaluations() != 0 {
		t.Fatalf("reset did not clear evaluations: %d", f.TotalEvaluations())
	}
}

func assertSortedUnique(t *testing.T, results []Individual) {
	t.Helper()
	seen := map[string]bool{}
	for i, ind := range results {
		if i > 0 && results[i-1].Fitness < ind.Fitness {
			t.Fatalf("results not sorted at %d: %f < %f", i, results[i-1].Fitness, ind.Fitness)
		}
		key := ind.Payload.Key()
		if seen[key] {
			t.Fatalf("duplicate key in results: %s", key)
		}
		seen[key] = true
	}
}

func TestEvolveFindsOverflow(t *testing.T) {
	f := newTestFuzzer(t, nil)
	results := f.Evolve(context.Background(), multiplyTarget(), 3, nil)
	if len(results) == 0 {
		t.Fatal("expected archived attacks")
	}
	if f.Generation() > 3 {
		t.Fatalf("ran too many generations: %d", f.Generation())
	}
	if results[0].Fitness <= 60 {
		t.Fatalf("expected high-fitness survivor, got %f", results[0].Fitness)
	}
	assertSortedUnique(t, results)
}

func TestEvolveCapsGenerations(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.PopulationSize = 5 })
	null := fnTarget("null", func(payload.Value) (payload.Value, error) { return payload.Null(), nil })
	f.Evolve(context.Background(), null, 50, nil)
	if f.Generation() != MaxGenerations {
		t.Fatalf("unexpected generation count: got=%d want=%d", f.Generation(), MaxGenerations)
	}
}

func TestResetDropsArchive(t *testing.T) {
	f := newTestFuzzer(t, nil)
	if got := f.Evolve(context.Background(), multiplyTarget(), 2, nil); len(got) == 0 {
		t.Fatal("expected archived attacks before reset")
	}
	f.Reset()
	if f.Generation() != 0 || len(f.Archive()) != 0 {
		t.Fatalf("reset left state: generation=%d archive=%d", f.Generation(), len(f.Archive()))
	}
	null := fnTarget("null", func(payload.Value) (payload.Value, error) { return payload.Null(), nil })
	if got := f.Evolve(context.Background(), null, 2, nil); len(got) != 0 {
		t.Fatalf("evolve after reset reused archive: %d entries", len(got))
	}
}

func TestAddToPopulationInjectsCandidate(t *testing.T) {
	f := newTestFuzzer(t, func(c *Config) { c.MutationRate = 0 })
	magic := fnTarget("magic", func(v payload.Value) (payload.Value, error) {
		if s, _ := v.AsText(); s == "open sesame" {
			return payload.Null(), payload.ErrOverflow
		}
		return payload.Null(), nil
	})
	f.AddToPopulation(payload.Text("open sesame"))
	results := f.Evolve(context.Background(), magic, 1, nil)
	if len(results) != 1 {
		t.Fatalf("unexpected results: %d", len(results))
	}
	if got, _ := results[0].Payload.AsText(); got != "open sesame" || results[0].Fitness != 95 {
		t.Fatalf("unexpected archived attack: %s %f", results[0].Payload, results[0].Fitness)
	}
}

func TestDedupeKeepsFirstSeen(t *testing.T) {
	archive := []Individual{
		{Payload: payload.Int(1), Fitness: 40},
		{Payload: payload.Int(1), Fitness: 90},
		{Payload: payload.Text("1"), Fitness: 50},
	}
	got := Dedupe(archive)
	if len(got) != 2 {
		t.Fatalf("unexpected dedupe size: %d", len(got))
	}
	if got[0].Fitness != 50 || got[1].Fitness != 40 {
		t.Fatalf("unexpected dedupe order: %+v", got)
	}
}
