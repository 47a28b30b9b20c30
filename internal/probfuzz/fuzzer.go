// Package probfuzz samples inputs by weighted kind and tallies per-kind
// success and failure against a target's sanctioned error contract.
package probfuzz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"adversary/internal/payload"
	"adversary/internal/target"
)

const (
	DefaultIterations = 100
	MinIterations     = 10
	MaxIterations     = 5000
)

var (
	textBases    = []string{"", "test", "bad", "' OR '1'='1", "<script>alert(1)</script>"}
	suffixRunes  = []rune("abcdefghijklmnopqrstuvwxyz\x00ÿ")
	integerFixed = []int64{0, 1, -1, math.MaxInt32, math.MinInt32}
)

// Weight assigns a non-normalized sampling weight to a payload kind.
type Weight struct {
	Kind   payload.Kind
	Weight float64
}

// Counts tallies outcomes for one kind.
type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func (c Counts) Total() int {
	return c.Success + c.Failure
}

// FailureRatio is Failure/Total, or 0 when nothing ran.
func (c Counts) FailureRatio() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Failure) / float64(c.Total())
}

type Config struct {
	Iterations int
	Seed       int64
	Timeout    time.Duration
	Logger     *slog.Logger
}

type Fuzzer struct {
	iterations int
	rng        *rand.Rand
	invoker    *target.Invoker
	logger     *slog.Logger
}

func New(cfg Config) *Fuzzer {
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	iterations = max(MinIterations, min(iterations, MaxIterations))
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuzzer{
		iterations: iterations,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		invoker:    target.NewInvoker(cfg.Timeout),
		logger:     logger,
	}
}

func (f *Fuzzer) Iterations() int {
	return f.iterations
}

// Fuzz runs the configured number of iterations. An error counts as success
// when tctx declares it expected.
func (f *Fuzzer) Fuzz(ctx context.Context, t target.Target, weights []Weight, tctx *target.Context) (map[string]Counts, error) {
	total := 0.0
	for _, w := range weights {
		if w.Weight < 0 || math.IsNaN(w.Weight) {
			return nil, fmt.Errorf("invalid weight for %s: %f", w.Kind, w.Weight)
		}
		total += w.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("at least one positive kind weight is required")
	}

	results := make(map[string]Counts)
	for i := 0; i < f.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		kind := f.chooseKind(weights, total)
		input := f.Generate(kind)
		counts := results[kind.String()]

		out := f.invoker.InvokePayload(ctx, t, input)
		switch {
		case out.Err == nil:
			counts.Success++
		case tctx.Expected(out.Err):
			counts.Success++
		default:
			counts.Failure++
		}
		results[kind.String()] = counts
	}
	f.logger.Debug("probabilistic sweep finished", "target", t.Name, "iterations", f.iterations, "kinds", len(results))
	return results, nil
}

func (f *Fuzzer) chooseKind(weights []Weight, total float64) payload.Kind {
	pick := f.rng.Float64() * total
	acc := 0.0
	for _, w := range weights {
		acc += w.Weight
		if pick < acc {
			return w.Kind
		}
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i].Weight > 0 {
			return weights[i].Kind
		}
	}
	return weights[len(weights)-1].Kind
}

// Generate produces a representative value of kind.
func (f *Fuzzer) Generate(kind payload.Kind) payload.Value {
	switch kind {
	case payload.KindInteger:
		return payload.Int(f.integer())
	case payload.KindText:
		return payload.Text(f.text())
	case payload.KindBoolean:
		return payload.Bool(f.rng.Intn(2) == 0)
	case payload.KindFloat:
		return payload.Float(-1e6 + f.rng.Float64()*2e6)
	case payload.KindSequence:
		n := f.rng.Intn(4)
		items := make([]payload.Value, n)
		for i := range items {
			items[i] = payload.Int(f.integer())
		}
		return payload.Seq(items...)
	case payload.KindMapping:
		return payload.Map(map[string]payload.Value{f.text(): payload.Int(f.integer())})
	case payload.KindNull:
		return payload.Null()
	default:
		return payload.Null()
	}
}

func (f *Fuzzer) integer() int64 {
	choices := make([]int64, 0, 3+len(integerFixed))
	choices = append(choices,
		f.rng.Int63n(201)-100,
		1001+f.rng.Int63n(1000),
		f.rng.Int63n(1<<32)+math.MinInt32,
	)
	choices = append(choices, integerFixed...)
	return choices[f.rng.Intn(len(choices))]
}

func (f *Fuzzer) text() string {
	base := textBases[f.rng.Intn(len(textBases))]
	if f.rng.Intn(2) == 0 {
		return base
	}
	n := 1 + f.rng.Intn(10)
	var b strings.Builder
	b.WriteString(base)
	for i := 0; i < n; i++ {
		b.WriteRune(suffixRunes[f.rng.Intn(len(suffixRunes))])
	}
	return b.String()
}

// FailingKinds returns the kind names with at least one failure, sorted.
func FailingKinds(results map[string]Counts) []string {
	var names []string
	for name, c := range results {
		if c.Failure > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
