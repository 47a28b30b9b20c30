// Package concolic derives new integer inputs that force an unexplored branch
// of a target, starting from one concrete seed.
package concolic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adversary/internal/payload"
	"adversary/internal/sym"
	"adversary/internal/target"
)

// ErrSignatureMismatch reports a seed whose arity or kinds do not fit the
// target's declared integer parameters. Callers should try the next seed.
var ErrSignatureMismatch = errors.New("seed does not match target signature")

type Config struct {
	Solver  sym.Solver
	Timeout time.Duration
	Seed    int64
	Logger  *slog.Logger
}

// Explorer implements flip-last-branch concolic exploration. It is not safe
// for concurrent use: the solver is shared between calls.
type Explorer struct {
	solver  sym.Solver
	invoker *target.Invoker
	logger  *slog.Logger

	last      []sym.Expr
	lastTrace []Step
}

func NewExplorer(cfg Config) *Explorer {
	solver := cfg.Solver
	if solver == nil {
		solver = sym.NewBoundedSolver(cfg.Seed)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Explorer{
		solver:  solver,
		invoker: target.NewInvoker(cfg.Timeout),
		logger:  logger,
	}
}

// LastConstraints returns the expressible path constraints derived by the
// most recent ExplorePath call, in execution order.
func (e *Explorer) LastConstraints() []sym.Expr {
	return append([]sym.Expr(nil), e.last...)
}

// LastTrace returns every branch observed by the most recent call, including
// those that could not be expressed over declared parameters.
func (e *Explorer) LastTrace() []Step {
	return append([]Step(nil), e.lastTrace...)
}

// ExplorePath runs t on seed, negates the last recoverable branch decision
// and asks the solver for an input that satisfies the flipped path. The
// boolean result is false when no new input was found.
func (e *Explorer) ExplorePath(ctx context.Context, t target.Target, seed []payload.Value) ([]payload.Value, bool, error) {
	e.last = nil
	e.lastTrace = nil
	if err := checkSignature(t, seed); err != nil {
		return nil, false, err
	}

	e.solver.Reset()
	for _, name := range t.Params {
		e.solver.NewInt(name)
	}

	trace := &Trace{}
	out := e.invoker.WithTracer(trace).Invoke(ctx, t, seed)
	if out.TimedOut {
		e.logger.Debug("concolic run timed out", "target", t.Name)
		return nil, false, nil
	}
	if out.Err != nil {
		e.logger.Debug("concolic run failed; using partial trace", "target", t.Name, "err", out.Err)
	}

	steps := trace.Steps()
	e.lastTrace = steps
	constraints := make([]sym.Expr, 0, len(steps))
	for _, step := range steps {
		c := step.PathConstraint()
		if !sym.Expressible(c, t.Params) {
			continue
		}
		constraints = append(constraints, c)
	}
	e.last = constraints
	if len(constraints) == 0 {
		return nil, false, nil
	}

	n := len(constraints)
	e.solver.Add(constraints[:n-1]...)
	e.solver.Add(sym.Not(constraints[n-1]))
	result, err := e.solver.Check(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("solve flipped path for %s: %w", t.Name, err)
	}
	if result != sym.Sat {
		return nil, false, nil
	}

	model := e.solver.Model()
	next := make([]payload.Value, len(t.Params))
	for i, name := range t.Params {
		v, ok := model.Int(name)
		if !ok {
			v, _ = seed[i].AsInt()
		}
		next[i] = payload.Int(v)
	}
	return next, true, nil
}

func checkSignature(t target.Target, seed []payload.Value) error {
	if len(seed) != t.Arity() {
		return fmt.Errorf("%w: %s expects %d arguments, seed has %d", ErrSignatureMismatch, t.Name, t.Arity(), len(seed))
	}
	for i, v := range seed {
		if v.Kind() != payload.KindInteger {
			return fmt.Errorf("%w: %s parameter %s needs an integer, seed has %s", ErrSignatureMismatch, t.Name, t.Params[i], v.TypeName())
		}
	}
	return nil
}

// BoundaryInputs proposes integers around every constant compared against in
// constraints, plus the fixed values 0, 1 and -1.
func BoundaryInputs(constraints []sym.Expr) []payload.Value {
	seen := map[int64]struct{}{}
	var out []payload.Value
	add := func(v int64) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, payload.Int(v))
	}
	add(0)
	add(1)
	add(-1)
	for _, c := range constraints {
		collectConstants(c, func(v int64) {
			if v > minBoundary {
				add(v - 1)
			}
			add(v)
			if v < maxBoundary {
				add(v + 1)
			}
		})
	}
	return out
}

const (
	minBoundary = -1 << 62
	maxBoundary = 1 << 62
)

func collectConstants(e sym.Expr, fn func(int64)) {
	switch n := e.(type) {
	case sym.ConstExpr:
		fn(n.Value)
	case sym.ArithExpr:
		collectConstants(n.L, fn)
		collectConstants(n.R, fn)
	case sym.CompareExpr:
		collectConstants(n.L, fn)
		collectConstants(n.R, fn)
	case sym.NotExpr:
		collectConstants(n.X, fn)
	case sym.AndExpr:
		collectConstants(n.L, fn)
		collectConstants(n.R, fn)
	case sym.OrExpr:
		collectConstants(n.L, fn)
		collectConstants(n.R, fn)
	}
}
