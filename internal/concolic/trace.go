package concolic

import (
	"sync"

	"adversary/internal/sym"
)

// Step is one executed branch: the condition as written, whether it was
// taken, and the integer bindings visible at that point.
type Step struct {
	Predicate string
	Taken     bool
	Bindings  map[string]int64
	Expr      sym.Expr
}

// PathConstraint is the condition in the direction execution took.
func (s Step) PathConstraint() sym.Expr {
	if s.Taken {
		return s.Expr
	}
	return sym.Not(s.Expr)
}

// Trace records the branches of a single exploration call.
type Trace struct {
	mu    sync.Mutex
	steps []Step
}

func (t *Trace) OnBranch(cond sym.Expr, taken bool, bindings map[string]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, Step{
		Predicate: cond.String(),
		Taken:     taken,
		Bindings:  bindings,
		Expr:      cond,
	})
}

func (t *Trace) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.steps...)
}
