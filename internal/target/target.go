// Package target declares the contract between the engine and the functions
// it attacks: an explicit signature, an instrumented branch API for concolic
// exploration, and a supervised invoker with a hard deadline.
package target

import (
	"context"
	"errors"
	"fmt"

	"adversary/internal/payload"
	"adversary/internal/sym"
)

// Kind describes how a target's result should be interpreted.
type Kind string

const (
	KindFunction Kind = "function"
	// KindGuard marks an authorization predicate: returning true is a grant.
	KindGuard Kind = "guard"
)

var ErrNoFunc = errors.New("target function is required")

// Func is the adapted form of an attacked function. Args are positional and
// match Target.Params.
type Func func(call *Call, args []payload.Value) (payload.Value, error)

// Target is a function under analysis with its declared signature.
type Target struct {
	Name   string
	Params []string
	Kind   Kind
	Fn     Func
}

func (t Target) Arity() int {
	return len(t.Params)
}

func (t Target) Validate() error {
	if t.Name == "" {
		return errors.New("target name is required")
	}
	if t.Fn == nil {
		return fmt.Errorf("%w: %s", ErrNoFunc, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Params))
	for _, p := range t.Params {
		if p == "" {
			return fmt.Errorf("target %s has an empty parameter name", t.Name)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("target %s declares parameter %s twice", t.Name, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Broadcast repeats a single payload across every declared parameter.
func (t Target) Broadcast(v payload.Value) []payload.Value {
	args := make([]payload.Value, len(t.Params))
	for i := range args {
		args[i] = v.Clone()
	}
	return args
}

// Context carries per-target analysis metadata.
type Context struct {
	// ExpectedErrors lists error kinds that are part of the target's
	// sanctioned contract and must not count as failures.
	ExpectedErrors []error
}

func (c *Context) Expected(err error) bool {
	if c == nil || err == nil {
		return false
	}
	return payload.Matches(err, c.ExpectedErrors)
}

// Tracer observes branches taken during one call.
type Tracer interface {
	OnBranch(cond sym.Expr, taken bool, bindings map[string]int64)
}

// Call is the per-invocation handle passed to a target function.
type Call struct {
	ctx      context.Context
	params   []string
	args     []payload.Value
	tracer   Tracer
	bindings map[string]int64
}

func newCall(ctx context.Context, t Target, args []payload.Value, tracer Tracer) *Call {
	bindings := make(map[string]int64, len(t.Params))
	for i, name := range t.Params {
		if i >= len(args) {
			break
		}
		if v, ok := args[i].AsInt(); ok {
			bindings[name] = v
		}
	}
	return &Call{ctx: ctx, params: t.Params, args: args, tracer: tracer, bindings: bindings}
}

// Context lets long-running targets cooperate with cancellation.
func (c *Call) Context() context.Context {
	if c == nil || c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Branch evaluates cond against the integer-bound parameters, reports the
// decision to the tracer with the parameter and local values and returns it. Conditions that cannot be evaluated
// concretely (non-integer arguments, unbound names) are false.
func (c *Call) Branch(cond sym.Expr) bool {
	if c == nil {
		return false
	}
	taken, err := sym.Truth(cond, c.bindings)
	if err != nil {
		taken = false
	}
	if c.tracer != nil {
		snapshot := sym.Locals(cond)
		for k, v := range c.bindings {
			snapshot[k] = v
		}
		c.tracer.OnBranch(cond, taken, snapshot)
	}
	return taken
}

// Arg returns the i-th argument or Null.
func (c *Call) Arg(i int) payload.Value {
	if c == nil || i < 0 || i >= len(c.args) {
		return payload.Null()
	}
	return c.args[i]
}
