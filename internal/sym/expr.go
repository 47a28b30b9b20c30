// Package sym holds the small expression language used by instrumented
// branches and the constraint solver that reasons about it.
package sym

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnbound    = errors.New("unbound parameter")
	ErrNotBoolean = errors.New("expression is not boolean")
	ErrArithmetic = errors.New("arithmetic overflow")
)

// Expr is a node of the expression tree. Integer and boolean expressions
// share the interface; booleans evaluate to 0 or 1.
type Expr interface {
	String() string
	isBool() bool
}

type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"

	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
	OpEq Op = "=="
	OpNe Op = "!="
)

// ParamExpr is a symbolic integer bound to a declared target parameter.
type ParamExpr struct{ Name string }

// ConstExpr is an integer literal.
type ConstExpr struct{ Value int64 }

// LocalExpr is a concrete local value. It is never expressible as a
// constraint over parameters.
type LocalExpr struct {
	Name  string
	Value int64
}

type ArithExpr struct {
	Op   Op
	L, R Expr
}

type CompareExpr struct {
	Op   Op
	L, R Expr
}

type NotExpr struct{ X Expr }

type AndExpr struct{ L, R Expr }

type OrExpr struct{ L, R Expr }

func Param(name string) Expr { return ParamExpr{Name: name} }
func Int(v int64) Expr { return ConstExpr{Value: v} }
func Local(name string, v int64) Expr { return LocalExpr{Name: name, Value: v} }
func Add(l, r Expr) Expr { return ArithExpr{Op: OpAdd, L: l, R: r} }
func Sub(l, r Expr) Expr { return ArithExpr{Op: OpSub, L: l, R: r} }
func Mul(l, r Expr) Expr { return ArithExpr{Op: OpMul, L: l, R: r} }
func Lt(l, r Expr) Expr { return CompareExpr{Op: OpLt, L: l, R: r} }
func Le(l, r Expr) Expr { return CompareExpr{Op: OpLe, L: l, R: r} }
func Gt(l, r Expr) Expr { return CompareExpr{Op: OpGt, L: l, R: r} }
func Ge(l, r Expr) Expr { return CompareExpr{Op: OpGe, L: l, R: r} }
func Eq(l, r Expr) Expr { return CompareExpr{Op: OpEq, L: l, R: r} }
func Ne(l, r Expr) Expr { return CompareExpr{Op: OpNe, L: l, R: r} }
func And(l, r Expr) Expr { return AndExpr{L: l, R: r} }
func Or(l, r Expr) Expr { return OrExpr{L: l, R: r} }

func (e ParamExpr) String() string { return e.Name }
func (e ConstExpr) String() string { return strconv.FormatInt(e.Value, 10) }
func (e LocalExpr) String() string { return e.Name }
func (e ArithExpr) String() string { return wrap(e.L) + " " + string(e.Op) + " " + wrap(e.R) }
func (e CompareExpr) String() string { return wrap(e.L) + " " + string(e.Op) + " " + wrap(e.R) }
func (e NotExpr) String() string { return "not (" + e.X.String() + ")" }
func (e AndExpr) String() string { return wrap(e.L) + " and " + wrap(e.R) }
func (e OrExpr) String() string { return wrap(e.L) + " or " + wrap(e.R) }

func (ParamExpr) isBool() bool { return false }
func (ConstExpr) isBool() bool { return false }
func (LocalExpr) isBool() bool { return false }
func (ArithExpr) isBool() bool { return false }
func (CompareExpr) isBool() bool { return true }
func (NotExpr) isBool() bool { return true }
func (AndExpr) isBool() bool { return true }
func (OrExpr) isBool() bool { return true }

func wrap(e Expr) string {
	switch e.(type) {
	case ParamExpr, ConstExpr, LocalExpr, NotExpr:
		return e.String()
	default:
		return "(" + e.String() + ")"
	}
}

// Not negates a boolean expression, pushing the negation into comparisons
// and through and/or.
func Not(e Expr) Expr {
	switch n := e.(type) {
	case CompareExpr:
		return CompareExpr{Op: negateOp(n.Op), L: n.L, R: n.R}
	case NotExpr:
		return n.X
	case AndExpr:
		return OrExpr{L: Not(n.L), R: Not(n.R)}
	case OrExpr:
		return AndExpr{L: Not(n.L), R: Not(n.R)}
	default:
		return NotExpr{X: e}
	}
}

func negateOp(op Op) Op {
	switch op {
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	case OpGe:
		return OpLt
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	}
	return op
}

func flipOp(op Op) Op {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

// Params lists the distinct parameter names referenced by e in first-seen order.
func Params(e Expr) []string {
	seen := map[string]struct{}{}
	var out []string
	walk(e, func(node Expr) {
		if p, ok := node.(ParamExpr); ok {
			if _, dup := seen[p.Name]; !dup {
				seen[p.Name] = struct{}{}
				out = append(out, p.Name)
			}
		}
	})
	return out
}

// Locals collects the concrete locals referenced by e by name.
func Locals(e Expr) map[string]int64 {
	out := map[string]int64{}
	walk(e, func(node Expr) {
		if l, ok := node.(LocalExpr); ok {
			out[l.Name] = l.Value
		}
	})
	return out
}

// Expressible reports whether e is a boolean expression over the declared
// parameters and literals only.
func Expressible(e Expr, declared []string) bool {
	if e == nil || !e.isBool() {
		return false
	}
	allowed := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		allowed[name] = struct{}{}
	}
	ok := true
	walk(e, func(node Expr) {
		switch n := node.(type) {
		case LocalExpr:
			ok = false
		case ParamExpr:
			if _, found := allowed[n.Name]; !found {
				ok = false
			}
		}
	})
	return ok
}

func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case ArithExpr:
		walk(n.L, fn)
		walk(n.R, fn)
	case CompareExpr:
		walk(n.L, fn)
		walk(n.R, fn)
	case NotExpr:
		walk(n.X, fn)
	case AndExpr:
		walk(n.L, fn)
		walk(n.R, fn)
	case OrExpr:
		walk(n.L, fn)
		walk(n.R, fn)
	}
}

// Eval computes an integer expression under env.
func Eval(e Expr, env map[string]int64) (int64, error) {
	switch n := e.(type) {
	case ParamExpr:
		v, ok := env[n.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnbound, n.Name)
		}
		return v, nil
	case ConstExpr:
		return n.Value, nil
	case LocalExpr:
		return n.Value, nil
	case ArithExpr:
		l, err := Eval(n.L, env)
		if err != nil {
			return 0, err
		}
		r, err := Eval(n.R, env)
		if err != nil {
			return 0, err
		}
		return arith(n.Op, l, r)
	default:
		ok, err := Truth(e, env)
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	}
}

// Truth computes a boolean expression under env.
func Truth(e Expr, env map[string]int64) (bool, error) {
	switch n := e.(type) {
	case CompareExpr:
		l, err := Eval(n.L, env)
		if err != nil {
			return false, err
		}
		r, err := Eval(n.R, env)
		if err != nil {
			return false, err
		}
		return compare(n.Op, l, r), nil
	case NotExpr:
		v, err := Truth(n.X, env)
		return !v, err
	case AndExpr:
		l, err := Truth(n.L, env)
		if err != nil || !l {
			return false, err
		}
		return Truth(n.R, env)
	case OrExpr:
		l, err := Truth(n.L, env)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return Truth(n.R, env)
	default:
		return false, fmt.Errorf("%w: %s", ErrNotBoolean, e)
	}
}

func arith(op Op, l, r int64) (int64, error) {
	switch op {
	case OpAdd:
		c := l + r
		if (r > 0 && c < l) || (r < 0 && c > l) {
			return 0, ErrArithmetic
		}
		return c, nil
	case OpSub:
		c := l - r
		if (r < 0 && c < l) || (r > 0 && c > l) {
			return 0, ErrArithmetic
		}
		return c, nil
	case OpMul:
		if l == 0 || r == 0 {
			return 0, nil
		}
		c := l * r
		if c/r != l || (l == -1 && r == minInt64) || (r == -1 && l == minInt64) {
			return 0, ErrArithmetic
		}
		return c, nil
	}
	return 0, fmt.Errorf("unknown arithmetic op %q", op)
}

func compare(op Op, l, r int64) bool {
	switch op {
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	}
	return false
}

const minInt64 = -1 << 63
