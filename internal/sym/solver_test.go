package sym

import (
	"context"
	"math"
	"testing"
)

func TestNotFlipsComparisons(t *testing.T) {
	a := Param("a")
	cases := []struct {
		in   Expr
		want string
	}{
		{Lt(a, Int(10)), "a >= 10"},
		{Eq(a, Int(3)), "a != 3"},
		{Not(Lt(a, Int(10))), "a < 10"},
		{And(Lt(a, Int(1)), Gt(a, Int(-1))), "(a >= 1) or (a <= -1)"},
	}
	for _, tc := range cases {
		if got := Not(tc.in).String(); got != tc.want {
			t.Fatalf("not(%s): got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestLocalsCollectsNamedValues(t *testing.T) {
	e := And(Gt(Local("doubled", 14), Param("a")), Ne(Local("rem", 1), Int(0)))
	got := Locals(e)
	if len(got) != 2 || got["doubled"] != 14 || got["rem"] != 1 {
		t.Fatalf("unexpected locals: %v", got)
	}
	if len(Locals(Lt(Param("a"), Int(3)))) != 0 {
		t.Fatal("expected no locals")
	}
}

func TestExpressibleRejectsLocalsAndUndeclared(t *testing.T) {
	declared := []string{"a", "b"}
	if !Expressible(Lt(Add(Param("a"), Param("b")), Int(7)), declared) {
		t.Fatal("expected arithmetic over declared params to be expressible")
	}
	if Expressible(Lt(Param("a"), Local("tmp", 4)), declared) {
		t.Fatal("expected local binding to be inexpressible")
	}
	if Expressible(Lt(Param("c"), Int(1)), declared) {
		t.Fatal("expected undeclared parameter to be inexpressible")
	}
	if Expressible(Param("a"), declared) {
		t.Fatal("expected non-boolean expression to be inexpressible")
	}
}

func TestTruthAndEval(t *testing.T) {
	env := map[string]int64{"a": 4, "b": 6}
	ok, err := Truth(And(Eq(Add(Param("a"), Param("b")), Int(10)), Ne(Param("a"), Param("b"))), env)
	if err != nil || !ok {
		t.Fatalf("unexpected truth: ok=%t err=%v", ok, err)
	}
	if _, err := Eval(Param("z"), env); err == nil {
		t.Fatal("expected unbound parameter error")
	}
	if _, err := Eval(Mul(Int(1<<62), Int(4)), env); err == nil {
		t.Fatal("expected arithmetic overflow")
	}
}

func TestBoundedSolverFlipsLastBranch(t *testing.T) {
	s := NewBoundedSolver(1)
	a := s.NewInt("a")
	s.Add(Not(Lt(a, Int(10))))
	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res != Sat {
		t.Fatalf("expected sat, got %s", res)
	}
	v, ok := s.Model().Int("a")
	if !ok || v != 10 {
		t.Fatalf("expected a=10, got %d (ok=%t)", v, ok)
	}
}

func TestBoundedSolverDetectsEmptyInterval(t *testing.T) {
	s := NewBoundedSolver(1)
	a := s.NewInt("a")
	s.Add(Lt(a, Int(10)), Not(Lt(a, Int(10))))
	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res != Unsat {
		t.Fatalf("expected unsat, got %s", res)
	}
}

func TestBoundedSolverMultiVariable(t *testing.T) {
	s := NewBoundedSolver(7)
	a := s.NewInt("a")
	b := s.NewInt("b")
	s.Add(Gt(a, Int(5)), Eq(Add(a, b), Int(20)))
	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res != Sat {
		t.Fatalf("expected sat, got %s", res)
	}
	av, _ := s.Model().Int("a")
	bv, _ := s.Model().Int("b")
	if av <= 5 || av+bv != 20 {
		t.Fatalf("model violates constraints: a=%d b=%d", av, bv)
	}
}

func TestBoundedSolverResetClearsState(t *testing.T) {
	s := NewBoundedSolver(1)
	a := s.NewInt("a")
	s.Add(Lt(a, Int(0)), Gt(a, Int(0)))
	if res, _ := s.Check(context.Background()); res != Unsat {
		t.Fatalf("expected unsat before reset, got %s", res)
	}
	s.Reset()
	a = s.NewInt("a")
	s.Add(Eq(a, Int(42)))
	res, err := s.Check(context.Background())
	if err != nil || res != Sat {
		t.Fatalf("expected sat after reset, got %s err=%v", res, err)
	}
	if v, _ := s.Model().Int("a"); v != 42 {
		t.Fatalf("expected a=42, got %d", v)
	}
}

func TestBoundedSolverBeyondSamplingBound(t *testing.T) {
	for _, k := range []int64{DefaultBound << 1, 5_000_000_000_000, -DefaultBound << 2} {
		s := NewBoundedSolver(1)
		a := s.NewInt("a")
		s.Add(Ge(a, Int(k)))
		res, err := s.Check(context.Background())
		if err != nil {
			t.Fatalf("check a >= %d: %v", k, err)
		}
		if res != Sat {
			t.Fatalf("a >= %d: got=%s want=sat", k, res)
		}
		if v, _ := s.Model().Int("a"); v < k {
			t.Fatalf("model violates a >= %d: a=%d", k, v)
		}
	}
}

func TestBoundedSolverInt64Extremes(t *testing.T) {
	cases := []struct {
		name string
		c    Expr
		want Result
		val  int64
	}{
		{"lt min", Lt(Param("a"), Int(math.MinInt64)), Unsat, 0},
		{"gt max", Gt(Param("a"), Int(math.MaxInt64)), Unsat, 0},
		{"ge max", Ge(Param("a"), Int(math.MaxInt64)), Sat, math.MaxInt64},
		{"le min", Le(Param("a"), Int(math.MinInt64)), Sat, math.MinInt64},
		{"eq min", Eq(Param("a"), Int(math.MinInt64)), Sat, math.MinInt64},
	}
	for _, tc := range cases {
		s := NewBoundedSolver(1)
		s.NewInt("a")
		s.Add(tc.c)
		res, err := s.Check(context.Background())
		if err != nil {
			t.Fatalf("%s: check: %v", tc.name, err)
		}
		if res != tc.want {
			t.Fatalf("%s: got=%s want=%s", tc.name, res, tc.want)
		}
		if res == Sat {
			if v, _ := s.Model().Int("a"); v != tc.val {
				t.Fatalf("%s: got a=%d want=%d", tc.name, v, tc.val)
			}
		}
	}
}
