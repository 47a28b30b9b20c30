package sym

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Result is the outcome of a satisfiability check.
type Result int

const (
	Unknown Result = iota
	Sat
	Unsat
)

func (r Result) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Model maps symbolic variables to concrete integers.
type Model interface {
	Int(name string) (int64, bool)
}

// Solver is the constraint solver collaborator used by the concolic explorer.
type Solver interface {
	NewInt(name string) Expr
	Add(constraints ...Expr)
	Reset()
	Check(ctx context.Context) (Result, error)
	Model() Model
}

var ErrNoModel = errors.New("no model available")

const (
	// DefaultBound is the window random sampling prefers. It never narrows
	// the domain: variables range over all of int64.
	DefaultBound     int64 = 1 << 40
	defaultMaxCombos       = 4096
	defaultRandTries       = 2000
)

type mapModel map[string]int64

func (m mapModel) Int(name string) (int64, bool) {
	v, ok := m[name]
	return v, ok
}

// BoundedSolver decides conjunctions of integer constraints by interval
// propagation over single-variable atoms followed by a bounded search over
// boundary candidates and random samples. It proves unsatisfiability only
// through intervals the constraints themselves empty; anything else it
// cannot satisfy is Unknown.
type BoundedSolver struct {
	Bound     int64
	MaxCombos int
	RandTries int
	Rand      *rand.Rand

	vars        []string
	constraints []Expr
	model       mapModel
}

func NewBoundedSolver(seed int64) *BoundedSolver {
	return &BoundedSolver{
		Bound:     DefaultBound,
		MaxCombos: defaultMaxCombos,
		RandTries: defaultRandTries,
		Rand:      rand.New(rand.NewSource(seed)),
	}
}

func (s *BoundedSolver) NewInt(name string) Expr {
	for _, existing := range s.vars {
		if existing == name {
			return Param(name)
		}
	}
	s.vars = append(s.vars, name)
	return Param(name)
}

func (s *BoundedSolver) Add(constraints ...Expr) {
	s.constraints = append(s.constraints, constraints...)
}

func (s *BoundedSolver) Reset() {
	s.vars = nil
	s.constraints = nil
	s.model = nil
}

func (s *BoundedSolver) Model() Model {
	if s.model == nil {
		return mapModel{}
	}
	return s.model
}

type interval struct {
	lo, hi   int64
	empty    bool
	excluded map[int64]struct{}
	hints    []int64
}

func newInterval() *interval {
	return &interval{lo: math.MinInt64, hi: math.MaxInt64, excluded: map[int64]struct{}{}}
}

func (iv *interval) isEmpty() bool {
	if iv.empty || iv.lo > iv.hi {
		return true
	}
	return iv.lo == iv.hi && !iv.contains(iv.lo)
}

func (iv *interval) contains(v int64) bool {
	if iv.empty || v < iv.lo || v > iv.hi {
		return false
	}
	_, excluded := iv.excluded[v]
	return !excluded
}

func (s *BoundedSolver) Check(ctx context.Context) (Result, error) {
	s.model = nil
	for _, c := range s.constraints {
		if c == nil || !c.isBool() {
			return Unknown, fmt.Errorf("%w: %v", ErrNotBoolean, c)
		}
		for _, name := range Params(c) {
			s.NewInt(name)
		}
	}
	bound := s.Bound
	if bound <= 0 {
		bound = DefaultBound
	}

	intervals := make(map[string]*interval, len(s.vars))
	for _, name := range s.vars {
		intervals[name] = newInterval()
	}
	for _, c := range flatten(s.constraints) {
		narrow(c, intervals)
	}
	for _, name := range s.vars {
		if intervals[name].isEmpty() {
			return Unsat, nil
		}
	}
	if len(s.vars) == 0 {
		ok, err := s.satisfied(mapModel{})
		if err != nil {
			return Unknown, err
		}
		if ok {
			s.model = mapModel{}
			return Sat, nil
		}
		return Unsat, nil
	}

	candidates := make([][]int64, len(s.vars))
	for i, name := range s.vars {
		candidates[i] = candidateValues(intervals[name])
	}

	maxCombos := s.MaxCombos
	if maxCombos <= 0 {
		maxCombos = defaultMaxCombos
	}
	if anyEmpty(candidates) {
		maxCombos = 0
	}
	idx := make([]int, len(s.vars))
	for tried := 0; tried < maxCombos; tried++ {
		if tried%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Unknown, err
			}
		}
		assignment := make(mapModel, len(s.vars))
		for i, name := range s.vars {
			assignment[name] = candidates[i][idx[i]]
		}
		if ok, _ := s.satisfied(assignment); ok {
			s.model = assignment
			return Sat, nil
		}
		if !advance(idx, candidates) {
			break
		}
	}

	if s.Rand != nil {
		tries := s.RandTries
		if tries <= 0 {
			tries = defaultRandTries
		}
		for t := 0; t < tries; t++ {
			if t%256 == 0 {
				if err := ctx.Err(); err != nil {
					return Unknown, err
				}
			}
			assignment := make(mapModel, len(s.vars))
			for _, name := range s.vars {
				iv := intervals[name]
				assignment[name] = sampleInterval(s.Rand, iv, bound)
			}
			if ok, _ := s.satisfied(assignment); ok {
				s.model = assignment
				return Sat, nil
			}
		}
	}
	return Unknown, nil
}

func (s *BoundedSolver) satisfied(assignment mapModel) (bool, error) {
	for _, c := range s.constraints {
		ok, err := Truth(c, assignment)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func anyEmpty(candidates [][]int64) bool {
	for _, c := range candidates {
		if len(c) == 0 {
			return true
		}
	}
	return false
}

// advance steps idx through the cartesian product of candidates, odometer style.
func advance(idx []int, candidates [][]int64) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(candidates[i]) {
			return true
		}
		idx[i] = 0
	}
	return false
}

func flatten(constraints []Expr) []Expr {
	var out []Expr
	for _, c := range constraints {
		if and, ok := c.(AndExpr); ok {
			out = append(out, flatten([]Expr{and.L, and.R})...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// narrow applies a top-level atom of the form param OP const (either side).
func narrow(c Expr, intervals map[string]*interval) {
	cmp, ok := c.(CompareExpr)
	if !ok {
		collectHints(c, intervals)
		return
	}
	op := cmp.Op
	p, pok := cmp.L.(ParamExpr)
	k, kok := cmp.R.(ConstExpr)
	if !pok || !kok {
		p, pok = cmp.R.(ParamExpr)
		k, kok = cmp.L.(ConstExpr)
		op = flipOp(op)
	}
	if !pok || !kok {
		collectHints(c, intervals)
		return
	}
	iv := intervals[p.Name]
	if iv == nil {
		return
	}
	v := k.Value
	switch op {
	case OpLt:
		if v == math.MinInt64 {
			iv.empty = true
		} else if v-1 < iv.hi {
			iv.hi = v - 1
		}
	case OpLe:
		if v < iv.hi {
			iv.hi = v
		}
	case OpGt:
		if v == math.MaxInt64 {
			iv.empty = true
		} else if v+1 > iv.lo {
			iv.lo = v + 1
		}
	case OpGe:
		if v > iv.lo {
			iv.lo = v
		}
	case OpEq:
		if v > iv.lo {
			iv.lo = v
		}
		if v < iv.hi {
			iv.hi = v
		}
	case OpNe:
		iv.excluded[v] = struct{}{}
	}
	iv.hints = append(iv.hints, neighbours(v)...)
}

// neighbours is v-1, v, v+1 without wrapping at the int64 extremes.
func neighbours(v int64) []int64 {
	out := make([]int64, 0, 3)
	if v > math.MinInt64 {
		out = append(out, v-1)
	}
	out = append(out, v)
	if v < math.MaxInt64 {
		out = append(out, v+1)
	}
	return out
}

// collectHints records literals of non-atomic constraints as search candidates
// for every variable they mention.
func collectHints(c Expr, intervals map[string]*interval) {
	var consts []int64
	walk(c, func(node Expr) {
		if k, ok := node.(ConstExpr); ok {
			consts = append(consts, neighbours(k.Value)...)
		}
	})
	for _, name := range Params(c) {
		if iv := intervals[name]; iv != nil {
			iv.hints = append(iv.hints, consts...)
		}
	}
}

// candidateValues orders in-interval candidates by distance from zero.
func candidateValues(iv *interval) []int64 {
	raw := append([]int64{0, 1, -1, iv.lo, iv.hi}, iv.hints...)
	if iv.lo > 0 && iv.lo < math.MaxInt64 {
		raw = append(raw, iv.lo+1)
	}
	if iv.hi < 0 && iv.hi > math.MinInt64 {
		raw = append(raw, iv.hi-1)
	}
	seen := map[int64]struct{}{}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		if !iv.contains(v) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := magnitude(out[i]), magnitude(out[j])
		if ai == aj {
			return out[i] > out[j]
		}
		return ai < aj
	})
	return out
}

// sampleInterval draws from the part of iv inside [-bound, bound], or from all
// of iv when that window misses it.
func sampleInterval(rng *rand.Rand, iv *interval, bound int64) int64 {
	lo, hi := iv.lo, iv.hi
	if bound > 0 && max(lo, -bound) <= min(hi, bound) {
		lo, hi = max(lo, -bound), min(hi, bound)
	}
	span := uint64(hi - lo)
	if span == math.MaxUint64 {
		return int64(rng.Uint64())
	}
	return lo + int64(rng.Uint64()%(span+1))
}

// magnitude is |v| as an unsigned value, defined for math.MinInt64.
func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
