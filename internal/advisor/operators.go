package advisor

import (
	"math/rand"

	"adversary/internal/evo"
	"adversary/internal/payload"
)

const overflowFactor = 1 << 16

// IntegerOverflow scales integers by 2^16 and nudges them by one.
type IntegerOverflow struct{}

func (IntegerOverflow) Name() string { return "integer_overflow_mutator" }

func (IntegerOverflow) Applicable(v payload.Value) bool { return v.Kind() == payload.KindInteger }

func (IntegerOverflow) Apply(rng *rand.Rand, v payload.Value) (payload.Value, error) {
	x, ok := v.AsInt()
	if !ok {
		return v, evo.ErrKindMismatch
	}
	scaled, err := payload.MulInt(x, overflowFactor)
	if err != nil {
		return v, err
	}
	nudge := int64(1)
	if rng.Intn(2) == 0 {
		nudge = -1
	}
	next, err := payload.AddInt(scaled, nudge)
	if err != nil {
		return v, err
	}
	return payload.Int(next), nil
}

// CodeInjection wraps text in an eval call.
type CodeInjection struct{}

func (CodeInjection) Name() string { return "code_injection_mutator" }

func (CodeInjection) Applicable(v payload.Value) bool { return v.Kind() == payload.KindText }

func (CodeInjection) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	s, ok := v.AsText()
	if !ok {
		return v, evo.ErrKindMismatch
	}
	return payload.Text("eval('" + s + "')"), nil
}

// General shifts numbers by -10, 0 or +10 and appends "", " " or NUL to text.
type General struct{}

func (General) Name() string { return "general_mutator" }

func (General) Applicable(v payload.Value) bool {
	switch v.Kind() {
	case payload.KindInteger, payload.KindFloat, payload.KindText:
		return true
	default:
		return false
	}
}

var (
	generalShifts   = []int64{-10, 10, 0}
	generalSuffixes = []string{"", " ", "\x00"}
)

func (General) Apply(rng *rand.Rand, v payload.Value) (payload.Value, error) {
	switch v.Kind() {
	case payload.KindInteger:
		x, _ := v.AsInt()
		next, err := payload.AddInt(x, generalShifts[rng.Intn(len(generalShifts))])
		if err != nil {
			return v, err
		}
		return payload.Int(next), nil
	case payload.KindFloat:
		x, _ := v.AsFloat()
		return payload.Float(x + float64(generalShifts[rng.Intn(len(generalShifts))])), nil
	case payload.KindText:
		s, _ := v.AsText()
		return payload.Text(s + generalSuffixes[rng.Intn(len(generalSuffixes))]), nil
	default:
		return v, evo.ErrKindMismatch
	}
}

func init() {
	for _, op := range []evo.Operator{IntegerOverflow{}, CodeInjection{}, General{}} {
		if err := evo.RegisterOperator(op); err != nil {
			panic(err)
		}
	}
}
