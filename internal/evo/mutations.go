package evo

import (
	"math"
	"math/rand"
	"strings"
	"unicode/utf8"

	"adversary/internal/payload"
)

// Growth guards. Payloads past these bounds are returned unchanged by the
// default dispatch.
const (
	MaxMutableInteger   = int64(1e10)
	MaxDoublingInteger  = int64(1e8)
	MaxMutableTextLen   = 1000
	MaxDuplicateTextLen = 50
	MaxMutableSeqLen    = 100
)

// DoubleInteger doubles integers below MaxDoublingInteger in magnitude.
type DoubleInteger struct{}

func (DoubleInteger) Name() string { return "double_integer" }

func (DoubleInteger) Applicable(v payload.Value) bool { return v.Kind() == payload.KindInteger }

func (DoubleInteger) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	x, ok := v.AsInt()
	if !ok {
		return v, ErrKindMismatch
	}
	if abs64(x) >= MaxDoublingInteger {
		return v, nil
	}
	return payload.Int(x * 2), nil
}

type IncrementInteger struct{}

func (IncrementInteger) Name() string { return "increment_integer" }

func (IncrementInteger) Applicable(v payload.Value) bool { return v.Kind() == payload.KindInteger }

func (IncrementInteger) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	x, ok := v.AsInt()
	if !ok {
		return v, ErrKindMismatch
	}
	next, err := payload.AddInt(x, 1)
	if err != nil {
		return v, err
	}
	return payload.Int(next), nil
}

type NegateInteger struct{}

func (NegateInteger) Name() string { return "negate_integer" }

func (NegateInteger) Applicable(v payload.Value) bool { return v.Kind() == payload.KindInteger }

func (NegateInteger) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	x, ok := v.AsInt()
	if !ok {
		return v, ErrKindMismatch
	}
	next, err := payload.MulInt(x, -1)
	if err != nil {
		return v, err
	}
	return payload.Int(next), nil
}

// DuplicateText concatenates short text with itself.
type DuplicateText struct{}

func (DuplicateText) Name() string { return "duplicate_text" }

func (DuplicateText) Applicable(v payload.Value) bool { return v.Kind() == payload.KindText }

func (DuplicateText) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	s, ok := v.AsText()
	if !ok {
		return v, ErrKindMismatch
	}
	if utf8.RuneCountInString(s) >= MaxDuplicateTextLen {
		return v, nil
	}
	return payload.Text(s + s), nil
}

type AppendNull struct{}

func (AppendNull) Name() string { return "append_nul" }

func (AppendNull) Applicable(v payload.Value) bool { return v.Kind() == payload.KindText }

func (AppendNull) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	s, ok := v.AsText()
	if !ok {
		return v, ErrKindMismatch
	}
	return payload.Text(s + "\x00"), nil
}

// UppercaseText upper-cases text; empty text becomes "X".
type UppercaseText struct{}

func (UppercaseText) Name() string { return "uppercase_text" }

func (UppercaseText) Applicable(v payload.Value) bool { return v.Kind() == payload.KindText }

func (UppercaseText) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	s, ok := v.AsText()
	if !ok {
		return v, ErrKindMismatch
	}
	if s == "" {
		return payload.Text("X"), nil
	}
	return payload.Text(strings.ToUpper(s)), nil
}

type ClearText struct{}

func (ClearText) Name() string { return "clear_text" }

func (ClearText) Applicable(v payload.Value) bool { return v.Kind() == payload.KindText }

func (ClearText) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	if v.Kind() != payload.KindText {
		return v, ErrKindMismatch
	}
	return payload.Text(""), nil
}

// DuplicateSequence repeats a sequence's contents once.
type DuplicateSequence struct{}

func (DuplicateSequence) Name() string { return "duplicate_sequence" }

func (DuplicateSequence) Applicable(v payload.Value) bool { return v.Kind() == payload.KindSequence }

func (DuplicateSequence) Apply(_ *rand.Rand, v payload.Value) (payload.Value, error) {
	items, ok := v.AsSeq()
	if !ok {
		return v, ErrKindMismatch
	}
	return payload.Seq(append(items, items...)...), nil
}

// defaultOperators returns the kind-specific operator set for v, or nil when
// v is past its growth guard or its kind has no mutations.
func defaultOperators(v payload.Value) []Operator {
	switch v.Kind() {
	case payload.KindInteger:
		x, _ := v.AsInt()
		if abs64(x) > MaxMutableInteger {
			return nil
		}
		return []Operator{DoubleInteger{}, IncrementInteger{}, NegateInteger{}}
	case payload.KindText:
		s, _ := v.AsText()
		if utf8.RuneCountInString(s) > MaxMutableTextLen {
			return nil
		}
		return []Operator{DuplicateText{}, AppendNull{}, UppercaseText{}, ClearText{}}
	case payload.KindSequence:
		n, _ := v.Len()
		if n > MaxMutableSeqLen {
			return nil
		}
		return []Operator{DuplicateSequence{}}
	case payload.KindFloat, payload.KindBoolean, payload.KindMapping, payload.KindNull:
		return nil
	default:
		return nil
	}
}

func abs64(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}
