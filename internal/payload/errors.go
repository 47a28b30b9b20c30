package payload

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
)

// Error kinds a target can raise. Targets wrap them with fmt.Errorf("%w")
// or use the helpers below; recovered panics are mapped onto the same kinds.
var (
	ErrOutOfMemory  = errors.New("out of memory")
	ErrRecursion    = errors.New("recursion limit exceeded")
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrDivideByZero = errors.New("division by zero")
	ErrType         = errors.New("type error")
	ErrValue        = errors.New("value error")
)

// ErrorClass orders failure kinds by fitness precedence.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassOther
	ClassValue
	ClassType
	ClassDivideByZero
	ClassOverflow
	ClassOutOfMemory
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassOther:
		return "other"
	case ClassValue:
		return "value"
	case ClassType:
		return "type"
	case ClassDivideByZero:
		return "divide_by_zero"
	case ClassOverflow:
		return "overflow"
	case ClassOutOfMemory:
		return "out_of_memory"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// PanicError carries a value recovered from a panicking target.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Classify maps an error onto its class. Recursion and overflow share a class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	switch {
	case errors.Is(err, ErrOutOfMemory):
		return ClassOutOfMemory
	case errors.Is(err, ErrRecursion), errors.Is(err, ErrOverflow):
		return ClassOverflow
	case errors.Is(err, ErrDivideByZero):
		return ClassDivideByZero
	case errors.Is(err, ErrType):
		return ClassType
	case errors.Is(err, ErrValue):
		return ClassValue
	}

	var typeAssert *runtime.TypeAssertionError
	if errors.As(err, &typeAssert) {
		return ClassType
	}
	var rtErr runtime.Error
	if errors.As(err, &rtErr) {
		msg := rtErr.Error()
		switch {
		case strings.Contains(msg, "divide by zero"):
			return ClassDivideByZero
		case strings.Contains(msg, "out of memory"), strings.Contains(msg, "makeslice: len out of range"):
			return ClassOutOfMemory
		case strings.Contains(msg, "interface conversion"):
			return ClassType
		}
	}
	return ClassOther
}

// Matches reports whether err is one of the expected errors.
func Matches(err error, expected []error) bool {
	for _, want := range expected {
		if want != nil && errors.Is(err, want) {
			return true
		}
	}
	return false
}

func TypeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

func ValueErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValue, fmt.Sprintf(format, args...))
}

// MulInt multiplies with overflow detection.
func MulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return c, nil
}

// AddInt adds with overflow detection.
func AddInt(a, b int64) (int64, error) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return c, nil
}
