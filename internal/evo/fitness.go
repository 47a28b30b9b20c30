package evo

import (
	"math"
	"strings"
	"time"

	"adversary/internal/payload"
	"adversary/internal/target"
)

const (
	MinFitness = 0.0
	MaxFitness = 100.0

	// SlowCallThreshold adds a timing bonus for calls slower than this.
	SlowCallThreshold = 10 * time.Millisecond
)

// ErrorFitness is the score assigned to a call that failed with the given
// class. Failures override every additive component.
func ErrorFitness(class payload.ErrorClass) float64 {
	switch class {
	case payload.ClassOutOfMemory:
		return 100
	case payload.ClassOverflow:
		return 95
	case payload.ClassDivideByZero:
		return 60
	case payload.ClassType:
		return 55
	case payload.ClassValue:
		return 50
	case payload.ClassNone:
		return 0
	default:
		return 35
	}
}

// Score converts an observed call outcome into a fitness in [0,100].
func Score(out target.Outcome, kind target.Kind, timeout time.Duration) float64 {
	if out.TimedOut || out.Duration > timeout {
		return 0
	}
	if out.Err != nil {
		return clampFitness(ErrorFitness(payload.Classify(out.Err)))
	}

	fitness := 0.0
	if out.Duration > SlowCallThreshold {
		fitness += 20
	}

	result := out.Result
	switch result.Kind() {
	case payload.KindInteger, payload.KindFloat:
		magnitude, _ := result.Numeric()
		magnitude = math.Abs(magnitude)
		switch {
		case magnitude > 1e12:
			fitness += 70
		case magnitude > 1e9:
			fitness += 60
		case magnitude > 1e6:
			fitness += 40
		}
		text := strings.ToLower(result.String())
		if strings.Contains(text, "inf") {
			fitness += 75
		} else if strings.Contains(text, "nan") {
			fitness += 70
		}
	case payload.KindText, payload.KindSequence, payload.KindMapping:
		size, _ := result.Len()
		switch {
		case size > 1_000_000:
			fitness += 85
		case size > 10_000:
			fitness += 50
		}
	case payload.KindBoolean:
		if granted, _ := result.AsBool(); granted && kind == target.KindGuard {
			fitness += 45
		}
	case payload.KindNull:
	}
	return clampFitness(fitness)
}

func clampFitness(f float64) float64 {
	if math.IsNaN(f) || f < MinFitness {
		return MinFitness
	}
	if f > MaxFitness {
		return MaxFitness
	}
	return f
}
