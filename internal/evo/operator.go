package evo

import (
	"errors"
	"math/rand"

	"adversary/internal/payload"
)

var ErrKindMismatch = errors.New("operator does not apply to payload kind")

// Operator rewrites a single payload. Implementations must not mutate their
// input in place.
type Operator interface {
	Name() string
	Apply(rng *rand.Rand, v payload.Value) (payload.Value, error)
}

// ContextualOperator can declare whether it applies to a payload. The default
// dispatch uses this to skip operators for other kinds.
type ContextualOperator interface {
	Operator
	Applicable(v payload.Value) bool
}

// OperatorSelector overrides the default kind-based dispatch. A
// MutationAdvisor is injected through this interface.
type OperatorSelector interface {
	SelectOperator(rng *rand.Rand) Operator
}

// Individual is a scored payload.
type Individual struct {
	Payload payload.Value `json:"-"`
	Fitness float64       `json:"fitness"`
}
