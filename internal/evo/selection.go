package evo

import (
	"fmt"
	"math/rand"

	"adversary/internal/payload"
)

// Selector chooses a breeding parent from the ranked survivor slice.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, survivors []Individual) (payload.Value, error)
}

// UniformSelector picks any survivor with equal probability.
type UniformSelector struct{}

func (UniformSelector) Name() string {
	return "uniform"
}

func (UniformSelector) PickParent(rng *rand.Rand, survivors []Individual) (payload.Value, error) {
	if rng == nil {
		return payload.Null(), fmt.Errorf("random source is required")
	}
	if len(survivors) == 0 {
		return payload.Null(), fmt.Errorf("no survivors to select from")
	}
	return survivors[rng.Intn(len(survivors))].Payload, nil
}

// TournamentSelector samples survivors and keeps the fittest of the sample.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, survivors []Individual) (payload.Value, error) {
	if rng == nil {
		return payload.Null(), fmt.Errorf("random source is required")
	}
	if len(survivors) == 0 {
		return payload.Null(), fmt.Errorf("no survivors to select from")
	}
	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	if size > len(survivors) {
		size = len(survivors)
	}
	best := survivors[rng.Intn(len(survivors))]
	for i := 1; i < size; i++ {
		candidate := survivors[rng.Intn(len(survivors))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best.Payload, nil
}

// SelectorFromName resolves a configured selection strategy.
func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "", "uniform":
		return UniformSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selection strategy: %s", name)
	}
}
