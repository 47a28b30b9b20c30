// Package advisor turns strategy hints into biased mutation operator
// selection. It holds no learned state.
package advisor

import (
	"math/rand"

	"adversary/internal/evo"
	"adversary/internal/target"
)

const (
	StrategyIntegerOverflow = "integer_overflow"
	StrategyCodeInjection   = "code_injection"
	StrategyLogicBypass     = "logic_bypass"
	StrategyGeneral         = "general"
)

// strategyOperators maps strategies onto registered operator names.
var strategyOperators = map[string][]string{
	StrategyIntegerOverflow: {"integer_overflow_mutator"},
	StrategyCodeInjection:   {"code_injection_mutator"},
	StrategyLogicBypass:     {"general_mutator"},
	StrategyGeneral:         {"general_mutator"},
}

// KnownStrategies lists every strategy with a dedicated operator set.
func KnownStrategies() []string {
	return []string{StrategyIntegerOverflow, StrategyCodeInjection, StrategyLogicBypass, StrategyGeneral}
}

// StrategyProvider supplies ordered strategy hints for a target.
type StrategyProvider interface {
	Strategies(t target.Target) []string
}

type ProviderFunc func(t target.Target) []string

func (f ProviderFunc) Strategies(t target.Target) []string {
	return f(t)
}

// Advisor implements evo.OperatorSelector over a fixed hint list.
type Advisor struct {
	strategies []string
	operators  map[string][]evo.Operator
}

// New builds an advisor for the given hints. Unknown names fall back to the
// general strategy at selection time.
func New(strategies []string) *Advisor {
	operators := make(map[string][]evo.Operator, len(strategyOperators))
	for strategy, names := range strategyOperators {
		for _, name := range names {
			op, err := evo.LookupOperator(name)
			if err != nil {
				continue
			}
			operators[strategy] = append(operators[strategy], op)
		}
	}
	return &Advisor{
		strategies: append([]string(nil), strategies...),
		operators:  operators,
	}
}

func (a *Advisor) Strategies() []string {
	return append([]string(nil), a.strategies...)
}

// Operators returns the operator set a strategy resolves to.
func (a *Advisor) Operators(strategy string) []evo.Operator {
	if ops, ok := a.operators[strategy]; ok && len(ops) > 0 {
		return ops
	}
	return a.operators[StrategyGeneral]
}

// SelectOperator picks a hinted strategy uniformly, then one of its
// operators uniformly.
func (a *Advisor) SelectOperator(rng *rand.Rand) evo.Operator {
	strategy := StrategyGeneral
	if len(a.strategies) > 0 {
		strategy = a.strategies[rng.Intn(len(a.strategies))]
	}
	ops := a.Operators(strategy)
	if len(ops) == 0 {
		return nil
	}
	return ops[rng.Intn(len(ops))]
}
