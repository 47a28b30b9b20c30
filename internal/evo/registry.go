package evo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"adversary/internal/payload"
)

var (
	ErrOperatorExists       = errors.New("operator already registered")
	ErrOperatorNotFound     = errors.New("operator not found")
	ErrOperatorIncompatible = errors.New("operator incompatible with payload")
)

type CompatibilityFn func(v payload.Value) error

type OperatorSpec struct {
	Name       string
	Operator   Operator
	Compatible CompatibilityFn
}

type registeredOperator struct {
	operator   Operator
	compatible CompatibilityFn
}

var operatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredOperator
}{
	m: make(map[string]registeredOperator),
}

func init() {
	for _, op := range []Operator{
		DoubleInteger{}, IncrementInteger{}, NegateInteger{},
		DuplicateText{}, AppendNull{}, UppercaseText{}, ClearText{},
		DuplicateSequence{},
	} {
		if err := RegisterOperator(op); err != nil {
			panic(err)
		}
	}
}

// RegisterOperator registers an operator under its own name.
func RegisterOperator(op Operator) error {
	if op == nil {
		return errors.New("operator is required")
	}
	return RegisterOperatorWithSpec(OperatorSpec{Name: op.Name(), Operator: op})
}

// RegisterOperatorWithSpec registers an operator with an optional payload
// compatibility check.
func RegisterOperatorWithSpec(spec OperatorSpec) error {
	if spec.Name == "" {
		return errors.New("operator name is required")
	}
	if spec.Operator == nil {
		return errors.New("operator is required")
	}

	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()

	if _, exists := operatorRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, spec.Name)
	}
	operatorRegistry.m[spec.Name] = registeredOperator{
		operator:   spec.Operator,
		compatible: spec.Compatible,
	}
	return nil
}

// LookupOperator returns a registered operator by name.
func LookupOperator(name string) (Operator, error) {
	operatorRegistry.mu.RLock()
	entry, ok := operatorRegistry.m[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	return entry.operator, nil
}

// ResolveOperator returns a registered operator only if its compatibility
// check accepts v.
func ResolveOperator(name string, v payload.Value) (Operator, error) {
	operatorRegistry.mu.RLock()
	entry, ok := operatorRegistry.m[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	if entry.compatible != nil {
		if err := entry.compatible(v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrOperatorIncompatible, name, err)
		}
	}
	return entry.operator, nil
}

func ListOperators() []string {
	operatorRegistry.mu.RLock()
	defer operatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(operatorRegistry.m))
	for name := range operatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
