package probfuzz

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary/internal/payload"
	"adversary/internal/target"
)

func faultyTarget() target.Target {
	return target.Target{
		Name:   "faulty",
		Params: []string{"x"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			x := args[0]
			if n, ok := x.AsInt(); ok && n > 1000 {
				return payload.Null(), payload.ValueErrorf("value too large")
			}
			if s, ok := x.AsText(); ok && strings.Contains(s, "bad") {
				return payload.Null(), payload.TypeErrorf("bad string")
			}
			return payload.Null(), nil
		},
	}
}

func TestNewClampsIterations(t *testing.T) {
	assert.Equal(t, MinIterations, New(Config{Iterations: 1}).Iterations())
	assert.Equal(t, MaxIterations, New(Config{Iterations: 100000}).Iterations())
	assert.Equal(t, DefaultIterations, New(Config{}).Iterations())
}

func TestFuzzIdentifiesFailures(t *testing.T) {
	f := New(Config{Iterations: 200, Seed: 11})
	results, err := f.Fuzz(context.Background(), faultyTarget(), []Weight{
		{Kind: payload.KindInteger, Weight: 0.5},
		{Kind: payload.KindText, Weight: 0.5},
	}, nil)
	require.NoError(t, err)

	require.Contains(t, results, "integer")
	require.Contains(t, results, "text")
	assert.Greater(t, results["integer"].Failure, 0)
	assert.Greater(t, results["text"].Failure, 0)
	assert.Greater(t, results["integer"].Success, 0)
	assert.Greater(t, results["text"].Success, 0)
	assert.Equal(t, 200, results["integer"].Total()+results["text"].Total())
	assert.Equal(t, []string{"integer", "text"}, FailingKinds(results))
}

func TestFuzzRespectsExpectedErrors(t *testing.T) {
	f := New(Config{Iterations: 100, Seed: 5})
	alwaysValueError := target.Target{
		Name:   "strict",
		Params: []string{"x"},
		Fn: func(*target.Call, []payload.Value) (payload.Value, error) {
			return payload.Null(), payload.ValueErrorf("expected integer failure")
		},
	}
	tctx := &target.Context{ExpectedErrors: []error{payload.ErrValue}}
	results, err := f.Fuzz(context.Background(), alwaysValueError, []Weight{{Kind: payload.KindInteger, Weight: 1}}, tctx)
	require.NoError(t, err)

	require.Contains(t, results, "integer")
	assert.Equal(t, 0, results["integer"].Failure)
	assert.Equal(t, 100, results["integer"].Success)
}

func TestFuzzCountsPanicsAsFailures(t *testing.T) {
	f := New(Config{Iterations: 10})
	panics := target.Target{
		Name:   "panics",
		Params: []string{"x"},
		Fn: func(*target.Call, []payload.Value) (payload.Value, error) {
			panic("boom")
		},
	}
	results, err := f.Fuzz(context.Background(), panics, []Weight{{Kind: payload.KindNull, Weight: 2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failure: 10}, results["null"])
	assert.InDelta(t, 1.0, results["null"].FailureRatio(), 1e-9)
}

func TestFuzzRejectsInvalidWeights(t *testing.T) {
	f := New(Config{})
	_, err := f.Fuzz(context.Background(), faultyTarget(), nil, nil)
	assert.Error(t, err)
	_, err = f.Fuzz(context.Background(), faultyTarget(), []Weight{{Kind: payload.KindText, Weight: -1}}, nil)
	assert.Error(t, err)
}

func TestGenerateRanges(t *testing.T) {
	f := New(Config{Seed: 9})
	for i := 0; i < 500; i++ {
		n, ok := f.Generate(payload.KindInteger).AsInt()
		require.True(t, ok)
		assert.True(t, n >= math.MinInt32 && n <= math.MaxInt32, "integer out of 32-bit range: %d", n)

		x, ok := f.Generate(payload.KindFloat).AsFloat()
		require.True(t, ok)
		assert.True(t, x >= -1e6 && x <= 1e6, "float out of range: %f", x)

		assert.True(t, f.Generate(payload.KindNull).IsNull())
		assert.Equal(t, payload.KindBoolean, f.Generate(payload.KindBoolean).Kind())
	}
}

func TestZeroWeightKindNeverChosen(t *testing.T) {
	f := New(Config{Iterations: 300, Seed: 2})
	echo := target.Target{
		Name:   "echo",
		Params: []string{"x"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			return args[0], nil
		},
	}
	results, err := f.Fuzz(context.Background(), echo, []Weight{
		{Kind: payload.KindText, Weight: 0},
		{Kind: payload.KindBoolean, Weight: 3},
	}, nil)
	require.NoError(t, err)
	assert.NotContains(t, results, "text")
	assert.Equal(t, 300, results["boolean"].Success)
}
