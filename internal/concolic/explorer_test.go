package concolic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary/internal/payload"
	"adversary/internal/sym"
	"adversary/internal/target"
)

func thresholdTarget() target.Target {
	return target.Target{
		Name:   "threshold",
		Params: []string{"a"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			if call.Branch(sym.Lt(sym.Param("a"), sym.Int(10))) {
				return args[0], nil
			}
			return payload.Int(-1), nil
		},
	}
}

func TestExplorePathFlipsLastBranch(t *testing.T) {
	e := NewExplorer(Config{Seed: 1})
	next, ok, err := e.ExplorePath(context.Background(), thresholdTarget(), []payload.Value{payload.Int(0)})
	require.NoError(t, err)
	require.True(t, ok)

	constraints := e.LastConstraints()
	require.Len(t, constraints, 1)
	assert.Equal(t, "a < 10", constraints[0].String())

	require.Len(t, next, 1)
	a, _ := next[0].AsInt()
	assert.GreaterOrEqual(t, a, int64(10))
	assert.Equal(t, int64(10), a)
}

func TestExplorePathUsesTakenDirection(t *testing.T) {
	e := NewExplorer(Config{Seed: 1})
	next, ok, err := e.ExplorePath(context.Background(), thresholdTarget(), []payload.Value{payload.Int(50)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a >= 10", e.LastConstraints()[0].String())
	a, _ := next[0].AsInt()
	assert.Less(t, a, int64(10))
}

func TestExplorePathSignatureMismatch(t *testing.T) {
	e := NewExplorer(Config{})
	_, ok, err := e.ExplorePath(context.Background(), thresholdTarget(), []payload.Value{payload.Text("x")})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrSignatureMismatch))

	_, _, err = e.ExplorePath(context.Background(), thresholdTarget(), []payload.Value{payload.Int(1), payload.Int(2)})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestExplorePathWithoutBranches(t *testing.T) {
	e := NewExplorer(Config{})
	identity := target.Target{
		Name:   "identity",
		Params: []string{"a"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			return args[0], nil
		},
	}
	next, ok, err := e.ExplorePath(context.Background(), identity, []payload.Value{payload.Int(3)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, next)
}

func TestExplorePathSkipsLocalConditions(t *testing.T) {
	e := NewExplorer(Config{})
	tgt := target.Target{
		Name:   "local",
		Params: []string{"a"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			a, _ := args[0].AsInt()
			call.Branch(sym.Gt(sym.Local("doubled", a*2), sym.Int(4)))
			return payload.Null(), nil
		},
	}
	_, ok, err := e.ExplorePath(context.Background(), tgt, []payload.Value{payload.Int(1)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, e.LastConstraints())
	assert.Len(t, e.LastTrace(), 1)
}

func TestExplorePathTwoParameters(t *testing.T) {
	e := NewExplorer(Config{Seed: 4})
	tgt := target.Target{
		Name:   "pair",
		Params: []string{"a", "b"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			if call.Branch(sym.Gt(sym.Param("a"), sym.Int(5))) {
				if call.Branch(sym.Eq(sym.Add(sym.Param("a"), sym.Param("b")), sym.Int(20))) {
					return payload.Null(), payload.ErrOverflow
				}
			}
			return payload.Int(0), nil
		},
	}
	next, ok, err := e.ExplorePath(context.Background(), tgt, []payload.Value{payload.Int(0), payload.Int(0)})
	require.NoError(t, err)
	require.True(t, ok)
	a, _ := next[0].AsInt()
	assert.Greater(t, a, int64(5))

	next, ok, err = e.ExplorePath(context.Background(), tgt, next)
	require.NoError(t, err)
	require.True(t, ok)
	a, _ = next[0].AsInt()
	b, _ := next[1].AsInt()
	assert.Greater(t, a, int64(5))
	assert.Equal(t, int64(20), a+b)
}

func TestBoundaryInputs(t *testing.T) {
	got := BoundaryInputs([]sym.Expr{sym.Lt(sym.Param("a"), sym.Int(10))})
	var ints []int64
	for _, v := range got {
		x, _ := v.AsInt()
		ints = append(ints, x)
	}
	assert.Equal(t, []int64{0, 1, -1, 9, 10, 11}, ints)
}

func TestExplorePathFlipsLargeThresholds(t *testing.T) {
	for _, k := range []int64{1 << 41, 5_000_000_000_000} {
		tgt := target.Target{
			Name:   "magnitude",
			Params: []string{"a"},
			Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
				if call.Branch(sym.Lt(sym.Param("a"), sym.Int(k))) {
					return payload.Int(0), nil
				}
				return payload.Null(), payload.ErrOverflow
			},
		}
		e := NewExplorer(Config{Seed: 1})
		next, ok, err := e.ExplorePath(context.Background(), tgt, []payload.Value{payload.Int(0)})
		require.NoError(t, err)
		require.True(t, ok, "threshold %d", k)
		require.Len(t, next, 1)
		a, _ := next[0].AsInt()
		assert.GreaterOrEqual(t, a, k)
	}
}
