package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary/internal/advisor"
	"adversary/internal/target"
)

func TestExtractFeatures(t *testing.T) {
	p := NewLinear()
	fv := p.ExtractFeatures(target.Target{Name: "vulnerable_auth", Params: []string{"u", "p"}, Kind: target.KindGuard})
	require.Len(t, fv.Values, len(FeatureNames))
	assert.Equal(t, 1.0, fv.Get(FeatureBias))
	assert.Equal(t, 0.5, fv.Get(FeatureArity))
	assert.Equal(t, 1.0, fv.Get(FeatureGuard))
	assert.Equal(t, 1.0, fv.Get(FeatureAuth))
	assert.Equal(t, 0.0, fv.Get(FeatureInjection))
	assert.Equal(t, 0.0, fv.Get(99))
}

func TestPredictScoreInUnitInterval(t *testing.T) {
	p := NewLinear()
	for _, name := range []string{"multiply", "eval_query", "noop", ""} {
		score := p.PredictScore(p.ExtractFeatures(target.Target{Name: name, Params: []string{"x"}}))
		assert.True(t, score > 0 && score < 1, "score out of range for %q: %f", name, score)
	}
}

func TestPredictMutationStrategy(t *testing.T) {
	p := NewLinear()
	fv := p.ExtractFeatures(target.Target{Name: "vulnerable_multiply", Params: []string{"x"}})
	assert.Equal(t, []string{advisor.StrategyIntegerOverflow, advisor.StrategyGeneral}, p.PredictMutationStrategy(fv))

	fv = p.ExtractFeatures(target.Target{Name: "plain", Params: []string{"x"}})
	assert.Equal(t, []string{advisor.StrategyGeneral}, p.PredictMutationStrategy(fv))
}

func TestTrainMovesScoreTowardsOutcome(t *testing.T) {
	p := NewLinear()
	fv := p.ExtractFeatures(target.Target{Name: "plain", Params: []string{"x"}})
	before := p.PredictScore(fv)
	for i := 0; i < 20; i++ {
		p.Train(fv, 5)
	}
	assert.Greater(t, p.PredictScore(fv), before)
	assert.Equal(t, 20, p.Samples())

	q := NewLinear()
	for i := 0; i < 20; i++ {
		q.Train(fv, 0)
	}
	assert.Less(t, q.PredictScore(fv), before)
}

func TestStrategyProviderAdapter(t *testing.T) {
	provider := StrategyProvider(NewLinear())
	got := provider.Strategies(target.Target{Name: "login", Params: []string{"u"}})
	assert.Equal(t, []string{advisor.StrategyLogicBypass, advisor.StrategyGeneral}, got)
}
