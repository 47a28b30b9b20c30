// Package predict provides the risk predictor consumed by the engine: a
// feature extractor, a risk score, mutation strategy hints and an online
// feedback hook.
package predict

import (
	"math"
	"strings"
	"sync"

	"adversary/internal/advisor"
	"adversary/internal/target"
)

// Predictor is the collaborator contract the engine depends on.
type Predictor interface {
	ExtractFeatures(t target.Target) FeatureVector
	PredictScore(fv FeatureVector) float64
	PredictMutationStrategy(fv FeatureVector) []string
	Train(fv FeatureVector, outcomes int)
}

// Feature indices into FeatureVector.Values.
const (
	FeatureBias = iota
	FeatureArity
	FeatureGuard
	FeatureArithmetic
	FeatureInjection
	FeatureAuth
	featureCount
)

var FeatureNames = []string{"bias", "arity", "guard", "arithmetic", "injection", "auth"}

type FeatureVector struct {
	Target string    `json:"target"`
	Values []float64 `json:"values"`
}

func (fv FeatureVector) Get(i int) float64 {
	if i < 0 || i >= len(fv.Values) {
		return 0
	}
	return fv.Values[i]
}

var (
	arithmeticHints = []string{"mul", "add", "sum", "calc", "pow", "div", "count", "size", "alloc"}
	injectionHints  = []string{"eval", "exec", "query", "sql", "url", "parse", "template", "shell", "path"}
	authHints       = []string{"auth", "login", "admin", "password", "token", "check", "verify", "allow"}
)

const (
	defaultLearningRate = 0.1
	// outcomeSaturation is the vulnerability count treated as certain risk.
	outcomeSaturation = 5
	strategyThreshold = 0.5
)

// Linear is an online logistic model over hand-picked target features.
type Linear struct {
	mu           sync.RWMutex
	weights      []float64
	learningRate float64
	samples      int
}

func NewLinear() *Linear {
	w := make([]float64, featureCount)
	w[FeatureBias] = -0.5
	w[FeatureArithmetic] = 0.8
	w[FeatureInjection] = 0.8
	w[FeatureGuard] = 0.6
	w[FeatureAuth] = 0.6
	return &Linear{weights: w, learningRate: defaultLearningRate}
}

func (l *Linear) ExtractFeatures(t target.Target) FeatureVector {
	values := make([]float64, featureCount)
	values[FeatureBias] = 1
	values[FeatureArity] = math.Min(float64(t.Arity())/4, 1)
	if t.Kind == target.KindGuard {
		values[FeatureGuard] = 1
	}
	name := strings.ToLower(t.Name)
	values[FeatureArithmetic] = hintScore(name, arithmeticHints)
	values[FeatureInjection] = hintScore(name, injectionHints)
	values[FeatureAuth] = hintScore(name, authHints)
	return FeatureVector{Target: t.Name, Values: values}
}

func hintScore(name string, hints []string) float64 {
	for _, h := range hints {
		if strings.Contains(name, h) {
			return 1
		}
	}
	return 0
}

func (l *Linear) PredictScore(fv FeatureVector) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sigmoid(l.dot(fv))
}

func (l *Linear) dot(fv FeatureVector) float64 {
	sum := 0.0
	for i, w := range l.weights {
		sum += w * fv.Get(i)
	}
	return sum
}

// PredictMutationStrategy orders strategy hints by the feature evidence for
// each. General is always last.
func (l *Linear) PredictMutationStrategy(fv FeatureVector) []string {
	var out []string
	if fv.Get(FeatureArithmetic) >= strategyThreshold {
		out = append(out, advisor.StrategyIntegerOverflow)
	}
	if fv.Get(FeatureInjection) >= strategyThreshold {
		out = append(out, advisor.StrategyCodeInjection)
	}
	if fv.Get(FeatureGuard) >= strategyThreshold || fv.Get(FeatureAuth) >= strategyThreshold {
		out = append(out, advisor.StrategyLogicBypass)
	}
	return append(out, advisor.StrategyGeneral)
}

// Train nudges the weights towards the observed vulnerability count.
func (l *Linear) Train(fv FeatureVector, outcomes int) {
	label := math.Min(float64(max(outcomes, 0))/outcomeSaturation, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	predicted := sigmoid(l.dot(fv))
	step := l.learningRate * (label - predicted)
	for i := range l.weights {
		l.weights[i] += step * fv.Get(i)
	}
	l.samples++
}

func (l *Linear) Samples() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.samples
}

func (l *Linear) Weights() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]float64(nil), l.weights...)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// StrategyProvider adapts a Predictor into an advisor.StrategyProvider.
func StrategyProvider(p Predictor) advisor.StrategyProvider {
	return advisor.ProviderFunc(func(t target.Target) []string {
		return p.PredictMutationStrategy(p.ExtractFeatures(t))
	})
}
