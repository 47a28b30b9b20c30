// Package metrics exposes engine counters through a private prometheus
// registry, scraped over HTTP or written to a node-exporter textfile.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adversary"

type Metrics struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	fitness            prometheus.Histogram
	evaluationDuration prometheus.Histogram
	generations        prometheus.Counter
	bestFitness        prometheus.Gauge
	analyses           *prometheus.CounterVec
	analysisDuration   prometheus.Histogram
	vulnerabilities    *prometheus.CounterVec
	selfAttackFindings prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Fitness evaluations by outcome.",
		}, []string{"outcome"}),
		fitness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fitness",
			Help:      "Distribution of evaluated fitness scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of a single target invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Evolved generations.",
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness of the latest generation.",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed target analyses by status.",
		}, []string{"status"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of a full target analysis.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		vulnerabilities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vulnerabilities_total",
			Help:      "Reported vulnerabilities by attack vector.",
		}, []string{"attack_vector"}),
		selfAttackFindings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_attack_findings_total",
			Help:      "Meta-vulnerabilities found by self-attack runs.",
		}),
	}
	m.registry.MustRegister(
		m.evaluations,
		m.fitness,
		m.evaluationDuration,
		m.generations,
		m.bestFitness,
		m.analyses,
		m.analysisDuration,
		m.vulnerabilities,
		m.selfAttackFindings,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveEvaluation(fitness float64, duration time.Duration, timedOut bool) {
	outcome := "completed"
	if timedOut {
		outcome = "timeout"
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.fitness.Observe(fitness)
	m.evaluationDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveGeneration(_ int, best float64) {
	m.generations.Inc()
	m.bestFitness.Set(best)
}

func (m *Metrics) ObserveAnalysis(status string, duration time.Duration) {
	m.analyses.WithLabelValues(status).Inc()
	m.analysisDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveVulnerability(attackVector string) {
	m.vulnerabilities.WithLabelValues(attackVector).Inc()
}

func (m *Metrics) ObserveSelfAttack(findings int) {
	m.selfAttackFindings.Add(float64(findings))
}

// WriteTextfile dumps the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
