package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"adversary/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	analyses    map[string]model.AnalysisResult
	runOrder    []string
	vulns       map[string][]model.Vulnerability
	vulnOrder   []string
	samples     []model.TrainingSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.analyses = make(map[string]model.AnalysisResult)
	s.vulns = make(map[string][]model.Vulnerability)
	return nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, result model.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if _, exists := s.analyses[result.RunID]; !exists {
		s.runOrder = append(s.runOrder, result.RunID)
	}
	s.analyses[result.RunID] = copyAnalysis(result)
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, runID string) (model.AnalysisResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.analyses[runID]
	if !ok {
		return model.AnalysisResult{}, false, nil
	}
	return copyAnalysis(result), true, nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context) ([]model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AnalysisResult, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		out = append(out, copyAnalysis(s.analyses[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveVulnerabilities(_ context.Context, runID string, vulns []model.Vulnerability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if _, exists := s.vulns[runID]; !exists {
		s.vulnOrder = append(s.vulnOrder, runID)
	}
	s.vulns[runID] = copyVulnerabilities(vulns)
	return nil
}

func (s *MemoryStore) GetVulnerabilities(_ context.Context, runID string) ([]model.Vulnerability, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vulns, ok := s.vulns[runID]
	if !ok {
		return nil, false, nil
	}
	return copyVulnerabilities(vulns), true, nil
}

func (s *MemoryStore) ListVulnerabilities(_ context.Context) ([]model.Vulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Vulnerability
	for _, id := range s.vulnOrder {
		out = append(out, copyVulnerabilities(s.vulns[id])...)
	}
	return out, nil
}

func (s *MemoryStore) AppendTrainingSample(_ context.Context, sample model.TrainingSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	sample.Features = append([]float64(nil), sample.Features...)
	s.samples = append(s.samples, sample)
	return nil
}

func (s *MemoryStore) ListTrainingSamples(_ context.Context) ([]model.TrainingSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TrainingSample, len(s.samples))
	for i, sample := range s.samples {
		sample.Features = append([]float64(nil), sample.Features...)
		out[i] = sample
	}
	return out, nil
}

func copyAnalysis(r model.AnalysisResult) model.AnalysisResult {
	if r.Stats != nil {
		stats := make(map[string]float64, len(r.Stats))
		for k, v := range r.Stats {
			stats[k] = v
		}
		r.Stats = stats
	}
	return r
}

func copyVulnerabilities(in []model.Vulnerability) []model.Vulnerability {
	if in == nil {
		return nil
	}
	out := make([]model.Vulnerability, len(in))
	for i, v := range in {
		v.FailureTrace = append([]string(nil), v.FailureTrace...)
		v.PatchSuggestions = append([]string(nil), v.PatchSuggestions...)
		out[i] = v
	}
	return out
}
