package storage

import (
	"context"

	"adversary/internal/model"
)

// Store persists analysis results, their vulnerabilities and predictor
// feedback samples.
type Store interface {
	Init(ctx context.Context) error
	SaveAnalysis(ctx context.Context, result model.AnalysisResult) error
	GetAnalysis(ctx context.Context, runID string) (model.AnalysisResult, bool, error)
	ListAnalyses(ctx context.Context) ([]model.AnalysisResult, error)
	SaveVulnerabilities(ctx context.Context, runID string, vulns []model.Vulnerability) error
	GetVulnerabilities(ctx context.Context, runID string) ([]model.Vulnerability, bool, error)
	ListVulnerabilities(ctx context.Context) ([]model.Vulnerability, error)
	AppendTrainingSample(ctx context.Context, sample model.TrainingSample) error
	ListTrainingSamples(ctx context.Context) ([]model.TrainingSample, error)
}
