package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"adversary/internal/model"
)

func sampleAnalysis(runID string, started time.Time) model.AnalysisResult {
	return model.AnalysisResult{
		VersionedRecord:    model.CurrentVersion(),
		RunID:              runID,
		Target:             "vulnerable_multiply",
		StartedAt:          started,
		Duration:           250 * time.Millisecond,
		VulnerabilityCount: 1,
		Status:             model.StatusOK,
		Stats:              map[string]float64{"predicted_risk": 0.7},
	}
}

func TestMemoryStoreAnalysisRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	now := time.Now().UTC()
	if err := store.SaveAnalysis(ctx, sampleAnalysis("run-2", now.Add(time.Second))); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	if err := store.SaveAnalysis(ctx, sampleAnalysis("run-1", now)); err != nil {
		t.Fatalf("save analysis: %v", err)
	}

	loaded, ok, err := store.GetAnalysis(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get analysis: ok=%t err=%v", ok, err)
	}
	loaded.Stats["predicted_risk"] = 0
	again, _, _ := store.GetAnalysis(ctx, "run-1")
	if again.Stats["predicted_risk"] != 0.7 {
		t.Fatal("expected stats map to be copied on read")
	}

	all, err := store.ListAnalyses(ctx)
	if err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "run-1" || all[1].RunID != "run-2" {
		t.Fatalf("unexpected analysis order: %+v", all)
	}

	if _, ok, _ := store.GetAnalysis(ctx, "missing"); ok {
		t.Fatal("expected missing analysis")
	}
}

func TestMemoryStoreVulnerabilities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	v1 := model.NewVulnerability("f", model.AttackOverflow, 0.9, "Payload: 1", []string{"Fitness: 90.0"}, nil)
	v2 := model.NewVulnerability("g", model.AttackTypeConfusion, 0.5, "Kind: text", nil, nil)
	if err := store.SaveVulnerabilities(ctx, "run-1", []model.Vulnerability{v1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveVulnerabilities(ctx, "run-2", []model.Vulnerability{v2}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.GetVulnerabilities(ctx, "run-1")
	if err != nil || !ok || len(got) != 1 || got[0].ID != v1.ID {
		t.Fatalf("unexpected vulnerabilities: %+v ok=%t err=%v", got, ok, err)
	}
	got[0].FailureTrace[0] = "mutated"
	again, _, _ := store.GetVulnerabilities(ctx, "run-1")
	if again[0].FailureTrace[0] != "Fitness: 90.0" {
		t.Fatal("expected failure trace to be copied on read")
	}

	all, err := store.ListVulnerabilities(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != v1.ID || all[1].ID != v2.ID {
		t.Fatalf("unexpected listing: %+v", all)
	}
}

func TestMemoryStoreTrainingSamples(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.AppendTrainingSample(ctx, model.TrainingSample{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	sample := model.TrainingSample{VersionedRecord: model.CurrentVersion(), Target: "f", Features: []float64{1, 0.25}, Outcomes: 2}
	if err := store.AppendTrainingSample(ctx, sample); err != nil {
		t.Fatalf("append: %v", err)
	}
	samples, err := store.ListTrainingSamples(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(samples) != 1 || samples[0].Outcomes != 2 || samples[0].Features[1] != 0.25 {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}
