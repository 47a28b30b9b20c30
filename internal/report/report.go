// Package report summarizes analyses, writes JSON report artifacts and keeps
// a run index next to them.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"adversary/internal/model"
)

const (
	runIndexFile        = "run_index.json"
	reportFile          = "report.json"
	analysisFile        = "analysis.json"
	vulnerabilitiesFile = "vulnerabilities.json"
)

// Summary aggregates a set of analyses.
type Summary struct {
	TotalFunctionsAnalyzed int            `json:"total_functions_analyzed"`
	TotalVulnerabilities   int            `json:"total_vulnerabilities"`
	TotalDuration          time.Duration  `json:"total_duration"`
	ByAttackVector         map[string]int `json:"by_attack_vector,omitempty"`
	BySeverityLevel        map[string]int `json:"by_severity_level,omitempty"`
	ByStatus               map[string]int `json:"by_status,omitempty"`
}

type Report struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Summary         Summary                `json:"summary"`
	Analyses        []model.AnalysisResult `json:"analyses"`
	Vulnerabilities []model.Vulnerability  `json:"vulnerabilities"`
}

// RunReport is the per-run artifact pair written under <base>/<run_id>.
type RunReport struct {
	Analysis        model.AnalysisResult  `json:"analysis"`
	Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
}

type RunIndexEntry struct {
	RunID           string  `json:"run_id"`
	Target          string  `json:"target"`
	Status          string  `json:"status"`
	Vulnerabilities int     `json:"vulnerabilities"`
	MaxSeverity     float64 `json:"max_severity"`
	DurationMS      int64   `json:"duration_ms"`
	CreatedAtUTC    string  `json:"created_at_utc"`
}

func Summarize(results []model.AnalysisResult, vulns []model.Vulnerability) Summary {
	s := Summary{
		TotalFunctionsAnalyzed: len(results),
		TotalVulnerabilities:   len(vulns),
		ByAttackVector:         make(map[string]int),
		BySeverityLevel:        make(map[string]int),
		ByStatus:               make(map[string]int),
	}
	for _, r := range results {
		s.TotalDuration += r.Duration
		s.ByStatus[string(r.Status)]++
	}
	for _, v := range vulns {
		s.ByAttackVector[string(v.AttackVector)]++
		s.BySeverityLevel[string(v.Level())]++
	}
	return s
}

func Build(results []model.AnalysisResult, vulns []model.Vulnerability, now time.Time) Report {
	return Report{
		GeneratedAt:     now.UTC(),
		Summary:         Summarize(results, vulns),
		Analyses:        append([]model.AnalysisResult{}, results...),
		Vulnerabilities: append([]model.Vulnerability{}, vulns...),
	}
}

// WriteReport writes r to <dir>/report.json and returns the path.
func WriteReport(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, reportFile)
	if err := writeJSON(path, r); err != nil {
		return "", err
	}
	return path, nil
}

func ReadReport(dir string) (Report, bool, error) {
	var r Report
	ok, err := readJSON(filepath.Join(dir, reportFile), &r)
	return r, ok, err
}

// WriteRunReport writes one run's artifacts and records it in the run index.
func WriteRunReport(baseDir string, result model.AnalysisResult, vulns []model.Vulnerability) (string, error) {
	if result.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, result.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if vulns == nil {
		vulns = []model.Vulnerability{}
	}
	if err := writeJSON(filepath.Join(runDir, analysisFile), result); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, vulnerabilitiesFile), vulns); err != nil {
		return "", err
	}
	if err := AppendRunIndex(baseDir, IndexEntryFor(result, vulns)); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadRunReport(baseDir, runID string) (RunReport, bool, error) {
	if runID == "" {
		return RunReport{}, false, fmt.Errorf("run id is required")
	}
	var out RunReport
	runDir := filepath.Join(baseDir, runID)
	ok, err := readJSON(filepath.Join(runDir, analysisFile), &out.Analysis)
	if err != nil || !ok {
		return RunReport{}, ok, err
	}
	if _, err := readJSON(filepath.Join(runDir, vulnerabilitiesFile), &out.Vulnerabilities); err != nil {
		return RunReport{}, false, err
	}
	return out, true, nil
}

func IndexEntryFor(result model.AnalysisResult, vulns []model.Vulnerability) RunIndexEntry {
	maxSeverity := 0.0
	for _, v := range vulns {
		maxSeverity = max(maxSeverity, v.Severity())
	}
	return RunIndexEntry{
		RunID:           result.RunID,
		Target:          result.Target,
		Status:          string(result.Status),
		Vulnerabilities: result.VulnerabilityCount,
		MaxSeverity:     maxSeverity,
		DurationMS:      result.Duration.Milliseconds(),
		CreatedAtUTC:    result.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first. Entries with equal
// timestamps keep the later-appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})
	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, idx := range order {
		sorted = append(sorted, entries[idx])
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
