package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	SchemaVersion = 1
	CodecVersion  = 1

	// MaxEvidenceLen bounds ExploitEvidence in runes.
	MaxEvidenceLen = 200
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: SchemaVersion, CodecVersion: CodecVersion}
}

type AttackVector string

const (
	AttackOverflow           AttackVector = "overflow"
	AttackTypeConfusion      AttackVector = "type_confusion"
	AttackLogicBypass        AttackVector = "logic_bypass"
	AttackResourceExhaustion AttackVector = "resource_exhaustion"
	AttackInjection          AttackVector = "injection"
	AttackCodeInjection      AttackVector = "code_injection"
	AttackMetaVulnerability  AttackVector = "meta_vulnerability"
)

func ParseAttackVector(s string) (AttackVector, error) {
	switch v := AttackVector(s); v {
	case AttackOverflow, AttackTypeConfusion, AttackLogicBypass, AttackResourceExhaustion,
		AttackInjection, AttackCodeInjection, AttackMetaVulnerability:
		return v, nil
	default:
		return "", fmt.Errorf("unknown attack vector: %q", s)
	}
}

type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
)

// LevelFor maps a severity score onto its level.
func LevelFor(severity float64) SeverityLevel {
	switch {
	case severity >= 0.8:
		return SeverityCritical
	case severity >= 0.6:
		return SeverityHigh
	case severity >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Vulnerability is one confirmed finding. Severity is kept private so the
// level can never disagree with it.
type Vulnerability struct {
	VersionedRecord
	ID               string
	RunID            string
	Target           string
	AttackVector     AttackVector
	ExploitEvidence  string
	FailureTrace     []string
	DiscoveredAt     time.Time
	PatchSuggestions []string

	severity float64
}

func NewVulnerability(targetName string, vector AttackVector, severity float64, evidence string, trace []string, patches []string) Vulnerability {
	v := Vulnerability{
		VersionedRecord:  CurrentVersion(),
		ID:               uuid.NewString(),
		Target:           targetName,
		AttackVector:     vector,
		ExploitEvidence:  truncate(evidence, MaxEvidenceLen),
		FailureTrace:     append([]string(nil), trace...),
		DiscoveredAt:     time.Now().UTC(),
		PatchSuggestions: append([]string(nil), patches...),
	}
	v.SetSeverity(severity)
	return v
}

func (v Vulnerability) Severity() float64 {
	return v.severity
}

// SetSeverity clamps s into [0,1].
func (v *Vulnerability) SetSeverity(s float64) {
	switch {
	case math.IsNaN(s) || s < 0:
		s = 0
	case s > 1:
		s = 1
	}
	v.severity = s
}

func (v Vulnerability) Level() SeverityLevel {
	return LevelFor(v.severity)
}

type vulnerabilityJSON struct {
	VersionedRecord
	ID               string        `json:"id"`
	RunID            string        `json:"run_id,omitempty"`
	Target           string        `json:"target"`
	AttackVector     AttackVector  `json:"attack_vector"`
	Severity         float64       `json:"severity"`
	SeverityLevel    SeverityLevel `json:"severity_level"`
	ExploitEvidence  string        `json:"exploit_evidence"`
	FailureTrace     []string      `json:"failure_trace"`
	DiscoveredAt     time.Time     `json:"discovered_at"`
	PatchSuggestions []string      `json:"patch_suggestions"`
}

func (v Vulnerability) MarshalJSON() ([]byte, error) {
	return json.Marshal(vulnerabilityJSON{
		VersionedRecord:  v.VersionedRecord,
		ID:               v.ID,
		RunID:            v.RunID,
		Target:           v.Target,
		AttackVector:     v.AttackVector,
		Severity:         v.severity,
		SeverityLevel:    v.Level(),
		ExploitEvidence:  v.ExploitEvidence,
		FailureTrace:     v.FailureTrace,
		DiscoveredAt:     v.DiscoveredAt,
		PatchSuggestions: v.PatchSuggestions,
	})
}

// UnmarshalJSON ignores the encoded severity_level and recomputes it.
func (v *Vulnerability) UnmarshalJSON(data []byte) error {
	var raw vulnerabilityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Vulnerability{
		VersionedRecord:  raw.VersionedRecord,
		ID:               raw.ID,
		RunID:            raw.RunID,
		Target:           raw.Target,
		AttackVector:     raw.AttackVector,
		ExploitEvidence:  raw.ExploitEvidence,
		FailureTrace:     raw.FailureTrace,
		DiscoveredAt:     raw.DiscoveredAt,
		PatchSuggestions: raw.PatchSuggestions,
	}
	v.SetSeverity(raw.Severity)
	return nil
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// AnalysisResult summarizes one target analysis. A failed pipeline is
// recorded with StatusError and zero vulnerabilities.
type AnalysisResult struct {
	VersionedRecord
	RunID              string             `json:"run_id"`
	Target             string             `json:"target"`
	StartedAt          time.Time          `json:"started_at"`
	Duration           time.Duration      `json:"duration"`
	VulnerabilityCount int                `json:"vulnerabilities"`
	Status             Status             `json:"status"`
	Error              string             `json:"error,omitempty"`
	Stats              map[string]float64 `json:"stats,omitempty"`
}

// TrainingSample is one predictor feedback observation.
type TrainingSample struct {
	VersionedRecord
	Target    string    `json:"target"`
	Features  []float64 `json:"features"`
	Outcomes  int       `json:"outcomes"`
	CreatedAt time.Time `json:"created_at"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
