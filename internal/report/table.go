package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"adversary/internal/model"
	"adversary/internal/payload"
)

const evidenceColumnWidth = 48

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

// RenderRuns prints one row per indexed run. now anchors the relative
// "created" column.
func RenderRuns(w io.Writer, entries []RunIndexEntry, now time.Time) {
	table := newTable(w, []string{"run_id", "target", "status", "vulns", "max_severity", "duration", "created"})
	for _, e := range entries {
		created := e.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			created = humanize.RelTime(ts, now, "ago", "from now")
		}
		table.Append([]string{
			e.RunID,
			e.Target,
			e.Status,
			humanize.Comma(int64(e.Vulnerabilities)),
			strconv.FormatFloat(e.MaxSeverity, 'f', 2, 64),
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			created,
		})
	}
	table.Render()
}

// RenderVulnerabilities prints findings ordered by descending severity.
func RenderVulnerabilities(w io.Writer, vulns []model.Vulnerability) {
	sorted := append([]model.Vulnerability(nil), vulns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity() > sorted[j].Severity()
	})
	table := newTable(w, []string{"target", "attack_vector", "severity", "level", "evidence"})
	for _, v := range sorted {
		table.Append([]string{
			v.Target,
			string(v.AttackVector),
			strconv.FormatFloat(v.Severity(), 'f', 2, 64),
			string(v.Level()),
			payload.Truncate(v.ExploitEvidence, evidenceColumnWidth),
		})
	}
	table.Render()
}

func RenderSummary(w io.Writer, s Summary) {
	table := newTable(w, []string{"metric", "value"})
	table.Append([]string{"functions analyzed", humanize.Comma(int64(s.TotalFunctionsAnalyzed))})
	table.Append([]string{"vulnerabilities", humanize.Comma(int64(s.TotalVulnerabilities))})
	table.Append([]string{"total duration", s.TotalDuration.Round(time.Millisecond).String()})
	for _, key := range sortedKeys(s.ByAttackVector) {
		table.Append([]string{"vector " + key, humanize.Comma(int64(s.ByAttackVector[key]))})
	}
	for _, key := range sortedKeys(s.BySeverityLevel) {
		table.Append([]string{"level " + key, humanize.Comma(int64(s.BySeverityLevel[key]))})
	}
	table.Render()
}

// RenderAnalysis prints a single result as key/value rows.
func RenderAnalysis(w io.Writer, r model.AnalysisResult) {
	table := newTable(w, []string{"field", "value"})
	table.Append([]string{"run_id", r.RunID})
	table.Append([]string{"target", r.Target})
	table.Append([]string{"status", string(r.Status)})
	table.Append([]string{"vulnerabilities", humanize.Comma(int64(r.VulnerabilityCount))})
	table.Append([]string{"duration", r.Duration.Round(time.Millisecond).String()})
	if r.Error != "" {
		table.Append([]string{"error", r.Error})
	}
	for _, key := range sortedKeys(r.Stats) {
		table.Append([]string{key, fmt.Sprintf("%.4g", r.Stats[key])})
	}
	table.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
