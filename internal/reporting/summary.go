package reporting

import (
	"sort"
	"time"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// Summary is the condensed view of a session shown by the CLI and the API.
type Summary struct {
	SessionID       string               `json:"session_id" yaml:"session_id"`
	TargetID        string               `json:"target_id" yaml:"target_id"`
	Status          models.SessionStatus `json:"status" yaml:"status"`
	Duration        string               `json:"duration" yaml:"duration"`
	Stats           models.FindingStats  `json:"stats" yaml:"stats"`
	FailedTools     []models.ToolRun     `json:"failed_tools,omitempty" yaml:"failed_tools,omitempty"`
	Recommendations []Recommendation     `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Error           string               `json:"error,omitempty" yaml:"error,omitempty"`
}

type Recommendation struct {
	Category    string          `json:"category" yaml:"category"`
	Severity    models.Severity `json:"severity" yaml:"severity"`
	Count       int             `json:"count" yaml:"count"`
	Remediation string          `json:"remediation" yaml:"remediation"`
}

type SummaryBuilder struct {
	scorer *RiskScorer
}

func NewSummaryBuilder(scorer *RiskScorer) *SummaryBuilder {
	if scorer == nil {
		scorer = NewRiskScorer()
	}
	return &SummaryBuilder{scorer: scorer}
}

func (b *SummaryBuilder) Scorer() *RiskScorer { return b.scorer }

func (b *SummaryBuilder) Build(s models.ScanSession) Summary {
	d := s.Duration()
	if !s.EndTime.IsZero() {
		d = d.Round(time.Millisecond)
	}
	return Summary{
		SessionID:       s.ID,
		TargetID:        s.TargetID,
		Status:          s.Status,
		Duration:        d.String(),
		Stats:           b.Stats(s.Findings),
		FailedTools:     s.FailedTools(),
		Recommendations: b.Recommendations(s.Findings),
		Error:           s.Error,
	}
}

// Stats counts findings per severity, tool and category. A merged finding
// counts once for each tool that reported it.
func (b *SummaryBuilder) Stats(findings []models.Finding) models.FindingStats {
	stats := models.FindingStats{
		Total:      len(findings),
		BySeverity: make(map[models.Severity]int, len(models.Severities)),
		ByTool:     make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, sev := range models.Severities {
		stats.BySeverity[sev] = 0
	}
	for i := range findings {
		f := &findings[i]
		stats.BySeverity[f.Severity]++
		stats.ByCategory[f.Category]++
		for _, t := range f.Tools() {
			stats.ByTool[t]++
		}
	}
	stats.RiskScore = b.scorer.CalculateOverallRiskScore(findings)
	return stats
}

// Recommendations groups findings by category, highest severity first.
func (b *SummaryBuilder) Recommendations(findings []models.Finding) []Recommendation {
	byCategory := make(map[string]*Recommendation)
	for _, f := range findings {
		rec, ok := byCategory[f.Category]
		if !ok {
			rec = &Recommendation{
				Category:    f.Category,
				Severity:    f.Severity,
				Remediation: normalize.Fix(f.Category, ""),
			}
			byCategory[f.Category] = rec
		}
		rec.Count++
		if b.scorer.Weight(f.Severity) > b.scorer.Weight(rec.Severity) {
			rec.Severity = f.Severity
		}
	}

	recs := make([]Recommendation, 0, len(byCategory))
	for _, r := range byCategory {
		recs = append(recs, *r)
	}
	sort.Slice(recs, func(i, j int) bool {
		wi, wj := b.scorer.Weight(recs[i].Severity), b.scorer.Weight(recs[j].Severity)
		if wi != wj {
			return wi > wj
		}
		if recs[i].Count != recs[j].Count {
			return recs[i].Count > recs[j].Count
		}
		return recs[i].Category < recs[j].Category
	})
	return recs
}
