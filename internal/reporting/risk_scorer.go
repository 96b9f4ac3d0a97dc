package reporting

import (
	"math"
	"sort"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type RiskScorer struct {
	severityWeights map[models.Severity]float64
}

func NewRiskScorer() *RiskScorer {
	return NewRiskScorerWithWeights(nil)
}

func NewRiskScorerWithWeights(override map[models.Severity]float64) *RiskScorer {
	base := map[models.Severity]float64{
		models.SeverityCritical: 10.0,
		models.SeverityHigh:     7.5,
		models.SeverityMedium:   5.0,
		models.SeverityLow:      2.5,
		models.SeverityInfo:     1.0,
	}
	for k, v := range override {
		base[k] = v
	}
	return &RiskScorer{severityWeights: base}
}

func (rs *RiskScorer) Weight(sev models.Severity) float64 {
	if w, ok := rs.severityWeights[sev]; ok {
		return w
	}
	return 1.0
}

// SortFindings returns a copy ordered by severity, then file and line.
func (rs *RiskScorer) SortFindings(findings []models.Finding) []models.Finding {
	sorted := models.CloneFindings(findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := rs.Weight(sorted[i].Severity), rs.Weight(sorted[j].Severity)
		if wi != wj {
			return wi > wj
		}
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		return sorted[i].Line < sorted[j].Line
	})
	return sorted
}

// CalculateOverallRiskScore is the mean severity weight, capped at 10 and
// rounded to two decimals.
func (rs *RiskScorer) CalculateOverallRiskScore(findings []models.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var total float64
	for _, f := range findings {
		total += rs.Weight(f.Severity)
	}
	avg := total / float64(len(findings))
	if avg > 10 {
		return 10
	}
	return math.Round(avg*100) / 100
}
