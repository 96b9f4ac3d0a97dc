package normalize

import (
	"strings"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// severityTables maps each tool family's native vocabulary onto the canonical
// levels. Keys are upper-cased before lookup.
var severityTables = map[string]map[string]models.Severity{
	"semgrep": {
		"ERROR":   models.SeverityHigh,
		"WARNING": models.SeverityMedium,
		"INFO":    models.SeverityInfo,
		// semgrep pro rules report the CVSS-style levels directly
		"CRITICAL": models.SeverityCritical,
		"HIGH":     models.SeverityHigh,
		"MEDIUM":   models.SeverityMedium,
		"LOW":      models.SeverityLow,
	},
	"trivy": {
		"CRITICAL": models.SeverityCritical,
		"HIGH":     models.SeverityHigh,
		"MEDIUM":   models.SeverityMedium,
		"LOW":      models.SeverityLow,
		"UNKNOWN":  models.SeverityInfo,
	},
	"gosec": {
		"HIGH":   models.SeverityHigh,
		"MEDIUM": models.SeverityMedium,
		"LOW":    models.SeverityLow,
	},
	"bandit": {
		"HIGH":      models.SeverityHigh,
		"MEDIUM":    models.SeverityMedium,
		"LOW":       models.SeverityLow,
		"UNDEFINED": models.SeverityInfo,
	},
}

// fixedSeverity covers tools that report no severity of their own.
var fixedSeverity = map[string]models.Severity{
	"gitleaks": models.SeverityCritical,
}

var genericSeverity = map[string]models.Severity{
	"CRITICAL":      models.SeverityCritical,
	"BLOCKER":       models.SeverityCritical,
	"HIGH":          models.SeverityHigh,
	"ERROR":         models.SeverityHigh,
	"MAJOR":         models.SeverityHigh,
	"MEDIUM":        models.SeverityMedium,
	"MODERATE":      models.SeverityMedium,
	"WARNING":       models.SeverityMedium,
	"WARN":          models.SeverityMedium,
	"LOW":           models.SeverityLow,
	"MINOR":         models.SeverityLow,
	"NOTE":          models.SeverityLow,
	"INFO":          models.SeverityInfo,
	"INFORMATIONAL": models.SeverityInfo,
	"NONE":          models.SeverityInfo,
	"UNKNOWN":       models.SeverityInfo,
}

// Severity converts a tool-native severity into one of the five canonical
// levels. Unrecognised values map to INFO.
func Severity(tool, raw string) models.Severity {
	family := strings.ToLower(strings.TrimSpace(tool))
	if sev, ok := fixedSeverity[family]; ok && strings.TrimSpace(raw) == "" {
		return sev
	}
	key := strings.ToUpper(strings.TrimSpace(raw))
	if table, ok := severityTables[family]; ok {
		if sev, ok := table[key]; ok {
			return sev
		}
	}
	if sev, ok := genericSeverity[key]; ok {
		return sev
	}
	return models.SeverityInfo
}

// FromCVSS buckets a CVSS v3 base score.
func FromCVSS(score float64) models.Severity {
	switch {
	case score >= 9.0:
		return models.SeverityCritical
	case score >= 7.0:
		return models.SeverityHigh
	case score >= 4.0:
		return models.SeverityMedium
	case score > 0:
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}
