package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists the canonical levels from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank orders severities; CRITICAL is 4 and INFO is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type Finding struct {
	ID          string   `json:"id" yaml:"id"`
	Tool        string   `json:"tool" yaml:"tool"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	File        string   `json:"file" yaml:"file"`
	Line        int      `json:"line" yaml:"line"`
	Description string   `json:"description" yaml:"description"`
	Fix         string   `json:"fix,omitempty" yaml:"fix,omitempty"`
	References  []string `json:"references,omitempty" yaml:"references,omitempty"`
	RuleID      string   `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
}

// FindingKey identifies one logical issue regardless of the reporting tool.
type FindingKey struct {
	File     string
	Line     int
	Category string
}

func (f *Finding) Key() FindingKey {
	return FindingKey{File: f.File, Line: f.Line, Category: f.Category}
}

func (f *Finding) Clone() Finding {
	out := *f
	if f.References != nil {
		out.References = append([]string(nil), f.References...)
	}
	return out
}

// Tools splits the comma-joined tool field produced by deduplication.
func (f *Finding) Tools() []string {
	parts := strings.Split(f.Tool, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (f *Finding) Validate() error {
	if f.Tool == "" {
		return fmt.Errorf("finding tool is required")
	}
	if f.Category == "" {
		return fmt.Errorf("finding category is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if f.Line < 0 {
		return fmt.Errorf("line must be >= 0")
	}
	return nil
}

// EnsureID fills ID with a digest of the finding's identity when the tool gave none.
func (f *Finding) EnsureID() {
	if f.ID != "" {
		return
	}
	h := xxh3.HashString(strings.Join([]string{f.Tool, f.File, strconv.Itoa(f.Line), f.Category, f.RuleID}, "|"))
	f.ID = fmt.Sprintf("%s-%016x", strings.ToLower(f.Tool), h)
}

func CloneFindings(in []Finding) []Finding {
	if in == nil {
		return nil
	}
	out := make([]Finding, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

type FindingStats struct {
	Total      int              `json:"total" yaml:"total"`
	BySeverity map[Severity]int `json:"by_severity" yaml:"by_severity"`
	ByTool     map[string]int   `json:"by_tool" yaml:"by_tool"`
	ByCategory map[string]int   `json:"by_category" yaml:"by_category"`
	RiskScore  float64          `json:"risk_score" yaml:"risk_score"`
}
