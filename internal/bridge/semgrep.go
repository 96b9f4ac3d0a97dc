package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type semgrepReport struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Fix      string `json:"fix"`
			Metadata struct {
				CWE        interface{} `json:"cwe"` // string | []string
				References []string    `json:"references"`
				Category   string      `json:"category"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

func SemgrepSpec() ToolSpec {
	return ToolSpec{
		Name:   "semgrep",
		Binary: "semgrep",
		BuildArgs: func(target string, extra []string) []string {
			args := []string{"scan", "--config", "auto", "--json", "--quiet"}
			args = append(args, extra...)
			return append(args, target)
		},
		Parse:     ParseSemgrep,
		Platforms: []string{"linux", "darwin"},
	}
}

func ParseSemgrep(out []byte) ([]models.Finding, error) {
	var doc semgrepReport
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decode semgrep report: %w", err)
	}

	findings := make([]models.Finding, 0, len(doc.Results))
	for _, r := range doc.Results {
		cwes := stringList(r.Extra.Metadata.CWE)
		findings = append(findings, models.Finding{
			Tool:        "semgrep",
			Severity:    normalize.Severity("semgrep", r.Extra.Severity),
			Category:    normalize.Category(r.CheckID, cwes, r.Extra.Message),
			File:        r.Path,
			Line:        r.Start.Line,
			Description: r.Extra.Message,
			Fix:         r.Extra.Fix,
			References:  r.Extra.Metadata.References,
			RuleID:      r.CheckID,
		})
	}
	return findings, nil
}

// stringList accepts a JSON string, array of strings or null.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return []string{t}
		}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
