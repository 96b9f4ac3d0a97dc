package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

type gitleaksLeak struct {
	Description string   `json:"Description"`
	File        string   `json:"File"`
	StartLine   int      `json:"StartLine"`
	Secret      string   `json:"Secret"`
	Match       string   `json:"Match"`
	RuleID      string   `json:"RuleID"`
	Tags        []string `json:"Tags"`
}

func GitleaksSpec() ToolSpec {
	return ToolSpec{
		Name:        "gitleaks",
		Binary:      "gitleaks",
		VersionArgs: []string{"version"},
		BuildArgs: func(target string, extra []string) []string {
			args := []string{"detect", "--no-git", "--report-format", "json", "--report-path", "/dev/stdout"}
			args = append(args, extra...)
			return append(args, "--source", target)
		},
		Parse: ParseGitleaks,
	}
}

// ParseGitleaks reads the leak array. Secrets never leave the parser
// unmasked.
func ParseGitleaks(out []byte) ([]models.Finding, error) {
	var leaks []gitleaksLeak
	if err := json.Unmarshal(out, &leaks); err != nil {
		return nil, fmt.Errorf("decode gitleaks report: %w", err)
	}

	findings := make([]models.Finding, 0, len(leaks))
	for _, l := range leaks {
		desc := l.Description
		if desc == "" {
			desc = l.RuleID
		}
		if l.Secret != "" {
			desc = fmt.Sprintf("%s (%s)", desc, utils.MaskSensitiveData(l.Secret))
		}
		findings = append(findings, models.Finding{
			Tool:        "gitleaks",
			Severity:    normalize.Severity("gitleaks", ""),
			Category:    normalize.CategorySecret,
			File:        l.File,
			Line:        l.StartLine,
			Description: desc,
			RuleID:      l.RuleID,
		})
	}
	return findings, nil
}
