package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type banditReport struct {
	Results []struct {
		Filename      string `json:"filename"`
		LineNumber    int    `json:"line_number"`
		IssueText     string `json:"issue_text"`
		IssueSeverity string `json:"issue_severity"`
		TestID        string `json:"test_id"`
		TestName      string `json:"test_name"`
		MoreInfo      string `json:"more_info"`
		IssueCWE      struct {
			ID int `json:"id"`
		} `json:"issue_cwe"`
	} `json:"results"`
}

func BanditSpec() ToolSpec {
	return ToolSpec{
		Name:   "bandit",
		Binary: "bandit",
		BuildArgs: func(target string, extra []string) []string {
			args := []string{"-r", target, "-f", "json", "-q"}
			return append(args, extra...)
		},
		Parse: ParseBandit,
	}
}

func ParseBandit(out []byte) ([]models.Finding, error) {
	var doc banditReport
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decode bandit report: %w", err)
	}

	findings := make([]models.Finding, 0, len(doc.Results))
	for _, r := range doc.Results {
		var cwes []string
		if r.IssueCWE.ID > 0 {
			cwes = []string{"CWE-" + strconv.Itoa(r.IssueCWE.ID)}
		}
		var refs []string
		if r.MoreInfo != "" {
			refs = []string{r.MoreInfo}
		}
		findings = append(findings, models.Finding{
			Tool:        "bandit",
			Severity:    normalize.Severity("bandit", r.IssueSeverity),
			// test names like "hardcoded_sql_expressions" mislead the keyword rules
			Category:    normalize.Category(r.TestID, cwes, r.IssueText+" "+r.TestName),
			File:        r.Filename,
			Line:        r.LineNumber,
			Description: r.IssueText,
			References:  refs,
			RuleID:      r.TestID,
		})
	}
	return findings, nil
}
