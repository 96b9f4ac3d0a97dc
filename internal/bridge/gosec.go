package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type gosecReport struct {
	Issues []struct {
		Severity string `json:"severity"`
		RuleID   string `json:"rule_id"`
		Details  string `json:"details"`
		File     string `json:"file"`
		Line     string `json:"line"` // "12" or "12-14"
		CWE      struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"cwe"`
	} `json:"Issues"`
}

func GosecSpec() ToolSpec {
	return ToolSpec{
		Name:        "gosec",
		Binary:      "gosec",
		VersionArgs: []string{"-version"},
		BuildArgs: func(target string, extra []string) []string {
			args := []string{"-fmt", "json", "-quiet"}
			args = append(args, extra...)
			return append(args, strings.TrimRight(target, "/")+"/...")
		},
		Parse: ParseGosec,
	}
}

func ParseGosec(out []byte) ([]models.Finding, error) {
	var doc gosecReport
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decode gosec report: %w", err)
	}

	findings := make([]models.Finding, 0, len(doc.Issues))
	for _, is := range doc.Issues {
		var cwes []string
		var refs []string
		if is.CWE.ID != "" {
			cwes = []string{"CWE-" + is.CWE.ID}
		}
		if is.CWE.URL != "" {
			refs = []string{is.CWE.URL}
		}
		findings = append(findings, models.Finding{
			Tool:        "gosec",
			Severity:    normalize.Severity("gosec", is.Severity),
			Category:    normalize.Category(is.RuleID, cwes, is.Details),
			File:        is.File,
			Line:        firstLine(is.Line),
			Description: is.Details,
			References:  refs,
			RuleID:      is.RuleID,
		})
	}
	return findings, nil
}

func firstLine(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
