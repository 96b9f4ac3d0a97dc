package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/bl4ck0w1/codelynx/internal/normalize"
	"github.com/bl4ck0w1/codelynx/pkg/models"
)

type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			InstalledVersion string   `json:"InstalledVersion"`
			FixedVersion     string   `json:"FixedVersion"`
			Title            string   `json:"Title"`
			Description      string   `json:"Description"`
			Severity         string   `json:"Severity"`
			PrimaryURL       string   `json:"PrimaryURL"`
			References       []string `json:"References"`
			CweIDs           []string `json:"CweIDs"`
		} `json:"Vulnerabilities"`
		Misconfigurations []struct {
			ID            string   `json:"ID"`
			Title         string   `json:"Title"`
			Description   string   `json:"Description"`
			Resolution    string   `json:"Resolution"`
			Severity      string   `json:"Severity"`
			PrimaryURL    string   `json:"PrimaryURL"`
			References    []string `json:"References"`
			CauseMetadata struct {
				StartLine int `json:"StartLine"`
			} `json:"CauseMetadata"`
		} `json:"Misconfigurations"`
		Secrets []struct {
			RuleID    string `json:"RuleID"`
			Category  string `json:"Category"`
			Severity  string `json:"Severity"`
			Title     string `json:"Title"`
			StartLine int    `json:"StartLine"`
		} `json:"Secrets"`
	} `json:"Results"`
}

func TrivySpec() ToolSpec {
	return ToolSpec{
		Name:   "trivy",
		Binary: "trivy",
		BuildArgs: func(target string, extra []string) []string {
			args := []string{"fs", "--format", "json", "--quiet", "--scanners", "vuln,misconfig,secret"}
			args = append(args, extra...)
			return append(args, target)
		},
		Parse: ParseTrivy,
	}
}

func ParseTrivy(out []byte) ([]models.Finding, error) {
	var doc trivyReport
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decode trivy report: %w", err)
	}

	var findings []models.Finding
	for _, r := range doc.Results {
		for _, v := range r.Vulnerabilities {
			desc := firstNonEmpty(v.Title, v.Description)
			findings = append(findings, models.Finding{
				Tool:        "trivy",
				Severity:    normalize.Severity("trivy", v.Severity),
				Category:    normalize.CategoryDependency,
				File:        r.Target,
				Description: fmt.Sprintf("%s in %s %s: %s", v.VulnerabilityID, v.PkgName, v.InstalledVersion, desc),
				Fix:         normalize.DependencyFix(v.PkgName, v.InstalledVersion, v.FixedVersion),
				References:  prepend(v.PrimaryURL, v.References),
				RuleID:      v.VulnerabilityID,
			})
		}
		for _, m := range r.Misconfigurations {
			findings = append(findings, models.Finding{
				Tool:        "trivy",
				Severity:    normalize.Severity("trivy", m.Severity),
				Category:    normalize.CategoryMisconfiguration,
				File:        r.Target,
				Line:        m.CauseMetadata.StartLine,
				Description: firstNonEmpty(m.Description, m.Title),
				Fix:         m.Resolution,
				References:  prepend(m.PrimaryURL, m.References),
				RuleID:      m.ID,
			})
		}
		for _, s := range r.Secrets {
			findings = append(findings, models.Finding{
				Tool:        "trivy",
				Severity:    normalize.Severity("trivy", s.Severity),
				Category:    normalize.CategorySecret,
				File:        r.Target,
				Line:        s.StartLine,
				Description: firstNonEmpty(s.Title, s.RuleID),
				RuleID:      s.RuleID,
			})
		}
	}
	if findings == nil {
		findings = []models.Finding{}
	}
	return findings, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func prepend(first string, rest []string) []string {
	if first == "" {
		return rest
	}
	return append([]string{first}, rest...)
}
