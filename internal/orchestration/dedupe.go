package orchestration

import (
	"slices"
	"strings"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// DedupeFindings collapses findings that share file, line and category. The
// first occurrence is kept and later reporters are appended to its tool
// field. The input is not modified.
func DedupeFindings(findings []models.Finding) []models.Finding {
	out := make([]models.Finding, 0, len(findings))
	seen := make(map[models.FindingKey]int, len(findings))

	for i := range findings {
		f := &findings[i]
		key := f.Key()
		j, ok := seen[key]
		if !ok {
			seen[key] = len(out)
			out = append(out, f.Clone())
			continue
		}
		tools := out[j].Tools()
		for _, tool := range f.Tools() {
			if !slices.ContainsFunc(tools, func(t string) bool { return strings.EqualFold(t, tool) }) {
				tools = append(tools, tool)
			}
		}
		out[j].Tool = strings.Join(tools, ", ")
	}
	return out
}
