package normalize

import (
	"path"
	"strings"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// RelativePath rewrites an absolute tool-reported path relative to the first
// root that contains it, so that different tools agree on dedup keys. Paths
// are compared with forward slashes because execution namespaces may differ
// from the host in separator style.
func RelativePath(file string, roots ...string) string {
	f := toSlash(file)
	for _, r := range roots {
		if r == "" {
			continue
		}
		root := strings.TrimSuffix(toSlash(r), "/")
		if root == "" {
			continue
		}
		if f == root {
			return "."
		}
		if strings.HasPrefix(f, root+"/") {
			return strings.TrimPrefix(f, root+"/")
		}
	}
	f = strings.TrimPrefix(f, "./")
	if f == "" {
		return f
	}
	return path.Clean(f)
}

func toSlash(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
}

// Finalize completes a parsed finding: canonical file path, a non-empty
// category, remediation text, unique references and an id.
func Finalize(f models.Finding, roots ...string) models.Finding {
	f.File = RelativePath(f.File, roots...)
	if f.Line < 0 {
		f.Line = 0
	}
	if strings.TrimSpace(f.Category) == "" {
		f.Category = CategoryGeneric
	}
	if !f.Severity.IsValid() {
		f.Severity = Severity(f.Tool, string(f.Severity))
	}
	f.Description = strings.TrimSpace(f.Description)
	f.Fix = Fix(f.Category, f.Fix)
	f.References = uniqueRefs(f.References)
	f.EnsureID()
	return f
}

func uniqueRefs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
