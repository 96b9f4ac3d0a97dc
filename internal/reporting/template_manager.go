package reporting

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

const SummaryTemplate = "summary"

const defaultSummary = `
Scan {{ .SessionID }} ({{ .TargetID }})
Status:   {{ .Status }}
Duration: {{ .Duration }}
{{- if .Error }}
Error:    {{ .Error }}
{{- end }}

Findings: {{ .Stats.Total }} (risk score {{ printf "%.2f" .Stats.RiskScore }})
{{- range $sev := severities }}
  {{ pad (print $sev) 9 }} {{ index $.Stats.BySeverity $sev }}
{{- end }}
{{- if .Stats.ByTool }}

By tool:
{{- range $tool, $n := .Stats.ByTool }}
  {{ pad $tool 9 }} {{ $n }}
{{- end }}
{{- end }}
{{- if .FailedTools }}

Tools without results:
{{- range .FailedTools }}
  {{ pad .Tool 9 }} {{ .ErrorKind }}: {{ .Error }}
{{- end }}
{{- end }}
{{- if .Recommendations }}

Recommendations:
{{- range .Recommendations }}
  [{{ .Severity }}] {{ .Category }} x{{ .Count }}
      {{ .Remediation }}
{{- end }}
{{- end }}
`

// TemplateManager holds named text templates for rendering summaries.
type TemplateManager struct {
	templates map[string]*template.Template
	funcs     template.FuncMap
	mu        sync.RWMutex
}

func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{
		templates: make(map[string]*template.Template),
		funcs:     defaultFuncs(),
	}
	if err := tm.Register(SummaryTemplate, defaultSummary, nil); err != nil {
		panic(err)
	}
	return tm
}

func (tm *TemplateManager) Register(name, tpl string, funcs template.FuncMap) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t := template.New(name).Funcs(tm.funcs)
	if funcs != nil {
		t = t.Funcs(funcs)
	}
	parsed, err := t.Parse(tpl)
	if err != nil {
		return fmt.Errorf("parse %q: %w", name, err)
	}
	tm.templates[name] = parsed
	return nil
}

// LoadDir registers every *.tmpl file in dir under its base name without
// the extension, overriding built-ins of the same name.
func (tm *TemplateManager) LoadDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".tmpl" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		return tm.Register(strings.TrimSuffix(d.Name(), ".tmpl"), string(b), nil)
	})
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) Render(w io.Writer, name string, data interface{}) error {
	t, ok := tm.Get(name)
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("render %q: %w", name, err)
	}
	return nil
}

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"severities": func() []models.Severity { return models.Severities },
		"pad": func(s string, n int) string {
			if len(s) >= n {
				return s
			}
			return s + strings.Repeat(" ", n-len(s))
		},
		"upper": strings.ToUpper,
	}
}
