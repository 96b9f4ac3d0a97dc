package bridge

import (
	"context"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// Bridge runs one external analysis tool and turns its output into findings.
// Run returns a non-nil empty slice together with a *ToolError on failure and
// never panics.
type Bridge interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Run(ctx context.Context, targetRoot string) ([]models.Finding, error)
}

// Discoverer is implemented by bridges that can report findings while the
// tool is still running. The returned slice holds every finding passed to
// emit.
type Discoverer interface {
	Discover(ctx context.Context, targetRoot string, emit func(models.Finding)) ([]models.Finding, error)
}

// ToolInfo describes a bridge for listings.
type ToolInfo struct {
	Name      string `json:"name" yaml:"name"`
	Binary    string `json:"binary" yaml:"binary"`
	Available bool   `json:"available" yaml:"available"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Simulated bool   `json:"simulated" yaml:"simulated"`
}

type describer interface {
	Info(ctx context.Context) ToolInfo
}
