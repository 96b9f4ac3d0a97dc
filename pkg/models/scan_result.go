package models

import "time"

type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
)

func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ToolRunState string

const (
	ToolNotStarted ToolRunState = "NOT_STARTED"
	ToolRunning    ToolRunState = "RUNNING"
	ToolSucceeded  ToolRunState = "SUCCEEDED"
	ToolFailed     ToolRunState = "FAILED"
	ToolTimedOut   ToolRunState = "TIMED_OUT"
)

func (s ToolRunState) IsTerminal() bool {
	return s == ToolSucceeded || s == ToolFailed || s == ToolTimedOut
}

// ToolRun tracks one tool invocation inside a session. Error and ErrorKind
// are the per-tool note left behind when the tool contributed nothing.
type ToolRun struct {
	Tool       string       `json:"tool" yaml:"tool"`
	State      ToolRunState `json:"state" yaml:"state"`
	StartedAt  time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Findings   int          `json:"findings" yaml:"findings"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string       `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

func (r ToolRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ScanSession is a read-only snapshot of one orchestration run.
type ScanSession struct {
	ID            string        `json:"id" yaml:"id"`
	TargetID      string        `json:"target_id" yaml:"target_id"`
	TargetRoot    string        `json:"target_root" yaml:"target_root"`
	SelectedTools []string      `json:"selected_tools" yaml:"selected_tools"`
	Status        SessionStatus `json:"status" yaml:"status"`
	Findings      []Finding     `json:"findings" yaml:"findings"`
	ToolRuns      []ToolRun     `json:"tool_runs" yaml:"tool_runs"`
	Progress      float64       `json:"progress" yaml:"progress"`
	CurrentTool   string        `json:"current_tool,omitempty" yaml:"current_tool,omitempty"`
	StartTime     time.Time     `json:"start_time" yaml:"start_time"`
	EndTime       time.Time     `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s *ScanSession) Clone() ScanSession {
	out := *s
	out.SelectedTools = append([]string(nil), s.SelectedTools...)
	out.Findings = CloneFindings(s.Findings)
	if s.ToolRuns != nil {
		out.ToolRuns = append([]ToolRun(nil), s.ToolRuns...)
	}
	return out
}

func (s *ScanSession) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// FailedTools returns the runs that left an error note.
func (s *ScanSession) FailedTools() []ToolRun {
	var out []ToolRun
	for _, r := range s.ToolRuns {
		if r.State == ToolFailed || r.State == ToolTimedOut {
			out = append(out, r)
		}
	}
	return out
}

type SessionSummary struct {
	ID          string        `json:"id" yaml:"id"`
	TargetID    string        `json:"target_id" yaml:"target_id"`
	Status      SessionStatus `json:"status" yaml:"status"`
	Progress    float64       `json:"progress" yaml:"progress"`
	CurrentTool string        `json:"current_tool,omitempty" yaml:"current_tool,omitempty"`
	Findings    int           `json:"findings" yaml:"findings"`
	StartTime   time.Time     `json:"start_time" yaml:"start_time"`
	EndTime     time.Time     `json:"end_time,omitempty" yaml:"end_time,omitempty"`
}

func (s *ScanSession) Summary() SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		TargetID:    s.TargetID,
		Status:      s.Status,
		Progress:    s.Progress,
		CurrentTool: s.CurrentTool,
		Findings:    len(s.Findings),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}
