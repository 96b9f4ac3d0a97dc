package models

import "time"

type EventType string

const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventFinding   EventType = "finding"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is the wire shape pushed to a session's observer.
type Event struct {
	Type            EventType `json:"type"`
	ScanID          string    `json:"scanId"`
	CurrentTool     string    `json:"currentTool,omitempty"`
	ProgressPercent *float64  `json:"progressPercent,omitempty"`
	Message         string    `json:"message,omitempty"`
	Finding         *Finding  `json:"finding,omitempty"`
	RunningTotal    *int      `json:"runningTotal,omitempty"`
	TotalFindings   *int      `json:"totalFindings,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewConnectedEvent(scanID string) Event {
	return Event{Type: EventConnected, ScanID: scanID, Message: "connected", Timestamp: time.Now().UTC()}
}

func NewProgressEvent(scanID, tool string, percent float64, message string) Event {
	return Event{
		Type:            EventProgress,
		ScanID:          scanID,
		CurrentTool:     tool,
		ProgressPercent: &percent,
		Message:         message,
		Timestamp:       time.Now().UTC(),
	}
}

func NewFindingEvent(scanID, tool string, f Finding, runningTotal int) Event {
	fc := f.Clone()
	return Event{
		Type:         EventFinding,
		ScanID:       scanID,
		CurrentTool:  tool,
		Finding:      &fc,
		RunningTotal: &runningTotal,
		Timestamp:    time.Now().UTC(),
	}
}

func NewCompletedEvent(scanID string, total int) Event {
	pct := 100.0
	return Event{
		Type:            EventCompleted,
		ScanID:          scanID,
		ProgressPercent: &pct,
		TotalFindings:   &total,
		Message:         "scan completed",
		Timestamp:       time.Now().UTC(),
	}
}

func NewErrorEvent(scanID, message string) Event {
	return Event{Type: EventError, ScanID: scanID, Message: message, Timestamp: time.Now().UTC()}
}

// Percent returns the progress value or -1 when the event carries none.
func (e Event) Percent() float64 {
	if e.ProgressPercent == nil {
		return -1
	}
	return *e.ProgressPercent
}

func (e Event) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}
