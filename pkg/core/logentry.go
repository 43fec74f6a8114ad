package core

import "time"

// LogEntry is one chunk of complete lines placed in the ordered view.
type LogEntry struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"ts"`
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// SourceEventKind distinguishes data from reset and end signals.
type SourceEventKind int

const (
	SourceData SourceEventKind = iota
	// SourceReset means the whole source restarted from zero.
	SourceReset
	// SourceEnded means one sub-source stream ended. It may be reopened
	// with an overlapping since window.
	SourceEnded
)

// SourceEvent is what a log source hands to the processing worker.
type SourceEvent struct {
	Kind SourceEventKind
	// Source is the sub-source name (pod/container, unit, or file path).
	Source string
	Data   []byte
	// Prefixed is set when more than one sub-source is active.
	Prefixed bool
	// Timestamped is set when each line starts with an RFC 3339 timestamp.
	Timestamped bool
	Received    time.Time
}
