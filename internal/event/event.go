// Package event defines the session event log entries shared by device
// sessions, the training orchestrator and event publishers.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a session event.
type Kind string

const (
	Start           Kind = "start"
	Pause           Kind = "pause"
	Resume          Kind = "resume"
	Stop            Kind = "stop"
	ActivityChanged Kind = "activityChanged"
	BLEConnected    Kind = "bleConnected"
	BLEDisconnected Kind = "bleDisconnected"
	BLECommand      Kind = "bleCommand"
	MetricSnapshot  Kind = "metricSnapshot"
	Location        Kind = "location"
	Note            Kind = "note"
	Custom          Kind = "custom"
)

// Event is one entry of a session event log.
type Event struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Logger receives events. Implementations must be safe for concurrent use.
type Logger interface {
	LogEvent(kind Kind, message string, fields map[string]string)
}

// Discard is a Logger that drops every event.
var Discard Logger = discard{}

type discard struct{}

func (discard) LogEvent(Kind, string, map[string]string) {}

// Record is the persisted summary of one run: from start to stop.
type Record struct {
	ID          uuid.UUID `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	StoppedAt   time.Time `json:"stoppedAt"`
	Activity    string    `json:"activity"`
	StateAtStop string    `json:"stateAtStop"`
	Events      []Event   `json:"events"`
}
