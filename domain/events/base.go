package events

import (
	"time"

	"crewcanvas/domain/core/valueobjects"
)

// Kind names one of the signals exchanged between the designer's regions.
// The set is closed; publishers must use one of the constants below.
type Kind string

const (
	KindJobCreated               Kind = "jobCreated"
	KindJobCompleted             Kind = "jobCompleted"
	KindJobFailed                Kind = "jobFailed"
	KindTaskStatusUpdate         Kind = "taskStatusUpdate"
	KindSaveCrewComplete         Kind = "saveCrewComplete"
	KindUpdateCrewComplete       Kind = "updateCrewComplete"
	KindRecalculateNodePositions Kind = "recalculateNodePositions"
	KindAPIKeyEditorRequested    Kind = "apiKeyEditorRequested"
	KindAPIKeyEditorClosed       Kind = "apiKeyEditorClosed"
	KindExecutionStatusChanged   Kind = "executionStatusChanged"
)

// AllKinds lists every kind in declaration order
var AllKinds = []Kind{
	KindJobCreated,
	KindJobCompleted,
	KindJobFailed,
	KindTaskStatusUpdate,
	KindSaveCrewComplete,
	KindUpdateCrewComplete,
	KindRecalculateNodePositions,
	KindAPIKeyEditorRequested,
	KindAPIKeyEditorClosed,
	KindExecutionStatusChanged,
}

// IsValid reports whether k is one of the declared kinds
func (k Kind) IsValid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// DomainEvent is implemented by every event payload
type DomainEvent interface {
	GetAggregateID() string
	GetKind() Kind
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventKind   Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetKind() Kind           { return e.EventKind }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(aggregateID string, kind Kind, at time.Time) BaseEvent {
	return BaseEvent{AggregateID: aggregateID, EventKind: kind, Timestamp: at, Version: 1}
}

// Job events

// JobCreated is raised once the backend accepted a job for a tab
type JobCreated struct {
	BaseEvent
	JobID       string             `json:"jobId"`
	ExecutionID string             `json:"executionId,omitempty"`
	JobName     string             `json:"jobName"`
	Status      string             `json:"status"`
	TabID       valueobjects.TabID `json:"tabId"`
}

func NewJobCreated(jobID, executionID, jobName, status string, tabID valueobjects.TabID, at time.Time) JobCreated {
	return JobCreated{
		BaseEvent:   newBase(jobID, KindJobCreated, at),
		JobID:       jobID,
		ExecutionID: executionID,
		JobName:     jobName,
		Status:      status,
		TabID:       tabID,
	}
}

// JobCompleted is raised by the backend job channel when a job finishes
type JobCompleted struct {
	BaseEvent
	JobID  string `json:"jobId"`
	Result any    `json:"result,omitempty"`
}

func NewJobCompleted(jobID string, result any, at time.Time) JobCompleted {
	return JobCompleted{
		BaseEvent: newBase(jobID, KindJobCompleted, at),
		JobID:     jobID,
		Result:    result,
	}
}

// JobFailed is raised by the backend job channel when a job errors out
type JobFailed struct {
	BaseEvent
	JobID string `json:"jobId"`
	Error string `json:"error,omitempty"`
}

func NewJobFailed(jobID, reason string, at time.Time) JobFailed {
	return JobFailed{
		BaseEvent: newBase(jobID, KindJobFailed, at),
		JobID:     jobID,
		Error:     reason,
	}
}

// TaskStatusUpdate asks listeners to refresh task progress for a job
type TaskStatusUpdate struct {
	BaseEvent
	JobID string `json:"jobId"`
}

func NewTaskStatusUpdate(jobID string, at time.Time) TaskStatusUpdate {
	return TaskStatusUpdate{
		BaseEvent: newBase(jobID, KindTaskStatusUpdate, at),
		JobID:     jobID,
	}
}

// Crew events

// SaveCrewComplete is raised after a tab was saved as a new crew
type SaveCrewComplete struct {
	BaseEvent
	CrewID   string             `json:"crewId"`
	CrewName string             `json:"crewName"`
	TabID    valueobjects.TabID `json:"tabId"`
}

func NewSaveCrewComplete(crewID, crewName string, tabID valueobjects.TabID, at time.Time) SaveCrewComplete {
	return SaveCrewComplete{
		BaseEvent: newBase(crewID, KindSaveCrewComplete, at),
		CrewID:    crewID,
		CrewName:  crewName,
		TabID:     tabID,
	}
}

// UpdateCrewComplete is raised after a tab overwrote its saved crew
type UpdateCrewComplete struct {
	BaseEvent
	CrewID   string             `json:"crewId"`
	CrewName string             `json:"crewName"`
	TabID    valueobjects.TabID `json:"tabId"`
}

func NewUpdateCrewComplete(crewID, crewName string, tabID valueobjects.TabID, at time.Time) UpdateCrewComplete {
	return UpdateCrewComplete{
		BaseEvent: newBase(crewID, KindUpdateCrewComplete, at),
		CrewID:    crewID,
		CrewName:  crewName,
		TabID:     tabID,
	}
}

// Canvas events

// RecalculateNodePositions asks the canvas to lay its nodes out again
type RecalculateNodePositions struct {
	BaseEvent
	Reason string             `json:"reason"`
	TabID  valueobjects.TabID `json:"tabId"`
}

func NewRecalculateNodePositions(reason string, tabID valueobjects.TabID, at time.Time) RecalculateNodePositions {
	return RecalculateNodePositions{
		BaseEvent: newBase(tabID.String(), KindRecalculateNodePositions, at),
		Reason:    reason,
		TabID:     tabID,
	}
}

// Secrets events

// APIKeyEditorRequested opens the API key editor, optionally on one key
type APIKeyEditorRequested struct {
	BaseEvent
	KeyName string `json:"keyName,omitempty"`
}

func NewAPIKeyEditorRequested(keyName string, at time.Time) APIKeyEditorRequested {
	return APIKeyEditorRequested{
		BaseEvent: newBase(keyName, KindAPIKeyEditorRequested, at),
		KeyName:   keyName,
	}
}

// APIKeyEditorClosed is raised when the API key editor is dismissed
type APIKeyEditorClosed struct {
	BaseEvent
}

func NewAPIKeyEditorClosed(at time.Time) APIKeyEditorClosed {
	return APIKeyEditorClosed{BaseEvent: newBase("", KindAPIKeyEditorClosed, at)}
}

// Execution events

// ExecutionStatusChanged is raised on every accepted tab status transition
type ExecutionStatusChanged struct {
	BaseEvent
	TabID valueobjects.TabID           `json:"tabId"`
	From  valueobjects.ExecutionStatus `json:"from"`
	To    valueobjects.ExecutionStatus `json:"to"`
	JobID string                       `json:"jobId,omitempty"`
}

func NewExecutionStatusChanged(tabID valueobjects.TabID, from, to valueobjects.ExecutionStatus, jobID string, at time.Time) ExecutionStatusChanged {
	return ExecutionStatusChanged{
		BaseEvent: newBase(tabID.String(), KindExecutionStatusChanged, at),
		TabID:     tabID,
		From:      from,
		To:        to,
		JobID:     jobID,
	}
}
