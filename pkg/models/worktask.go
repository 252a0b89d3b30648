package models

import "time"

// StudyTaskStatus represents the current status of a queued study run
type StudyTaskStatus string

const (
	StudyTaskStatusQueued    StudyTaskStatus = "queued"
	StudyTaskStatusExecuting StudyTaskStatus = "executing"
	StudyTaskStatusCompleted StudyTaskStatus = "completed"
	StudyTaskStatusFailed    StudyTaskStatus = "failed"
	StudyTaskStatusCancelled StudyTaskStatus = "cancelled"
)

// StudyTaskTrigger records what submitted a run
type StudyTaskTrigger string

const (
	StudyTaskTriggerAPI      StudyTaskTrigger = "api"
	StudyTaskTriggerSchedule StudyTaskTrigger = "schedule"
	StudyTaskTriggerRecovery StudyTaskTrigger = "recovery" // Resubmitted after a restart
)

// StudyTask represents a study run waiting for, or held by, a worker
type StudyTask struct {
	ID           string           `json:"task_id"`
	StudyID      string           `json:"study_id"`
	Trigger      StudyTaskTrigger `json:"trigger"`
	Status       StudyTaskStatus  `json:"status"`
	Priority     int              `json:"priority"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// IsTerminal reports whether the task has finished
func (t *StudyTask) IsTerminal() bool {
	switch t.Status {
	case StudyTaskStatusCompleted, StudyTaskStatusFailed, StudyTaskStatusCancelled:
		return true
	}
	return false
}
