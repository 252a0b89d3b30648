package models

import (
	"fmt"
	"time"
)

// Schedule periodically resubmits a study (cron-based). Because studies resume
// from their checkpoints, each run extends the previous search.
type Schedule struct {
	ID           string     `json:"id" yaml:"-"`
	StudyID      string     `json:"study_id" yaml:"study_id"`
	Name         string     `json:"name" yaml:"name"`
	CronSchedule string     `json:"cron_schedule" yaml:"cron_schedule"` // Cron expression
	Enabled      bool       `json:"enabled" yaml:"enabled"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"-"`
	LastRun      *time.Time `json:"last_run,omitempty" yaml:"-"`
	NextRun      *time.Time `json:"next_run,omitempty" yaml:"-"`
}

// ScheduleCreateRequest represents a request to create a new schedule
type ScheduleCreateRequest struct {
	StudyID      string `json:"study_id" yaml:"study_id"`
	Name         string `json:"name" yaml:"name"`
	CronSchedule string `json:"cron_schedule" yaml:"cron_schedule"`
	Enabled      bool   `json:"enabled" yaml:"enabled"`
}

// Validate checks if the ScheduleCreateRequest is valid
func (r *ScheduleCreateRequest) Validate() error {
	if r.StudyID == "" {
		return fmt.Errorf("study_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.CronSchedule == "" {
		return fmt.Errorf("cron_schedule is required")
	}
	return nil
}

// ScheduleUpdateRequest represents a request to update a schedule
type ScheduleUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	CronSchedule *string `json:"cron_schedule,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
}
