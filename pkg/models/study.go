package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Task identifies the kind of predictive problem a study solves
type Task string

const (
	TaskClassification Task = "classification"
	TaskRegression     Task = "regression"
	TaskSurvival       Task = "survival"
)

// StudyStatus represents the lifecycle state of a study
type StudyStatus string

const (
	StudyStatusPending   StudyStatus = "pending"   // Created, never run
	StudyStatusQueued    StudyStatus = "queued"    // Waiting for a worker
	StudyStatusRunning   StudyStatus = "running"   // Search in progress
	StudyStatusCompleted StudyStatus = "completed" // All requested iterations finished
	StudyStatusFailed    StudyStatus = "failed"    // Search aborted with an error
	StudyStatusCancelled StudyStatus = "cancelled" // Stopped by a hook or a user request
)

// Default search settings
const (
	DefaultNumIter      = 50
	DefaultNumStudyIter = 5
	DefaultTimeout      = 360
	DefaultFolds        = 3
	DefaultPatience     = 10
)

// StudyConfig describes the search a study performs
type StudyConfig struct {
	Name             string   `json:"name" yaml:"name" validate:"required,max=128"`
	Task             Task     `json:"task" yaml:"task" validate:"required,oneof=classification regression survival"`
	Target           string   `json:"target" yaml:"target" validate:"required"`
	TimeToEvent      string   `json:"time_to_event,omitempty" yaml:"time_to_event"`
	DataPath         string   `json:"data_path,omitempty" yaml:"data_path"`
	Imputers         []string `json:"imputers,omitempty" yaml:"imputers" validate:"dive,required"`
	FeatureScaling   []string `json:"feature_scaling,omitempty" yaml:"feature_scaling" validate:"dive,required"`
	FeatureSelection []string `json:"feature_selection,omitempty" yaml:"feature_selection" validate:"dive,required"`
	Predictors       []string `json:"predictors,omitempty" yaml:"predictors" validate:"dive,required"`
	NumIter          int      `json:"num_iter" yaml:"num_iter" validate:"gte=0"`
	NumStudyIter     int      `json:"num_study_iter" yaml:"num_study_iter" validate:"gte=0"`
	Timeout          int      `json:"timeout" yaml:"timeout" validate:"gte=0"` // Seconds per predictor search
	Metric           string   `json:"metric,omitempty" yaml:"metric"`
	ScoreThreshold   float64  `json:"score_threshold" yaml:"score_threshold"` // Metric units; an upper bound for rmse and mae
	Folds            int      `json:"folds" yaml:"folds" validate:"omitempty,gte=2,lte=20"`
	Seed             int64    `json:"seed" yaml:"seed"`
	Workspace        string   `json:"workspace,omitempty" yaml:"workspace"`
	EnsembleSize     int      `json:"ensemble_size" yaml:"ensemble_size" validate:"gte=0,lte=10"`
	Patience         int      `json:"patience" yaml:"patience" validate:"gte=0"`
}

// Validate checks the configuration for structural errors
func (c *StudyConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid study config: %w", err)
	}
	if c.Task == TaskSurvival && c.TimeToEvent == "" {
		return fmt.Errorf("invalid study config: time_to_event is required for survival studies")
	}
	if c.Task != TaskSurvival && c.TimeToEvent != "" {
		return fmt.Errorf("invalid study config: time_to_event only applies to survival studies")
	}
	return nil
}

// ApplyDefaults fills unset numeric settings
func (c *StudyConfig) ApplyDefaults() {
	if c.NumIter == 0 {
		c.NumIter = DefaultNumIter
	}
	if c.NumStudyIter == 0 {
		c.NumStudyIter = DefaultNumStudyIter
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Folds == 0 {
		c.Folds = DefaultFolds
	}
	if c.Patience == 0 {
		c.Patience = DefaultPatience
	}
	if c.EnsembleSize == 0 {
		c.EnsembleSize = 1
	}
}

// Study is the persisted record of a study and its progress
type Study struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Config              StudyConfig `json:"config"`
	Status              StudyStatus `json:"status"`
	BestScore           *float64    `json:"best_score,omitempty"`
	BestModel           string      `json:"best_model,omitempty"`
	Features            []string    `json:"features,omitempty"`
	CompletedIterations int         `json:"completed_iterations"`
	TargetIterations    int         `json:"target_iterations"`
	ModelPath           string      `json:"model_path,omitempty"`
	ErrorMessage        string      `json:"error_message,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
}

// IsActive reports whether the study is waiting for or holding a worker
func (s *Study) IsActive() bool {
	return s.Status == StudyStatusQueued || s.Status == StudyStatusRunning
}

// StudyCreateRequest represents a request to create a study
type StudyCreateRequest struct {
	Config StudyConfig `json:"config"`
}

// Validate checks if the StudyCreateRequest is valid
func (r *StudyCreateRequest) Validate() error {
	if r.Config.DataPath == "" {
		return fmt.Errorf("config.data_path is required")
	}
	return r.Config.Validate()
}

// StudyRunRequest represents a request to (re)run a study
type StudyRunRequest struct {
	Priority int `json:"priority"`
}

// PredictionRequest carries rows to score with a study's best model
type PredictionRequest struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// Validate checks if the PredictionRequest is valid
func (r *PredictionRequest) Validate() error {
	if len(r.Columns) == 0 {
		return fmt.Errorf("columns are required")
	}
	if len(r.Rows) == 0 {
		return fmt.Errorf("rows are required")
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(r.Columns))
		}
	}
	return nil
}

// PredictionResponse holds model output for a PredictionRequest
type PredictionResponse struct {
	Model         string      `json:"model"`
	Predictions   []float64   `json:"predictions"`
	Classes       []float64   `json:"classes,omitempty"`
	Probabilities [][]float64 `json:"probabilities,omitempty"`
}
