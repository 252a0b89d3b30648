package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TrialStatus represents the outcome of a single trial
type TrialStatus string

const (
	TrialStatusComplete TrialStatus = "complete"
	TrialStatusFailed   TrialStatus = "failed"
)

// StageSpec names a plugin and the hyperparameters it is built with
type StageSpec struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// PipelineSpec describes an imputer -> preprocessors -> predictor chain
type PipelineSpec struct {
	Imputer       *StageSpec  `json:"imputer,omitempty"`
	Preprocessors []StageSpec `json:"preprocessors,omitempty"`
	Predictor     StageSpec   `json:"predictor"`
}

// Name returns the stage names joined by arrows
func (p PipelineSpec) Name() string {
	parts := make([]string, 0, len(p.Preprocessors)+2)
	if p.Imputer != nil {
		parts = append(parts, p.Imputer.Name)
	}
	for _, pre := range p.Preprocessors {
		parts = append(parts, pre.Name)
	}
	parts = append(parts, p.Predictor.Name)
	return strings.Join(parts, "->")
}

// Key returns a stable identifier for the configuration.
// encoding/json sorts map keys, so equal specs hash equally.
func (p PipelineSpec) Key() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pipeline spec: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

// MetricStat summarises a metric across cross-validation folds
type MetricStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// String formats the stat as "mean +/- std"
func (m MetricStat) String() string {
	return fmt.Sprintf("%.4f +/- %.4f", m.Mean, m.Std)
}

// Trial is one evaluated pipeline configuration, used as a checkpoint entry
type Trial struct {
	ID           string                `json:"id"`
	StudyID      string                `json:"study_id"`
	Key          string                `json:"key"`
	Iteration    int                   `json:"iteration"`
	Predictor    string                `json:"predictor"`
	Spec         PipelineSpec          `json:"spec"`
	Status       TrialStatus           `json:"status"`
	Score        *float64              `json:"score,omitempty"`
	Metrics      map[string]MetricStat `json:"metrics,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Duration     time.Duration         `json:"duration"`
	CreatedAt    time.Time             `json:"created_at"`
}
