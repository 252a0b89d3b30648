package models

import (
	"strings"
	"testing"
)

// TestStudyTaskTerminal tests terminal task statuses
func TestStudyTaskTerminal(t *testing.T) {
	tests := []struct {
		status   StudyTaskStatus
		terminal bool
	}{
		{StudyTaskStatusQueued, false},
		{StudyTaskStatusExecuting, false},
		{StudyTaskStatusCompleted, true},
		{StudyTaskStatusFailed, true},
		{StudyTaskStatusCancelled, true},
	}

	for _, tt := range tests {
		task := &StudyTask{Status: tt.status}
		if got := task.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

// TestStudyConfigValidate tests structural validation of study configs
func TestStudyConfigValidate(t *testing.T) {
	valid := StudyConfig{Name: "s", Task: TaskClassification, Target: "y"}

	tests := []struct {
		name    string
		mutate  func(c *StudyConfig)
		wantErr string
	}{
		{"valid", func(c *StudyConfig) {}, ""},
		{"missing name", func(c *StudyConfig) { c.Name = "" }, "Name"},
		{"unknown task", func(c *StudyConfig) { c.Task = "clustering" }, "Task"},
		{"missing target", func(c *StudyConfig) { c.Target = "" }, "Target"},
		{"one fold", func(c *StudyConfig) { c.Folds = 1 }, "Folds"},
		{"negative iterations", func(c *StudyConfig) { c.NumIter = -1 }, "NumIter"},
		{"empty predictor name", func(c *StudyConfig) { c.Predictors = []string{""} }, "Predictors"},
		{"survival without duration", func(c *StudyConfig) { c.Task = TaskSurvival }, "time_to_event"},
		{"duration outside survival", func(c *StudyConfig) { c.TimeToEvent = "t" }, "time_to_event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestStudyConfigDefaults tests that only unset settings are filled
func TestStudyConfigDefaults(t *testing.T) {
	c := StudyConfig{NumIter: 7}
	c.ApplyDefaults()

	if c.NumIter != 7 {
		t.Errorf("expected NumIter 7 to be kept, got %d", c.NumIter)
	}
	if c.NumStudyIter != DefaultNumStudyIter || c.Timeout != DefaultTimeout ||
		c.Folds != DefaultFolds || c.Patience != DefaultPatience || c.EnsembleSize != 1 {
		t.Errorf("defaults not applied: %+v", c)
	}
}

// TestPipelineSpecKey tests that keys identify configurations
func TestPipelineSpecKey(t *testing.T) {
	a := PipelineSpec{
		Imputer:       &StageSpec{Name: "mean"},
		Preprocessors: []StageSpec{{Name: "scaler"}},
		Predictor:     StageSpec{Name: "random_forest", Args: map[string]interface{}{"n_estimators": 10, "max_depth": 4}},
	}
	b := PipelineSpec{
		Imputer:       &StageSpec{Name: "mean"},
		Preprocessors: []StageSpec{{Name: "scaler"}},
		Predictor:     StageSpec{Name: "random_forest", Args: map[string]interface{}{"max_depth": 4, "n_estimators": 10}},
	}

	ka, err := a.Key()
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	kb, _ := b.Key()
	if ka != kb {
		t.Errorf("equal specs produced different keys: %s vs %s", ka, kb)
	}

	b.Predictor.Args["max_depth"] = 5
	kc, _ := b.Key()
	if ka == kc {
		t.Error("different specs produced the same key")
	}

	if got := a.Name(); got != "mean->scaler->random_forest" {
		t.Errorf("unexpected name %q", got)
	}
}

// TestRequestValidation tests API request validation
func TestRequestValidation(t *testing.T) {
	if err := (&StudyCreateRequest{Config: StudyConfig{Name: "s", Task: TaskRegression, Target: "y"}}).Validate(); err == nil {
		t.Error("expected error for missing data_path")
	}

	pred := &PredictionRequest{Columns: []string{"a", "b"}, Rows: [][]float64{{1, 2}, {3}}}
	if err := pred.Validate(); err == nil || !strings.Contains(err.Error(), "row 1") {
		t.Errorf("expected ragged row error, got %v", err)
	}
	pred.Rows[1] = []float64{3, 4}
	if err := pred.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	sched := &ScheduleCreateRequest{StudyID: "s", Name: "nightly"}
	if err := sched.Validate(); err == nil {
		t.Error("expected error for missing cron_schedule")
	}
}
