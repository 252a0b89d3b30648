package study

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/hooks"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/pipeline"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/builtin"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
)

func classificationFrame(t *testing.T, n int, seed int64) *dataset.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		center, label := -2.0, 0.0
		if i%2 == 1 {
			center, label = 2, 1
		}
		rows[i] = []float64{center + rng.NormFloat64(), center + rng.NormFloat64(), rng.NormFloat64(), label}
	}
	f, err := dataset.NewFrame([]string{"x1", "x2", "noise", "outcome"}, rows)
	require.NoError(t, err)
	return f
}

func regressionFrame(t *testing.T, n int, seed int64) *dataset.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		x1, x2 := rng.NormFloat64(), rng.NormFloat64()
		rows[i] = []float64{x1, x2, 3*x1 - 2*x2 + 1 + 0.1*rng.NormFloat64()}
	}
	f, err := dataset.NewFrame([]string{"x1", "x2", "y"}, rows)
	require.NoError(t, err)
	return f
}

func survivalFrame(t *testing.T, n int, seed int64) *dataset.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		x1, x2 := rng.NormFloat64(), rng.NormFloat64()
		hazard := math.Exp(1.5 * x1)
		event := rng.ExpFloat64() / hazard
		censor := rng.ExpFloat64() / 0.3
		duration, observed := event, 1.0
		if censor < event {
			duration, observed = censor, 0
		}
		rows[i] = []float64{x1, x2, observed, duration}
	}
	f, err := dataset.NewFrame([]string{"x1", "x2", "event", "time"}, rows)
	require.NoError(t, err)
	return f
}

func classificationConfig(name string) Config {
	return Config{
		Name:           name,
		Task:           models.TaskClassification,
		Target:         "outcome",
		FeatureScaling: []string{"scaler"},
		Predictors:     []string{"logistic_regression"},
		NumIter:        3,
		NumStudyIter:   2,
		Folds:          3,
		Seed:           7,
	}
}

// brokenClassifier fails every fit.
type brokenClassifier struct {
	plugins.Meta
}

func (b *brokenClassifier) Fit(*dataset.Frame, []float64, plugins.FitOptions) error {
	return errors.New("broken on purpose")
}
func (b *brokenClassifier) Predict(*dataset.Frame) ([]float64, error) { return nil, plugins.ErrNotFitted }
func (b *brokenClassifier) PredictProba(*dataset.Frame) (*mat.Dense, error) {
	return nil, plugins.ErrNotFitted
}
func (b *brokenClassifier) Save() ([]byte, error) { return []byte("{}"), nil }

func registryWithBroken(t *testing.T) *plugins.Registry {
	t.Helper()
	reg := builtin.NewRegistry()
	f := &plugins.Factory{Name: "broken", Type: plugins.TypePrediction, Subtype: plugins.SubtypeClassifier}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		return &brokenClassifier{Meta: plugins.NewMeta(f, args)}, nil
	}
	f.Load = func(*plugins.Registry, []byte) (plugins.Plugin, error) { return &brokenClassifier{}, nil }
	require.NoError(t, reg.Register(f))
	return reg
}

func eventsNamed(events []hooks.Event, name string) int {
	n := 0
	for _, e := range events {
		if e.Event == name {
			n++
		}
	}
	return n
}

func TestNewValidation(t *testing.T) {
	reg := builtin.NewRegistry()
	frame := classificationFrame(t, 40, 1)

	tests := []struct {
		name   string
		mutate func(*Config)
		frame  *dataset.Frame
	}{
		{"unknown predictor", func(c *Config) { c.Predictors = []string{"nope"} }, frame},
		{"predictor of another task", func(c *Config) { c.Predictors = []string{"linear_regression"} }, frame},
		{"scaler used as selector", func(c *Config) { c.FeatureSelection = []string{"scaler"} }, frame},
		{"missing target column", func(c *Config) { c.Target = "absent" }, frame},
		{"bad metric", func(c *Config) { c.Metric = "r2" }, frame},
		{"survival without time", func(c *Config) { c.Task = models.TaskSurvival }, frame},
		{"no name", func(c *Config) { c.Name = "" }, frame},
		{"no rows", func(c *Config) {}, &dataset.Frame{Columns: frame.Columns}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := classificationConfig("validation")
			tt.mutate(&cfg)
			_, err := New(cfg, tt.frame, reg, nil, nil, nil)
			assert.Error(t, err)
		})
	}

	cfg := classificationConfig("validation")
	cfg.Predictors = []string{"nope"}
	_, err := New(cfg, frame, reg, nil, nil, nil)
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)
}

func TestNewDefaults(t *testing.T) {
	reg := builtin.NewRegistry()

	cfg := classificationConfig("defaults")
	cfg.Predictors = nil
	s, err := New(cfg, classificationFrame(t, 40, 1), reg, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.imputers, "no missing values, no imputer")
	assert.Equal(t, reg.List(plugins.TypePrediction, plugins.SubtypeClassifier), s.predictors)
	assert.Equal(t, []string{"scaler"}, s.scalers)
	assert.Equal(t, reg.List(plugins.TypePreprocessor, plugins.SubtypeDimensionalityReduction), s.selectors)
	assert.Equal(t, "aucroc", s.Metric())
	assert.Equal(t, []string{"x1", "x2", "noise"}, s.Features())
	assert.Equal(t, models.DefaultPatience, s.Config().Patience)

	withMissing := classificationFrame(t, 40, 1)
	withMissing.Rows[3][0] = math.NaN()
	s, err = New(classificationConfig("missing"), withMissing, reg, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mean"}, s.imputers)

	regCfg := Config{Name: "reg", Task: models.TaskRegression, Target: "y"}
	s, err = New(regCfg, regressionFrame(t, 30, 1), reg, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "r2", s.Metric())
}

func TestRunClassification(t *testing.T) {
	reg := builtin.NewRegistry()
	workspace := t.TempDir()
	rec := &hooks.Recorder{}

	cfg := classificationConfig("classification")
	cfg.Workspace = workspace
	s, err := New(cfg, classificationFrame(t, 60, 2), reg, nil, rec, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.IsType(t, &pipeline.Pipeline{}, model)

	record := s.Record()
	assert.Equal(t, models.StudyStatusCompleted, record.Status)
	assert.Equal(t, 2, record.CompletedIterations)
	assert.Equal(t, 2, record.TargetIterations)
	require.NotNil(t, record.BestScore)
	assert.Greater(t, *record.BestScore, 0.9)
	assert.Equal(t, filepath.Join(workspace, "classification", ModelFile), record.ModelPath)

	loaded, err := serialization.LoadModelFromFile(reg, record.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, model.Name(), loaded.Name())

	events := rec.Events()
	assert.Equal(t, 2, eventsNamed(events, EventIterationStart))
	assert.Positive(t, eventsNamed(events, EventTrialComplete)+eventsNamed(events, EventTrialCached))
	assert.Positive(t, eventsNamed(events, EventImproved))
	assert.True(t, rec.Finished())
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	reg := builtin.NewRegistry()
	workspace := t.TempDir()
	store, err := metadatastore.NewSQLiteStore(filepath.Join(t.TempDir(), "studies.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := classificationConfig("resume")
	cfg.Workspace = workspace
	frame := classificationFrame(t, 60, 3)

	first, err := New(cfg, frame, reg, store, nil, nil)
	require.NoError(t, err)
	_, err = first.Run(context.Background())
	require.NoError(t, err)
	firstScore := *first.Record().BestScore

	rec := &hooks.Recorder{}
	second, err := New(cfg, frame, reg, store, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Record().ID, second.Record().ID)

	model, err := second.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)

	record := second.Record()
	assert.Equal(t, 1, eventsNamed(rec.Events(), EventCheckpoint))
	assert.Equal(t, 4, record.CompletedIterations)
	require.NotNil(t, record.BestScore)
	assert.GreaterOrEqual(t, *record.BestScore, firstScore-1e-9)

	trials, err := store.ListTrials(record.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trials)
}

func TestRunFinishesInterruptedIterations(t *testing.T) {
	reg := builtin.NewRegistry()
	store := NewMemoryStore()
	cfg := classificationConfig("interrupted")
	frame := classificationFrame(t, 40, 12)

	first, err := New(cfg, frame, reg, store, nil, nil)
	require.NoError(t, err)
	_, err = first.Run(context.Background())
	require.NoError(t, err)

	record, err := store.GetStudyByName(cfg.Name)
	require.NoError(t, err)
	require.Equal(t, 2, record.TargetIterations)
	record.Status = models.StudyStatusRunning
	record.CompletedIterations = 1
	require.NoError(t, store.SaveStudy(record))

	rec := &hooks.Recorder{}
	second, err := New(cfg, frame, reg, store, rec, nil)
	require.NoError(t, err)
	_, err = second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, eventsNamed(rec.Events(), EventIterationStart))
	assert.Equal(t, 2, second.Record().CompletedIterations)
	assert.Equal(t, 2, second.Record().TargetIterations)

	// A finished study is extended by another NumStudyIter iterations.
	third, err := New(cfg, frame, reg, store, nil, nil)
	require.NoError(t, err)
	_, err = third.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, third.Record().CompletedIterations)
}

func TestTrialsAreAnsweredFromCheckpoint(t *testing.T) {
	reg := builtin.NewRegistry()
	rec := &hooks.Recorder{}
	s, err := New(classificationConfig("cached"), classificationFrame(t, 40, 4), reg, nil, rec, nil)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := s.runTrial(ctx, ctx, 0, "logistic_regression", params.NewRandomSuggester(11))
	require.NoError(t, err)
	second, err := s.runTrial(ctx, ctx, 1, "logistic_regression", params.NewRandomSuggester(11))
	require.NoError(t, err)

	assert.Equal(t, first.key, second.key)
	assert.Equal(t, first.score, second.score)
	assert.Equal(t, 1, eventsNamed(rec.Events(), EventTrialComplete))
	assert.Equal(t, 1, eventsNamed(rec.Events(), EventTrialCached))
}

func TestFailedTrialsDoNotAbort(t *testing.T) {
	reg := registryWithBroken(t)
	rec := &hooks.Recorder{}
	store := NewMemoryStore()

	cfg := classificationConfig("broken")
	cfg.Predictors = []string{"broken", "logistic_regression"}
	cfg.NumStudyIter = 1
	s, err := New(cfg, classificationFrame(t, 40, 5), reg, store, rec, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, model.Name(), "logistic_regression")
	assert.Positive(t, eventsNamed(rec.Events(), EventTrialFailed))
}

func TestRunCancelled(t *testing.T) {
	reg := builtin.NewRegistry()

	t.Run("before start", func(t *testing.T) {
		rec := &hooks.Recorder{CancelAfter: 1}
		s, err := New(classificationConfig("cancel-early"), classificationFrame(t, 40, 6), reg, nil, rec, nil)
		require.NoError(t, err)

		model, err := s.Run(context.Background())
		assert.ErrorIs(t, err, hooks.ErrStudyCancelled)
		assert.Nil(t, model)
		assert.Equal(t, models.StudyStatusCancelled, s.Record().Status)
		assert.True(t, rec.Finished())
	})

	t.Run("during search", func(t *testing.T) {
		rec := &hooks.Recorder{CancelAfter: 4}
		s, err := New(classificationConfig("cancel-late"), classificationFrame(t, 40, 6), reg, nil, rec, nil)
		require.NoError(t, err)

		_, err = s.Run(context.Background())
		assert.ErrorIs(t, err, hooks.ErrStudyCancelled)
		assert.Equal(t, models.StudyStatusCancelled, s.Record().Status)
	})

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s, err := New(classificationConfig("cancel-ctx"), classificationFrame(t, 40, 6), reg, nil, nil, nil)
		require.NoError(t, err)

		_, err = s.Run(ctx)
		assert.ErrorIs(t, err, hooks.ErrStudyCancelled)
	})
}

func TestRunThresholdNotMet(t *testing.T) {
	reg := builtin.NewRegistry()
	rec := &hooks.Recorder{}

	cfg := classificationConfig("threshold")
	cfg.ScoreThreshold = 2
	s, err := New(cfg, classificationFrame(t, 40, 7), reg, nil, rec, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Nil(t, model)
	assert.Equal(t, 2, eventsNamed(rec.Events(), EventBelowThreshold))
	assert.Equal(t, models.StudyStatusFailed, s.Record().Status)
}

func TestRunPatience(t *testing.T) {
	reg := builtin.NewRegistry()
	rec := &hooks.Recorder{}

	cfg := classificationConfig("patience")
	cfg.NumStudyIter = 6
	cfg.Patience = 1
	s, err := New(cfg, classificationFrame(t, 40, 8), reg, nil, rec, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	events := rec.Events()
	if eventsNamed(events, EventPatienceReached) == 1 {
		assert.Less(t, s.Record().CompletedIterations, 6)
	} else {
		assert.Equal(t, 6, s.Record().CompletedIterations)
	}
}

func TestRunEnsemble(t *testing.T) {
	reg := builtin.NewRegistry()

	cfg := classificationConfig("ensemble")
	cfg.EnsembleSize = 2
	cfg.NumStudyIter = 1
	cfg.Workspace = t.TempDir()
	s, err := New(cfg, classificationFrame(t, 60, 9), reg, nil, nil, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	ensemble, ok := model.(*pipeline.Ensemble)
	require.True(t, ok, "expected an ensemble, got %T", model)
	assert.Len(t, ensemble.Members(), 2)

	loaded, err := serialization.LoadModelFromFile(reg, s.ModelPath())
	require.NoError(t, err)
	assert.IsType(t, &pipeline.Ensemble{}, loaded)
}

func TestRunRegression(t *testing.T) {
	reg := builtin.NewRegistry()

	cfg := Config{
		Name:           "regression",
		Task:           models.TaskRegression,
		Target:         "y",
		FeatureScaling: []string{"scaler"},
		Predictors:     []string{"linear_regression"},
		NumIter:        2,
		NumStudyIter:   1,
		Seed:           3,
	}
	s, err := New(cfg, regressionFrame(t, 60, 10), reg, nil, nil, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Greater(t, *s.Record().BestScore, 0.9)
}

func TestRunErrorMetric(t *testing.T) {
	reg := builtin.NewRegistry()

	cfg := Config{
		Name:         "rmse",
		Task:         models.TaskRegression,
		Target:       "y",
		Predictors:   []string{"linear_regression"},
		Metric:       "rmse",
		NumIter:      2,
		NumStudyIter: 1,
		Seed:         3,
		Workspace:    t.TempDir(),
	}
	s, err := New(cfg, regressionFrame(t, 60, 10), reg, nil, nil, nil)
	require.NoError(t, err)

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
	require.NotNil(t, s.Record().BestScore)
	assert.Greater(t, *s.Record().BestScore, -0.5)
	assert.FileExists(t, s.ModelPath())

	// The threshold is an upper bound on the error.
	cfg.Name = "rmse-strict"
	cfg.ScoreThreshold = 1e-6
	strict, err := New(cfg, regressionFrame(t, 60, 10), reg, nil, nil, nil)
	require.NoError(t, err)
	_, err = strict.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestRunSurvival(t *testing.T) {
	reg := builtin.NewRegistry()

	cfg := Config{
		Name:           "survival",
		Task:           models.TaskSurvival,
		Target:         "event",
		TimeToEvent:    "time",
		FeatureScaling: []string{"scaler"},
		NumIter:        2,
		NumStudyIter:   1,
		Seed:           5,
	}
	s, err := New(cfg, survivalFrame(t, 80, 11), reg, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cox_ph"}, s.predictors)
	assert.Equal(t, "c_index", s.Metric())

	model, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Greater(t, *s.Record().BestScore, 0.6)
}
