// Package study runs AutoML studies: repeated hyperparameter searches over
// imputer, preprocessor and predictor pipelines, checkpointed so that a study
// can be stopped and resumed.
package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/hooks"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/metrics"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/pipeline"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
	"github.com/mimir-aip/prognosis-go/pkg/telemetry"
)

// ModelFile is the checkpoint file written under Workspace/<name>/.
const ModelFile = "model.p"

// ErrNoModel is returned when a study ends without any model meeting the
// score threshold.
var ErrNoModel = errors.New("no model met the score threshold")

// Config describes a study.
type Config = models.StudyConfig

// Heartbeat topics and events
const (
	TopicStudy = "study"

	EventIterationStart  = "iteration_start"
	EventTrialComplete   = "trial_complete"
	EventTrialCached     = "trial_cached"
	EventTrialFailed     = "trial_failed"
	EventSearchTimeout   = "search_timeout"
	EventCandidate       = "candidate"
	EventBelowThreshold  = "below_threshold"
	EventNoImprovement   = "no_improvement"
	EventImproved        = "improved"
	EventPatienceReached = "patience_reached"
	EventCheckpoint      = "checkpoint_loaded"
)

// Study searches for the best pipeline on one dataset.
type Study struct {
	cfg    Config
	reg    *plugins.Registry
	store  Store
	hooks  hooks.Hooks
	logger *zap.Logger

	record *models.Study

	X         *dataset.Frame
	y         []float64
	durations []float64

	imputers   []string
	scalers    []string
	selectors  []string
	predictors []string
	metric     string
	threshold  float64
}

// New validates cfg against the data and the registry. frame holds the
// features together with the target (and, for survival, time-to-event)
// columns. A nil store keeps checkpoints in memory; nil hooks never cancel.
func New(cfg Config, frame *dataset.Frame, reg *plugins.Registry, store Store, h hooks.Hooks, logger *zap.Logger) (*Study, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Nrow() == 0 {
		return nil, fmt.Errorf("study %s has no data", cfg.Name)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if h == nil {
		h = hooks.Default{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Study{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		hooks:  h,
		logger: logger.With(zap.String("study", cfg.Name)),
	}

	targets := []string{cfg.Target}
	if cfg.Task == models.TaskSurvival {
		targets = append(targets, cfg.TimeToEvent)
	}
	X, values, err := dataset.SplitTarget(frame, targets...)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare study data: %w", err)
	}
	if X.Ncol() == 0 {
		return nil, fmt.Errorf("study %s has no feature columns", cfg.Name)
	}
	s.X, s.y = X, values[0]
	if cfg.Task == models.TaskSurvival {
		s.durations = values[1]
	}

	if err := s.resolvePlugins(); err != nil {
		return nil, err
	}

	s.metric = cfg.Metric
	if s.metric == "" {
		s.metric = metrics.Default(cfg.Task)
	}
	s.threshold = metrics.ScoreThreshold(s.metric, cfg.ScoreThreshold)
	if err := metrics.Validate(cfg.Task, s.metric); err != nil {
		return nil, err
	}

	if err := s.loadRecord(); err != nil {
		return nil, err
	}
	return s, nil
}

// resolvePlugins fills defaults and checks every configured plugin name.
func (s *Study) resolvePlugins() error {
	var err error
	if s.X.HasMissing() {
		names := s.cfg.Imputers
		if len(names) == 0 {
			names = []string{"mean"}
		}
		if s.imputers, err = s.resolve(plugins.TypeImputer, "", names); err != nil {
			return err
		}
	} else if len(s.cfg.Imputers) > 0 {
		s.logger.Debug("Data has no missing values, imputers skipped")
	}

	if s.scalers, err = s.resolve(plugins.TypePreprocessor, plugins.SubtypeFeatureScaling, s.cfg.FeatureScaling); err != nil {
		return err
	}
	if s.selectors, err = s.resolve(plugins.TypePreprocessor, plugins.SubtypeDimensionalityReduction, s.cfg.FeatureSelection); err != nil {
		return err
	}
	if s.predictors, err = s.resolve(plugins.TypePrediction, predictorSubtype(s.cfg.Task), s.cfg.Predictors); err != nil {
		return err
	}
	if len(s.predictors) == 0 {
		return fmt.Errorf("no %s predictors available", s.cfg.Task)
	}
	return nil
}

// resolve returns names, or every plugin of the subtype when names is empty.
// Each name must exist and, when subtype is set, belong to it.
func (s *Study) resolve(pluginType, subtype string, names []string) ([]string, error) {
	if len(names) == 0 {
		return s.reg.List(pluginType, subtype), nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		f, err := s.reg.Lookup(pluginType, name)
		if err != nil {
			return nil, err
		}
		if subtype != "" && f.Subtype != subtype {
			return nil, fmt.Errorf("plugin %s/%s is a %s plugin, expected %s", pluginType, name, f.Subtype, subtype)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func predictorSubtype(task models.Task) string {
	switch task {
	case models.TaskRegression:
		return plugins.SubtypeRegression
	case models.TaskSurvival:
		return plugins.SubtypeRiskEstimation
	default:
		return plugins.SubtypeClassifier
	}
}

// loadRecord fetches the study record by name or creates it.
func (s *Study) loadRecord() error {
	record, err := s.store.GetStudyByName(s.cfg.Name)
	if err == nil {
		record.Config = s.cfg
		s.record = record
		return nil
	}
	if !errors.Is(err, metadatastore.ErrNotFound) {
		return fmt.Errorf("failed to load study record: %w", err)
	}

	now := time.Now().UTC()
	s.record = &models.Study{
		ID:        uuid.New().String(),
		Name:      s.cfg.Name,
		Config:    s.cfg,
		Status:    models.StudyStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveStudy(s.record); err != nil {
		return fmt.Errorf("failed to save study record: %w", err)
	}
	return nil
}

// interrupted reports whether the stored record is a run that stopped before
// reaching its target without finishing.
func (s *Study) interrupted() bool {
	switch s.record.Status {
	case models.StudyStatusRunning, models.StudyStatusQueued:
		return s.record.CompletedIterations < s.record.TargetIterations
	}
	return false
}

// Record returns a copy of the persisted study record.
func (s *Study) Record() models.Study { return *s.record }

// Config returns the study configuration with defaults applied.
func (s *Study) Config() Config { return s.cfg }

// Metric returns the metric the study optimizes.
func (s *Study) Metric() string { return s.metric }

// Features returns the feature columns.
func (s *Study) Features() []string { return append([]string(nil), s.X.Columns...) }

// ModelPath returns the checkpoint location, or "" without a workspace.
func (s *Study) ModelPath() string {
	if s.cfg.Workspace == "" {
		return ""
	}
	return filepath.Join(s.cfg.Workspace, s.cfg.Name, ModelFile)
}

func (s *Study) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || s.hooks.Cancel()
}

func (s *Study) heartbeat(subtopic, event string, fields map[string]interface{}) {
	s.hooks.Heartbeat(TopicStudy, subtopic, event, fields)
}

func (s *Study) evalOptions() metrics.Options {
	return metrics.Options{
		Task:      s.cfg.Task,
		Metric:    s.metric,
		Folds:     s.cfg.Folds,
		Seed:      s.cfg.Seed,
		Durations: s.durations,
	}
}

// Run executes the configured number of study iterations, resuming from the
// checkpoint when one exists, and returns the best model found so far.
func (s *Study) Run(ctx context.Context) (plugins.Predictor, error) {
	defer s.hooks.Finish()

	best, err := s.run(ctx)
	now := time.Now().UTC()
	switch {
	case errors.Is(err, hooks.ErrStudyCancelled):
		s.record.Status = models.StudyStatusCancelled
	case err != nil:
		s.record.Status = models.StudyStatusFailed
		s.record.ErrorMessage = err.Error()
	default:
		s.record.Status = models.StudyStatusCompleted
		s.record.ErrorMessage = ""
	}
	s.record.CompletedAt = &now
	s.saveRecord()
	return best, err
}

func (s *Study) run(ctx context.Context) (plugins.Predictor, error) {
	if s.cancelled(ctx) {
		return nil, hooks.ErrStudyCancelled
	}

	// An interrupted run finishes its remaining iterations; any other run
	// extends the study by NumStudyIter.
	if !s.interrupted() {
		s.record.TargetIterations = s.record.CompletedIterations + s.cfg.NumStudyIter
	}
	now := time.Now().UTC()
	s.record.Status = models.StudyStatusRunning
	s.record.StartedAt = &now
	s.record.CompletedAt = nil
	s.record.Features = s.Features()
	s.saveRecord()

	best, bestScore, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Study started",
		zap.String("task", string(s.cfg.Task)),
		zap.String("metric", s.metric),
		zap.Strings("predictors", s.predictors),
		zap.Int("from_iteration", s.record.CompletedIterations),
		zap.Int("to_iteration", s.record.TargetIterations),
		zap.Float64("best_score", bestScore))

	patience := 0
	for it := s.record.CompletedIterations; it < s.record.TargetIterations; it++ {
		if s.cancelled(ctx) {
			return best, hooks.ErrStudyCancelled
		}
		s.heartbeat("", EventIterationStart, map[string]interface{}{"iteration": it})

		results, err := s.search(ctx, it)
		if err != nil {
			return best, err
		}

		outcome, err := s.consider(ctx, it, results, &best, &bestScore)
		if err != nil {
			return best, err
		}

		s.record.CompletedIterations = it + 1
		s.saveRecord()

		switch outcome {
		case outcomeImproved:
			patience = 0
			continue
		case outcomeBelowThreshold:
			continue
		}
		patience++
		if patience >= s.cfg.Patience {
			s.heartbeat("", EventPatienceReached, map[string]interface{}{"iteration": it, "patience": patience})
			s.logger.Info("Study stopped early", zap.Int("iteration", it), zap.Int("patience", patience))
			break
		}
	}

	if best == nil {
		return nil, ErrNoModel
	}
	return best, nil
}

type outcome int

const (
	outcomeNoImprovement outcome = iota
	outcomeBelowThreshold
	outcomeImproved
)

// consider turns the iteration's best trials into a candidate and keeps it
// when it beats the current best.
func (s *Study) consider(ctx context.Context, it int, results []trialResult, best *plugins.Predictor, bestScore *float64) (outcome, error) {
	if len(results) == 0 {
		telemetry.StudyIterations.WithLabelValues("no_trials").Inc()
		s.logger.Warn("Study iteration produced no successful trials", zap.Int("iteration", it))
		return outcomeNoImprovement, nil
	}

	candidate, score, err := s.candidate(ctx, results)
	if err != nil {
		if s.cancelled(ctx) {
			return outcomeNoImprovement, hooks.ErrStudyCancelled
		}
		telemetry.StudyIterations.WithLabelValues("candidate_failed").Inc()
		s.logger.Warn("Failed to build candidate", zap.Int("iteration", it), zap.Error(err))
		return outcomeNoImprovement, nil
	}

	fields := map[string]interface{}{"iteration": it, "model": candidate.Name(), "score": score}
	s.heartbeat("candidate", EventCandidate, fields)

	switch {
	case score < s.threshold:
		telemetry.StudyIterations.WithLabelValues("below_threshold").Inc()
		s.heartbeat("candidate", EventBelowThreshold, fields)
		return outcomeBelowThreshold, nil
	case score <= *bestScore:
		telemetry.StudyIterations.WithLabelValues("no_improvement").Inc()
		s.heartbeat("candidate", EventNoImprovement, fields)
		return outcomeNoImprovement, nil
	}

	if err := s.checkpoint(candidate); err != nil {
		return outcomeNoImprovement, err
	}
	*best, *bestScore = candidate, score
	s.record.BestScore = &score
	s.record.BestModel = candidate.Name()
	s.record.ModelPath = s.ModelPath()
	telemetry.StudyIterations.WithLabelValues("improved").Inc()
	telemetry.BestScore.WithLabelValues(s.cfg.Name).Set(score)
	s.heartbeat("candidate", EventImproved, fields)
	s.logger.Info("New best model",
		zap.Int("iteration", it),
		zap.String("model", candidate.Name()),
		zap.Float64("score", score))
	return outcomeImproved, nil
}

// candidate fits the best pipeline, or an equal-weight ensemble of the top
// EnsembleSize pipelines, on the full dataset and returns it with its
// cross-validated score.
func (s *Study) candidate(ctx context.Context, results []trialResult) (plugins.Predictor, float64, error) {
	size := min(max(s.cfg.EnsembleSize, 1), len(results))
	top := results[:size]

	var build metrics.BuildFunc
	score := top[0].score
	if size == 1 {
		build = func() (plugins.Predictor, error) { return pipeline.Build(s.reg, top[0].spec) }
	} else {
		specs := make([]models.PipelineSpec, size)
		for i, r := range top {
			specs[i] = r.spec
		}
		build = func() (plugins.Predictor, error) { return s.buildEnsemble(specs, nil) }
		report, err := metrics.Evaluate(ctx, build, s.X, s.y, s.evalOptions())
		if err != nil {
			return nil, 0, fmt.Errorf("failed to evaluate ensemble: %w", err)
		}
		score = report.Score
	}

	model, err := build()
	if err != nil {
		return nil, 0, err
	}
	if err := model.Fit(s.X, s.y, plugins.FitOptions{Durations: s.durations}); err != nil {
		return nil, 0, fmt.Errorf("failed to fit %s: %w", model.Name(), err)
	}
	return model, score, nil
}

func (s *Study) buildEnsemble(specs []models.PipelineSpec, weights []float64) (*pipeline.Ensemble, error) {
	members := make([]plugins.Predictor, len(specs))
	for i, spec := range specs {
		p, err := pipeline.Build(s.reg, spec)
		if err != nil {
			return nil, err
		}
		members[i] = p
	}
	return pipeline.NewEnsemble(members, weights)
}

// checkpoint writes the model to the workspace.
func (s *Study) checkpoint(model plugins.Predictor) error {
	path := s.ModelPath()
	if path == "" {
		return nil
	}
	if err := serialization.SaveModelToFile(path, model); err != nil {
		return fmt.Errorf("failed to checkpoint model: %w", err)
	}
	return nil
}

// loadProgress restores the checkpointed model and re-evaluates it on the
// current data to get the score new candidates must beat.
func (s *Study) loadProgress(ctx context.Context) (plugins.Predictor, float64, error) {
	path := s.ModelPath()
	if path == "" {
		return nil, math.Inf(-1), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, math.Inf(-1), nil
	}

	plugin, err := serialization.LoadModelFromFile(s.reg, path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	model, ok := plugin.(plugins.Predictor)
	if !ok {
		return nil, 0, fmt.Errorf("checkpoint %s does not hold a predictor", path)
	}

	score, err := s.rescore(ctx, model)
	if err != nil {
		if s.cancelled(ctx) {
			return nil, 0, hooks.ErrStudyCancelled
		}
		s.logger.Warn("Failed to re-evaluate checkpoint, starting from scratch", zap.String("path", path), zap.Error(err))
		return nil, math.Inf(-1), nil
	}

	s.record.BestScore = &score
	s.record.BestModel = model.Name()
	s.record.ModelPath = path
	s.heartbeat("", EventCheckpoint, map[string]interface{}{"model": model.Name(), "score": score})
	s.logger.Info("Loaded checkpoint", zap.String("model", model.Name()), zap.Float64("score", score))
	return model, score, nil
}

// rescore cross-validates fresh copies of a loaded model's configuration.
// Models that cannot be rebuilt are scored as fitted on the full data.
func (s *Study) rescore(ctx context.Context, model plugins.Predictor) (float64, error) {
	var build metrics.BuildFunc
	switch m := model.(type) {
	case *pipeline.Pipeline:
		spec := m.Spec()
		build = func() (plugins.Predictor, error) { return pipeline.Build(s.reg, spec) }
	case *pipeline.Ensemble:
		specs := make([]models.PipelineSpec, 0, len(m.Members()))
		for _, member := range m.Members() {
			p, ok := member.(*pipeline.Pipeline)
			if !ok {
				specs = nil
				break
			}
			specs = append(specs, p.Spec())
		}
		if specs != nil {
			weights := m.Weights()
			build = func() (plugins.Predictor, error) { return s.buildEnsemble(specs, weights) }
		}
	}

	if build == nil {
		score, _, err := metrics.Score(model, s.X, s.y, s.evalOptions())
		return score, err
	}
	report, err := metrics.Evaluate(ctx, build, s.X, s.y, s.evalOptions())
	if err != nil {
		return 0, err
	}
	return report.Score, nil
}

func (s *Study) saveRecord() {
	s.record.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStudy(s.record); err != nil {
		s.logger.Warn("Failed to save study record", zap.Error(err))
	}
}
