package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/hooks"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/metrics"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/pipeline"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/telemetry"
)

// noSelector is the feature_selection choice that skips dimensionality reduction.
const noSelector = "none"

const maxStartupTrials = 10

type trialResult struct {
	spec  models.PipelineSpec
	key   string
	score float64
}

// search runs one optimizer per predictor and returns every successful trial
// of the iteration, best first.
func (s *Study) search(ctx context.Context, it int) ([]trialResult, error) {
	byKey := make(map[string]trialResult)
	for i, predictor := range s.predictors {
		if s.cancelled(ctx) {
			return nil, hooks.ErrStudyCancelled
		}
		results, err := s.searchPredictor(ctx, it, i, predictor)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			byKey[r.key] = r
		}
	}

	out := make([]trialResult, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].key < out[j].key
	})
	return out, nil
}

// searchPredictor runs NumIter TPE trials for one predictor, bounded by Timeout.
func (s *Study) searchPredictor(ctx context.Context, it, index int, predictor string) ([]trialResult, error) {
	seed := s.cfg.Seed + int64(it)*int64(len(s.predictors)) + int64(index)
	sampler := tpe.NewSampler(
		tpe.SamplerOptionSeed(seed),
		tpe.SamplerOptionNumberOfStartupTrials(min(maxStartupTrials, max(1, s.cfg.NumIter/2))),
	)
	optimizer, err := goptuna.CreateStudy(
		fmt.Sprintf("%s-%d-%s", s.cfg.Name, it, predictor),
		goptuna.StudyOptionSampler(sampler),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionLogger(newOptunaLogger(s.logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
	defer cancel()
	optimizer.WithContext(sctx)

	var results []trialResult
	var abort error
	objective := func(trial goptuna.Trial) (float64, error) {
		r, err := s.runTrial(ctx, sctx, it, predictor, &trial)
		if err != nil {
			if !errors.Is(err, goptuna.ErrTrialPruned) {
				abort = err
			}
			return 0, err
		}
		results = append(results, r)
		return r.score, nil
	}

	err = optimizer.Optimize(objective, s.cfg.NumIter)
	if abort != nil {
		err = abort
	}
	switch {
	case err == nil:
	case errors.Is(err, hooks.ErrStudyCancelled) || s.cancelled(ctx):
		return nil, hooks.ErrStudyCancelled
	case sctx.Err() != nil:
		s.heartbeat(predictor, EventSearchTimeout, map[string]interface{}{
			"iteration": it,
			"trials":    len(results),
		})
		s.logger.Info("Search timed out",
			zap.String("predictor", predictor),
			zap.Int("iteration", it),
			zap.Int("trials", len(results)))
	default:
		return nil, fmt.Errorf("search for %s failed: %w", predictor, err)
	}
	return results, nil
}

// runTrial evaluates one suggested configuration. Configurations already in
// the checkpoint store are answered from it. Failures are recorded and
// reported to the optimizer as pruned trials.
func (s *Study) runTrial(ctx, sctx context.Context, it int, predictor string, sg params.Suggester) (trialResult, error) {
	if s.cancelled(ctx) {
		return trialResult{}, hooks.ErrStudyCancelled
	}

	spec, err := s.suggest(sg, predictor)
	if err != nil {
		return trialResult{}, err
	}
	key, err := spec.Key()
	if err != nil {
		return trialResult{}, err
	}
	fields := map[string]interface{}{"iteration": it, "pipeline": spec.Name(), "key": key}

	cached, err := s.store.GetTrial(s.record.ID, key)
	switch {
	case err == nil:
		telemetry.ObserveTrial(predictor, telemetry.ResultCached, 0)
		if cached.Status != models.TrialStatusComplete || cached.Score == nil {
			s.heartbeat(predictor, EventTrialCached, fields)
			return trialResult{}, goptuna.ErrTrialPruned
		}
		fields["score"] = *cached.Score
		s.heartbeat(predictor, EventTrialCached, fields)
		return trialResult{spec: spec, key: key, score: *cached.Score}, nil
	case !errors.Is(err, metadatastore.ErrNotFound):
		s.logger.Warn("Failed to read trial checkpoint", zap.String("key", key), zap.Error(err))
	}

	build := func() (plugins.Predictor, error) { return pipeline.Build(s.reg, spec) }
	start := time.Now()
	report, evalErr := metrics.Evaluate(sctx, build, s.X, s.y, s.evalOptions())
	elapsed := time.Since(start)
	if evalErr != nil {
		if s.cancelled(ctx) {
			return trialResult{}, hooks.ErrStudyCancelled
		}
		if sctx.Err() != nil {
			return trialResult{}, sctx.Err()
		}
	}
	if evalErr == nil && (math.IsNaN(report.Score) || math.IsInf(report.Score, 0)) {
		evalErr = fmt.Errorf("%s is not finite", s.metric)
	}

	trial := &models.Trial{
		ID:        uuid.New().String(),
		StudyID:   s.record.ID,
		Key:       key,
		Iteration: it,
		Predictor: predictor,
		Spec:      spec,
		Duration:  elapsed,
		CreatedAt: time.Now().UTC(),
	}
	if evalErr != nil {
		trial.Status = models.TrialStatusFailed
		trial.ErrorMessage = evalErr.Error()
	} else {
		score := report.Score
		trial.Status = models.TrialStatusComplete
		trial.Score = &score
		trial.Metrics = report.Metrics
	}
	if err := s.store.SaveTrial(trial); err != nil {
		s.logger.Warn("Failed to checkpoint trial", zap.String("key", key), zap.Error(err))
	}

	if evalErr != nil {
		telemetry.ObserveTrial(predictor, telemetry.ResultFailed, elapsed)
		fields["error"] = evalErr.Error()
		s.heartbeat(predictor, EventTrialFailed, fields)
		s.logger.Debug("Trial failed", zap.String("pipeline", spec.Name()), zap.Error(evalErr))
		return trialResult{}, goptuna.ErrTrialPruned
	}

	telemetry.ObserveTrial(predictor, telemetry.ResultComplete, elapsed)
	fields["score"] = report.Score
	fields["metrics"] = report.String()
	s.heartbeat(predictor, EventTrialComplete, fields)
	s.logger.Debug("Trial complete",
		zap.String("pipeline", spec.Name()),
		zap.Float64("score", report.Score),
		zap.Duration("elapsed", elapsed))
	return trialResult{spec: spec, key: key, score: report.Score}, nil
}

// suggest draws a pipeline configuration ending in predictor.
func (s *Study) suggest(sg params.Suggester, predictor string) (models.PipelineSpec, error) {
	var spec models.PipelineSpec

	if len(s.imputers) > 0 {
		name, err := choose(sg, "imputer", s.imputers)
		if err != nil {
			return spec, err
		}
		stage, err := s.stage(sg, plugins.TypeImputer, name)
		if err != nil {
			return spec, err
		}
		spec.Imputer = &stage
	}

	if len(s.scalers) > 0 {
		name, err := choose(sg, "feature_scaling", s.scalers)
		if err != nil {
			return spec, err
		}
		stage, err := s.stage(sg, plugins.TypePreprocessor, name)
		if err != nil {
			return spec, err
		}
		spec.Preprocessors = append(spec.Preprocessors, stage)
	}

	if len(s.selectors) > 0 {
		name, err := choose(sg, "feature_selection", append([]string{noSelector}, s.selectors...))
		if err != nil {
			return spec, err
		}
		if name != noSelector {
			stage, err := s.stage(sg, plugins.TypePreprocessor, name)
			if err != nil {
				return spec, err
			}
			spec.Preprocessors = append(spec.Preprocessors, stage)
		}
	}

	stage, err := s.stage(sg, plugins.TypePrediction, predictor)
	if err != nil {
		return spec, err
	}
	spec.Predictor = stage
	return spec, nil
}

// stage draws the hyperparameters of one plugin. Parameters are namespaced
// by plugin name inside the optimizer.
func (s *Study) stage(sg params.Suggester, pluginType, name string) (models.StageSpec, error) {
	space, err := s.reg.Space(pluginType, name, s.spaceOptions())
	if err != nil {
		return models.StageSpec{}, err
	}
	stage := models.StageSpec{Name: name}
	if len(space) == 0 {
		return stage, nil
	}
	if stage.Args, err = params.SuggestAll(sg, name+".", space); err != nil {
		return models.StageSpec{}, err
	}
	return stage, nil
}

// spaceOptions describes the data a trial's plugins are fitted on: the
// training part of a cross-validation fold.
func (s *Study) spaceOptions() plugins.SpaceOptions {
	n := s.X.Nrow()
	test := (n + s.cfg.Folds - 1) / s.cfg.Folds
	return plugins.SpaceOptions{NumFeatures: s.X.Ncol(), NumSamples: n - test}
}

func choose(sg params.Suggester, name string, choices []string) (string, error) {
	if len(choices) == 1 {
		return choices[0], nil
	}
	return sg.SuggestCategorical(name, choices)
}
