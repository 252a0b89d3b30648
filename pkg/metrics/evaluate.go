package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
)

// BuildFunc returns a fresh, unfitted predictor.
type BuildFunc func() (plugins.Predictor, error)

// Options configures cross-validation.
type Options struct {
	Task   models.Task
	Metric string
	Folds  int
	Seed   int64
	// Durations are the survival times; y then holds event indicators.
	Durations  []float64
	MaxWorkers int
}

// Report summarizes a cross-validation run.
type Report struct {
	Metric  string                       `json:"metric"`
	Score   float64                      `json:"score"`
	Metrics map[string]models.MetricStat `json:"metrics"`
}

// String formats the report as "metric: mean +/- std" pairs.
func (r Report) String() string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, r.Metrics[name])
	}
	return strings.Join(parts, ", ")
}

// Evaluate cross-validates the predictors produced by build. Folds run
// concurrently; the first failing fold cancels the others.
func Evaluate(ctx context.Context, build BuildFunc, X *dataset.Frame, y []float64, opts Options) (*Report, error) {
	if opts.Metric == "" {
		opts.Metric = Default(opts.Task)
	}
	if err := Validate(opts.Task, opts.Metric); err != nil {
		return nil, err
	}
	if len(y) != X.Nrow() {
		return nil, fmt.Errorf("X has %d rows but y has %d values", X.Nrow(), len(y))
	}
	if opts.Task == models.TaskSurvival && len(opts.Durations) != len(y) {
		return nil, fmt.Errorf("survival evaluation needs %d durations, got %d", len(y), len(opts.Durations))
	}

	var folds []Fold
	var err error
	if opts.Task == models.TaskRegression {
		folds, err = KFold(len(y), opts.Folds, opts.Seed)
	} else {
		folds, err = StratifiedKFold(y, opts.Folds, opts.Seed)
	}
	if err != nil {
		return nil, err
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]map[string]float64, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, fold := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores, err := evaluateFold(build, X, y, fold, opts)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			results[i] = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Metric: opts.Metric, Metrics: make(map[string]models.MetricStat)}
	for _, name := range ForTask(opts.Task) {
		values := make([]float64, len(results))
		for i, r := range results {
			values[i] = r[name]
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		report.Metrics[name] = models.MetricStat{Mean: mean, Std: std}
	}
	report.Score = AsScore(opts.Metric, report.Metrics[opts.Metric].Mean)
	return report, nil
}

func evaluateFold(build BuildFunc, X *dataset.Frame, y []float64, fold Fold, opts Options) (map[string]float64, error) {
	model, err := build()
	if err != nil {
		return nil, err
	}

	fitOpts := plugins.FitOptions{}
	if opts.Task == models.TaskSurvival {
		fitOpts.Durations = take(opts.Durations, fold.Train)
	}
	if err := model.Fit(X.Take(fold.Train), take(y, fold.Train), fitOpts); err != nil {
		return nil, err
	}

	testX, testY := X.Take(fold.Test), take(y, fold.Test)
	switch opts.Task {
	case models.TaskSurvival:
		return ScoreSurvival(model, testX, testY, take(opts.Durations, fold.Test))
	case models.TaskRegression:
		return ScoreRegression(model, testX, testY)
	default:
		return ScoreClassification(model, testX, testY, distinct(y))
	}
}

// ScoreClassification computes every classification metric on held-out data.
// classes lists all labels of the full dataset.
func ScoreClassification(model plugins.Predictor, X *dataset.Frame, y, classes []float64) (map[string]float64, error) {
	pred, err := model.Predict(X)
	if err != nil {
		return nil, err
	}
	scores := map[string]float64{Accuracy: AccuracyScore(y, pred)}
	scores[Precision], scores[Recall], scores[F1] = PrecisionRecallF1(y, pred, classes)

	clf, ok := model.(plugins.Classifier)
	if !ok || clf.Classes() == nil {
		return nil, fmt.Errorf("model %s does not expose class labels", model.Name())
	}
	proba, err := model.PredictProba(X)
	if err != nil {
		return nil, err
	}
	scores[AUCROC] = AUCROCScore(y, proba, clf.Classes(), classes)
	return scores, nil
}

// ScoreRegression computes every regression metric on held-out data.
func ScoreRegression(model plugins.Predictor, X *dataset.Frame, y []float64) (map[string]float64, error) {
	pred, err := model.Predict(X)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		R2:   R2Score(y, pred),
		RMSE: RMSEScore(y, pred),
		MAE:  MAEScore(y, pred),
	}, nil
}

// ScoreSurvival computes the concordance index on held-out data.
func ScoreSurvival(model plugins.Predictor, X *dataset.Frame, events, durations []float64) (map[string]float64, error) {
	risks, err := model.Predict(X)
	if err != nil {
		return nil, err
	}
	return map[string]float64{CIndex: ConcordanceIndex(durations, events, risks)}, nil
}

// Score evaluates an already fitted model on a dataset and returns the
// oriented score of metric together with every metric of the task.
func Score(model plugins.Predictor, X *dataset.Frame, y []float64, opts Options) (float64, map[string]float64, error) {
	if opts.Metric == "" {
		opts.Metric = Default(opts.Task)
	}
	if err := Validate(opts.Task, opts.Metric); err != nil {
		return 0, nil, err
	}

	var scores map[string]float64
	var err error
	switch opts.Task {
	case models.TaskSurvival:
		scores, err = ScoreSurvival(model, X, y, opts.Durations)
	case models.TaskRegression:
		scores, err = ScoreRegression(model, X, y)
	default:
		scores, err = ScoreClassification(model, X, y, distinct(y))
	}
	if err != nil {
		return 0, nil, err
	}
	return AsScore(opts.Metric, scores[opts.Metric]), scores, nil
}

func take(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = values[r]
	}
	return out
}

func distinct(y []float64) []float64 {
	seen := make(map[float64]bool)
	out := make([]float64, 0)
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
