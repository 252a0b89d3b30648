package metrics

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/builtin"
)

func TestClassificationMetrics(t *testing.T) {
	y := []float64{0, 0, 1, 1, 1}
	pred := []float64{0, 1, 1, 1, 0}

	assert.InDelta(t, 0.6, AccuracyScore(y, pred), 1e-9)
	p, r, f := PrecisionRecallF1(y, pred, []float64{0, 1})
	assert.InDelta(t, 2.0/3, p, 1e-9)
	assert.InDelta(t, 2.0/3, r, 1e-9)
	assert.InDelta(t, 2.0/3, f, 1e-9)
}

func TestAUCROC(t *testing.T) {
	y := []float64{0, 0, 1, 1}
	proba := mat.NewDense(4, 2, []float64{
		0.9, 0.1,
		0.6, 0.4,
		0.65, 0.35,
		0.2, 0.8,
	})
	assert.InDelta(t, 0.75, AUCROCScore(y, proba, []float64{0, 1}, []float64{0, 1}), 1e-9)

	perfect := mat.NewDense(4, 2, []float64{1, 0, 1, 0, 0, 1, 0, 1})
	assert.InDelta(t, 1.0, AUCROCScore(y, perfect, []float64{0, 1}, []float64{0, 1}), 1e-9)

	tied := mat.NewDense(4, 2, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5})
	assert.InDelta(t, 0.5, AUCROCScore(y, tied, []float64{0, 1}, []float64{0, 1}), 1e-9)

	// A model that never saw class 1 scores it as zero everywhere.
	missing := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	assert.InDelta(t, 0.5, AUCROCScore(y, missing, []float64{0}, []float64{0, 1}), 1e-9)
}

func TestRegressionMetrics(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 6}

	assert.InDelta(t, 1.0, RMSEScore(y, pred), 1e-9)
	assert.InDelta(t, 0.5, MAEScore(y, pred), 1e-9)
	assert.InDelta(t, 1-4.0/5, R2Score(y, pred), 1e-9)
	assert.Equal(t, 0.0, R2Score([]float64{2, 2}, []float64{1, 3}))

	assert.Equal(t, -1.5, AsScore(RMSE, 1.5))
	assert.Equal(t, -1.5, AsScore(MAE, 1.5))
	assert.Equal(t, 0.7, AsScore(R2, 0.7))

	assert.True(t, math.IsInf(ScoreThreshold(RMSE, 0), -1))
	assert.Equal(t, -0.2, ScoreThreshold(MAE, 0.2))
	assert.Equal(t, 0.5, ScoreThreshold(AUCROC, 0.5))
	assert.Equal(t, 0.0, ScoreThreshold(R2, 0))
}

func TestConcordanceIndex(t *testing.T) {
	durations := []float64{1, 2, 3, 4}
	events := []float64{1, 1, 0, 1}

	assert.InDelta(t, 1.0, ConcordanceIndex(durations, events, []float64{4, 3, 2, 1}), 1e-9)
	assert.InDelta(t, 0.0, ConcordanceIndex(durations, events, []float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, 0.5, ConcordanceIndex(durations, events, []float64{1, 1, 1, 1}), 1e-9)
	assert.InDelta(t, 0.5, ConcordanceIndex(durations, []float64{0, 0, 0, 0}, []float64{4, 3, 2, 1}), 1e-9)
}

func TestMetricsForTask(t *testing.T) {
	assert.Equal(t, AUCROC, Default(models.TaskClassification))
	assert.Equal(t, R2, Default(models.TaskRegression))
	assert.Equal(t, CIndex, Default(models.TaskSurvival))

	assert.NoError(t, Validate(models.TaskRegression, MAE))
	assert.Error(t, Validate(models.TaskRegression, AUCROC))
}

func TestKFold(t *testing.T) {
	folds, err := KFold(10, 3, 1)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	seen := make(map[int]int)
	for _, f := range folds {
		assert.Equal(t, 10, len(f.Train)+len(f.Test))
		for _, r := range f.Test {
			seen[r]++
		}
	}
	assert.Len(t, seen, 10)
	for _, c := range seen {
		assert.Equal(t, 1, c)
	}

	again, err := KFold(10, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, folds, again)

	_, err = KFold(2, 3, 1)
	assert.Error(t, err)
	_, err = KFold(10, 1, 1)
	assert.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	labels := make([]float64, 30)
	for i := 20; i < 30; i++ {
		labels[i] = 1
	}
	folds, err := StratifiedKFold(labels, 5, 7)
	require.NoError(t, err)

	for _, f := range folds {
		positives := 0
		for _, r := range f.Test {
			positives += int(labels[r])
		}
		assert.Len(t, f.Test, 6)
		assert.Equal(t, 2, positives)
	}
}

func blobs(n int, seed int64) (*dataset.Frame, []float64) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		y[i] = float64(i % 2)
		rows[i] = []float64{y[i]*3 + rng.NormFloat64()*0.5, rng.NormFloat64()}
	}
	X, _ := dataset.NewFrame([]string{"a", "b"}, rows)
	return X, y
}

func TestEvaluate(t *testing.T) {
	reg := builtin.NewRegistry()
	X, y := blobs(90, 1)
	build := func() (plugins.Predictor, error) {
		return reg.Predictor("logistic_regression", nil)
	}

	report, err := Evaluate(context.Background(), build, X, y, Options{Task: models.TaskClassification, Folds: 3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, AUCROC, report.Metric)
	assert.Greater(t, report.Score, 0.95)
	assert.Len(t, report.Metrics, 5)
	assert.Contains(t, report.String(), "aucroc: ")

	again, err := Evaluate(context.Background(), build, X, y, Options{Task: models.TaskClassification, Folds: 3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, report.Score, again.Score)
}

func TestEvaluateRegressionScoreIsNegatedError(t *testing.T) {
	reg := builtin.NewRegistry()
	X, _ := blobs(40, 2)
	y := X.ColumnAt(0)
	build := func() (plugins.Predictor, error) {
		return reg.Predictor("linear_regression", nil)
	}

	report, err := Evaluate(context.Background(), build, X, y, Options{Task: models.TaskRegression, Metric: RMSE, Folds: 4})
	require.NoError(t, err)
	assert.LessOrEqual(t, report.Score, 0.0)
	assert.InDelta(t, -report.Metrics[RMSE].Mean, report.Score, 1e-12)
}

func TestEvaluateErrors(t *testing.T) {
	X, y := blobs(20, 3)
	boom := errors.New("boom")
	build := func() (plugins.Predictor, error) { return nil, boom }

	_, err := Evaluate(context.Background(), build, X, y, Options{Task: models.TaskClassification, Folds: 3})
	assert.ErrorIs(t, err, boom)

	_, err = Evaluate(context.Background(), build, X, y, Options{Task: models.TaskClassification, Metric: R2, Folds: 3})
	assert.Error(t, err)

	_, err = Evaluate(context.Background(), build, X, y, Options{Task: models.TaskSurvival, Folds: 3})
	assert.Error(t, err, "durations are required")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := builtin.NewRegistry()
	ok := func() (plugins.Predictor, error) { return reg.Predictor("knn", nil) }
	_, err = Evaluate(ctx, ok, X, y, Options{Task: models.TaskClassification, Folds: 3})
	assert.ErrorIs(t, err, context.Canceled)
}
