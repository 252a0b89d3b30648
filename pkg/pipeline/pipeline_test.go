package pipeline_test

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/pipeline"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/builtin"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
)

func classificationData(t *testing.T, n int, seed int64) (*dataset.Frame, []float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		label := float64(i % 2)
		x1 := label*4 - 2 + rng.NormFloat64()*0.5
		x2 := rng.NormFloat64()
		if rng.Float64() < 0.1 {
			x2 = math.NaN()
		}
		rows[i] = []float64{x1, x2, x1 * 2}
		y[i] = label
	}
	X, err := dataset.NewFrame([]string{"a", "b", "c"}, rows)
	require.NoError(t, err)
	return X, y
}

func fullSpec() models.PipelineSpec {
	return models.PipelineSpec{
		Imputer: &models.StageSpec{Name: "median"},
		Preprocessors: []models.StageSpec{
			{Name: "scaler"},
			{Name: "pca", Args: map[string]interface{}{"n_components": 2}},
		},
		Predictor: models.StageSpec{Name: "logistic_regression", Args: map[string]interface{}{"C": 1.0}},
	}
}

func TestBuildAndName(t *testing.T) {
	reg := builtin.NewRegistry()

	p, err := pipeline.Build(reg, fullSpec())
	require.NoError(t, err)
	assert.Equal(t, "median->scaler->pca->logistic_regression", p.Name())
	assert.Equal(t, plugins.TypeModel, p.Type())
	assert.Equal(t, plugins.SubtypeClassifier, p.Subtype())

	spec := fullSpec()
	spec.Predictor.Name = "unknown"
	_, err = pipeline.Build(reg, spec)
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)
}

func TestPipelineFitPredict(t *testing.T) {
	reg := builtin.NewRegistry()
	X, y := classificationData(t, 100, 1)

	p, err := pipeline.Build(reg, fullSpec())
	require.NoError(t, err)

	_, err = p.Predict(X)
	assert.ErrorIs(t, err, plugins.ErrNotFitted)

	require.NoError(t, p.Fit(X, y, plugins.FitOptions{}))
	pred, err := p.Predict(X)
	require.NoError(t, err)
	require.Len(t, pred, 100)

	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	assert.GreaterOrEqual(t, correct, 90)
	assert.Equal(t, []float64{0, 1}, p.Classes())
	assert.True(t, X.HasMissing(), "fitting must not modify the input")
}

func TestPipelineSaveLoad(t *testing.T) {
	reg := builtin.NewRegistry()
	X, y := classificationData(t, 60, 2)

	p, err := pipeline.Build(reg, fullSpec())
	require.NoError(t, err)
	require.NoError(t, p.Fit(X, y, plugins.FitOptions{}))
	want, err := p.PredictProba(X)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "study", "model.p")
	require.NoError(t, serialization.SaveModelToFile(path, p))

	loaded, err := serialization.LoadModelFromFile(reg, path)
	require.NoError(t, err)
	restored, ok := loaded.(*pipeline.Pipeline)
	require.True(t, ok)
	assert.Equal(t, p.Name(), restored.Name())

	key, err := p.Spec().Key()
	require.NoError(t, err)
	restoredKey, err := restored.Spec().Key()
	require.NoError(t, err)
	assert.Equal(t, key, restoredKey)

	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.RawMatrix().Data, got.RawMatrix().Data, 1e-9)
}

func TestPipelineFromRegistry(t *testing.T) {
	reg := builtin.NewRegistry()

	plugin, err := reg.Get(plugins.TypeModel, pipeline.PipelineName, map[string]interface{}{"spec": fullSpec()})
	require.NoError(t, err)
	assert.Equal(t, fullSpec().Name(), plugin.Name())
}

func TestEnsemble(t *testing.T) {
	reg := builtin.NewRegistry()
	X, y := classificationData(t, 80, 3)

	var members []plugins.Predictor
	for _, name := range []string{"logistic_regression", "knn", "decision_tree"} {
		spec := models.PipelineSpec{
			Imputer:   &models.StageSpec{Name: "mean"},
			Predictor: models.StageSpec{Name: name},
		}
		p, err := pipeline.Build(reg, spec)
		require.NoError(t, err)
		members = append(members, p)
	}

	ens, err := pipeline.NewEnsemble(members, []float64{2, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25, 0.25}, ens.Weights())

	require.NoError(t, ens.Fit(X, y, plugins.FitOptions{}))
	proba, err := ens.PredictProba(X)
	require.NoError(t, err)
	r, c := proba.Dims()
	require.Equal(t, 80, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
	}

	data, err := serialization.SaveModel(ens)
	require.NoError(t, err)
	loaded, err := serialization.LoadModel(reg, data)
	require.NoError(t, err)

	want, err := ens.Predict(X)
	require.NoError(t, err)
	got, err := loaded.(plugins.Predictor).Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnsembleRegression(t *testing.T) {
	reg := builtin.NewRegistry()
	X, err := dataset.NewFrame([]string{"x"}, [][]float64{{0}, {1}, {2}, {3}, {4}, {5}})
	require.NoError(t, err)
	y := []float64{1, 3, 5, 7, 9, 11}

	a, err := pipeline.Build(reg, models.PipelineSpec{Predictor: models.StageSpec{Name: "linear_regression"}})
	require.NoError(t, err)
	b, err := pipeline.Build(reg, models.PipelineSpec{Predictor: models.StageSpec{Name: "linear_regression"}})
	require.NoError(t, err)

	ens, err := pipeline.NewEnsemble([]plugins.Predictor{a, b}, nil)
	require.NoError(t, err)
	require.NoError(t, ens.Fit(X, y, plugins.FitOptions{}))

	pred, err := ens.Predict(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, y, pred, 1e-3)

	_, err = ens.PredictProba(X)
	assert.ErrorIs(t, err, plugins.ErrNotSupported)
}

func TestNewEnsembleErrors(t *testing.T) {
	_, err := pipeline.NewEnsemble(nil, nil)
	assert.Error(t, err)

	reg := builtin.NewRegistry()
	p, err := pipeline.Build(reg, models.PipelineSpec{Predictor: models.StageSpec{Name: "knn"}})
	require.NoError(t, err)

	_, err = pipeline.NewEnsemble([]plugins.Predictor{p}, []float64{1, 2})
	assert.Error(t, err)
	_, err = pipeline.NewEnsemble([]plugins.Predictor{p}, []float64{0})
	assert.Error(t, err)
}
