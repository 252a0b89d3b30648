package classifiers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
)

func newRegistry(t *testing.T) *plugins.Registry {
	t.Helper()
	reg := plugins.NewRegistry()
	for _, f := range Factories() {
		require.NoError(t, reg.Register(f))
	}
	return reg
}

// blobs returns two well separated Gaussian clusters labelled 3 and 7.
func blobs(t *testing.T, n int, seed int64) (*dataset.Frame, []float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		center := -2.0
		y[i] = 3
		if i%2 == 1 {
			center = 2
			y[i] = 7
		}
		rows[i] = []float64{center + rng.NormFloat64()*0.5, center + rng.NormFloat64()*0.5, rng.NormFloat64()}
	}
	X, err := dataset.NewFrame([]string{"x1", "x2", "noise"}, rows)
	require.NoError(t, err)
	return X, y
}

func accuracy(pred, y []float64) float64 {
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

func TestClassifiersFitPredict(t *testing.T) {
	reg := newRegistry(t)
	X, y := blobs(t, 80, 1)
	testX, testY := blobs(t, 40, 2)

	for _, name := range reg.List(plugins.TypePrediction, plugins.SubtypeClassifier) {
		t.Run(name, func(t *testing.T) {
			p, err := reg.Predictor(name, map[string]interface{}{"n_estimators": 10})
			require.NoError(t, err)
			require.NoError(t, p.Fit(X, y, plugins.FitOptions{}))

			pred, err := p.Predict(testX)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, accuracy(pred, testY), 0.9)

			proba, err := p.PredictProba(testX)
			require.NoError(t, err)
			r, c := proba.Dims()
			assert.Equal(t, 40, r)
			assert.Equal(t, 2, c)
			for i := 0; i < r; i++ {
				assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
			}

			clf, ok := p.(plugins.Classifier)
			require.True(t, ok)
			assert.Equal(t, []float64{3, 7}, clf.Classes())
		})
	}
}

func TestClassifiersSaveLoad(t *testing.T) {
	reg := newRegistry(t)
	X, y := blobs(t, 60, 3)

	for _, name := range reg.List(plugins.TypePrediction, plugins.SubtypeClassifier) {
		t.Run(name, func(t *testing.T) {
			p, err := reg.Predictor(name, map[string]interface{}{"n_estimators": 5, "random_state": 7})
			require.NoError(t, err)
			require.NoError(t, p.Fit(X, y, plugins.FitOptions{}))
			want, err := p.PredictProba(X)
			require.NoError(t, err)

			data, err := p.Save()
			require.NoError(t, err)
			loaded, err := reg.Load(plugins.TypePrediction, name, data)
			require.NoError(t, err)

			got, err := loaded.(plugins.Predictor).PredictProba(X)
			require.NoError(t, err)
			assert.InDeltaSlice(t, want.RawMatrix().Data, got.RawMatrix().Data, 1e-9)
			assert.Equal(t, p.Name(), loaded.Name())
		})
	}
}

func TestClassifiersErrors(t *testing.T) {
	reg := newRegistry(t)
	X, y := blobs(t, 20, 4)

	for _, name := range reg.List(plugins.TypePrediction, plugins.SubtypeClassifier) {
		t.Run(name, func(t *testing.T) {
			p, err := reg.Predictor(name, nil)
			require.NoError(t, err)

			_, err = p.Predict(X)
			assert.ErrorIs(t, err, plugins.ErrNotFitted)

			assert.Error(t, p.Fit(X, y[:10], plugins.FitOptions{}))

			single := make([]float64, len(y))
			assert.Error(t, p.Fit(X, single, plugins.FitOptions{}))
		})
	}

	_, err := reg.Predictor("random_forest", map[string]interface{}{"criterion": 5})
	assert.Error(t, err)
	_, err = reg.Predictor("knn", map[string]interface{}{"weights": "cosine"})
	assert.Error(t, err)
}

func TestRandomForestSearchIterationsOverride(t *testing.T) {
	reg := newRegistry(t)
	p, err := reg.Predictor("random_forest", map[string]interface{}{"n_estimators": 10, "hyperparam_search_iterations": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, p.(*Forest).NumTrees)
}
