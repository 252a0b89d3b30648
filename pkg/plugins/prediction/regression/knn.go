package regression

import (
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
)

// KNN averages the targets of the k nearest training rows.
type KNN struct {
	plugins.Meta
	K       int     `json:"n_neighbors"`
	Weights string  `json:"weights"`
	P       float64 `json:"p"`

	Train  [][]float64 `json:"train,omitempty"`
	Target []float64   `json:"target,omitempty"`
}

// Fit memorizes the training set.
func (m *KNN) Fit(X *dataset.Frame, y []float64, _ plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}
	m.Train = X.Clone().Rows
	m.Target = append([]float64(nil), y...)
	return nil
}

// Predict returns the weighted neighbor mean.
func (m *KNN) Predict(X *dataset.Frame) ([]float64, error) {
	if len(m.Train) == 0 {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Train[0])); err != nil {
		return nil, err
	}

	preds := make([]float64, X.Nrow())
	for i, row := range X.Rows {
		idx, dist := prediction.Neighbors(m.Train, row, m.K, m.P)
		w := prediction.NeighborWeights(m.Weights, dist)
		sum, total := 0.0, 0.0
		for j, n := range idx {
			sum += w[j] * m.Target[n]
			total += w[j]
		}
		preds[i] = sum / total
	}
	return preds, nil
}

// PredictProba is not defined for regression.
func (m *KNN) PredictProba(*dataset.Frame) (*mat.Dense, error) {
	return nil, plugins.ErrNotSupported
}

// Save serializes the training set.
func (m *KNN) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func knnFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "knn_regressor",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeRegression,
		Description: "k-nearest neighbors regressor",
		Space:       prediction.KNNSpace,
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		k, weights, p, err := prediction.KNNArgs(args)
		if err != nil {
			return nil, err
		}
		return &KNN{Meta: plugins.NewMeta(f, args), K: k, Weights: weights, P: p}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &KNN{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return f
}

// Factories returns the regression plugin factories.
func Factories() []*plugins.Factory {
	return []*plugins.Factory{
		linearFactory(),
		randomForestFactory(),
		knnFactory(),
	}
}
