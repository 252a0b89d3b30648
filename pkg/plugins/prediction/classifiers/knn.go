package classifiers

import (
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
)

// KNN votes among the k nearest training rows.
type KNN struct {
	plugins.Meta
	prediction.Labels
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
	encoded, err := m.Labels.Fit(y)
	if err != nil {
		return err
	}
	m.Train = X.Clone().Rows
	m.Target = encoded
	return nil
}

// PredictProba returns the weighted class shares among the neighbors.
func (m *KNN) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	if len(m.Train) == 0 {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Train[0])); err != nil {
		return nil, err
	}

	proba := mat.NewDense(X.Nrow(), len(m.Values), nil)
	for i, row := range X.Rows {
		idx, dist := prediction.Neighbors(m.Train, row, m.K, m.P)
		w := prediction.NeighborWeights(m.Weights, dist)
		total := 0.0
		for j, n := range idx {
			c := int(m.Target[n])
			proba.Set(i, c, proba.At(i, c)+w[j])
			total += w[j]
		}
		for c := range m.Values {
			proba.Set(i, c, proba.At(i, c)/total)
		}
	}
	return proba, nil
}

// Predict returns the most probable class.
func (m *KNN) Predict(X *dataset.Frame) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return m.Decode(proba), nil
}

// Save serializes the training set.
func (m *KNN) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func knnFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "knn",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeClassifier,
		Description: "k-nearest neighbors classifier",
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

// Factories returns the classifier plugin factories.
func Factories() []*plugins.Factory {
	return []*plugins.Factory{
		logisticFactory(),
		randomForestFactory(),
		decisionTreeFactory(),
		knnFactory(),
	}
}
