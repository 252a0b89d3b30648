// Package classifiers provides classification plugins.
package classifiers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
)

// LogisticRegression is an L2-regularized multinomial logistic regression
// fitted by full-batch gradient descent on standardized features.
type LogisticRegression struct {
	plugins.Meta
	prediction.Labels
	C            float64 `json:"c"`
	MaxIter      int     `json:"max_iter"`
	LearningRate float64 `json:"learning_rate"`

	Scaler prediction.Standardizer `json:"scaler"`
	// Weights is (features+1) x classes, the last row being the intercept.
	Weights [][]float64 `json:"weights,omitempty"`
	Fitted  bool        `json:"fitted"`
}

// Fit trains the model.
func (m *LogisticRegression) Fit(X *dataset.Frame, y []float64, _ plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}
	encoded, err := m.Labels.Fit(y)
	if err != nil {
		return err
	}

	m.Scaler.Fit(X)
	design := withIntercept(m.Scaler.Dense(X))
	n, d := design.Dims()
	k := len(m.Values)

	target := mat.NewDense(n, k, nil)
	for i, c := range encoded {
		target.Set(i, int(c), 1)
	}

	w := mat.NewDense(d, k, nil)
	var logits, grad, penalty mat.Dense
	for iter := 0; iter < m.MaxIter; iter++ {
		logits.Mul(design, w)
		prediction.Softmax(&logits)
		logits.Sub(&logits, target)
		grad.Mul(design.T(), &logits)
		grad.Scale(1/float64(n), &grad)

		penalty.Scale(1/(m.C*float64(n)), w)
		for j := 0; j < k; j++ {
			penalty.Set(d-1, j, 0)
		}
		grad.Add(&grad, &penalty)

		grad.Scale(m.LearningRate, &grad)
		w.Sub(w, &grad)
	}

	m.Weights = make([][]float64, d)
	for i := range m.Weights {
		m.Weights[i] = mat.Row(nil, i, w)
	}
	m.Fitted = true
	return nil
}

// PredictProba returns class probabilities ordered like Classes().
func (m *LogisticRegression) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	if !m.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Scaler.Means)); err != nil {
		return nil, err
	}

	d, k := len(m.Weights), len(m.Values)
	w := mat.NewDense(d, k, nil)
	for i, row := range m.Weights {
		w.SetRow(i, row)
	}
	var proba mat.Dense
	proba.Mul(withIntercept(m.Scaler.Dense(X)), w)
	prediction.Softmax(&proba)
	return &proba, nil
}

// Predict returns the most probable class.
func (m *LogisticRegression) Predict(X *dataset.Frame) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return m.Decode(proba), nil
}

// Save serializes the model.
func (m *LogisticRegression) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func withIntercept(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c+1, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(x)
	for i := 0; i < r; i++ {
		out.Set(i, c, 1)
	}
	return out
}

func logisticFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "logistic_regression",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeClassifier,
		Description: "Multinomial logistic regression",
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{
				params.Float{Name: "C", Low: 1e-3, High: 1e2, Log: true},
				params.Categorical{Name: "max_iter", Choices: []interface{}{100, 300, 1000}},
			}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		c, err := params.FloatArg(args, "C", 1)
		if err != nil {
			return nil, err
		}
		maxIter, err := params.IntArg(args, "max_iter", 300)
		if err != nil {
			return nil, err
		}
		lr, err := params.FloatArg(args, "learning_rate", 0.5)
		if err != nil {
			return nil, err
		}
		if c <= 0 || maxIter < 1 || lr <= 0 {
			return nil, fmt.Errorf("C, max_iter and learning_rate must be positive")
		}
		return &LogisticRegression{Meta: plugins.NewMeta(f, args), C: c, MaxIter: maxIter, LearningRate: lr}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &LogisticRegression{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return f
}
