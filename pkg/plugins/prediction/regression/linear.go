// Package regression provides regression plugins.
package regression

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
)

// LinearRegression is ridge-regularized least squares on standardized
// features, solved in closed form.
type LinearRegression struct {
	plugins.Meta
	Alpha float64 `json:"alpha"`

	Scaler       prediction.Standardizer `json:"scaler"`
	Coefficients []float64               `json:"coefficients,omitempty"`
	Intercept    float64                 `json:"intercept"`
	Fitted       bool                    `json:"fitted"`
}

// Fit solves (X'X + alpha I) b = X'(y - mean(y)).
func (m *LinearRegression) Fit(X *dataset.Frame, y []float64, _ plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}

	m.Scaler.Fit(X)
	design := m.Scaler.Dense(X)
	_, d := design.Dims()

	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(len(y))
	centered := make([]float64, len(y))
	for i, v := range y {
		centered[i] = v - yMean
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 0; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+m.Alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), mat.NewVecDense(len(centered), centered))

	var coef mat.VecDense
	if err := coef.SolveVec(&gram, &rhs); err != nil {
		return fmt.Errorf("failed to solve normal equations: %w", err)
	}

	m.Coefficients = mat.Col(nil, 0, &coef)
	m.Intercept = yMean
	m.Fitted = true
	return nil
}

// Predict returns the fitted linear combination.
func (m *LinearRegression) Predict(X *dataset.Frame) ([]float64, error) {
	if !m.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Coefficients)); err != nil {
		return nil, err
	}

	var out mat.VecDense
	out.MulVec(m.Scaler.Dense(X), mat.NewVecDense(len(m.Coefficients), m.Coefficients))
	preds := make([]float64, X.Nrow())
	for i := range preds {
		preds[i] = out.AtVec(i) + m.Intercept
	}
	return preds, nil
}

// PredictProba is not defined for regression.
func (m *LinearRegression) PredictProba(*dataset.Frame) (*mat.Dense, error) {
	return nil, plugins.ErrNotSupported
}

// Save serializes the coefficients.
func (m *LinearRegression) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func linearFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "linear_regression",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeRegression,
		Description: "Ridge-regularized linear regression",
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{params.Float{Name: "alpha", Low: 1e-6, High: 10, Log: true}}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		alpha, err := params.FloatArg(args, "alpha", 1e-6)
		if err != nil {
			return nil, err
		}
		if alpha < 0 {
			return nil, fmt.Errorf("alpha must be non-negative, got %g", alpha)
		}
		return &LinearRegression{Meta: plugins.NewMeta(f, args), Alpha: alpha}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &LinearRegression{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return f
}
