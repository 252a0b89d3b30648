// Package risk provides survival risk estimation plugins.
package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
)

// CoxPH is a Cox proportional hazards model with Breslow tie handling and an
// L2 penalty, fitted by Newton-Raphson.
type CoxPH struct {
	plugins.Meta
	Penalizer float64 `json:"penalizer"`
	MaxIter   int     `json:"max_iter"`
	Tolerance float64 `json:"tolerance"`

	Scaler       prediction.Standardizer `json:"scaler"`
	Coefficients []float64               `json:"coefficients,omitempty"`
	Fitted       bool                    `json:"fitted"`
}

type partial struct {
	loglik float64
	grad   *mat.VecDense
	hess   *mat.SymDense
}

// Fit estimates the coefficients. y is the event indicator and
// opts.Durations the observed times.
func (m *CoxPH) Fit(X *dataset.Frame, y []float64, opts plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}
	if len(opts.Durations) != len(y) {
		return fmt.Errorf("risk estimation needs %d durations, got %d", len(y), len(opts.Durations))
	}
	events := 0
	for i, e := range y {
		if e != 0 && e != 1 {
			return fmt.Errorf("event indicator must be 0 or 1, got %g at row %d", e, i)
		}
		if math.IsNaN(opts.Durations[i]) || opts.Durations[i] < 0 {
			return fmt.Errorf("invalid duration %g at row %d", opts.Durations[i], i)
		}
		events += int(e)
	}
	if events == 0 {
		return fmt.Errorf("risk estimation needs at least one event")
	}

	m.Scaler.Fit(X)
	design := m.Scaler.Dense(X)
	_, d := design.Dims()

	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return opts.Durations[order[a]] > opts.Durations[order[b]] })

	beta := mat.NewVecDense(d, nil)
	current := m.partialLikelihood(design, y, opts.Durations, order, beta)
	for iter := 0; iter < m.MaxIter; iter++ {
		var negHess mat.SymDense
		negHess.ScaleSym(-1, current.hess)
		var step mat.VecDense
		if err := step.SolveVec(&negHess, current.grad); err != nil {
			return fmt.Errorf("failed to solve newton step: %w", err)
		}

		// Halve the step until the penalized likelihood does not decrease.
		var next partial
		var candidate mat.VecDense
		scale := 1.0
		for halving := 0; halving < 30; halving++ {
			candidate.AddScaledVec(beta, scale, &step)
			next = m.partialLikelihood(design, y, opts.Durations, order, &candidate)
			if next.loglik >= current.loglik-1e-12 {
				break
			}
			scale /= 2
		}

		improvement := next.loglik - current.loglik
		beta.CopyVec(&candidate)
		current = next
		if math.Abs(improvement) < m.Tolerance {
			break
		}
	}

	m.Coefficients = mat.Col(nil, 0, beta)
	m.Fitted = true
	return nil
}

// partialLikelihood evaluates the penalized Breslow log partial likelihood,
// its gradient and Hessian. order lists rows by decreasing duration.
func (m *CoxPH) partialLikelihood(x *mat.Dense, events, durations []float64, order []int, beta *mat.VecDense) partial {
	_, d := x.Dims()
	var eta mat.VecDense
	eta.MulVec(x, beta)

	s0 := 0.0
	s1 := make([]float64, d)
	s2 := mat.NewSymDense(d, nil)
	grad := mat.NewVecDense(d, nil)
	hess := mat.NewSymDense(d, nil)
	loglik := 0.0

	for start := 0; start < len(order); {
		end := start
		for end < len(order) && durations[order[end]] == durations[order[start]] {
			end++
		}
		for _, r := range order[start:end] {
			w := math.Exp(eta.AtVec(r))
			row := x.RawRowView(r)
			s0 += w
			for a := 0; a < d; a++ {
				s1[a] += w * row[a]
				for b := a; b < d; b++ {
					s2.SetSym(a, b, s2.At(a, b)+w*row[a]*row[b])
				}
			}
		}
		for _, r := range order[start:end] {
			if events[r] == 0 {
				continue
			}
			row := x.RawRowView(r)
			loglik += eta.AtVec(r) - math.Log(s0)
			for a := 0; a < d; a++ {
				ma := s1[a] / s0
				grad.SetVec(a, grad.AtVec(a)+row[a]-ma)
				for b := a; b < d; b++ {
					mb := s1[b] / s0
					hess.SetSym(a, b, hess.At(a, b)-(s2.At(a, b)/s0-ma*mb))
				}
			}
		}
		start = end
	}

	for a := 0; a < d; a++ {
		ba := beta.AtVec(a)
		loglik -= 0.5 * m.Penalizer * ba * ba
		grad.SetVec(a, grad.AtVec(a)-m.Penalizer*ba)
		hess.SetSym(a, a, hess.At(a, a)-m.Penalizer)
	}
	return partial{loglik: loglik, grad: grad, hess: hess}
}

// Predict returns relative risk scores exp(x'beta); higher means earlier events.
func (m *CoxPH) Predict(X *dataset.Frame) ([]float64, error) {
	if !m.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Coefficients)); err != nil {
		return nil, err
	}

	var eta mat.VecDense
	eta.MulVec(m.Scaler.Dense(X), mat.NewVecDense(len(m.Coefficients), m.Coefficients))
	risks := make([]float64, X.Nrow())
	for i := range risks {
		risks[i] = math.Exp(eta.AtVec(i))
	}
	return risks, nil
}

// PredictProba is not defined for risk estimation.
func (m *CoxPH) PredictProba(*dataset.Frame) (*mat.Dense, error) {
	return nil, plugins.ErrNotSupported
}

// Save serializes the coefficients.
func (m *CoxPH) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func coxFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "cox_ph",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeRiskEstimation,
		Description: "Cox proportional hazards",
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{params.Float{Name: "penalizer", Low: 1e-4, High: 1, Log: true}}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		pen, err := params.FloatArg(args, "penalizer", 0.01)
		if err != nil {
			return nil, err
		}
		maxIter, err := params.IntArg(args, "max_iter", 50)
		if err != nil {
			return nil, err
		}
		tol, err := params.FloatArg(args, "tolerance", 1e-9)
		if err != nil {
			return nil, err
		}
		if pen < 0 || maxIter < 1 {
			return nil, fmt.Errorf("penalizer must be non-negative and max_iter positive")
		}
		return &CoxPH{Meta: plugins.NewMeta(f, args), Penalizer: pen, MaxIter: maxIter, Tolerance: tol}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &CoxPH{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return f
}

// Factories returns the risk estimation plugin factories.
func Factories() []*plugins.Factory {
	return []*plugins.Factory{coxFactory()}
}
