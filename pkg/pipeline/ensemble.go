package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
)

// Ensemble averages the outputs of several predictors with normalized weights.
// Classifier members are averaged on probabilities, others on predictions.
type Ensemble struct {
	members []plugins.Predictor
	weights []float64
	fitted  bool
}

// NewEnsemble builds an ensemble. Weights are normalized to sum to one; nil
// weights mean a uniform average.
func NewEnsemble(members []plugins.Predictor, weights []float64) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble needs at least one member")
	}
	if weights == nil {
		weights = make([]float64, len(members))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(members) {
		return nil, fmt.Errorf("ensemble has %d members but %d weights", len(members), len(weights))
	}
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("ensemble weights must be non-negative")
		}
	}
	total := floats.Sum(weights)
	if total == 0 {
		return nil, fmt.Errorf("ensemble weights sum to zero")
	}
	norm := make([]float64, len(weights))
	floats.ScaleTo(norm, 1/total, weights)

	return &Ensemble{members: members, weights: norm}, nil
}

// MarkFitted declares that every member is already fitted.
func (e *Ensemble) MarkFitted() { e.fitted = true }

// Members returns the ensemble members.
func (e *Ensemble) Members() []plugins.Predictor { return e.members }

// Weights returns the normalized weights.
func (e *Ensemble) Weights() []float64 { return append([]float64(nil), e.weights...) }

// Name lists the members.
func (e *Ensemble) Name() string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = fmt.Sprintf("%.2f*%s", e.weights[i], m.Name())
	}
	return "ensemble(" + strings.Join(names, ", ") + ")"
}

// RegistryName is the name ensembles are registered under.
func (e *Ensemble) RegistryName() string { return EnsembleName }

func (e *Ensemble) Type() string    { return plugins.TypeModel }
func (e *Ensemble) Subtype() string { return plugins.SubtypeEnsemble }

// Args returns the normalized weights.
func (e *Ensemble) Args() map[string]interface{} {
	return map[string]interface{}{"weights": e.Weights()}
}

// Fit fits every member on the same data.
func (e *Ensemble) Fit(X *dataset.Frame, y []float64, opts plugins.FitOptions) error {
	for i, m := range e.members {
		if err := m.Fit(X, y, opts); err != nil {
			return fmt.Errorf("failed to fit ensemble member %d (%s): %w", i, m.Name(), err)
		}
	}
	e.fitted = true
	return nil
}

// Classes returns the classes shared by all classifier members, or nil.
func (e *Ensemble) Classes() []float64 {
	c, ok := e.members[0].(plugins.Classifier)
	if !ok {
		return nil
	}
	return c.Classes()
}

func (e *Ensemble) isClassifier() bool {
	for _, m := range e.members {
		c, ok := m.(plugins.Classifier)
		if !ok || c.Classes() == nil {
			return false
		}
	}
	return true
}

// PredictProba returns the weighted mean of member probabilities.
func (e *Ensemble) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	if !e.fitted {
		return nil, plugins.ErrNotFitted
	}
	if !e.isClassifier() {
		return nil, plugins.ErrNotSupported
	}

	var out *mat.Dense
	for i, m := range e.members {
		proba, err := m.PredictProba(X)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
		if out == nil {
			r, c := proba.Dims()
			out = mat.NewDense(r, c, nil)
		} else if !sameDims(out, proba) {
			return nil, fmt.Errorf("ensemble member %s returned mismatched probabilities", m.Name())
		}
		var scaled mat.Dense
		scaled.Scale(e.weights[i], proba)
		out.Add(out, &scaled)
	}
	return out, nil
}

// Predict returns the argmax class for classifiers and the weighted mean
// prediction otherwise.
func (e *Ensemble) Predict(X *dataset.Frame) ([]float64, error) {
	if !e.fitted {
		return nil, plugins.ErrNotFitted
	}
	if e.isClassifier() {
		proba, err := e.PredictProba(X)
		if err != nil {
			return nil, err
		}
		classes := e.Classes()
		r, _ := proba.Dims()
		out := make([]float64, r)
		for i := 0; i < r; i++ {
			out[i] = classes[floats.MaxIdx(proba.RawRowView(i))]
		}
		return out, nil
	}

	out := make([]float64, X.Nrow())
	for i, m := range e.members {
		preds, err := m.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
		floats.AddScaled(out, e.weights[i], preds)
	}
	return out, nil
}

func sameDims(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

type savedEnsemble struct {
	Weights []float64                 `json:"weights"`
	Fitted  bool                      `json:"fitted"`
	Members []*serialization.Envelope `json:"members"`
}

// Save serializes every member.
func (e *Ensemble) Save() ([]byte, error) {
	state := savedEnsemble{Weights: e.weights, Fitted: e.fitted}
	for _, m := range e.members {
		env, err := serialization.Encode(m)
		if err != nil {
			return nil, err
		}
		state.Members = append(state.Members, env)
	}
	return json.Marshal(state)
}

// LoadEnsemble restores an ensemble written by Save.
func LoadEnsemble(reg *plugins.Registry, data []byte) (*Ensemble, error) {
	var state savedEnsemble
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode ensemble: %w", err)
	}
	members := make([]plugins.Predictor, 0, len(state.Members))
	for _, env := range state.Members {
		plugin, err := serialization.Decode(reg, env)
		if err != nil {
			return nil, err
		}
		pred, ok := plugin.(plugins.Predictor)
		if !ok {
			return nil, fmt.Errorf("ensemble member %s is not a predictor", env.Name)
		}
		members = append(members, pred)
	}
	e, err := NewEnsemble(members, state.Weights)
	if err != nil {
		return nil, err
	}
	e.fitted = state.Fitted
	return e, nil
}

// EnsembleFactory registers ensembles as model plugins.
func EnsembleFactory() *plugins.Factory {
	return &plugins.Factory{
		Name:        EnsembleName,
		Type:        plugins.TypeModel,
		Subtype:     plugins.SubtypeEnsemble,
		Description: "Weighted average of fitted pipelines",
		New: func(map[string]interface{}) (plugins.Plugin, error) {
			return nil, fmt.Errorf("ensembles are assembled from fitted members: %w", plugins.ErrNotSupported)
		},
		Load: func(r *plugins.Registry, data []byte) (plugins.Plugin, error) {
			return LoadEnsemble(r, data)
		},
	}
}
