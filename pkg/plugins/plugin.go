// Package plugins defines the contracts every pipeline stage satisfies and the
// registry that maps plugin names to their factories.
package plugins

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// Plugin types
const (
	TypeImputer      = "imputer"
	TypePreprocessor = "preprocessor"
	TypePrediction   = "prediction"
	TypeModel        = "model"
)

// Plugin subtypes
const (
	SubtypeDefault                 = "default"
	SubtypeFeatureScaling          = "feature_scaling"
	SubtypeDimensionalityReduction = "dimensionality_reduction"
	SubtypeClassifier              = "classifier"
	SubtypeRegression              = "regression"
	SubtypeRiskEstimation          = "risk_estimation"
	SubtypePipeline                = "pipeline"
	SubtypeEnsemble                = "ensemble"
)

var (
	// ErrNotFitted is returned when transform/predict runs before fit.
	ErrNotFitted = errors.New("plugin is not fitted")
	// ErrNotSupported is returned by operations a plugin does not implement.
	ErrNotSupported = errors.New("operation not supported by plugin")
	// ErrUnknownPlugin is returned for names missing from the registry.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// Plugin is the base contract of every pipeline stage.
type Plugin interface {
	Name() string
	Type() string
	Subtype() string
	// Args returns the hyperparameters the plugin was built with.
	Args() map[string]interface{}
	// Save serializes the fitted state; the registry's Load reverses it.
	Save() ([]byte, error)
}

// Transformer is implemented by imputers and preprocessors.
type Transformer interface {
	Plugin
	Fit(X *dataset.Frame, y []float64) error
	Transform(X *dataset.Frame) (*dataset.Frame, error)
}

// FitOptions carries the extra inputs some predictors need.
type FitOptions struct {
	// Durations holds time-to-event values for risk estimation; y is then the
	// event indicator.
	Durations []float64
}

// Predictor is implemented by prediction plugins and assembled pipelines.
type Predictor interface {
	Plugin
	Fit(X *dataset.Frame, y []float64, opts FitOptions) error
	// Predict returns class labels, regression values or risk scores.
	Predict(X *dataset.Frame) ([]float64, error)
	// PredictProba returns class probabilities ordered like Classes().
	PredictProba(X *dataset.Frame) (*mat.Dense, error)
}

// Classifier is a Predictor that knows its class labels.
type Classifier interface {
	Predictor
	Classes() []float64
}

// Registered is implemented by plugins whose display name differs from the
// name they are registered under, such as assembled pipelines.
type Registered interface {
	RegistryName() string
}

// RegistryName returns the name a plugin is registered under.
func RegistryName(p Plugin) string {
	if r, ok := p.(Registered); ok {
		return r.RegistryName()
	}
	return p.Name()
}

// FitTransform fits t on X and transforms X.
func FitTransform(t Transformer, X *dataset.Frame, y []float64) (*dataset.Frame, error) {
	if err := t.Fit(X, y); err != nil {
		return nil, fmt.Errorf("failed to fit %s: %w", t.Name(), err)
	}
	out, err := t.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("failed to transform with %s: %w", t.Name(), err)
	}
	return out, nil
}

// Meta implements the descriptive half of Plugin; concrete plugins embed it.
type Meta struct {
	PluginName    string                 `json:"name"`
	PluginType    string                 `json:"type"`
	PluginSubtype string                 `json:"subtype"`
	PluginArgs    map[string]interface{} `json:"args,omitempty"`
}

// NewMeta builds a Meta from a factory and the arguments the plugin was built with.
func NewMeta(f *Factory, args map[string]interface{}) Meta {
	return Meta{
		PluginName:    f.Name,
		PluginType:    f.Type,
		PluginSubtype: f.Subtype,
		PluginArgs:    params.Copy(args),
	}
}

func (m Meta) Name() string    { return m.PluginName }
func (m Meta) Type() string    { return m.PluginType }
func (m Meta) Subtype() string { return m.PluginSubtype }

func (m Meta) Args() map[string]interface{} {
	if m.PluginArgs == nil {
		return map[string]interface{}{}
	}
	return params.Copy(m.PluginArgs)
}

// CheckFit validates the shapes handed to Fit.
func CheckFit(X *dataset.Frame, y []float64) error {
	if X == nil || X.Nrow() == 0 {
		return fmt.Errorf("empty training data")
	}
	if X.Ncol() == 0 {
		return fmt.Errorf("training data has no features")
	}
	if y != nil && len(y) != X.Nrow() {
		return fmt.Errorf("X has %d rows but y has %d values", X.Nrow(), len(y))
	}
	return nil
}

// CheckColumns validates that X is non-empty and has the width seen during fit.
func CheckColumns(X *dataset.Frame, n int) error {
	if X == nil || X.Nrow() == 0 {
		return fmt.Errorf("empty input")
	}
	if X.Ncol() != n {
		return fmt.Errorf("input has %d features, fitted on %d", X.Ncol(), n)
	}
	return nil
}

// EncodeState serializes a plugin's fitted state.
func EncodeState(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plugin state: %w", err)
	}
	return data, nil
}

// DecodeState restores state written by EncodeState.
func DecodeState(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode plugin state: %w", err)
	}
	return nil
}
