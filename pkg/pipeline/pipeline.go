// Package pipeline assembles registry plugins into imputer -> preprocessors ->
// predictor chains and weighted ensembles of such chains.
package pipeline

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
)

// Registry names of the assembled model plugins.
const (
	PipelineName = "pipeline"
	EnsembleName = "ensemble"
)

// Pipeline chains transformers in front of a predictor. It is itself a
// plugins.Predictor.
type Pipeline struct {
	spec          models.PipelineSpec
	imputer       plugins.Transformer
	preprocessors []plugins.Transformer
	predictor     plugins.Predictor
	fitted        bool
}

// Build instantiates every stage of spec from the registry.
func Build(reg *plugins.Registry, spec models.PipelineSpec) (*Pipeline, error) {
	p := &Pipeline{spec: spec}

	if spec.Imputer != nil {
		imp, err := reg.Transformer(plugins.TypeImputer, spec.Imputer.Name, spec.Imputer.Args)
		if err != nil {
			return nil, err
		}
		p.imputer = imp
	}
	for _, stage := range spec.Preprocessors {
		pre, err := reg.Transformer(plugins.TypePreprocessor, stage.Name, stage.Args)
		if err != nil {
			return nil, err
		}
		p.preprocessors = append(p.preprocessors, pre)
	}
	pred, err := reg.Predictor(spec.Predictor.Name, spec.Predictor.Args)
	if err != nil {
		return nil, err
	}
	p.predictor = pred
	return p, nil
}

// Spec returns the configuration the pipeline was built from.
func (p *Pipeline) Spec() models.PipelineSpec { return p.spec }

// Name returns the stage names joined by arrows.
func (p *Pipeline) Name() string { return p.spec.Name() }

// RegistryName is the name pipelines are registered under.
func (p *Pipeline) RegistryName() string { return PipelineName }

func (p *Pipeline) Type() string    { return plugins.TypeModel }
func (p *Pipeline) Subtype() string { return p.predictor.Subtype() }

// Args returns the stage configuration.
func (p *Pipeline) Args() map[string]interface{} {
	return map[string]interface{}{"pipeline": p.spec.Name()}
}

// Predictor returns the final stage.
func (p *Pipeline) Predictor() plugins.Predictor { return p.predictor }

// Fit fit-transforms the data through every transformer in order, then fits
// the predictor on the result.
func (p *Pipeline) Fit(X *dataset.Frame, y []float64, opts plugins.FitOptions) error {
	var err error
	for _, t := range p.transformers() {
		if X, err = plugins.FitTransform(t, X, y); err != nil {
			return err
		}
	}
	if err := p.predictor.Fit(X, y, opts); err != nil {
		return fmt.Errorf("failed to fit %s: %w", p.predictor.Name(), err)
	}
	p.fitted = true
	return nil
}

// Transform runs X through the fitted transformers.
func (p *Pipeline) Transform(X *dataset.Frame) (*dataset.Frame, error) {
	if !p.fitted {
		return nil, plugins.ErrNotFitted
	}
	var err error
	for _, t := range p.transformers() {
		if X, err = t.Transform(X); err != nil {
			return nil, fmt.Errorf("failed to transform with %s: %w", t.Name(), err)
		}
	}
	return X, nil
}

// Predict transforms X and predicts.
func (p *Pipeline) Predict(X *dataset.Frame) ([]float64, error) {
	Xt, err := p.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.predictor.Predict(Xt)
}

// PredictProba transforms X and returns class probabilities.
func (p *Pipeline) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	Xt, err := p.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.predictor.PredictProba(Xt)
}

// Classes returns the predictor's classes, or nil when it is not a classifier.
func (p *Pipeline) Classes() []float64 {
	if c, ok := p.predictor.(plugins.Classifier); ok {
		return c.Classes()
	}
	return nil
}

func (p *Pipeline) transformers() []plugins.Transformer {
	out := make([]plugins.Transformer, 0, len(p.preprocessors)+1)
	if p.imputer != nil {
		out = append(out, p.imputer)
	}
	return append(out, p.preprocessors...)
}

type savedPipeline struct {
	Spec          models.PipelineSpec      `json:"spec"`
	Fitted        bool                     `json:"fitted"`
	Imputer       *serialization.Envelope  `json:"imputer,omitempty"`
	Preprocessors []*serialization.Envelope `json:"preprocessors,omitempty"`
	Predictor     *serialization.Envelope  `json:"predictor"`
}

// Save serializes every stage.
func (p *Pipeline) Save() ([]byte, error) {
	state := savedPipeline{Spec: p.spec, Fitted: p.fitted}
	var err error
	if p.imputer != nil {
		if state.Imputer, err = serialization.Encode(p.imputer); err != nil {
			return nil, err
		}
	}
	for _, pre := range p.preprocessors {
		env, err := serialization.Encode(pre)
		if err != nil {
			return nil, err
		}
		state.Preprocessors = append(state.Preprocessors, env)
	}
	if state.Predictor, err = serialization.Encode(p.predictor); err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// Load restores a pipeline written by Save.
func Load(reg *plugins.Registry, data []byte) (*Pipeline, error) {
	var state savedPipeline
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}
	if state.Predictor == nil {
		return nil, fmt.Errorf("saved pipeline has no predictor")
	}

	p := &Pipeline{spec: state.Spec, fitted: state.Fitted}
	if state.Imputer != nil {
		t, err := decodeTransformer(reg, state.Imputer)
		if err != nil {
			return nil, err
		}
		p.imputer = t
	}
	for _, env := range state.Preprocessors {
		t, err := decodeTransformer(reg, env)
		if err != nil {
			return nil, err
		}
		p.preprocessors = append(p.preprocessors, t)
	}
	plugin, err := serialization.Decode(reg, state.Predictor)
	if err != nil {
		return nil, err
	}
	pred, ok := plugin.(plugins.Predictor)
	if !ok {
		return nil, fmt.Errorf("stage %s is not a predictor", state.Predictor.Name)
	}
	p.predictor = pred
	return p, nil
}

func decodeTransformer(reg *plugins.Registry, env *serialization.Envelope) (plugins.Transformer, error) {
	plugin, err := serialization.Decode(reg, env)
	if err != nil {
		return nil, err
	}
	t, ok := plugin.(plugins.Transformer)
	if !ok {
		return nil, fmt.Errorf("stage %s is not a transformer", env.Name)
	}
	return t, nil
}

// Factory registers pipelines as model plugins so they can be saved and
// loaded like any other plugin.
func Factory(reg *plugins.Registry) *plugins.Factory {
	return &plugins.Factory{
		Name:        PipelineName,
		Type:        plugins.TypeModel,
		Subtype:     plugins.SubtypePipeline,
		Description: "Imputer, preprocessors and predictor chain",
		New: func(args map[string]interface{}) (plugins.Plugin, error) {
			raw, err := json.Marshal(args["spec"])
			if err != nil {
				return nil, fmt.Errorf("invalid pipeline spec: %w", err)
			}
			var spec models.PipelineSpec
			if err := json.Unmarshal(raw, &spec); err != nil {
				return nil, fmt.Errorf("invalid pipeline spec: %w", err)
			}
			return Build(reg, spec)
		},
		Load: func(r *plugins.Registry, data []byte) (plugins.Plugin, error) {
			return Load(r, data)
		},
	}
}
