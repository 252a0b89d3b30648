package preprocessors

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// VarianceThreshold drops features whose variance is at or below Threshold.
type VarianceThreshold struct {
	plugins.Meta
	Threshold float64 `json:"threshold"`
	Keep      []int   `json:"keep,omitempty"`
	NumInputs int     `json:"num_inputs"`
	Fitted    bool    `json:"fitted"`
}

// Fit selects the surviving columns. At least one column is always kept.
func (v *VarianceThreshold) Fit(X *dataset.Frame, y []float64) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}

	keep := make([]int, 0, X.Ncol())
	best, bestVar := 0, -1.0
	for j := 0; j < X.Ncol(); j++ {
		_, std := stat.PopMeanStdDev(X.ColumnAt(j), nil)
		variance := std * std
		if variance > v.Threshold {
			keep = append(keep, j)
		}
		if variance > bestVar {
			best, bestVar = j, variance
		}
	}
	if len(keep) == 0 {
		keep = append(keep, best)
	}

	v.Keep = keep
	v.NumInputs = X.Ncol()
	v.Fitted = true
	return nil
}

// Transform keeps the selected columns.
func (v *VarianceThreshold) Transform(X *dataset.Frame) (*dataset.Frame, error) {
	if !v.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, v.NumInputs); err != nil {
		return nil, err
	}
	return X.SelectIndices(v.Keep), nil
}

// Save serializes the selection.
func (v *VarianceThreshold) Save() ([]byte, error) {
	return plugins.EncodeState(v)
}

func varianceFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "variance_threshold",
		Type:        plugins.TypePreprocessor,
		Subtype:     plugins.SubtypeDimensionalityReduction,
		Description: "Drop low-variance features",
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{params.Float{Name: "threshold", Low: 1e-4, High: 0.5, Log: true}}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		th, err := params.FloatArg(args, "threshold", 0)
		if err != nil {
			return nil, err
		}
		if th < 0 {
			return nil, fmt.Errorf("threshold must be non-negative, got %g", th)
		}
		return &VarianceThreshold{Meta: plugins.NewMeta(f, args), Threshold: th}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		v := &VarianceThreshold{}
		if err := plugins.DecodeState(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return f
}

// Factories returns the preprocessing plugin factories.
func Factories() []*plugins.Factory {
	return []*plugins.Factory{
		scalerFactory(ScaleNop, "Pass features through unchanged"),
		scalerFactory(ScaleStandard, "Standardize features to zero mean and unit variance"),
		scalerFactory(ScaleMinMax, "Scale features to [0, 1]"),
		scalerFactory(ScaleMaxAbs, "Scale features by their maximum absolute value"),
		pcaFactory(),
		varianceFactory(),
	}
}
